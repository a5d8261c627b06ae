package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/BadgerOps/sysexport/internal/platform"
)

// ============================================================================
// Datasource Registry
// ============================================================================

// ListDatasources implements platform.DatasourceRegistry.
func (s *Store) ListDatasources(ctx context.Context) ([]platform.ConnectionDefinition, error) {
	const query = `
		SELECT id, name, kind, database_type, access, host, port,
		       database_name, username, password, attributes_json
		FROM datasources ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query datasources: %v", platform.ErrRegistryUnavailable, err)
	}
	defer rows.Close()

	var defs []platform.ConnectionDefinition
	for rows.Next() {
		var (
			d    platform.ConnectionDefinition
			id   int64
			attr string
		)
		if err := rows.Scan(&id, &d.Name, &d.Kind, &d.DatabaseType, &d.Access, &d.Host,
			&d.Port, &d.DatabaseName, &d.Username, &d.Password, &attr); err != nil {
			return nil, fmt.Errorf("%w: failed to scan datasource: %v", platform.ErrRegistryUnavailable, err)
		}
		d.ID = fmt.Sprintf("%d", id)
		if attr != "" {
			if err := json.Unmarshal([]byte(attr), &d.Attributes); err != nil {
				return nil, fmt.Errorf("%w: datasource %s has bad attributes: %v", platform.ErrRegistryUnavailable, d.Name, err)
			}
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating datasources: %v", platform.ErrRegistryUnavailable, err)
	}
	return defs, nil
}

// ============================================================================
// Metadata Store
// ============================================================================

// ListDomainIDs implements platform.MetadataStore.
func (s *Store) ListDomainIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT domain_id FROM domain_files ORDER BY domain_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query domains: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan domain id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetDomainFiles implements platform.MetadataStore. The content of every file
// is loaded before it returns, so closing the streams never fails.
func (s *Store) GetDomainFiles(ctx context.Context, domainID string) (map[string]io.ReadCloser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_name, content FROM domain_files WHERE domain_id = ? ORDER BY file_name`, domainID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files of domain %s: %w", domainID, err)
	}
	defer rows.Close()

	files := make(map[string]io.ReadCloser)
	for rows.Next() {
		var (
			name    string
			content []byte
		)
		if err := rows.Scan(&name, &content); err != nil {
			return nil, fmt.Errorf("failed to scan file of domain %s: %w", domainID, err)
		}
		files[name] = io.NopCloser(bytes.NewReader(content))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files of domain %s: %w", domainID, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("domain %s: %w", domainID, platform.ErrNotFound)
	}
	return files, nil
}

// ============================================================================
// Scheduler
// ============================================================================

// ListJobs implements platform.Scheduler.
func (s *Store) ListJobs(ctx context.Context, filter platform.JobFilter) ([]platform.Job, error) {
	const query = `
		SELECT job_id, name, user_name, input_file, output_file, state, params_json,
		       trigger_type, cron_expr, repeat_interval_ms, repeat_count,
		       start_time, end_time, time_zone
		FROM jobs ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query jobs: %v", platform.ErrSchedulerUnavailable, err)
	}
	defer rows.Close()

	var jobs []platform.Job
	for rows.Next() {
		var (
			j          platform.Job
			params     string
			trigger    platform.Trigger
			intervalMS int64
			start, end sql.NullTime
		)
		err := rows.Scan(
			&j.ID, &j.Name, &j.UserName, &j.InputFile, &j.OutputFile, &j.State, &params,
			&trigger.Type, &trigger.CronExpression, &intervalMS, &trigger.RepeatCount,
			&start, &end, &trigger.TimeZone,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan job: %v", platform.ErrSchedulerUnavailable, err)
		}
		if params != "" {
			if err := json.Unmarshal([]byte(params), &j.Params); err != nil {
				return nil, fmt.Errorf("%w: job %s has bad params: %v", platform.ErrSchedulerUnavailable, j.ID, err)
			}
		}
		if trigger.Type != "" {
			trigger.RepeatInterval = time.Duration(intervalMS) * time.Millisecond
			trigger.StartTime = start.Time
			trigger.EndTime = end.Time
			j.Trigger = &trigger
		}
		if filter == nil || filter(j) {
			jobs = append(jobs, j)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating jobs: %v", platform.ErrSchedulerUnavailable, err)
	}
	return jobs, nil
}

// ============================================================================
// Directory
// ============================================================================

// ListUsers implements platform.Directory.
func (s *Store) ListUsers(ctx context.Context, tenant string) ([]platform.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, enabled FROM users WHERE tenant = ? ORDER BY id`, tenantOrDefault(tenant))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []platform.User
	for rows.Next() {
		var u platform.User
		if err := rows.Scan(&u.Username, &u.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUserRoles implements platform.Directory. Roles come back in the order
// they were assigned.
func (s *Store) ListUserRoles(ctx context.Context, tenant, username string) ([]platform.Role, error) {
	tenant = tenantOrDefault(tenant)

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE tenant = ? AND username = ?`, tenant, username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %s: %w", username, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("user %s in tenant %s: %w", username, tenant, platform.ErrNotFound)
	}

	const query = `
		SELECT ur.role_name, COALESCE(r.description, '')
		FROM user_roles ur LEFT JOIN roles r ON r.name = ur.role_name
		WHERE ur.tenant = ? AND ur.username = ?
		ORDER BY ur.position
	`
	rows, err := s.db.QueryContext(ctx, query, tenant, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles of user %s: %w", username, err)
	}
	defer rows.Close()

	var roles []platform.Role
	for rows.Next() {
		var r platform.Role
		if err := rows.Scan(&r.Name, &r.Description); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ListRoles implements platform.Directory.
func (s *Store) ListRoles(ctx context.Context) ([]platform.Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, description FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []platform.Role
	for rows.Next() {
		var r platform.Role
		if err := rows.Scan(&r.Name, &r.Description); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// GetRoleBindings implements platform.Directory.
func (s *Store) GetRoleBindings(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_name, permission FROM role_bindings ORDER BY role_name, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query role bindings: %w", err)
	}
	defer rows.Close()

	bindings := make(map[string][]string)
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, fmt.Errorf("failed to scan role binding: %w", err)
		}
		bindings[role] = append(bindings[role], perm)
	}
	return bindings, rows.Err()
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixture is the YAML document accepted by Seed.
type Fixture struct {
	Datasources []DatasourceFixture          `yaml:"datasources"`
	Domains     map[string]map[string]string `yaml:"domains"` // domain id -> file name -> content
	Jobs        []JobFixture                 `yaml:"jobs"`
	Users       []UserFixture                `yaml:"users"`
	Roles       []RoleFixture                `yaml:"roles"`
}

// DatasourceFixture describes one datasource connection.
type DatasourceFixture struct {
	Name         string            `yaml:"name"`
	Kind         string            `yaml:"kind"`
	DatabaseType string            `yaml:"database_type"`
	Access       string            `yaml:"access"`
	Host         string            `yaml:"host"`
	Port         string            `yaml:"port"`
	DatabaseName string            `yaml:"database_name"`
	Username     string            `yaml:"username"`
	Password     string            `yaml:"password"`
	Attributes   map[string]string `yaml:"attributes"`
}

// JobFixture describes one scheduled job.
type JobFixture struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	User       string            `yaml:"user"`
	InputFile  string            `yaml:"input_file"`
	OutputFile string            `yaml:"output_file"`
	State      string            `yaml:"state"`
	Params     map[string]string `yaml:"params"`
	Trigger    *TriggerFixture   `yaml:"trigger"`
}

// TriggerFixture describes when a job fires.
type TriggerFixture struct {
	Type           string        `yaml:"type"`
	Cron           string        `yaml:"cron"`
	RepeatInterval time.Duration `yaml:"repeat_interval"`
	RepeatCount    int           `yaml:"repeat_count"`
	StartTime      time.Time     `yaml:"start_time"`
	EndTime        time.Time     `yaml:"end_time"`
	TimeZone       string        `yaml:"time_zone"`
}

// UserFixture describes a directory user and its roles, in assignment order.
type UserFixture struct {
	Tenant   string   `yaml:"tenant"`
	Username string   `yaml:"username"`
	Disabled bool     `yaml:"disabled"`
	Roles    []string `yaml:"roles"`
}

// RoleFixture describes a role and its permission bindings.
type RoleFixture struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture file: %w", err)
	}
	return &f, nil
}

// SeedCounts reports how many rows Seed wrote per table.
type SeedCounts struct {
	Datasources int
	DomainFiles int
	Jobs        int
	Users       int
	Roles       int
}

// Seed writes the fixture in one transaction. Existing rows with the same
// key are replaced; the user's role list and a role's permissions are
// replaced as a whole.
func (s *Store) Seed(f *Fixture) (SeedCounts, error) {
	var counts SeedCounts

	tx, err := s.db.Begin()
	if err != nil {
		return counts, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, d := range f.Datasources {
		if d.Name == "" {
			return counts, fmt.Errorf("datasource without name")
		}
		if err := seedDatasource(tx, d); err != nil {
			return counts, err
		}
		counts.Datasources++
	}

	for domain, files := range f.Domains {
		for name, content := range files {
			const query = `
				INSERT INTO domain_files (domain_id, file_name, content) VALUES (?, ?, ?)
				ON CONFLICT(domain_id, file_name) DO UPDATE SET content = excluded.content
			`
			if _, err := tx.Exec(query, domain, name, []byte(content)); err != nil {
				return counts, fmt.Errorf("failed to seed domain file %s/%s: %w", domain, name, err)
			}
			counts.DomainFiles++
		}
	}

	for _, j := range f.Jobs {
		if j.ID == "" {
			return counts, fmt.Errorf("job %q without id", j.Name)
		}
		if err := seedJob(tx, j); err != nil {
			return counts, err
		}
		counts.Jobs++
	}

	for _, r := range f.Roles {
		if r.Name == "" {
			return counts, fmt.Errorf("role without name")
		}
		if err := seedRole(tx, r); err != nil {
			return counts, err
		}
		counts.Roles++
	}

	for _, u := range f.Users {
		if u.Username == "" {
			return counts, fmt.Errorf("user without username")
		}
		if err := seedUser(tx, u); err != nil {
			return counts, err
		}
		counts.Users++
	}

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("failed to commit seed transaction: %w", err)
	}

	s.logger.Info("seeded platform store",
		"datasources", counts.Datasources,
		"domain_files", counts.DomainFiles,
		"jobs", counts.Jobs,
		"users", counts.Users,
		"roles", counts.Roles,
	)
	return counts, nil
}

func seedDatasource(tx *sql.Tx, d DatasourceFixture) error {
	kind := d.Kind
	if kind == "" {
		kind = "database"
	}
	attrs, err := json.Marshal(d.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes of %s: %w", d.Name, err)
	}
	const query = `
		INSERT INTO datasources (
			name, kind, database_type, access, host, port,
			database_name, username, password, attributes_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind, database_type = excluded.database_type,
			access = excluded.access, host = excluded.host, port = excluded.port,
			database_name = excluded.database_name, username = excluded.username,
			password = excluded.password, attributes_json = excluded.attributes_json
	`
	_, err = tx.Exec(query, d.Name, kind, d.DatabaseType, d.Access, d.Host, d.Port,
		d.DatabaseName, d.Username, d.Password, string(attrs))
	if err != nil {
		return fmt.Errorf("failed to seed datasource %s: %w", d.Name, err)
	}
	return nil
}

func seedJob(tx *sql.Tx, j JobFixture) error {
	params, err := json.Marshal(j.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params of job %s: %w", j.ID, err)
	}
	state := j.State
	if state == "" {
		state = "NORMAL"
	}
	var t TriggerFixture
	if j.Trigger != nil {
		t = *j.Trigger
	}
	const query = `
		INSERT INTO jobs (
			job_id, name, user_name, input_file, output_file, state, params_json,
			trigger_type, cron_expr, repeat_interval_ms, repeat_count,
			start_time, end_time, time_zone
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			name = excluded.name, user_name = excluded.user_name,
			input_file = excluded.input_file, output_file = excluded.output_file,
			state = excluded.state, params_json = excluded.params_json,
			trigger_type = excluded.trigger_type, cron_expr = excluded.cron_expr,
			repeat_interval_ms = excluded.repeat_interval_ms,
			repeat_count = excluded.repeat_count, start_time = excluded.start_time,
			end_time = excluded.end_time, time_zone = excluded.time_zone
	`
	_, err = tx.Exec(query, j.ID, j.Name, j.User, j.InputFile, j.OutputFile, state, string(params),
		t.Type, t.Cron, t.RepeatInterval.Milliseconds(), t.RepeatCount,
		nullTime(t.StartTime), nullTime(t.EndTime), t.TimeZone)
	if err != nil {
		return fmt.Errorf("failed to seed job %s: %w", j.ID, err)
	}
	return nil
}

func seedRole(tx *sql.Tx, r RoleFixture) error {
	const query = `
		INSERT INTO roles (name, description) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description
	`
	if _, err := tx.Exec(query, r.Name, r.Description); err != nil {
		return fmt.Errorf("failed to seed role %s: %w", r.Name, err)
	}
	if _, err := tx.Exec(`DELETE FROM role_bindings WHERE role_name = ?`, r.Name); err != nil {
		return fmt.Errorf("failed to clear bindings of role %s: %w", r.Name, err)
	}
	for i, perm := range r.Permissions {
		_, err := tx.Exec(`INSERT OR IGNORE INTO role_bindings (role_name, permission, position) VALUES (?, ?, ?)`,
			r.Name, perm, i)
		if err != nil {
			return fmt.Errorf("failed to bind %s to role %s: %w", perm, r.Name, err)
		}
	}
	return nil
}

func seedUser(tx *sql.Tx, u UserFixture) error {
	tenant := tenantOrDefault(u.Tenant)
	const query = `
		INSERT INTO users (tenant, username, enabled) VALUES (?, ?, ?)
		ON CONFLICT(tenant, username) DO UPDATE SET enabled = excluded.enabled
	`
	if _, err := tx.Exec(query, tenant, u.Username, !u.Disabled); err != nil {
		return fmt.Errorf("failed to seed user %s: %w", u.Username, err)
	}
	if _, err := tx.Exec(`DELETE FROM user_roles WHERE tenant = ? AND username = ?`, tenant, u.Username); err != nil {
		return fmt.Errorf("failed to clear roles of user %s: %w", u.Username, err)
	}
	for i, role := range u.Roles {
		_, err := tx.Exec(`INSERT OR IGNORE INTO user_roles (tenant, username, role_name, position) VALUES (?, ?, ?, ?)`,
			tenant, u.Username, role, i)
		if err != nil {
			return fmt.Errorf("failed to assign role %s to user %s: %w", role, u.Username, err)
		}
	}
	return nil
}

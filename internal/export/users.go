package export

import (
	"context"
	"fmt"

	"github.com/BadgerOps/sysexport/internal/manifest"
)

// exportUsersAndRoles records the tenant's users with their roles, then
// every role with its permission bindings.
func (e *Exporter) exportUsersAndRoles(ctx context.Context, ectx *Context) (PhaseResult, error) {
	r := PhaseResult{}
	dir := e.deps.Directory
	if dir == nil {
		r.Status = StatusSkipped
		return r, nil
	}
	log := ectx.Logger

	users, err := dir.ListUsers(ctx, e.opts.Tenant)
	if err != nil {
		log.Warn("failed to list users", "tenant", e.opts.Tenant, "error", err)
		r.abort(fmt.Errorf("listing users: %w", err))
		users = nil
	}
	for _, u := range users {
		roles, err := dir.ListUserRoles(ctx, e.opts.Tenant, u.Username)
		if err != nil {
			log.Warn("failed to list user roles, skipping user", "user", u.Username, "error", err)
			r.fail(fmt.Errorf("roles of %s: %w", u.Username, err))
			continue
		}
		names := make([]string, 0, len(roles))
		for _, role := range roles {
			names = append(names, role.Name)
		}
		if e.opts.SingleRoleCompat && len(names) > 1 {
			names = names[len(names)-1:]
		}
		ectx.Manifest.Add(manifest.User{Username: u.Username, Roles: names})
		r.Records++
	}

	roles, err := dir.ListRoles(ctx)
	if err != nil {
		log.Warn("failed to list roles", "error", err)
		r.abort(fmt.Errorf("listing roles: %w", err))
		return r, nil
	}
	bindings, err := dir.GetRoleBindings(ctx)
	if err != nil {
		log.Warn("failed to read role bindings, exporting roles without permissions", "error", err)
		r.abort(fmt.Errorf("reading role bindings: %w", err))
		bindings = nil
	}
	for _, role := range roles {
		ectx.Manifest.Add(manifest.Role{Name: role.Name, Permissions: bindings[role.Name]})
		r.Records++
	}
	return r, nil
}

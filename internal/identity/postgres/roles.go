// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/identity"
)

// Role error codes.
const (
	CodeRoleQueryFailed = "ROLE_QUERY_FAILED"
	CodeRoleWriteFailed = "ROLE_WRITE_FAILED"
)

// UpsertRole creates the role or replaces its description and permissions.
func (s *Store) UpsertRole(ctx context.Context, role identity.Role) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code(CodeTxFailed).With("operation", "begin upsert role").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO roles (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
	`, role.Name, role.Description)
	if err != nil {
		return oops.Code(CodeRoleWriteFailed).With("operation", "upsert role").With("role", role.Name).Wrap(err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_name = $1`, role.Name); err != nil {
		return oops.Code(CodeRoleWriteFailed).With("operation", "clear permissions").With("role", role.Name).Wrap(err)
	}

	for i, p := range role.Permissions {
		_, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_name, position, resource, action, description)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING
		`, role.Name, i, p.Resource, p.Action, p.Description)
		if err != nil {
			return oops.Code(CodeRoleWriteFailed).
				With("operation", "insert permission").
				With("role", role.Name).
				With("permission", p.String()).
				Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code(CodeTxFailed).With("operation", "commit upsert role").Wrap(err)
	}
	return nil
}

// FindRole returns the role, or nil when it does not exist.
func (s *Store) FindRole(ctx context.Context, name string) (*identity.Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.name, r.description, p.resource, p.action, p.description
		FROM roles r
		LEFT JOIN role_permissions p ON p.role_name = r.name
		WHERE r.name = $1
		ORDER BY p.position
	`, name)
	if err != nil {
		return nil, oops.Code(CodeRoleQueryFailed).With("operation", "find role").With("role", name).Wrap(err)
	}

	roles, err := collectRoles(rows)
	if err != nil {
		return nil, oops.Code(CodeRoleQueryFailed).With("operation", "find role").With("role", name).Wrap(err)
	}
	if len(roles) == 0 {
		return nil, nil
	}
	return &roles[0], nil
}

// ListRoles returns all roles ordered by name.
func (s *Store) ListRoles(ctx context.Context) ([]identity.Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.name, r.description, p.resource, p.action, p.description
		FROM roles r
		LEFT JOIN role_permissions p ON p.role_name = r.name
		ORDER BY r.name, p.position
	`)
	if err != nil {
		return nil, oops.Code(CodeRoleQueryFailed).With("operation", "list roles").Wrap(err)
	}

	roles, err := collectRoles(rows)
	if err != nil {
		return nil, oops.Code(CodeRoleQueryFailed).With("operation", "list roles").Wrap(err)
	}
	return roles, nil
}

// AssignRole grants a role. Assigning a held role is a no-op.
func (s *Store) AssignRole(ctx context.Context, identityID, roleName string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identity_roles (identity_id, role_name, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, identityID, roleName, s.now().UTC())
	if err != nil {
		return mapGrantError(err, identityID, roleName)
	}
	return nil
}

// RevokeRole removes a role. Removing a role not held is a no-op, but the
// identity must exist.
func (s *Store) RevokeRole(ctx context.Context, identityID, roleName string) error {
	result, err := s.pool.Exec(ctx,
		`DELETE FROM identity_roles WHERE identity_id = $1 AND role_name = $2`,
		identityID, roleName)
	if err != nil {
		return oops.Code(CodeRoleWriteFailed).
			With("operation", "revoke role").
			With("identity_id", identityID).
			With("role", roleName).
			Wrap(err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, identityID).Scan(&exists)
	if err != nil {
		return oops.Code(CodeQueryFailed).With("operation", "check identity").With("identity_id", identityID).Wrap(err)
	}
	if !exists {
		return identity.ErrIdentityNotFound(identityID)
	}
	return nil
}

// identityRoles loads the roles granted to id in grant order.
func (s *Store) identityRoles(ctx context.Context, id string) ([]identity.Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.name, r.description, p.resource, p.action, p.description
		FROM identity_roles ir
		JOIN roles r ON r.name = ir.role_name
		LEFT JOIN role_permissions p ON p.role_name = r.name
		WHERE ir.identity_id = $1
		ORDER BY ir.granted_at, r.name, p.position
	`, id)
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).With("operation", "load roles").With("identity_id", id).Wrap(err)
	}

	roles, err := collectRoles(rows)
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).With("operation", "load roles").With("identity_id", id).Wrap(err)
	}
	return roles, nil
}

// collectRoles folds (role, permission) rows into roles. Rows for one role
// must be adjacent. A role without permissions has NULL permission columns.
func collectRoles(rows pgx.Rows) ([]identity.Role, error) {
	defer rows.Close()

	roles := []identity.Role{}
	for rows.Next() {
		var (
			name, description                 string
			resource, action, permDescription *string
		)
		if err := rows.Scan(&name, &description, &resource, &action, &permDescription); err != nil {
			return nil, err //nolint:wrapcheck // callers add context
		}

		if len(roles) == 0 || roles[len(roles)-1].Name != name {
			roles = append(roles, identity.Role{
				Name:        name,
				Description: description,
				Permissions: []identity.Permission{},
			})
		}
		if resource != nil && action != nil {
			last := &roles[len(roles)-1]
			p := identity.Permission{Resource: *resource, Action: *action}
			if permDescription != nil {
				p.Description = *permDescription
			}
			last.Permissions = append(last.Permissions, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err //nolint:wrapcheck // callers add context
	}
	return roles, nil
}

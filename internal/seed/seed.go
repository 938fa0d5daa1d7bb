// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package seed loads role definitions from YAML and applies them to a
// role store.
package seed

import (
	"context"
	_ "embed"
	"log/slog"
	"slices"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/holomush/gatekeeper/internal/identity"
)

// Error codes.
const (
	CodeInvalid     = "SEED_INVALID"
	CodeApplyFailed = "SEED_APPLY_FAILED"
)

//go:embed defaults.yaml
var defaultRoles []byte

// File is the root of a roles seed file.
type File struct {
	Roles []RoleSpec `yaml:"roles" json:"roles" jsonschema:"minItems=1"`
}

// RoleSpec defines one role.
type RoleSpec struct {
	Name        string           `yaml:"name" json:"name" jsonschema:"pattern=^[a-z][a-z0-9_-]*$,maxLength=64"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty" jsonschema:"maxLength=256"`
	Permissions []PermissionSpec `yaml:"permissions,omitempty" json:"permissions,omitempty"`
}

// PermissionSpec is one (resource, action) grant.
type PermissionSpec struct {
	Resource    string `yaml:"resource" json:"resource" jsonschema:"pattern=^[a-z][a-z0-9_.-]*$,maxLength=64"`
	Action      string `yaml:"action" json:"action" jsonschema:"pattern=^[a-z][a-z0-9_.-]*$,maxLength=64"`
	Description string `yaml:"description,omitempty" json:"description,omitempty" jsonschema:"maxLength=256"`
}

// Default returns the built-in roles.
func Default() ([]identity.Role, error) {
	return Parse(defaultRoles)
}

// DefaultYAML returns the built-in seed file.
func DefaultYAML() []byte {
	return slices.Clone(defaultRoles)
}

// Parse validates data against the schema and converts it to roles.
// Role names must be unique and a role must not list a permission twice.
func Parse(data []byte) ([]identity.Role, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, oops.Code(CodeInvalid).Wrap(err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, oops.Code(CodeInvalid).With("operation", "decode").Wrap(err)
	}

	roles := make([]identity.Role, 0, len(f.Roles))
	seen := make(map[string]bool, len(f.Roles))
	for _, def := range f.Roles {
		if seen[def.Name] {
			return nil, oops.Code(CodeInvalid).With("role", def.Name).Errorf("role %q is defined twice", def.Name)
		}
		seen[def.Name] = true

		role := identity.Role{
			Name:        def.Name,
			Description: def.Description,
			Permissions: make([]identity.Permission, 0, len(def.Permissions)),
		}
		for _, p := range def.Permissions {
			perm := identity.Permission{Resource: p.Resource, Action: p.Action, Description: p.Description}
			if slices.ContainsFunc(role.Permissions, perm.Equal) {
				return nil, oops.Code(CodeInvalid).
					With("role", def.Name).
					With("permission", perm.String()).
					Errorf("role %q lists %s twice", def.Name, perm)
			}
			role.Permissions = append(role.Permissions, perm)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Result reports what Apply changed.
type Result struct {
	Created   []string
	Updated   []string
	Unchanged []string
}

// Apply writes roles to store. Roles already stored with the same
// description and permissions are left alone, so repeated runs are no-ops.
// Roles present in the store but absent from roles are kept.
func Apply(ctx context.Context, store identity.RoleStore, roles []identity.Role, logger *slog.Logger) (Result, error) {
	return apply(ctx, store, roles, logger, true)
}

// ApplyMissing creates the roles that do not exist yet. Stored roles are
// reported as unchanged even when they differ from roles.
func ApplyMissing(ctx context.Context, store identity.RoleStore, roles []identity.Role, logger *slog.Logger) (Result, error) {
	return apply(ctx, store, roles, logger, false)
}

func apply(ctx context.Context, store identity.RoleStore, roles []identity.Role, logger *slog.Logger, overwrite bool) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var result Result
	for _, role := range roles {
		existing, err := store.FindRole(ctx, role.Name)
		if err != nil {
			return result, oops.Code(CodeApplyFailed).With("role", role.Name).With("operation", "find role").Wrap(err)
		}
		if existing != nil && (!overwrite || sameRole(*existing, role)) {
			result.Unchanged = append(result.Unchanged, role.Name)
			continue
		}

		if err := store.UpsertRole(ctx, role); err != nil {
			return result, oops.Code(CodeApplyFailed).With("role", role.Name).With("operation", "upsert role").Wrap(err)
		}
		if existing == nil {
			result.Created = append(result.Created, role.Name)
			logger.InfoContext(ctx, "role created", "role", role.Name, "permissions", len(role.Permissions))
		} else {
			result.Updated = append(result.Updated, role.Name)
			logger.InfoContext(ctx, "role updated", "role", role.Name, "permissions", len(role.Permissions))
		}
	}
	return result, nil
}

func sameRole(a, b identity.Role) bool {
	return a.Name == b.Name &&
		a.Description == b.Description &&
		slices.Equal(a.Permissions, b.Permissions)
}

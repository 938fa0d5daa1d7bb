// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// Error codes shared by Store implementations.
const (
	CodeDuplicate    = "DUPLICATE_IDENTITY"
	CodeNotFound     = "IDENTITY_NOT_FOUND"
	CodeRoleNotFound = "ROLE_NOT_FOUND"
)

// ErrNotFound is returned when a mutation targets an entity that does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate reports that field already belongs to another identity.
func ErrDuplicate(field string) error {
	return oops.Code(CodeDuplicate).
		With("field", field).
		Errorf("an account with this %s already exists", field)
}

// ErrIdentityNotFound wraps ErrNotFound for the given id.
func ErrIdentityNotFound(id string) error {
	return oops.Code(CodeNotFound).With("identity_id", id).Wrap(ErrNotFound)
}

// ErrRoleNotFound wraps ErrNotFound for the given role name.
func ErrRoleNotFound(name string) error {
	return oops.Code(CodeRoleNotFound).With("role", name).Wrap(ErrNotFound)
}

// NewIdentity is the data needed to create an identity.
type NewIdentity struct {
	Email        string
	Username     string
	DisplayName  string
	PasswordHash string
	Roles        []string
}

// Store reads and writes identities.
//
// Find methods return (nil, nil) when nothing matches; errors are reserved
// for I/O failures. Email and username lookups are case-insensitive.
type Store interface {
	// FindByID returns the identity with its roles and their permissions.
	FindByID(ctx context.Context, id string) (*Identity, error)

	// FindByEmail returns the identity registered with email.
	FindByEmail(ctx context.Context, email string) (*Identity, error)

	// FindByUsername returns the identity registered with username.
	FindByUsername(ctx context.Context, username string) (*Identity, error)

	// Create stores a new active identity with the named roles in one atomic
	// write. It fails with CodeDuplicate when the email or username is taken
	// and CodeRoleNotFound when a role does not exist.
	Create(ctx context.Context, in NewIdentity) (*Identity, error)

	// UpdateLastLogin records a successful login.
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error

	// SetActive enables or disables the identity.
	SetActive(ctx context.Context, id string, active bool) error

	// UpdatePasswordHash replaces the stored hash record.
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// RoleStore manages roles and their assignment.
type RoleStore interface {
	// UpsertRole creates the role or replaces its description and permissions.
	UpsertRole(ctx context.Context, role Role) error

	// FindRole returns (nil, nil) when the role does not exist.
	FindRole(ctx context.Context, name string) (*Role, error)

	// ListRoles returns all roles ordered by name.
	ListRoles(ctx context.Context) ([]Role, error)

	// AssignRole grants a role. Assigning a held role is a no-op.
	AssignRole(ctx context.Context, identityID, roleName string) error

	// RevokeRole removes a role. Removing a role not held is a no-op.
	RevokeRole(ctx context.Context, identityID, roleName string) error
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package identity defines identities, roles, and permissions, and the
// storage contracts the authentication services read and write them through.
package identity

import "time"

// Permission is a (resource, action) capability. Two permissions are equal
// when their resource and action are equal; Description is informational.
type Permission struct {
	Resource    string `json:"resource" yaml:"resource"`
	Action      string `json:"action" yaml:"action"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Matches reports whether p grants exactly (resource, action).
func (p Permission) Matches(resource, action string) bool {
	return p.Resource == resource && p.Action == action
}

// Equal compares on (resource, action).
func (p Permission) Equal(other Permission) bool {
	return p.Matches(other.Resource, other.Action)
}

// String returns "resource:action".
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// Role is a named, ordered set of permissions.
type Role struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
}

// Identity is an account as stored. PasswordHash never leaves the server.
type Identity struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name,omitempty"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"active"`
	Roles        []Role     `json:"roles"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// RoleNames returns the names of the assigned roles in order.
func (i *Identity) RoleNames() []string {
	names := make([]string, 0, len(i.Roles))
	for _, r := range i.Roles {
		names = append(names, r.Name)
	}
	return names
}

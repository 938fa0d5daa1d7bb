// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides process-local identity and role stores.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/gatekeeper/internal/identity"
)

type record struct {
	identity identity.Identity
	roles    []string
}

// Store implements identity.Store and identity.RoleStore in memory.
// It is safe for concurrent use; every method is a single atomic update.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*record
	byEmail    map[string]string
	byUsername map[string]string
	roles      map[string]identity.Role
	now        func() time.Time
}

var (
	_ identity.Store     = (*Store)(nil)
	_ identity.RoleStore = (*Store)(nil)
)

// NewStore creates an empty Store.
func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock creates an empty Store that timestamps with now.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		byID:       make(map[string]*record),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		roles:      make(map[string]identity.Role),
		now:        now,
	}
}

// FindByID returns a copy of the identity, or nil.
func (s *Store) FindByID(_ context.Context, id string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(id), nil
}

// FindByEmail returns a copy of the identity, or nil.
func (s *Store) FindByEmail(_ context.Context, email string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(s.byEmail[strings.ToLower(email)]), nil
}

// FindByUsername returns a copy of the identity, or nil.
func (s *Store) FindByUsername(_ context.Context, username string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(s.byUsername[strings.ToLower(username)]), nil
}

// Create stores a new active identity.
func (s *Store) Create(_ context.Context, in identity.NewIdentity) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(in.Email)
	username := strings.ToLower(in.Username)
	if _, ok := s.byEmail[email]; ok {
		return nil, identity.ErrDuplicate("email")
	}
	if _, ok := s.byUsername[username]; ok {
		return nil, identity.ErrDuplicate("username")
	}
	for _, name := range in.Roles {
		if _, ok := s.roles[name]; !ok {
			return nil, identity.ErrRoleNotFound(name)
		}
	}

	now := s.now().UTC()
	rec := &record{
		identity: identity.Identity{
			ID:           ulid.Make().String(),
			Email:        in.Email,
			Username:     in.Username,
			DisplayName:  in.DisplayName,
			PasswordHash: in.PasswordHash,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		roles: dedupe(in.Roles),
	}

	s.byID[rec.identity.ID] = rec
	s.byEmail[email] = rec.identity.ID
	s.byUsername[username] = rec.identity.ID

	return s.snapshot(rec.identity.ID), nil
}

// UpdateLastLogin records a successful login.
func (s *Store) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(i *identity.Identity) {
		at = at.UTC()
		i.LastLoginAt = &at
	})
}

// SetActive enables or disables the identity.
func (s *Store) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(i *identity.Identity) {
		i.Active = active
	})
}

// UpdatePasswordHash replaces the stored hash record.
func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(i *identity.Identity) {
		i.PasswordHash = hash
	})
}

// UpsertRole creates or replaces a role.
func (s *Store) UpsertRole(_ context.Context, role identity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role.Permissions = slices.Clone(role.Permissions)
	s.roles[role.Name] = role
	return nil
}

// FindRole returns a copy of the role, or nil.
func (s *Store) FindRole(_ context.Context, name string) (*identity.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[name]
	if !ok {
		return nil, nil
	}
	role.Permissions = slices.Clone(role.Permissions)
	return &role, nil
}

// ListRoles returns all roles ordered by name.
func (s *Store) ListRoles(_ context.Context) ([]identity.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]identity.Role, 0, len(s.roles))
	for _, r := range s.roles {
		r.Permissions = slices.Clone(r.Permissions)
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// AssignRole grants a role.
func (s *Store) AssignRole(_ context.Context, identityID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[identityID]
	if !ok {
		return identity.ErrIdentityNotFound(identityID)
	}
	if _, ok := s.roles[roleName]; !ok {
		return identity.ErrRoleNotFound(roleName)
	}
	if !slices.Contains(rec.roles, roleName) {
		rec.roles = append(rec.roles, roleName)
		rec.identity.UpdatedAt = s.now().UTC()
	}
	return nil
}

// RevokeRole removes a role.
func (s *Store) RevokeRole(_ context.Context, identityID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[identityID]
	if !ok {
		return identity.ErrIdentityNotFound(identityID)
	}
	if i := slices.Index(rec.roles, roleName); i >= 0 {
		rec.roles = slices.Delete(rec.roles, i, i+1)
		rec.identity.UpdatedAt = s.now().UTC()
	}
	return nil
}

func (s *Store) update(id string, fn func(*identity.Identity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return identity.ErrIdentityNotFound(id)
	}
	fn(&rec.identity)
	rec.identity.UpdatedAt = s.now().UTC()
	return nil
}

// snapshot returns a deep copy with roles resolved. Callers hold s.mu.
func (s *Store) snapshot(id string) *identity.Identity {
	rec, ok := s.byID[id]
	if !ok {
		return nil
	}

	out := rec.identity
	if rec.identity.LastLoginAt != nil {
		at := *rec.identity.LastLoginAt
		out.LastLoginAt = &at
	}
	out.Roles = make([]identity.Role, 0, len(rec.roles))
	for _, name := range rec.roles {
		if role, ok := s.roles[name]; ok {
			role.Permissions = slices.Clone(role.Permissions)
			out.Roles = append(out.Roles, role)
		}
	}
	return &out
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

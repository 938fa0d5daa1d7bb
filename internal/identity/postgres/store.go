// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the identity and role stores on PostgreSQL.
// The schema lives in internal/store/migrations.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/identity"
)

// Error codes for database failures. Domain outcomes use the identity codes.
const (
	CodeQueryFailed = "IDENTITY_QUERY_FAILED"
	CodeWriteFailed = "IDENTITY_WRITE_FAILED"
	CodeTxFailed    = "IDENTITY_TX_FAILED"
)

// Constraint names from the migrations.
const (
	emailKey        = "identities_email_lower_key"
	usernameKey     = "identities_username_lower_key"
	identityRoleFK  = "identity_roles_identity_id_fkey"
	roleNameFK      = "identity_roles_role_name_fkey"
	identityColumns = `id, email, username, display_name, password_hash, active,
		created_at, updated_at, last_login_at`
)

// pool is the subset of *pgxpool.Pool the stores use.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements identity.Store and identity.RoleStore.
type Store struct {
	pool pool
	now  func() time.Time
}

var (
	_ identity.Store     = (*Store)(nil)
	_ identity.RoleStore = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for written timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store over a pgx pool.
func NewStore(p pool, opts ...Option) *Store {
	s := &Store{pool: p, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindByID returns the identity with its roles, or nil.
func (s *Store) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	return s.findOne(ctx, "id", `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
}

// FindByEmail returns the identity registered with email, or nil.
func (s *Store) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	return s.findOne(ctx, "email",
		`SELECT `+identityColumns+` FROM identities WHERE LOWER(email) = LOWER($1)`, email)
}

// FindByUsername returns the identity registered with username, or nil.
func (s *Store) FindByUsername(ctx context.Context, username string) (*identity.Identity, error) {
	return s.findOne(ctx, "username",
		`SELECT `+identityColumns+` FROM identities WHERE LOWER(username) = LOWER($1)`, username)
}

func (s *Store) findOne(ctx context.Context, by, query, arg string) (*identity.Identity, error) {
	ident, err := scanIdentity(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code(CodeQueryFailed).
			With("operation", "find identity").
			With("by", by).
			Wrap(err)
	}

	roles, err := s.identityRoles(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	ident.Roles = roles
	return ident, nil
}

// Create inserts the identity and its role grants in one transaction.
func (s *Store) Create(ctx context.Context, in identity.NewIdentity) (*identity.Identity, error) {
	id := ulid.Make().String()
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code(CodeTxFailed).With("operation", "begin create").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO identities (id, email, username, display_name, password_hash, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
	`, id, in.Email, in.Username, in.DisplayName, in.PasswordHash, now)
	if err != nil {
		return nil, mapWriteError(err, "insert identity")
	}

	for _, role := range in.Roles {
		_, err = tx.Exec(ctx, `
			INSERT INTO identity_roles (identity_id, role_name, granted_at)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, id, role, now)
		if err != nil {
			return nil, mapGrantError(err, id, role)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code(CodeTxFailed).With("operation", "commit create").Wrap(err)
	}

	return s.FindByID(ctx, id)
}

// UpdateLastLogin records a successful login.
func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.updateOne(ctx, id, "update last login",
		`UPDATE identities SET last_login_at = $2, updated_at = $3 WHERE id = $1`, at.UTC())
}

// SetActive enables or disables the identity.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.updateOne(ctx, id, "set active",
		`UPDATE identities SET active = $2, updated_at = $3 WHERE id = $1`, active)
}

// UpdatePasswordHash replaces the stored hash record.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.updateOne(ctx, id, "update password hash",
		`UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`, hash)
}

func (s *Store) updateOne(ctx context.Context, id, operation, query string, value any) error {
	result, err := s.pool.Exec(ctx, query, id, value, s.now().UTC())
	if err != nil {
		return oops.Code(CodeWriteFailed).
			With("operation", operation).
			With("identity_id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrIdentityNotFound(id)
	}
	return nil
}

// scanIdentity scans identityColumns. pgx.ErrNoRows is returned unwrapped.
func scanIdentity(row pgx.Row) (*identity.Identity, error) {
	var (
		ident     identity.Identity
		lastLogin *time.Time
	)
	err := row.Scan(
		&ident.ID,
		&ident.Email,
		&ident.Username,
		&ident.DisplayName,
		&ident.PasswordHash,
		&ident.Active,
		&ident.CreatedAt,
		&ident.UpdatedAt,
		&lastLogin,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add context
	}

	ident.CreatedAt = ident.CreatedAt.UTC()
	ident.UpdatedAt = ident.UpdatedAt.UTC()
	if lastLogin != nil {
		at := lastLogin.UTC()
		ident.LastLoginAt = &at
	}
	ident.Roles = []identity.Role{}
	return &ident, nil
}

// mapWriteError turns unique violations on the identity keys into
// DUPLICATE_IDENTITY.
func mapWriteError(err error, operation string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case emailKey:
			return identity.ErrDuplicate("email")
		case usernameKey:
			return identity.ErrDuplicate("username")
		}
	}
	return oops.Code(CodeWriteFailed).With("operation", operation).Wrap(err)
}

// mapGrantError turns foreign key violations on identity_roles into the
// matching not-found error.
func mapGrantError(err error, identityID, role string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
		switch pgErr.ConstraintName {
		case roleNameFK:
			return identity.ErrRoleNotFound(role)
		case identityRoleFK:
			return identity.ErrIdentityNotFound(identityID)
		}
	}
	return oops.Code(CodeWriteFailed).
		With("operation", "grant role").
		With("identity_id", identityID).
		With("role", role).
		Wrap(err)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/gatekeeper/internal/authz"
	"github.com/holomush/gatekeeper/internal/credential"
	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/internal/token"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

var tracer = otel.Tracer("gatekeeper/auth")

// DefaultRoles are granted to every new identity unless overridden.
var DefaultRoles = []string{"user"}

// fallbackDummyHash is verified against when no identity matches, if a
// hasher-specific dummy could not be produced.
//
//nolint:gosec // G101: not a credential; it never matches any password.
const fallbackDummyHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Tokens is the token service contract the orchestrator needs.
type Tokens interface {
	Issue(subjectID string) (string, time.Time, error)
	Validate(raw string) (string, error)
	Revoke(raw string)
}

// Session is the result of a successful register, login, or refresh.
type Session struct {
	Identity  *identity.Identity `json:"identity"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// Service implements the account operations.
type Service struct {
	identities   identity.Store
	hasher       credential.Hasher
	tokens       Tokens
	evaluator    *authz.Evaluator
	logger       *slog.Logger
	now          func() time.Time
	defaultRoles []string

	dummyOnce sync.Once
	dummy     string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for security events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now for last-login timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithDefaultRoles sets the roles granted on registration.
func WithDefaultRoles(roles []string) Option {
	return func(s *Service) {
		s.defaultRoles = append([]string(nil), roles...)
	}
}

// WithEvaluator sets the authorization evaluator.
func WithEvaluator(e *authz.Evaluator) Option {
	return func(s *Service) {
		s.evaluator = e
	}
}

// NewService creates a Service. All three collaborators are required.
func NewService(identities identity.Store, hasher credential.Hasher, tokens Tokens, opts ...Option) (*Service, error) {
	if identities == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("identity store is required")
	}
	if hasher == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("token service is required")
	}

	s := &Service{
		identities:   identities,
		hasher:       hasher,
		tokens:       tokens,
		logger:       slog.Default(),
		now:          time.Now,
		defaultRoles: DefaultRoles,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("logger must not be nil")
	}
	if s.evaluator == nil {
		s.evaluator = authz.NewEvaluator(authz.WithLogger(s.logger))
	}
	return s, nil
}

// Register creates an identity and signs it in.
func (s *Service) Register(ctx context.Context, reg identity.Registration) (_ *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer func() { finish(span, "register", err) }()

	reg = reg.Normalize()
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	if result := credential.ScorePolicy(reg.Password); !result.Valid {
		return nil, ErrWeakPassword(result.Violations)
	}

	existing, err := s.identities.FindByEmail(ctx, reg.Email)
	if err != nil {
		return nil, s.storeFailure(ctx, "find by email", err)
	}
	if existing != nil {
		return nil, identity.ErrDuplicate("email")
	}
	existing, err = s.identities.FindByUsername(ctx, reg.Username)
	if err != nil {
		return nil, s.storeFailure(ctx, "find by username", err)
	}
	if existing != nil {
		return nil, identity.ErrDuplicate("username")
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return nil, err
	}

	created, err := s.identities.Create(ctx, identity.NewIdentity{
		Email:        reg.Email,
		Username:     reg.Username,
		DisplayName:  reg.DisplayName,
		PasswordHash: hash,
		Roles:        s.defaultRoles,
	})
	if err != nil {
		// A concurrent registration can still win the race to the store.
		if errutil.HasCode(err, identity.CodeDuplicate) {
			return nil, err
		}
		if errutil.HasCode(err, identity.CodeRoleNotFound) {
			s.logger.ErrorContext(ctx, "default role is not defined",
				"default_roles", s.defaultRoles,
				"error", err)
			return nil, oops.Code(CodeConfigInvalid).
				With("default_roles", s.defaultRoles).
				Errorf("default roles are not defined")
		}
		return nil, s.storeFailure(ctx, "create identity", err)
	}

	span.SetAttributes(attribute.String("identity.id", created.ID))
	s.logger.InfoContext(ctx, "identity registered",
		"identity_id", created.ID,
		"username", created.Username,
		"roles", created.RoleNames())

	return s.issue(created)
}

// Login verifies a password and signs the identity in. An unknown email and
// a wrong password produce the same error, and both run one hash verification.
func (s *Service) Login(ctx context.Context, email, password string) (_ *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer func() { finish(span, "login", err) }()

	email = strings.ToLower(strings.TrimSpace(email))

	ident, err := s.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, s.storeFailure(ctx, "find by email", err)
	}

	target := s.dummyHash()
	if ident != nil {
		target = ident.PasswordHash
	}
	verified := s.hasher.Verify(password, target)

	if ident == nil || !verified {
		reason := "wrong_password"
		if ident == nil {
			reason = "unknown_email"
		}
		s.logger.WarnContext(ctx, "login failed", "email", email, "reason", reason)
		return nil, ErrInvalidCredentials()
	}

	// Checked after verification so a disabled account costs the same.
	if !ident.Active {
		s.logger.WarnContext(ctx, "login refused for disabled account", "identity_id", ident.ID)
		return nil, ErrAccountDisabled(ident.ID)
	}

	if s.hasher.NeedsUpgrade(ident.PasswordHash) {
		s.upgradeHash(ctx, ident, password)
	}

	now := s.now().UTC()
	if err := s.identities.UpdateLastLogin(ctx, ident.ID, now); err != nil {
		errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "failed to record last login", err)
	} else {
		ident.LastLoginAt = &now
	}

	span.SetAttributes(attribute.String("identity.id", ident.ID))
	s.logger.InfoContext(ctx, "login succeeded", "identity_id", ident.ID)

	return s.issue(ident)
}

// Refresh validates raw and issues a new token for the same identity. The
// presented token stays valid until it expires or is revoked.
func (s *Service) Refresh(ctx context.Context, raw string) (_ *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	defer func() { finish(span, "refresh", err) }()

	ident, err := s.authenticate(ctx, raw)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("identity.id", ident.ID))
	s.logger.InfoContext(ctx, "token refreshed", "identity_id", ident.ID)

	return s.issue(ident)
}

// Logout revokes raw. It fails only when raw is not three non-empty
// dot-separated segments; expired, forged, and already revoked tokens are
// revoked without complaint.
func (s *Service) Logout(ctx context.Context, raw string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.logout")
	defer func() { finish(span, "logout", err) }()

	if err := token.CheckFormat(raw); err != nil {
		return err
	}
	s.tokens.Revoke(raw)
	s.logger.InfoContext(ctx, "token revoked")
	return nil
}

// Authenticate resolves raw to an existing, active identity.
func (s *Service) Authenticate(ctx context.Context, raw string) (_ *identity.Identity, err error) {
	ctx, span := tracer.Start(ctx, "auth.authenticate")
	defer func() { finish(span, "authenticate", err) }()

	return s.authenticate(ctx, raw)
}

func (s *Service) authenticate(ctx context.Context, raw string) (*identity.Identity, error) {
	subject, err := s.tokens.Validate(raw)
	if err != nil {
		return nil, err
	}
	return s.activeIdentity(ctx, subject)
}

// Authorize reports whether id meets r.
func (s *Service) Authorize(ctx context.Context, id *identity.Identity, r authz.Requirement) bool {
	return s.evaluator.Authorize(ctx, id, r)
}

// GetIdentity returns the identity with id, active or not.
func (s *Service) GetIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	ident, err := s.identities.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeFailure(ctx, "find by id", err)
	}
	if ident == nil {
		return nil, ErrIdentityNotFound(id)
	}
	return ident, nil
}

// ChangePassword replaces the password of id after checking current.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.change_password")
	defer func() { finish(span, "change_password", err) }()

	ident, err := s.activeIdentity(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, ident.PasswordHash) {
		s.logger.WarnContext(ctx, "password change refused", "identity_id", id, "reason", "wrong_password")
		return ErrInvalidCredentials()
	}
	if result := credential.ScorePolicy(next); !result.Valid {
		return ErrWeakPassword(result.Violations)
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.identities.UpdatePasswordHash(ctx, id, hash); err != nil {
		if errutil.HasCode(err, identity.CodeNotFound) {
			return ErrIdentityNotFound(id)
		}
		return s.storeFailure(ctx, "update password hash", err)
	}

	s.logger.InfoContext(ctx, "password changed", "identity_id", id)
	return nil
}

// SetActive enables or disables id. Tokens of a disabled identity stop
// authenticating immediately because Authenticate reads the store.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (err error) {
	ctx, span := tracer.Start(ctx, "auth.set_active")
	defer func() { finish(span, "set_active", err) }()

	if err := s.identities.SetActive(ctx, id, active); err != nil {
		if errutil.HasCode(err, identity.CodeNotFound) {
			return ErrIdentityNotFound(id)
		}
		return s.storeFailure(ctx, "set active", err)
	}

	s.logger.InfoContext(ctx, "account status changed", "identity_id", id, "active", active)
	return nil
}

func (s *Service) activeIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	ident, err := s.identities.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeFailure(ctx, "find by id", err)
	}
	if ident == nil {
		return nil, ErrIdentityNotFound(id)
	}
	if !ident.Active {
		return nil, ErrAccountDisabled(id)
	}
	return ident, nil
}

func (s *Service) issue(ident *identity.Identity) (*Session, error) {
	raw, expiresAt, err := s.tokens.Issue(ident.ID)
	if err != nil {
		return nil, oops.In("auth").With("identity_id", ident.ID).Wrap(err)
	}
	return &Session{Identity: ident, Token: raw, ExpiresAt: expiresAt}, nil
}

// upgradeHash re-hashes password with the current parameters. Failures are
// logged; the login still succeeds.
func (s *Service) upgradeHash(ctx context.Context, ident *identity.Identity, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "failed to upgrade password hash", err)
		return
	}
	if err := s.identities.UpdatePasswordHash(ctx, ident.ID, hash); err != nil {
		errutil.LogErrorContext(ctx, s.logger, slog.LevelWarn, "failed to store upgraded password hash", err)
		return
	}
	ident.PasswordHash = hash
	s.logger.InfoContext(ctx, "password hash upgraded", "identity_id", ident.ID)
}

// dummyHash returns a record with the hasher's own cost, so verifying
// against it takes as long as verifying a real one.
func (s *Service) dummyHash() string {
	s.dummyOnce.Do(func() {
		s.dummy = fallbackDummyHash
		hash, err := s.hasher.Hash(rand.Text())
		if err == nil {
			s.dummy = hash
		}
	})
	return s.dummy
}

func (s *Service) storeFailure(ctx context.Context, operation string, err error) error {
	errutil.LogErrorContext(ctx, s.logger, slog.LevelError, "identity store failure", err)
	return storeFailure(operation, err)
}

func finish(span trace.Span, operation string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errutil.Code(err))
	}
	span.End()
	recordOperation(operation, err)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the account operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/authz"
	"github.com/holomush/gatekeeper/internal/identity"
)

// CodeConfigInvalid is returned by NewServer for bad configuration.
const CodeConfigInvalid = "HTTP_CONFIG_INVALID"

// AuthService is the account API the handlers call.
type AuthService interface {
	Register(ctx context.Context, reg identity.Registration) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Refresh(ctx context.Context, raw string) (*auth.Session, error)
	Logout(ctx context.Context, raw string) error
	Authenticate(ctx context.Context, raw string) (*identity.Identity, error)
	Authorize(ctx context.Context, id *identity.Identity, r authz.Requirement) bool
	GetIdentity(ctx context.Context, id string) (*identity.Identity, error)
	ChangePassword(ctx context.Context, id, current, next string) error
	SetActive(ctx context.Context, id string, active bool) error
}

var _ AuthService = (*auth.Service)(nil)

// RoleManager lists roles and grants them to identities.
type RoleManager interface {
	ListRoles(ctx context.Context) ([]identity.Role, error)
	AssignRole(ctx context.Context, identityID, roleName string) error
	RevokeRole(ctx context.Context, identityID, roleName string) error
}

var _ RoleManager = identity.RoleStore(nil)

// RequestRecorder receives one observation per served request.
type RequestRecorder interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address in "host:port" form.
	Addr string

	// CORSOrigins are glob patterns of allowed origins.
	CORSOrigins []string

	// TrustProxy honors X-Forwarded-For and X-Real-IP for client addresses.
	TrustProxy bool
}

// Server serves the account API.
type Server struct {
	cfg     Config
	auth    AuthService
	roles   RoleManager
	limiter *RateLimiter
	metrics RequestRecorder
	logger  *slog.Logger
	origins []glob.Glob

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimiter limits register and login per client address.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) {
		s.limiter = rl
	}
}

// WithRequestRecorder records request metrics.
func WithRequestRecorder(rec RequestRecorder) Option {
	return func(s *Server) {
		s.metrics = rec
	}
}

// NewServer creates a Server.
func NewServer(cfg Config, svc AuthService, roles RoleManager, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("auth service is required")
	}
	if roles == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("role manager is required")
	}

	origins, err := compileOrigins(cfg.CORSOrigins)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		auth:    svc,
		roles:   roles,
		logger:  slog.Default(),
		origins: origins,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("logger must not be nil")
	}
	return s, nil
}

// Handler returns the routed handler with all middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins serving. The returned channel receives a serve error, if
// any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("http server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("http server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_http_server").Wrap(err)
		}
	}
	s.logger.Info("http server stopped")
	return nil
}

// Addr returns the listening address, or "" when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

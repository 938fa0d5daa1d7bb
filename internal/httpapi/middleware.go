// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/authz"
	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

type contextKey string

const ctxKeyIdentity contextKey = "identity"

// maxRequestBodySize is the maximum allowed request body size (64 KiB).
const maxRequestBodySize = 64 << 10

// IdentityFromContext returns the identity set by the bearer middleware.
func IdentityFromContext(ctx context.Context) *identity.Identity {
	id, _ := ctx.Value(ctxKeyIdentity).(*identity.Identity)
	return id
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// loggingMiddleware logs each request with its route pattern and status.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		elapsed := time.Since(start)

		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, status, elapsed)
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// recoveryMiddleware turns handler panics into a 500 envelope.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
					panic(rec)
				}
				s.logger.ErrorContext(r.Context(), "panic recovered in HTTP handler",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
				)
				writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers CORS for origins matching a configured glob.
// With no patterns configured, no CORS headers are sent.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && s.isAllowedOrigin(origin)
		if allowed {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
			h.Set("Access-Control-Max-Age", "600")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowed {
				w.WriteHeader(http.StatusNoContent)
			} else {
				writeError(w, http.StatusForbidden, CodeForbidden, "origin not allowed", nil)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isAllowedOrigin(origin string) bool {
	for _, g := range s.origins {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// compileOrigins compiles origin patterns. "*" in a pattern does not cross
// a "." so "https://*.example.com" matches one subdomain level.
func compileOrigins(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, oops.Code(CodeConfigInvalid).With("pattern", p).Wrap(err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the bearer token to an active identity.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeeper"`)
			writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "missing bearer token", nil)
			return
		}

		ident, err := s.auth.Authenticate(r.Context(), raw)
		if err != nil {
			writeAuthenticationError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyIdentity, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeAuthenticationError reports a failed Authenticate. A token whose
// subject no longer exists is a credential problem, not a missing resource.
func writeAuthenticationError(w http.ResponseWriter, err error) {
	if errutil.HasCode(err, auth.CodeIdentityNotFound) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeeper", error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "token subject does not exist", nil)
		return
	}
	if statusFor(errutil.Code(err)) == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeeper", error="invalid_token"`)
	}
	writeServiceError(w, err)
}

// require rejects identities that do not satisfy req. It must run after
// authMiddleware.
func (s *Server) require(req authz.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.auth.Authorize(r.Context(), IdentityFromContext(r.Context()), req) {
				writeError(w, http.StatusForbidden, CodeForbidden, "requires "+req.String(), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

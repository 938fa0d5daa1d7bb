// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/holomush/gatekeeper/internal/authz"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed", nil)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if s.limiter != nil {
					r.Use(s.limiter.Middleware)
				}
				r.Post("/register", s.handleRegister)
				r.Post("/login", s.handleLogin)
			})

			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/me", s.handleMe)
				r.Post("/password", s.handleChangePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.require(authz.RequirePermission("user", "read"))).Get("/identities/{id}", s.handleGetIdentity)
			r.With(s.require(authz.RequirePermission("user", "update"))).Put("/identities/{id}/active", s.handleSetActive)
			r.With(s.require(authz.RequirePermission("role", "read"))).Get("/roles", s.handleListRoles)


			admin := s.require(authz.RequireRole("admin"))
			r.With(admin).Put("/identities/{id}/roles/{role}", s.handleAssignRole)
			r.With(admin).Delete("/identities/{id}/roles/{role}", s.handleRevokeRole)
		})
	})

	return r
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/authz"
	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

type sessionResponse struct {
	Identity  *identity.Identity `json:"identity"`
	Token     string             `json:"token"`
	TokenType string             `json:"token_type"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// meResponse adds the effective permissions to the identity.
type meResponse struct {
	*identity.Identity
	Permissions []identity.Permission `json:"permissions"`
}

type rolesResponse struct {
	Roles []identity.Role `json:"roles"`
}

func newSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		Identity:  s.Identity,
		Token:     s.Token,
		TokenType: "Bearer",
		ExpiresAt: s.ExpiresAt,
	}
}

// decodeJSON decodes a single JSON object. On failure it writes a 400 and
// returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		message := "invalid JSON body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			message = "request body too large"
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, message, nil)
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req identity.Registration
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(session))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "missing bearer token", nil)
		return
	}

	session, err := s.auth.Refresh(r.Context(), raw)
	if err != nil {
		writeAuthenticationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "missing bearer token", nil)
		return
	}

	if err := s.auth.Logout(r.Context(), raw); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	perms := authz.Permissions(id)
	if perms == nil {
		perms = []identity.Permission{}
	}
	writeJSON(w, http.StatusOK, meResponse{Identity: id, Permissions: perms})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := IdentityFromContext(r.Context())
	if err := s.auth.ChangePassword(r.Context(), id.ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	ident, err := s.auth.GetIdentity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "active is required", nil)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.auth.SetActive(r.Context(), id, *req.Active); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "account status changed by administrator",
		"identity_id", id,
		"active", *req.Active,
		"actor_id", IdentityFromContext(r.Context()).ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.roles.ListRoles(r.Context())
	if err != nil {
		errutil.LogErrorContext(r.Context(), s.logger, slog.LevelError, "failed to list roles", err)
		writeError(w, http.StatusServiceUnavailable, auth.CodeStoreFailure, "service temporarily unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, rolesResponse{Roles: roles})
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, "granted", s.roles.AssignRole)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, "revoked", s.roles.RevokeRole)
}

func (s *Server) changeRole(w http.ResponseWriter, r *http.Request, verb string, apply func(context.Context, string, string) error) {
	id, role := chi.URLParam(r, "id"), chi.URLParam(r, "role")
	if err := apply(r.Context(), id, role); err != nil {
		code := errutil.Code(err)
		if code == identity.CodeNotFound || code == identity.CodeRoleNotFound {
			writeServiceError(w, err)
			return
		}
		errutil.LogErrorContext(r.Context(), s.logger, slog.LevelError, "failed to change role", err)
		writeError(w, http.StatusServiceUnavailable, auth.CodeStoreFailure, "service temporarily unavailable", nil)
		return
	}
	s.logger.InfoContext(r.Context(), "role "+verb+" by administrator",
		"identity_id", id,
		"role", role,
		"actor_id", IdentityFromContext(r.Context()).ID)
	w.WriteHeader(http.StatusNoContent)
}

// fail logs server-side failures before writing the envelope.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(errutil.Code(err)) >= http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), s.logger, slog.LevelError, "request failed", err)
	}
	writeServiceError(w, err)
}

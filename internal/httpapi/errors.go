// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/credential"
	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/internal/token"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Codes produced by the HTTP layer itself.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeRateLimited     = "RATE_LIMITED"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL"
)

// detailKeys are the error context keys exposed to clients.
var detailKeys = []string{"fields", "violations", "field", "role"}

// errorBody is the envelope for every error response.
type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write; the client may be gone
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes the envelope with an explicit code and message.
func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorBody{Error: errorPayload{Code: code, Message: message, Details: details}})
}

// writeServiceError maps a service error to a status and writes it.
// Server-side failures never expose their message.
func writeServiceError(w http.ResponseWriter, err error) {
	code := errutil.Code(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		message := "internal server error"
		if code == auth.CodeStoreFailure {
			message = "service temporarily unavailable"
		} else {
			code = CodeInternal
		}
		writeError(w, status, code, message, nil)
		return
	}
	writeError(w, status, code, publicMessage(err), details(err))
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch {
	case code == credential.CodeInvalidInput, code == auth.CodeWeakPassword, code == CodeBadRequest:
		return http.StatusBadRequest
	case code == auth.CodeInvalidCredentials, code == CodeUnauthenticated, token.IsTokenCode(code):
		return http.StatusUnauthorized
	case code == auth.CodeAccountDisabled, code == CodeForbidden:
		return http.StatusForbidden
	case code == identity.CodeNotFound, code == identity.CodeRoleNotFound, code == CodeNotFound:
		return http.StatusNotFound
	case code == identity.CodeDuplicate:
		return http.StatusConflict
	case code == CodeRateLimited:
		return http.StatusTooManyRequests
	case code == auth.CodeStoreFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the oops message without wrapped causes.
func publicMessage(err error) string {
	msg := err.Error()
	if before, _, ok := strings.Cut(msg, ": "); ok {
		return before
	}
	return msg
}

func details(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	ctx := oopsErr.Context()
	out := map[string]any{}
	for _, k := range detailKeys {
		if v, ok := ctx[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

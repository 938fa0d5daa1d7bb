// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authz decides whether an identity holds a role or a permission.
//
// HasRole and HasPermission are pure: they read only the identity passed in,
// match names exactly and case-sensitively, and never fail. A nil identity
// holds nothing.
package authz

import (
	"context"
	"log/slog"

	"github.com/holomush/gatekeeper/internal/identity"
)

// HasRole reports whether any assigned role is named role.
func HasRole(id *identity.Identity, role string) bool {
	if id == nil {
		return false
	}
	for _, r := range id.Roles {
		if r.Name == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether any assigned role grants exactly
// (resource, action).
func HasPermission(id *identity.Identity, resource, action string) bool {
	if id == nil {
		return false
	}
	for _, r := range id.Roles {
		for _, p := range r.Permissions {
			if p.Matches(resource, action) {
				return true
			}
		}
	}
	return false
}

// Permissions returns the distinct permissions granted by all roles, in
// role order.
func Permissions(id *identity.Identity) []identity.Permission {
	if id == nil {
		return nil
	}
	var out []identity.Permission
	seen := make(map[string]struct{})
	for _, r := range id.Roles {
		for _, p := range r.Permissions {
			key := p.String()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Requirement is what a protected operation demands. Role and the
// (Resource, Action) pair are each optional; when both are set both must hold.
// The zero Requirement only demands an authenticated identity.
type Requirement struct {
	Role     string
	Resource string
	Action   string
}

// RequireRole demands the named role.
func RequireRole(role string) Requirement {
	return Requirement{Role: role}
}

// RequirePermission demands the (resource, action) permission.
func RequirePermission(resource, action string) Requirement {
	return Requirement{Resource: resource, Action: action}
}

// IsZero reports whether r demands nothing beyond authentication.
func (r Requirement) IsZero() bool {
	return r == Requirement{}
}

func (r Requirement) hasPermission() bool {
	return r.Resource != "" || r.Action != ""
}

// String renders r for logs, e.g. "role=admin permission=user:read".
func (r Requirement) String() string {
	switch {
	case r.IsZero():
		return "authenticated"
	case r.Role != "" && r.hasPermission():
		return "role=" + r.Role + " permission=" + r.Resource + ":" + r.Action
	case r.Role != "":
		return "role=" + r.Role
	default:
		return "permission=" + r.Resource + ":" + r.Action
	}
}

// Satisfies reports whether id meets r without logging or metrics.
func Satisfies(id *identity.Identity, r Requirement) bool {
	if id == nil {
		return false
	}
	if r.Role != "" && !HasRole(id, r.Role) {
		return false
	}
	if r.hasPermission() && !HasPermission(id, r.Resource, r.Action) {
		return false
	}
	return true
}

// Evaluator applies requirements and records each decision.
type Evaluator struct {
	logger *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger sets the logger used for denials.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize reports whether id meets r. Denials are logged at info level.
func (e *Evaluator) Authorize(ctx context.Context, id *identity.Identity, r Requirement) bool {
	allowed := Satisfies(id, r)
	recordDecision(r, allowed)

	if !allowed {
		subject := ""
		if id != nil {
			subject = id.ID
		}
		e.logger.InfoContext(ctx, "authorization denied",
			"subject_id", subject,
			"requirement", r.String())
	}
	return allowed
}

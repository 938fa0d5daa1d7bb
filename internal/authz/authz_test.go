// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/identity"
)

func ada() *identity.Identity {
	return &identity.Identity{
		ID:     "01ADA",
		Active: true,
		Roles: []identity.Role{
			{Name: "user", Permissions: []identity.Permission{
				{Resource: "user", Action: "read"},
				{Resource: "profile", Action: "update"},
			}},
			{Name: "auditor", Permissions: []identity.Permission{
				{Resource: "user", Action: "read", Description: "duplicate grant"},
				{Resource: "audit", Action: "read"},
			}},
		},
	}
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		name string
		id   *identity.Identity
		role string
		want bool
	}{
		{"assigned role", ada(), "user", true},
		{"second role", ada(), "auditor", true},
		{"case differs", ada(), "User", false},
		{"prefix only", ada(), "use", false},
		{"unassigned", ada(), "admin", false},
		{"empty name", ada(), "", false},
		{"no roles", &identity.Identity{ID: "x"}, "user", false},
		{"nil identity", nil, "user", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasRole(tt.id, tt.role))
		})
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name             string
		id               *identity.Identity
		resource, action string
		want             bool
	}{
		{"granted", ada(), "user", "read", true},
		{"granted by second role", ada(), "audit", "read", true},
		{"resource matches action does not", ada(), "user", "delete", false},
		{"action matches resource does not", ada(), "role", "read", false},
		{"swapped pair", ada(), "read", "user", false},
		{"case differs", ada(), "User", "read", false},
		{"no wildcard semantics", ada(), "*", "*", false},
		{"nil identity", nil, "user", "read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.id, tt.resource, tt.action))
		})
	}
}

func TestHasPermission_DoesNotMutate(t *testing.T) {
	id := ada()
	before := *id
	HasPermission(id, "user", "read")
	HasRole(id, "user")
	assert.Equal(t, before, *id)
}

func TestPermissions_Deduplicates(t *testing.T) {
	perms := Permissions(ada())
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.String())
	}
	assert.Equal(t, []string{"user:read", "profile:update", "audit:read"}, names)
	assert.Nil(t, Permissions(nil))
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name string
		req  Requirement
		want bool
	}{
		{"zero requirement", Requirement{}, true},
		{"role held", RequireRole("user"), true},
		{"role missing", RequireRole("admin"), false},
		{"permission held", RequirePermission("user", "read"), true},
		{"permission missing", RequirePermission("user", "update"), false},
		{"both held", Requirement{Role: "user", Resource: "audit", Action: "read"}, true},
		{"role held permission missing", Requirement{Role: "user", Resource: "role", Action: "read"}, false},
		{"permission held role missing", Requirement{Role: "admin", Resource: "user", Action: "read"}, false},
		{"half a permission", Requirement{Resource: "user"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Satisfies(ada(), tt.req))
		})
	}

	assert.False(t, Satisfies(nil, Requirement{}), "nil identity never satisfies")
}

func TestRequirement_String(t *testing.T) {
	assert.Equal(t, "authenticated", Requirement{}.String())
	assert.Equal(t, "role=admin", RequireRole("admin").String())
	assert.Equal(t, "permission=user:read", RequirePermission("user", "read").String())
	assert.Equal(t, "role=admin permission=user:update",
		Requirement{Role: "admin", Resource: "user", Action: "update"}.String())
}

func TestEvaluator_Authorize(t *testing.T) {
	var buf bytes.Buffer
	e := NewEvaluator(WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	ctx := context.Background()

	allowBefore := testutil.ToFloat64(decisions.WithLabelValues("permission", "allow"))
	denyBefore := testutil.ToFloat64(decisions.WithLabelValues("role", "deny"))

	assert.True(t, e.Authorize(ctx, ada(), RequirePermission("user", "read")))
	assert.Empty(t, buf.String(), "allowed decisions are not logged")

	assert.False(t, e.Authorize(ctx, ada(), RequireRole("admin")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "authorization denied", entry["msg"])
	assert.Equal(t, "01ADA", entry["subject_id"])
	assert.Equal(t, "role=admin", entry["requirement"])

	assert.Equal(t, allowBefore+1, testutil.ToFloat64(decisions.WithLabelValues("permission", "allow")))
	assert.Equal(t, denyBefore+1, testutil.ToFloat64(decisions.WithLabelValues("role", "deny")))
}

func TestEvaluator_NilIdentity(t *testing.T) {
	var buf bytes.Buffer
	e := NewEvaluator(WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	assert.False(t, e.Authorize(context.Background(), nil, Requirement{}))
	assert.Contains(t, buf.String(), `"subject_id":""`)
}

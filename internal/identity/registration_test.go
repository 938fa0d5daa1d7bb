// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity_test

import (
	"strings"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func validRegistration() identity.Registration {
	return identity.Registration{
		Email:    "ada@example.com",
		Username: "ada_l",
		Password: "Ab1!cdef",
	}
}

func TestRegistration_Normalize(t *testing.T) {
	r := identity.Registration{
		Email:       "  Ada@Example.COM ",
		Username:    " ada_l ",
		Password:    " keep spaces ",
		DisplayName: " Ada ",
	}.Normalize()

	assert.Equal(t, "ada@example.com", r.Email)
	assert.Equal(t, "ada_l", r.Username)
	assert.Equal(t, " keep spaces ", r.Password)
	assert.Equal(t, "Ada", r.DisplayName)
}

func TestRegistration_Validate(t *testing.T) {
	t.Run("valid input", func(t *testing.T) {
		assert.NoError(t, validRegistration().Validate())
	})

	tests := []struct {
		name   string
		modify func(*identity.Registration)
		fields []string
	}{
		{"missing email", func(r *identity.Registration) { r.Email = "" }, []string{"email"}},
		{"email with display name", func(r *identity.Registration) { r.Email = "Ada <ada@example.com>" }, []string{"email"}},
		{"email without domain", func(r *identity.Registration) { r.Email = "ada" }, []string{"email"}},
		{"short username", func(r *identity.Registration) { r.Username = "ab" }, []string{"username"}},
		{"username starting with digit", func(r *identity.Registration) { r.Username = "1ada" }, []string{"username"}},
		{"missing password", func(r *identity.Registration) { r.Password = "" }, []string{"password"}},
		{"non-text password", func(r *identity.Registration) { r.Password = "\xff\xfe" }, []string{"password"}},
		{"long display name", func(r *identity.Registration) { r.DisplayName = strings.Repeat("x", 101) }, []string{"display_name"}},
		{
			"every field at once",
			func(r *identity.Registration) { *r = identity.Registration{} },
			[]string{"email", "username", "password"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRegistration()
			tt.modify(&r)

			err := r.Validate()
			errutil.AssertErrorCode(t, err, "INVALID_INPUT")

			oopsErr, ok := oops.AsOops(err)
			require.True(t, ok)
			fields, ok := oopsErr.Context()["fields"].(map[string]string)
			require.True(t, ok)

			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			assert.ElementsMatch(t, tt.fields, keys)
		})
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"abc", "Ada_Lovelace", "a" + strings.Repeat("b", 29)}
	for _, u := range valid {
		assert.NoError(t, identity.ValidateUsername(u), u)
	}

	invalid := []string{"", "ab", "_ada", "ada-l", "ada l", "a" + strings.Repeat("b", 30)}
	for _, u := range invalid {
		errutil.AssertErrorCode(t, identity.ValidateUsername(u), "INVALID_USERNAME")
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil error", nil, ""},
		{"standard error", errors.New("boom"), ""},
		{"oops without code", oops.Errorf("boom"), ""},
		{"oops with code", oops.Code("TOKEN_REVOKED").Errorf("revoked"), "TOKEN_REVOKED"},
		{
			"wrapped oops keeps inner code",
			oops.Code("STORE_FAILURE").Wrap(oops.Code("IDENTITY_QUERY_FAILED").Errorf("db down")),
			"IDENTITY_QUERY_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errutil.Code(tt.err))
		})
	}
}

func TestHasCode(t *testing.T) {
	err := oops.Code("ACCOUNT_DISABLED").Errorf("account is disabled")
	assert.True(t, errutil.HasCode(err, "ACCOUNT_DISABLED"))
	assert.False(t, errutil.HasCode(err, "INVALID_CREDENTIALS"))
}

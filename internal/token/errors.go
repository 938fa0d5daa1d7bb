// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package token

import (
	"strings"
	"time"

	"github.com/samber/oops"
)

// Error codes for token failures.
const (
	CodeMalformed        = "TOKEN_MALFORMED"
	CodeInvalidSignature = "TOKEN_INVALID_SIGNATURE"
	CodeExpired          = "TOKEN_EXPIRED"
	CodeRevoked          = "TOKEN_REVOKED"
	CodeConfigInvalid    = "TOKEN_CONFIG_INVALID"
)

// IsTokenCode reports whether code is one of the token validation codes.
func IsTokenCode(code string) bool {
	return strings.HasPrefix(code, "TOKEN_") && code != CodeConfigInvalid
}

func errMalformed(reason string) error {
	return oops.In("token").Code(CodeMalformed).With("reason", reason).Errorf("malformed token")
}

func errInvalidSignature() error {
	return oops.In("token").Code(CodeInvalidSignature).Errorf("invalid token signature")
}

func errExpired(expiredAt time.Time) error {
	return oops.In("token").Code(CodeExpired).With("expired_at", expiredAt.UTC()).Errorf("token has expired")
}

func errRevoked() error {
	return oops.In("token").Code(CodeRevoked).Errorf("token has been revoked")
}

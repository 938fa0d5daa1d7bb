// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Error codes returned by Service. Token failures keep the token package
// codes and duplicates keep identity.CodeDuplicate.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountDisabled    = "ACCOUNT_DISABLED"
	CodeIdentityNotFound   = identity.CodeNotFound
	CodeWeakPassword       = "WEAK_PASSWORD"
	CodeStoreFailure       = "STORE_FAILURE"
	CodeConfigInvalid      = "AUTH_CONFIG_INVALID"
)

// invalidCredentialsMessage is shared by every login failure so callers
// cannot tell an unknown email from a wrong password.
const invalidCredentialsMessage = "invalid email or password"

// ErrInvalidCredentials is returned for any failed password check.
func ErrInvalidCredentials() error {
	return oops.In("auth").Code(CodeInvalidCredentials).Errorf(invalidCredentialsMessage)
}

// ErrAccountDisabled is returned when the identity exists but is inactive.
func ErrAccountDisabled(id string) error {
	return oops.In("auth").Code(CodeAccountDisabled).
		With("identity_id", id).
		Errorf("account is disabled")
}

// ErrIdentityNotFound is returned when a token subject no longer exists.
func ErrIdentityNotFound(id string) error {
	return oops.In("auth").Code(CodeIdentityNotFound).
		With("identity_id", id).
		Errorf("identity not found")
}

// ErrWeakPassword carries every policy violation.
func ErrWeakPassword(violations []string) error {
	return oops.In("auth").Code(CodeWeakPassword).
		With("violations", violations).
		Errorf("password does not meet the policy")
}

// storeFailure reports an identity store I/O error under CodeStoreFailure.
// oops reports the innermost code of a chain, so the cause is recorded in
// context and message instead of being wrapped.
func storeFailure(operation string, err error) error {
	return oops.In("auth").Code(CodeStoreFailure).
		With("operation", operation).
		With("cause_code", errutil.Code(err)).
		Errorf("identity store failure: %v", err)
}

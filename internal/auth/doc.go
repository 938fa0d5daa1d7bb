// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth composes credentials, tokens, and the identity store into
// the account operations: register, login, refresh, logout, and the
// per-request authenticate and authorize checks.
//
// The Service holds no per-request state. Shared mutable state lives in the
// identity store and the token revocation set, both injected.
package auth

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package credential hashes and verifies passwords and scores them against
// the password strength policy.
//
// Hash records use the PHC string format
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<digest>
//
// where salt and digest are unpadded standard base64. Records are opaque to
// every other package; only this package parses them.
package credential

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Password policy limits, counted in characters.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128

	// maxRepeat is the longest allowed run of one character.
	maxRepeat = 2
)

// Symbols is the punctuation set that satisfies the symbol rule.
const Symbols = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

// Violation messages reported by ScorePolicy.
const (
	ViolationTooShort  = "password must be at least 8 characters"
	ViolationTooLong   = "password must be at most 128 characters"
	ViolationNoUpper   = "password must contain an uppercase letter"
	ViolationNoLower   = "password must contain a lowercase letter"
	ViolationNoDigit   = "password must contain a digit"
	ViolationNoSymbol  = "password must contain a symbol"
	ViolationRepeating = "password must not repeat a character 3 or more times in a row"
)

// denylist holds common weak fragments, matched case-insensitively anywhere
// in the password.
var denylist = []string{
	"password",
	"passw0rd",
	"123456",
	"654321",
	"qwerty",
	"asdfgh",
	"letmein",
	"welcome",
	"admin",
	"abc123",
	"111111",
	"iloveyou",
	"monkey",
	"dragon",
	"football",
	"baseball",
	"sunshine",
	"trustno1",
}

// PolicyResult is the outcome of ScorePolicy.
type PolicyResult struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations,omitempty"`
}

// DenylistViolation returns the message reported for a denylisted fragment.
func DenylistViolation(fragment string) string {
	return fmt.Sprintf("password must not contain the common sequence %q", fragment)
}

// ScorePolicy evaluates every rule and returns all violations, in rule order.
func ScorePolicy(password string) PolicyResult {
	var violations []string

	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		violations = append(violations, ViolationTooShort)
	}
	if n > MaxPasswordLength {
		violations = append(violations, ViolationTooLong)
	}

	var hasUpper, hasLower, hasDigit, hasSymbol, repeats bool
	var prev rune
	run := 0
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(Symbols, r):
			hasSymbol = true
		}

		if run > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > maxRepeat {
			repeats = true
		}
		prev = r
	}

	if !hasUpper {
		violations = append(violations, ViolationNoUpper)
	}
	if !hasLower {
		violations = append(violations, ViolationNoLower)
	}
	if !hasDigit {
		violations = append(violations, ViolationNoDigit)
	}
	if !hasSymbol {
		violations = append(violations, ViolationNoSymbol)
	}
	if repeats {
		violations = append(violations, ViolationRepeating)
	}

	lower := strings.ToLower(password)
	for _, fragment := range denylist {
		if strings.Contains(lower, fragment) {
			violations = append(violations, DenylistViolation(fragment))
		}
	}

	return PolicyResult{
		Valid:      len(violations) == 0,
		Violations: violations,
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30

	MaxEmailLength       = 254
	MaxDisplayNameLength = 100
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Registration is the input to account creation.
type Registration struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// Normalize trims surrounding whitespace and lowercases the email.
// The password is left untouched.
func (r Registration) Normalize() Registration {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Username = strings.TrimSpace(r.Username)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	return r
}

// Validate checks field shape and reports every problem in the "fields"
// context of an INVALID_INPUT error. Password strength is not checked here.
func (r Registration) Validate() error {
	fields := map[string]string{}

	if msg := validateEmail(r.Email); msg != "" {
		fields["email"] = msg
	}
	if err := ValidateUsername(r.Username); err != nil {
		fields["username"] = err.Error()
	}
	if r.Password == "" {
		fields["password"] = "password is required"
	} else if !utf8.ValidString(r.Password) {
		fields["password"] = "password must be valid UTF-8 text"
	}
	if utf8.RuneCountInString(r.DisplayName) > MaxDisplayNameLength {
		fields["display_name"] = "display name is too long"
	}

	if len(fields) > 0 {
		return oops.Code("INVALID_INPUT").
			With("fields", fields).
			Errorf("registration input is invalid")
	}
	return nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Only letters, numbers, and underscores
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return oops.Code("INVALID_USERNAME").
			With("username", username).
			Errorf("username must be %d-%d characters", MinUsernameLength, MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("INVALID_USERNAME").
			With("username", username).
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

func validateEmail(email string) string {
	if email == "" {
		return "email is required"
	}
	if len(email) > MaxEmailLength {
		return "email is too long"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "email is not a valid address"
	}
	return ""
}

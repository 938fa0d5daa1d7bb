// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload. Timestamps are epoch milliseconds.
type Claims struct {
	SubjectID string `json:"subjectId"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
	TokenID   string `json:"jti,omitempty"`
}

var _ jwt.Claims = Claims{}

// IssuedTime returns IssuedAt as a time.Time.
func (c Claims) IssuedTime() time.Time { return time.UnixMilli(c.IssuedAt).UTC() }

// ExpiresTime returns ExpiresAt as a time.Time.
func (c Claims) ExpiresTime() time.Time { return time.UnixMilli(c.ExpiresAt).UTC() }

// GetExpirationTime implements jwt.Claims.
func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(c.ExpiresTime()), nil
}

// GetIssuedAt implements jwt.Claims.
func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(c.IssuedTime()), nil
}

// GetNotBefore implements jwt.Claims.
func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

// GetIssuer implements jwt.Claims.
func (c Claims) GetIssuer() (string, error) { return "", nil }

// GetSubject implements jwt.Claims.
func (c Claims) GetSubject() (string, error) { return c.SubjectID, nil }

// GetAudience implements jwt.Claims.
func (c Claims) GetAudience() (jwt.ClaimStrings, error) { return nil, nil }

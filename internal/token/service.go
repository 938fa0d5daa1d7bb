// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package token issues, validates, and revokes signed session tokens.
//
// A token is three base64url segments joined by dots: a JOSE header naming
// HS256, the JSON Claims, and an HMAC-SHA256 signature over the first two
// segments. Validation checks, in order: revocation, segment count,
// signature, payload decoding, expiry.
package token

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// DefaultTTL is how long a freshly issued token stays valid.
const DefaultTTL = 24 * time.Hour

// MinSecretLength is the minimum HMAC key length in bytes (256 bits).
const MinSecretLength = 32

const segmentCount = 3

// Service issues and validates tokens with a single process-wide secret.
type Service struct {
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
	revoked RevocationSet
	parser  *jwt.Parser
}

// Option configures a Service.
type Option func(*Service)

// WithSecret sets the signing key. It must be at least MinSecretLength bytes.
func WithSecret(secret []byte) Option {
	return func(s *Service) {
		s.secret = append([]byte(nil), secret...)
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRevocationSet sets the revocation set. The default is a new MemoryRevocationSet.
func WithRevocationSet(set RevocationSet) Option {
	return func(s *Service) {
		s.revoked = set
	}
}

// NewService creates a Service. Without WithSecret a random 256-bit key is
// generated, so tokens do not survive a restart.
func NewService(opts ...Option) (*Service, error) {
	s := &Service{
		ttl:    DefaultTTL,
		now:    time.Now,
		parser: jwt.NewParser(jwt.WithStrictDecoding()),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.secret == nil {
		s.secret = make([]byte, MinSecretLength)
		if _, err := rand.Read(s.secret); err != nil {
			return nil, oops.Code(CodeConfigInvalid).With("operation", "generate secret").Wrap(err)
		}
	}
	if len(s.secret) < MinSecretLength {
		return nil, oops.Code(CodeConfigInvalid).
			With("min_bytes", MinSecretLength).
			Errorf("token secret must be at least %d bytes, got %d", MinSecretLength, len(s.secret))
	}
	if s.ttl <= 0 {
		return nil, oops.Code(CodeConfigInvalid).With("ttl", s.ttl.String()).Errorf("token ttl must be positive")
	}
	if s.now == nil {
		return nil, oops.Code(CodeConfigInvalid).Errorf("clock is required")
	}
	if s.revoked == nil {
		s.revoked = NewMemoryRevocationSet()
	}

	return s, nil
}

// TTL returns the lifetime of issued tokens.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue creates a token for subjectID and returns it with its expiry.
func (s *Service) Issue(subjectID string) (string, time.Time, error) {
	if subjectID == "" {
		return "", time.Time{}, oops.Code("INVALID_INPUT").With("field", "subject_id").Errorf("subject id is required")
	}

	now := s.now().Truncate(time.Millisecond)
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		SubjectID: subjectID,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
		TokenID:   uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").With("subject_id", subjectID).Wrap(err)
	}

	tokensIssued.Inc()
	return signed, expiresAt, nil
}

// Validate checks raw and returns its subject id.
func (s *Service) Validate(raw string) (string, error) {
	claims, err := s.Parse(raw)
	if err != nil {
		return "", err
	}
	return claims.SubjectID, nil
}

// Parse checks raw and returns its claims. Revocation is checked before
// anything else, so a revoked token is reported as revoked even when it is
// also expired.
func (s *Service) Parse(raw string) (*Claims, error) {
	claims, err := s.parse(raw)
	recordValidation(err)
	return claims, err
}

func (s *Service) parse(raw string) (*Claims, error) {
	if s.revoked.Contains(raw) {
		return nil, errRevoked()
	}

	if err := CheckFormat(raw); err != nil {
		return nil, err
	}

	sep := strings.LastIndexByte(raw, '.')
	signingString, sigSegment := raw[:sep], raw[sep+1:]

	sig, err := s.parser.DecodeSegment(sigSegment)
	if err != nil {
		return nil, errInvalidSignature()
	}
	// HMAC verification compares with hmac.Equal, which is constant time.
	if err := jwt.SigningMethodHS256.Verify(signingString, sig, s.secret); err != nil {
		return nil, errInvalidSignature()
	}

	claims := &Claims{}
	tok, _, err := s.parser.ParseUnverified(raw, claims)
	if err != nil {
		return nil, errMalformed("payload")
	}
	if tok.Method != jwt.SigningMethodHS256 {
		return nil, errMalformed("algorithm")
	}
	if claims.SubjectID == "" || claims.ExpiresAt == 0 {
		return nil, errMalformed("claims")
	}

	if s.now().UnixMilli() >= claims.ExpiresAt {
		return nil, errExpired(claims.ExpiresTime())
	}

	return claims, nil
}

// Revoke adds raw to the revocation set. Revoking twice is not an error.
func (s *Service) Revoke(raw string) {
	s.revoked.Add(raw)
	tokensRevoked.Inc()
}

// Expiration returns when a token issued now would expire.
func (s *Service) Expiration() time.Time {
	return s.now().Truncate(time.Millisecond).Add(s.ttl)
}

// CheckFormat reports whether raw has three non-empty dot-separated segments.
// It does not check the signature.
func CheckFormat(raw string) error {
	if raw == "" {
		return errMalformed("empty")
	}
	parts := strings.Split(raw, ".")
	if len(parts) != segmentCount {
		return errMalformed("segment count")
	}
	for _, p := range parts {
		if p == "" {
			return errMalformed("empty segment")
		}
	}
	return nil
}

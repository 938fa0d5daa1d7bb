// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2KeyLen  = 32        // output length in bytes

	// SaltLength is the number of random salt bytes in every record.
	SaltLength = 16

	// MaxPasswordBytes bounds the input handed to argon2.
	MaxPasswordBytes = 4096
)

// CodeInvalidInput marks caller input that cannot be processed at all.
const CodeInvalidInput = "INVALID_INPUT"

const phcPrefix = "$argon2id$"

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code(CodeInvalidInput).With("field", "password").Errorf("password cannot be empty")

// Hasher produces and checks password hash records.
type Hasher interface {
	// Hash produces a record with a fresh random salt.
	Hash(password string) (string, error)

	// Verify reports whether password matches record. Malformed records never match.
	Verify(password, record string) bool

	// NeedsUpgrade reports whether record was produced with other parameters
	// than the hasher currently uses.
	NeedsUpgrade(record string) bool
}

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultParams returns the production argon2id parameters.
func DefaultParams() Params {
	return Params{
		Time:    argon2Time,
		Memory:  argon2Memory,
		Threads: argon2Threads,
		KeyLen:  argon2KeyLen,
	}
}

// Argon2idHasher implements Hasher using argon2id.
type Argon2idHasher struct {
	params Params
}

// HasherOption configures an Argon2idHasher.
type HasherOption func(*Argon2idHasher)

// WithParams overrides the cost parameters. Zero fields keep their defaults.
func WithParams(p Params) HasherOption {
	return func(h *Argon2idHasher) {
		if p.Time > 0 {
			h.params.Time = p.Time
		}
		if p.Memory > 0 {
			h.params.Memory = p.Memory
		}
		if p.Threads > 0 {
			h.params.Threads = p.Threads
		}
		if p.KeyLen > 0 {
			h.params.KeyLen = p.KeyLen
		}
	}
}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher(opts ...HasherOption) *Argon2idHasher {
	h := &Argon2idHasher{params: DefaultParams()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash produces an argon2id record of the password.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if err := checkInput(password); err != nil {
		return "", err
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("CREDENTIAL_SALT_FAILED").Wrap(err)
	}

	digest := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return encodeRecord(record{
		version: argon2.Version,
		params:  h.params,
		salt:    salt,
		digest:  digest,
	}), nil
}

// Verify checks if the password matches the record.
func (h *Argon2idHasher) Verify(password, encoded string) bool {
	if password == "" || len(password) > MaxPasswordBytes {
		return false
	}
	rec, err := parseRecord(encoded)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), rec.salt, rec.params.Time, rec.params.Memory, rec.params.Threads, rec.params.KeyLen)
	return subtle.ConstantTimeCompare(computed, rec.digest) == 1
}

// NeedsUpgrade returns true if the record is not argon2id or uses other parameters.
func (h *Argon2idHasher) NeedsUpgrade(encoded string) bool {
	if !strings.HasPrefix(encoded, phcPrefix) {
		return true
	}
	rec, err := parseRecord(encoded)
	if err != nil {
		return true
	}
	return rec.version != argon2.Version || rec.params != h.params
}

func checkInput(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if !utf8.ValidString(password) {
		return oops.Code(CodeInvalidInput).With("field", "password").Errorf("password must be valid UTF-8 text")
	}
	if len(password) > MaxPasswordBytes {
		return oops.Code(CodeInvalidInput).
			With("field", "password").
			With("max_bytes", MaxPasswordBytes).
			Errorf("password exceeds %d bytes", MaxPasswordBytes)
	}
	return nil
}

type record struct {
	version int
	params  Params
	salt    []byte
	digest  []byte
}

func encodeRecord(r record) string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		r.version,
		r.params.Memory,
		r.params.Time,
		r.params.Threads,
		base64.RawStdEncoding.EncodeToString(r.salt),
		base64.RawStdEncoding.EncodeToString(r.digest),
	)
}

func parseRecord(encoded string) (record, error) {
	var r record

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return r, oops.Code("CREDENTIAL_INVALID_RECORD").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return r, oops.Code("CREDENTIAL_INVALID_RECORD").Errorf("unsupported hash algorithm: %s", parts[1])
	}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &r.version); err != nil {
		return r, oops.Code("CREDENTIAL_INVALID_RECORD").Wrap(err)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return r, oops.Code("CREDENTIAL_INVALID_RECORD").Wrap(err)
	}
	// Validate threads fits in uint8 to prevent silent truncation
	if threads == 0 || threads > 255 {
		return r, oops.Code("CREDENTIAL_INVALID_RECORD").Errorf("threads value %d out of range", threads)
	}
	if time == 0 || memory == 0 {
		return r, oops.Code("CREDENTIAL_INVALID_RECORD").Errorf("cost parameters must be positive")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return r, oops.Code("CREDENTIAL_INVALID_RECORD").Wrap(err)
	}
	if len(salt) < SaltLength {
		return r, oops.Code("CREDENTIAL_INVALID_RECORD").Errorf("salt shorter than %d bytes", SaltLength)
	}

	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return r, oops.Code("CREDENTIAL_INVALID_RECORD").Wrap(err)
	}
	// Validate key length to prevent integer overflow in uint32 conversion
	keyLen := len(digest)
	if keyLen == 0 || keyLen > 1<<30 {
		return r, oops.Code("CREDENTIAL_INVALID_RECORD").Errorf("invalid hash key length: %d", keyLen)
	}

	r.params = Params{
		Time:    time,
		Memory:  memory,
		Threads: uint8(threads),
		KeyLen:  uint32(keyLen),
	}
	r.salt = salt
	r.digest = digest
	return r, nil
}

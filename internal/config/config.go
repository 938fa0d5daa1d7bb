// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads gatekeeper configuration from defaults, a YAML file,
// GATEKEEPER_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/token"
)

// Config error codes.
const (
	CodeInvalid    = "CONFIG_INVALID"
	CodeLoadFailed = "CONFIG_LOAD_FAILED"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the complete process configuration.
type Config struct {
	HTTP      HTTP      `koanf:"http"`
	Metrics   Metrics   `koanf:"metrics"`
	Control   Control   `koanf:"control"`
	Log       Log       `koanf:"log"`
	Database  Database  `koanf:"database"`
	Token     Token     `koanf:"token"`
	Auth      Auth      `koanf:"auth"`
	RateLimit RateLimit `koanf:"ratelimit"`
	Storage   Storage   `koanf:"storage"`
}

// HTTP configures the public API listener.
type HTTP struct {
	Addr        string   `koanf:"addr"`
	CORSOrigins []string `koanf:"cors_origins"`
	TrustProxy  bool     `koanf:"trust_proxy"`
}

// Metrics configures the metrics and health HTTP listener. Empty Addr
// disables it.
type Metrics struct {
	Addr string `koanf:"addr"`
}

// Control configures the gRPC health listener. Empty GRPCAddr disables it.
type Control struct {
	GRPCAddr string `koanf:"grpc_addr"`
}

// Log configures the process logger.
type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Database configures the PostgreSQL connection.
type Database struct {
	URL            string        `koanf:"url"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// Token configures token issuance. An empty Secret means a random secret is
// generated at startup, which invalidates tokens on restart.
type Token struct {
	Secret string        `koanf:"secret"`
	TTL    time.Duration `koanf:"ttl"`
}

// Auth configures registration.
type Auth struct {
	DefaultRoles []string `koanf:"default_roles"`
}

// RateLimit configures the per-client limiter on register and login.
type RateLimit struct {
	LoginBurst     int     `koanf:"login_burst"`
	LoginPerSecond float64 `koanf:"login_per_second"`
}

// Storage selects the identity store backend.
type Storage struct {
	Driver string `koanf:"driver"`
}

// Defaults returns the flat key/value defaults applied before any source.
func Defaults() map[string]any {
	return map[string]any{
		"http.addr":                  "127.0.0.1:8080",
		"http.cors_origins":          []string{},
		"http.trust_proxy":           false,
		"metrics.addr":               "127.0.0.1:9100",
		"control.grpc_addr":          "127.0.0.1:9001",
		"log.format":                 "json",
		"log.level":                  "info",
		"database.url":               "",
		"database.connect_timeout":   "30s",
		"token.secret":               "",
		"token.ttl":                  token.DefaultTTL.String(),
		"auth.default_roles":         []string{"user"},
		"ratelimit.login_burst":      5,
		"ratelimit.login_per_second": 0.5,
		"storage.driver":             DriverPostgres,
	}
}

// Validate reports every invalid field at once. The returned error carries a
// "fields" context map from key to problem.
func (c *Config) Validate() error {
	problems := map[string]string{}

	if c.HTTP.Addr == "" {
		problems["http.addr"] = "is required"
	}
	for _, origin := range c.HTTP.CORSOrigins {
		if strings.TrimSpace(origin) == "" {
			problems["http.cors_origins"] = "must not contain empty patterns"
			break
		}
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		problems["log.format"] = fmt.Sprintf("must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems["log.level"] = fmt.Sprintf("unknown level %q", c.Log.Level)
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			problems["database.url"] = "is required for the postgres driver"
		}
	case DriverMemory:
	default:
		problems["storage.driver"] = fmt.Sprintf("must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Storage.Driver)
	}
	if c.Database.ConnectTimeout <= 0 {
		problems["database.connect_timeout"] = "must be positive"
	}

	if c.Token.Secret != "" && len(c.Token.Secret) < token.MinSecretLength {
		problems["token.secret"] = fmt.Sprintf("must be at least %d bytes", token.MinSecretLength)
	}
	if c.Token.TTL <= 0 {
		problems["token.ttl"] = "must be positive"
	}

	if slices.Contains(c.Auth.DefaultRoles, "") {
		problems["auth.default_roles"] = "must not contain empty role names"
	}

	if c.RateLimit.LoginBurst < 1 {
		problems["ratelimit.login_burst"] = "must be at least 1"
	}
	if c.RateLimit.LoginPerSecond <= 0 {
		problems["ratelimit.login_per_second"] = "must be positive"
	}

	if len(problems) == 0 {
		return nil
	}

	keys := make([]string, 0, len(problems))
	for k := range problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+problems[k])
	}
	return oops.Code(CodeInvalid).
		With("fields", problems).
		Errorf("invalid configuration: %s", strings.Join(parts, "; "))
}

// LogValue omits secrets so the loaded configuration can be logged.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("http_addr", c.HTTP.Addr),
		slog.Any("cors_origins", c.HTTP.CORSOrigins),
		slog.Bool("trust_proxy", c.HTTP.TrustProxy),
		slog.String("metrics_addr", c.Metrics.Addr),
		slog.String("control_addr", c.Control.GRPCAddr),
		slog.String("storage_driver", c.Storage.Driver),
		slog.Bool("database_configured", c.Database.URL != ""),
		slog.Bool("token_secret_configured", c.Token.Secret != ""),
		slog.Duration("token_ttl", c.Token.TTL),
		slog.Any("default_roles", c.Auth.DefaultRoles),
	)
}

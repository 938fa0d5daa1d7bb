// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/gatekeeper/internal/xdg"
)

// EnvPrefix is the environment variable prefix. GATEKEEPER_HTTP_CORS_ORIGINS
// maps to http.cors_origins.
const EnvPrefix = "GATEKEEPER_"

// listKeys hold comma-separated values when set from the environment.
var listKeys = map[string]bool{
	"http.cors_origins":  true,
	"auth.default_roles": true,
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":        "http.addr",
	"cors-origin":      "http.cors_origins",
	"trust-proxy":      "http.trust_proxy",
	"metrics-addr":     "metrics.addr",
	"control-addr":     "control.grpc_addr",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"database-url":     "database.url",
	"storage":          "storage.driver",
	"token-ttl":        "token.ttl",
	"login-burst":      "ratelimit.login_burst",
	"login-per-second": "ratelimit.login_per_second",
}

// RegisterFlags adds the configuration flags to fs. Flags only override
// other sources when set explicitly.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", "", "public API listen address")
	fs.StringSlice("cors-origin", nil, "allowed CORS origin glob (repeatable)")
	fs.Bool("trust-proxy", false, "trust X-Forwarded-For and X-Real-IP")
	fs.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	fs.String("control-addr", "", "gRPC health listen address (empty = disabled)")
	fs.String("log-format", "", "log format (json or text)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("storage", "", "identity storage driver (postgres or memory)")
	fs.Duration("token-ttl", 0, "token lifetime")
	fs.Int("login-burst", 0, "login/register requests allowed at once per client")
	fs.Float64("login-per-second", 0, "sustained login/register rate per client")
}

// Load reads and validates the configuration. path names a YAML file; when
// empty the XDG default is read if it exists. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := Read(path, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read merges every source without validating, for commands that only need
// part of the configuration.
func Read(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code(CodeLoadFailed).With("key", key).Wrap(err)
		}
	}

	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code(CodeLoadFailed).With("source", "env").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return nil, oops.Code(CodeLoadFailed).With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeLoadFailed).With("source", "unmarshal").Wrap(err)
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code(CodeLoadFailed).With("path", path).Wrap(err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code(CodeLoadFailed).With("path", path).Wrap(err)
	}
	return nil
}

// envKey turns GATEKEEPER_GROUP_SOME_KEY into group.some_key.
func envKey(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.Replace(key, "_", ".", 1)
	if !listKeys[key] {
		return key, value
	}

	items := []string{}
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

func flagKey(flags *pflag.FlagSet) func(f *pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

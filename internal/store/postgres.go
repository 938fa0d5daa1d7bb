// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the PostgreSQL connection and schema for gatekeeper.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection defaults.
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultMaxRetries     = 8
	defaultBaseBackoff    = 250 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

type connectConfig struct {
	timeout    time.Duration
	maxRetries uint64
	base       time.Duration
	logger     *slog.Logger
}

// ConnectOption configures Connect.
type ConnectOption func(*connectConfig)

// WithConnectTimeout bounds the total time spent connecting, retries included.
func WithConnectTimeout(d time.Duration) ConnectOption {
	return func(c *connectConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets how many failed attempts are retried.
func WithMaxRetries(n uint64) ConnectOption {
	return func(c *connectConfig) {
		c.maxRetries = n
	}
}

// WithConnectLogger logs failed attempts to logger.
func WithConnectLogger(logger *slog.Logger) ConnectOption {
	return func(c *connectConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type pinger interface {
	Ping(ctx context.Context) error
	Close()
}

// Connect opens a pgx pool for dsn and pings it, retrying with exponential
// backoff so the server can start before its database is reachable.
func Connect(ctx context.Context, dsn string, opts ...ConnectOption) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	return connectWith(ctx, cfg, pgxpool.NewWithConfig, opts...)
}

func connectWith[P pinger](
	ctx context.Context,
	cfg *pgxpool.Config,
	open func(context.Context, *pgxpool.Config) (P, error),
	opts ...ConnectOption,
) (P, error) {
	c := connectConfig{
		timeout:    DefaultConnectTimeout,
		maxRetries: DefaultMaxRetries,
		base:       defaultBaseBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	backoff := retry.WithMaxRetries(c.maxRetries,
		retry.WithCappedDuration(defaultMaxBackoff, retry.NewExponential(c.base)))

	var (
		pool    P
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := open(ctx, cfg)
		if err != nil {
			c.logger.Warn("database connect failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			c.logger.Warn("database ping failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		var zero P
		return zero, oops.Code("DB_CONNECT_FAILED").
			With("attempts", attempt).
			With("host", cfg.ConnConfig.Host).
			Wrap(err)
	}
	return pool, nil
}

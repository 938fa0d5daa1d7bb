// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/internal/identity/memory"
	"github.com/holomush/gatekeeper/internal/identity/postgres"
	"github.com/holomush/gatekeeper/internal/store"
)

// Stores bundles the identity and role stores for one backend.
type Stores struct {
	Identities identity.Store
	Roles      identity.RoleStore
	Close      func()
}

// StoreFactory opens the storage backend named by cfg.
type StoreFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error)

// Endpoints reports the bound listener addresses once serve is ready.
// Empty fields are disabled listeners.
type Endpoints struct {
	HTTP    string
	Metrics string
	Control string
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreFactory opens the configured storage backend.
	// Default: openStores
	StoreFactory StoreFactory

	// MigratorFactory opens a schema migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory MigratorFactory

	// Signals delivers shutdown signals.
	// Default: SIGINT and SIGTERM
	Signals <-chan os.Signal

	// OnReady is called once every listener is up.
	OnReady func(Endpoints)
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Status() (store.Status, error)
	Force(version int) error
	Close() error
}

// MigratorFactory opens a Migrator for a database URL.
type MigratorFactory func(databaseURL string) (Migrator, error)

func defaultMigratorFactory(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err //nolint:wrapcheck // store errors carry codes
	}
	return m, nil
}

// openStores opens the backend named by storage.driver.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		s := memory.NewStore()
		return &Stores{Identities: s, Roles: s, Close: func() {}}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database.URL,
		store.WithConnectTimeout(cfg.Database.ConnectTimeout),
		store.WithConnectLogger(logger),
	)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	s := postgres.NewStore(pool)
	return &Stores{Identities: s, Roles: s, Close: pool.Close}, nil
}

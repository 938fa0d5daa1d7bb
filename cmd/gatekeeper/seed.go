// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/internal/seed"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	timeout     time.Duration
	file        string
	missingOnly bool
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	return newSeedCmd(openStores)
}

func newSeedCmd(openStores StoreFactory) *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or update roles from a seed file",
		Long: `Writes roles and their permissions to the database. Without --file the
built-in defaults (admin, user) are used. Roles that already match are left
alone, so the command is idempotent.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, cfg, openStores)
		},
	}

	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")
	cmd.Flags().StringVarP(&cfg.file, "file", "f", "", "YAML seed file (default: built-in roles)")
	cmd.Flags().BoolVar(&cfg.missingOnly, "missing-only", false, "only create roles that do not exist")

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for seed files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := seed.GenerateSchema()
			if err != nil {
				return err //nolint:wrapcheck // seed errors carry codes
			}
			cmd.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a seed file without touching the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, err := readSeedFile(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s: %d roles valid\n", args[0], len(roles))
			return nil
		},
	})

	return cmd
}

func runSeed(cmd *cobra.Command, cfg *seedConfig, open StoreFactory) error {
	roles, err := seed.Default()
	if cfg.file != "" {
		roles, err = readSeedFile(cfg.file)
	}
	if err != nil {
		return err
	}

	appCfg, err := config.Read(configFile, cmd.Flags())
	if err != nil {
		return err //nolint:wrapcheck // config errors carry codes
	}
	if appCfg.Storage.Driver != config.DriverPostgres {
		return oops.Code(config.CodeInvalid).
			With("key", "storage.driver").
			Errorf("seed writes to the database; storage.driver must be %q", config.DriverPostgres)
	}
	if _, err := databaseURL(cmd); err != nil {
		return err
	}

	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	logger := cliLogger(appCfg)
	cmd.Println("Connecting to database...")
	stores, err := open(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	apply := seed.Apply
	if cfg.missingOnly {
		apply = seed.ApplyMissing
	}
	result, err := apply(ctx, stores.Roles, roles, logger)
	if err != nil {
		return err //nolint:wrapcheck // seed errors carry codes
	}

	cmd.Printf("Created:   %s\n", listOrNone(result.Created))
	cmd.Printf("Updated:   %s\n", listOrNone(result.Updated))
	cmd.Printf("Unchanged: %s\n", listOrNone(result.Unchanged))
	return nil
}

func readSeedFile(path string) ([]identity.Role, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.Code(seed.CodeInvalid).With("path", path).Wrap(err)
	}
	roles, err := seed.Parse(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return roles, nil
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

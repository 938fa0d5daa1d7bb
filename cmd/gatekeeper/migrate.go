// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(defaultMigratorFactory)
}

func newMigrateCmd(factory MigratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Manage the identity schema. Without a subcommand, all pending
migrations are applied.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, factory)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, factory)
		},
	})

	var confirm bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all identity data)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("migrate down drops all identity data; pass --yes to continue")
			}
			return withMigrator(cmd, factory, func(m Migrator) error {
				cmd.Println("Rolling back migrations...")
				if err := m.Down(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "roll back migrations").Wrap(err)
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	}
	down.Flags().BoolVar(&confirm, "yes", false, "confirm dropping all data")
	cmd.AddCommand(down)

	var jsonOutput bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m Migrator) error {
				st, err := m.Status()
				if err != nil {
					return oops.Code("MIGRATION_STATUS_FAILED").Wrap(err)
				}
				if jsonOutput {
					data, err := json.MarshalIndent(st, "", "  ")
					if err != nil {
						return oops.Code("MIGRATION_STATUS_FAILED").With("operation", "marshal status").Wrap(err)
					}
					cmd.Println(string(data))
					return nil
				}
				cmd.Print(formatMigrationStatus(st))
				return nil
			})
		},
	}
	status.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")
	cmd.AddCommand(status)

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it (repairs a dirty database)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_ARGUMENT").With("version", args[0]).Errorf("version must be an integer")
			}
			return withMigrator(cmd, factory, func(m Migrator) error {
				if err := m.Force(version); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "force version").Wrap(err)
				}
				cmd.Printf("Forced schema version %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

func runMigrateUp(cmd *cobra.Command, factory MigratorFactory) error {
	return withMigrator(cmd, factory, func(m Migrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
		}
		cmd.Println("Migrations completed successfully")
		return nil
	})
}

// withMigrator opens a migrator for the configured database, runs fn, and
// closes it.
func withMigrator(cmd *cobra.Command, factory MigratorFactory, fn func(Migrator) error) (err error) {
	url, err := databaseURL(cmd)
	if err != nil {
		return err
	}

	cmd.Println("Connecting to database...")
	m, err := factory(url)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = oops.Code("MIGRATION_FAILED").With("operation", "close migrator").Wrap(closeErr)
		}
	}()

	return fn(m)
}

func formatMigrationStatus(st store.Status) string {
	var b strings.Builder
	if st.Version == 0 {
		b.WriteString("Version: none\n")
	} else if st.Name != "" {
		fmt.Fprintf(&b, "Version: %d (%s)\n", st.Version, st.Name)
	} else {
		fmt.Fprintf(&b, "Version: %d\n", st.Version)
	}
	fmt.Fprintf(&b, "Dirty:   %t\n", st.Dirty)
	if len(st.Pending) == 0 {
		b.WriteString("Pending: none\n")
		return b.String()
	}
	pending := make([]string, 0, len(st.Pending))
	for _, v := range st.Pending {
		pending = append(pending, strconv.FormatUint(uint64(v), 10))
	}
	fmt.Fprintf(&b, "Pending: %s\n", strings.Join(pending, ", "))
	return b.String()
}

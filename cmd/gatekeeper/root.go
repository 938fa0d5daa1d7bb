// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gatekeeper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Gatekeeper - account authentication and authorization",
		Long: `Gatekeeper registers accounts, verifies passwords, issues signed bearer
tokens, and answers role and permission checks over an HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/gatekeeper/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(NewHashPasswordCmd())

	return cmd
}

// loadConfig reads and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}

// databaseURL reads the configuration without full validation and returns
// the database URL, which database commands require.
func databaseURL(cmd *cobra.Command) (string, error) {
	cfg, err := config.Read(configFile, cmd.Flags())
	if err != nil {
		return "", err
	}
	if cfg.Database.URL == "" {
		return "", oops.Code(config.CodeInvalid).
			With("key", "database.url").
			Errorf("database.url is required (set GATEKEEPER_DATABASE_URL or --database-url)")
	}
	return cfg.Database.URL, nil
}

// cliLogger logs to stderr in the configured format for one-shot commands.
func cliLogger(cfg *config.Config) *slog.Logger {
	return logging.Setup("gatekeeper", version, cfg.Log.Format, cfg.Log.Level, nil)
}

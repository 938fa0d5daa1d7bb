// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/authz"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/control"
	"github.com/holomush/gatekeeper/internal/credential"
	"github.com/holomush/gatekeeper/internal/httpapi"
	"github.com/holomush/gatekeeper/internal/identity"
	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/internal/seed"
	"github.com/holomush/gatekeeper/internal/token"
)

const shutdownTimeout = 10 * time.Second

// serveConfig holds flags local to the serve command.
type serveConfig struct {
	autoMigrate bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	flags := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API server",
		Long: `Start the HTTP API together with the metrics/health endpoint and the
gRPC health service. With the postgres driver, pending migrations are applied
first unless --auto-migrate=false. Missing default roles are always created.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, flags, cmd, nil)
		},
	}

	cmd.Flags().BoolVar(&flags.autoMigrate, "auto-migrate", true, "apply pending migrations on startup (postgres only)")

	return cmd
}

// runServeWithDeps runs the server until a signal arrives, ctx is cancelled,
// or a listener fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, flags *serveConfig, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreFactory == nil {
		deps.StoreFactory = openStores
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = defaultMigratorFactory
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger := logging.Setup("gatekeeper", version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	logger.Info("starting gatekeeper", "config", cfg)

	if cfg.Storage.Driver == config.DriverPostgres && flags.autoMigrate {
		if err := autoMigrate(deps.MigratorFactory, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	stores, err := deps.StoreFactory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	defaults, err := seed.Default()
	if err != nil {
		return err //nolint:wrapcheck // seed errors carry codes
	}
	if _, err := seed.ApplyMissing(ctx, stores.Roles, defaults, logger); err != nil {
		return err //nolint:wrapcheck // seed errors carry codes
	}
	if err := checkDefaultRoles(ctx, stores.Roles, cfg.Auth.DefaultRoles); err != nil {
		return err
	}

	var ready atomic.Bool
	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, ready.Load, observability.WithLogger(logger))
	}

	tokenOpts := []token.Option{token.WithTTL(cfg.Token.TTL)}
	if obsServer != nil {
		tokenOpts = append(tokenOpts, token.WithRevocationSet(token.NewMemoryRevocationSetWithRegistry(obsServer.Registry())))
	}
	if cfg.Token.Secret != "" {
		tokenOpts = append(tokenOpts, token.WithSecret([]byte(cfg.Token.Secret)))
	} else {
		logger.Warn("token.secret is not set; using an ephemeral secret, tokens will not survive a restart")
	}
	tokens, err := token.NewService(tokenOpts...)
	if err != nil {
		return err //nolint:wrapcheck // token errors carry codes
	}
	logger.Info("token service configured", "ttl", tokens.TTL())

	authSvc, err := auth.NewService(stores.Identities, credential.NewArgon2idHasher(), tokens,
		auth.WithLogger(logger),
		auth.WithDefaultRoles(cfg.Auth.DefaultRoles),
		auth.WithEvaluator(authz.NewEvaluator(authz.WithLogger(logger))),
	)
	if err != nil {
		return err //nolint:wrapcheck // auth errors carry codes
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiterCfg := httpapi.RateLimiterConfig{
		Burst:     cfg.RateLimit.LoginBurst,
		PerSecond: cfg.RateLimit.LoginPerSecond,
	}
	var limiter *httpapi.RateLimiter
	httpOpts := []httpapi.Option{httpapi.WithLogger(logger)}
	if obsServer != nil {
		limiter = httpapi.NewRateLimiterWithRegistry(limiterCfg, obsServer.Registry())
		httpOpts = append(httpOpts, httpapi.WithRequestRecorder(obsServer.Metrics()))
	} else {
		limiter = httpapi.NewRateLimiter(limiterCfg)
	}
	defer limiter.Close()
	httpOpts = append(httpOpts, httpapi.WithRateLimiter(limiter))

	apiServer, err := httpapi.NewServer(httpapi.Config{
		Addr:        cfg.HTTP.Addr,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		TrustProxy:  cfg.HTTP.TrustProxy,
	}, authSvc, stores.Roles, httpOpts...)
	if err != nil {
		return err //nolint:wrapcheck // httpapi errors carry codes
	}

	var stoppers []func(context.Context) error
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		for i := len(stoppers) - 1; i >= 0; i-- {
			if err := stoppers[i](shutdownCtx); err != nil {
				logger.Warn("error during shutdown", "error", err)
			}
		}
		logger.Info("shutdown complete")
	}()

	var endpoints Endpoints

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		stoppers = append(stoppers, obsServer.Stop)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		endpoints.Metrics = obsServer.Addr()
	}

	var health *control.HealthServer
	if cfg.Control.GRPCAddr != "" {
		health, err = control.NewHealthServer("gatekeeper", logger)
		if err != nil {
			return err //nolint:wrapcheck // control errors carry codes
		}
		controlErrCh, err := health.Start(cfg.Control.GRPCAddr)
		if err != nil {
			return err //nolint:wrapcheck // control errors carry codes
		}
		stoppers = append(stoppers, health.Stop)
		go monitorServerErrors(ctx, cancel, controlErrCh, "control-grpc", logger)
		endpoints.Control = health.Addr()
	}

	apiErrCh, err := apiServer.Start()
	if err != nil {
		return oops.Code("HTTP_START_FAILED").Wrap(err)
	}
	stoppers = append(stoppers, apiServer.Stop)
	endpoints.HTTP = apiServer.Addr()

	signals := deps.Signals
	if signals == nil {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		signals = sigChan
	}

	ready.Store(true)
	if health != nil {
		health.SetServing(true)
	}
	if deps.OnReady != nil {
		deps.OnReady(endpoints)
	}
	logger.Info("gatekeeper ready",
		"http_addr", endpoints.HTTP,
		"metrics_addr", endpoints.Metrics,
		"control_addr", endpoints.Control,
	)

	var runErr error
	select {
	case sig := <-signals:
		logger.Info("received shutdown signal", "signal", sig)
	case err, ok := <-apiErrCh:
		if ok && err != nil {
			runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	if health != nil {
		health.SetServing(false)
	}
	logger.Info("shutting down...")
	return runErr
}

// autoMigrate applies pending migrations before the store is opened.
func autoMigrate(factory MigratorFactory, databaseURL string, logger *slog.Logger) error {
	m, err := factory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	logger.Info("applying database migrations")
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	return nil
}

// checkDefaultRoles fails when a role granted on registration does not
// exist, since every registration would then be rejected.
func checkDefaultRoles(ctx context.Context, roles identity.RoleStore, names []string) error {
	for _, name := range names {
		role, err := roles.FindRole(ctx, name)
		if err != nil {
			return err //nolint:wrapcheck // store errors carry codes
		}
		if role == nil {
			return oops.Code(config.CodeInvalid).
				With("key", "auth.default_roles").
				With("role", name).
				Errorf("auth.default_roles: role %q does not exist", name)
		}
	}
	return nil
}

// monitorServerErrors cancels ctx when a listener fails. It exits when the
// channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}

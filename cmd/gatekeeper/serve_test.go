// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/control"
	"github.com/holomush/gatekeeper/internal/identity/memory"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func testServeConfig() *config.Config {
	return &config.Config{
		HTTP:      config.HTTP{Addr: "127.0.0.1:0"},
		Metrics:   config.Metrics{Addr: "127.0.0.1:0"},
		Control:   config.Control{GRPCAddr: "127.0.0.1:0"},
		Log:       config.Log{Format: "text", Level: "error"},
		Database:  config.Database{ConnectTimeout: time.Second},
		Token:     config.Token{Secret: strings.Repeat("k", 32), TTL: time.Hour},
		Auth:      config.Auth{DefaultRoles: []string{"user"}},
		RateLimit: config.RateLimit{LoginBurst: 5, LoginPerSecond: 1},
		Storage:   config.Storage{Driver: config.DriverMemory},
	}
}

func quietCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd
}

type runningServer struct {
	endpoints Endpoints
	signals   chan os.Signal
	done      chan error
}

func startServe(t *testing.T, ctx context.Context, cfg *config.Config, deps *ServeDeps) *runningServer {
	t.Helper()
	rs := &runningServer{
		signals: make(chan os.Signal, 1),
		done:    make(chan error, 1),
	}
	ready := make(chan Endpoints, 1)
	deps.Signals = rs.signals
	deps.OnReady = func(e Endpoints) { ready <- e }

	go func() {
		rs.done <- runServeWithDeps(ctx, cfg, &serveConfig{autoMigrate: true}, quietCmd(), deps)
	}()

	select {
	case rs.endpoints = <-ready:
	case err := <-rs.done:
		t.Fatalf("serve exited before ready: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not become ready")
	}
	return rs
}

func (rs *runningServer) stop(t *testing.T) error {
	t.Helper()
	rs.signals <- syscall.SIGTERM
	select {
	case err := <-rs.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
		return nil
	}
}

func TestServe_MemoryEndToEnd(t *testing.T) {
	rs := startServe(t, context.Background(), testServeConfig(), &ServeDeps{})
	require.NotEmpty(t, rs.endpoints.HTTP)
	require.NotEmpty(t, rs.endpoints.Metrics)
	require.NotEmpty(t, rs.endpoints.Control)

	body, err := json.Marshal(map[string]string{
		"email":    "ada@example.com",
		"username": "ada",
		"password": "Str0ng!Secret",
	})
	require.NoError(t, err)
	resp, err := http.Post("http://"+rs.endpoints.HTTP+"/v1/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var registered struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&registered))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode, "default roles are seeded before serving")

	logout, err := http.NewRequest(http.MethodPost, "http://"+rs.endpoints.HTTP+"/v1/auth/logout", nil)
	require.NoError(t, err)
	logout.Header.Set("Authorization", "Bearer "+registered.Token)
	resp, err = http.DefaultClient.Do(logout)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get("http://" + rs.endpoints.Metrics + "/healthz/readiness")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + rs.endpoints.Metrics + "/metrics")
	require.NoError(t, err)
	metrics, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `gatekeeper_http_requests_total{method="POST",route="/v1/auth/register",status="201"} 1`)
	assert.Contains(t, string(metrics), "gatekeeper_ratelimiter_clients")
	assert.Contains(t, string(metrics), "gatekeeper_revoked_tokens 1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := control.Check(ctx, rs.endpoints.Control, control.ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health)

	require.NoError(t, rs.stop(t))

	_, err = net.DialTimeout("tcp", rs.endpoints.HTTP, 200*time.Millisecond)
	assert.Error(t, err, "http listener should be closed after shutdown")
}

func TestServe_DisabledListeners(t *testing.T) {
	cfg := testServeConfig()
	cfg.Metrics.Addr = ""
	cfg.Control.GRPCAddr = ""
	cfg.Token.Secret = ""

	rs := startServe(t, context.Background(), cfg, &ServeDeps{})
	assert.NotEmpty(t, rs.endpoints.HTTP)
	assert.Empty(t, rs.endpoints.Metrics)
	assert.Empty(t, rs.endpoints.Control)
	require.NoError(t, rs.stop(t))
}

func TestServe_ContextCancelShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rs := startServe(t, ctx, testServeConfig(), &ServeDeps{})

	cancel()
	select {
	case err := <-rs.done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop on context cancel")
	}
}

func TestServe_AutoMigratesPostgres(t *testing.T) {
	cfg := testServeConfig()
	cfg.Storage.Driver = config.DriverPostgres
	cfg.Database.URL = "postgres://db/gatekeeper"

	m := &fakeMigrator{}
	var gotURL string
	var closed bool
	rs := startServe(t, context.Background(), cfg, &ServeDeps{
		StoreFactory:    memoryStoreFactory(memory.NewStore(), &closed),
		MigratorFactory: migratorFactory(m, &gotURL),
	})
	require.NoError(t, rs.stop(t))

	assert.True(t, m.upCalled)
	assert.True(t, m.closed)
	assert.Equal(t, "postgres://db/gatekeeper", gotURL)
	assert.True(t, closed, "stores are closed on shutdown")
}

func TestServe_AutoMigrateDisabled(t *testing.T) {
	cfg := testServeConfig()
	cfg.Storage.Driver = config.DriverPostgres
	cfg.Database.URL = "postgres://db/gatekeeper"

	m := &fakeMigrator{}
	done := make(chan error, 1)
	signals := make(chan os.Signal, 1)
	deps := &ServeDeps{
		StoreFactory:    memoryStoreFactory(memory.NewStore(), nil),
		MigratorFactory: migratorFactory(m, nil),
		Signals:         signals,
		OnReady:         func(Endpoints) { signals <- syscall.SIGINT },
	}
	go func() { done <- runServeWithDeps(context.Background(), cfg, &serveConfig{}, quietCmd(), deps) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.False(t, m.upCalled)
}

func TestServe_MigrationFailureStopsStartup(t *testing.T) {
	cfg := testServeConfig()
	cfg.Storage.Driver = config.DriverPostgres
	cfg.Database.URL = "postgres://db/gatekeeper"

	storeOpened := false
	deps := &ServeDeps{
		MigratorFactory: migratorFactory(&fakeMigrator{upErr: errors.New("dirty database version 2")}, nil),
		StoreFactory: func(context.Context, *config.Config, *slog.Logger) (*Stores, error) {
			storeOpened = true
			return nil, errors.New("unreachable")
		},
	}

	err := runServeWithDeps(context.Background(), cfg, &serveConfig{autoMigrate: true}, quietCmd(), deps)
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	assert.False(t, storeOpened)
}

func TestServe_StoreFailure(t *testing.T) {
	deps := &ServeDeps{
		StoreFactory: func(context.Context, *config.Config, *slog.Logger) (*Stores, error) {
			return nil, errors.New("connection refused")
		},
	}

	err := runServeWithDeps(context.Background(), testServeConfig(), &serveConfig{}, quietCmd(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestServe_HTTPListenFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = occupied.Close() }()

	cfg := testServeConfig()
	cfg.HTTP.Addr = occupied.Addr().String()

	err = runServeWithDeps(context.Background(), cfg, &serveConfig{}, quietCmd(), &ServeDeps{})
	errutil.AssertErrorCode(t, err, "HTTP_START_FAILED")
}

func TestServe_UnknownDefaultRole(t *testing.T) {
	cfg := testServeConfig()
	cfg.Auth.DefaultRoles = []string{"user", "member"}

	err := runServeWithDeps(context.Background(), cfg, &serveConfig{}, quietCmd(), &ServeDeps{})
	errutil.AssertErrorCode(t, err, config.CodeInvalid)
	errutil.AssertErrorContext(t, err, "key", "auth.default_roles")
	errutil.AssertErrorContext(t, err, "role", "member")
}

func TestServe_InvalidCORSPattern(t *testing.T) {
	cfg := testServeConfig()
	cfg.HTTP.CORSOrigins = []string{"https://[unclosed"}

	err := runServeWithDeps(context.Background(), cfg, &serveConfig{}, quietCmd(), &ServeDeps{})
	require.Error(t, err)
}

func TestNewServeCmd_Flags(t *testing.T) {
	cmd := NewServeCmd()
	autoMigrate, err := cmd.Flags().GetBool("auto-migrate")
	require.NoError(t, err)
	assert.True(t, autoMigrate, "auto-migrate is on by default")
}

func TestServeCmd_RejectsInvalidConfig(t *testing.T) {
	root, _ := newTestRoot(t, NewServeCmd())
	t.Setenv("GATEKEEPER_DATABASE_URL", "")
	root.SetArgs([]string{"serve", "--storage", "postgres"})

	errutil.AssertErrorCode(t, root.Execute(), config.CodeInvalid)
}

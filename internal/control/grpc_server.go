// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package control exposes the gRPC health endpoint used by orchestrators and
// the status command.
package control

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the auth API.
const ServiceName = "gatekeeper.v1.Auth"

// Control error codes.
const (
	CodeInvalidComponent = "CONTROL_INVALID_COMPONENT"
	CodeAlreadyRunning   = "CONTROL_ALREADY_RUNNING"
	CodeListenFailed     = "CONTROL_LISTEN_FAILED"
	CodeCheckFailed      = "CONTROL_CHECK_FAILED"
)

// Status describes the control server process.
type Status struct {
	Component string
	Running   bool
	PID       int
	Uptime    time.Duration
}

// HealthServer serves grpc.health.v1.Health for the process.
type HealthServer struct {
	component string
	startTime time.Time
	logger    *slog.Logger
	health    *health.Server

	mu         sync.Mutex
	listener   net.Listener
	grpcServer *grpc.Server
	running    atomic.Bool
}

// NewHealthServer creates a health server for the named component. Both the
// overall and the auth service status start as NOT_SERVING.
func NewHealthServer(component string, logger *slog.Logger) (*HealthServer, error) {
	if component == "" {
		return nil, oops.Code(CodeInvalidComponent).Errorf("component name cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &HealthServer{
		component: component,
		startTime: time.Now(),
		logger:    logger,
		health:    health.NewServer(),
	}
	s.SetServing(false)
	return s, nil
}

// SetServing flips the reported status of the process and the auth service.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Start begins listening on addr. The returned channel receives exactly one
// value when the server stops (nil on graceful stop).
func (s *HealthServer) Start(addr string) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil, oops.Code(CodeAlreadyRunning).With("addr", s.listener.Addr().String()).Errorf("server is already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, oops.Code(CodeListenFailed).With("addr", addr).Wrap(err)
	}
	s.listener = listener
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.running.Store(true)

	s.logger.Info("control health server listening", "addr", listener.Addr().String(), "component", s.component)

	errCh := make(chan error, 1)
	srv := s.grpcServer
	go func() {
		errCh <- srv.Serve(listener)
	}()
	return errCh, nil
}

// Stop marks every service NOT_SERVING and stops the server. Pending RPCs
// are drained until ctx is done, after which the server is stopped hard.
func (s *HealthServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.grpcServer
	s.grpcServer = nil
	s.listener = nil
	s.mu.Unlock()

	s.health.Shutdown()
	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
		<-done
	}
	s.running.Store(false)
	return nil
}

// Addr returns the bound listener address, or "" when not started.
func (s *HealthServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Status reports process information for the component.
func (s *HealthServer) Status() Status {
	return Status{
		Component: s.component,
		Running:   s.running.Load(),
		PID:       os.Getpid(),
		Uptime:    time.Since(s.startTime),
	}
}

// Check queries the health endpoint at addr for service ("" for the whole
// process).
func Check(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, oops.Code(CodeCheckFailed).With("addr", addr).Wrap(err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, oops.Code(CodeCheckFailed).
			With("addr", addr).
			With("service", service).
			Wrap(err)
	}
	return resp.GetStatus(), nil
}

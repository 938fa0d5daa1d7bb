// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/control"
)

// ServiceStatus holds the health of one service on the control endpoint.
type ServiceStatus struct {
	Service string `json:"service"`
	Health  string `json:"health"`
	Error   string `json:"error,omitempty"`
}

// HealthChecker queries a health endpoint.
type HealthChecker func(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error)

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
	timeout    time.Duration
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd() *cobra.Command {
	return newStatusCmdWithChecker(control.Check)
}

func newStatusCmdWithChecker(check HealthChecker) *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running gatekeeper",
		Long: `Query the gRPC health service of a running gatekeeper. Exits non-zero
unless every service reports SERVING.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg, check)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "", "control address (default: control.grpc_addr)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "health check timeout")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig, check HealthChecker) error {
	addr := cfg.addr
	if addr == "" {
		appCfg, err := config.Read(configFile, cmd.Flags())
		if err != nil {
			return err //nolint:wrapcheck // config errors carry codes
		}
		addr = appCfg.Control.GRPCAddr
	}
	if addr == "" {
		return oops.Code(config.CodeInvalid).
			With("key", "control.grpc_addr").
			Errorf("no control address configured; pass --addr")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	statuses := make([]ServiceStatus, 0, 2)
	for _, service := range []string{"", control.ServiceName} {
		statuses = append(statuses, queryServiceStatus(ctx, check, addr, service))
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(map[string]any{"addr": addr, "services": statuses}, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
		}
		cmd.Println(string(data))
	} else {
		cmd.Print(formatStatusTable(addr, statuses))
	}

	for _, st := range statuses {
		if st.Health != healthpb.HealthCheckResponse_SERVING.String() {
			return oops.Code("NOT_SERVING").With("addr", addr).Errorf("gatekeeper at %s is not serving", addr)
		}
	}
	return nil
}

func queryServiceStatus(ctx context.Context, check HealthChecker, addr, service string) ServiceStatus {
	name := service
	if name == "" {
		name = "(process)"
	}
	st := ServiceStatus{Service: name}

	health, err := check(ctx, addr, service)
	st.Health = health.String()
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(addr string, statuses []ServiceStatus) string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "Control endpoint: %s\n", addr)

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SERVICE\tHEALTH\tERROR")
	_, _ = fmt.Fprintln(w, "-------\t------\t-----")
	for _, st := range statuses {
		errText := st.Error
		if errText == "" {
			errText = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", st.Service, st.Health, errText)
	}
	_ = w.Flush()
	return b.String()
}

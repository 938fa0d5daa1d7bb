// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

// operations counts Service calls by operation and outcome. The outcome is
// "success" or the lowercased error code ("internal" for uncoded errors).
var operations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gatekeeper_auth_operations_total",
	Help: "Total number of authentication operations by outcome",
}, []string{"operation", "result"})

func recordOperation(operation string, err error) {
	operations.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	code := errutil.Code(err)
	if code == "" {
		return "internal"
	}
	return strings.ToLower(code)
}

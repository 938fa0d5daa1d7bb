// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// decisions counts Authorize outcomes by requirement kind.
var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gatekeeper_authz_decisions_total",
	Help: "Total number of authorization decisions",
}, []string{"kind", "effect"})

func recordDecision(r Requirement, allowed bool) {
	kind := "authenticated"
	switch {
	case r.Role != "" && r.hasPermission():
		kind = "role_and_permission"
	case r.Role != "":
		kind = "role"
	case r.hasPermission():
		kind = "permission"
	}

	effect := "deny"
	if allowed {
		effect = "allow"
	}
	decisions.WithLabelValues(kind, effect).Inc()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

var (
	tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_tokens_issued_total",
		Help: "Total number of session tokens issued",
	})

	tokensRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_tokens_revoked_total",
		Help: "Total number of revoke calls",
	})

	// tokenValidations counts validations by result ("valid" or an error code).
	tokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_token_validations_total",
		Help: "Total number of token validations by result",
	}, []string{"result"})
)

func recordValidation(err error) {
	result := "valid"
	if err != nil {
		result = errutil.Code(err)
	}
	tokenValidations.WithLabelValues(result).Inc()
}

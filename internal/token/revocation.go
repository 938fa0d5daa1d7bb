// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package token

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RevocationSet records raw token strings that must never validate again.
// Implementations must be safe for concurrent use.
type RevocationSet interface {
	// Add records token. Adding a token twice is not an error.
	Add(token string)

	// Contains reports whether token was added.
	Contains(token string) bool

	// Len returns the number of revoked tokens.
	Len() int
}

// MemoryRevocationSet is a process-local RevocationSet. It only grows and is
// lost on restart; it is not shared between nodes.
type MemoryRevocationSet struct {
	mu     sync.RWMutex
	tokens map[string]struct{}

	// Metrics gauge for set size (nil if no registry provided)
	sizeGauge prometheus.Gauge
}

// NewMemoryRevocationSet creates an empty revocation set.
func NewMemoryRevocationSet() *MemoryRevocationSet {
	return newMemoryRevocationSet(nil)
}

// NewMemoryRevocationSetWithRegistry creates an empty revocation set and
// registers a size gauge with the provided Prometheus registry.
func NewMemoryRevocationSetWithRegistry(reg prometheus.Registerer) *MemoryRevocationSet {
	return newMemoryRevocationSet(reg)
}

func newMemoryRevocationSet(reg prometheus.Registerer) *MemoryRevocationSet {
	s := &MemoryRevocationSet{tokens: make(map[string]struct{})}
	if reg != nil {
		s.sizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_revoked_tokens",
			Help: "Current number of revoked tokens held in memory",
		})
		reg.MustRegister(s.sizeGauge)
	}
	return s
}

// Add records token as revoked.
func (s *MemoryRevocationSet) Add(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = struct{}{}
	if s.sizeGauge != nil {
		s.sizeGauge.Set(float64(len(s.tokens)))
	}
}

// Contains reports whether token has been revoked.
func (s *MemoryRevocationSet) Contains(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[token]
	return ok
}

// Len returns the number of revoked tokens.
func (s *MemoryRevocationSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

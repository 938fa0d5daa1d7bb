// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Default rate limiting values.
const (
	// DefaultBurst is the number of requests a client can make at once.
	DefaultBurst = 5

	// DefaultPerSecond is the sustained refill rate per client.
	DefaultPerSecond = 0.5

	// DefaultCleanupInterval is how often idle clients are forgotten.
	DefaultCleanupInterval = time.Minute

	// DefaultClientMaxAge is how long an idle client is remembered.
	DefaultClientMaxAge = 10 * time.Minute
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Burst defaults to DefaultBurst if zero or negative.
	Burst int

	// PerSecond defaults to DefaultPerSecond if zero or negative.
	PerSecond float64

	// CleanupInterval defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration

	// ClientMaxAge defaults to DefaultClientMaxAge if zero.
	ClientMaxAge time.Duration
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client key with a token bucket per key.
// It is safe for concurrent use.
//
// A background goroutine forgets idle clients. Call Close to stop it.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientBucket
	burst     int
	perSecond rate.Limit
	maxAge    time.Duration
	now       func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup

	clientGauge prometheus.Gauge
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return newRateLimiter(cfg, nil, time.Now)
}

// NewRateLimiterWithRegistry also registers a tracked-clients gauge with reg.
func NewRateLimiterWithRegistry(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	return newRateLimiter(cfg, reg, time.Now)
}

func newRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer, now func() time.Time) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	perSecond := cfg.PerSecond
	if perSecond <= 0 {
		perSecond = DefaultPerSecond
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	maxAge := cfg.ClientMaxAge
	if maxAge <= 0 {
		maxAge = DefaultClientMaxAge
	}

	rl := &RateLimiter{
		clients:   make(map[string]*clientBucket),
		burst:     burst,
		perSecond: rate.Limit(perSecond),
		maxAge:    maxAge,
		now:       now,
		stopChan:  make(chan struct{}),
	}

	if reg != nil {
		rl.clientGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_ratelimiter_clients",
			Help: "Current number of clients tracked by the rate limiter",
		})
		reg.MustRegister(rl.clientGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cleanupInterval)

	return rl
}

// Allow consumes one token for key. When no token is available it returns
// false and the wait until the next one.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.perSecond, rl.burst)}
		rl.clients[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// ClientCount returns the number of tracked clients.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Cleanup forgets clients not seen within maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-maxAge)
	for key, b := range rl.clients {
		if b.lastSeen.Before(threshold) {
			delete(rl.clients, key)
		}
	}

	if rl.clientGauge != nil {
		rl.clientGauge.Set(float64(len(rl.clients)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.maxAge)
		}
	}
}

// Close stops the cleanup goroutine and waits for it to exit.
func (rl *RateLimiter) Close() {
	close(rl.stopChan)
	rl.wg.Wait()
}

// Middleware rejects requests over the limit with 429 and Retry-After.
// Clients are keyed by remote IP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, wait := rl.Allow(clientIP(r))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of RemoteAddr. Forwarded headers are only
// honored through the RealIP middleware, which rewrites RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}

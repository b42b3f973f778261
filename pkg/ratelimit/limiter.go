// Package ratelimit guards the shared account-wide request budget.
// All workers of a run draw from one token bucket, and a server-issued
// Retry-After window is recorded as a cooldown that every worker honors
// before issuing the next request.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for budget and cooldown activity.
var (
	budgetWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "extract_budget_wait_seconds",
		Help:    "Time spent waiting on the shared request budget",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
	})

	cooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extract_cooldowns_total",
		Help: "Total number of server-issued cooldown windows recorded",
	})

	cooldownWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extract_cooldown_waits_total",
		Help: "Total number of requests that waited out a cooldown window",
	})
)

// Config holds the limiter configuration.
type Config struct {
	// RequestsPerMinute is the shared outbound request ceiling.
	// Zero means unlimited.
	RequestsPerMinute float64

	// Burst is the token bucket burst size. Defaults to 1 so paging
	// stays evenly spaced under the account-wide ceiling.
	Burst int

	// Store persists cooldown windows. Defaults to an in-process store;
	// a Redis-backed store lets parallel extractor processes share one
	// Retry-After window.
	Store CooldownStore

	// Logger for throttling events.
	Logger zerolog.Logger
}

// Limiter combines the token-bucket budget with the cooldown store.
type Limiter struct {
	bucket *rate.Limiter
	store  CooldownStore
	logger zerolog.Logger
}

// New creates a limiter. A zero Config yields an unlimited budget with
// an in-process cooldown store.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60.0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		bucket: rate.NewLimiter(limit, burst),
		store:  store,
		logger: cfg.Logger,
	}
}

// Acquire blocks until the caller may issue one request: any active
// cooldown window has elapsed and one budget token is available.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.waitCooldown(ctx); err != nil {
		return err
	}

	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("request budget: %w", err)
	}
	budgetWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// StartCooldown records a server-issued wait window. Subsequent Acquire
// calls block until it elapses. Overlapping windows keep the later
// deadline.
func (l *Limiter) StartCooldown(ctx context.Context, d time.Duration) {
	until := time.Now().Add(d)
	if err := l.store.Extend(ctx, until); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to persist cooldown window")
		return
	}
	cooldownsTotal.Inc()
	l.logger.Warn().
		Dur("cooldown", d).
		Time("until", until).
		Msg("Rate limit cooldown started")
}

// waitCooldown sleeps out the active cooldown window, if any.
func (l *Limiter) waitCooldown(ctx context.Context) error {
	for {
		until, err := l.store.Deadline(ctx)
		if err != nil {
			l.logger.Warn().Err(err).Msg("Cooldown lookup failed, proceeding")
			return nil
		}

		wait := time.Until(until)
		if wait <= 0 {
			return nil
		}

		cooldownWaitsTotal.Inc()
		l.logger.Info().
			Dur("wait", wait).
			Msg("Waiting out rate limit cooldown")

		select {
		case <-ctx.Done():
			return fmt.Errorf("cooldown wait: %w", ctx.Err())
		case <-time.After(wait):
			// Re-check: another worker may have extended the window.
		}
	}
}

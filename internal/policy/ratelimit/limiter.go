// Package ratelimit paces outbound requests to the upstream API with a
// token bucket enforcing a minimum interval between requests.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Pauser is the waiting surface consumed by the sync loop. Tests inject a
// no-op implementation to avoid real sleeps.
type Pauser interface {
	Wait(ctx context.Context) error
}

// Limiter enforces at most one request per configured interval, including
// retries. Burst is fixed at 1 so the interval holds between every pair of
// consecutive requests.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter with the given minimum interval between requests.
// A non-positive interval disables pacing.
func New(minInterval time.Duration) *Limiter {
	if minInterval <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Wait blocks until the next request is allowed, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// NopPauser never waits. Used in tests and for one-off CLI lookups.
type NopPauser struct{}

// Wait returns immediately unless the context is already done.
func (NopPauser) Wait(ctx context.Context) error {
	return ctx.Err()
}

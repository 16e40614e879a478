package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)

	assert.False(t, p.ShouldRetry(nil, 1), "no error means no retry")
	assert.True(t, p.ShouldRetry(errors.New("transient"), 1))
	assert.True(t, p.ShouldRetry(errors.New("transient"), 2))
	assert.False(t, p.ShouldRetry(errors.New("transient"), 3), "ceiling reached")
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
}

func TestRetryPolicyBackoffGrows(t *testing.T) {
	t.Parallel()

	base := 10 * time.Millisecond
	p := NewRetryPolicy(5, base, time.Minute)

	// The deterministic half of the delay doubles per attempt; the jitter is
	// bounded by that half, so the floor of each attempt's backoff grows.
	prevFloor := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		floor := base << (attempt - 1) // base*2^attempt / 2
		got := p.Backoff(attempt)
		assert.GreaterOrEqual(t, got, floor, "attempt %d", attempt)
		assert.Less(t, got, 2*floor+time.Millisecond, "attempt %d", attempt)
		assert.Greater(t, floor, prevFloor)
		prevFloor = floor
	}
}

func TestRetryPolicyBackoffCapped(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(10, 100*time.Millisecond, 500*time.Millisecond)
	for attempt := 5; attempt <= 10; attempt++ {
		assert.LessOrEqual(t, p.Backoff(attempt), 500*time.Millisecond)
	}
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(0, 0, 0)
	assert.Equal(t, 3, p.MaxAttempts())
	assert.Positive(t, p.Backoff(1))
}

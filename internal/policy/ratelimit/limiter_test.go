package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterWaitEnforcesInterval(t *testing.T) {
	t.Parallel()

	// 50ms interval: first wait is immediate (burst 1), second must block.
	l := New(50 * time.Millisecond)
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dur := time.Since(start); dur < 35*time.Millisecond {
		t.Errorf("expected wait ~50ms, got %v", dur)
	}
}

func TestLimiterDisabledInterval(t *testing.T) {
	t.Parallel()

	l := New(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if dur := time.Since(start); dur > 20*time.Millisecond {
		t.Errorf("expected no pacing, got %v", dur)
	}
}

func TestLimiterWaitCanceledContext(t *testing.T) {
	t.Parallel()

	l := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected error after context cancellation")
	}
}

func TestNopPauser(t *testing.T) {
	t.Parallel()

	var p NopPauser
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("expected error for done context")
	}
}

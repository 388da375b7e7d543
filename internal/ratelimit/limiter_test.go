package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewLimiterDefaults(t *testing.T) {
	limiter := NewLimiter(Config{})
	if limiter == nil {
		t.Fatal("NewLimiter() should return non-nil limiter")
	}
	if !limiter.Allow() {
		t.Error("fresh limiter should allow a burst request")
	}
}

func TestLimiterWaitBurst(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 2})
	ctx := context.Background()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("burst requests took too long: %v", elapsed)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 1})
	ctx, cancel := context.WithCancel(context.Background())

	// Drain the burst token, then cancel while waiting for the next one.
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	cancel()
	if err := limiter.Wait(ctx); err == nil {
		t.Error("Wait() after cancel should return an error")
	}
}

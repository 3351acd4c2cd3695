package limiter

import (
	"context"
	"testing"
	"time"
)

func TestThrottleDeductsAvailableTokens(t *testing.T) {
	r := NewRegistry(BucketConfig{Name: "exchange", RefillPerSecond: 100, Capacity: 5})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Throttle(ctx, "exchange", 5); err != nil {
		t.Fatalf("expected immediate throttle within capacity, got %v", err)
	}
}

func TestThrottleUnknownBucket(t *testing.T) {
	r := NewRegistry(BucketConfig{Name: "info", RefillPerSecond: 10, Capacity: 10})
	if err := r.Throttle(context.Background(), "missing", 1); err == nil {
		t.Fatal("expected error for unknown bucket")
	}
}

func TestThrottleWaitsWhenStarved(t *testing.T) {
	r := NewRegistry(BucketConfig{Name: "exchange", RefillPerSecond: 50, Capacity: 1})
	ctx := context.Background()

	if err := r.Throttle(ctx, "exchange", 1); err != nil {
		t.Fatalf("first throttle should succeed: %v", err)
	}

	start := time.Now()
	if err := r.Throttle(ctx, "exchange", 1); err != nil {
		t.Fatalf("second throttle should wait then succeed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("expected a measurable wait for refill, got %v", elapsed)
	}
}

func TestThrottleRespectsContextCancellation(t *testing.T) {
	r := NewRegistry(BucketConfig{Name: "exchange", RefillPerSecond: 0.001, Capacity: 1})
	ctx := context.Background()
	if err := r.Throttle(ctx, "exchange", 1); err != nil {
		t.Fatalf("first throttle should succeed: %v", err)
	}

	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Throttle(ctx2, "exchange", 1); err == nil {
		t.Fatal("expected context deadline error while starved")
	}
}

package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecuteOpensAfterThreshold(t *testing.T) {
	r := New()
	r.Register("execution", Policy{FailureThreshold: 3, OpenFor: 50 * time.Millisecond, HalfOpenProbes: 1})

	failing := func(context.Context) (any, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		if _, err := r.Execute(context.Background(), "execution", failing, nil); err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}

	if !r.IsOpen("execution") {
		t.Fatal("expected breaker to be OPEN after threshold consecutive failures")
	}

	_, err := r.Execute(context.Background(), "execution", func(context.Context) (any, error) {
		t.Fatal("fn must not run while breaker is open")
		return nil, nil
	}, nil)
	if err == nil {
		t.Fatal("expected breaker-open error")
	}
}

func TestExecuteWithFallback(t *testing.T) {
	r := New()
	r.Register("stage", Policy{FailureThreshold: 1, OpenFor: time.Second, HalfOpenProbes: 1})

	failing := func(context.Context) (any, error) { return nil, errors.New("boom") }
	fallback := func(context.Context, error) (any, error) { return "degraded", nil }

	out, err := r.Execute(context.Background(), "stage", failing, fallback)
	if err != nil {
		t.Fatalf("fallback should absorb the error, got %v", err)
	}
	if out != "degraded" {
		t.Fatalf("expected fallback result, got %v", out)
	}
}

func TestResetReturnsToClosed(t *testing.T) {
	r := New()
	r.Register("execution", Policy{FailureThreshold: 1, OpenFor: time.Second, HalfOpenProbes: 1})

	_, _ = r.Execute(context.Background(), "execution", func(context.Context) (any, error) {
		return nil, errors.New("boom")
	}, nil)
	if !r.IsOpen("execution") {
		t.Fatal("expected breaker open")
	}

	if err := r.Reset("execution"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	s, ok := r.Status("execution")
	if !ok || s.State != "CLOSED" || s.FailureCount != 0 {
		t.Fatalf("expected CLOSED with zero counters after reset, got %+v", s)
	}
}

func TestHealthSummary(t *testing.T) {
	r := New()
	r.Register("a", Policy{FailureThreshold: 1, OpenFor: time.Second, HalfOpenProbes: 1})
	r.Register("b", Policy{FailureThreshold: 1, OpenFor: time.Second, HalfOpenProbes: 1})

	if got := r.HealthSummary(); got != "HEALTHY" {
		t.Fatalf("expected HEALTHY with no breakers tripped, got %s", got)
	}

	_, _ = r.Execute(context.Background(), "a", func(context.Context) (any, error) {
		return nil, errors.New("boom")
	}, nil)

	if got := r.HealthSummary(); got != "DEGRADED" {
		t.Fatalf("expected DEGRADED with 1/2 breakers open (not more than half), got %s", got)
	}
}

// Package breaker implements the named circuit-breaker registry shared by
// the orchestrator and the position-recovery monitor. Each named
// breaker is a CLOSED/OPEN/HALF_OPEN state machine guarding a resource.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/perpcore/trading-core/internal/coreerr"
)

// Policy configures one breaker: how many consecutive failures trip it,
// how long it stays OPEN before probing again, and how many requests a
// HALF_OPEN probe admits.
type Policy struct {
	FailureThreshold uint32        // default 5
	OpenFor          time.Duration // default 60s
	HalfOpenProbes   uint32        // default 1
}

// DefaultPolicy returns the registry's stock tuning.
func DefaultPolicy() Policy {
	return Policy{FailureThreshold: 5, OpenFor: 60 * time.Second, HalfOpenProbes: 1}
}

// Status is a point-in-time snapshot of a named breaker, safe to copy out
// under the registry's read lock.
type Status struct {
	Name                 string
	State                string
	FailureCount         uint32
	ConsecutiveSuccesses uint32
	LastFailureAt        time.Time
	OpenedAt             time.Time
}

// Registry is a named map of circuit breakers behind one mutex, with the
// state machine itself delegated to gobreaker rather than hand-rolled
// failure counters.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*entry
}

type entry struct {
	cb       *gobreaker.CircuitBreaker[any]
	policy   Policy
	openedAt time.Time
	lastFail time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{breakers: make(map[string]*entry)}
}

// Register adds a named breaker with the given policy. Registering an
// already-named breaker replaces it. The special name "execution" gates the
// orchestrator cycle and the recovery monitor.
func (r *Registry) Register(name string, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{policy: policy}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: policy.HalfOpenProbes,
		Interval:    0, // never reset CLOSED counts on a timer; only on success
		Timeout:     policy.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= policy.FailureThreshold
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			// The OPEN -> HALF_OPEN move fires from inside cb.State(), which
			// Status calls under the registry's read lock, so only take the
			// write lock for the transition that records openedAt.
			if to == gobreaker.StateOpen {
				r.mu.Lock()
				e.openedAt = time.Now()
				r.mu.Unlock()
			}
		},
	}
	e.cb = gobreaker.NewCircuitBreaker[any](settings)
	r.breakers[name] = e
}

// ensure returns the named breaker, lazily registering it with the default
// policy if it hasn't been explicitly registered yet.
func (r *Registry) ensure(name string) *entry {
	r.mu.RLock()
	e, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.Register(name, DefaultPolicy())
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Execute runs fn through the named breaker. On breaker-open or fn failure,
// if fallback is non-nil its result is returned instead and the breaker
// still records the failure; otherwise the failure propagates.
func (r *Registry) Execute(ctx context.Context, name string, fn func(context.Context) (any, error), fallback func(context.Context, error) (any, error)) (any, error) {
	e := r.ensure(name)

	result, err := e.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err == nil {
		return result, nil
	}

	r.mu.Lock()
	e.lastFail = time.Now()
	r.mu.Unlock()

	var classified error
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		classified = coreerr.Wrap(coreerr.KindBreakerOpen, fmt.Sprintf("breaker %q open", name), err)
	} else {
		classified = err
	}

	if fallback != nil {
		return fallback(ctx, classified)
	}
	return nil, classified
}

// Status returns a copy-out snapshot of the named breaker.
func (r *Registry) Status(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.breakers[name]
	if !ok {
		return Status{}, false
	}
	counts := e.cb.Counts()
	return Status{
		Name:                 name,
		State:                stateName(e.cb.State()),
		FailureCount:         counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		LastFailureAt:        e.lastFail,
		OpenedAt:             e.openedAt,
	}, true
}

// AllStatuses returns a snapshot of every registered breaker.
func (r *Registry) AllStatuses() []Status {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for n := range r.breakers {
		names = append(names, n)
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(names))
	for _, n := range names {
		if s, ok := r.Status(n); ok {
			out = append(out, s)
		}
	}
	return out
}

// HealthSummary aggregates breaker states to HEALTHY | DEGRADED | CRITICAL.
// CRITICAL when more than half the registered breakers are open.
func (r *Registry) HealthSummary() string {
	statuses := r.AllStatuses()
	if len(statuses) == 0 {
		return "HEALTHY"
	}
	open := 0
	for _, s := range statuses {
		if s.State == "OPEN" {
			open++
		}
	}
	switch {
	case open == 0:
		return "HEALTHY"
	case open*2 > len(statuses):
		return "CRITICAL"
	default:
		return "DEGRADED"
	}
}

// Reset forces the named breaker back to CLOSED with zero counters.
func (r *Registry) Reset(name string) error {
	e := r.ensure(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	e.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: e.policy.HalfOpenProbes,
		Timeout:     e.policy.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= e.policy.FailureThreshold
		},
	})
	e.openedAt = time.Time{}
	e.lastFail = time.Time{}
	return nil
}

// ForceOpen trips the named breaker open immediately, used by the
// orchestrator once its consecutive-error count reaches its configured max.
func (r *Registry) ForceOpen(name string) error {
	e := r.ensure(name)
	// Drive the breaker open by exhausting its trip threshold with
	// synthetic failures; gobreaker has no direct "force open" primitive.
	for i := uint32(0); i < e.policy.FailureThreshold; i++ {
		_, _ = e.cb.Execute(func() (any, error) {
			return nil, fmt.Errorf("forced open")
		})
	}
	r.mu.Lock()
	e.openedAt = time.Now()
	r.mu.Unlock()
	return nil
}

// IsOpen reports whether the named breaker is currently OPEN.
func (r *Registry) IsOpen(name string) bool {
	s, ok := r.Status(name)
	return ok && s.State == "OPEN"
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "CLOSED"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	case gobreaker.StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

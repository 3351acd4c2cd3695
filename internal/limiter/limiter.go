// Package limiter implements the token-bucket request shaping used in front
// of every exchange network call, one bucket per endpoint class.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Registry holds named token buckets, mirroring the per-endpoint-class
// limiter split in AlejandroRuiz99-polybot's polymarket client
// (clobLimiter/gammaLimiter/booksLimiter).
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// BucketConfig configures one named bucket.
type BucketConfig struct {
	Name            string
	RefillPerSecond float64
	Capacity        int
}

// NewRegistry builds a registry from the given bucket configs. The exchange
// client uses two: "info" (high-capacity, weighted by request size) and
// "exchange" (lower-capacity, gating order placement/cancel).
func NewRegistry(configs ...BucketConfig) *Registry {
	r := &Registry{limiters: make(map[string]*rate.Limiter, len(configs))}
	for _, c := range configs {
		r.limiters[c.Name] = rate.NewLimiter(rate.Limit(c.RefillPerSecond), c.Capacity)
	}
	return r
}

// Throttle blocks until `cost` tokens are available in the named bucket, or
// until ctx is cancelled. Throttle is invoked before every network call.
func (r *Registry) Throttle(ctx context.Context, bucket string, cost int) error {
	r.mu.RLock()
	l, ok := r.limiters[bucket]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("limiter: unknown bucket %q", bucket)
	}
	if cost <= 0 {
		cost = 1
	}
	return l.WaitN(ctx, cost)
}

// Allow reports whether `cost` tokens could be taken immediately without
// waiting, without consuming them. Used for introspection endpoints.
func (r *Registry) Allow(bucket string, cost int) bool {
	r.mu.RLock()
	l, ok := r.limiters[bucket]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return l.TokensAt(time.Now()) >= float64(cost)
}

package exchange

import (
	"sync"
	"time"
)

// tickerCache is a single-slot TTL cache for the getAllMids snapshot,
// grounded on pkg/cache.ShardedPriceCache's entry/age pattern but scoped to
// one value instead of a per-symbol shard map, since all mids are fetched
// and invalidated together.
type tickerCache struct {
	mu        sync.RWMutex
	value     map[string]float64
	updatedAt time.Time
	ttl       time.Duration
}

func newTickerCache(ttl time.Duration) *tickerCache {
	return &tickerCache{ttl: ttl}
}

func (c *tickerCache) get() (map[string]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil || time.Since(c.updatedAt) > c.ttl {
		return nil, false
	}
	return c.value, true
}

func (c *tickerCache) set(v map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.updatedAt = time.Now()
}

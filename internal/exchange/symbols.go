package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpcore/trading-core/internal/coreerr"
)

// symbolMeta holds the per-symbol formatting and minimum-size rules (tick
// size, size decimals, minimum order size) plus the asset-index mapping
// the venue assigns at initialization time.
type symbolMeta struct {
	AssetIndex int
	TickSize decimal.Decimal
	SizeDecimals int32
	MinSize decimal.Decimal
}

func defaultTickSize(symbol string) decimal.Decimal {
	switch symbol {
	case "BTC", "BTCUSDT", "BTC-PERP":
		return decimal.NewFromInt(1)
	case "ETH", "ETHUSDT", "ETH-PERP":
		return decimal.NewFromFloat(0.1)
	default:
		return decimal.NewFromFloat(0.01)
	}
}

func defaultSizeDecimals(symbol string) int32 {
	switch symbol {
	case "BTC", "BTCUSDT", "BTC-PERP":
		return 5
	default:
		return 4
	}
}

func defaultMinSize(symbol string) decimal.Decimal {
	switch symbol {
	case "BTC", "BTCUSDT", "BTC-PERP":
		return decimal.NewFromFloat(0.0001)
	case "ETH", "ETHUSDT", "ETH-PERP":
		return decimal.NewFromFloat(0.001)
	case "SOL", "SOLUSDT", "SOL-PERP":
		return decimal.NewFromFloat(0.01)
	default:
		return decimal.NewFromFloat(0.01)
	}
}

// metaCache caches symbol to asset-index metadata fetched from the venue
// for up to one hour, grounded on pkg/cache/sharded_cache.go's TTL-entry
// style.
type metaCache struct {
	mu sync.RWMutex
	bySymbol map[string]symbolMeta
	fetchedAt time.Time
	ttl time.Duration
}

func newMetaCache(ttl time.Duration) *metaCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &metaCache{bySymbol: make(map[string]symbolMeta), ttl: ttl}
}

func (m *metaCache) stale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.fetchedAt) > m.ttl || len(m.bySymbol) == 0
}

func (m *metaCache) set(meta map[string]symbolMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySymbol = meta
	m.fetchedAt = time.Now()
}

func (m *metaCache) get(symbol string) (symbolMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.bySymbol[symbol]
	return meta, ok
}

// FormatSize rounds size up to the symbol's minimum and then rounds (half
// away from zero) to its size-decimal precision. Zero or negative size is a
// fatal INVALID_SIZE.
func FormatSize(symbol string, size float64) (decimal.Decimal, error) {
	if size <= 0 {
		return decimal.Zero, coreerr.New(coreerr.KindValidation, fmt.Sprintf("INVALID_SIZE: %v", size))
	}
	d := decimal.NewFromFloat(size)
	min := defaultMinSize(symbol)
	if d.LessThan(min) {
		d = min
	}
	return d.Round(defaultSizeDecimals(symbol)), nil
}

// FormatPrice rounds price to the symbol's tick size.
func FormatPrice(symbol string, price float64) decimal.Decimal {
	tick := defaultTickSize(symbol)
	d := decimal.NewFromFloat(price)
	if tick.IsZero() {
		return d
	}
	return d.DivRound(tick, 8).Round(0).Mul(tick)
}

package market

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/perpcore/trading-core/internal/events"
)

// CandleSource is the subset of the exchange client the feed needs to warm
// the candle window. internal/exchange.Client returns its own Candle type, so
// cmd/perpcore's exchangeCandleSource adapts it to this interface.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}

// Feed polls the exchange client for candles and republishes ticks on the
// bus, keeping a rolling in-memory window per symbol for the orchestrator's
// MARKET_DATA stage to warm-start from.
type Feed struct {
	Source    CandleSource
	Bus       *events.Bus
	Symbols   []string
	Timeframe string
	Interval  time.Duration

	mu     sync.RWMutex
	window map[string][]Candle
}

// PriceTick is the payload published on EventPriceTick.
type PriceTick struct {
	Symbol string
	Close  float64
	At     time.Time
}

func (f *Feed) Start(ctx context.Context) {
	if f.Bus == nil || f.Source == nil {
		log.Println("market feed: bus or source not set; skipping start")
		return
	}
	if f.Timeframe == "" {
		f.Timeframe = "1m"
	}
	if f.Interval == 0 {
		f.Interval = 15 * time.Second
	}
	f.window = make(map[string][]Candle, len(f.Symbols))

	go func() {
		t := time.NewTicker(f.Interval)
		defer t.Stop()
		f.pollAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				f.pollAll(ctx)
			}
		}
	}()
}

func (f *Feed) pollAll(ctx context.Context) {
	for _, sym := range f.Symbols {
		candles, err := f.Source.GetCandles(ctx, sym, f.Timeframe, 200)
		if err != nil {
			log.Printf("market feed: %s candles: %v", sym, err)
			continue
		}
		if len(candles) == 0 {
			continue
		}
		f.mu.Lock()
		f.window[sym] = candles
		f.mu.Unlock()
		last := candles[len(candles)-1]
		f.Bus.Publish(events.EventPriceTick, PriceTick{Symbol: sym, Close: last.Close, At: last.OpenTime})
	}
}

// Candles returns the last cached window for a symbol.
func (f *Feed) Candles(symbol string) []Candle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.window[symbol]
}

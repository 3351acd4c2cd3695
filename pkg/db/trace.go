package db

import (
	"context"
	"time"
)

// AIInsight is one cycle's recorded thoughts, for later analysis.
type AIInsight struct {
	ID string
	CycleID string
	Symbol string
	Thoughts string // JSON-encoded []string
	CreatedAt time.Time
}

// CreateAIInsight inserts a cycle's thoughts row.
func (d *Database) CreateAIInsight(ctx context.Context, a AIInsight) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO ai_insights (id, cycle_id, symbol, thoughts, created_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, a.ID, a.CycleID, a.Symbol, a.Thoughts, a.CreatedAt)
	return err
}

// MarketDataRow is one OHLCV candle persisted for warm-start reads.
type MarketDataRow struct {
	Symbol string
	Timeframe string
	OpenTime time.Time
	Open float64
	High float64
	Low float64
	Close float64
	Volume float64
}

// UpsertMarketData stores (or replaces) one candle row.
func (d *Database) UpsertMarketData(ctx context.Context, m MarketDataRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO market_data (symbol, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, open_time) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume
	`, m.Symbol, m.Timeframe, m.OpenTime, m.Open, m.High, m.Low, m.Close, m.Volume)
	return err
}

// CycleTrace is the compact persisted projection of a completed cycle,
// keyed by cycleId.
type CycleTrace struct {
	CycleID string
	Symbol string
	Timeframe string
	CurrentStep string
	Regime string
	Summary string // JSON-encoded TraceSummary
	CreatedAt time.Time
}

// CreateCycleTrace inserts one trace row. Idempotent on CycleID: a repeat
// write for the same cycle replaces the row rather than erroring, since a
// cycle is only ever traced once but retries of the write path must not
// fail on a duplicate key.
func (d *Database) CreateCycleTrace(ctx context.Context, t CycleTrace) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO cycle_traces (cycle_id, symbol, timeframe, current_step, regime, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
		ON CONFLICT(cycle_id) DO UPDATE SET
			current_step = excluded.current_step,
			regime = excluded.regime,
			summary = excluded.summary
	`, t.CycleID, t.Symbol, t.Timeframe, t.CurrentStep, t.Regime, t.Summary, t.CreatedAt)
	return err
}

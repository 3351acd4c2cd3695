package db

import (
	"context"
	"database/sql"
)

// ListActiveStrategySymbols returns the set of symbols referenced by at
// least one active strategy instance, used by the position-recovery
// monitor to detect orphaned positions.
func (d *Database) ListActiveStrategySymbols(ctx context.Context) (map[string]bool, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT DISTINCT symbol FROM strategy_instances WHERE is_active = 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		out[symbol] = true
	}
	return out, rows.Err()
}

// RecentTradePrices returns up to limit recent trade prices for a symbol,
// newest first, used by the STUCK-position heuristic.
func (d *Database) RecentTradePrices(ctx context.Context, symbol string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT price FROM trades WHERE symbol = ? ORDER BY created_at DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentTradePnLs returns up to limit recent realized pnl values for a
// symbol, newest first, from EXIT trades only. The pattern-recall stage
// uses them to record the symbol's recent win fraction and average PnL.
func (d *Database) RecentTradePnLs(ctx context.Context, symbol string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT pnl FROM trades WHERE symbol = ? AND entry_exit = 'EXIT' ORDER BY created_at DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LastTradeAt returns the timestamp of the most recent trade for a symbol,
// used by the STALE-position heuristic. Valid is false if the symbol has
// no trade history.
func (d *Database) LastTradeAt(ctx context.Context, symbol string) (sql.NullTime, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT created_at FROM trades WHERE symbol = ? ORDER BY created_at DESC LIMIT 1
	`, symbol)
	var t sql.NullTime
	if err := row.Scan(&t); err != nil {
		if err == sql.ErrNoRows {
			return sql.NullTime{}, nil
		}
		return sql.NullTime{}, err
	}
	t.Valid = true
	return t, nil
}

// Package orchestrator drives the trading cycle: a fixed sequence of
// pure-function stages over a shared tradestate.CycleState, each wrapped in
// a named circuit breaker, that turns market data into an (optional) order.
package orchestrator

import "time"

// Config carries the orchestrator's numeric knobs: how much candle history
// a cycle needs before it can reason about the market, how many candles to
// pull per fetch, how many consecutive stage failures trip the cycle
// breaker, and the wall-clock budget for one cycle.
type Config struct {
	MinCandles           int
	CandleLimit          int
	MaxConsecutiveErrors int
	CycleTimeout         time.Duration
}

// DefaultConfig returns the orchestrator's stock tuning.
func DefaultConfig() Config {
	return Config{
		MinCandles:           50,
		CandleLimit:          200,
		MaxConsecutiveErrors: 5,
		CycleTimeout:         30 * time.Second,
	}
}

// Breaker names, one per stage plus the cycle-gating "execution" breaker
// checked before any stage runs.
const (
	BreakerExecution       = "execution"
	BreakerMarketData      = "market-data"
	BreakerPatternRecall   = "pattern-recall"
	BreakerStrategyIdeation = "strategy-ideation"
	BreakerBacktester      = "backtester"
	BreakerStrategySelector = "strategy-selector"
	BreakerRiskGate        = "risk-gate"
	BreakerExecutor        = "executor"
	BreakerLearning        = "learning"
)

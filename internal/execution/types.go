// Package execution is the trading execution engine: signal admission,
// engine-level churn prevention, managed-exit monitoring, and reduce-only
// exit semantics sitting on top of the exchange client.
package execution

import "time"

// Config carries the engine's churn and monitor constants.
type Config struct {
	MinSignalConfidence float64
	SignalDedupWindow time.Duration
	MaxSignalsPerMinute int
	MinOrderInterval time.Duration
	StandardCooldown time.Duration

	// PositionSizeMultiplier scales entry size in [0,1]; a safety monitor
	// can tighten this externally via SetSizeMultiplier. 0 blocks entries.
	PositionSizeMultiplier float64

	ManagedExitInterval time.Duration
	MinStopLossPct float64 // not read by the managed-exit monitor, which floors plan.slPct*SLTriggerFactor at a fixed 0.001
	SLTriggerFactor float64
	TPTriggerFactor float64
}

// DefaultConfig returns numeric defaults.
func DefaultConfig() Config {
	return Config{
		MinSignalConfidence: 0.80,
		SignalDedupWindow: 5 * time.Minute,
		MaxSignalsPerMinute: 3,
		MinOrderInterval: 30 * time.Second,
		StandardCooldown: 10 * time.Minute,
		PositionSizeMultiplier: 1.0,
		ManagedExitInterval: 5 * time.Second,
		MinStopLossPct: 0.001,
		SLTriggerFactor: 0.9,
		TPTriggerFactor: 1.15,
	}
}

type signalFingerprint struct {
	Action string
	Price float64
	Confidence float64
	Reason string
	At time.Time
}

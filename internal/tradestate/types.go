// Package tradestate defines the shared cycle object that flows through the
// trading orchestrator and its persisted trace projection, plus the
// decision-layer data types (Signal, RiskAssessment, Trade) that the
// execution engine and orchestrator pass between each other.
package tradestate

import "time"

// Step enumerates CycleState.currentStep. Monotone along the pipeline.
type Step string

const (
	StepInit Step = "INIT"
	StepMarketData Step = "MARKET_DATA"
	StepPatternRecall Step = "PATTERN_RECALL"
	StepStrategyIdeation Step = "STRATEGY_IDEATION"
	StepBacktester Step = "BACKTESTER"
	StepStrategySelector Step = "STRATEGY_SELECTOR"
	StepRiskGate Step = "RISK_GATE"
	StepExecution Step = "EXECUTION"
	StepLearning Step = "LEARNING"
	StepDone Step = "DONE"
	StepError Step = "ERROR"
	StepSkippedCircuitBreaker Step = "SKIPPED_CIRCUIT_BREAKER"
)

// stepOrder gives each step's position for monotonicity checks.
var stepOrder = map[Step]int{
	StepInit: 0, StepMarketData: 1, StepPatternRecall: 2, StepStrategyIdeation: 3,
	StepBacktester: 4, StepStrategySelector: 5, StepRiskGate: 6,
	StepExecution: 7, StepLearning: 8, StepDone: 9,
	StepError: 100, StepSkippedCircuitBreaker: 100,
}

// Regime enumerates the market regime classification.
type Regime string

const (
	RegimeTrendingUp Regime = "TRENDING_UP"
	RegimeTrendingDown Regime = "TRENDING_DOWN"
	RegimeRanging Regime = "RANGING"
	RegimeVolatile Regime = "VOLATILE"
	RegimeUnknown Regime = "UNKNOWN"
)

// Action is a signal's trade direction.
type Action string

const (
	ActionBuy Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// SignalType distinguishes MARKET from LIMIT intents.
type SignalType string

const (
	SignalMarket SignalType = "MARKET"
	SignalLimit SignalType = "LIMIT"
)

// Signal is the order-intent a strategy produces for the risk gate.
type Signal struct {
	ID string
	StrategyID string
	Symbol string
	Action Action
	Size float64
	Price float64
	Type SignalType
	Confidence float64
	Reason string
	Timestamp time.Time
}

// RiskAssessment is the risk gate's verdict on a Signal. An exit intent is
// encoded by StopLoss==0 && TakeProfit==0, or by a warning containing "exit".
type RiskAssessment struct {
	Approved bool
	SuggestedSize float64
	RiskScore float64
	Warnings []string
	StopLoss float64 // fractional
	TakeProfit float64 // fractional
	Leverage float64
}

// IsExitIntent reports whether this assessment encodes an exit rather than
// an entry.
func (r RiskAssessment) IsExitIntent() bool {
	if r.StopLoss == 0 && r.TakeProfit == 0 {
		return true
	}
	for _, w := range r.Warnings {
		if containsCI(w, "exit") {
			return true
		}
	}
	return false
}

func containsCI(s, sub string) bool {
	ls, lsub := []rune(s), []rune(sub)
	n, m := len(ls), len(lsub)
	for i := 0; i+m <= n; i++ {
		ok := true
		for j := 0; j < m; j++ {
			a, b := ls[i+j], lsub[j]
			if a >= 'A' && a <= 'Z' {
				a += 'a' - 'A'
			}
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// TradeStatus is a Trade's lifecycle status.
type TradeStatus string

const (
	TradeFilled TradeStatus = "FILLED"
	TradePartial TradeStatus = "PARTIAL"
	TradeCancelled TradeStatus = "CANCELLED"
)

// EntryExit distinguishes an entry fill from an exit fill.
type EntryExit string

const (
	Entry EntryExit = "ENTRY"
	Exit EntryExit = "EXIT"
)

// Trade is a filled or partially filled order.
type Trade struct {
	ID string
	StrategyID string
	Symbol string
	Side string
	Size float64
	Price float64
	Fee float64
	PnL float64
	Timestamp time.Time
	Type SignalType
	Status TradeStatus
	EntryExit EntryExit
}

// ExecutionResult is the outcome the execution engine attaches to a CycleState once a signal
// has been routed through executeSignal.
type ExecutionResult struct {
	Status TradeStatus
	Trade *Trade
	Reason string
	Err error
}

// ManagedExitPlan is the stop-loss/take-profit plan attached to an open
// position, exclusively owned by the execution engine.
type ManagedExitPlan struct {
	Symbol string
	Side string // LONG | SHORT
	EntryPrice float64
	StopLossPct float64
	TakeProfitPct float64
	CreatedAt time.Time
}

// Portfolio is a point-in-time snapshot returned by the execution engine's
// GetPortfolio.
type Portfolio struct {
	Equity float64
	MarginUsed float64
	RealizedPnL float64
	Positions []Position
}

// Position mirrors exchange.Position (duplicated from
// internal/exchange.Position to keep tradestate free of an exchange
// dependency; the execution engine's GetPortfolio converts between them).
type Position struct {
	Symbol string
	Side string
	Size float64
	EntryPrice float64
	MarkPrice float64
	UnrealizedPnL float64
	Leverage float64
	MarginUsed float64
}

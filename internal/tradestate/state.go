package tradestate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CycleState is the shared object flowing through the orchestrator for
// one full traversal of the trading pipeline. Ownership: constructed by the orchestrator
// at cycle start, exclusively mutated by stage functions in declared order,
// destroyed at cycle end after persistence.
type CycleState struct {
	// Identity.
	CycleID string
	CycleStartTime time.Time
	CurrentStep Step

	// Inputs.
	Symbol string
	Timeframe string

	// Derived.
	Candles []Candle
	Indicators any
	Regime *Regime

	// Pattern recall.
	SimilarPatterns []string
	PatternBias float64
	PatternAvgReturn float64

	// Strategy.
	StrategyIdeas []StrategyIdea
	BacktestResults []BacktestResult
	SelectedStrategy *StrategyIdea

	// Decision.
	Signal *Signal
	RiskAssessment *RiskAssessment
	ExecutionResult *ExecutionResult

	// Control.
	ShouldExecute bool
	ShouldLearn bool

	// Audit.
	Thoughts []string
	Errors []string
	Portfolio *Portfolio
}

// Candle is a single OHLCV bar, duplicated from internal/market.Candle to
// keep tradestate free of a market-package dependency.
type Candle struct {
	OpenTime time.Time
	Open float64
	High float64
	Low float64
	Close float64
	Volume float64
}

// StrategyIdea is one candidate strategy produced by the ideation stage.
type StrategyIdea struct {
	StrategyID string
	Params map[string]any
	Rationale string
}

// BacktestResult is the backtester stage's evaluation of one StrategyIdea.
type BacktestResult struct {
	StrategyID string
	WinRate float64
	ExpectancyR float64
	SampleSize int
}

// New constructs a fresh CycleState at INIT for a (symbol, timeframe) pair.
func New(symbol, timeframe string) *CycleState {
	return &CycleState{
		CycleID: uuid.NewString(),
		CycleStartTime: time.Now(),
		CurrentStep: StepInit,
		Symbol: symbol,
		Timeframe: timeframe,
	}
}

// Advance moves CurrentStep forward, enforcing "currentStep is
// monotone along the pipeline" invariant. ERROR and SKIPPED_CIRCUIT_BREAKER
// are terminal and always permitted.
func (s *CycleState) Advance(next Step) error {
	if next == StepError || next == StepSkippedCircuitBreaker {
		s.CurrentStep = next
		return nil
	}
	if stepOrder[next] < stepOrder[s.CurrentStep] {
		return fmt.Errorf("tradestate: non-monotone step transition %s -> %s", s.CurrentStep, next)
	}
	s.CurrentStep = next
	return nil
}

// AddThought appends to the audit trail. Append-only.
func (s *CycleState) AddThought(msg string) {
	s.Thoughts = append(s.Thoughts, msg)
}

// AddError appends to the error trail. Append-only.
func (s *CycleState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// SetExecutionResult records the execution outcome and enforces the
// invariant that a FILLED result always implies ShouldLearn.
func (s *CycleState) SetExecutionResult(r *ExecutionResult) {
	s.ExecutionResult = r
	if r != nil && r.Status == TradeFilled {
		s.ShouldLearn = true
	}
}

// Merge applies a partial stage result onto s: each non-nil or non-zero
// field of partial overwrites s, zero values leave s unchanged,
// ShouldExecute is OR-ed (a partial can set it but never clear it), and
// Thoughts/Errors are appended.
func (s *CycleState) Merge(partial *CycleState) {
	if partial == nil {
		return
	}
	if partial.Candles != nil {
		s.Candles = partial.Candles
	}
	if partial.Indicators != nil {
		s.Indicators = partial.Indicators
	}
	if partial.Regime != nil {
		s.Regime = partial.Regime
	}
	if partial.SimilarPatterns != nil {
		s.SimilarPatterns = partial.SimilarPatterns
	}
	if partial.PatternBias != 0 {
		s.PatternBias = partial.PatternBias
	}
	if partial.PatternAvgReturn != 0 {
		s.PatternAvgReturn = partial.PatternAvgReturn
	}
	if partial.StrategyIdeas != nil {
		s.StrategyIdeas = partial.StrategyIdeas
	}
	if partial.BacktestResults != nil {
		s.BacktestResults = partial.BacktestResults
	}
	if partial.SelectedStrategy != nil {
		s.SelectedStrategy = partial.SelectedStrategy
	}
	if partial.Signal != nil {
		s.Signal = partial.Signal
	}
	if partial.RiskAssessment != nil {
		s.RiskAssessment = partial.RiskAssessment
	}
	if partial.ExecutionResult != nil {
		s.SetExecutionResult(partial.ExecutionResult)
	}
	if partial.Portfolio != nil {
		s.Portfolio = partial.Portfolio
	}
	s.ShouldExecute = s.ShouldExecute || partial.ShouldExecute
	s.Thoughts = append(s.Thoughts, partial.Thoughts...)
	s.Errors = append(s.Errors, partial.Errors...)
}

package tradestate

import (
	"encoding/json"
	"time"

	"github.com/perpcore/trading-core/internal/persistence"
)

// TraceSummary is the compact, JSON-serializable projection of a CycleState
// persisted to cycle_traces. It keeps the last 20 candles rather than the
// full window to bound row size.
type TraceSummary struct {
	CycleID string `json:"cycleId"`
	Symbol string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	CurrentStep Step `json:"currentStep"`
	Regime *Regime `json:"regime,omitempty"`
	Candles []Candle `json:"candles"`
	StrategyIdeas []StrategyIdea `json:"strategyIdeas,omitempty"`
	BacktestResults []BacktestResult `json:"backtestResults,omitempty"`
	SelectedStrategy *StrategyIdea `json:"selectedStrategy,omitempty"`
	Signal *Signal `json:"signal,omitempty"`
	RiskAssessment *RiskAssessment `json:"riskAssessment,omitempty"`
	ExecutionResult *ExecutionResult `json:"executionResult,omitempty"`
	Thoughts []string `json:"thoughts"`
	Errors []string `json:"errors"`
	StartedAt time.Time `json:"startedAt"`
}

const maxTraceCandles = 20

// Summarize projects a CycleState into its persisted trace form.
func Summarize(s *CycleState) TraceSummary {
	candles := s.Candles
	if len(candles) > maxTraceCandles {
		candles = candles[len(candles)-maxTraceCandles:]
	}
	return TraceSummary{
		CycleID: s.CycleID,
		Symbol: s.Symbol,
		Timeframe: s.Timeframe,
		CurrentStep: s.CurrentStep,
		Regime: s.Regime,
		Candles: candles,
		StrategyIdeas: s.StrategyIdeas,
		BacktestResults: s.BacktestResults,
		SelectedStrategy: s.SelectedStrategy,
		Signal: s.Signal,
		RiskAssessment: s.RiskAssessment,
		ExecutionResult: s.ExecutionResult,
		Thoughts: s.Thoughts,
		Errors: s.Errors,
		StartedAt: s.CycleStartTime,
	}
}

// TraceWriter persists a cycle's trace and AI-insight thoughts via a batch
// writer, mirroring internal/persistence's buffered write idiom rather than
// issuing a synchronous insert per cycle.
type TraceWriter struct {
	bw *persistence.BatchWriter
}

func NewTraceWriter(bw *persistence.BatchWriter) *TraceWriter {
	return &TraceWriter{bw: bw}
}

// Write enqueues the cycle's trace and thoughts for the next batch flush.
// Marshal errors are swallowed to a best-effort empty payload: a cycle
// trace is diagnostic, never load-bearing for trading decisions.
func (w *TraceWriter) Write(s *CycleState) {
	if w == nil || w.bw == nil || s == nil {
		return
	}
	summary := Summarize(s)
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		summaryJSON = []byte("{}")
	}

	regime := ""
	if s.Regime != nil {
		regime = string(*s.Regime)
	}
	w.bw.WriteQuery(`
		INSERT INTO cycle_traces (cycle_id, symbol, timeframe, current_step, regime, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cycle_id) DO UPDATE SET
			current_step = excluded.current_step,
			regime = excluded.regime,
			summary = excluded.summary
	`, s.CycleID, s.Symbol, s.Timeframe, string(s.CurrentStep), regime, string(summaryJSON), s.CycleStartTime)

	if len(s.Thoughts) == 0 {
		return
	}
	thoughtsJSON, err := json.Marshal(s.Thoughts)
	if err != nil {
		return
	}
	w.bw.WriteQuery(`
		INSERT INTO ai_insights (id, cycle_id, symbol, thoughts, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.CycleID+":insight", s.CycleID, s.Symbol, string(thoughtsJSON), time.Now())
}

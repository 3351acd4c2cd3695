package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/perpcore/trading-core/internal/risk"
	"github.com/perpcore/trading-core/internal/tradestate"
	"github.com/perpcore/trading-core/pkg/db"
)

// stageMarketData fetches the candle window and updates the indicator
// engine, then classifies the market regime off the indicator spread and
// recent volatility.
func (o *Orchestrator) stageMarketData(ctx context.Context, s *tradestate.CycleState) (*tradestate.CycleState, error) {
	raw, err := o.exchangeClient.GetCandles(ctx, s.Symbol, s.Timeframe, o.cfg.CandleLimit)
	if err != nil {
		return nil, fmt.Errorf("market data: %w", err)
	}
	candles := make([]tradestate.Candle, 0, len(raw))
	for _, c := range raw {
		candles = append(candles, tradestate.Candle{
			OpenTime: c.OpenTime, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume,
		})
	}

	partial := &tradestate.CycleState{Candles: candles}
	if len(candles) == 0 {
		partial.AddThought("no candles returned")
		return partial, nil
	}

	ind := o.indicators.Update(s.Symbol, candles[len(candles)-1].Close)
	partial.Indicators = ind

	regime := classifyRegime(candles, ind)
	partial.Regime = &regime
	partial.AddThought(fmt.Sprintf("fetched %d candles, regime=%s", len(candles), regime))
	return partial, nil
}

// classifyRegime buckets the window into TRENDING_UP/DOWN, RANGING, or
// VOLATILE using the indicator engine's short/long SMA spread and the
// window's realized volatility, grounded on internal/strategy/bollinger.go's
// standard-deviation calculation.
func classifyRegime(candles []tradestate.Candle, ind map[string]float64) tradestate.Regime {
	if len(candles) < 2 {
		return tradestate.RegimeUnknown
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	mean := 0.0
	for _, c := range closes {
		mean += c
	}
	mean /= float64(len(closes))
	variance := 0.0
	for _, c := range closes {
		d := c - mean
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(len(closes)))
	volatility := 0.0
	if mean > 0 {
		volatility = stdDev / mean
	}

	if volatility > 0.03 {
		return tradestate.RegimeVolatile
	}

	shortMA, hasShort := ind["sma_short"]
	longMA, hasLong := ind["sma_long"]
	if hasShort && hasLong && longMA > 0 {
		spread := (shortMA - longMA) / longMA
		switch {
		case spread > 0.002:
			return tradestate.RegimeTrendingUp
		case spread < -0.002:
			return tradestate.RegimeTrendingDown
		}
	}
	return tradestate.RegimeRanging
}

// stagePatternRecall records the win fraction (PatternBias) and average
// realized PnL of the symbol's recent trades on the cycle state. No later
// stage reads these values.
func (o *Orchestrator) stagePatternRecall(ctx context.Context, s *tradestate.CycleState) (*tradestate.CycleState, error) {
	partial := &tradestate.CycleState{}
	if o.database == nil {
		return partial, nil
	}
	pnls, err := o.database.RecentTradePnLs(ctx, s.Symbol, 20)
	if err != nil {
		partial.AddThought("pattern recall: no trade history available")
		return partial, nil
	}
	if len(pnls) == 0 {
		partial.AddThought("pattern recall: no prior trades for symbol")
		return partial, nil
	}
	wins := 0
	sum := 0.0
	ids := make([]string, 0, len(pnls))
	for i, p := range pnls {
		sum += p
		if p > 0 {
			wins++
		}
		ids = append(ids, fmt.Sprintf("%s#%d", s.Symbol, i))
	}
	partial.SimilarPatterns = ids
	partial.PatternBias = float64(wins) / float64(len(pnls))
	partial.PatternAvgReturn = sum / float64(len(pnls))
	partial.AddThought(fmt.Sprintf("pattern recall: %d prior trades, bias=%.2f avgPnL=%.4f", len(pnls), partial.PatternBias, partial.PatternAvgReturn))
	return partial, nil
}

// stageStrategyIdeation proposes the fixed candidate pool for the current
// regime.
func (o *Orchestrator) stageStrategyIdeation(ctx context.Context, s *tradestate.CycleState) (*tradestate.CycleState, error) {
	regime := tradestate.RegimeUnknown
	if s.Regime != nil {
		regime = *s.Regime
	}
	ideas := candidateIdeas(regime)
	return &tradestate.CycleState{
		StrategyIdeas: ideas,
		Thoughts:      []string{fmt.Sprintf("proposed %d strategy ideas for regime %s", len(ideas), regime)},
	}, nil
}

// stageBacktester replays every candidate idea over the cycle's candle
// window and scores it.
func (o *Orchestrator) stageBacktester(ctx context.Context, s *tradestate.CycleState) (*tradestate.CycleState, error) {
	results := make([]tradestate.BacktestResult, 0, len(s.StrategyIdeas))
	for _, idea := range s.StrategyIdeas {
		st, err := buildStrategy(idea, s.Symbol, s.Candles)
		if err != nil {
			continue
		}
		rr := replay(st, s.Candles)
		results = append(results, tradestate.BacktestResult{
			StrategyID:  idea.StrategyID,
			WinRate:     rr.winRate(),
			ExpectancyR: rr.expectancyR(),
			SampleSize:  rr.sampleSize(),
		})
	}
	return &tradestate.CycleState{
		BacktestResults: results,
		Thoughts:        []string{fmt.Sprintf("backtested %d ideas", len(results))},
	}, nil
}

const minBacktestSample = 3

// stageStrategySelector picks the highest-scoring backtested idea with
// enough samples to trust, and derives a concrete Signal from its final
// replayed action.
func (o *Orchestrator) stageStrategySelector(ctx context.Context, s *tradestate.CycleState) (*tradestate.CycleState, error) {
	partial := &tradestate.CycleState{}
	if len(s.BacktestResults) == 0 {
		partial.AddThought("strategy selector: no backtest results")
		return partial, nil
	}

	scored := make([]tradestate.BacktestResult, len(s.BacktestResults))
	copy(scored, s.BacktestResults)
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].ExpectancyR*scored[i].WinRate > scored[j].ExpectancyR*scored[j].WinRate
	})

	var chosen *tradestate.BacktestResult
	for i := range scored {
		if scored[i].SampleSize >= minBacktestSample && scored[i].ExpectancyR > 0 {
			chosen = &scored[i]
			break
		}
	}
	if chosen == nil {
		partial.AddThought("strategy selector: no idea cleared the minimum sample/expectancy bar")
		return partial, nil
	}

	var idea *tradestate.StrategyIdea
	for i := range s.StrategyIdeas {
		if s.StrategyIdeas[i].StrategyID == chosen.StrategyID {
			idea = &s.StrategyIdeas[i]
			break
		}
	}
	if idea == nil {
		partial.AddThought("strategy selector: selected strategy idea vanished")
		return partial, nil
	}

	st, err := buildStrategy(*idea, s.Symbol, s.Candles)
	if err != nil {
		partial.AddThought("strategy selector: failed to rebuild chosen strategy")
		return partial, nil
	}
	rr := replay(st, s.Candles)
	if rr.lastSignal == nil || rr.lastSignal.Action == "HOLD" {
		partial.AddThought(fmt.Sprintf("strategy selector: %s has no live signal this cycle", idea.StrategyID))
		return partial, nil
	}

	action := tradestate.ActionBuy
	if rr.lastSignal.Action == "SELL" {
		action = tradestate.ActionSell
	}
	confidence := math.Min(0.5+chosen.WinRate/2, 0.99)

	partial.SelectedStrategy = idea
	partial.Signal = &tradestate.Signal{
		ID:         fmt.Sprintf("%s-%d", idea.StrategyID, time.Now().UnixNano()),
		StrategyID: idea.StrategyID,
		Symbol:     s.Symbol,
		Action:     action,
		Size:       floatParam(idea.Params, "size", 0.01),
		Price:      rr.lastPrice,
		Type:       tradestate.SignalMarket,
		Confidence: confidence,
		Reason:     idea.Rationale,
		Timestamp:  time.Now(),
	}
	partial.ShouldExecute = true
	partial.AddThought(fmt.Sprintf("selected %s: winRate=%.2f expectancyR=%.4f action=%s", idea.StrategyID, chosen.WinRate, chosen.ExpectancyR, action))
	return partial, nil
}

// stageRiskGate evaluates the selected signal through internal/risk.Manager
// and translates its RiskDecision into a tradestate.RiskAssessment.
func (o *Orchestrator) stageRiskGate(ctx context.Context, s *tradestate.CycleState) (*tradestate.CycleState, error) {
	partial := &tradestate.CycleState{}
	if s.Signal == nil {
		partial.AddThought("risk gate: no signal to evaluate")
		return partial, nil
	}

	account, err := o.exchangeClient.GetAccountState(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk gate: fetch account: %w", err)
	}

	var pos risk.Position
	totalExposure := 0.0
	for _, p := range account.Positions {
		totalExposure += math.Abs(p.Size) * p.MarkPrice
		if p.Symbol == s.Symbol {
			pos = risk.Position{
				Symbol: p.Symbol, Side: p.Side, EntryPrice: p.EntryPrice,
				CurrentPrice: p.MarkPrice, Quantity: p.Size,
				Value: math.Abs(p.Size) * p.MarkPrice, UnrealizedPnL: p.UnrealizedPnL,
			}
		}
	}

	signalInput := risk.SignalInput{
		Symbol: s.Signal.Symbol, Action: string(s.Signal.Action),
		Size: s.Signal.Size, Price: s.Signal.Price,
	}
	acct := risk.Account{
		Balance: account.Equity, AvailableBalance: account.Equity - account.MarginUsed,
		LockedBalance: account.MarginUsed, TotalExposure: totalExposure,
	}

	dec := o.riskManager.EvaluateFull(signalInput, pos, acct, s.Signal.StrategyID)

	assessment := &tradestate.RiskAssessment{
		Approved:      dec.Allowed,
		SuggestedSize: dec.AdjustedSize,
	}
	// RiskDecision carries absolute SL/TP prices; RiskAssessment carries
	// them as fractions of the signal price.
	if p := s.Signal.Price; p > 0 && dec.StopLoss > 0 && dec.TakeProfit > 0 {
		assessment.StopLoss = math.Abs(p-dec.StopLoss) / p
		assessment.TakeProfit = math.Abs(dec.TakeProfit-p) / p
	}
	if !dec.Allowed {
		assessment.Warnings = append(assessment.Warnings, dec.Reason)
	}
	if dec.Warning != "" {
		assessment.Warnings = append(assessment.Warnings, dec.Warning)
	}

	partial.RiskAssessment = assessment
	partial.ShouldExecute = dec.Allowed
	partial.AddThought(fmt.Sprintf("risk gate: allowed=%v reason=%q adjustedSize=%.6f", dec.Allowed, dec.Reason, dec.AdjustedSize))
	return partial, nil
}

// stageExecution routes the gated signal through the execution engine.
func (o *Orchestrator) stageExecution(ctx context.Context, s *tradestate.CycleState) (*tradestate.CycleState, error) {
	sig := *s.Signal
	if s.RiskAssessment.SuggestedSize > 0 {
		sig.Size = s.RiskAssessment.SuggestedSize
	}
	result := o.execEngine.ExecuteSignal(ctx, sig, *s.RiskAssessment)
	partial := &tradestate.CycleState{ExecutionResult: &result}
	partial.AddThought(fmt.Sprintf("execution: status=%s reason=%q", result.Status, result.Reason))
	return partial, nil
}

// stageLearning records a compact insight row for the cycle's outcome. This
// is the synchronous pkg/db.CreateAIInsight write path, distinct from the
// batched per-cycle TraceSummary write at cycle end: learning wants the
// outcome visible immediately, trace persistence can lag.
func (o *Orchestrator) stageLearning(ctx context.Context, s *tradestate.CycleState) (*tradestate.CycleState, error) {
	partial := &tradestate.CycleState{}
	if o.database == nil || s.ExecutionResult == nil {
		return partial, nil
	}
	note := fmt.Sprintf("cycle %s learned: strategy=%s status=%s", s.CycleID, s.Signal.StrategyID, s.ExecutionResult.Status)
	err := o.database.CreateAIInsight(ctx, db.AIInsight{
		ID:       fmt.Sprintf("%s:learn", s.CycleID),
		CycleID:  s.CycleID,
		Symbol:   s.Symbol,
		Thoughts: note,
	})
	if err != nil {
		partial.AddThought("learning: failed to persist insight")
		return partial, nil
	}
	partial.AddThought(note)
	return partial, nil
}

// fallback builds the sentinel partial state a degraded stage returns
// instead of aborting the cycle: a thought noting the degradation, nothing
// else merged.
func fallback(stageName string) func(context.Context, error) (any, error) {
	return func(_ context.Context, err error) (any, error) {
		return &tradestate.CycleState{
			Thoughts: []string{fmt.Sprintf("%s degraded: %v", stageName, err)},
		}, nil
	}
}

package orchestrator

import (
	"fmt"

	"github.com/perpcore/trading-core/internal/strategy"
	"github.com/perpcore/trading-core/internal/tradestate"
)

// candidateIdeas returns the fixed pool of strategy ideas the ideation stage
// proposes every cycle: ma_cross, rsi and bollinger always, plus a
// range-bound grid idea when ranging and a momentum (demo) idea when
// volatile. Trending and unknown regimes get only the base three.
func candidateIdeas(regime tradestate.Regime) []tradestate.StrategyIdea {
	ideas := []tradestate.StrategyIdea{
		{StrategyID: "ma_cross", Params: map[string]any{"fast": 10, "slow": 30, "size": 0.01}, Rationale: "golden/death cross over 10/30 SMA"},
		{StrategyID: "rsi", Params: map[string]any{"period": 14, "oversold": 30.0, "overbought": 70.0, "size": 0.01}, Rationale: "RSI(14) overbought/oversold reversion"},
		{StrategyID: "bollinger", Params: map[string]any{"period": 20, "stddev": 2.0, "size": 0.01}, Rationale: "Bollinger(20,2) band breakout"},
	}
	switch regime {
	case tradestate.RegimeRanging:
		ideas = append(ideas, tradestate.StrategyIdea{
			StrategyID: "grid", Params: map[string]any{"size": 0.01}, Rationale: "range-bound grid between recent high/low",
		})
	case tradestate.RegimeVolatile:
		ideas = append(ideas, tradestate.StrategyIdea{
			StrategyID: "demo", Params: map[string]any{"size": 0.01, "threshold": 0.003}, Rationale: "momentum breakout on volatility spike",
		})
	}
	return ideas
}

// buildStrategy instantiates the strategy implementation a StrategyIdea
// names, parameterized for a one-off backtest replay over the cycle's
// candle window rather than a long-lived, tick-driven instance.
func buildStrategy(idea tradestate.StrategyIdea, symbol string, candles []tradestate.Candle) (strategy.Strategy, error) {
	p := idea.Params
	switch idea.StrategyID {
	case "ma_cross":
		return strategy.NewMACrossStrategy(idea.StrategyID, symbol, intParam(p, "fast", 10), intParam(p, "slow", 30), floatParam(p, "size", 0.01)), nil
	case "rsi":
		return strategy.NewRSIStrategy(idea.StrategyID, symbol, intParam(p, "period", 14), floatParam(p, "oversold", 30), floatParam(p, "overbought", 70), floatParam(p, "size", 0.01)), nil
	case "bollinger":
		return strategy.NewBollingerStrategy(idea.StrategyID, symbol, intParam(p, "period", 20), floatParam(p, "stddev", 2.0), floatParam(p, "size", 0.01)), nil
	case "grid":
		lo, hi := candleRange(candles)
		return strategy.NewGridStrategy(idea.StrategyID, symbol, lo, hi, floatParam(p, "size", 0.01)), nil
	case "demo":
		return strategy.NewDemoStrategy(idea.StrategyID, symbol, floatParam(p, "size", 0.01), floatParam(p, "threshold", 0.003)), nil
	default:
		return nil, fmt.Errorf("orchestrator: unknown strategy idea %q", idea.StrategyID)
	}
}

func candleRange(candles []tradestate.Candle) (lo, hi float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	lo, hi = candles[0].Low, candles[0].High
	for _, c := range candles {
		if c.Low < lo {
			lo = c.Low
		}
		if c.High > hi {
			hi = c.High
		}
	}
	return lo, hi
}

func intParam(p map[string]any, key string, def int) int {
	if v, ok := p[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func floatParam(p map[string]any, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// replayResult is the outcome of feeding a strategy every candle close in
// order, tracking a virtual long/short position: BUY closes a short and
// opens a long, SELL closes a long and opens a short. A single-pass
// backtest instead of a live tick stream.
type replayResult struct {
	wins        int
	losses      int
	expectancy  float64 // sum of per-trade return fractions
	lastSignal  *strategy.Signal
	lastPrice   float64
}

func replay(st strategy.Strategy, candles []tradestate.Candle) replayResult {
	var r replayResult
	openSide := ""
	openPrice := 0.0

	for _, c := range candles {
		sig, err := st.OnTick("", c.Close, nil)
		if err != nil || sig == nil {
			continue
		}
		r.lastSignal = sig
		r.lastPrice = c.Close

		switch sig.Action {
		case "BUY":
			if openSide == "SHORT" {
				r.record(openPrice, c.Close, true)
				openSide = ""
			}
			if openSide == "" {
				openSide, openPrice = "LONG", c.Close
			}
		case "SELL":
			if openSide == "LONG" {
				r.record(openPrice, c.Close, false)
				openSide = ""
			}
			if openSide == "" {
				openSide, openPrice = "SHORT", c.Close
			}
		}
	}
	return r
}

func (r *replayResult) record(entry, exit float64, wasShort bool) {
	ret := (exit - entry) / entry
	if wasShort {
		ret = -ret
	}
	r.expectancy += ret
	if ret > 0 {
		r.wins++
	} else {
		r.losses++
	}
}

func (r replayResult) sampleSize() int { return r.wins + r.losses }

func (r replayResult) winRate() float64 {
	if r.sampleSize() == 0 {
		return 0
	}
	return float64(r.wins) / float64(r.sampleSize())
}

func (r replayResult) expectancyR() float64 {
	if r.sampleSize() == 0 {
		return 0
	}
	return r.expectancy / float64(r.sampleSize())
}

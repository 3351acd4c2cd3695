package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/perpcore/trading-core/internal/breaker"
	"github.com/perpcore/trading-core/internal/events"
	"github.com/perpcore/trading-core/internal/exchange"
	"github.com/perpcore/trading-core/internal/execution"
	"github.com/perpcore/trading-core/internal/indicators"
	"github.com/perpcore/trading-core/internal/risk"
	"github.com/perpcore/trading-core/internal/tradestate"
	"github.com/perpcore/trading-core/pkg/db"
)

// Orchestrator drives one trading cycle at a time through the staged
// pipeline, wrapping every stage in the named breaker it owns in the
// registry so a misbehaving stage degrades instead of taking the cycle
// down with it.
type Orchestrator struct {
	cfg            Config
	exchangeClient *exchange.Client
	indicators     *indicators.Engine
	riskManager    *risk.Manager
	execEngine     *execution.Engine
	breakers       *breaker.Registry
	bus            *events.Bus
	database       *db.Database
	trace          *tradestate.TraceWriter

	mu                sync.Mutex
	consecutiveErrors int
}

// New wires an Orchestrator from its already-constructed collaborators
// (the rate limiter, exchange client, risk manager, and execution engine
// are built once at startup and shared across cycles).
func New(cfg Config, client *exchange.Client, ind *indicators.Engine, rm *risk.Manager, exec *execution.Engine, breakers *breaker.Registry, bus *events.Bus, database *db.Database, trace *tradestate.TraceWriter) *Orchestrator {
	for _, name := range []string{
		BreakerExecution, BreakerMarketData, BreakerPatternRecall, BreakerStrategyIdeation,
		BreakerBacktester, BreakerStrategySelector, BreakerRiskGate, BreakerExecutor, BreakerLearning,
	} {
		breakers.Register(name, breaker.DefaultPolicy())
	}
	return &Orchestrator{
		cfg: cfg, exchangeClient: client, indicators: ind, riskManager: rm,
		execEngine: exec, breakers: breakers, bus: bus, database: database, trace: trace,
	}
}

type stageFn func(context.Context, *tradestate.CycleState) (*tradestate.CycleState, error)

// runStage wraps a stage function in its named breaker, merges whatever
// partial state the stage (or its fallback) produced, and surfaces the
// breaker error upward only when even the fallback failed.
func (o *Orchestrator) runStage(ctx context.Context, s *tradestate.CycleState, step tradestate.Step, breakerName string, fn stageFn, critical bool) error {
	result, err := o.breakers.Execute(ctx, breakerName, func(ctx context.Context) (any, error) {
		return fn(ctx, s)
	}, fallback(breakerName))
	if err != nil {
		s.AddError(fmt.Sprintf("%s: %v", breakerName, err))
		if critical {
			return err
		}
		return nil
	}
	if partial, ok := result.(*tradestate.CycleState); ok {
		s.Merge(partial)
	}
	if advErr := s.Advance(step); advErr != nil {
		log.Printf("orchestrator: %v", advErr)
	}
	return nil
}

// RunCycle runs the full pipeline once for (symbol, timeframe) and returns
// the finished CycleState. The execution breaker gates the whole cycle: if
// it is already open, the cycle is abandoned cleanly with no error.
func (o *Orchestrator) RunCycle(ctx context.Context, symbol, timeframe string) *tradestate.CycleState {
	s := tradestate.New(symbol, timeframe)

	if o.breakers.IsOpen(BreakerExecution) {
		s.Advance(tradestate.StepSkippedCircuitBreaker)
		s.AddThought("cycle skipped: execution breaker is open")
		return s
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.CycleTimeout)
	defer cancel()

	o.bus.Publish(events.EventCycleStart, s.CycleID)

	if err := o.runStage(ctx, s, tradestate.StepMarketData, BreakerMarketData, o.stageMarketData, true); err != nil {
		o.onCycleError(s, err)
		return s
	}
	if len(s.Candles) < o.cfg.MinCandles || s.Indicators == nil {
		s.Advance(tradestate.StepDone)
		s.AddThought(fmt.Sprintf("cycle stopped: only %d candles (need %d)", len(s.Candles), o.cfg.MinCandles))
		o.onCycleSuccess()
		o.bus.Publish(events.EventCycleComplete, s.CycleID)
		return s
	}

	if err := o.runStage(ctx, s, tradestate.StepPatternRecall, BreakerPatternRecall, o.stagePatternRecall, false); err != nil {
		o.onCycleError(s, err)
		return s
	}
	if err := o.runStage(ctx, s, tradestate.StepStrategyIdeation, BreakerStrategyIdeation, o.stageStrategyIdeation, false); err != nil {
		o.onCycleError(s, err)
		return s
	}
	if err := o.runStage(ctx, s, tradestate.StepBacktester, BreakerBacktester, o.stageBacktester, false); err != nil {
		o.onCycleError(s, err)
		return s
	}
	if err := o.runStage(ctx, s, tradestate.StepStrategySelector, BreakerStrategySelector, o.stageStrategySelector, false); err != nil {
		o.onCycleError(s, err)
		return s
	}

	if s.Signal != nil {
		if err := o.runStage(ctx, s, tradestate.StepRiskGate, BreakerRiskGate, o.stageRiskGate, true); err != nil {
			o.onCycleError(s, err)
			return s
		}
	}

	shouldExecute := s.ShouldExecute && s.Signal != nil && s.RiskAssessment != nil && s.RiskAssessment.Approved
	if shouldExecute {
		if err := o.runStage(ctx, s, tradestate.StepExecution, BreakerExecutor, o.stageExecution, true); err != nil {
			o.onCycleError(s, err)
			return s
		}
		if s.ShouldLearn {
			if err := o.runStage(ctx, s, tradestate.StepLearning, BreakerLearning, o.stageLearning, false); err != nil {
				o.onCycleError(s, err)
				return s
			}
		}
	} else {
		s.AddThought("cycle stopped: no approved signal to execute this round")
	}

	s.Advance(tradestate.StepDone)
	o.onCycleSuccess()
	if o.trace != nil {
		o.trace.Write(s)
	}
	o.bus.Publish(events.EventCycleComplete, s.CycleID)
	return s
}

func (o *Orchestrator) onCycleError(s *tradestate.CycleState, err error) {
	s.Advance(tradestate.StepError)
	o.mu.Lock()
	o.consecutiveErrors++
	n := o.consecutiveErrors
	o.mu.Unlock()
	if n >= o.cfg.MaxConsecutiveErrors {
		if forceErr := o.breakers.ForceOpen(BreakerExecution); forceErr != nil {
			log.Printf("orchestrator: force-open execution breaker: %v", forceErr)
		}
	}
	if o.bus != nil {
		o.bus.Publish(events.EventCycleError, fmt.Sprintf("%s: %v", s.CycleID, err))
	}
}

func (o *Orchestrator) onCycleSuccess() {
	o.mu.Lock()
	o.consecutiveErrors = 0
	o.mu.Unlock()
}

// GetHealthStatus reports HEALTHY/DEGRADED/CRITICAL off the breaker
// registry's open-breaker fraction.
func (o *Orchestrator) GetHealthStatus() string {
	return o.breakers.HealthSummary()
}

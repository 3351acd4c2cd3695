package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/perpcore/trading-core/internal/breaker"
	"github.com/perpcore/trading-core/internal/tradestate"
)

func newTestOrchestrator() (*Orchestrator, *breaker.Registry) {
	breakers := breaker.New()
	cfg := DefaultConfig()
	cfg.CycleTimeout = time.Second
	o := New(cfg, nil, nil, nil, nil, breakers, nil, nil, nil)
	return o, breakers
}

// New must register every stage breaker plus the cycle-gating execution
// breaker so HealthSummary/AllStatuses reports them from cycle one.
func TestNewRegistersAllBreakers(t *testing.T) {
	_, breakers := newTestOrchestrator()

	want := []string{
		BreakerExecution, BreakerMarketData, BreakerPatternRecall, BreakerStrategyIdeation,
		BreakerBacktester, BreakerStrategySelector, BreakerRiskGate, BreakerExecutor, BreakerLearning,
	}
	statuses := breakers.AllStatuses()
	if len(statuses) != len(want) {
		t.Fatalf("got %d registered breakers, want %d", len(statuses), len(want))
	}
	for _, name := range want {
		if _, ok := breakers.Status(name); !ok {
			t.Errorf("breaker %q not registered", name)
		}
	}
}

// RunCycle must abandon the cycle cleanly, without touching any of its
// (here nil) collaborators, when the execution breaker is already open.
func TestRunCycleSkipsWhenExecutionBreakerOpen(t *testing.T) {
	o, breakers := newTestOrchestrator()
	if err := breakers.ForceOpen(BreakerExecution); err != nil {
		t.Fatalf("ForceOpen: %v", err)
	}

	state := o.RunCycle(context.Background(), "BTC", "1m")

	if state.CurrentStep != tradestate.StepSkippedCircuitBreaker {
		t.Fatalf("CurrentStep = %v, want %v", state.CurrentStep, tradestate.StepSkippedCircuitBreaker)
	}
	if len(state.Thoughts) == 0 {
		t.Fatal("expected a thought explaining the skip")
	}
}

// GetHealthStatus must delegate straight to the breaker registry's own
// fraction-based summary rather than keeping a second copy of that logic.
func TestGetHealthStatusDelegatesToBreakers(t *testing.T) {
	o, breakers := newTestOrchestrator()

	if got := o.GetHealthStatus(); got != breakers.HealthSummary() {
		t.Fatalf("GetHealthStatus() = %q, want %q", got, breakers.HealthSummary())
	}

	if err := breakers.ForceOpen(BreakerMarketData); err != nil {
		t.Fatalf("ForceOpen: %v", err)
	}
	if got := o.GetHealthStatus(); got != breakers.HealthSummary() {
		t.Fatalf("GetHealthStatus() after open = %q, want %q", got, breakers.HealthSummary())
	}
}

// onCycleError force-opens the execution breaker once consecutive failures
// reach MaxConsecutiveErrors, so a persistently broken stage eventually
// stops every future cycle from running at all.
func TestOnCycleErrorForcesBreakerAfterMaxConsecutive(t *testing.T) {
	breakers := breaker.New()
	cfg := DefaultConfig()
	cfg.MaxConsecutiveErrors = 2
	o := New(cfg, nil, nil, nil, nil, breakers, nil, nil, nil)

	s := tradestate.New("BTC", "1m")
	o.onCycleError(s, context.DeadlineExceeded)
	if breakers.IsOpen(BreakerExecution) {
		t.Fatal("execution breaker forced open too early")
	}

	o.onCycleError(s, context.DeadlineExceeded)
	if !breakers.IsOpen(BreakerExecution) {
		t.Fatal("execution breaker not forced open after MaxConsecutiveErrors")
	}
}

// onCycleSuccess resets the consecutive-error counter, so an isolated
// failure followed by a success never contributes toward the force-open
// threshold.
func TestOnCycleSuccessResetsConsecutiveErrors(t *testing.T) {
	breakers := breaker.New()
	cfg := DefaultConfig()
	cfg.MaxConsecutiveErrors = 2
	o := New(cfg, nil, nil, nil, nil, breakers, nil, nil, nil)

	s := tradestate.New("BTC", "1m")
	o.onCycleError(s, context.DeadlineExceeded)
	o.onCycleSuccess()
	o.onCycleError(s, context.DeadlineExceeded)

	if breakers.IsOpen(BreakerExecution) {
		t.Fatal("execution breaker forced open despite the reset between failures")
	}
}

func TestClassifyRegime(t *testing.T) {
	flat := make([]tradestate.Candle, 10)
	for i := range flat {
		flat[i] = tradestate.Candle{Close: 100}
	}

	tests := []struct {
		name    string
		candles []tradestate.Candle
		ind     map[string]float64
		want    tradestate.Regime
	}{
		{"too short", flat[:1], nil, tradestate.RegimeUnknown},
		{"volatile", []tradestate.Candle{{Close: 100}, {Close: 140}, {Close: 80}, {Close: 130}, {Close: 90}}, nil, tradestate.RegimeVolatile},
		{"trending up", flat, map[string]float64{"sma_short": 103, "sma_long": 100}, tradestate.RegimeTrendingUp},
		{"trending down", flat, map[string]float64{"sma_short": 97, "sma_long": 100}, tradestate.RegimeTrendingDown},
		{"ranging, no indicators", flat, nil, tradestate.RegimeRanging},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyRegime(tt.candles, tt.ind); got != tt.want {
				t.Errorf("classifyRegime() = %v, want %v", got, tt.want)
			}
		})
	}
}

// candidateIdeas must propose at least one idea for every regime the
// market-data stage can classify, or strategy ideation silently stalls.
func TestCandidateIdeasNonEmptyForEveryRegime(t *testing.T) {
	regimes := []tradestate.Regime{
		tradestate.RegimeTrendingUp, tradestate.RegimeTrendingDown,
		tradestate.RegimeRanging, tradestate.RegimeVolatile, tradestate.RegimeUnknown,
	}
	for _, regime := range regimes {
		ideas := candidateIdeas(regime)
		if len(ideas) == 0 {
			t.Errorf("candidateIdeas(%v) returned no ideas", regime)
		}
	}
}

package execution

import (
	"testing"
	"time"

	"github.com/perpcore/trading-core/internal/tradestate"
)

func newTestEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, guards: make(map[string]*symbolGuard)}
}

func TestCheckEngineChurnMinConfidence(t *testing.T) {
	e := newTestEngine(Config{MinSignalConfidence: 0.8, MaxSignalsPerMinute: 3})
	g := e.guard("BTC")

	signal := tradestate.Signal{Symbol: "BTC", Action: tradestate.ActionBuy, Confidence: 0.5}
	if reason, ok := e.checkEngineChurn(g, signal); ok || reason != "MIN_CONFIDENCE" {
		t.Fatalf("expected MIN_CONFIDENCE rejection, got reason=%q ok=%v", reason, ok)
	}
}

func TestCheckEngineChurnDuplicateSignal(t *testing.T) {
	e := newTestEngine(Config{MinSignalConfidence: 0.5, SignalDedupWindow: 5 * time.Minute, MaxSignalsPerMinute: 10})
	g := e.guard("ETH")
	g.lastSignal = signalFingerprint{Action: "BUY", Price: 3000, Confidence: 0.8, Reason: "momentum", At: time.Now()}

	signal := tradestate.Signal{Symbol: "ETH", Action: tradestate.ActionBuy, Price: 3005, Confidence: 0.82, Reason: "momentum"}
	if reason, ok := e.checkEngineChurn(g, signal); ok || reason != "DUPLICATE_SIGNAL" {
		t.Fatalf("expected DUPLICATE_SIGNAL rejection, got reason=%q ok=%v", reason, ok)
	}
}

func TestCheckEngineChurnAllowsDistinctSignal(t *testing.T) {
	e := newTestEngine(Config{MinSignalConfidence: 0.5, SignalDedupWindow: 5 * time.Minute, MaxSignalsPerMinute: 10})
	g := e.guard("ETH")
	g.lastSignal = signalFingerprint{Action: "BUY", Price: 3000, Confidence: 0.8, Reason: "momentum", At: time.Now()}

	// Price moved more than 0.5% and the reason differs, so neither duplicate
	// condition holds despite the same action and confidence.
	signal := tradestate.Signal{Symbol: "ETH", Action: tradestate.ActionBuy, Price: 3100, Confidence: 0.8, Reason: "breakout"}
	if _, ok := e.checkEngineChurn(g, signal); !ok {
		t.Fatal("expected distinct signal (large price move) to be admitted")
	}
}

func TestCheckEngineChurnRateLimit(t *testing.T) {
	e := newTestEngine(Config{MinSignalConfidence: 0.5, SignalDedupWindow: time.Minute, MaxSignalsPerMinute: 2})
	g := e.guard("SOL")

	for i := 0; i < 2; i++ {
		signal := tradestate.Signal{Symbol: "SOL", Action: tradestate.ActionBuy, Price: float64(100 + i*10), Confidence: 0.9}
		if _, ok := e.checkEngineChurn(g, signal); !ok {
			t.Fatalf("signal %d unexpectedly rejected", i)
		}
	}
	signal := tradestate.Signal{Symbol: "SOL", Action: tradestate.ActionBuy, Price: 500, Confidence: 0.9}
	if reason, ok := e.checkEngineChurn(g, signal); ok || reason != "RATE_LIMIT" {
		t.Fatalf("expected RATE_LIMIT rejection on third signal within a minute, got reason=%q ok=%v", reason, ok)
	}
}

func TestCheckEngineChurnCooldown(t *testing.T) {
	e := newTestEngine(Config{MinSignalConfidence: 0.5, MinOrderInterval: 30 * time.Second, StandardCooldown: 10 * time.Minute, MaxSignalsPerMinute: 10})
	g := e.guard("BTC")
	g.lastOrderAt = time.Now().Add(-1 * time.Minute)

	signal := tradestate.Signal{Symbol: "BTC", Action: tradestate.ActionBuy, Confidence: 0.9}
	if reason, ok := e.checkEngineChurn(g, signal); ok || reason != "COOLDOWN_STANDARD" {
		t.Fatalf("expected COOLDOWN_STANDARD rejection, got reason=%q ok=%v", reason, ok)
	}
}

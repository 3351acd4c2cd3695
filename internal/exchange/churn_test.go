package exchange

import (
	"testing"
	"time"
)

func newTestClient(cfg Config) *Client {
	return &Client{cfg: cfg, symbols: newActors()}
}

func TestChurnGuardMinOrderInterval(t *testing.T) {
	c := newTestClient(Config{MinOrderInterval: 30 * time.Second, StandardCooldown: time.Minute})
	actor := c.symbols.get("BTC")
	actor.lastOrderTime = time.Now().Add(-5 * time.Second)

	if reason, ok := c.checkChurnGuards(actor, OrderParams{Symbol: "BTC"}); ok || reason != "COOLDOWN_MIN_INTERVAL" {
		t.Fatalf("expected COOLDOWN_MIN_INTERVAL rejection, got reason=%q ok=%v", reason, ok)
	}
}

func TestChurnGuardMinConfidence(t *testing.T) {
	c := newTestClient(Config{MinSignalConfidence: 0.80})
	actor := c.symbols.get("ETH")

	if reason, ok := c.checkChurnGuards(actor, OrderParams{Symbol: "ETH", Confidence: 0.5}); ok || reason != "MIN_CONFIDENCE" {
		t.Fatalf("expected MIN_CONFIDENCE rejection, got reason=%q ok=%v", reason, ok)
	}
	if _, ok := c.checkChurnGuards(actor, OrderParams{Symbol: "ETH", Confidence: 0.80}); !ok {
		t.Fatal("confidence exactly at threshold must be accepted")
	}
}

func TestChurnGuardCriticalFillRate(t *testing.T) {
	c := newTestClient(Config{FillRateWarmup: 5, MinFillRate: 0.05})
	actor := c.symbols.get("SOL")
	actor.stats = FillStats{Submitted: 10, Filled: 0, Failed: 10}

	if reason, ok := c.checkChurnGuards(actor, OrderParams{Symbol: "SOL"}); ok || reason != "CHURN_PREVENTION" {
		t.Fatalf("expected CHURN_PREVENTION, got reason=%q ok=%v", reason, ok)
	}
}

func TestChurnGuardExtendedCooldownEscalates(t *testing.T) {
	c := newTestClient(Config{
		MinOrderInterval:      time.Second,
		StandardCooldown:      10 * time.Minute,
		ChurnFailureThreshold: 3,
		ExtendedCooldownCap:   5 * time.Minute,
	})
	actor := c.symbols.get("SOL")
	actor.consecutiveFails = 3
	actor.lastOrderTime = time.Now().Add(-11 * time.Minute)

	// at 3 consecutive fails (== threshold), extended = standard * 2^0 = 10 minutes,
	// capped at 5 minutes, so total required wait is 15 minutes; 11 minutes since
	// last order is not enough.
	if reason, ok := c.checkChurnGuards(actor, OrderParams{Symbol: "SOL"}); ok || reason != "COOLDOWN_STANDARD" {
		t.Fatalf("expected escalated COOLDOWN_STANDARD rejection, got reason=%q ok=%v", reason, ok)
	}
}

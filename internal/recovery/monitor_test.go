package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/perpcore/trading-core/internal/tradestate"
)

func newTestMonitor(cfg Config) *Monitor {
	return &Monitor{
		cfg:       cfg,
		attempts:  make(map[attemptKey]int),
		lastAlert: make(map[alertKey]time.Time),
	}
}

func TestClassifyOrphaned(t *testing.T) {
	m := newTestMonitor(DefaultConfig())
	pos := tradestate.Position{Symbol: "BTC", Side: "LONG", Size: 1, EntryPrice: 50000, MarkPrice: 50000}

	issue := m.classify(context.Background(), pos, map[string]bool{})
	if issue == nil || issue.Kind != IssueOrphaned {
		t.Fatalf("expected ORPHANED issue, got %+v", issue)
	}
}

func TestClassifyExcessiveLoss(t *testing.T) {
	m := newTestMonitor(DefaultConfig())
	pos := tradestate.Position{
		Symbol: "ETH", Side: "LONG", Size: 1, EntryPrice: 3000,
		MarkPrice: 2400, UnrealizedPnL: -600, // -20% of notional
	}

	issue := m.classify(context.Background(), pos, map[string]bool{"ETH": true})
	if issue == nil || issue.Kind != IssueExcessiveLoss {
		t.Fatalf("expected EXCESSIVE_LOSS issue, got %+v", issue)
	}
	if issue.Priority != PriorityCritical {
		t.Fatalf("expected CRITICAL priority, got %s", issue.Priority)
	}
}

func TestClassifyExcessiveLeverage(t *testing.T) {
	m := newTestMonitor(DefaultConfig())
	pos := tradestate.Position{
		Symbol: "SOL", Side: "LONG", Size: 1, EntryPrice: 100,
		MarkPrice: 100, UnrealizedPnL: 0, Leverage: 75,
	}

	issue := m.classify(context.Background(), pos, map[string]bool{"SOL": true})
	if issue == nil || issue.Kind != IssueExcessiveLeverage {
		t.Fatalf("expected EXCESSIVE_LEVERAGE issue, got %+v", issue)
	}
}

func TestClassifyHealthyPositionNoIssue(t *testing.T) {
	m := newTestMonitor(DefaultConfig())
	pos := tradestate.Position{
		Symbol: "BTC", Side: "LONG", Size: 1, EntryPrice: 50000,
		MarkPrice: 50500, UnrealizedPnL: 500, Leverage: 3,
	}

	if issue := m.classify(context.Background(), pos, map[string]bool{"BTC": true}); issue != nil {
		t.Fatalf("expected no issue for a healthy position, got %+v", issue)
	}
}

func TestAlertDedup(t *testing.T) {
	m := newTestMonitor(DefaultConfig())
	issue := PositionIssue{Symbol: "BTC", Kind: IssueOrphaned}

	m.alert(issue)
	key := alertKey{Symbol: "BTC", Reason: string(IssueOrphaned)}
	first := m.lastAlert[key]

	m.alert(issue)
	if m.lastAlert[key] != first {
		t.Fatal("expected second alert within dedup window to be suppressed")
	}
}

func TestQueueRespectsMaxAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRecoveryAttempts = 1
	m := newTestMonitor(cfg)
	issue := PositionIssue{Symbol: "BTC", Side: "LONG", Action: ActionClose}

	m.queue(issue)
	m.queue(issue)

	if len(m.batchClose) != 1 {
		t.Fatalf("expected exactly one queued action after hitting max attempts, got %d", len(m.batchClose))
	}
}

package recovery

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/perpcore/trading-core/internal/events"
	"github.com/perpcore/trading-core/internal/execution"
	"github.com/perpcore/trading-core/internal/tradestate"
	"github.com/perpcore/trading-core/pkg/db"
)

type attemptKey struct {
	Symbol string
	Side   string
}

type alertKey struct {
	Symbol string
	Reason string
}

// Monitor is the position-recovery monitor. It scans positions on a
// fixed tick, classifies issues, and batches remediation actions through
// the execution engine.
type Monitor struct {
	cfg    Config
	engine *execution.Engine
	db     *db.Database
	bus    *events.Bus

	mu         sync.Mutex
	attempts   map[attemptKey]int
	lastAlert  map[alertKey]time.Time
	batchClose []PositionIssue
	batchReduce []PositionIssue
	current    []PositionIssue

	cacheMu       sync.Mutex
	cachedAt      time.Time
	cachedActive  map[string]bool
}

func New(cfg Config, engine *execution.Engine, database *db.Database, bus *events.Bus) *Monitor {
	return &Monitor{
		cfg:       cfg,
		engine:    engine,
		db:        database,
		bus:       bus,
		attempts:  make(map[attemptKey]int),
		lastAlert: make(map[alertKey]time.Time),
	}
}

// Run ticks the scanner at cfg.ScanInterval and the batch flusher at
// cfg.BatchInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	scanTicker := time.NewTicker(m.cfg.ScanInterval)
	defer scanTicker.Stop()
	flushTicker := time.NewTicker(m.cfg.BatchInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scanTicker.C:
			m.scan(ctx)
		case <-flushTicker.C:
			m.flushBatches(ctx)
		}
	}
}

func (m *Monitor) activeStrategySymbols(ctx context.Context) map[string]bool {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if time.Since(m.cachedAt) < m.cfg.CacheTTL && m.cachedActive != nil {
		return m.cachedActive
	}
	if m.db == nil {
		return map[string]bool{}
	}
	active, err := m.db.ListActiveStrategySymbols(ctx)
	if err != nil {
		log.Printf("recovery: failed to list active strategy symbols: %v", err)
		return m.cachedActive
	}
	m.cachedActive = active
	m.cachedAt = time.Now()
	return active
}

func (m *Monitor) scan(ctx context.Context) {
	positions, err := m.engine.GetPositions(ctx)
	if err != nil {
		log.Printf("recovery: failed to fetch positions: %v", err)
		return
	}
	active := m.activeStrategySymbols(ctx)

	found := make([]PositionIssue, 0, len(positions))
	for _, p := range positions {
		issue := m.classify(ctx, p, active)
		if issue == nil {
			continue
		}
		found = append(found, *issue)
		m.alert(*issue)
		m.queue(*issue)
	}

	m.mu.Lock()
	m.current = found
	m.mu.Unlock()
}

// Snapshot returns the issues found on the most recent scan, for the
// GET /api/position-recovery read endpoint.
func (m *Monitor) Snapshot() []PositionIssue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PositionIssue, len(m.current))
	copy(out, m.current)
	return out
}

func (m *Monitor) classify(ctx context.Context, p tradestate.Position, active map[string]bool) *PositionIssue {
	now := time.Now()

	if !active[p.Symbol] {
		return &PositionIssue{
			Symbol: p.Symbol, Side: p.Side, Kind: IssueOrphaned,
			Action: ActionClose, Priority: PriorityHigh,
			Reason: "no active strategy references this symbol", At: now,
		}
	}

	notional := math.Abs(p.Size) * p.EntryPrice
	if notional > 0 && p.UnrealizedPnL/notional < m.cfg.ExcessiveLossPct {
		return &PositionIssue{
			Symbol: p.Symbol, Side: p.Side, Kind: IssueExcessiveLoss,
			Action: ActionClose, Priority: PriorityCritical,
			Reason: "unrealized loss exceeds threshold", At: now,
		}
	}

	if p.Leverage > m.cfg.ExcessiveLeverageMax {
		return &PositionIssue{
			Symbol: p.Symbol, Side: p.Side, Kind: IssueExcessiveLeverage,
			Action: ActionReduce, Priority: PriorityHigh,
			Reason: "leverage above configured ceiling", At: now,
		}
	}

	if m.db != nil {
		prices, err := m.db.RecentTradePrices(ctx, p.Symbol, m.cfg.StuckTradeCount)
		if err == nil && len(prices) >= m.cfg.StuckTradeCount {
			lo, hi := prices[0], prices[0]
			for _, pr := range prices {
				if pr < lo {
					lo = pr
				}
				if pr > hi {
					hi = pr
				}
			}
			if hi > 0 && (hi-lo)/hi < m.cfg.StuckRangePct {
				action := ActionReduce
				if p.Side == "SHORT" {
					action = ActionClose
				}
				return &PositionIssue{
					Symbol: p.Symbol, Side: p.Side, Kind: IssueStuck,
					Action: action, Priority: PriorityMedium,
					Reason: "last trades show negligible price movement", At: now,
				}
			}
		}

		last, err := m.db.LastTradeAt(ctx, p.Symbol)
		if err == nil && last.Valid && now.Sub(last.Time) > m.cfg.StaleAge {
			return &PositionIssue{
				Symbol: p.Symbol, Side: p.Side, Kind: IssueStale,
				Action: ActionWait, Priority: PriorityLow,
				Reason: "no recent trade activity", At: now,
			}
		}
	}

	return nil
}

func (m *Monitor) alert(issue PositionIssue) {
	key := alertKey{Symbol: issue.Symbol, Reason: string(issue.Kind)}
	m.mu.Lock()
	last, seen := m.lastAlert[key]
	if seen && time.Since(last) < m.cfg.AlertDedupWindow {
		m.mu.Unlock()
		return
	}
	m.lastAlert[key] = time.Now()
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.EventRiskAlert, issue)
	}
}

func (m *Monitor) queue(issue PositionIssue) {
	key := attemptKey{Symbol: issue.Symbol, Side: issue.Side}
	m.mu.Lock()
	if m.attempts[key] >= m.cfg.MaxRecoveryAttempts {
		m.mu.Unlock()
		return
	}
	m.attempts[key]++
	switch issue.Action {
	case ActionClose:
		m.batchClose = append(m.batchClose, issue)
	case ActionReduce:
		m.batchReduce = append(m.batchReduce, issue)
	}
	m.mu.Unlock()
}

func (m *Monitor) flushBatches(ctx context.Context) {
	m.mu.Lock()
	closes := m.batchClose
	reduces := m.batchReduce
	m.batchClose = nil
	m.batchReduce = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, issue := range closes {
		wg.Add(1)
		go func(iss PositionIssue) {
			defer wg.Done()
			m.executeRecovery(ctx, iss, 1.0)
		}(issue)
	}
	for _, issue := range reduces {
		wg.Add(1)
		go func(iss PositionIssue) {
			defer wg.Done()
			m.executeRecovery(ctx, iss, 0.5)
		}(issue)
	}
	wg.Wait()
}

// executeRecovery synthesizes a reduce-only exit signal sized at fraction
// of the held position and routes it through the execution engine.
func (m *Monitor) executeRecovery(ctx context.Context, issue PositionIssue, fraction float64) {
	positions, err := m.engine.GetPositions(ctx)
	if err != nil {
		log.Printf("recovery: failed to refresh positions before acting on %s: %v", issue.Symbol, err)
		return
	}
	var held *tradestate.Position
	for i := range positions {
		if positions[i].Symbol == issue.Symbol {
			held = &positions[i]
			break
		}
	}
	if held == nil {
		return
	}

	action := tradestate.ActionSell
	if held.Side == "SHORT" {
		action = tradestate.ActionBuy
	}

	signal := tradestate.Signal{
		StrategyID: "position-recovery",
		Symbol:     issue.Symbol,
		Action:     action,
		Size:       math.Abs(held.Size) * fraction,
		Confidence: 1.0,
		Reason:     string(issue.Kind),
		Timestamp:  time.Now(),
	}
	result := m.engine.ExecuteSignal(ctx, signal, tradestate.RiskAssessment{Approved: true})
	if result.Err != nil {
		log.Printf("recovery: action %s on %s failed: %v", issue.Action, issue.Symbol, result.Err)
	}
}

// EmergencyCloseAll closes every held position in parallel.
func (m *Monitor) EmergencyCloseAll(ctx context.Context) error {
	return m.engine.EmergencyStop(ctx)
}

// RecoverPosition is the manual /api/position-recovery/recover operation.
func (m *Monitor) RecoverPosition(ctx context.Context, symbol, side string, action Action) error {
	if action == "" {
		action = ActionClose
	}
	fraction := 1.0
	if action == ActionReduce {
		fraction = 0.5
	}
	m.executeRecovery(ctx, PositionIssue{Symbol: symbol, Side: side, Action: action, Kind: "MANUAL"}, fraction)
	return nil
}

// ResetRecoveryAttempts clears the attempt counter for a {symbol,side} pair.
func (m *Monitor) ResetRecoveryAttempts(symbol, side string) {
	m.mu.Lock()
	delete(m.attempts, attemptKey{Symbol: symbol, Side: side})
	m.mu.Unlock()
}

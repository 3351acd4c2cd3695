package execution

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perpcore/trading-core/internal/events"
	"github.com/perpcore/trading-core/internal/exchange"
	"github.com/perpcore/trading-core/internal/tradestate"
	"github.com/perpcore/trading-core/pkg/db"
)

// symbolGuard is the engine's own per-symbol churn state, distinct from the
// exchange client's
// symbol actor: it tracks signal admission, not order submission.
type symbolGuard struct {
	mu sync.Mutex
	lastSignal signalFingerprint
	signalTimes []time.Time
	lastOrderAt time.Time
	exitPlan *tradestate.ManagedExitPlan
	exitBusy bool
}

// Engine is the execution engine: admits signals, enforces engine-level
// churn guards, calls the exchange client to place orders, and runs the
// managed-exit monitor.
type Engine struct {
	cfg Config
	client *exchange.Client
	db *db.Database
	bus *events.Bus

	mu sync.RWMutex
	guards map[string]*symbolGuard
}

func New(cfg Config, client *exchange.Client, database *db.Database, bus *events.Bus) *Engine {
	return &Engine{
		cfg: cfg,
		client: client,
		db: database,
		bus: bus,
		guards: make(map[string]*symbolGuard),
	}
}

func (e *Engine) guard(symbol string) *symbolGuard {
	e.mu.RLock()
	g, ok := e.guards[symbol]
	e.mu.RUnlock()
	if ok {
		return g
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.guards[symbol]; ok {
		return g
	}
	g = &symbolGuard{}
	e.guards[symbol] = g
	return g
}

// SetSizeMultiplier adjusts the safety-monitor's entry size multiplier.
// 0 blocks all new entries; values outside [0,1] are clamped.
func (e *Engine) SetSizeMultiplier(m float64) {
	if m < 0 {
		m = 0
	}
	if m > 1 {
		m = 1
	}
	e.mu.Lock()
	e.cfg.PositionSizeMultiplier = m
	e.mu.Unlock()
}

func (e *Engine) sizeMultiplier() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.PositionSizeMultiplier
}

// ExecuteSignal is executeSignal.
func (e *Engine) ExecuteSignal(ctx context.Context, signal tradestate.Signal, risk tradestate.RiskAssessment) tradestate.ExecutionResult {
	if signal.Action == tradestate.ActionHold {
		return tradestate.ExecutionResult{Reason: "HOLD signal rejected"}
	}

	account, err := e.client.GetAccountState(ctx)
	if err != nil {
		return tradestate.ExecutionResult{Reason: "failed to fetch portfolio", Err: err}
	}
	position := findPosition(account.Positions, signal.Symbol)

	isExitOrder := position != nil && isOppositeDirection(signal.Action, position.Side)
	exitIntent := risk.IsExitIntent() || signal.StrategyID == "position-recovery" || signal.StrategyID == "risk-managed-exit"

	if exitIntent && position == nil && !isExitOrder {
		return tradestate.ExecutionResult{Reason: "No open position to close"}
	}

	g := e.guard(signal.Symbol)

	if !isExitOrder {
		if reason, ok := e.checkEngineChurn(g, signal); !ok {
			return tradestate.ExecutionResult{Reason: reason}
		}
	}

	adjustedSize := signal.Size
	if isExitOrder && position != nil {
		adjustedSize = math.Min(adjustedSize, math.Abs(position.Size))
	} else {
		mult := e.sizeMultiplier()
		if mult <= 0 {
			return tradestate.ExecutionResult{Reason: "entries blocked by safety monitor"}
		}
		adjustedSize *= mult
	}
	if adjustedSize <= 0 {
		return tradestate.ExecutionResult{Reason: "adjusted size is zero"}
	}

	g.mu.Lock()
	g.lastOrderAt = time.Now()
	g.lastSignal = signalFingerprint{
		Action: string(signal.Action), Price: signal.Price,
		Confidence: signal.Confidence, Reason: signal.Reason, At: time.Now(),
	}
	g.mu.Unlock()

	side := exchange.SideBuy
	if signal.Action == tradestate.ActionSell {
		side = exchange.SideSell
	}
	orderType := exchange.OrderTypeMarket
	if signal.Type == tradestate.SignalLimit {
		orderType = exchange.OrderTypeLimit
	}

	res := e.client.PlaceOrder(ctx, exchange.OrderParams{
		Symbol: signal.Symbol,
		Side: side,
		Type: orderType,
		Size: adjustedSize,
		Price: signal.Price,
		ReduceOnly: isExitOrder,
		BypassCooldown: isExitOrder,
		ClientOrderID: uuid.NewString(),
		Confidence: signal.Confidence,
	})

	entryExit := tradestate.Entry
	if isExitOrder {
		entryExit = tradestate.Exit
	}

	result := tradestate.ExecutionResult{Reason: res.RejectReason, Err: res.Err}

	switch res.Status {
	case exchange.OrderStatusFilled:
		trade := &tradestate.Trade{
			ID: uuid.NewString(),
			StrategyID: signal.StrategyID,
			Symbol: signal.Symbol,
			Side: string(side),
			Size: res.FilledSize,
			Price: res.FilledPrice,
			Timestamp: time.Now(),
			Type: signal.Type,
			Status: tradestate.TradeFilled,
			EntryExit: entryExit,
		}
		result.Status = tradestate.TradeFilled
		result.Trade = trade
		e.persistTrade(ctx, trade)

		if !isExitOrder {
			g.mu.Lock()
			g.exitPlan = &tradestate.ManagedExitPlan{
				Symbol: signal.Symbol, Side: positionSideFor(signal.Action),
				EntryPrice: res.FilledPrice, StopLossPct: risk.StopLoss,
				TakeProfitPct: risk.TakeProfit, CreatedAt: time.Now(),
			}
			g.mu.Unlock()
			if e.bus != nil {
				e.bus.Publish(events.EventPositionOpened, trade)
			}
		} else {
			g.mu.Lock()
			g.exitPlan = nil
			g.mu.Unlock()
			if e.bus != nil {
				e.bus.Publish(events.EventPositionClosed, trade)
			}
		}
		if e.bus != nil {
			e.bus.Publish(events.EventExecutionFilled, trade)
		}

	case exchange.OrderStatusResting:
		result.Status = tradestate.TradePartial
		if e.bus != nil {
			e.bus.Publish(events.EventExecutionFailed, map[string]any{
				"symbol": signal.Symbol, "reason": "RESTING_NOT_FILLED",
			})
		}

	default:
		result.Status = tradestate.TradeCancelled
		if result.Reason == "" {
			result.Reason = "order not filled"
		}
		if e.bus != nil {
			e.bus.Publish(events.EventExecutionFailed, map[string]any{
				"symbol": signal.Symbol, "reason": result.Reason,
			})
		}
	}

	return result
}

func (e *Engine) persistTrade(ctx context.Context, t *tradestate.Trade) {
	if e.db == nil {
		return
	}
	row := db.Trade{
		ID: t.ID, StrategyID: t.StrategyID, Symbol: t.Symbol, Side: t.Side,
		Price: t.Price, Qty: t.Size, Fee: t.Fee, PnL: t.PnL,
		EntryExit: string(t.EntryExit), CreatedAt: t.Timestamp,
	}
	if err := e.db.CreateTrade(ctx, row); err != nil {
		log.Printf("execution: persist trade failed: %v", err)
	}
}

// checkEngineChurn applies the engine-level churn guards to entry signals
// only.
func (e *Engine) checkEngineChurn(g *symbolGuard, signal tradestate.Signal) (string, bool) {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	if signal.Confidence < cfg.MinSignalConfidence {
		return "MIN_CONFIDENCE", false
	}

	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastSignal.At.IsZero() && now.Sub(g.lastSignal.At) < cfg.SignalDedupWindow {
		sameAction := g.lastSignal.Action == string(signal.Action)
		priceChange := math.Abs(signal.Price-g.lastSignal.Price) / math.Max(g.lastSignal.Price, 1e-9)
		confDelta := math.Abs(signal.Confidence - g.lastSignal.Confidence)
		sameReason := signal.Reason == g.lastSignal.Reason
		if sameAction && (priceChange < 0.005 || (confDelta < 0.1 && sameReason)) {
			return "DUPLICATE_SIGNAL", false
		}
	}

	cutoff := now.Add(-time.Minute)
	kept := g.signalTimes[:0]
	for _, t := range g.signalTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.signalTimes = kept
	if len(g.signalTimes) >= cfg.MaxSignalsPerMinute {
		return "RATE_LIMIT", false
	}
	g.signalTimes = append(g.signalTimes, now)

	if !g.lastOrderAt.IsZero() {
		elapsed := now.Sub(g.lastOrderAt)
		if elapsed < cfg.MinOrderInterval {
			return "COOLDOWN_MIN_INTERVAL", false
		}
		if elapsed < cfg.StandardCooldown {
			return "COOLDOWN_STANDARD", false
		}
	}

	return "", true
}

func findPosition(positions []exchange.Position, symbol string) *exchange.Position {
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i]
		}
	}
	return nil
}

func isOppositeDirection(action tradestate.Action, positionSide string) bool {
	switch {
	case action == tradestate.ActionSell && strings.EqualFold(positionSide, "LONG"):
		return true
	case action == tradestate.ActionBuy && strings.EqualFold(positionSide, "SHORT"):
		return true
	default:
		return false
	}
}

func positionSideFor(action tradestate.Action) string {
	if action == tradestate.ActionBuy {
		return "LONG"
	}
	return "SHORT"
}

// GetPortfolio returns a point-in-time portfolio snapshot.
func (e *Engine) GetPortfolio(ctx context.Context) (tradestate.Portfolio, error) {
	account, err := e.client.GetAccountState(ctx)
	if err != nil {
		return tradestate.Portfolio{}, err
	}
	positions := make([]tradestate.Position, 0, len(account.Positions))
	for _, p := range account.Positions {
		positions = append(positions, tradestate.Position{
			Symbol: p.Symbol, Side: p.Side, Size: p.Size, EntryPrice: p.EntryPrice,
			MarkPrice: p.MarkPrice, UnrealizedPnL: p.UnrealizedPnL,
			Leverage: p.Leverage, MarginUsed: p.MarginUsed,
		})
	}
	realized, _ := e.GetRealizedPnL(ctx)
	return tradestate.Portfolio{
		Equity: account.Equity, MarginUsed: account.MarginUsed,
		RealizedPnL: realized, Positions: positions,
	}, nil
}

func (e *Engine) GetPositions(ctx context.Context) ([]tradestate.Position, error) {
	p, err := e.GetPortfolio(ctx)
	return p.Positions, err
}

// GetRealizedPnL sums the pnl column across all trades.
func (e *Engine) GetRealizedPnL(ctx context.Context) (float64, error) {
	if e.db == nil {
		return 0, nil
	}
	var total float64
	err := e.db.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(pnl), 0) FROM trades`).Scan(&total)
	return total, err
}

func (e *Engine) GetRecentTrades(ctx context.Context, limit int) ([]db.Trade, error) {
	if e.db == nil {
		return nil, nil
	}
	return e.db.ListRecentTrades(ctx, limit)
}

func (e *Engine) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return e.client.CancelOrder(ctx, symbol, orderID)
}

func (e *Engine) GetOpenOrders(ctx context.Context) ([]exchange.PendingOrder, error) {
	return e.client.GetOpenOrders(ctx)
}

// EmergencyStop closes every position and cancels every order.
func (e *Engine) EmergencyStop(ctx context.Context) error {
	if err := e.client.CancelAllOrders(ctx); err != nil {
		log.Printf("execution: emergency stop cancel-all error: %v", err)
	}
	if err := e.client.EmergencyCloseAll(ctx); err != nil {
		return fmt.Errorf("emergency close all: %w", err)
	}
	if e.bus != nil {
		e.bus.Publish(events.Error, map[string]any{"type": "EMERGENCY_STOP", "at": time.Now()})
	}
	return nil
}

// AntiChurnStats is a read-only snapshot for /api diagnostics.
type AntiChurnStats struct {
	Symbol string `json:"symbol"`
	LastOrderAt time.Time `json:"lastOrderAt"`
	SignalsLastMin int `json:"signalsLastMinute"`
	HasExitPlan bool `json:"hasExitPlan"`
}

func (e *Engine) GetAntiChurnStats() []AntiChurnStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]AntiChurnStats, 0, len(e.guards))
	for symbol, g := range e.guards {
		g.mu.Lock()
		out = append(out, AntiChurnStats{
			Symbol: symbol, LastOrderAt: g.lastOrderAt,
			SignalsLastMin: len(g.signalTimes), HasExitPlan: g.exitPlan != nil,
		})
		g.mu.Unlock()
	}
	return out
}

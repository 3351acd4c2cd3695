package execution

import (
	"context"
	"log"
	"math"
	"strings"
	"time"

	"github.com/perpcore/trading-core/internal/tradestate"
)

// RunManagedExitMonitor is the managed-exit monitor: a background task
// ticking every ManagedExitInterval, checking every symbol with a live
// ManagedExitPlan against its stop-loss/take-profit triggers.
func (e *Engine) RunManagedExitMonitor(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ManagedExitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepManagedExits(ctx)
		}
	}
}

func (e *Engine) sweepManagedExits(ctx context.Context) {
	account, err := e.client.GetAccountState(ctx)
	if err != nil {
		log.Printf("execution: managed-exit monitor failed to fetch portfolio: %v", err)
		return
	}

	e.mu.RLock()
	symbols := make([]string, 0, len(e.guards))
	for s := range e.guards {
		symbols = append(symbols, s)
	}
	e.mu.RUnlock()

	markBySymbol := make(map[string]float64, len(account.Positions))
	heldSide := make(map[string]string, len(account.Positions))
	for _, p := range account.Positions {
		markBySymbol[p.Symbol] = p.MarkPrice
		heldSide[p.Symbol] = p.Side
	}

	for _, symbol := range symbols {
		g := e.guard(symbol)

		g.mu.Lock()
		plan := g.exitPlan
		busy := g.exitBusy
		g.mu.Unlock()
		if plan == nil || busy {
			continue
		}

		side, held := heldSide[symbol]
		if !held {
			g.mu.Lock()
			g.exitPlan = nil
			g.mu.Unlock()
			continue
		}
		if !strings.EqualFold(side, plan.Side) {
			g.mu.Lock()
			g.exitPlan = nil
			g.mu.Unlock()
			continue
		}

		mark := markBySymbol[symbol]
		if mark == 0 || plan.EntryPrice == 0 {
			continue
		}

		pnlPct := (mark - plan.EntryPrice) / plan.EntryPrice
		if strings.EqualFold(plan.Side, "SHORT") {
			pnlPct = -pnlPct
		}

		slThreshold := -math.Max(0.001, plan.StopLossPct*e.cfg.SLTriggerFactor)
		tpThreshold := plan.TakeProfitPct * e.cfg.TPTriggerFactor

		var triggerReason string
		if pnlPct <= slThreshold {
			triggerReason = "STOP_LOSS"
		} else if plan.TakeProfitPct > 0 && pnlPct >= tpThreshold {
			triggerReason = "TAKE_PROFIT"
		}
		if triggerReason == "" {
			continue
		}

		g.mu.Lock()
		if g.exitBusy {
			g.mu.Unlock()
			continue
		}
		g.exitBusy = true
		g.mu.Unlock()

		go e.fireManagedExit(ctx, symbol, plan, triggerReason)
	}
}

func (e *Engine) fireManagedExit(ctx context.Context, symbol string, plan *tradestate.ManagedExitPlan, reason string) {
	g := e.guard(symbol)
	defer func() {
		g.mu.Lock()
		g.exitBusy = false
		g.mu.Unlock()
	}()

	account, err := e.client.GetAccountState(ctx)
	if err != nil {
		log.Printf("execution: managed exit for %s failed to refresh portfolio: %v", symbol, err)
		return
	}
	position := findPosition(account.Positions, symbol)
	if position == nil {
		return
	}

	exitAction := tradestate.ActionSell
	if strings.EqualFold(plan.Side, "SHORT") {
		exitAction = tradestate.ActionBuy
	}

	signal := tradestate.Signal{
		StrategyID: "risk-managed-exit",
		Symbol: symbol,
		Action: exitAction,
		Size: math.Abs(position.Size),
		Confidence: 1.0,
		Reason: reason,
		Timestamp: time.Now(),
	}
	risk := tradestate.RiskAssessment{Approved: true}

	result := e.ExecuteSignal(ctx, signal, risk)
	if result.Err != nil {
		log.Printf("execution: managed exit for %s (%s) failed: %v", symbol, reason, result.Err)
	}
}

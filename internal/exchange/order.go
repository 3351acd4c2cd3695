package exchange

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/perpcore/trading-core/internal/coreerr"
	"github.com/perpcore/trading-core/internal/ledger"
)

// PlaceOrder implements order placement algorithm: validate
// size, apply churn guards and depth/spread validation for entries,
// register with the ledger, resolve the asset index, then attempt
// submission with exponential backoff between retryable failures.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) OrderResult {
	validatedSize, err := FormatSize(p.Symbol, p.Size)
	if err != nil {
		return OrderResult{Status: OrderStatusError, RejectReason: "INVALID_SIZE", Err: err}
	}

	actor := c.symbols.get(p.Symbol)

	if !p.ReduceOnly {
		if reason, ok := c.checkChurnGuards(actor, p); !ok {
			return OrderResult{Status: OrderStatusError, RejectReason: reason,
				Err: coreerr.New(coreerr.KindValidation, reason)}
		}
		if reason, ok := c.checkDepthAndSpread(ctx, p.Symbol, p.Side); !ok {
			return OrderResult{Status: OrderStatusError, RejectReason: reason,
				Err: coreerr.New(coreerr.KindValidation, reason)}
		}
	}

	if p.ClientOrderID == "" {
		p.ClientOrderID = uuid.NewString()
	}
	size, _ := validatedSize.Float64()
	c.ledger.RegisterOrder(ledger.Entry{
		OrderID: p.ClientOrderID, // rebound to the venue's order id once known
		ClientOrderID: p.ClientOrderID,
		Symbol: p.Symbol,
		Side: string(p.Side),
		OrderQty: size,
	})

	assetIdx, err := c.assetIndex(ctx, p.Symbol)
	if err != nil {
		return OrderResult{Status: OrderStatusError, RejectReason: "INVALID_SYMBOL", Err: err}
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		if p.ReduceOnly {
			maxAttempts = c.cfg.ExitMaxAttempts
		} else {
			maxAttempts = c.cfg.EntryMaxAttempts
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiters.Throttle(ctx, "exchange", 1); err != nil {
			lastErr = coreerr.Wrap(coreerr.KindRateLimit, "throttled", err)
			break
		}

		execPrice, err := c.executablePrice(ctx, p)
		if err != nil {
			lastErr = err
			break
		}

		result, retryable, err := c.submitOnce(ctx, assetIdx, p, execPrice)
		// An unrecognized response shape is a tentative success, not a failure.
		if err == nil || result.Status == OrderStatusUnknown {
			c.recordAttempt(actor, p, true)
			c.recordOrderTime(actor, p)
			return result
		}

		lastErr = err
		c.recordAttempt(actor, p, false)
		if !retryable {
			break
		}
		if attempt < maxAttempts {
			wait := time.Duration(math.Min(
				float64(time.Second)*math.Pow(2, float64(attempt)),
				float64(c.cfg.BackoffCap)))
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxAttempts
			case <-time.After(wait):
			}
		}
	}

	c.recordOrderTime(actor, p)
	return OrderResult{Status: OrderStatusError, ClientOrderID: p.ClientOrderID, Err: lastErr,
		RejectReason: classifyReject(lastErr)}
}

func (c *Client) executablePrice(ctx context.Context, p OrderParams) (float64, error) {
	if p.Type == OrderTypeLimit && !p.ReduceOnly {
		return p.Price, nil
	}
	book, err := c.GetL2Book(ctx, p.Symbol)
	if err != nil {
		return 0, coreerr.Wrap(coreerr.KindNetwork, "fetch book for executable price", err)
	}
	var top float64
	if p.Side == SideBuy {
		if len(book.Asks) == 0 {
			return 0, coreerr.New(coreerr.KindValidation, "no ask liquidity")
		}
		top = book.Asks[0].Price
		return top * (1 + c.cfg.SlippageBuffer), nil
	}
	if len(book.Bids) == 0 {
		return 0, coreerr.New(coreerr.KindValidation, "no bid liquidity")
	}
	top = book.Bids[0].Price
	return top * (1 - c.cfg.SlippageBuffer), nil
}

func (c *Client) submitOnce(ctx context.Context, assetIdx int, p OrderParams, execPrice float64) (OrderResult, bool, error) {
	tif := "Gtc"
	if p.Type == OrderTypeMarket || p.ReduceOnly {
		tif = "Ioc"
	}
	fmtSize, _ := FormatSize(p.Symbol, p.Size)
	fmtPrice := FormatPrice(p.Symbol, execPrice)

	body := map[string]any{
		"action": map[string]any{
			"type": "order",
			"orders": []map[string]any{{
				"a": assetIdx,
				"b": p.Side == SideBuy,
				"p": fmtPrice.String(),
				"s": fmtSize.String(),
				"r": p.ReduceOnly,
				"t": map[string]any{"limit": map[string]string{"tif": tif}},
			}},
		},
	}

	var resp struct {
		Status string `json:"status"`
		Statuses []struct {
			Filled *struct {
				OID string `json:"oid"`
				AvgPx float64 `json:"avgPx,string"`
				TotalSz float64 `json:"totalSz,string"`
			} `json:"filled"`
			Resting *struct {
				OID string `json:"oid"`
			} `json:"resting"`
			Error string `json:"error"`
		} `json:"statuses"`
	}

	if err := c.postSigned(ctx, "exchange", "/exchange", body, &resp); err != nil {
		return OrderResult{}, coreerr.Retryable(err), err
	}

	if len(resp.Statuses) == 0 {
		log.Printf("exchange: order for %s: response had no statuses; treating as tentative success", p.Symbol)
		return OrderResult{Status: OrderStatusUnknown, ClientOrderID: p.ClientOrderID},
			false, coreerr.New(coreerr.KindUnknownOrderState, "no statuses in response")
	}
	st := resp.Statuses[0]

	switch {
	case st.Filled != nil:
		c.ledger.BindOrderID(p.ClientOrderID, st.Filled.OID)
		if _, err := c.ledger.RecordFill(st.Filled.OID, st.Filled.TotalSz, st.Filled.AvgPx); err != nil {
			return OrderResult{}, false, err
		}
		return OrderResult{
			Status: OrderStatusFilled,
			OrderID: st.Filled.OID,
			ClientOrderID: p.ClientOrderID,
			FilledPrice: st.Filled.AvgPx,
			FilledSize: st.Filled.TotalSz,
		}, false, nil

	case st.Resting != nil:
		c.ledger.BindOrderID(p.ClientOrderID, st.Resting.OID)
		actor := c.symbols.get(p.Symbol)
		actor.mu.Lock()
		actor.pending[st.Resting.OID] = PendingOrder{
			OrderID: st.Resting.OID, Symbol: p.Symbol, Side: p.Side, SubmittedAt: time.Now(),
		}
		actor.mu.Unlock()
		return OrderResult{Status: OrderStatusResting, OrderID: st.Resting.OID, ClientOrderID: p.ClientOrderID}, false, nil

	case st.Error != "":
		if isMarginError(st.Error) {
			return OrderResult{}, false, coreerr.New(coreerr.KindInsufficientMargin, st.Error)
		}
		return OrderResult{}, true, coreerr.Wrap(coreerr.KindNetwork, "venue rejected order", fmt.Errorf("%s", st.Error))

	default:
		return OrderResult{Status: OrderStatusUnknown, ClientOrderID: p.ClientOrderID},
			false, coreerr.New(coreerr.KindUnknownOrderState, "response shape unrecognized")
	}
}

func isMarginError(msg string) bool {
	for _, kw := range []string{"insufficient", "margin"} {
		if containsFold(msg, kw) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	sl, subl := []rune(s), []rune(substr)
	n, m := len(sl), len(subl)
	for i := 0; i+m <= n; i++ {
		match := true
		for j := 0; j < m; j++ {
			a, b := sl[i+j], subl[j]
			if a >= 'A' && a <= 'Z' {
				a += 'a' - 'A'
			}
			if b >= 'A' && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func classifyReject(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	assetIdx, err := c.assetIndex(ctx, symbol)
	if err != nil {
		return err
	}
	body := map[string]any{
		"action": map[string]any{
			"type": "cancel",
			"cancels": []map[string]any{{"a": assetIdx, "o": orderID}},
		},
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := c.postSigned(ctx, "exchange", "/exchange", body, &out); err != nil {
		return fmt.Errorf("exchange: cancelOrder: %w", err)
	}
	actor := c.symbols.get(symbol)
	actor.mu.Lock()
	delete(actor.pending, orderID)
	actor.mu.Unlock()
	_ = c.ledger.CloseOrder(orderID, "CANCELLED")
	return nil
}

// CancelAllOrders cancels every pending order across all symbols.
func (c *Client) CancelAllOrders(ctx context.Context) error {
	for _, p := range c.symbols.snapshotAllPending() {
		if err := c.CancelOrder(ctx, p.Symbol, p.OrderID); err != nil {
			log.Printf("exchange: cancelAllOrders: cancel %s/%s: %v", p.Symbol, p.OrderID, err)
		}
	}
	return nil
}

// EmergencyCloseAll submits reduce-only market exits for every open
// position in parallel, used by /api/emergency-stop.
func (c *Client) EmergencyCloseAll(ctx context.Context) error {
	state, err := c.GetAccountState(ctx)
	if err != nil {
		return fmt.Errorf("exchange: emergencyCloseAll: fetch account: %w", err)
	}
	results := make(chan error, len(state.Positions))
	for _, pos := range state.Positions {
		pos := pos
		go func() {
			side := SideSell
			if pos.Side == "SHORT" {
				side = SideBuy
			}
			res := c.PlaceOrder(ctx, OrderParams{
				Symbol: pos.Symbol, Side: side, Type: OrderTypeMarket,
				Size: math.Abs(pos.Size), ReduceOnly: true, BypassCooldown: true,
			})
			if res.Status == OrderStatusError {
				results <- res.Err
				return
			}
			results <- nil
		}()
	}
	var firstErr error
	for range state.Positions {
		if err := <-results; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) recordOrderTime(actor *symbolState, p OrderParams) {
	actor.mu.Lock()
	actor.lastOrderTime = time.Now()
	actor.mu.Unlock()
}

func (c *Client) recordAttempt(actor *symbolState, p OrderParams, filled bool) {
	actor.mu.Lock()
	defer actor.mu.Unlock()
	actor.stats.Submitted++
	if filled {
		actor.stats.Filled++
		actor.consecutiveFails = 0
	} else {
		actor.stats.Failed++
		actor.consecutiveFails++
	}
}

// FillStatsFor returns a copy of the fill-rate accounting for a symbol.
func (c *Client) FillStatsFor(symbol string) FillStats {
	actor := c.symbols.get(symbol)
	actor.mu.Lock()
	defer actor.mu.Unlock()
	return actor.stats
}

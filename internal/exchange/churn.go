package exchange

import (
	"context"
	"fmt"
	"math"
	"time"
)

// checkChurnGuards enforces cooldown, confidence-floor, and fill-rate
// guards, applied only on entries (reduce-only/exit orders bypass this
// call entirely — see PlaceOrder).
func (c *Client) checkChurnGuards(actor *symbolState, p OrderParams) (string, bool) {
	actor.mu.Lock()
	defer actor.mu.Unlock()

	now := time.Now()

	if !actor.lastOrderTime.IsZero() {
		since := now.Sub(actor.lastOrderTime)
		if since < c.cfg.MinOrderInterval {
			return "COOLDOWN_MIN_INTERVAL", false
		}
		cooldown := c.cfg.StandardCooldown
		if actor.consecutiveFails >= c.cfg.ChurnFailureThreshold {
			extended := time.Duration(float64(cooldown) * math.Pow(2,
				float64(actor.consecutiveFails-c.cfg.ChurnFailureThreshold)))
			if extended > c.cfg.ExtendedCooldownCap {
				extended = c.cfg.ExtendedCooldownCap
			}
			cooldown += extended
		}
		if since < cooldown {
			return "COOLDOWN_STANDARD", false
		}
	}

	if p.Confidence > 0 && p.Confidence < c.cfg.MinSignalConfidence {
		return "MIN_CONFIDENCE", false
	}

	if actor.stats.Submitted >= c.cfg.FillRateWarmup && actor.stats.FillRate() < c.cfg.MinFillRate {
		return "CHURN_PREVENTION", false
	}

	return "", true
}

// checkDepthAndSpread requires top-N levels on each side with sufficient
// notional depth, and rejects if the spread is at or above the configured
// maximum (>= is strict: a spread ratio exactly equal to the maximum is
// rejected).
func (c *Client) checkDepthAndSpread(ctx context.Context, symbol string, side Side) (string, bool) {
	book, err := c.GetL2Book(ctx, symbol)
	if err != nil {
		return fmt.Sprintf("DEPTH_FETCH_FAILED: %v", err), false
	}

	levels := c.cfg.DepthLevels
	if levels <= 0 {
		levels = 5
	}
	if len(book.Bids) < levels || len(book.Asks) < levels {
		return "INSUFFICIENT_DEPTH", false
	}

	if c.cfg.MinNotionalDepth > 0 {
		var bidNotional, askNotional float64
		for i := 0; i < levels; i++ {
			bidNotional += book.Bids[i].Price * book.Bids[i].Size
			askNotional += book.Asks[i].Price * book.Asks[i].Size
		}
		if bidNotional < c.cfg.MinNotionalDepth || askNotional < c.cfg.MinNotionalDepth {
			return "INSUFFICIENT_NOTIONAL_DEPTH", false
		}
	}

	mid := book.Mid()
	if mid <= 0 {
		return "NO_MID", false
	}
	spread := (book.Asks[0].Price - book.Bids[0].Price) / mid
	maxSpread := c.cfg.MaxSpread
	if maxSpread <= 0 {
		maxSpread = 0.001
	}
	if spread >= maxSpread {
		return "SPREAD_TOO_WIDE", false
	}

	return "", true
}

package exchange

import (
	"context"
	"log"
	"time"
)

// StaleOrderWatchdog cancels pending orders that have rested past the
// configured age and warns on orders approaching it. Runs on its own 5s
// tick; callers start it once at startup.
func (c *Client) StaleOrderWatchdog(ctx context.Context) {
	warnAge := c.cfg.StaleOrderWarnAge
	if warnAge == 0 {
		warnAge = 30 * time.Second
	}
	cancelAge := c.cfg.StaleOrderCancelAge
	if cancelAge == 0 {
		cancelAge = 60 * time.Second
	}

	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.sweepStaleOrders(ctx, warnAge, cancelAge)
		}
	}
}

func (c *Client) sweepStaleOrders(ctx context.Context, warnAge, cancelAge time.Duration) {
	for _, p := range c.symbols.snapshotAllPending() {
		age := time.Since(p.SubmittedAt)
		switch {
		case age > cancelAge:
			log.Printf("exchange: cancelling stale order %s/%s age=%s", p.Symbol, p.OrderID, age)
			if err := c.CancelOrder(ctx, p.Symbol, p.OrderID); err != nil {
				log.Printf("exchange: stale-order cancel failed %s/%s: %v", p.Symbol, p.OrderID, err)
			}
		case age > warnAge:
			log.Printf("exchange: order %s/%s resting %s, approaching stale-cancel threshold", p.Symbol, p.OrderID, age)
		}
	}
}

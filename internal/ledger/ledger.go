// Package ledger implements the overfill-protection ledger: the
// authoritative record of every submitted order's cumulative fills, used to
// reject fill reports that would exceed the ordered quantity even when the
// exchange's own bookkeeping disagrees.
package ledger

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/perpcore/trading-core/internal/coreerr"
)

// Status is an Entry's fill-lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPartial Status = "PARTIAL"
	StatusFilled Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected Status = "REJECTED"
)

// Entry is one order's cumulative-fill record.
type Entry struct {
	OrderID string
	ClientOrderID string
	Symbol string
	Side string
	OrderQty float64
	FilledQty float64
	AvgPx float64
	Status Status
	Timestamp time.Time
}

// Ledger tracks fills per order under a single mutex, mirroring
// internal/risk.Manager's single-mutex-guarded-map style. All operations
// are O(1).
type Ledger struct {
	mu sync.Mutex
	byOrderID map[string]*Entry
	byClientID map[string]string // clientOrderId -> orderId, once known
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		byOrderID: make(map[string]*Entry),
		byClientID: make(map[string]string),
	}
}

// RegisterOrder inserts a PENDING entry. Idempotent on ClientOrderID: a
// second registration of the same client order id returns the existing
// entry rather than creating a duplicate.
func (l *Ledger) RegisterOrder(e Entry) *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if oid, ok := l.byClientID[e.ClientOrderID]; ok {
		return l.byOrderID[oid]
	}

	e.Status = StatusPending
	e.Timestamp = time.Now()
	cp := e
	l.byOrderID[e.OrderID] = &cp
	if e.ClientOrderID != "" {
		l.byClientID[e.ClientOrderID] = e.OrderID
	}
	return &cp
}

// BindOrderID associates an exchange-assigned order id with a
// client-generated one once the venue's acknowledgement arrives, for
// entries registered before the exchange id was known.
func (l *Ledger) BindOrderID(clientOrderID, orderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existingOID, ok := l.byClientID[clientOrderID]; ok && existingOID != orderID {
		if e, ok := l.byOrderID[existingOID]; ok {
			e.OrderID = orderID
			l.byOrderID[orderID] = e
			delete(l.byOrderID, existingOID)
		}
	}
	l.byClientID[clientOrderID] = orderID
}

// RecordFill updates filledQty and the weighted-average fill price. It
// rejects (and does not mutate) any update that would push filledQty above
// orderQty, returning a coreerr.KindOverfill error for the caller to publish
// as EXECUTION_FAILED{reason:OVERFILL}.
func (l *Ledger) RecordFill(orderID string, fillQty, fillPx float64) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byOrderID[orderID]
	if !ok {
		return nil, coreerr.New(coreerr.KindValidation, fmt.Sprintf("ledger: unknown order %q", orderID))
	}

	newFilled := e.FilledQty + fillQty
	// epsilon guards against float accumulation pushing an exact-equal
	// fill a hair over orderQty.
	if newFilled > e.OrderQty+1e-9 {
		log.Printf("ledger: overfill rejected order=%s filled=%.8f attempted=%.8f orderQty=%.8f",
			orderID, e.FilledQty, fillQty, e.OrderQty)
		return nil, coreerr.New(coreerr.KindOverfill, fmt.Sprintf(
			"order %s: fill of %.8f would exceed ordered qty %.8f (already filled %.8f)",
			orderID, fillQty, e.OrderQty, e.FilledQty))
	}

	totalNotionalBefore := e.AvgPx * e.FilledQty
	e.AvgPx = (totalNotionalBefore + fillPx*fillQty) / newFilled
	e.FilledQty = newFilled
	e.Timestamp = time.Now()
	if newFilled >= e.OrderQty-1e-9 {
		e.Status = StatusFilled
	} else {
		e.Status = StatusPartial
	}

	cp := *e
	return &cp, nil
}

// CloseOrder finalizes an entry with a terminal status (CANCELLED or
// REJECTED; FILLED is set automatically by RecordFill).
func (l *Ledger) CloseOrder(orderID string, final Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byOrderID[orderID]
	if !ok {
		return coreerr.New(coreerr.KindValidation, fmt.Sprintf("ledger: unknown order %q", orderID))
	}
	e.Status = final
	e.Timestamp = time.Now()
	return nil
}

// Get returns a copy of the entry for orderID.
func (l *Ledger) Get(orderID string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byOrderID[orderID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ReconcileExchangeTotal compares the ledger's authoritative filledQty
// against a total the exchange independently reports for the same order.
// Divergence is logged but the ledger's own value is never overwritten —
// the ledger remains authoritative even when the exchange disagrees.
func (l *Ledger) ReconcileExchangeTotal(orderID string, exchangeFilledQty float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byOrderID[orderID]
	if !ok {
		return
	}
	if diff := exchangeFilledQty - e.FilledQty; diff > 1e-9 || diff < -1e-9 {
		log.Printf("ledger: divergence order=%s ledger_filled=%.8f exchange_filled=%.8f",
			orderID, e.FilledQty, exchangeFilledQty)
	}
}

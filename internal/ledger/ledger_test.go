package ledger

import "testing"

func TestRegisterOrderIdempotent(t *testing.T) {
	l := New()
	e1 := l.RegisterOrder(Entry{OrderID: "o1", ClientOrderID: "c1", OrderQty: 0.05})
	e2 := l.RegisterOrder(Entry{OrderID: "o1", ClientOrderID: "c1", OrderQty: 0.05})
	if e1.OrderID != e2.OrderID || e1.Timestamp != e2.Timestamp {
		t.Fatalf("expected identical entry on repeat registration, got %+v vs %+v", e1, e2)
	}
}

func TestRecordFillAccumulatesAndRejectsOverfill(t *testing.T) {
	l := New()
	l.RegisterOrder(Entry{OrderID: "o1", ClientOrderID: "c1", OrderQty: 0.05})

	e, err := l.RecordFill("o1", 0.03, 100)
	if err != nil {
		t.Fatalf("first fill should be accepted: %v", err)
	}
	if e.FilledQty != 0.03 || e.Status != StatusPartial {
		t.Fatalf("unexpected state after first fill: %+v", e)
	}

	if _, err := l.RecordFill("o1", 0.03, 101); err == nil {
		t.Fatal("expected overfill rejection for 0.03+0.03 > 0.05")
	}

	got, _ := l.Get("o1")
	if got.FilledQty != 0.03 {
		t.Fatalf("rejected fill must not mutate ledger state, got filledQty=%v", got.FilledQty)
	}
}

func TestRecordFillExactBoundaryFills(t *testing.T) {
	l := New()
	l.RegisterOrder(Entry{OrderID: "o1", ClientOrderID: "c1", OrderQty: 0.05})

	e, err := l.RecordFill("o1", 0.05, 100)
	if err != nil {
		t.Fatalf("exact-boundary fill should be accepted: %v", err)
	}
	if e.Status != StatusFilled {
		t.Fatalf("expected FILLED at exact boundary, got %s", e.Status)
	}
}

func TestRecordFillWeightedAveragePrice(t *testing.T) {
	l := New()
	l.RegisterOrder(Entry{OrderID: "o1", ClientOrderID: "c1", OrderQty: 1.0})

	if _, err := l.RecordFill("o1", 0.5, 100); err != nil {
		t.Fatalf("fill 1: %v", err)
	}
	e, err := l.RecordFill("o1", 0.5, 200)
	if err != nil {
		t.Fatalf("fill 2: %v", err)
	}
	if e.AvgPx != 150 {
		t.Fatalf("expected weighted avg price 150, got %v", e.AvgPx)
	}
}

func TestRecordFillUnknownOrder(t *testing.T) {
	l := New()
	if _, err := l.RecordFill("missing", 0.01, 100); err == nil {
		t.Fatal("expected error for unknown order id")
	}
}

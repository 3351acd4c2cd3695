package exchange

import "testing"

func TestFormatSizeRoundsUpToMinimum(t *testing.T) {
	d, err := FormatSize("BTC", 0.00001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, _ := d.Float64()
	if f != 0.0001 {
		t.Fatalf("expected size rounded up to BTC minimum 0.0001, got %v", f)
	}
}

func TestFormatSizeExactMinimumUnchanged(t *testing.T) {
	d, err := FormatSize("ETH", 0.001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, _ := d.Float64()
	if f != 0.001 {
		t.Fatalf("expected exact-minimum size unchanged, got %v", f)
	}
}

func TestFormatSizeRejectsZeroOrNegative(t *testing.T) {
	if _, err := FormatSize("BTC", 0); err == nil {
		t.Fatal("expected INVALID_SIZE for zero size")
	}
	if _, err := FormatSize("BTC", -1); err == nil {
		t.Fatal("expected INVALID_SIZE for negative size")
	}
}

func TestFormatPriceRoundsToTick(t *testing.T) {
	got := FormatPrice("BTC", 50000.37)
	f, _ := got.Float64()
	if f != 50000 {
		t.Fatalf("expected BTC price rounded to $1 tick, got %v", f)
	}

	got = FormatPrice("ETH", 3000.37)
	f, _ = got.Float64()
	if f != 3000.4 {
		t.Fatalf("expected ETH price rounded to $0.1 tick, got %v", f)
	}
}

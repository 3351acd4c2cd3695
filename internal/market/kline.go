package market

import "time"

// Candle is a single OHLCV bar for a symbol/timeframe pair.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// LatestClose extracts the closing price from a candle.
func LatestClose(c Candle) float64 {
	return c.Close
}

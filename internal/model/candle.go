package model

import "time"

// Candle represents a single 5-minute OHLCV bar for one instrument.
type Candle struct {
	Time   time.Time `json:"time"` // bar open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Bullish reports whether the candle closed above its open.
func (c *Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the candle closed below its open.
func (c *Candle) Bearish() bool { return c.Open > c.Close }

// Typical returns (high+low+close)/3.
func (c *Candle) Typical() float64 {
	return (c.High + c.Low + c.Close) / 3
}

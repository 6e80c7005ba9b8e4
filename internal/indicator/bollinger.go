package indicator

import "signal-grader/internal/model"

// Bollinger calculates Bollinger Bands: SMA(period) ± mult population σ.
type Bollinger struct {
	sma  *SMA
	mult float64
}

// NewBollinger creates Bollinger Bands, typically NewBollinger(20, 2).
func NewBollinger(period int, mult float64) *Bollinger {
	return &Bollinger{sma: NewSMA(period), mult: mult}
}

func (b *Bollinger) Update(candle model.Candle) { b.sma.Add(candle.Close) }

// Value returns the midline.
func (b *Bollinger) Value() float64 { return b.sma.Value() }
func (b *Bollinger) Ready() bool    { return b.sma.Ready() }

// Bands returns the upper, middle and lower band.
func (b *Bollinger) Bands() (upper, mid, lower float64) {
	mid = b.sma.Value()
	dev := b.mult * b.sma.StdDev()
	return mid + dev, mid, mid - dev
}

// Bandwidth returns (upper-lower)/mid in percent, 0 for a zero midline.
func (b *Bollinger) Bandwidth() float64 {
	upper, mid, lower := b.Bands()
	if mid == 0 {
		return 0
	}
	return (upper - lower) / mid * 100
}

// BandPosition buckets a close against the bands. Upper band is checked
// first, then lower band, then the midline.
func BandPosition(close, upper, lower float64) string {
	mid := (upper + lower) / 2
	switch {
	case close >= upper:
		return PositionUpperBand
	case close <= lower:
		return PositionLowerBand
	case close > mid:
		return PositionUpperMiddle
	default:
		return PositionLowerMiddle
	}
}

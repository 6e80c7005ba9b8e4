package indicator

import (
	"math"

	"signal-grader/internal/model"
)

// ATR calculates Average True Range with Wilder smoothing.
// The first true range is high-low; the seed is the SMA of the first period ranges.
type ATR struct {
	smma      *SMMA
	prevClose float64
	count     int
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{smma: NewSMMA(period)}
}

func (a *ATR) Update(candle model.Candle) {
	tr := candle.High - candle.Low
	if a.count > 0 {
		tr = math.Max(tr, math.Max(
			math.Abs(candle.High-a.prevClose),
			math.Abs(candle.Low-a.prevClose),
		))
	}
	a.prevClose = candle.Close
	a.count++
	a.smma.Add(tr)
}

func (a *ATR) Value() float64 { return a.smma.Value() }
func (a *ATR) Ready() bool    { return a.smma.Ready() }

// ATRAt returns the ATR of the given candle window at its last bar.
// ok is false when the window is shorter than the period.
func ATRAt(candles []model.Candle, period int) (value float64, ok bool) {
	a := NewATR(period)
	for i := range candles {
		a.Update(candles[i])
	}
	return a.Value(), a.Ready()
}

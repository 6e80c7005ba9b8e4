package indicator

import "signal-grader/internal/model"

// OBV calculates On-Balance Volume. An up close adds the bar volume, a down
// close subtracts it and an unchanged close leaves the total as is.
type OBV struct {
	prevClose float64
	current   float64
	count     int
}

// NewOBV creates an OBV accumulator.
func NewOBV() *OBV { return &OBV{} }

func (o *OBV) Update(candle model.Candle) {
	if o.count > 0 {
		switch {
		case candle.Close > o.prevClose:
			o.current += float64(candle.Volume)
		case candle.Close < o.prevClose:
			o.current -= float64(candle.Volume)
		}
	}
	o.prevClose = candle.Close
	o.count++
}

func (o *OBV) Value() float64 { return o.current }
func (o *OBV) Ready() bool    { return o.count > 0 }

package portfolio

import "github.com/shopspring/decimal"

// Drawdown tracks peak equity and the deepest fall from it.
type Drawdown struct {
	peak   decimal.Decimal
	maxPct float64
}

// Observe records an equity reading and returns the current drawdown in percent.
func (d *Drawdown) Observe(equity decimal.Decimal) float64 {
	if equity.GreaterThan(d.peak) {
		d.peak = equity
	}
	if !d.peak.IsPositive() {
		return 0
	}
	pct := d.peak.Sub(equity).Div(d.peak).Mul(decimal.NewFromInt(100)).InexactFloat64()
	if pct > d.maxPct {
		d.maxPct = pct
	}
	return pct
}

// Peak returns the highest equity observed.
func (d *Drawdown) Peak() decimal.Decimal { return d.peak }

// MaxPct returns the largest drawdown observed, in percent.
func (d *Drawdown) MaxPct() float64 { return d.maxPct }

// ExposurePct returns the open position value as a percentage of equity.
func (s *Simulator) ExposurePct(price float64) float64 {
	pos, ok := s.Position()
	if !ok {
		return 0
	}
	eq := s.Equity(s.MarkPrices(price))
	if !eq.IsPositive() {
		return 0
	}
	value := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(pos.Quantity))
	return value.Div(eq).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}

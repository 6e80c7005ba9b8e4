package indicator

import "signal-grader/internal/model"

// Stochastic calculates the slow stochastic oscillator (period, kSmooth, dSmooth).
// Raw %K compares the close to the period high-low range, K is its kSmooth SMA
// and D is the dSmooth SMA of K. A kSmooth of 1 gives the fast oscillator.
type Stochastic struct {
	period int
	highs  []float64 // circular, last period highs
	lows   []float64
	idx    int
	count  int

	kSmooth *SMA
	dSmooth *SMA
	k, d    float64
}

// NewStochastic creates a stochastic oscillator, e.g. NewStochastic(14, 3, 3).
func NewStochastic(period, kSmooth, dSmooth int) *Stochastic {
	return &Stochastic{
		period:  period,
		highs:   make([]float64, period),
		lows:    make([]float64, period),
		kSmooth: NewSMA(kSmooth),
		dSmooth: NewSMA(dSmooth),
	}
}

func (s *Stochastic) Update(candle model.Candle) {
	s.highs[s.idx] = candle.High
	s.lows[s.idx] = candle.Low
	s.idx = (s.idx + 1) % s.period
	s.count++
	if s.count < s.period {
		return
	}

	hh, ll := s.highs[0], s.lows[0]
	for i := 1; i < s.period; i++ {
		if s.highs[i] > hh {
			hh = s.highs[i]
		}
		if s.lows[i] < ll {
			ll = s.lows[i]
		}
	}

	raw := 50.0
	if hh > ll {
		raw = 100 * (candle.Close - ll) / (hh - ll)
	}

	s.kSmooth.Add(raw)
	if !s.kSmooth.Ready() {
		return
	}
	s.k = s.kSmooth.Value()
	s.dSmooth.Add(s.k)
	if s.dSmooth.Ready() {
		s.d = s.dSmooth.Value()
	}
}

// Value returns %K.
func (s *Stochastic) Value() float64 { return s.k }

// K returns the smoothed %K line.
func (s *Stochastic) K() float64 { return s.k }

// D returns the %D signal line.
func (s *Stochastic) D() float64 { return s.d }

// Ready reports whether both K and D are available.
func (s *Stochastic) Ready() bool { return s.dSmooth.Ready() }

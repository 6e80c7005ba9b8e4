package indicator

import "math"

// Divergence compares the trailing lookback bars with the lookback bars
// before them. lows, highs and companion must be aligned to the same candles;
// companion is any oscillator (RSI, OBV, ...).
//
//   - bullish: price makes a lower low while the companion makes a higher low
//   - bearish: price makes a higher high while the companion makes a lower low
//
// Anything else, or fewer than 2×lookback values, is DivergenceNone.
func Divergence(lows, highs, companion []float64, lookback int) string {
	n := len(companion)
	if lookback <= 0 || n < 2*lookback || len(lows) != n || len(highs) != n {
		return DivergenceNone
	}

	recent, prev := n-lookback, n-2*lookback
	recentLow, prevLow := minOf(lows[recent:]), minOf(lows[prev:recent])
	recentInd, prevInd := minOf(companion[recent:]), minOf(companion[prev:recent])
	if math.IsNaN(recentInd) || math.IsNaN(prevInd) {
		return DivergenceNone
	}

	if recentLow < prevLow && recentInd > prevInd {
		return DivergenceBullish
	}
	if maxOf(highs[recent:]) > maxOf(highs[prev:recent]) && recentInd < prevInd {
		return DivergenceBearish
	}
	return DivergenceNone
}

// minOf returns the minimum, or NaN if any value is NaN.
func minOf(vs []float64) float64 {
	m := math.Inf(1)
	for _, v := range vs {
		if math.IsNaN(v) {
			return math.NaN()
		}
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vs []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}

package indicator

import (
	"time"

	"signal-grader/internal/model"
)

// VWAP returns Σ(typical×volume)/Σ(volume) over the trailing session: the bars
// that opened within session of the last bar. If any bar in the window has no
// timestamp, the last fallbackBars bars are used instead. A zero cumulative
// volume returns the last close.
func VWAP(candles []model.Candle, session time.Duration, fallbackBars int) float64 {
	n := len(candles)
	if n == 0 {
		return 0
	}
	last := candles[n-1]

	start := n - fallbackBars
	if start < 0 {
		start = 0
	}
	if !last.Time.IsZero() {
		cutoff := last.Time.Add(-session)
		start = n - 1
		for start > 0 {
			prev := candles[start-1].Time
			if prev.IsZero() {
				// Timestamps unavailable, use the bar-count window.
				start = n - fallbackBars
				if start < 0 {
					start = 0
				}
				break
			}
			if !prev.After(cutoff) {
				break
			}
			start--
		}
	}

	var cumPV, cumVol float64
	for i := start; i < n; i++ {
		v := float64(candles[i].Volume)
		cumPV += candles[i].Typical() * v
		cumVol += v
	}
	if cumVol == 0 {
		return last.Close
	}
	return cumPV / cumVol
}

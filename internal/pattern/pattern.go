// Package pattern derives categorical tags from the last candles and the
// indicator snapshot at the same bar.
package pattern

import (
	"fmt"
	"math"

	"signal-grader/internal/indicator"
	"signal-grader/internal/model"
)

// Tags emitted by Detect.
const (
	BullishEngulfing = "bullish_engulfing"
	BearishEngulfing = "bearish_engulfing"
	BullishPinbar    = "bullish_pinbar"
	BearishPinbar    = "bearish_pinbar"
)

// bandTolerance is how close (in price units) a high or low must come to a
// Bollinger band to count as a test of that level.
const bandTolerance = 0.1

// Set groups tags by category. Each list is ordered and free of duplicates.
type Set struct {
	Candlestick       []string `json:"candlestick"`
	SupportResistance []string `json:"support_resistance"`
	PriceAction       []string `json:"price_action"`
}

// NewSet returns a Set with empty (non-nil) categories so it encodes as [].
func NewSet() Set {
	return Set{
		Candlestick:       []string{},
		SupportResistance: []string{},
		PriceAction:       []string{},
	}
}

// Empty reports whether no tag was emitted.
func (s Set) Empty() bool {
	return len(s.Candlestick) == 0 && len(s.SupportResistance) == 0 && len(s.PriceAction) == 0
}

// Detect evaluates the pattern rules on the last two candles. Fewer than two
// candles only runs the single-bar rules. Missing conditions simply omit
// their tag.
func Detect(candles []model.Candle, snap indicator.Snapshot) Set {
	set := NewSet()
	n := len(candles)
	if n == 0 {
		return set
	}
	cur := candles[n-1]

	if n >= 2 {
		prev := candles[n-2]
		if prev.Bearish() && cur.Bullish() && cur.Open < prev.Close && cur.Close > prev.Open {
			set.Candlestick = add(set.Candlestick, BullishEngulfing)
		}
		if prev.Bullish() && cur.Bearish() && cur.Open > prev.Close && cur.Close < prev.Open {
			set.Candlestick = add(set.Candlestick, BearishEngulfing)
		}
	}

	if upper := snap.Bollinger.Upper; upper > 0 && math.Abs(upper-cur.High) < bandTolerance {
		set.SupportResistance = add(set.SupportResistance, fmt.Sprintf("resistance_%.2f_tested", upper))
	}
	if lower := snap.Bollinger.Lower; lower > 0 && math.Abs(lower-cur.Low) < bandTolerance {
		set.SupportResistance = add(set.SupportResistance, fmt.Sprintf("support_%.2f_tested", lower))
	}

	if tag := pinbar(cur); tag != "" {
		set.PriceAction = add(set.PriceAction, tag)
	}
	return set
}

// pinbar flags a long rejection wick: wick > 60% of the range, body < 30%.
func pinbar(c model.Candle) string {
	total := c.High - c.Low
	if total <= 0 {
		return ""
	}
	body := math.Abs(c.Close - c.Open)
	if body >= total*0.3 {
		return ""
	}
	upperWick := c.High - math.Max(c.Open, c.Close)
	lowerWick := math.Min(c.Open, c.Close) - c.Low
	switch {
	case lowerWick > total*0.6:
		return BullishPinbar
	case upperWick > total*0.6:
		return BearishPinbar
	}
	return ""
}

func add(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}

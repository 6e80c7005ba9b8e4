// Package series holds the append-only, time-ordered candle store that the
// indicator, validation and backtest packages read from.
//
// A Series is owned by exactly one pipeline (a backtest run or the live loop)
// and is never shared through package-level state.
package series

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"signal-grader/internal/model"
)

// ErrOutOfOrder is returned when a candle does not strictly follow the last one.
var ErrOutOfOrder = errors.New("series: candle timestamp not after last candle")

// Series is an ordered OHLCV store with unique, strictly increasing timestamps.
type Series struct {
	candles []model.Candle
}

// New creates an empty series with room for capacity candles.
func New(capacity int) *Series {
	return &Series{candles: make([]model.Candle, 0, capacity)}
}

// FromCandles builds a series from candles already in ascending time order.
func FromCandles(candles []model.Candle) (*Series, error) {
	s := New(len(candles))
	for i, c := range candles {
		if err := s.Append(c); err != nil {
			return nil, fmt.Errorf("candle %d at %s: %w", i, c.Time.Format(time.RFC3339), err)
		}
	}
	return s, nil
}

// Append adds a candle to the end of the series.
func (s *Series) Append(c model.Candle) error {
	if n := len(s.candles); n > 0 && !c.Time.After(s.candles[n-1].Time) {
		return ErrOutOfOrder
	}
	s.candles = append(s.candles, c)
	return nil
}

// Merge appends the candles that are newer than the current last candle.
// Input order does not matter; duplicates and already-known timestamps are
// dropped. Returns the number of candles added.
func (s *Series) Merge(candles []model.Candle) int {
	if len(candles) == 0 {
		return 0
	}
	sorted := make([]model.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	added := 0
	for _, c := range sorted {
		if s.Append(c) == nil {
			added++
		}
	}
	return added
}

// Len returns the number of candles.
func (s *Series) Len() int { return len(s.candles) }

// At returns the candle at index i. It panics if i is out of range, like a slice.
func (s *Series) At(i int) model.Candle { return s.candles[i] }

// Last returns the newest candle and false when the series is empty.
func (s *Series) Last() (model.Candle, bool) {
	if len(s.candles) == 0 {
		return model.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// IndexOf returns the index of the candle opened at t.
func (s *Series) IndexOf(t time.Time) (int, bool) {
	i := sort.Search(len(s.candles), func(i int) bool { return !s.candles[i].Time.Before(t) })
	if i < len(s.candles) && s.candles[i].Time.Equal(t) {
		return i, true
	}
	return -1, false
}

// Window returns candles [0..i] inclusive. The returned slice shares memory
// with the series and must not be modified.
func (s *Series) Window(i int) []model.Candle {
	if i < 0 {
		return nil
	}
	if i >= len(s.candles) {
		i = len(s.candles) - 1
	}
	return s.candles[:i+1:i+1]
}

// Forward returns up to n candles strictly after index i.
func (s *Series) Forward(i, n int) []model.Candle {
	start := i + 1
	if start < 0 || start >= len(s.candles) || n <= 0 {
		return nil
	}
	end := start + n
	if end > len(s.candles) {
		end = len(s.candles)
	}
	return s.candles[start:end:end]
}

// Highs returns the high prices of the given candles.
func Highs(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].High
	}
	return out
}

// Lows returns the low prices of the given candles.
func Lows(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Low
	}
	return out
}

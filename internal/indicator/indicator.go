// Package indicator provides technical indicator calculations over candle data.
//
// Streaming indicators implement the Indicator interface, receiving candles one
// at a time and producing float64 values. Engine.Compute folds a candle window through
// them and assembles the point-in-time Snapshot used by the rest of the system.
package indicator

import "signal-grader/internal/model"

// Indicator is the interface for all streaming technical indicators.
type Indicator interface {
	// Update feeds a new candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

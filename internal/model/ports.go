package model

import (
	"context"
	"time"
)

// Ports.
// These interfaces decouple the backtest and live loops from concrete
// collaborators (SQLite, Binance, Redis).

// CandleSource loads historical candles for an instrument in [from, to).
type CandleSource interface {
	Candles(ctx context.Context, instrument string, from, to time.Time) ([]Candle, error)
}

// CandleSink persists candles, replacing rows with the same timestamp.
type CandleSink interface {
	SaveCandles(ctx context.Context, instrument string, candles []Candle) error
}

// PredictionCache stores predictions keyed by instrument and candle time so
// repeated backtests over the same range do not call the paid service again.
// Get returns ok=false on a miss.
type PredictionCache interface {
	Get(ctx context.Context, instrument string, ts time.Time) (Prediction, bool, error)
	Put(ctx context.Context, instrument string, ts time.Time, p Prediction) error
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"signal-grader/internal/model"
)

var (
	_ model.CandleSource = (*DB)(nil)
	_ model.CandleSink   = (*DB)(nil)
)

type candleRow struct {
	TS     int64   `db:"ts"`
	Open   float64 `db:"open"`
	High   float64 `db:"high"`
	Low    float64 `db:"low"`
	Close  float64 `db:"close"`
	Volume int64   `db:"volume"`
}

// SaveCandles upserts candles in one transaction.
func (d *DB) SaveCandles(ctx context.Context, instrument string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO candles (instrument, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, instrument, c.Time.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("sqlite insert candle %d: %w", c.Time.Unix(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	d.log.Debug().Int("count", len(candles)).Dur("took", time.Since(start)).Msg("committed candles")
	return nil
}

// Candles returns stored candles with from ≤ time < to, ascending.
func (d *DB) Candles(ctx context.Context, instrument string, from, to time.Time) ([]model.Candle, error) {
	var rows []candleRow
	err := d.db.SelectContext(ctx, &rows, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE instrument = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC`, instrument, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}

	out := make([]model.Candle, len(rows))
	for i, r := range rows {
		out[i] = model.Candle{
			Time:   time.Unix(r.TS, 0).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return out, nil
}

// LastTimestamp returns the newest stored candle time, or the zero time.
func (d *DB) LastTimestamp(ctx context.Context, instrument string) (time.Time, error) {
	var ts sql.NullInt64
	if err := d.db.GetContext(ctx, &ts, `SELECT MAX(ts) FROM candles WHERE instrument = ?`, instrument); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// Package sqlite persists candles, the simulated trade journal and
// prediction records in a single SQLite file.
package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps a single-writer SQLite connection.
type DB struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// Open opens (or creates) the database at path in WAL mode and applies the schema.
func Open(path string, l zerolog.Logger) (*DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	l = l.With().Str("component", "sqlite").Logger()
	l.Info().Str("path", path).Msg("opened database")
	return &DB{db: db, log: l}, nil
}

func createSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			instrument TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (instrument, ts)
		);

		CREATE TABLE IF NOT EXISTS trades (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id        TEXT    NOT NULL,
			instrument    TEXT    NOT NULL,
			action        TEXT    NOT NULL,
			size          INTEGER NOT NULL,
			price         TEXT    NOT NULL,
			stop_loss     REAL,
			take_profit   REAL,
			commission    TEXT    NOT NULL,
			balance_after TEXT    NOT NULL,
			realized_pnl  TEXT    NOT NULL,
			executed_at   INTEGER NOT NULL,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);

		CREATE TABLE IF NOT EXISTS predictions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT    NOT NULL,
			instrument  TEXT    NOT NULL,
			bar_ts      INTEGER NOT NULL,
			model       TEXT    NOT NULL,
			latency_ms  INTEGER NOT NULL,
			action      TEXT    NOT NULL,
			confidence  REAL    NOT NULL,
			input       TEXT    NOT NULL,
			prediction  TEXT    NOT NULL,
			accuracy    TEXT,
			reason      TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_predictions_instrument ON predictions(instrument, bar_ts);
	`)
	return err
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// PingContext verifies the connection is usable; it satisfies metrics.Pinger.
func (d *DB) PingContext(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

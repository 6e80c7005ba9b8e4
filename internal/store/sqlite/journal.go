package sqlite

import (
	"context"
	"fmt"
	"time"

	"signal-grader/internal/portfolio"
)

// TradeRecord is a row of the trades journal. Money columns keep the
// ledger's decimal text form.
type TradeRecord struct {
	ID           int64   `db:"id" json:"id"`
	RunID        string  `db:"run_id" json:"run_id"`
	Instrument   string  `db:"instrument" json:"instrument"`
	Action       string  `db:"action" json:"action"`
	Size         int64   `db:"size" json:"size"`
	Price        string  `db:"price" json:"price"`
	StopLoss     float64 `db:"stop_loss" json:"stop_loss"`
	TakeProfit   float64 `db:"take_profit" json:"take_profit"`
	Commission   string  `db:"commission" json:"commission"`
	BalanceAfter string  `db:"balance_after" json:"balance_after"`
	RealizedPnL  string  `db:"realized_pnl" json:"realized_pnl"`
	ExecutedAt   int64   `db:"executed_at" json:"executed_at"`
}

// RecordTrade appends an executed simulator trade to the journal.
func (d *DB) RecordTrade(ctx context.Context, runID, instrument string, t portfolio.Trade) error {
	_, err := d.db.NamedExecContext(ctx, `
		INSERT INTO trades (run_id, instrument, action, size, price, stop_loss, take_profit,
		                    commission, balance_after, realized_pnl, executed_at)
		VALUES (:run_id, :instrument, :action, :size, :price, :stop_loss, :take_profit,
		        :commission, :balance_after, :realized_pnl, :executed_at)`,
		TradeRecord{
			RunID:        runID,
			Instrument:   instrument,
			Action:       string(t.Action),
			Size:         t.Size,
			Price:        t.Price.String(),
			StopLoss:     t.StopLoss,
			TakeProfit:   t.TakeProfit,
			Commission:   t.Commission.String(),
			BalanceAfter: t.BalanceAfter.String(),
			RealizedPnL:  t.RealizedPnL.String(),
			ExecutedAt:   t.Timestamp.Unix(),
		})
	if err != nil {
		return fmt.Errorf("sqlite insert trade: %w", err)
	}
	return nil
}

// Trades returns up to limit journal rows, newest first. An empty runID
// returns rows from every run.
func (d *DB) Trades(ctx context.Context, runID string, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []TradeRecord
	var err error
	const cols = `id, run_id, instrument, action, size, price, stop_loss, take_profit,
		commission, balance_after, realized_pnl, executed_at`
	if runID == "" {
		err = d.db.SelectContext(ctx, &out, `SELECT `+cols+` FROM trades ORDER BY id DESC LIMIT ?`, limit)
	} else {
		err = d.db.SelectContext(ctx, &out, `SELECT `+cols+` FROM trades WHERE run_id = ? ORDER BY id DESC LIMIT ?`, runID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	return out, nil
}

// ExecutedTime returns ExecutedAt as a time.
func (r TradeRecord) ExecutedTime() time.Time {
	return time.Unix(r.ExecutedAt, 0).UTC()
}

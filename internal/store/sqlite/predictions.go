package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"signal-grader/internal/model"
)

// PredictionRecord is one prediction together with the request that
// produced it. Accuracy and Reason are empty until the bar is graded.
type PredictionRecord struct {
	ID         int64     `db:"id"`
	RunID      string    `db:"run_id"`
	Instrument string    `db:"instrument"`
	BarTS      int64     `db:"bar_ts"`
	Model      string    `db:"model"`
	LatencyMS  int64     `db:"latency_ms"`
	Action     string    `db:"action"`
	Confidence float64   `db:"confidence"`
	Input      string    `db:"input"`
	Prediction string    `db:"prediction"`
	Accuracy   *string   `db:"accuracy"`
	Reason     *string   `db:"reason"`
	CreatedAt  time.Time `db:"created_at"`
}

// NewPredictionRecord builds a record. input is marshalled as JSON.
func NewPredictionRecord(runID, instrument, modelName string, bar time.Time, latency time.Duration, input any, p model.Prediction) (PredictionRecord, error) {
	in, err := json.Marshal(input)
	if err != nil {
		return PredictionRecord{}, fmt.Errorf("encode input: %w", err)
	}
	out, err := json.Marshal(p)
	if err != nil {
		return PredictionRecord{}, fmt.Errorf("encode prediction: %w", err)
	}
	return PredictionRecord{
		RunID:      runID,
		Instrument: instrument,
		BarTS:      bar.Unix(),
		Model:      modelName,
		LatencyMS:  latency.Milliseconds(),
		Action:     string(p.Action),
		Confidence: p.Confidence,
		Input:      string(in),
		Prediction: string(out),
	}, nil
}

// SavePrediction inserts rec and returns its row id.
func (d *DB) SavePrediction(ctx context.Context, rec PredictionRecord) (int64, error) {
	res, err := d.db.NamedExecContext(ctx, `
		INSERT INTO predictions (run_id, instrument, bar_ts, model, latency_ms, action, confidence,
		                         input, prediction, accuracy, reason)
		VALUES (:run_id, :instrument, :bar_ts, :model, :latency_ms, :action, :confidence,
		        :input, :prediction, :accuracy, :reason)`, rec)
	if err != nil {
		return 0, fmt.Errorf("sqlite insert prediction: %w", err)
	}
	return res.LastInsertId()
}

// GradePrediction stores the verdict for a saved prediction.
func (d *DB) GradePrediction(ctx context.Context, id int64, accuracy, reason string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE predictions SET accuracy = ?, reason = ? WHERE id = ?`, accuracy, reason, id)
	return err
}

// Predictions returns the latest records for an instrument, newest first.
func (d *DB) Predictions(ctx context.Context, instrument string, limit int) ([]PredictionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []PredictionRecord
	err := d.db.SelectContext(ctx, &out, `
		SELECT id, run_id, instrument, bar_ts, model, latency_ms, action, confidence,
		       input, prediction, accuracy, reason, created_at
		FROM predictions
		WHERE instrument = ?
		ORDER BY bar_ts DESC, id DESC
		LIMIT ?`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query predictions: %w", err)
	}
	return out, nil
}

// Decode returns the stored prediction.
func (r PredictionRecord) Decode() (model.Prediction, error) {
	var p model.Prediction
	err := json.Unmarshal([]byte(r.Prediction), &p)
	return p, err
}

// Package report holds the JSON artifacts written after a run and the
// console summaries printed by the CLI.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"signal-grader/internal/accuracy"
	"signal-grader/internal/portfolio"
)

const (
	// DateLayout is used for start_date and end_date.
	DateLayout = "2006-01-02"
	fileStamp  = "20060102_150405"
)

// AccuracyMeta describes the run that produced an accuracy report.
type AccuracyMeta struct {
	RunID                 string `json:"run_id"`
	StartDate             string `json:"start_date"`
	EndDate               string `json:"end_date"`
	Instrument            string `json:"instrument"`
	TotalCandlesProcessed int    `json:"total_candles_processed"`
	SuccessfulPredictions int    `json:"successful_predictions"`
	SkippedIndices        int    `json:"skipped_indices"`
	LookaheadMinutes      int    `json:"lookahead_minutes"`
}

// Accuracy is the graded-prediction report.
type Accuracy struct {
	Metadata AccuracyMeta     `json:"metadata"`
	Metrics  accuracy.Metrics `json:"metrics"`
}

// PortfolioMeta summarises the simulated ledger.
type PortfolioMeta struct {
	RunID          string          `json:"run_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	FinalBalance   decimal.Decimal `json:"final_balance"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	TotalReturnPct float64         `json:"total_return_pct"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	TotalTrades    int             `json:"total_trades"`
	StartDate      string          `json:"start_date"`
	EndDate        string          `json:"end_date"`
}

// Portfolio is the simulated-trading report.
type Portfolio struct {
	Metadata       PortfolioMeta                 `json:"metadata"`
	Trades         []portfolio.Trade             `json:"trades"`
	FinalPositions map[string]portfolio.Position `json:"final_positions"`
}

// Clock is injectable for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Writer writes timestamped JSON artifacts into a directory.
type Writer struct {
	dir   string
	clock Clock
}

// NewWriter creates a Writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, clock: realClock{}}
}

// SetClock replaces the clock used for file names.
func (w *Writer) SetClock(c Clock) { w.clock = c }

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// WriteAccuracy writes accuracy_test_<stamp>.json and returns its path.
func (w *Writer) WriteAccuracy(r Accuracy) (string, error) {
	return w.write("accuracy_test", r)
}

// WritePortfolio writes backtest_results_<stamp>.json and returns its path.
func (w *Writer) WritePortfolio(r Portfolio) (string, error) {
	if r.Trades == nil {
		r.Trades = []portfolio.Trade{}
	}
	if r.FinalPositions == nil {
		r.FinalPositions = map[string]portfolio.Position{}
	}
	return w.write("backtest_results", r)
}

// WritePrediction writes pred_<stamp>.json holding the request and the
// prediction returned for it, and returns its path.
func (w *Writer) WritePrediction(request, prediction any) (string, error) {
	return w.write("pred", struct {
		Request    any `json:"request"`
		Prediction any `json:"prediction"`
	}{request, prediction})
}

func (w *Writer) write(prefix string, v any) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", prefix, err)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", prefix, w.clock.Now().Format(fileStamp)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

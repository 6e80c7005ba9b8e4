package main

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"signal-grader/internal/accuracy"
	"signal-grader/internal/report"
	"signal-grader/internal/store/sqlite"
	"signal-grader/internal/validation"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		runID string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the stored trade journal and live prediction accuracy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := sqlite.Open(a.cfg.SQLite.Path, a.log)
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			trades, err := db.Trades(cmd.Context(), runID, limit)
			if err != nil {
				return err
			}
			report.PrintTrades(out, tradeRows(trades))

			preds, err := db.Predictions(cmd.Context(), a.cfg.Instrument.ID, limit)
			if err != nil {
				return err
			}
			printLiveAccuracy(out, a.cfg.Instrument.ID, preds, a.cfg.Backtest.HighConfidence)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Only show trades from this run id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to read")
	return cmd
}

func tradeRows(trades []sqlite.TradeRecord) []report.TradeRow {
	rows := make([]report.TradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, report.TradeRow{
			Time:        t.ExecutedTime().Format("2006-01-02 15:04"),
			Action:      t.Action,
			Size:        t.Size,
			Price:       fixed(t.Price),
			Commission:  fixed(t.Commission),
			RealizedPnL: fixed(t.RealizedPnL),
			Balance:     fixed(t.BalanceAfter),
		})
	}
	return rows
}

func fixed(s string) string {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.StringFixed(2)
}

// printLiveAccuracy aggregates the graded live predictions. Ungraded rows
// count as pending.
func printLiveAccuracy(w io.Writer, instrument string, recs []sqlite.PredictionRecord, highConfidence float64) {
	agg := accuracy.New(highConfidence)
	for _, r := range recs {
		p, err := r.Decode()
		if err != nil {
			continue
		}
		res := validation.Result{Accuracy: validation.Pending, Reason: validation.ReasonNotEnoughData}
		if r.Accuracy != nil {
			res.Accuracy = *r.Accuracy
			if r.Reason != nil {
				res.Reason = *r.Reason
			}
		}
		agg.Add(p, res)
	}
	m := agg.Metrics()
	fmt.Fprintln(w)
	report.PrintAccuracy(w, report.Accuracy{
		Metadata: report.AccuracyMeta{Instrument: instrument, SuccessfulPredictions: m.Total},
		Metrics:  m,
	})
}

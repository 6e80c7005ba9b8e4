package report

import (
	"fmt"
	"io"
	"strings"
)

const rule = "============================================================"

// PrintAccuracy writes a console summary of an accuracy report.
func PrintAccuracy(w io.Writer, r Accuracy) {
	m := r.Metrics
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "PREDICTION ACCURACY  %s  %s .. %s\n", r.Metadata.Instrument, r.Metadata.StartDate, r.Metadata.EndDate)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Candles processed:     %d\n", r.Metadata.TotalCandlesProcessed)
	fmt.Fprintf(w, "Predictions graded:    %d (skipped %d)\n", m.Total, r.Metadata.SkippedIndices)
	fmt.Fprintf(w, "Correct:               %d\n", m.Correct)
	fmt.Fprintf(w, "Incorrect:             %d\n", m.Incorrect)
	fmt.Fprintf(w, "Partial / pending:     %d / %d\n", m.Partial, m.Pending)
	fmt.Fprintf(w, "Accuracy:              %.2f%%\n", m.AccuracyRate)
	fmt.Fprintf(w, "Completed accuracy:    %.2f%%\n", m.CompletedAccuracyRate)
	fmt.Fprintf(w, "BUY precision:         %.2f%%\n", m.PrecisionBuy)
	fmt.Fprintf(w, "SELL precision:        %.2f%%\n", m.PrecisionSell)
	fmt.Fprintf(w, "High-confidence wins:  %.2f%%\n", m.WinRateHighConfidence)
	fmt.Fprintln(w, rule)
}

// PrintPortfolio writes a console summary of a portfolio report.
func PrintPortfolio(w io.Writer, r Portfolio) {
	md := r.Metadata
	fmt.Fprintf(w, "Return:        %.2f%%\n", md.TotalReturnPct)
	fmt.Fprintf(w, "Final balance: $%s (equity $%s)\n", md.FinalBalance.StringFixed(2), md.FinalEquity.StringFixed(2))
	fmt.Fprintf(w, "Realized P&L:  $%s\n", md.RealizedPnL.StringFixed(2))
	fmt.Fprintf(w, "Max drawdown:  %.2f%%\n", md.MaxDrawdownPct)
	fmt.Fprintf(w, "Trades:        %d\n", md.TotalTrades)
	for sym, pos := range r.FinalPositions {
		fmt.Fprintf(w, "Open:          %s %d @ $%s\n", sym, pos.Quantity, pos.AvgPrice.StringFixed(2))
	}
}

// TradeRow is one line of a journal listing.
type TradeRow struct {
	Time        string
	Action      string
	Size        int64
	Price       string
	Commission  string
	RealizedPnL string
	Balance     string
}

// PrintTrades writes a fixed-width table of journal rows.
func PrintTrades(w io.Writer, rows []TradeRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no trades")
		return
	}
	fmt.Fprintf(w, "%-20s %-5s %8s %12s %10s %12s %14s\n", "TIME", "SIDE", "SIZE", "PRICE", "COMM", "PNL", "BALANCE")
	fmt.Fprintln(w, strings.Repeat("-", 86))
	for _, r := range rows {
		fmt.Fprintf(w, "%-20s %-5s %8d %12s %10s %12s %14s\n",
			r.Time, r.Action, r.Size, r.Price, r.Commission, r.RealizedPnL, r.Balance)
	}
}

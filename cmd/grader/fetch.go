package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"signal-grader/internal/logger"
	"signal-grader/internal/report"
	"signal-grader/internal/store/sqlite"
)

func newFetchCmd(a *app) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download klines from Binance into the candle store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg
			if from != "" {
				cfg.Backtest.Start = from
			}
			if to != "" {
				cfg.Backtest.End = to
			}
			start, end, err := cfg.BacktestWindow(time.Now())
			if err != nil {
				return err
			}

			l := logger.Component("fetch")
			db, err := sqlite.Open(cfg.SQLite.Path, l)
			if err != nil {
				return err
			}
			defer db.Close()

			// resume after the newest stored candle when it is inside the window
			if last, err := db.LastTimestamp(ctx, cfg.Instrument.ID); err == nil && last.After(start) && last.Before(end) && from == "" {
				start = last
			}

			n, err := newFetcher(cfg, l).Sync(ctx, db, cfg.Instrument.ID, start, end)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d candles stored for [%s, %s)\n",
				cfg.Instrument.ID, n, start.Format(report.DateLayout), end.Format(report.DateLayout))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day to download (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last day to download, inclusive (YYYY-MM-DD)")
	return cmd
}

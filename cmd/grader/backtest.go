package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"signal-grader/internal/backtest"
	"signal-grader/internal/logger"
	"signal-grader/internal/metrics"
	"signal-grader/internal/report"
	"signal-grader/internal/series"
	"signal-grader/internal/store/sqlite"
)

func newBacktestCmd(a *app) *cobra.Command {
	var (
		fetch    bool
		noCache  bool
		serveMet bool
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Grade predictions over the configured historical window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runBacktest(ctx, fetch, !noCache, serveMet)
		},
	}
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Download missing candles from Binance before the run")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Always call the prediction service")
	cmd.Flags().BoolVar(&serveMet, "serve-metrics", false, "Expose /metrics and /healthz while running")
	return cmd
}

func (a *app) runBacktest(ctx context.Context, fetch, useCache, serveMetrics bool) error {
	cfg := a.cfg
	runID := logger.GenerateTraceID()
	ctx = logger.WithTraceID(ctx, runID)
	l := logger.FromContext(ctx, a.log)

	start, end, err := cfg.BacktestWindow(time.Now())
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.SQLite.Path, l)
	if err != nil {
		return err
	}
	defer db.Close()

	if fetch {
		n, err := newFetcher(cfg, l).Sync(ctx, db, cfg.Instrument.ID, start, end)
		if err != nil {
			return fmt.Errorf("fetch candles: %w", err)
		}
		l.Info().Int("candles", n).Msg("candles downloaded")
	}

	candles, err := db.Candles(ctx, cfg.Instrument.ID, start, end)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no candles for %s in [%s, %s); run `grader fetch` or pass --fetch",
			cfg.Instrument.ID, start.Format(report.DateLayout), end.Format(report.DateLayout))
	}
	s, err := series.FromCandles(candles)
	if err != nil {
		return err
	}
	l.Info().Int("candles", s.Len()).Time("from", start).Time("to", end).Msg("candles loaded")

	client, err := newPredictionClient(cfg, l)
	if err != nil {
		return err
	}

	m := metrics.New()
	if serveMetrics && cfg.Metrics.Addr != "" {
		health := metrics.NewHealthStatus(false)
		srv := metrics.NewServer(cfg.Metrics.Addr, m, health, l)
		srv.Start()
		defer shutdown(srv.Stop, l)
	}

	opts := []backtest.Option{
		backtest.WithJournal(db),
		backtest.WithMetrics(m),
		backtest.WithLogger(l),
		backtest.WithRunID(runID),
	}
	if useCache && cfg.Backtest.UseCache {
		if cache := openCache(ctx, cfg, l); cache != nil {
			defer cache.Close()
			opts = append(opts, backtest.WithCache(cache))
		}
	}

	rcfg, err := runnerConfig(cfg, start, end)
	if err != nil {
		return err
	}
	runner := backtest.New(rcfg, client, opts...)

	res, runErr := runner.Run(ctx, s)
	if res == nil {
		return runErr
	}
	if errors.Is(runErr, context.Canceled) {
		l.Warn().Msg("run interrupted, writing partial results")
	}

	w := report.NewWriter(cfg.OutputDir)
	accPath, err := w.WriteAccuracy(res.Accuracy)
	if err != nil {
		return err
	}
	pfPath, err := w.WritePortfolio(res.Portfolio)
	if err != nil {
		return err
	}

	report.PrintAccuracy(os.Stdout, res.Accuracy)
	report.PrintPortfolio(os.Stdout, res.Portfolio)
	fmt.Fprintf(os.Stdout, "\nResults: %s\n         %s\n", accPath, pfPath)
	return runErr
}

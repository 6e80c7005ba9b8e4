package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"signal-grader/internal/gateway"
	"signal-grader/internal/live"
	"signal-grader/internal/logger"
	"signal-grader/internal/metrics"
	"signal-grader/internal/model"
	"signal-grader/internal/report"
	"signal-grader/internal/store/sqlite"
)

func newLiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Request a signal for every new bar and stream the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runLive(ctx)
		},
	}
}

func (a *app) runLive(ctx context.Context) error {
	cfg := a.cfg
	runID := logger.GenerateTraceID()
	ctx = logger.WithTraceID(ctx, runID)
	l := logger.FromContext(ctx, a.log)

	db, err := sqlite.Open(cfg.SQLite.Path, l)
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := newPredictionClient(cfg, l)
	if err != nil {
		return err
	}

	m := metrics.New()
	hub := gateway.NewHub(256, m.WSClients, l)
	defer hub.Close()

	cache := openCache(ctx, cfg, l)
	health := metrics.NewHealthStatus(cache != nil)
	srv := metrics.NewServer(cfg.Metrics.Addr, m, health, l)
	srv.Handle("/ws", hub)
	srv.Start()
	defer shutdown(srv.Stop, l)

	var redisPinger metrics.Pinger
	if cache != nil {
		defer cache.Close()
		redisPinger = cache
	}
	health.Check(ctx, redisPinger, db)
	health.StartLivenessChecker(ctx, redisPinger, db, 15*time.Second)

	var source model.CandleSource = db
	opts := []live.Option{
		live.WithStore(db),
		live.WithBroadcaster(hub),
		live.WithNotifier(newNotifier(cfg, l)),
		live.WithMetrics(m),
		live.WithHealth(health),
		live.WithLogger(l),
	}
	if cfg.Live.Source == "binance" {
		source = newFetcher(cfg, l)
		opts = append(opts, live.WithSink(db))
	}
	if cache != nil {
		opts = append(opts, live.WithPublisher(cache))
	}
	if cfg.Live.SaveJSON {
		opts = append(opts, live.WithArtifacts(report.NewWriter(cfg.OutputDir)))
	}

	loop := live.New(live.Config{
		Instrument:      cfg.Instrument.ID,
		ModelName:       client.Model(),
		RunID:           runID,
		Interval:        cfg.Live.Interval,
		History:         cfg.LiveHistory(),
		RefreshEvery:    cfg.Live.RefreshEvery,
		AlertConfidence: cfg.Live.AlertConfidence,
		AccountEquity:   cfg.Risk.InitialBalance,
		Params:          requestParams(cfg),
		Validation:      validationConfig(cfg),
	}, source, client, opts...)

	return loop.Run(ctx)
}

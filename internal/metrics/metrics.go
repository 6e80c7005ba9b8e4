// Package metrics exposes Prometheus metrics and a health endpoint for the
// backtest and live loops.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds all Prometheus metrics for a run.
type Metrics struct {
	Registry *prometheus.Registry

	BarsProcessed prometheus.Counter
	BarsSkipped   *prometheus.CounterVec // labels: reason

	Predictions       *prometheus.CounterVec // labels: action
	PredictionCache   *prometheus.CounterVec // labels: result=hit|miss|error
	PredictionLatency prometheus.Histogram

	Verdicts *prometheus.CounterVec // labels: accuracy

	Trades          *prometheus.CounterVec // labels: action
	TradeRejections *prometheus.CounterVec // labels: reason
	Equity          prometheus.Gauge
	DrawdownPct     prometheus.Gauge

	IndicatorComputeDur prometheus.Histogram
	CandlesFetched      prometheus.Counter
	Alerts              *prometheus.CounterVec // labels: backend
	WSClients           prometheus.Gauge
}

// New creates the metrics on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,

		BarsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grader_bars_processed_total",
			Help: "Bars for which a prediction was graded",
		}),
		BarsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_bars_skipped_total",
			Help: "Bars skipped, by reason",
		}, []string{"reason"}),

		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_predictions_total",
			Help: "Predictions received, by action",
		}, []string{"action"}),
		PredictionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_prediction_cache_total",
			Help: "Prediction cache lookups, by result",
		}, []string{"result"}),
		PredictionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grader_prediction_latency_seconds",
			Help:    "Prediction service round-trip latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),

		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_verdicts_total",
			Help: "Validation verdicts, by accuracy class",
		}, []string{"accuracy"}),

		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_trades_total",
			Help: "Simulated trades executed, by action",
		}, []string{"action"}),
		TradeRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_trade_rejections_total",
			Help: "Simulated trades rejected, by reason",
		}, []string{"reason"}),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grader_equity",
			Help: "Simulated account equity marked at the last close",
		}),
		DrawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grader_drawdown_pct",
			Help: "Current drawdown from peak equity, percent",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grader_indicator_compute_duration_seconds",
			Help:    "Indicator snapshot compute latency",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		CandlesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grader_candles_fetched_total",
			Help: "Candles loaded from the market data source",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grader_alerts_total",
			Help: "Trade alerts sent, by backend",
		}, []string{"backend"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grader_ws_clients",
			Help: "Connected websocket clients",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BarsProcessed,
		m.BarsSkipped,
		m.Predictions,
		m.PredictionCache,
		m.PredictionLatency,
		m.Verdicts,
		m.Trades,
		m.TradeRejections,
		m.Equity,
		m.DrawdownPct,
		m.IndicatorComputeDur,
		m.CandlesFetched,
		m.Alerts,
		m.WSClients,
	)
	return m
}

// Pinger is satisfied by *sql.DB and by a Redis client adapter.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthStatus tracks dependency health for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastBarTime    time.Time `json:"last_bar_time"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	redisRequired bool
}

// NewHealthStatus returns a health status. When redisRequired is false a
// missing Redis does not degrade the status.
func NewHealthStatus(redisRequired bool) *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), redisRequired: redisRequired}
}

// SetLastBarTime records the newest bar processed.
func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

// Check probes each dependency and records latency and connectivity.
func (h *HealthStatus) Check(ctx context.Context, redis, sqlite Pinger) {
	probe := func(p Pinger) (bool, float64) {
		start := time.Now()
		err := p.PingContext(ctx)
		return err == nil, float64(time.Since(start).Microseconds()) / 1000.0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if redis != nil {
		h.RedisConnected, h.RedisLatencyMs = probe(redis)
	}
	if sqlite != nil {
		h.SQLiteOK, h.SQLiteLatencyMs = probe(sqlite)
	}
	h.LastCheckAt = time.Now()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, redis, sqlite Pinger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.Check(probeCtx, redis, sqlite)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.SQLiteOK || (h.redisRequired && !h.RedisConnected) {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Second).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastBarTime     string  `json:"last_bar_time"`
		BarAge          string  `json:"bar_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and any extra routes.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
	log  zerolog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus, l zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv:  &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log:  l.With().Str("component", "metrics").Logger(),
	}
}

// Handle registers an extra route, e.g. the websocket endpoint.
func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

// Handler returns the server's router.
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("server error")
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Package live runs the prediction pipeline on a timer against the newest
// candles and fans the results out to storage, alerts and subscribers.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"signal-grader/internal/gateway"
	"signal-grader/internal/indicator"
	"signal-grader/internal/metrics"
	"signal-grader/internal/model"
	"signal-grader/internal/notification"
	"signal-grader/internal/pattern"
	"signal-grader/internal/prediction"
	"signal-grader/internal/series"
	"signal-grader/internal/store/sqlite"
	"signal-grader/internal/validation"
)

// ErrNoCandles is returned by Tick when the source has nothing for the window.
var ErrNoCandles = errors.New("live: no candles")

// Predictor produces a signal for a request.
type Predictor interface {
	Predict(ctx context.Context, req prediction.Request) (model.Prediction, error)
}

// PredictionStore persists live predictions and their later grades.
type PredictionStore interface {
	SavePrediction(ctx context.Context, rec sqlite.PredictionRecord) (int64, error)
	GradePrediction(ctx context.Context, id int64, accuracy, reason string) error
}

// Publisher keeps the latest signal available to other processes.
type Publisher interface {
	PublishLatest(ctx context.Context, instrument string, payload []byte) error
}

// Broadcaster pushes events to connected clients.
type Broadcaster interface {
	Publish(eventType, instrument string, payload any) (int64, error)
}

// ArtifactWriter saves each request/prediction pair.
type ArtifactWriter interface {
	WritePrediction(request, prediction any) (string, error)
}

// Config for the loop.
type Config struct {
	Instrument      string
	ModelName       string
	RunID           string
	Interval        time.Duration // tick period, default 20s
	History         time.Duration // candles loaded on a full refresh, default 48h
	RefreshEvery    time.Duration // full reload period, default 60s
	AlertConfidence float64       // default 80
	AccountEquity   float64
	Params          prediction.Params
	Indicators      indicator.Config
	Validation      validation.Config
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 20 * time.Second
	}
	if c.History <= 0 {
		c.History = 48 * time.Hour
	}
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = time.Minute
	}
	if c.AlertConfidence <= 0 {
		c.AlertConfidence = 80
	}
	if c.Indicators.MinCandles == 0 {
		c.Indicators = indicator.DefaultConfig()
	}
}

// Signal is the event published for every prediction.
type Signal struct {
	ID         int64              `json:"id,omitempty"`
	Instrument string             `json:"instrument"`
	BarTime    time.Time          `json:"bar_time"`
	Price      float64            `json:"price"`
	LatencyMS  int64              `json:"latency_ms"`
	Prediction model.Prediction   `json:"prediction"`
	Indicators indicator.Snapshot `json:"indicators"`
	Patterns   pattern.Set        `json:"patterns"`
	Alerted    bool               `json:"alerted"`
}

// Verdict is published when an earlier live prediction can be graded.
type Verdict struct {
	ID         int64             `json:"id,omitempty"`
	Instrument string            `json:"instrument"`
	BarTime    time.Time         `json:"bar_time"`
	Prediction model.Prediction  `json:"prediction"`
	Result     validation.Result `json:"validation"`
}

type pending struct {
	id  int64
	bar time.Time
	p   model.Prediction
}

// Option configures a Loop.
type Option func(*Loop)

func WithStore(s PredictionStore) Option          { return func(l *Loop) { l.store = s } }
func WithPublisher(p Publisher) Option            { return func(l *Loop) { l.publisher = p } }
func WithBroadcaster(b Broadcaster) Option        { return func(l *Loop) { l.hub = b } }
func WithNotifier(n notification.Notifier) Option { return func(l *Loop) { l.notifier = n } }
func WithArtifacts(w ArtifactWriter) Option       { return func(l *Loop) { l.artifacts = w } }
func WithSink(s model.CandleSink) Option          { return func(l *Loop) { l.sink = s } }
func WithMetrics(m *metrics.Metrics) Option       { return func(l *Loop) { l.metrics = m } }
func WithHealth(h *metrics.HealthStatus) Option   { return func(l *Loop) { l.health = h } }
func WithLogger(lg zerolog.Logger) Option         { return func(l *Loop) { l.log = lg } }
func WithClock(now func() time.Time) Option       { return func(l *Loop) { l.now = now } }

// Loop owns the live candle series. Tick must not be called concurrently.
type Loop struct {
	cfg       Config
	source    model.CandleSource
	predictor Predictor
	engine    *indicator.Engine
	validator *validation.Validator

	store     PredictionStore
	publisher Publisher
	hub       Broadcaster
	notifier  notification.Notifier
	artifacts ArtifactWriter
	sink      model.CandleSink
	metrics   *metrics.Metrics
	health    *metrics.HealthStatus
	log       zerolog.Logger
	now       func() time.Time

	series   *series.Series
	lastFull time.Time
	lastBar  time.Time
	pending  []pending
}

// New creates a Loop reading candles from src.
func New(cfg Config, src model.CandleSource, p Predictor, opts ...Option) *Loop {
	cfg.applyDefaults()
	l := &Loop{
		cfg:       cfg,
		source:    src,
		predictor: p,
		engine:    indicator.NewEngine(cfg.Indicators),
		validator: validation.New(cfg.Validation),
		log:       zerolog.Nop(),
		now:       time.Now,
		series:    series.New(0),
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = metrics.New()
	}
	l.log = l.log.With().Str("component", "live").Str("instrument", cfg.Instrument).Logger()
	return l
}

// Run ticks immediately and then every Interval until ctx is cancelled.
// Tick errors are logged and never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Dur("interval", l.cfg.Interval).Msg("live loop started")
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := l.Tick(ctx); err != nil && ctx.Err() == nil {
			l.log.Warn().Err(err).Msg("tick failed")
		}
		select {
		case <-ctx.Done():
			l.log.Info().Msg("live loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick refreshes candles, grades matured predictions and, when a new bar has
// closed since the previous tick, requests and publishes a new signal. It
// returns nil without error when there is no new bar.
func (l *Loop) Tick(ctx context.Context) (*Signal, error) {
	if err := l.refresh(ctx); err != nil {
		return nil, err
	}
	l.grade(ctx)

	last, ok := l.series.Last()
	if !ok {
		return nil, ErrNoCandles
	}
	if !last.Time.After(l.lastBar) {
		return nil, nil
	}
	idx := l.series.Len() - 1

	t0 := time.Now()
	snap, err := l.engine.At(l.series, idx)
	l.metrics.IndicatorComputeDur.Observe(time.Since(t0).Seconds())
	if err != nil {
		l.metrics.BarsSkipped.WithLabelValues("insufficient_history").Inc()
		return nil, fmt.Errorf("indicators at %s: %w", last.Time.Format(time.RFC3339), err)
	}
	window := l.series.Window(idx)
	patterns := pattern.Detect(window, *snap)
	req, err := prediction.BuildRequest(window, snap, patterns, l.cfg.Params,
		prediction.Account{Equity: l.cfg.AccountEquity})
	if err != nil {
		return nil, err
	}

	t0 = time.Now()
	p, err := l.predictor.Predict(ctx, req)
	latency := time.Since(t0)
	if err != nil {
		l.metrics.BarsSkipped.WithLabelValues("prediction_failed").Inc()
		return nil, fmt.Errorf("predict: %w", err)
	}
	l.lastBar = last.Time
	l.metrics.BarsProcessed.Inc()
	l.metrics.Predictions.WithLabelValues(string(p.Action)).Inc()
	l.metrics.PredictionLatency.Observe(latency.Seconds())
	if l.health != nil {
		l.health.SetLastBarTime(last.Time)
	}

	sig := &Signal{
		Instrument: l.cfg.Instrument,
		BarTime:    last.Time,
		Price:      last.Close,
		LatencyMS:  latency.Milliseconds(),
		Prediction: p,
		Indicators: *snap,
		Patterns:   patterns,
	}

	l.log.Info().
		Time("bar", last.Time).
		Str("action", string(p.Action)).
		Float64("confidence", p.Confidence).
		Int64("size", p.Size).
		Dur("latency", latency).
		Msg("prediction")

	sig.ID = l.persist(ctx, req, p, last.Time, latency)
	l.pending = append(l.pending, pending{id: sig.ID, bar: last.Time, p: p})

	var alert *notification.Alert
	if notification.ShouldAlert(p, l.cfg.AlertConfidence) {
		a := notification.TradeAlert(p, l.cfg.Instrument)
		alert = &a
		if l.notifier != nil {
			if err := l.notifier.Send(ctx, a); err != nil {
				l.log.Warn().Err(err).Msg("alert delivery failed")
			} else {
				sig.Alerted = true
				l.metrics.Alerts.WithLabelValues("all").Inc()
			}
		}
	}

	l.publish(ctx, gateway.EventPrediction, sig)
	if alert != nil {
		l.publish(ctx, gateway.EventAlert, alert)
	}
	return sig, nil
}

// refresh does a full reload every RefreshEvery, otherwise fetches only the
// candles from the newest known bar onwards.
func (l *Loop) refresh(ctx context.Context) error {
	now := l.now()
	last, ok := l.series.Last()

	if !ok || now.Sub(l.lastFull) >= l.cfg.RefreshEvery {
		candles, err := l.source.Candles(ctx, l.cfg.Instrument, now.Add(-l.cfg.History), now)
		if err != nil {
			return fmt.Errorf("full refresh: %w", err)
		}
		s := series.New(len(candles))
		s.Merge(candles)
		l.series = s
		l.lastFull = now
		l.metrics.CandlesFetched.Add(float64(len(candles)))
		l.save(ctx, candles)
		l.log.Debug().Int("candles", s.Len()).Msg("full refresh")
		return nil
	}

	candles, err := l.source.Candles(ctx, l.cfg.Instrument, last.Time, now)
	if err != nil {
		return fmt.Errorf("incremental refresh: %w", err)
	}
	added := l.series.Merge(candles)
	l.metrics.CandlesFetched.Add(float64(len(candles)))
	if added > 0 {
		l.save(ctx, candles)
	}
	return nil
}

func (l *Loop) save(ctx context.Context, candles []model.Candle) {
	if l.sink == nil || len(candles) == 0 {
		return
	}
	if err := l.sink.SaveCandles(ctx, l.cfg.Instrument, candles); err != nil {
		l.log.Warn().Err(err).Msg("candle save failed")
	}
}

// grade validates pending predictions whose forward window is complete.
// Predictions whose bar has dropped out of the loaded history are discarded.
func (l *Loop) grade(ctx context.Context) {
	keep := l.pending[:0]
	for _, pd := range l.pending {
		idx, ok := l.series.IndexOf(pd.bar)
		if !ok {
			continue
		}
		res := l.validator.Validate(pd.p, idx, l.series)
		if res.Accuracy == validation.Pending {
			keep = append(keep, pd)
			continue
		}
		l.metrics.Verdicts.WithLabelValues(res.Accuracy).Inc()
		if l.store != nil && pd.id > 0 {
			if err := l.store.GradePrediction(ctx, pd.id, res.Accuracy, res.Reason); err != nil {
				l.log.Warn().Err(err).Int64("id", pd.id).Msg("grade save failed")
			}
		}
		l.log.Info().Time("bar", pd.bar).Str("action", string(pd.p.Action)).
			Str("accuracy", res.Accuracy).Str("reason", res.Reason).Msg("prediction graded")
		l.publish(ctx, gateway.EventVerdict, Verdict{
			ID: pd.id, Instrument: l.cfg.Instrument, BarTime: pd.bar, Prediction: pd.p, Result: res,
		})
	}
	l.pending = keep
}

func (l *Loop) persist(ctx context.Context, req prediction.Request, p model.Prediction, bar time.Time, latency time.Duration) int64 {
	if l.artifacts != nil {
		if _, err := l.artifacts.WritePrediction(req, p); err != nil {
			l.log.Warn().Err(err).Msg("prediction artifact write failed")
		}
	}
	if l.store == nil {
		return 0
	}
	rec, err := sqlite.NewPredictionRecord(l.cfg.RunID, l.cfg.Instrument, l.cfg.ModelName, bar, latency, req, p)
	if err != nil {
		l.log.Warn().Err(err).Msg("prediction record encode failed")
		return 0
	}
	id, err := l.store.SavePrediction(ctx, rec)
	if err != nil {
		l.log.Warn().Err(err).Msg("prediction save failed")
		return 0
	}
	return id
}

func (l *Loop) publish(ctx context.Context, event string, v any) {
	if l.hub != nil {
		if _, err := l.hub.Publish(event, l.cfg.Instrument, v); err != nil {
			l.log.Warn().Err(err).Str("event", event).Msg("broadcast failed")
		}
	}
	if l.publisher != nil && event == gateway.EventPrediction {
		payload, err := json.Marshal(v)
		if err == nil {
			err = l.publisher.PublishLatest(ctx, l.cfg.Instrument, payload)
		}
		if err != nil {
			l.log.Warn().Err(err).Msg("publish latest failed")
		}
	}
}

// Pending returns the number of predictions awaiting a full forward window.
func (l *Loop) Pending() int { return len(l.pending) }

// Series returns the owned candle series.
func (l *Loop) Series() *series.Series { return l.series }

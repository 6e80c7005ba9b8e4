// Package backtest replays a historical candle series bar by bar: it asks
// the prediction service for a signal at each bar, grades the signal against
// the bars that followed and trades it on a simulated ledger.
package backtest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signal-grader/internal/accuracy"
	"signal-grader/internal/indicator"
	"signal-grader/internal/metrics"
	"signal-grader/internal/model"
	"signal-grader/internal/pattern"
	"signal-grader/internal/portfolio"
	"signal-grader/internal/prediction"
	"signal-grader/internal/report"
	"signal-grader/internal/series"
	"signal-grader/internal/validation"
)

// Skip reasons, used as metric labels.
const (
	SkipInsufficientHistory = "insufficient_history"
	SkipRequest             = "request_build"
	SkipPrediction          = "prediction_failed"
	SkipMalformed           = "malformed_prediction"
)

// Predictor produces a signal for a request.
type Predictor interface {
	Predict(ctx context.Context, req prediction.Request) (model.Prediction, error)
}

// TradeJournal records executed simulator trades.
type TradeJournal interface {
	RecordTrade(ctx context.Context, runID, instrument string, t portfolio.Trade) error
}

// Config for a run.
type Config struct {
	Instrument     string
	Start, End     time.Time // report dates; default to the first and last candle
	StartIndex     int       // first bar asked for a prediction, default 50
	BarMinutes     int       // bar length for lookahead_minutes, default 5
	InitialBalance float64
	Costs          portfolio.Costs
	Params         prediction.Params
	HighConfidence float64 // threshold for win_rate_high_confidence
	LogConfidence  float64 // verdicts at or above this confidence are logged, default 80
	Indicators     indicator.Config
	Validation     validation.Config
}

func (c *Config) applyDefaults() {
	if c.StartIndex <= 0 {
		c.StartIndex = 50
	}
	if c.BarMinutes <= 0 {
		c.BarMinutes = 5
	}
	if c.LogConfidence <= 0 {
		c.LogConfidence = 80
	}
	if c.Indicators.MinCandles == 0 {
		c.Indicators = indicator.DefaultConfig()
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithCache serves predictions from c before calling the predictor and
// stores fresh ones in it.
func WithCache(c model.PredictionCache) Option { return func(r *Runner) { r.cache = c } }

// WithJournal records every executed trade.
func WithJournal(j TradeJournal) Option { return func(r *Runner) { r.journal = j } }

// WithMetrics reports progress on m.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithLogger sets the run logger.
func WithLogger(l zerolog.Logger) Option { return func(r *Runner) { r.log = l } }

// WithRunID overrides the generated run id.
func WithRunID(id string) Option { return func(r *Runner) { r.runID = id } }

// Runner executes one backtest. It is not safe for concurrent use.
type Runner struct {
	cfg       Config
	engine    *indicator.Engine
	validator *validation.Validator
	predictor Predictor

	cache   model.PredictionCache
	journal TradeJournal
	metrics *metrics.Metrics
	log     zerolog.Logger
	runID   string
}

// New creates a Runner.
func New(cfg Config, p Predictor, opts ...Option) *Runner {
	cfg.applyDefaults()
	r := &Runner{
		cfg:       cfg,
		engine:    indicator.NewEngine(cfg.Indicators),
		validator: validation.New(cfg.Validation),
		predictor: p,
		log:       zerolog.Nop(),
		runID:     uuid.NewString(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	r.log = r.log.With().Str("component", "backtest").Str("run_id", r.runID).Logger()
	return r
}

// RunID returns the id stamped on journal rows and reports.
func (r *Runner) RunID() string { return r.runID }

// Result is the outcome of a run.
type Result struct {
	Accuracy  report.Accuracy
	Portfolio report.Portfolio
	Entries   []accuracy.Entry
	Skipped   map[string]int
}

// Run processes every bar in [StartIndex, n-lookahead). A failure at one bar
// skips that bar only. If ctx is cancelled the partial result is returned
// together with ctx.Err().
func (r *Runner) Run(ctx context.Context, s *series.Series) (*Result, error) {
	if s == nil || s.Len() == 0 {
		return nil, errors.New("backtest: empty series")
	}

	n := s.Len()
	lookahead := r.validator.Lookahead()
	sim := portfolio.NewSimulator(r.cfg.InitialBalance, r.cfg.Costs)
	agg := accuracy.New(r.cfg.HighConfidence)
	var dd portfolio.Drawdown
	dd.Observe(sim.Balance())

	res := &Result{Skipped: make(map[string]int)}
	successful := 0

	r.log.Info().Str("instrument", r.cfg.Instrument).Int("candles", n).
		Int("from", r.cfg.StartIndex).Int("to", n-lookahead).Msg("backtest started")

	var runErr error
	for idx := r.cfg.StartIndex; idx < n-lookahead; idx++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		bar := s.At(idx)

		t0 := time.Now()
		snap, err := r.engine.At(s, idx)
		r.metrics.IndicatorComputeDur.Observe(time.Since(t0).Seconds())
		if err != nil {
			r.skip(res, SkipInsufficientHistory, bar, err)
			continue
		}

		window := s.Window(idx)
		patterns := pattern.Detect(window, *snap)
		req, err := prediction.BuildRequest(window, snap, patterns, r.cfg.Params, account(sim, bar.Close))
		if err != nil {
			r.skip(res, SkipRequest, bar, err)
			continue
		}

		p, err := r.predict(ctx, req, bar.Time)
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			reason := SkipPrediction
			if errors.Is(err, prediction.ErrMalformedPrediction) {
				reason = SkipMalformed
			}
			r.skip(res, reason, bar, err)
			continue
		}
		successful++
		r.metrics.BarsProcessed.Inc()
		r.metrics.Predictions.WithLabelValues(string(p.Action)).Inc()

		verdict := r.validator.Validate(p, idx, s)
		agg.Add(p, verdict)
		res.Entries = append(res.Entries, accuracy.Entry{Prediction: p, Result: verdict})
		r.metrics.Verdicts.WithLabelValues(verdict.Accuracy).Inc()

		r.trade(ctx, sim, p, bar)

		eq := sim.Equity(sim.MarkPrices(bar.Close))
		r.metrics.Equity.Set(eq.InexactFloat64())
		r.metrics.DrawdownPct.Set(dd.Observe(eq))

		if p.Confidence >= r.cfg.LogConfidence {
			r.log.Info().
				Time("bar", bar.Time).
				Str("action", string(p.Action)).
				Float64("price", bar.Close).
				Float64("confidence", p.Confidence).
				Str("accuracy", verdict.Accuracy).
				Str("reason", verdict.Reason).
				Msg("high-confidence verdict")
		}
	}

	last := s.At(n - 1)
	start, end := r.cfg.Start, r.cfg.End
	if start.IsZero() {
		start = s.At(0).Time
	}
	if end.IsZero() {
		end = last.Time
	}
	skipped := 0
	for _, c := range res.Skipped {
		skipped += c
	}

	res.Accuracy = report.Accuracy{
		Metadata: report.AccuracyMeta{
			RunID:                 r.runID,
			StartDate:             start.Format(report.DateLayout),
			EndDate:               end.Format(report.DateLayout),
			Instrument:            r.cfg.Instrument,
			TotalCandlesProcessed: n,
			SuccessfulPredictions: successful,
			SkippedIndices:        skipped,
			LookaheadMinutes:      lookahead * r.cfg.BarMinutes,
		},
		Metrics: agg.Metrics(),
	}

	sum := sim.Summary(sim.MarkPrices(last.Close))
	state := sim.State()
	res.Portfolio = report.Portfolio{
		Metadata: report.PortfolioMeta{
			RunID:          r.runID,
			InitialBalance: sum.InitialBalance,
			FinalBalance:   sum.FinalBalance,
			FinalEquity:    sum.Equity,
			RealizedPnL:    sum.RealizedPnL,
			TotalReturnPct: sum.TotalReturnPct,
			MaxDrawdownPct: indicator.Round(dd.MaxPct(), 2),
			TotalTrades:    sum.TotalTrades,
			StartDate:      start.Format(report.DateLayout),
			EndDate:        end.Format(report.DateLayout),
		},
		Trades:         state.Trades,
		FinalPositions: state.Positions,
	}

	r.log.Info().
		Int("graded", res.Accuracy.Metrics.Total).
		Int("skipped", skipped).
		Float64("accuracy_rate", res.Accuracy.Metrics.AccuracyRate).
		Float64("return_pct", sum.TotalReturnPct).
		Int("trades", sum.TotalTrades).
		Msg("backtest finished")
	return res, runErr
}

// predict consults the cache first. Cache failures fall through to the
// predictor and are only logged.
func (r *Runner) predict(ctx context.Context, req prediction.Request, ts time.Time) (model.Prediction, error) {
	if r.cache != nil {
		p, ok, err := r.cache.Get(ctx, r.cfg.Instrument, ts)
		switch {
		case err != nil:
			r.metrics.PredictionCache.WithLabelValues("error").Inc()
			r.log.Warn().Err(err).Time("bar", ts).Msg("prediction cache read failed")
		case ok:
			r.metrics.PredictionCache.WithLabelValues("hit").Inc()
			return p, nil
		default:
			r.metrics.PredictionCache.WithLabelValues("miss").Inc()
		}
	}

	t0 := time.Now()
	p, err := r.predictor.Predict(ctx, req)
	if err != nil {
		return model.Prediction{}, err
	}
	r.metrics.PredictionLatency.Observe(time.Since(t0).Seconds())

	if r.cache != nil {
		if err := r.cache.Put(ctx, r.cfg.Instrument, ts, p); err != nil {
			r.log.Warn().Err(err).Time("bar", ts).Msg("prediction cache write failed")
		}
	}
	return p, nil
}

func (r *Runner) trade(ctx context.Context, sim *portfolio.Simulator, p model.Prediction, bar model.Candle) {
	t, err := sim.ExecuteTrade(p, bar.Close, bar.Time)
	if err != nil {
		r.metrics.TradeRejections.WithLabelValues(rejectReason(err)).Inc()
		r.log.Debug().Err(err).Time("bar", bar.Time).Str("action", string(p.Action)).
			Int64("size", p.Size).Msg("trade rejected")
		return
	}
	if t == nil {
		return
	}
	r.metrics.Trades.WithLabelValues(string(t.Action)).Inc()
	if r.journal != nil {
		if err := r.journal.RecordTrade(ctx, r.runID, r.cfg.Instrument, *t); err != nil {
			r.log.Warn().Err(err).Msg("journal write failed")
		}
	}
}

func (r *Runner) skip(res *Result, reason string, bar model.Candle, err error) {
	res.Skipped[reason]++
	r.metrics.BarsSkipped.WithLabelValues(reason).Inc()
	r.log.Debug().Err(err).Time("bar", bar.Time).Str("reason", reason).Msg("bar skipped")
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, portfolio.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, portfolio.ErrNoOpenPosition):
		return "no_open_position"
	case errors.Is(err, portfolio.ErrInvalidSize):
		return "invalid_size"
	case errors.Is(err, portfolio.ErrInvalidPrice):
		return "invalid_price"
	default:
		return "other"
	}
}

// account is the simulator's state as sent in the request.
func account(sim *portfolio.Simulator, price float64) prediction.Account {
	acct := prediction.Account{Equity: sim.Equity(sim.MarkPrices(price)).InexactFloat64()}
	pos, ok := sim.Position()
	if !ok {
		return acct
	}
	avg := pos.AvgPrice.InexactFloat64()
	acct.Position = prediction.PositionView{
		Direction:        "LONG",
		Quantity:         pos.Quantity,
		AvgEntry:         indicator.Round(avg, 2),
		UnrealizedPnL:    indicator.Round((price-avg)*float64(pos.Quantity), 2),
		PositionValuePct: sim.ExposurePct(price),
	}
	return acct
}

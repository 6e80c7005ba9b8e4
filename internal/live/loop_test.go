package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-grader/internal/gateway"
	"signal-grader/internal/indicator"
	"signal-grader/internal/metrics"
	"signal-grader/internal/model"
	"signal-grader/internal/notification"
	"signal-grader/internal/prediction"
	"signal-grader/internal/store/sqlite"
	"signal-grader/internal/validation"
)

var t0 = time.Date(2025, 4, 7, 7, 0, 0, 0, time.UTC)

func candle(i int) model.Candle {
	c := 100 + 0.3*float64(i)
	return model.Candle{
		Time:   t0.Add(time.Duration(i) * 5 * time.Minute),
		Open:   c - 0.2,
		High:   c,
		Low:    c - 0.5,
		Close:  c,
		Volume: 1000,
	}
}

type fetchCall struct{ from, to time.Time }

type fakeSource struct {
	mu      sync.Mutex
	candles []model.Candle
	calls   []fetchCall
	err     error
}

func (f *fakeSource) add(from, to int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := from; i < to; i++ {
		f.candles = append(f.candles, candle(i))
	}
}

func (f *fakeSource) Candles(_ context.Context, _ string, from, to time.Time) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{from, to})
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Candle
	for _, c := range f.candles {
		if !c.Time.Before(from) && c.Time.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakePredictor struct {
	calls int
	err   error
}

func (p *fakePredictor) Predict(_ context.Context, req prediction.Request) (model.Prediction, error) {
	p.calls++
	if p.err != nil {
		return model.Prediction{}, p.err
	}
	px := req.MarketData.PriceCurrent
	return model.Prediction{
		Action: model.ActionBuy, Confidence: 85, Size: 10,
		EntryPrice: px, StopLoss: px - 1, TakeProfit: px + 1.5, RiskPercent: 1,
	}, nil
}

type fakeStore struct {
	saved  []sqlite.PredictionRecord
	grades map[int64]string
}

func (s *fakeStore) SavePrediction(_ context.Context, rec sqlite.PredictionRecord) (int64, error) {
	s.saved = append(s.saved, rec)
	return int64(len(s.saved)), nil
}

func (s *fakeStore) GradePrediction(_ context.Context, id int64, accuracy, reason string) error {
	s.grades[id] = accuracy + "/" + reason
	return nil
}

type event struct {
	kind    string
	payload any
}

type fakeHub struct{ events []event }

func (h *fakeHub) Publish(kind, _ string, payload any) (int64, error) {
	h.events = append(h.events, event{kind, payload})
	return int64(len(h.events)), nil
}

type fakePublisher struct{ payloads [][]byte }

func (p *fakePublisher) PublishLatest(_ context.Context, _ string, payload []byte) error {
	p.payloads = append(p.payloads, payload)
	return nil
}

type fakeNotifier struct{ alerts []notification.Alert }

func (n *fakeNotifier) Send(_ context.Context, a notification.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

type fakeArtifacts struct{ n int }

func (a *fakeArtifacts) WritePrediction(_, _ any) (string, error) {
	a.n++
	return "pred.json", nil
}

type harness struct {
	loop      *Loop
	src       *fakeSource
	pred      *fakePredictor
	store     *fakeStore
	hub       *fakeHub
	publisher *fakePublisher
	notifier  *fakeNotifier
	artifacts *fakeArtifacts
	metrics   *metrics.Metrics
	now       time.Time
}

func newHarness(t *testing.T, bars int) *harness {
	t.Helper()
	h := &harness{
		src:       &fakeSource{},
		pred:      &fakePredictor{},
		store:     &fakeStore{grades: map[int64]string{}},
		hub:       &fakeHub{},
		publisher: &fakePublisher{},
		notifier:  &fakeNotifier{},
		artifacts: &fakeArtifacts{},
		metrics:   metrics.New(),
	}
	h.src.add(0, bars)
	h.now = candle(bars).Time
	h.loop = New(Config{Instrument: "SBER", ModelName: "deepseek-chat", RunID: "live-1", AccountEquity: 100000},
		h.src, h.pred,
		WithStore(h.store), WithBroadcaster(h.hub), WithPublisher(h.publisher),
		WithNotifier(h.notifier), WithArtifacts(h.artifacts), WithMetrics(h.metrics),
		WithLogger(zerolog.Nop()), WithClock(func() time.Time { return h.now }))
	return h
}

func TestTick_FirstBar(t *testing.T) {
	h := newHarness(t, 60)

	sig, err := h.loop.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, candle(59).Time, sig.BarTime)
	assert.Equal(t, candle(59).Close, sig.Price)
	assert.Equal(t, model.ActionBuy, sig.Prediction.Action)
	assert.Equal(t, int64(1), sig.ID)
	assert.True(t, sig.Alerted)

	require.Len(t, h.src.calls, 1)
	assert.Equal(t, h.now.Add(-48*time.Hour), h.src.calls[0].from)

	require.Len(t, h.store.saved, 1)
	assert.Equal(t, "live-1", h.store.saved[0].RunID)
	assert.Equal(t, "deepseek-chat", h.store.saved[0].Model)
	assert.Equal(t, candle(59).Time.Unix(), h.store.saved[0].BarTS)
	assert.Contains(t, h.store.saved[0].Input, `"account_equity":100000`)

	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, "HIGH CONFIDENCE (85%)", h.notifier.alerts[0].Title)

	require.Len(t, h.hub.events, 2)
	assert.Equal(t, gateway.EventPrediction, h.hub.events[0].kind)
	assert.Equal(t, gateway.EventAlert, h.hub.events[1].kind)
	alert := h.hub.events[1].payload.(*notification.Alert)
	assert.Equal(t, "HIGH CONFIDENCE (85%)", alert.Title)
	require.Len(t, h.publisher.payloads, 1)
	assert.Contains(t, string(h.publisher.payloads[0]), `"instrument":"SBER"`)
	assert.Equal(t, 1, h.artifacts.n)
	assert.Equal(t, 1, h.loop.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Alerts.WithLabelValues("all")))
}

func TestTick_NoNewBar(t *testing.T) {
	h := newHarness(t, 60)
	_, err := h.loop.Tick(context.Background())
	require.NoError(t, err)

	h.now = h.now.Add(20 * time.Second)
	sig, err := h.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, 1, h.pred.calls)

	// incremental refresh starts at the newest known bar
	require.Len(t, h.src.calls, 2)
	assert.Equal(t, candle(59).Time, h.src.calls[1].from)
}

func TestTick_GradesMaturedPrediction(t *testing.T) {
	h := newHarness(t, 60)
	_, err := h.loop.Tick(context.Background())
	require.NoError(t, err)

	h.src.add(60, 66)
	h.now = candle(66).Time
	sig, err := h.loop.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, candle(65).Time, sig.BarTime)
	assert.Equal(t, 66, h.loop.Series().Len())

	assert.Equal(t, validation.Correct+"/"+validation.ReasonTPReached, h.store.grades[1])
	require.Len(t, h.hub.events, 5)
	assert.Equal(t, gateway.EventVerdict, h.hub.events[2].kind)
	v := h.hub.events[2].payload.(Verdict)
	assert.Equal(t, candle(59).Time, v.BarTime)
	assert.Equal(t, validation.Correct, v.Result.Accuracy)
	assert.Equal(t, gateway.EventPrediction, h.hub.events[3].kind)
	assert.Equal(t, gateway.EventAlert, h.hub.events[4].kind)
	// only the verdict-free prediction goes to the latest key
	assert.Len(t, h.publisher.payloads, 2)
	assert.Equal(t, 1, h.loop.Pending())
}

func TestTick_FullRefreshAfterInterval(t *testing.T) {
	h := newHarness(t, 60)
	_, err := h.loop.Tick(context.Background())
	require.NoError(t, err)

	h.now = h.now.Add(61 * time.Second)
	_, err = h.loop.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, h.src.calls, 2)
	assert.Equal(t, h.now.Add(-48*time.Hour), h.src.calls[1].from)
}

func TestTick_Errors(t *testing.T) {
	h := newHarness(t, 10)
	_, err := h.loop.Tick(context.Background())
	assert.ErrorIs(t, err, indicator.ErrInsufficientHistory)
	assert.Zero(t, h.pred.calls)

	empty := New(Config{Instrument: "SBER"}, &fakeSource{}, &fakePredictor{})
	_, err = empty.Tick(context.Background())
	assert.ErrorIs(t, err, ErrNoCandles)

	h = newHarness(t, 60)
	h.src.err = errors.New("db locked")
	_, err = h.loop.Tick(context.Background())
	assert.ErrorContains(t, err, "db locked")

	h = newHarness(t, 60)
	h.pred.err = errors.New("timeout")
	_, err = h.loop.Tick(context.Background())
	assert.ErrorContains(t, err, "timeout")
	assert.Empty(t, h.store.saved)

	// the bar is retried once the service recovers
	h.pred.err = nil
	sig, err := h.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, sig)
}

func TestTick_BelowAlertThreshold(t *testing.T) {
	h := newHarness(t, 60)
	h.loop.cfg.AlertConfidence = 90
	sig, err := h.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, sig.Alerted)
	assert.Empty(t, h.notifier.alerts)
	require.Len(t, h.hub.events, 1)
	assert.Equal(t, gateway.EventPrediction, h.hub.events[0].kind)
}

func TestTick_AlertBroadcastWithoutNotifier(t *testing.T) {
	h := newHarness(t, 60)
	h.loop.notifier = nil
	sig, err := h.loop.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, sig.Alerted)
	require.Len(t, h.hub.events, 2)
	assert.Equal(t, gateway.EventAlert, h.hub.events[1].kind)
	assert.Zero(t, testutil.ToFloat64(h.metrics.Alerts.WithLabelValues("all")))
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, 60)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		h.src.mu.Lock()
		defer h.src.mu.Unlock()
		return len(h.src.calls) > 0
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

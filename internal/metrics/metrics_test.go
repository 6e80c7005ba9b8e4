package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.BarsProcessed.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.BarsProcessed))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.BarsProcessed))

	a.Verdicts.WithLabelValues("correct").Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.Verdicts.WithLabelValues("correct")))
}

func TestServer_Metrics(t *testing.T) {
	m := New()
	m.Predictions.WithLabelValues("BUY").Inc()
	srv := NewServer(":0", m, NewHealthStatus(false), zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `grader_predictions_total{action="BUY"} 1`), string(body))
}

func TestHealth(t *testing.T) {
	h := NewHealthStatus(true)
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("down") })

	h.Check(context.Background(), ok, ok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])

	h.Check(context.Background(), down, ok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth_RedisOptional(t *testing.T) {
	h := NewHealthStatus(false)
	h.Check(context.Background(), nil, PingFunc(func(context.Context) error { return nil }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

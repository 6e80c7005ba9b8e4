package prediction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-grader/internal/indicator"
	"signal-grader/internal/model"
	"signal-grader/internal/pattern"
)

func reply(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": content}}},
		"usage":   map[string]int{"prompt_tokens": 100, "completion_tokens": 20},
	})
	return b
}

func testRequest(t *testing.T) Request {
	t.Helper()
	req, err := BuildRequest(window(60, 10), &indicator.Snapshot{}, pattern.NewSet(), params(), Account{Equity: 1e5})
	require.NoError(t, err)
	return req
}

func testClient(url string) *Client {
	return NewClient(ClientConfig{
		URL:         url,
		APIKey:      "secret",
		Model:       "deepseek-chat",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		RetryMin:    time.Millisecond,
		RetryMax:    5 * time.Millisecond,
		Temperature: 0.1,
	}, zerolog.Nop())
}

func TestClient_Predict(t *testing.T) {
	var (
		mu  sync.Mutex
		got []chatRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var cr chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&cr))
		mu.Lock()
		got = append(got, cr)
		mu.Unlock()
		w.Write(reply(validReply))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	for i := 0; i < 4; i++ {
		p, err := c.Predict(context.Background(), testRequest(t))
		require.NoError(t, err)
		assert.Equal(t, model.ActionBuy, p.Action)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 4)
	first := got[0]
	assert.Equal(t, "deepseek-chat", first.Model)
	assert.Equal(t, "json_object", first.ResponseFormat.Type)
	assert.Equal(t, 0.1, first.Temperature)
	assert.Equal(t, 600, first.MaxTokens)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, "system", first.Messages[0].Role)
	assert.Equal(t, "user", first.Messages[1].Role)
	assert.Contains(t, first.Messages[1].Content, `"risk_params"`)

	// system + at most 4 history messages + current.
	assert.Len(t, got[1].Messages, 4)
	assert.Len(t, got[2].Messages, 6)
	assert.Len(t, got[3].Messages, 6)
	assert.Equal(t, "assistant", got[3].Messages[4].Role)

	mu.Unlock()
	c.Reset()
	_, err := c.Predict(context.Background(), testRequest(t))
	require.NoError(t, err)
	mu.Lock()
	assert.Len(t, got[4].Messages, 2)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write(reply(validReply))
	}))
	defer srv.Close()

	p, err := testClient(srv.URL).Predict(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, 87.0, p.Confidence)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Predict(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Predict(context.Background(), testRequest(t))
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_MalformedPrediction(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(reply(`{"action":"BUY","confidence":99}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Predict(context.Background(), testRequest(t))
	assert.ErrorIs(t, err, ErrMalformedPrediction)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, c.history, "rejected replies are not remembered")
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{URL: srv.URL, RetryMin: time.Hour, RetryMax: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Predict(ctx, testRequest(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoadSystemPrompt(t *testing.T) {
	s, err := LoadSystemPrompt("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSystemPrompt, s)

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  be careful\n"), 0o644))
	s, err = LoadSystemPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "be careful", s)

	_, err = LoadSystemPrompt(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

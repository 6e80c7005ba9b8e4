package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-grader/internal/breaker"
	"signal-grader/internal/model"
)

// DefaultSystemPrompt is used when no prompt file is configured.
const DefaultSystemPrompt = `You are a trading assistant for 5-minute bars. ` +
	`Reply with one JSON object with the fields action (BUY, SELL or HOLD), confidence (0-95), ` +
	`size, entry_price, stop_loss, take_profit, risk_percent and message.`

// ClientConfig configures the prediction service client.
type ClientConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration

	MaxAttempts int
	RetryMin    time.Duration
	RetryMax    time.Duration

	RequestsPerSecond float64
	BreakerFailures   uint32
	BreakerTimeout    time.Duration

	HistoryMessages int // previous messages resent for context; negative disables
	Temperature     float64
	MaxTokens       int
	SystemPrompt    string
}

func (c *ClientConfig) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryMin <= 0 {
		c.RetryMin = 3 * time.Second
	}
	if c.RetryMax < c.RetryMin {
		c.RetryMax = 15 * time.Second
		if c.RetryMax < c.RetryMin {
			c.RetryMax = c.RetryMin
		}
	}
	switch {
	case c.HistoryMessages == 0:
		c.HistoryMessages = 4
	case c.HistoryMessages < 0:
		c.HistoryMessages = 0
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 600
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
}

// LoadSystemPrompt reads a prompt file. An empty path yields DefaultSystemPrompt.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []message      `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// statusError is a non-2xx reply.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("prediction service returned %d: %s", e.code, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrMalformedPrediction) && !errors.Is(err, breaker.ErrOpen)
}

// Client calls the chat-completions endpoint. One Client is created per run
// and shared by whoever drives that run. Predict is safe for concurrent use
// but calls are serialised so the conversation history stays ordered.
type Client struct {
	cfg   ClientConfig
	http  *http.Client
	guard *breaker.Guard
	log   zerolog.Logger

	mu      sync.Mutex
	history []message
}

// NewClient creates a client.
func NewClient(cfg ClientConfig, l zerolog.Logger) *Client {
	cfg.setDefaults()
	l = l.With().Str("component", "prediction").Logger()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		guard: breaker.New(breaker.Settings{
			Name:              "prediction",
			MaxFailures:       cfg.BreakerFailures,
			OpenTimeout:       cfg.BreakerTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, l),
		log: l,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Predict sends req and returns the validated prediction.
func (c *Client) Predict(ctx context.Context, req Request) (model.Prediction, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return model.Prediction{}, fmt.Errorf("encode request: %w", err)
	}
	userContent := strings.TrimSpace(buf.String())

	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]message, 0, len(c.history)+2)
	msgs = append(msgs, message{Role: "system", Content: c.cfg.SystemPrompt})
	msgs = append(msgs, c.history...)
	msgs = append(msgs, message{Role: "user", Content: userContent})

	body, err := json.Marshal(chatRequest{
		Model:          c.cfg.Model,
		Messages:       msgs,
		ResponseFormat: responseFormat{Type: "json_object"},
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
	})
	if err != nil {
		return model.Prediction{}, fmt.Errorf("encode chat request: %w", err)
	}

	var content string
	wait := c.cfg.RetryMin
	for attempt := 1; ; attempt++ {
		err = c.guard.Do(ctx, func(ctx context.Context) error {
			var callErr error
			content, callErr = c.call(ctx, body)
			return callErr
		})
		if err == nil || attempt >= c.cfg.MaxAttempts || !retryable(err) || ctx.Err() != nil {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("prediction call failed, retrying")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return model.Prediction{}, ctx.Err()
		case <-t.C:
		}
		wait *= 2
		if wait > c.cfg.RetryMax {
			wait = c.cfg.RetryMax
		}
	}
	if err != nil {
		return model.Prediction{}, fmt.Errorf("predict: %w", err)
	}

	p, err := Parse([]byte(content))
	if err != nil {
		c.log.Warn().Err(err).Str("content", truncate(content, 300)).Msg("rejecting prediction")
		return model.Prediction{}, err
	}

	c.history = append(c.history,
		message{Role: "user", Content: userContent},
		message{Role: "assistant", Content: content})
	if n := len(c.history); n > c.cfg.HistoryMessages {
		c.history = append([]message(nil), c.history[n-c.cfg.HistoryMessages:]...)
	}

	c.log.Info().
		Str("action", string(p.Action)).
		Float64("confidence", p.Confidence).
		Msg("prediction received")
	return p, nil
}

func (c *Client) call(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &statusError{code: resp.StatusCode, body: truncate(string(raw), 1000)}
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrMalformedPrediction, err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrMalformedPrediction)
	}

	c.log.Debug().
		Dur("latency", time.Since(start)).
		Int("prompt_tokens", cr.Usage.PromptTokens).
		Int("completion_tokens", cr.Usage.CompletionTokens).
		Msg("prediction service replied")
	return cr.Choices[0].Message.Content, nil
}

// Reset clears the conversation history.
func (c *Client) Reset() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
	c.log.Info().Msg("conversation reset")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

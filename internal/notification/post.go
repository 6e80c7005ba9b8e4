package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"signal-grader/internal/breaker"
)

// poster POSTs JSON documents to one alert backend. Consecutive failures
// open the guard and later alerts fail fast with breaker.ErrOpen.
type poster struct {
	name   string
	client *http.Client
	guard  *breaker.Guard
}

func newPoster(name string, rps float64, l zerolog.Logger) poster {
	return poster{
		name:   name,
		client: &http.Client{Timeout: 10 * time.Second},
		guard: breaker.New(breaker.Settings{
			Name:              "alerts-" + name,
			MaxFailures:       3,
			OpenTimeout:       time.Minute,
			RequestsPerSecond: rps,
			Burst:             3,
		}, l),
	}
}

// post sends v and returns the response body of a 2xx reply.
func (p poster) post(ctx context.Context, url string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal: %w", p.name, err)
	}

	var reply []byte
	err = p.guard.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		reply, _ = io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(reply))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return reply, nil
}

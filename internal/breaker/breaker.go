// Package breaker guards outbound calls with a rate limiter and a circuit
// breaker. After MaxFailures consecutive failures the breaker opens and
// rejects calls for OpenTimeout, then lets probe calls through.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("breaker: circuit open")

// Settings configures a Guard.
type Settings struct {
	Name        string
	MaxFailures uint32
	OpenTimeout time.Duration
	// RequestsPerSecond of zero disables rate limiting.
	RequestsPerSecond float64
	Burst             int
}

// Guard is safe for concurrent use.
type Guard struct {
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// New creates a Guard. OnStateChange transitions are logged on l.
func New(s Settings, l zerolog.Logger) *Guard {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about the remote side.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
		},
	}

	g := &Guard{cb: gobreaker.NewCircuitBreaker(st)}
	if s.RequestsPerSecond > 0 {
		burst := s.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(s.RequestsPerSecond), burst)
	}
	return g
}

// Do waits for a rate-limit token and runs fn through the breaker.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns "closed", "open" or "half-open".
func (g *Guard) State() string {
	return g.cb.State().String()
}

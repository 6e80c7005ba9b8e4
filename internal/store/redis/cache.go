// Package redis caches predictions and publishes live events over Redis.
//
// Predictions are keyed by instrument and bar time so a rerun of the same
// backtest window replays cached replies instead of calling the service again.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"signal-grader/internal/breaker"
	"signal-grader/internal/model"
)

const (
	defaultTTL       = 7 * 24 * time.Hour
	defaultLatestTTL = 30 * time.Minute
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration
}

// Cache implements model.PredictionCache.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
	guard  *breaker.Guard
	log    zerolog.Logger
}

var _ model.PredictionCache = (*Cache)(nil)

// New connects to Redis and pings it.
func New(ctx context.Context, cfg Config, l zerolog.Logger) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	c := NewWithClient(client, cfg.TTL, l)
	c.log.Info().Str("addr", cfg.Addr).Msg("connected")
	return c, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, ttl time.Duration, l zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	l = l.With().Str("component", "redis").Logger()
	return &Cache{
		client: client,
		ttl:    ttl,
		guard:  breaker.New(breaker.Settings{Name: "redis", MaxFailures: 5, OpenTimeout: 10 * time.Second}, l),
		log:    l,
	}
}

// Key returns the cache key for a prediction made at bar ts.
func Key(instrument string, ts time.Time) string {
	return fmt.Sprintf("pred:%s:%d", instrument, ts.Unix())
}

// LatestKey holds the most recent live prediction for an instrument.
func LatestKey(instrument string) string { return "latest:pred:" + instrument }

// Channel is the pub/sub channel live predictions are published on.
func Channel(instrument string) string { return "pub:pred:" + instrument }

// Get returns the cached prediction, if any. A miss is (zero, false, nil).
func (c *Cache) Get(ctx context.Context, instrument string, ts time.Time) (model.Prediction, bool, error) {
	var raw []byte
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		b, err := c.client.Get(ctx, Key(instrument, ts)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil {
		return model.Prediction{}, false, fmt.Errorf("redis get: %w", err)
	}
	if raw == nil {
		return model.Prediction{}, false, nil
	}

	var p model.Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Prediction{}, false, fmt.Errorf("redis decode %s: %w", Key(instrument, ts), err)
	}
	return p, true, nil
}

// Put stores p for the bar at ts.
func (c *Cache) Put(ctx context.Context, instrument string, ts time.Time, p model.Prediction) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	err = c.guard.Do(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, Key(instrument, ts), data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// PublishLatest stores payload as the latest live event for the instrument
// and publishes it to subscribers in a single pipeline.
func (c *Cache) PublishLatest(ctx context.Context, instrument string, payload []byte) error {
	return c.guard.Do(ctx, func(ctx context.Context) error {
		pipe := c.client.Pipeline()
		pipe.Set(ctx, LatestKey(instrument), payload, defaultLatestTTL)
		pipe.Publish(ctx, Channel(instrument), payload)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// PingContext checks the connection; it satisfies metrics.Pinger.
func (c *Cache) PingContext(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

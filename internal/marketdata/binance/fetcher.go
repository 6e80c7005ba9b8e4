// Package binance downloads historical klines from Binance USDⓈ-M futures
// and converts them to model candles.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"signal-grader/internal/breaker"
	"signal-grader/internal/model"
)

// Config for a Fetcher. Zero values take the defaults below.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Interval  string // kline interval, default "5m"

	PageLimit         int // klines per request, default 500
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	Backoff           time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval == "" {
		c.Interval = "5m"
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 500
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
}

// Fetcher implements model.CandleSource over the klines endpoint.
type Fetcher struct {
	cfg    Config
	client *futures.Client
	guard  *breaker.Guard
	log    zerolog.Logger
}

var _ model.CandleSource = (*Fetcher)(nil)

// New creates a Fetcher with its own HTTP client and call guard.
func New(cfg Config, l zerolog.Logger) *Fetcher {
	cfg.applyDefaults()

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	client.HTTPClient = &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	l = l.With().Str("component", "binance").Logger()
	return &Fetcher{
		cfg:    cfg,
		client: client,
		guard: breaker.New(breaker.Settings{
			Name:              "binance",
			MaxFailures:       5,
			OpenTimeout:       30 * time.Second,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}, l),
		log: l,
	}
}

// Candles returns the klines of instrument whose open time is in [from, to),
// ascending. Requests are paged by PageLimit.
func (f *Fetcher) Candles(ctx context.Context, instrument string, from, to time.Time) ([]model.Candle, error) {
	if !from.Before(to) {
		return nil, nil
	}
	startMs := from.UnixMilli()
	endMs := to.UnixMilli() - 1

	var out []model.Candle
	for startMs <= endMs {
		klines, err := f.klines(ctx, instrument, startMs, endMs)
		if err != nil {
			return nil, fmt.Errorf("klines %s from %d: %w", instrument, startMs, err)
		}
		for _, k := range klines {
			c, err := ParseKline(k)
			if err != nil {
				return nil, err
			}
			if !c.Time.Before(to) {
				continue
			}
			out = append(out, c)
		}
		if len(klines) < f.cfg.PageLimit {
			break
		}
		startMs = klines[len(klines)-1].OpenTime + 1
	}

	f.log.Debug().Str("instrument", instrument).Int("candles", len(out)).
		Time("from", from).Time("to", to).Msg("klines fetched")
	return out, nil
}

// Sync downloads [from, to) and saves it into sink. It returns the number of
// candles written.
func (f *Fetcher) Sync(ctx context.Context, sink model.CandleSink, instrument string, from, to time.Time) (int, error) {
	candles, err := f.Candles(ctx, instrument, from, to)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	if err := sink.SaveCandles(ctx, instrument, candles); err != nil {
		return 0, fmt.Errorf("save candles: %w", err)
	}
	return len(candles), nil
}

// klines performs one page request with exponential backoff between attempts.
func (f *Fetcher) klines(ctx context.Context, symbol string, startMs, endMs int64) ([]*futures.Kline, error) {
	var (
		klines []*futures.Kline
		err    error
	)
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		err = f.guard.Do(ctx, func(ctx context.Context) error {
			var callErr error
			klines, callErr = f.client.NewKlinesService().
				Symbol(symbol).
				Interval(f.cfg.Interval).
				StartTime(startMs).
				EndTime(endMs).
				Limit(f.cfg.PageLimit).
				Do(ctx)
			return callErr
		})
		if err == nil {
			return klines, nil
		}
		if errors.Is(err, breaker.ErrOpen) || ctx.Err() != nil || attempt == f.cfg.MaxRetries {
			break
		}

		wait := f.cfg.Backoff << attempt
		f.log.Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("klines request failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, err
}

// ParseKline converts a kline to a candle. Prices are parsed as decimals to
// avoid float parsing drift; volume is truncated to whole units.
func ParseKline(k *futures.Kline) (model.Candle, error) {
	fields := [4]string{k.Open, k.High, k.Low, k.Close}
	var px [4]float64
	for i, s := range fields {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candle{}, fmt.Errorf("kline %d: price %q: %w", k.OpenTime, s, err)
		}
		px[i] = d.InexactFloat64()
	}
	vol, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return model.Candle{}, fmt.Errorf("kline %d: volume %q: %w", k.OpenTime, k.Volume, err)
	}
	return model.Candle{
		Time:   time.UnixMilli(k.OpenTime).UTC(),
		Open:   px[0],
		High:   px[1],
		Low:    px[2],
		Close:  px[3],
		Volume: vol.IntPart(),
	}, nil
}

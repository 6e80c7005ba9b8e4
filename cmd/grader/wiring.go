package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signal-grader/config"
	"signal-grader/internal/backtest"
	"signal-grader/internal/marketdata/binance"
	"signal-grader/internal/notification"
	"signal-grader/internal/portfolio"
	"signal-grader/internal/prediction"
	redisstore "signal-grader/internal/store/redis"
	"signal-grader/internal/validation"
)

// runnerConfig maps the loaded config onto a backtest over [start, end).
func runnerConfig(cfg *config.Config, start, end time.Time) (backtest.Config, error) {
	bar, err := cfg.Instrument.BarDuration()
	if err != nil {
		return backtest.Config{}, err
	}
	return backtest.Config{
		Instrument:     cfg.Instrument.ID,
		Start:          start,
		End:            end.AddDate(0, 0, -1),
		StartIndex:     cfg.Backtest.StartIndex,
		BarMinutes:     int(bar / time.Minute),
		InitialBalance: cfg.Risk.InitialBalance,
		Costs:          costs(cfg),
		Params:         requestParams(cfg),
		HighConfidence: cfg.Backtest.HighConfidence,
		LogConfidence:  cfg.Live.AlertConfidence,
		Validation:     validationConfig(cfg),
	}, nil
}

func requestParams(cfg *config.Config) prediction.Params {
	return prediction.Params{
		Instrument: prediction.InstrumentSpec{
			Symbol:            cfg.Instrument.Symbol,
			AssetClass:        cfg.Instrument.AssetClass,
			TickValue:         cfg.Instrument.TickValue,
			MinOrderSize:      cfg.Instrument.MinOrderSize,
			MarginRequirement: cfg.Instrument.MarginRequirement,
		},
		Risk: prediction.RiskParams{
			MaxRiskPerTradePct:     cfg.Risk.RiskPerTradePct,
			MaxExposurePerAssetPct: cfg.Risk.MaxExposurePct,
			MinRiskReward:          cfg.Risk.MinRiskReward,
			VolatilityThreshold:    cfg.Risk.VolatilityThreshold,
		},
		Costs: prediction.CostStructure{
			CommissionPerShare: cfg.Costs.CommissionPerShare,
			FixedCommission:    cfg.Costs.FixedCommission,
			MaxSlippage:        cfg.Costs.MaxSlippage,
		},
	}
}

func costs(cfg *config.Config) portfolio.Costs {
	return portfolio.Costs{
		FixedCommission:    cfg.Costs.FixedCommission,
		CommissionPerShare: cfg.Costs.CommissionPerShare,
	}
}

func validationConfig(cfg *config.Config) validation.Config {
	v := validation.DefaultConfig()
	v.Lookahead = cfg.Backtest.Lookahead
	return v
}

func newPredictionClient(cfg *config.Config, l zerolog.Logger) (*prediction.Client, error) {
	prompt, err := prediction.LoadSystemPrompt(cfg.Prediction.SystemPromptFile)
	if err != nil {
		return nil, err
	}
	return prediction.NewClient(prediction.ClientConfig{
		URL:               cfg.Prediction.URL,
		APIKey:            cfg.Prediction.APIKey,
		Model:             cfg.Prediction.Model,
		Timeout:           cfg.Prediction.Timeout,
		MaxAttempts:       cfg.Prediction.MaxAttempts,
		RequestsPerSecond: cfg.Prediction.RequestsPerSecond,
		Temperature:       cfg.Prediction.Temperature,
		MaxTokens:         cfg.Prediction.MaxTokens,
		SystemPrompt:      prompt,
	}, l), nil
}

// openCache connects to Redis. A failed connection is logged and yields nil
// so runs continue without caching.
func openCache(ctx context.Context, cfg *config.Config, l zerolog.Logger) *redisstore.Cache {
	if !cfg.Redis.Enabled {
		return nil
	}
	c, err := redisstore.New(ctx, redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	}, l)
	if err != nil {
		l.Warn().Err(err).Msg("redis unavailable, continuing without prediction cache")
		return nil
	}
	return c
}

func newFetcher(cfg *config.Config, l zerolog.Logger) *binance.Fetcher {
	return binance.New(binance.Config{
		APIKey:    cfg.Binance.APIKey,
		SecretKey: cfg.Binance.SecretKey,
		BaseURL:   cfg.Binance.BaseURL,
		Interval:  cfg.Instrument.CandleInterval,
	}, l)
}

// newNotifier always logs alerts and adds Telegram and webhook delivery when
// configured.
func newNotifier(cfg *config.Config, l zerolog.Logger) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier(l)}
	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.TelegramChatID != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID, l))
	}
	if cfg.Alerts.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.Alerts.WebhookURL, "grader", l))
	}
	return n
}

func shutdown(stop func(context.Context) error, l zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		l.Warn().Err(err).Msg("shutdown")
	}
}

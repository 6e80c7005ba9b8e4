// Package config loads run configuration from an optional YAML file, a .env
// file and environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeLive     = "LIVE"
	ModeBacktest = "BACKTEST"

	dateLayout = "2006-01-02"
)

// Config holds all application configuration.
type Config struct {
	Mode       string           `yaml:"mode" default:"BACKTEST" validate:"oneof=LIVE BACKTEST"`
	OutputDir  string           `yaml:"output_dir" default:"results"`
	Instrument InstrumentConfig `yaml:"instrument"`
	Risk       RiskConfig       `yaml:"risk"`
	Costs      CostConfig       `yaml:"costs"`
	Backtest   BacktestConfig   `yaml:"backtest"`
	Live       LiveConfig       `yaml:"live"`
	Prediction PredictionConfig `yaml:"prediction"`
	Redis      RedisConfig      `yaml:"redis"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Binance    BinanceConfig    `yaml:"binance"`
	Alerts     AlertConfig      `yaml:"alerts"`
	Log        LogConfig        `yaml:"log"`
}

type InstrumentConfig struct {
	// ID keys candles, cache entries and journal rows (INSTRUMENT_FIGI).
	ID                string  `yaml:"id" default:"BTCUSDT" validate:"required"`
	Symbol            string  `yaml:"symbol" default:"TEST"`
	AssetClass        string  `yaml:"asset_class" default:"equity"`
	TickValue         float64 `yaml:"tick_value" default:"0.01" validate:"gt=0"`
	MinOrderSize      int64   `yaml:"min_order_size" default:"1" validate:"gte=1"`
	MarginRequirement float64 `yaml:"margin_requirement" validate:"gte=0"`
	CandleInterval    string  `yaml:"candle_interval" default:"5m"`
}

type RiskConfig struct {
	InitialBalance      float64 `yaml:"initial_balance" default:"100000" validate:"gt=0"`
	RiskPerTradePct     float64 `yaml:"risk_per_trade_pct" default:"1.0" validate:"gt=0,lte=100"`
	MaxExposurePct      float64 `yaml:"max_exposure_pct" default:"5.0" validate:"gt=0,lte=100"`
	MinRiskReward       float64 `yaml:"min_risk_reward" default:"1.5" validate:"gt=0"`
	VolatilityThreshold float64 `yaml:"volatility_threshold" default:"2.0" validate:"gt=0"`
}

type CostConfig struct {
	CommissionPerShare float64 `yaml:"commission_per_share" default:"0.004" validate:"gte=0"`
	FixedCommission    float64 `yaml:"fixed_commission" default:"1.00" validate:"gte=0"`
	MaxSlippage        float64 `yaml:"max_slippage" default:"0.02" validate:"gte=0"`
}

type BacktestConfig struct {
	// Start and End are YYYY-MM-DD; empty means [today-WindowDays, today].
	Start          string  `yaml:"start"`
	End            string  `yaml:"end"`
	WindowDays     int     `yaml:"window_days" default:"21" validate:"gt=0"`
	Lookahead      int     `yaml:"lookahead" default:"6" validate:"gt=0"`
	StartIndex     int     `yaml:"start_index" default:"50" validate:"gte=0"`
	HighConfidence float64 `yaml:"high_confidence" default:"85" validate:"gt=0,lte=100"`
	UseCache       bool    `yaml:"use_cache" default:"true"`
}

type LiveConfig struct {
	Interval        time.Duration `yaml:"interval" default:"20s" validate:"gt=0"`
	HistoryDays     int           `yaml:"history_days" default:"2" validate:"gt=0"`
	RefreshEvery    time.Duration `yaml:"refresh_every" default:"60s" validate:"gt=0"`
	AlertConfidence float64       `yaml:"alert_confidence" default:"80" validate:"gt=0,lte=100"`
	// Source is "sqlite" (candles kept fresh by another process) or "binance".
	Source   string `yaml:"source" default:"binance" validate:"oneof=sqlite binance"`
	SaveJSON bool   `yaml:"save_json" default:"true"`
}

type PredictionConfig struct {
	URL               string        `yaml:"url" default:"https://api.deepseek.com/v1/chat/completions" validate:"required,url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model" default:"deepseek-chat"`
	Timeout           time.Duration `yaml:"timeout" default:"30s" validate:"gt=0"`
	MaxAttempts       int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
	RequestsPerSecond float64       `yaml:"requests_per_second" default:"2"`
	Temperature       float64       `yaml:"temperature" default:"0.1"`
	MaxTokens         int           `yaml:"max_tokens" default:"600"`
	SystemPromptFile  string        `yaml:"system_prompt_file"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" default:"localhost:6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl" default:"168h"`
	Enabled  bool          `yaml:"enabled" default:"true"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" default:"data/grader.db" validate:"required"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" default:":9090"`
}

type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
}

type AlertConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	WebhookURL     string `yaml:"webhook_url"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

var validate = validator.New()

// Load builds a Config. path may be empty; a missing .env file is ignored.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	c.Mode = strings.ToUpper(getEnv("MODE", c.Mode))
	c.Instrument.ID = getEnv("INSTRUMENT_FIGI", c.Instrument.ID)
	c.Backtest.Start = getEnv("BACKTEST_START", c.Backtest.Start)
	c.Backtest.End = getEnv("BACKTEST_END", c.Backtest.End)
	c.Prediction.URL = getEnv("DEEPSEEK_API_URL", c.Prediction.URL)
	c.Prediction.APIKey = getEnv("DEEPSEEK_API_KEY", c.Prediction.APIKey)
	c.Prediction.Model = getEnv("DEEPSEEK_MODEL", c.Prediction.Model)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.SQLite.Path = getEnv("SQLITE_PATH", c.SQLite.Path)
	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.Binance.APIKey = getEnv("BINANCE_API_KEY", c.Binance.APIKey)
	c.Binance.SecretKey = getEnv("BINANCE_SECRET_KEY", c.Binance.SecretKey)
	c.Alerts.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Alerts.TelegramToken)
	c.Alerts.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Alerts.TelegramChatID)
	c.Alerts.WebhookURL = getEnv("WEBHOOK_URL", c.Alerts.WebhookURL)

	var err error
	floats := []struct {
		key string
		dst *float64
	}{
		{"INITIAL_BALANCE", &c.Risk.InitialBalance},
		{"RISK_PER_TRADE_PCT", &c.Risk.RiskPerTradePct},
		{"MAX_EXPOSURE_PCT", &c.Risk.MaxExposurePct},
		{"MIN_RISK_REWARD", &c.Risk.MinRiskReward},
		{"VOLATILITY_THRESHOLD", &c.Risk.VolatilityThreshold},
	}
	for _, f := range floats {
		if *f.dst, err = getEnvFloat(f.key, *f.dst); err != nil {
			return err
		}
	}
	if c.Prediction.Timeout, err = getEnvDuration("DEEPSEEK_TIMEOUT", c.Prediction.Timeout); err != nil {
		return err
	}
	return nil
}

// Validate checks field constraints and the backtest window.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if _, _, err := c.BacktestWindow(time.Now()); err != nil {
		return err
	}
	if _, err := c.Instrument.BarDuration(); err != nil {
		return err
	}
	return nil
}

// BarDuration parses CandleInterval. Besides Go durations it accepts the
// exchange forms "1d" and "1w".
func (i InstrumentConfig) BarDuration() (time.Duration, error) {
	v := strings.TrimSpace(i.CandleInterval)
	var d time.Duration
	var err error
	switch {
	case strings.HasSuffix(v, "d"), strings.HasSuffix(v, "w"):
		n, perr := strconv.Atoi(v[:len(v)-1])
		err = perr
		d = time.Duration(n) * 24 * time.Hour
		if strings.HasSuffix(v, "w") {
			d *= 7
		}
	default:
		d, err = time.ParseDuration(v)
	}
	if err != nil || d < time.Minute {
		return 0, fmt.Errorf("instrument.candle_interval: invalid interval %q", i.CandleInterval)
	}
	return d, nil
}

// BacktestWindow returns the [start, end) range in UTC. End is exclusive and
// covers the whole end day.
func (c *Config) BacktestWindow(now time.Time) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := today.AddDate(0, 0, -c.Backtest.WindowDays)
	end := today

	var err error
	if c.Backtest.Start != "" {
		if start, err = time.Parse(dateLayout, c.Backtest.Start); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("backtest.start: %w", err)
		}
	}
	if c.Backtest.End != "" {
		if end, err = time.Parse(dateLayout, c.Backtest.End); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("backtest.end: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("backtest window: end %s before start %s",
			end.Format(dateLayout), start.Format(dateLayout))
	}
	return start, end.AddDate(0, 0, 1), nil
}

// LiveHistory is how much history the live loop loads on a full refresh.
func (c *Config) LiveHistory() time.Duration {
	return time.Duration(c.Live.HistoryDays) * 24 * time.Hour
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	// plain seconds, as DEEPSEEK_TIMEOUT=30
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return time.Duration(secs) * time.Second, nil
}

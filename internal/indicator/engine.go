package indicator

import (
	"errors"
	"math"
	"time"

	"signal-grader/internal/model"
	"signal-grader/internal/series"
)

// ErrInsufficientHistory is returned when the candle window is too short to
// produce a complete snapshot. Callers skip the bar.
var ErrInsufficientHistory = errors.New("indicator: insufficient history")

// Config holds indicator periods and thresholds.
type Config struct {
	MinCandles int

	EMAFast int
	EMASlow int

	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64

	// TrendLag is how many bars back RSI and OBV are compared to for their trend.
	TrendLag           int
	DivergenceLookback int

	StochPeriod     int
	StochKSmooth    int
	StochDSmooth    int
	StochOverbought float64
	StochOversold   float64

	ATRPeriod     int
	ATRAverage    int
	ATRMultiplier float64

	BBPeriod int
	BBStdDev float64

	VWAPSession      time.Duration
	VWAPFallbackBars int
}

// DefaultConfig returns the standard 5-minute bar configuration.
func DefaultConfig() Config {
	return Config{
		MinCandles:         50,
		EMAFast:            9,
		EMASlow:            21,
		RSIPeriod:          14,
		RSIOverbought:      70,
		RSIOversold:        30,
		TrendLag:           3,
		DivergenceLookback: 10,
		StochPeriod:        14,
		StochKSmooth:       3,
		StochDSmooth:       3,
		StochOverbought:    80,
		StochOversold:      20,
		ATRPeriod:          14,
		ATRAverage:         20,
		ATRMultiplier:      1.2,
		BBPeriod:           20,
		BBStdDev:           2,
		VWAPSession:        24 * time.Hour,
		VWAPFallbackBars:   100,
	}
}

// Engine computes snapshots with a fixed Config.
// It holds no per-series state and is safe to reuse across calls.
type Engine struct {
	cfg Config
}

// NewEngine creates an indicator engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// At computes the snapshot at bar i of s, using candles [0..i].
func (e *Engine) At(s *series.Series, i int) (*Snapshot, error) {
	if i < 0 || i >= s.Len() {
		return nil, ErrInsufficientHistory
	}
	return e.Compute(s.Window(i))
}

// Compute computes the snapshot at the last candle of the window.
// It returns ErrInsufficientHistory, never a partially filled snapshot,
// when any indicator is not yet available.
func (e *Engine) Compute(candles []model.Candle) (*Snapshot, error) {
	cfg := e.cfg
	n := len(candles)
	if n < cfg.MinCandles || n < 2 {
		return nil, ErrInsufficientHistory
	}

	var (
		emaFast = NewEMA(cfg.EMAFast)
		emaSlow = NewEMA(cfg.EMASlow)
		rsi     = NewRSI(cfg.RSIPeriod)
		stoch   = NewStochastic(cfg.StochPeriod, cfg.StochKSmooth, cfg.StochDSmooth)
		atr     = NewATR(cfg.ATRPeriod)
		atrMA   = NewSMA(cfg.ATRAverage)
		bb      = NewBollinger(cfg.BBPeriod, cfg.BBStdDev)
		obv     = NewOBV()

		streams = []Indicator{emaFast, emaSlow, rsi, stoch, atr, bb, obv}

		rsiVals = make([]float64, n)
		obvVals = make([]float64, n)

		prevFast, prevSlow float64
		prevEMAReady       bool
		prevK, prevD       float64
		prevStochReady     bool
	)

	for j := range candles {
		c := candles[j]
		if j == n-1 {
			prevFast, prevSlow = emaFast.Value(), emaSlow.Value()
			prevEMAReady = emaFast.Ready() && emaSlow.Ready()
			prevK, prevD = stoch.K(), stoch.D()
			prevStochReady = stoch.Ready()
		}

		for _, ind := range streams {
			ind.Update(c)
		}
		if atr.Ready() {
			atrMA.Add(atr.Value())
		}

		rsiVals[j] = math.NaN()
		if rsi.Ready() {
			rsiVals[j] = rsi.Value()
		}
		obvVals[j] = obv.Value()
	}
	lows, highs := series.Lows(candles), series.Highs(candles)

	lag := cfg.TrendLag
	if !prevEMAReady || !prevStochReady || !atrMA.Ready() || !bb.Ready() ||
		n <= lag || math.IsNaN(rsiVals[n-1-lag]) {
		return nil, ErrInsufficientHistory
	}

	fast, slow := emaFast.Value(), emaSlow.Value()
	rsiNow := rsi.Value()
	k, d := stoch.K(), stoch.D()
	upper, _, lower := bb.Bands()
	last := candles[n-1]

	snap := &Snapshot{
		EMA: EMAState{
			Fast:      Round(fast, 2),
			Slow:      Round(slow, 2),
			Trend:     pick(fast > slow, TrendBullish, TrendBearish),
			Crossover: prevFast <= prevSlow && fast > slow,
		},
		RSI: RSIState{
			Current:    Round(rsiNow, 1),
			Trend:      pick(rsiNow > rsiVals[n-1-lag], TrendRising, TrendFalling),
			Divergence: Divergence(lows, highs, rsiVals, cfg.DivergenceLookback),
			Overbought: rsiNow > cfg.RSIOverbought,
			Oversold:   rsiNow < cfg.RSIOversold,
		},
		Stochastic: StochasticState{
			K:          Round(k, 1),
			D:          Round(d, 1),
			Overbought: k > cfg.StochOverbought,
			Oversold:   k < cfg.StochOversold,
			Crossover:  stochCrossover(prevK, prevD, k, d),
		},
		Bollinger: BollingerState{
			Upper:     Round(upper, 2),
			Lower:     Round(lower, 2),
			Bandwidth: Round(bb.Bandwidth(), 2),
			Position:  BandPosition(last.Close, upper, lower),
		},
		ATR: ATRState{
			Current:    Round(atr.Value(), 2),
			MA20:       Round(atrMA.Value(), 2),
			Multiplier: cfg.ATRMultiplier,
		},
		VWAP: Round(VWAP(candles, cfg.VWAPSession, cfg.VWAPFallbackBars), 2),
		OBV: OBVState{
			Trend:      pick(obvVals[n-1] > obvVals[n-1-lag], TrendRising, TrendFalling),
			Divergence: Divergence(lows, highs, obvVals, cfg.DivergenceLookback),
		},
	}
	return snap, nil
}

func stochCrossover(prevK, prevD, k, d float64) string {
	switch {
	case prevK <= prevD && k > d:
		return CrossoverBullishKD
	case prevK >= prevD && k < d:
		return CrossoverBearishKD
	default:
		return CrossoverNone
	}
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

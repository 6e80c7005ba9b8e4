package indicator

import "math"

// Categorical values carried in a Snapshot.
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendRising  = "rising"
	TrendFalling = "falling"

	DivergenceNone    = "none"
	DivergenceBullish = "bullish"
	DivergenceBearish = "bearish"

	CrossoverNone       = "none"
	CrossoverBullishKD  = "bullish_k_above_d"
	CrossoverBearishKD  = "bearish_k_below_d"
	PositionUpperBand   = "upper_band"
	PositionUpperMiddle = "upper_middle"
	PositionLowerMiddle = "lower_middle"
	PositionLowerBand   = "lower_band"
)

// Snapshot is the point-in-time indicator state at one bar. Its JSON form is
// embedded verbatim in the prediction request payload.
type Snapshot struct {
	EMA        EMAState        `json:"ema"`
	RSI        RSIState        `json:"rsi"`
	Stochastic StochasticState `json:"stochastic"`
	Bollinger  BollingerState  `json:"bollinger"`
	ATR        ATRState        `json:"atr"`
	VWAP       float64         `json:"vwap"`
	OBV        OBVState        `json:"obv"`
}

type EMAState struct {
	Fast      float64 `json:"fast"`
	Slow      float64 `json:"slow"`
	Trend     string  `json:"trend"`
	Crossover bool    `json:"crossover"`
}

type RSIState struct {
	Current    float64 `json:"current"`
	Trend      string  `json:"trend"`
	Divergence string  `json:"divergence"`
	Overbought bool    `json:"overbought"`
	Oversold   bool    `json:"oversold"`
}

type StochasticState struct {
	K          float64 `json:"k"`
	D          float64 `json:"d"`
	Overbought bool    `json:"overbought"`
	Oversold   bool    `json:"oversold"`
	Crossover  string  `json:"crossover"`
}

type BollingerState struct {
	Upper     float64 `json:"upper"`
	Lower     float64 `json:"lower"`
	Bandwidth float64 `json:"bandwidth"`
	Position  string  `json:"position"`
}

// ATRState carries the current ATR, its 20-bar average and the stop-distance
// multiplier suggested to the prediction service.
type ATRState struct {
	Current    float64 `json:"current"`
	MA20       float64 `json:"ma20"`
	Multiplier float64 `json:"multiplier"`
}

type OBVState struct {
	Trend      string `json:"trend"`
	Divergence string `json:"divergence"`
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

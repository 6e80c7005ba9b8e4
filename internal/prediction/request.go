package prediction

import (
	"errors"
	"time"

	"signal-grader/internal/indicator"
	"signal-grader/internal/model"
	"signal-grader/internal/pattern"
)

// DefaultAvgDailyVolume is reported when fewer than AvgVolumeBars candles exist.
const (
	DefaultAvgDailyVolume = 1_000_000
	AvgVolumeBars         = 100
)

// Request is the market-data payload sent to the prediction service.
type Request struct {
	Timestamp       string         `json:"timestamp"`
	MarketData      MarketData     `json:"market_data"`
	RiskParams      RiskParams     `json:"risk_params"`
	InstrumentSpecs InstrumentSpec `json:"instrument_specs"`
	Positions       PositionView   `json:"current_positions"`
	CostStructure   CostStructure  `json:"cost_structure"`
}

type MarketData struct {
	PriceCurrent  float64            `json:"price_current"`
	CandleCurrent OHLC               `json:"candle_current"`
	VolumeCurrent int64              `json:"volume_current"`
	Indicators    indicator.Snapshot `json:"indicators"`
	Patterns      pattern.Set        `json:"patterns"`
}

type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type RiskParams struct {
	AccountEquity          float64 `json:"account_equity"`
	MaxRiskPerTradePct     float64 `json:"max_risk_per_trade_pct"`
	MaxExposurePerAssetPct float64 `json:"max_exposure_per_asset_pct"`
	MinRiskReward          float64 `json:"min_risk_reward"`
	VolatilityThreshold    float64 `json:"volatility_threshold"`
}

type InstrumentSpec struct {
	Symbol            string  `json:"symbol"`
	AssetClass        string  `json:"asset_class"`
	TickValue         float64 `json:"tick_value"`
	MinOrderSize      int64   `json:"min_order_size"`
	AvgDailyVolume    float64 `json:"avg_daily_volume"`
	MarginRequirement float64 `json:"margin_requirement"`
}

// PositionView is the open position as seen by the service. A flat account
// serialises as {}.
type PositionView struct {
	Direction        string  `json:"direction,omitempty"`
	Quantity         int64   `json:"quantity,omitempty"`
	AvgEntry         float64 `json:"avg_entry,omitempty"`
	UnrealizedPnL    float64 `json:"unrealized_pnl,omitempty"`
	PositionValuePct float64 `json:"position_value_pct,omitempty"`
}

type CostStructure struct {
	CommissionPerShare float64 `json:"commission_per_share"`
	FixedCommission    float64 `json:"fixed_commission"`
	MaxSlippage        float64 `json:"max_slippage"`
}

// Params holds the per-run parts of a request that do not change bar to bar.
// RiskParams.AccountEquity is taken from Account instead.
type Params struct {
	Instrument InstrumentSpec
	Risk       RiskParams
	Costs      CostStructure
}

// Account is the simulated account at the bar.
type Account struct {
	Equity   float64
	Position PositionView
}

// BuildRequest assembles the payload for the last candle of window.
func BuildRequest(window []model.Candle, snap *indicator.Snapshot, patterns pattern.Set, p Params, acct Account) (Request, error) {
	if len(window) == 0 {
		return Request{}, errors.New("prediction: empty candle window")
	}
	if snap == nil {
		return Request{}, indicator.ErrInsufficientHistory
	}
	last := window[len(window)-1]

	spec := p.Instrument
	spec.AvgDailyVolume = AvgVolume(window)
	risk := p.Risk
	risk.AccountEquity = indicator.Round(acct.Equity, 2)

	return Request{
		Timestamp: last.Time.UTC().Format(time.RFC3339),
		MarketData: MarketData{
			PriceCurrent:  last.Close,
			CandleCurrent: OHLC{Open: last.Open, High: last.High, Low: last.Low, Close: last.Close},
			VolumeCurrent: last.Volume,
			Indicators:    *snap,
			Patterns:      patterns,
		},
		RiskParams:      risk,
		InstrumentSpecs: spec,
		Positions:       acct.Position,
		CostStructure:   p.Costs,
	}, nil
}

// AvgVolume is the mean volume of the last AvgVolumeBars candles truncated
// to a whole number, or DefaultAvgDailyVolume when the window is shorter.
func AvgVolume(window []model.Candle) float64 {
	if len(window) < AvgVolumeBars {
		return DefaultAvgDailyVolume
	}
	var sum int64
	for _, c := range window[len(window)-AvgVolumeBars:] {
		sum += c.Volume
	}
	return float64(sum / AvgVolumeBars)
}

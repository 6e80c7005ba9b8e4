package model

// Action is the trade direction proposed by a prediction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Prediction is a trading signal produced by the external prediction service.
// Values are already checked at the boundary (see prediction.Parse).
type Prediction struct {
	Action      Action  `json:"action"`
	Confidence  float64 `json:"confidence"`
	Size        int64   `json:"size"`
	EntryPrice  float64 `json:"entry_price"`
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit  float64 `json:"take_profit"`
	RiskPercent float64 `json:"risk_percent"`
	Message     string  `json:"message"`
}

// Directional reports whether the prediction opens or closes exposure.
func (p Prediction) Directional() bool {
	return p.Action == ActionBuy || p.Action == ActionSell
}

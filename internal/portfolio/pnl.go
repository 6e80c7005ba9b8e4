package portfolio

import "github.com/shopspring/decimal"

// Summary is the P&L view of a ledger.
type Summary struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
	FinalBalance   decimal.Decimal `json:"final_balance"`
	Equity         decimal.Decimal `json:"equity"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	TotalReturnPct float64         `json:"total_return_pct"`
	TotalTrades    int             `json:"total_trades"`
	OpenPositions  int             `json:"open_positions"`
}

// Summary computes P&L with open positions marked at prices.
func (s *Simulator) Summary(prices map[string]float64) Summary {
	unrealized := decimal.Zero
	for sym, pos := range s.positions {
		px, ok := prices[sym]
		if !ok {
			continue
		}
		unrealized = unrealized.Add(
			decimal.NewFromFloat(px).Sub(pos.AvgPrice).Mul(decimal.NewFromInt(pos.Quantity)))
	}

	equity := s.Equity(prices)
	ret := 0.0
	if s.initial.IsPositive() {
		ret = equity.Sub(s.initial).Div(s.initial).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}

	return Summary{
		InitialBalance: s.initial,
		FinalBalance:   s.balance,
		Equity:         equity,
		RealizedPnL:    s.realized,
		UnrealizedPnL:  unrealized,
		TotalReturnPct: ret,
		TotalTrades:    len(s.trades),
		OpenPositions:  len(s.positions),
	}
}

// Package portfolio replays predictions into a simulated cash and position
// ledger.
//
// The simulator tracks a single long-only instrument. BUY opens or adds to
// the position at a size-weighted average price, SELL closes it in full.
// Money is held as decimal so repeated commissions do not drift.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"signal-grader/internal/model"
)

// Symbol is the instrument name used by the historical replay.
const Symbol = "SIMULATED"

var (
	ErrInsufficientFunds = errors.New("portfolio: insufficient funds")
	ErrNoOpenPosition    = errors.New("portfolio: no open position")
	ErrInvalidSize       = errors.New("portfolio: size must be positive")
	ErrInvalidPrice      = errors.New("portfolio: price must be positive and finite")
	ErrUnknownAction     = errors.New("portfolio: unknown action")
)

// Costs describes the commission schedule applied to every executed trade.
type Costs struct {
	FixedCommission    float64 `json:"fixed_commission" yaml:"fixed_commission"`
	CommissionPerShare float64 `json:"commission_per_share" yaml:"commission_per_share"`
}

// Commission returns fixed + qty×per-share.
func (c Costs) Commission(qty int64) decimal.Decimal {
	return decimal.NewFromFloat(c.FixedCommission).
		Add(decimal.NewFromInt(qty).Mul(decimal.NewFromFloat(c.CommissionPerShare)))
}

// Position is an open long position.
type Position struct {
	Quantity int64           `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Trade is one executed action. Trades are never modified after they are recorded.
type Trade struct {
	Timestamp    time.Time       `json:"timestamp"`
	Action       model.Action    `json:"action"`
	Size         int64           `json:"size"`
	Price        decimal.Decimal `json:"price"`
	StopLoss     float64         `json:"stop_loss"`
	TakeProfit   float64         `json:"take_profit"`
	Commission   decimal.Decimal `json:"commission"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
}

// State is a point-in-time copy of the ledger.
type State struct {
	Balance   decimal.Decimal     `json:"balance"`
	Positions map[string]Position `json:"positions"`
	Trades    []Trade             `json:"trades"`
}

// Simulator owns one ledger. It is driven sequentially by a single run and
// is not safe for concurrent use.
type Simulator struct {
	symbol  string
	costs   Costs
	initial decimal.Decimal

	balance   decimal.Decimal
	positions map[string]*Position
	trades    []Trade
	realized  decimal.Decimal
}

// NewSimulator creates a flat ledger holding initialBalance in cash.
func NewSimulator(initialBalance float64, costs Costs) *Simulator {
	b := decimal.NewFromFloat(initialBalance)
	return &Simulator{
		symbol:    Symbol,
		costs:     costs,
		initial:   b,
		balance:   b,
		positions: make(map[string]*Position),
		trades:    make([]Trade, 0, 256),
	}
}

// ExecuteTrade applies p at price. HOLD returns (nil, nil). Rejections return
// a sentinel error and leave the ledger untouched.
func (s *Simulator) ExecuteTrade(p model.Prediction, price float64, ts time.Time) (*Trade, error) {
	switch p.Action {
	case model.ActionHold:
		return nil, nil
	case model.ActionBuy, model.ActionSell:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, p.Action)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return nil, ErrInvalidPrice
	}
	px := decimal.NewFromFloat(price)

	var t Trade
	if p.Action == model.ActionBuy {
		if p.Size <= 0 {
			return nil, ErrInvalidSize
		}
		commission := s.costs.Commission(p.Size)
		cost := px.Mul(decimal.NewFromInt(p.Size))
		if s.balance.LessThan(cost.Add(commission)) {
			return nil, ErrInsufficientFunds
		}

		// Weighted average price on add.
		pos, ok := s.positions[s.symbol]
		if !ok {
			pos = &Position{}
			s.positions[s.symbol] = pos
		}
		total := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Quantity)).Add(cost)
		pos.Quantity += p.Size
		pos.AvgPrice = total.Div(decimal.NewFromInt(pos.Quantity))
		s.balance = s.balance.Sub(cost).Sub(commission)

		t = Trade{Size: p.Size, Commission: commission, RealizedPnL: decimal.Zero}
	} else {
		pos, ok := s.positions[s.symbol]
		if !ok || pos.Quantity <= 0 {
			return nil, ErrNoOpenPosition
		}
		qty := decimal.NewFromInt(pos.Quantity)
		commission := s.costs.Commission(pos.Quantity)
		pnl := px.Sub(pos.AvgPrice).Mul(qty)

		s.balance = s.balance.Add(px.Mul(qty)).Sub(commission)
		s.realized = s.realized.Add(pnl)
		delete(s.positions, s.symbol)

		t = Trade{Size: pos.Quantity, Commission: commission, RealizedPnL: pnl}
	}

	t.Timestamp = ts
	t.Action = p.Action
	t.Price = px
	t.StopLoss = p.StopLoss
	t.TakeProfit = p.TakeProfit
	t.BalanceAfter = s.balance
	s.trades = append(s.trades, t)
	return &t, nil
}

// Balance returns the cash balance.
func (s *Simulator) Balance() decimal.Decimal { return s.balance }

// InitialBalance returns the starting cash.
func (s *Simulator) InitialBalance() decimal.Decimal { return s.initial }

// Position returns the open position for the simulated symbol.
func (s *Simulator) Position() (Position, bool) {
	pos, ok := s.positions[s.symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Equity returns balance plus open positions marked at prices[symbol].
// Positions without a price add nothing.
func (s *Simulator) Equity(prices map[string]float64) decimal.Decimal {
	eq := s.balance
	for sym, pos := range s.positions {
		px, ok := prices[sym]
		if !ok {
			continue
		}
		eq = eq.Add(decimal.NewFromFloat(px).Mul(decimal.NewFromInt(pos.Quantity)))
	}
	return eq
}

// MarkPrices returns a price map for Equity with the simulated symbol at price.
func (s *Simulator) MarkPrices(price float64) map[string]float64 {
	return map[string]float64{s.symbol: price}
}

// State returns a deep copy of the ledger.
func (s *Simulator) State() State {
	st := State{
		Balance:   s.balance,
		Positions: make(map[string]Position, len(s.positions)),
		Trades:    make([]Trade, len(s.trades)),
	}
	for sym, pos := range s.positions {
		st.Positions[sym] = *pos
	}
	copy(st.Trades, s.trades)
	return st
}

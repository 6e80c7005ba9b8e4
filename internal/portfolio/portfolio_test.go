package portfolio

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-grader/internal/model"
)

var ts = time.Date(2025, 4, 7, 10, 0, 0, 0, time.UTC)

func costs() Costs { return Costs{FixedCommission: 1, CommissionPerShare: 0.004} }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func buy(size int64) model.Prediction {
	return model.Prediction{Action: model.ActionBuy, Size: size, StopLoss: 95, TakeProfit: 110}
}

func sell() model.Prediction {
	return model.Prediction{Action: model.ActionSell, Size: 10}
}

func TestSimulator_BuyThenSell(t *testing.T) {
	sim := NewSimulator(100000, costs())

	tr, err := sim.ExecuteTrade(buy(10), 100, ts)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assertDec(t, "1.04", tr.Commission)
	assertDec(t, "98998.96", tr.BalanceAfter)
	assert.Equal(t, 95.0, tr.StopLoss)

	pos, ok := sim.Position()
	require.True(t, ok)
	assert.Equal(t, int64(10), pos.Quantity)
	assertDec(t, "100", pos.AvgPrice)

	tr, err = sim.ExecuteTrade(sell(), 110, ts.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(10), tr.Size)
	assertDec(t, "100", tr.RealizedPnL)
	// 100000 − (1000 + 1.04) + (1100 − 1.04)
	assertDec(t, "100097.92", sim.Balance())

	_, ok = sim.Position()
	assert.False(t, ok)
	assert.Len(t, sim.State().Trades, 2)
}

func TestSimulator_WeightedAverage(t *testing.T) {
	sim := NewSimulator(100000, costs())
	_, err := sim.ExecuteTrade(buy(10), 100, ts)
	require.NoError(t, err)
	_, err = sim.ExecuteTrade(buy(30), 104, ts)
	require.NoError(t, err)

	pos, _ := sim.Position()
	assert.Equal(t, int64(40), pos.Quantity)
	assertDec(t, "103", pos.AvgPrice)

	tr, err := sim.ExecuteTrade(sell(), 105, ts)
	require.NoError(t, err)
	assert.Equal(t, int64(40), tr.Size, "SELL closes the whole position")
	assertDec(t, "80", tr.RealizedPnL)
}

func TestSimulator_InsufficientFundsIsNoop(t *testing.T) {
	sim := NewSimulator(1000, costs())
	before := sim.State()

	tr, err := sim.ExecuteTrade(buy(10), 100, ts)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Nil(t, tr)
	assert.Equal(t, before, sim.State())
}

func TestSimulator_Rejections(t *testing.T) {
	sim := NewSimulator(1000, costs())

	_, err := sim.ExecuteTrade(sell(), 100, ts)
	assert.ErrorIs(t, err, ErrNoOpenPosition)

	_, err = sim.ExecuteTrade(buy(0), 100, ts)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = sim.ExecuteTrade(buy(1), math.NaN(), ts)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = sim.ExecuteTrade(model.Prediction{Action: "COVER"}, 100, ts)
	assert.ErrorIs(t, err, ErrUnknownAction)

	tr, err := sim.ExecuteTrade(model.Prediction{Action: model.ActionHold}, 100, ts)
	assert.NoError(t, err)
	assert.Nil(t, tr)

	assert.Empty(t, sim.State().Trades)
	assertDec(t, "1000", sim.Balance())
}

func TestSimulator_EquityAndSummary(t *testing.T) {
	sim := NewSimulator(10000, Costs{})
	_, err := sim.ExecuteTrade(buy(10), 100, ts)
	require.NoError(t, err)

	assertDec(t, "10200", sim.Equity(sim.MarkPrices(120)))

	sum := sim.Summary(sim.MarkPrices(120))
	assertDec(t, "9000", sum.FinalBalance)
	assertDec(t, "200", sum.UnrealizedPnL)
	assert.Equal(t, 2.0, sum.TotalReturnPct)
	assert.Equal(t, 1, sum.OpenPositions)
	assert.Equal(t, 1, sum.TotalTrades)

	assert.InDelta(t, 11.76, sim.ExposurePct(120), 0.01)
}

func TestSimulator_EquitySkipsUnpricedPositions(t *testing.T) {
	sim := NewSimulator(10000, Costs{})
	_, err := sim.ExecuteTrade(buy(10), 100, ts)
	require.NoError(t, err)

	assertDec(t, "9000", sim.Equity(nil))
	assertDec(t, "9000", sim.Equity(map[string]float64{}))
	assertDec(t, "9000", sim.Equity(map[string]float64{"OTHER": 500}))
	assertDec(t, "9000", sim.Summary(nil).Equity)
}

func TestSimulator_StateIsCopy(t *testing.T) {
	sim := NewSimulator(10000, costs())
	_, err := sim.ExecuteTrade(buy(1), 100, ts)
	require.NoError(t, err)

	st := sim.State()
	st.Trades[0].Size = 99
	st.Positions[Symbol] = Position{Quantity: 99}

	pos, _ := sim.Position()
	assert.Equal(t, int64(1), pos.Quantity)
	assert.Equal(t, int64(1), sim.State().Trades[0].Size)
}

func TestDrawdown(t *testing.T) {
	var d Drawdown
	assert.Zero(t, d.Observe(dec("100")))
	assert.InDelta(t, 10, d.Observe(dec("90")), 1e-9)
	assert.Zero(t, d.Observe(dec("120")))
	assert.InDelta(t, 5, d.Observe(dec("114")), 1e-9)
	assert.InDelta(t, 10, d.MaxPct(), 1e-9)
	assertDec(t, "120", d.Peak())
}

package pattern

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-grader/internal/indicator"
	"signal-grader/internal/model"
)

func ohlc(o, h, l, c float64) model.Candle {
	return model.Candle{Open: o, High: h, Low: l, Close: c}
}

func TestDetect_BullishEngulfing(t *testing.T) {
	candles := []model.Candle{
		ohlc(101, 101.2, 99.8, 100), // bearish
		ohlc(99.5, 102, 99.4, 101.5),
	}
	set := Detect(candles, indicator.Snapshot{})
	assert.Equal(t, []string{BullishEngulfing}, set.Candlestick)
}

func TestDetect_EngulfingRequiresFullBody(t *testing.T) {
	tests := []struct {
		name string
		prev model.Candle
		cur  model.Candle
	}{
		{"previous bullish", ohlc(100, 101.2, 99.8, 101), ohlc(99.5, 102, 99.4, 101.5)},
		{"current bearish", ohlc(101, 101.2, 99.8, 100), ohlc(101.5, 102, 99.4, 99.5)},
		{"open not below prev close", ohlc(101, 101.2, 99.8, 100), ohlc(100, 102, 99.9, 101.5)},
		{"close not above prev open", ohlc(101, 101.2, 99.8, 100), ohlc(99.5, 101, 99.4, 101)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := Detect([]model.Candle{tt.prev, tt.cur}, indicator.Snapshot{})
			assert.NotContains(t, set.Candlestick, BullishEngulfing)
		})
	}
}

func TestDetect_BearishEngulfing(t *testing.T) {
	candles := []model.Candle{
		ohlc(100, 101.2, 99.8, 101),
		ohlc(101.5, 101.6, 99, 99.5),
	}
	set := Detect(candles, indicator.Snapshot{})
	assert.Equal(t, []string{BearishEngulfing}, set.Candlestick)
}

func TestDetect_ResistanceTest(t *testing.T) {
	snap := indicator.Snapshot{Bollinger: indicator.BollingerState{Upper: 105.25, Lower: 95}}
	candles := []model.Candle{ohlc(104, 104.5, 103.5, 104.2), ohlc(104.2, 105.2, 104, 104.8)}

	set := Detect(candles, snap)
	assert.Equal(t, []string{"resistance_105.25_tested"}, set.SupportResistance)

	candles[1].High = 105.1 // 0.15 away
	set = Detect(candles, snap)
	assert.Empty(t, set.SupportResistance)
}

func TestDetect_SupportTest(t *testing.T) {
	snap := indicator.Snapshot{Bollinger: indicator.BollingerState{Upper: 110, Lower: 95.5}}
	candles := []model.Candle{ohlc(96, 96.5, 95.8, 96), ohlc(96, 96.4, 95.55, 96.2)}

	set := Detect(candles, snap)
	assert.Equal(t, []string{"support_95.50_tested"}, set.SupportResistance)
}

func TestDetect_Pinbars(t *testing.T) {
	bull := Detect([]model.Candle{ohlc(100, 109.9, 99.9, 109.8)}, indicator.Snapshot{})
	assert.Empty(t, bull.PriceAction, "full body is not a pinbar")

	hammer := Detect([]model.Candle{ohlc(109, 110, 100, 109.5)}, indicator.Snapshot{})
	assert.Equal(t, []string{BullishPinbar}, hammer.PriceAction)

	star := Detect([]model.Candle{ohlc(101, 110, 100, 100.5)}, indicator.Snapshot{})
	assert.Equal(t, []string{BearishPinbar}, star.PriceAction)
}

func TestDetect_EmptyInputEncodesEmptyLists(t *testing.T) {
	set := Detect(nil, indicator.Snapshot{})
	assert.True(t, set.Empty())

	raw, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `{"candlestick":[],"support_resistance":[],"price_action":[]}`, string(raw))
}

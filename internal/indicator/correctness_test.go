package indicator

import (
	"math"
	"testing"
	"time"

	"signal-grader/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{Open: close, High: close + 0.5, Low: close - 0.5, Close: close}
}

func hlc(high, low, close float64) model.Candle {
	return model.Candle{Open: close, High: high, Low: low, Close: close}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA / EMA
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA after candle 3: (100+102+104)/3 = 102
	// SMA after candle 4: (102+104+103)/3 = 103
	// SMA after candle 5: (104+103+105)/3 = 104
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(candle(p))
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_StdDev(t *testing.T) {
	sma := NewSMA(3)
	for _, v := range []float64{1, 2, 3} {
		sma.Add(v)
	}
	// population variance = (1+0+1)/3
	assertClose(t, "StdDev", sma.StdDev(), math.Sqrt(2.0/3.0), 1e-9)
}

func TestEMA_Correctness_Period3(t *testing.T) {
	// multiplier = 2/(3+1) = 0.5
	// Candle 3: SMA seed = (100+102+104)/3 = 102
	// Candle 4: 103*0.5 + 102*0.5 = 102.5
	// Candle 5: 105*0.5 + 102.5*0.5 = 103.75
	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}

	for i, p := range prices {
		ema.Update(candle(p))
		if i >= 2 {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period3(t *testing.T) {
	// Prices: 10, 11, 12, 11, 13
	// Deltas: +1, +1, -1 → avgGain=2/3, avgLoss=1/3 → RS=2 → RSI=66.6667
	// Delta +2: avgGain=(2/3*2+2)/3=10/9, avgLoss=(1/3*2)/3=2/9 → RS=5 → RSI=83.3333
	rsi := NewRSI(3)
	for _, p := range []float64{10, 11, 12} {
		rsi.Update(candle(p))
	}
	if rsi.Ready() {
		t.Fatal("RSI(3) must not be ready after 3 closes")
	}

	rsi.Update(candle(11))
	if !rsi.Ready() {
		t.Fatal("RSI(3) should be ready after 4 closes")
	}
	assertClose(t, "RSI seed", rsi.Value(), 66.6667, 0.001)

	rsi.Update(candle(13))
	assertClose(t, "RSI smoothed", rsi.Value(), 83.3333, 0.001)
}

func TestRSI_FlatSeriesIsNeutral(t *testing.T) {
	rsi := NewRSI(3)
	for i := 0; i < 6; i++ {
		rsi.Update(candle(50))
	}
	assertClose(t, "flat RSI", rsi.Value(), 50, 1e-9)
}

// ────────────────────────────────────────────────────────────
// ATR
// ────────────────────────────────────────────────────────────

func TestATR_Correctness_Period3(t *testing.T) {
	// TR1 = 10-8 = 2
	// TR2 = max(2, |11-9|, |9-9|) = 2
	// TR3 = max(3, |12-10|, |9-10|) = 3 → seed = 7/3
	// TR4 = max(2, |12-11|, |10-11|) = 2 → (7/3*2 + 2)/3 = 20/9
	atr := NewATR(3)
	bars := []model.Candle{hlc(10, 8, 9), hlc(11, 9, 10), hlc(12, 9, 11)}
	for _, c := range bars {
		atr.Update(c)
	}
	if !atr.Ready() {
		t.Fatal("ATR(3) should be ready after 3 bars")
	}
	assertClose(t, "ATR seed", atr.Value(), 7.0/3.0, 1e-9)

	atr.Update(hlc(12, 10, 10))
	assertClose(t, "ATR smoothed", atr.Value(), 20.0/9.0, 1e-9)

	v, ok := ATRAt(append(bars, hlc(12, 10, 10)), 3)
	if !ok {
		t.Fatal("ATRAt should be ready")
	}
	assertClose(t, "ATRAt", v, 20.0/9.0, 1e-9)

	if _, ok := ATRAt(bars[:2], 3); ok {
		t.Error("ATRAt with 2 bars must not be ready")
	}
}

// ────────────────────────────────────────────────────────────
// Stochastic
// ────────────────────────────────────────────────────────────

func TestStochastic_Fast(t *testing.T) {
	// Window 1: hh=12, ll=8, close=11 → 75
	// Window 2: hh=12, ll=9, close=10 → 33.33
	st := NewStochastic(3, 1, 1)
	for _, c := range []model.Candle{hlc(10, 8, 9), hlc(11, 9, 10), hlc(12, 9, 11)} {
		st.Update(c)
	}
	if !st.Ready() {
		t.Fatal("fast stochastic should be ready after period bars")
	}
	assertClose(t, "K", st.K(), 75, 1e-9)
	assertClose(t, "D", st.D(), 75, 1e-9)

	st.Update(hlc(12, 10, 10))
	assertClose(t, "K", st.K(), 100.0/3.0, 1e-9)
}

func TestStochastic_Slow(t *testing.T) {
	// raw: 75, 33.33, 100
	// K(2): 54.1667, 66.6667
	// D(2): (54.1667+66.6667)/2 = 60.4167
	st := NewStochastic(3, 2, 2)
	bars := []model.Candle{hlc(10, 8, 9), hlc(11, 9, 10), hlc(12, 9, 11), hlc(12, 10, 10)}
	for _, c := range bars {
		st.Update(c)
	}
	if st.Ready() {
		t.Fatal("D must not be ready yet")
	}
	st.Update(hlc(13, 11, 13))
	if !st.Ready() {
		t.Fatal("expected ready")
	}
	assertClose(t, "K", st.K(), 66.6667, 0.001)
	assertClose(t, "D", st.D(), 60.4167, 0.001)
}

func TestStochastic_ZeroRange(t *testing.T) {
	st := NewStochastic(3, 1, 1)
	for i := 0; i < 3; i++ {
		st.Update(hlc(10, 10, 10))
	}
	assertClose(t, "flat K", st.K(), 50, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Bollinger / OBV / VWAP
// ────────────────────────────────────────────────────────────

func TestBollinger_Bands(t *testing.T) {
	bb := NewBollinger(3, 2)
	for _, p := range []float64{1, 2, 3} {
		bb.Update(candle(p))
	}
	upper, mid, lower := bb.Bands()
	sd := math.Sqrt(2.0 / 3.0)
	assertClose(t, "mid", mid, 2, 1e-9)
	assertClose(t, "upper", upper, 2+2*sd, 1e-9)
	assertClose(t, "lower", lower, 2-2*sd, 1e-9)
	assertClose(t, "bandwidth", bb.Bandwidth(), 4*sd/2*100, 1e-9)
}

func TestBandPosition_Priority(t *testing.T) {
	tests := []struct {
		close float64
		want  string
	}{
		{3.7, PositionUpperBand},
		{3.0, PositionUpperBand}, // on the band counts as the band
		{0.3, PositionLowerBand},
		{1.0, PositionLowerBand},
		{2.5, PositionUpperMiddle},
		{2.0, PositionLowerMiddle},
		{1.5, PositionLowerMiddle},
	}
	for _, tt := range tests {
		if got := BandPosition(tt.close, 3.0, 1.0); got != tt.want {
			t.Errorf("BandPosition(%.1f) = %s, want %s", tt.close, got, tt.want)
		}
	}

	// Degenerate bands: upper wins over lower.
	if got := BandPosition(5, 5, 5); got != PositionUpperBand {
		t.Errorf("flat bands: got %s", got)
	}
}

func TestOBV(t *testing.T) {
	obv := NewOBV()
	bars := []model.Candle{
		{Close: 10, Volume: 100},
		{Close: 11, Volume: 200}, // +200
		{Close: 11, Volume: 300}, // unchanged
		{Close: 9, Volume: 50},   // -50
	}
	for _, c := range bars {
		obv.Update(c)
	}
	assertClose(t, "OBV", obv.Value(), 150, 1e-9)
}

func TestVWAP(t *testing.T) {
	base := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	flat := func(i int, p float64, v int64) model.Candle {
		return model.Candle{Time: base.Add(time.Duration(i) * 5 * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: v}
	}
	bars := []model.Candle{flat(0, 10, 100), flat(1, 20, 100), flat(2, 30, 200)}

	// 10-minute session keeps the bars opened after 09:00 → last two.
	assertClose(t, "session", VWAP(bars, 10*time.Minute, 100), 8000.0/300.0, 1e-9)
	assertClose(t, "whole day", VWAP(bars, 24*time.Hour, 100), 9000.0/400.0, 1e-9)

	// Without timestamps the bar-count fallback applies.
	noTime := make([]model.Candle, len(bars))
	copy(noTime, bars)
	for i := range noTime {
		noTime[i].Time = time.Time{}
	}
	assertClose(t, "fallback 2", VWAP(noTime, 24*time.Hour, 2), 8000.0/300.0, 1e-9)
	assertClose(t, "fallback 3", VWAP(noTime, 24*time.Hour, 3), 9000.0/400.0, 1e-9)

	// Zero volume falls back to the last close.
	zero := []model.Candle{flat(0, 10, 0), flat(1, 12, 0)}
	assertClose(t, "zero volume", VWAP(zero, 24*time.Hour, 100), 12, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Divergence
// ────────────────────────────────────────────────────────────

func TestDivergence(t *testing.T) {
	tests := []struct {
		name      string
		lows      []float64
		highs     []float64
		companion []float64
		want      string
	}{
		{
			name:      "bullish: lower low, higher companion low",
			lows:      []float64{5, 5, 4, 4},
			highs:     []float64{10, 10, 9, 9},
			companion: []float64{30, 30, 35, 35},
			want:      DivergenceBullish,
		},
		{
			name:      "bearish: higher high, lower companion low",
			lows:      []float64{5, 5, 5, 5},
			highs:     []float64{10, 10, 11, 11},
			companion: []float64{30, 30, 25, 25},
			want:      DivergenceBearish,
		},
		{
			name:      "confirmation is none",
			lows:      []float64{5, 5, 4, 4},
			highs:     []float64{10, 10, 9, 9},
			companion: []float64{30, 30, 25, 25},
			want:      DivergenceNone,
		},
		{
			name:      "short input",
			lows:      []float64{5, 4, 3},
			highs:     []float64{10, 10, 11},
			companion: []float64{30, 35, 36},
			want:      DivergenceNone,
		},
		{
			name:      "undefined companion",
			lows:      []float64{5, 5, 4, 4},
			highs:     []float64{10, 10, 9, 9},
			companion: []float64{math.NaN(), 30, 35, 35},
			want:      DivergenceNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Divergence(tt.lows, tt.highs, tt.companion, 2); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-grader/internal/model"
)

var t0 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

func bar(i int, close float64) model.Candle {
	return model.Candle{
		Time:   t0.Add(time.Duration(i) * 5 * time.Minute),
		Open:   close,
		High:   close + 1,
		Low:    close - 1,
		Close:  close,
		Volume: 100,
	}
}

func TestSeries_AppendRejectsOutOfOrder(t *testing.T) {
	s := New(4)
	require.NoError(t, s.Append(bar(1, 10)))

	assert.ErrorIs(t, s.Append(bar(1, 11)), ErrOutOfOrder, "duplicate timestamp")
	assert.ErrorIs(t, s.Append(bar(0, 9)), ErrOutOfOrder, "older timestamp")
	assert.Equal(t, 1, s.Len())
}

func TestFromCandles_Unordered(t *testing.T) {
	_, err := FromCandles([]model.Candle{bar(2, 1), bar(1, 1)})
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestSeries_MergeIncremental(t *testing.T) {
	s, err := FromCandles([]model.Candle{bar(0, 10), bar(1, 11), bar(2, 12)})
	require.NoError(t, err)

	// Refresh returns the overlapping bar again plus two new ones, unsorted.
	added := s.Merge([]model.Candle{bar(4, 14), bar(2, 99), bar(3, 13), bar(3, 13)})
	assert.Equal(t, 2, added)
	require.Equal(t, 5, s.Len())
	assert.Equal(t, 12.0, s.At(2).Close, "known bar must not be replaced")

	for i := 1; i < s.Len(); i++ {
		assert.True(t, s.At(i).Time.After(s.At(i-1).Time))
	}
}

func TestSeries_WindowAndForward(t *testing.T) {
	s := New(10)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(bar(i, float64(i))))
	}

	w := s.Window(4)
	require.Len(t, w, 5)
	assert.Equal(t, 4.0, w[4].Close)
	assert.Len(t, s.Window(50), 10)
	assert.Nil(t, s.Window(-1))

	f := s.Forward(4, 3)
	require.Len(t, f, 3)
	assert.Equal(t, 5.0, f[0].Close)
	assert.Equal(t, 7.0, f[2].Close)

	assert.Len(t, s.Forward(8, 6), 1, "truncated at end of series")
	assert.Nil(t, s.Forward(9, 6))
}

func TestSeries_WindowIsReadOnlyView(t *testing.T) {
	s, err := FromCandles([]model.Candle{bar(0, 1), bar(1, 2)})
	require.NoError(t, err)

	w := s.Window(0)
	w = append(w, bar(5, 5)) // capacity is clamped, must not clobber index 1
	assert.Equal(t, 2.0, s.At(1).Close)
	assert.Len(t, w, 2)
}

func TestExtractors(t *testing.T) {
	cs := []model.Candle{bar(0, 10), bar(1, 20)}
	assert.Equal(t, []float64{11, 21}, Highs(cs))
	assert.Equal(t, []float64{9, 19}, Lows(cs))
}

func TestSeries_IndexOf(t *testing.T) {
	s, err := FromCandles([]model.Candle{bar(0, 10), bar(1, 11), bar(3, 13)})
	require.NoError(t, err)

	i, ok := s.IndexOf(bar(3, 0).Time)
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = s.IndexOf(bar(2, 0).Time)
	assert.False(t, ok)
	_, ok = New(0).IndexOf(bar(0, 0).Time)
	assert.False(t, ok)
}

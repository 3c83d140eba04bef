package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_scanner/internal/domain"
)

func TestRSISeries_Edges(t *testing.T) {
	short := RSISeries([]float64{1, 2, 3}, 7)
	assert.Equal(t, []float64{50, 50, 50}, short)

	rising := RSISeries([]float64{1, 2, 3, 4, 5, 6}, 3)
	assert.Equal(t, 50.0, rising[2])
	assert.Equal(t, 100.0, rising[5])

	flat := RSISeries([]float64{5, 5, 5, 5, 5}, 3)
	assert.Equal(t, 50.0, flat[4])

	mixed := RSISeries([]float64{10, 11, 10, 11}, 3)
	// gains 2/3, losses 1/3
	assert.InDelta(t, 66.666, mixed[3], 0.01)
}

func TestEMAAndMACD(t *testing.T) {
	ema := EMA([]float64{1, 1, 1, 1}, 3)
	assert.Equal(t, []float64{1, 1, 1, 1}, ema)

	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + float64(i)
	}
	hist := MACDHistogram(values, 12, 26, 9)
	require.Len(t, hist, 60)
	assert.Greater(t, hist[30], 0.0)
}

func TestStochastic(t *testing.T) {
	_, _, ok := Stochastic(make([]domain.Candle, 10), 14, 3)
	assert.False(t, ok)

	candles := make([]domain.Candle, 20)
	for i := range candles {
		candles[i] = domain.Candle{High: 110, Low: 90, Close: 100}
	}
	candles[19].Close = 110
	k, d, ok := Stochastic(candles, 14, 3)
	require.True(t, ok)
	assert.InDelta(t, 100, k, 1e-9)
	assert.InDelta(t, (50.0+50.0+100.0)/3, d, 1e-9)
}

func TestMomentumScore_Bounds(t *testing.T) {
	assert.Equal(t, 0.0, MomentumScore(nil, nil))

	up := make([]domain.Candle, 60)
	for i := range up {
		p := 100 + float64(i)
		up[i] = domain.Candle{Open: p - 0.5, High: p + 0.5, Low: p - 1, Close: p}
	}
	score := MomentumScore(up, up)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 100.0)
	// overbought RSI costs 20, positive MACD on both frames adds 40
	assert.Equal(t, 20.0, score)
}

package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_scanner/internal/domain"
)

func newTestHistory(t *testing.T) (*PriceHistory, *time.Time) {
	t.Helper()
	now := testNow
	h := NewPriceHistory(newPriceStore(t), nopLogger())
	h.timeNow = fixedClock(&now)
	return h, &now
}

// seed stores one tick per step, the last one at the current clock.
func seed(t *testing.T, h *PriceHistory, step time.Duration, prices, vols []float64) {
	t.Helper()
	now := h.timeNow()
	for i, p := range prices {
		tick := domain.PriceTick{
			Timestamp: now.Add(-time.Duration(len(prices)-1-i) * step),
			Price:     p,
		}
		if vols != nil {
			tick.Volume1m = &vols[i]
		}
		h.LogTick(context.Background(), tick)
	}
	require.Zero(t, h.DroppedTicks())
}

func volume(v float64) *float64 { return &v }

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func ramp(from, to float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = from + (to-from)*float64(i)/float64(n-1)
	}
	return out
}

func TestDetectMoonCandle_FlatSeriesIsNormal(t *testing.T) {
	h, _ := newTestHistory(t)
	seed(t, h, 5*time.Second, repeat(1.0, 40), nil)

	res, err := h.DetectMoonCandle(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Detected)
	assert.Equal(t, domain.PatternNormal, res.Type)
	assert.Equal(t, 0.0, res.PriceChangePct)
	assert.Equal(t, 40, res.Samples)
}

func TestDetectMoonCandle_InsufficientData(t *testing.T) {
	h, _ := newTestHistory(t)
	seed(t, h, 5*time.Second, repeat(1.0, 29), nil)

	res, err := h.DetectMoonCandle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PatternInsufficientData, res.Type)
	assert.False(t, res.Detected)
}

func TestDetectMoonCandle_Classification(t *testing.T) {
	spikeVols := append(repeat(10, 30), repeat(100, 10)...)

	cases := []struct {
		name string
		to   float64
		vols []float64
		want domain.PatternType
	}{
		{"moon with volume spike", 1.06, spikeVols, domain.PatternMoonCandle},
		{"big move without spike is normal", 1.06, repeat(10, 40), domain.PatternNormal},
		{"pump", 1.04, nil, domain.PatternPump},
		{"dump", 0.93, nil, domain.PatternDump},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestHistory(t)
			seed(t, h, 5*time.Second, ramp(1.0, tc.to, 40), tc.vols)

			res, err := h.DetectMoonCandle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Type)
			assert.InDelta(t, (tc.to-1.0)*100, res.PriceChangePct, 1e-6)
		})
	}
}

func TestDetectDipOpportunity(t *testing.T) {
	h, _ := newTestHistory(t)
	prices := make([]float64, 60)
	for i := range prices {
		switch {
		case i < 30:
			prices[i] = 100
		case i <= 45:
			prices[i] = 100 - float64(i-29)/16
		default:
			prices[i] = 99 + float64(i-45)*0.5/14
		}
	}
	seed(t, h, 2*time.Second, prices, nil)

	res, err := h.DetectDipOpportunity(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Detected)
	assert.Equal(t, domain.PatternDipBounce, res.Type)
	assert.InDelta(t, 99.0, res.LowPrice, 1e-9)
	assert.InDelta(t, 1.0, res.DipDepthPct, 1e-9)
	assert.InDelta(t, 0.5/99*100, res.BouncePct, 1e-9)
}

func TestDetectDipOpportunity_NoDipAndInsufficient(t *testing.T) {
	h, _ := newTestHistory(t)
	seed(t, h, 2*time.Second, repeat(50, 10), nil)

	res, err := h.DetectDipOpportunity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PatternInsufficientData, res.Type)

	seed(t, h, time.Second, repeat(50, 40), nil)
	res, err = h.DetectDipOpportunity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PatternNoDip, res.Type)
	assert.False(t, res.Detected)
}

func TestDetectSupportResistance(t *testing.T) {
	h, _ := newTestHistory(t)

	sr, err := h.DetectSupportResistance(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, sr.Available)

	prices := make([]float64, 130)
	for i := range prices {
		prices[i] = 100 + math.Abs(float64(i%40)-20)
	}
	seed(t, h, time.Second, prices, nil)

	sr, err = h.DetectSupportResistance(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, sr.Available)
	require.NotNil(t, sr.Support)
	require.NotNil(t, sr.Resistance)
	assert.Equal(t, 100.0, sr.Support.Price)
	assert.Equal(t, 3, sr.Support.Tests)
	assert.Equal(t, 120.0, sr.Resistance.Price)
	assert.Equal(t, 2, sr.Resistance.Tests)
}

func TestComputeVolumeMetrics(t *testing.T) {
	h, now := newTestHistory(t)
	ctx := context.Background()

	reading, err := h.LatestVolumeTrend(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.VolumeUnknown, reading.Trend)

	// 48 quiet ticks between 55 and 8 minutes ago, 12 busy ticks in the last 4 minutes
	for i := 0; i < 48; i++ {
		h.LogTick(ctx, domain.PriceTick{Timestamp: now.Add(-55*time.Minute + time.Duration(i)*time.Minute), Price: 1, Volume1m: volume(10)})
	}
	for i := 0; i < 12; i++ {
		h.LogTick(ctx, domain.PriceTick{Timestamp: now.Add(-4*time.Minute + time.Duration(i)*20*time.Second), Price: 1, Volume1m: volume(100)})
	}

	m, err := h.ComputeVolumeMetrics(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100, m.Vol5m, 1e-9)
	assert.InDelta(t, 28, m.Vol1h, 1e-9)
	assert.Equal(t, m.Vol1h, m.Vol5mAvg1h)
	assert.True(t, m.SpikeDetected)
	assert.Equal(t, domain.VolumeIncreasing, m.Trend)

	reading, err = h.LatestVolumeTrend(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.VolumeIncreasing, reading.Trend)
	assert.InDelta(t, 100.0/28.0, reading.Multiplier, 1e-9)
}

func TestComputeVolumeMetrics_NoTicksIsStable(t *testing.T) {
	h, _ := newTestHistory(t)

	m, err := h.ComputeVolumeMetrics(context.Background())
	require.NoError(t, err)
	assert.False(t, m.SpikeDetected)
	assert.Equal(t, domain.VolumeStable, m.Trend)
}

func TestScanPatternsAndRecentPatterns(t *testing.T) {
	h, _ := newTestHistory(t)
	ctx := context.Background()

	sum, err := h.RecentPatterns(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendUnknown, sum.Trend)
	assert.Equal(t, domain.TrendUnknown, sum.Volatility)

	seed(t, h, 5*time.Second, ramp(1.0, 1.04, 40), nil)
	moon, _, err := h.ScanPatterns(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PatternPump, moon.Type)

	sum, err = h.RecentPatterns(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pumps24h)
	assert.Equal(t, 1, sum.Patterns[domain.PatternPump].Count)
	assert.InDelta(t, 4.0, sum.Patterns[domain.PatternPump].AvgMovePct, 1e-6)
	assert.Equal(t, domain.TrendBullish, sum.Trend)
	assert.InDelta(t, 4.0, sum.PriceChangePct, 1e-6)
	assert.Equal(t, domain.VolatilityHigh, sum.Volatility)
}

func TestRecentPatternsIgnoresTicksOutsideWindow(t *testing.T) {
	h, now := newTestHistory(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		h.LogTick(ctx, domain.PriceTick{Timestamp: now.Add(-3*time.Hour + time.Duration(i)*time.Second), Price: 2})
	}
	seed(t, h, 5*time.Second, ramp(1.0, 1.04, 40), nil)

	sum, err := h.RecentPatterns(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendBullish, sum.Trend)
	assert.InDelta(t, 4.0, sum.PriceChangePct, 1e-6)
}

func TestRecordPatternDerivesMove(t *testing.T) {
	h, _ := newTestHistory(t)
	id, err := h.RecordPattern(context.Background(), domain.PatternEvent{Type: domain.PatternDump, PriceStart: 2, PriceEnd: 1.8})
	require.NoError(t, err)
	assert.Positive(t, id)

	sum, err := h.RecentPatterns(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, sum.Patterns[domain.PatternDump].AvgMovePct, 1e-9)
}

func TestCleanupRemovesOldTicks(t *testing.T) {
	h, now := newTestHistory(t)
	ctx := context.Background()
	h.LogTick(ctx, domain.PriceTick{Timestamp: now.Add(-8 * 24 * time.Hour), Price: 1})
	h.LogTick(ctx, domain.PriceTick{Timestamp: now.Add(-time.Hour), Price: 1})

	n, err := h.Cleanup(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type failingTickRepo struct {
	domain.PriceHistoryRepository
}

func (failingTickRepo) InsertTick(context.Context, domain.PriceTick) error {
	return errors.New("disk full")
}

func TestLogTick_FailuresAreCounted(t *testing.T) {
	h := NewPriceHistory(failingTickRepo{}, nopLogger())

	h.LogTick(context.Background(), domain.PriceTick{Price: 1})
	h.LogTick(context.Background(), domain.PriceTick{Price: -1})

	assert.Equal(t, int64(2), h.DroppedTicks())
}

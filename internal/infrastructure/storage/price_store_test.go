package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_scanner/internal/domain"
)

func newTestPriceStore(t *testing.T) *PriceStore {
	t.Helper()
	s, err := NewPriceStore(filepath.Join(t.TempDir(), "price_history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPriceStore_TicksRoundTrip(t *testing.T) {
	s := newTestPriceStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	funding := 0.0001

	for i := 0; i < 5; i++ {
		vol := float64(i * 10)
		tick := domain.PriceTick{Timestamp: base.Add(time.Duration(i) * time.Second), Price: 1 + float64(i)/100, Volume1m: &vol}
		if i == 4 {
			tick.FundingRate = &funding
		}
		require.NoError(t, s.InsertTick(ctx, tick))
	}

	ticks, err := s.TicksSince(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, ticks, 3)
	assert.Equal(t, base.Add(2*time.Second), ticks[0].Timestamp)
	assert.Nil(t, ticks[0].FundingRate)
	require.NotNil(t, ticks[2].FundingRate)
	assert.InDelta(t, funding, *ticks[2].FundingRate, 1e-12)

	recent, err := s.RecentTicks(ctx, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.InDelta(t, 1.03, recent[0].Price, 1e-9)
	assert.InDelta(t, 1.04, recent[1].Price, 1e-9)

	windowed, err := s.RecentTicks(ctx, base.Add(2*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, windowed, 2)
	assert.InDelta(t, 1.03, windowed[0].Price, 1e-9)

	avg, err := s.AverageVolumeSince(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 20.0, avg, 1e-9)

	none, err := s.AverageVolumeSince(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestPriceStore_UnknownVolumeIsNotAveraged(t *testing.T) {
	s := newTestPriceStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	vol := 30.0

	require.NoError(t, s.InsertTick(ctx, domain.PriceTick{Timestamp: base, Price: 1, Volume1m: &vol}))
	require.NoError(t, s.InsertTick(ctx, domain.PriceTick{Timestamp: base.Add(time.Second), Price: 1}))

	avg, err := s.AverageVolumeSince(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 30.0, avg, 1e-9)

	ticks, err := s.TicksSince(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Nil(t, ticks[1].Volume1m)
}

func TestPriceStore_LatestVolumeMetrics(t *testing.T) {
	s := newTestPriceStore(t)
	ctx := context.Background()

	_, err := s.LatestVolumeMetrics(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertVolumeMetrics(ctx, domain.VolumeMetrics{Timestamp: base, Vol5m: 1, Trend: domain.VolumeStable}))
	require.NoError(t, s.InsertVolumeMetrics(ctx, domain.VolumeMetrics{Timestamp: base.Add(5 * time.Minute), Vol5m: 9, Vol5mAvg1h: 3, SpikeDetected: true, Trend: domain.VolumeIncreasing}))

	m, err := s.LatestVolumeMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9.0, m.Vol5m)
	assert.True(t, m.SpikeDetected)
	assert.Equal(t, domain.VolumeIncreasing, m.Trend)
}

func TestPriceStore_PatternStatsAndCleanup(t *testing.T) {
	s := newTestPriceStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	events := []domain.PatternEvent{
		{Timestamp: now.Add(-time.Hour), Type: domain.PatternPump, PercentMove: 4},
		{Timestamp: now.Add(-2 * time.Hour), Type: domain.PatternPump, PercentMove: 3},
		{Timestamp: now.Add(-30 * time.Minute), Type: domain.PatternMoonCandle, PercentMove: 7, VolumeSpike: true},
		{Timestamp: now.Add(-10 * 24 * time.Hour), Type: domain.PatternDump, PercentMove: -6},
	}
	for _, ev := range events {
		_, err := s.InsertPatternEvent(ctx, ev)
		require.NoError(t, err)
	}
	require.NoError(t, s.InsertTick(ctx, domain.PriceTick{Timestamp: now.Add(-8 * 24 * time.Hour), Price: 1}))
	require.NoError(t, s.InsertTick(ctx, domain.PriceTick{Timestamp: now.Add(-time.Minute), Price: 1}))

	stats, err := s.PatternStatsSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats[domain.PatternPump].Count)
	assert.InDelta(t, 3.5, stats[domain.PatternPump].AvgMovePct, 1e-9)
	assert.Equal(t, 1, stats[domain.PatternMoonCandle].Count)
	assert.NotContains(t, stats, domain.PatternDump)

	deleted, err := s.DeleteBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	ticks, err := s.TicksSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, ticks, 1)
}

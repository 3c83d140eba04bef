package usecase

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_scanner/internal/domain"
)

type fakeSnapshotCache struct {
	published []domain.OrderFlowAnalysis
	stored    []domain.OrderFlowAnalysis
	err       error
}

func (c *fakeSnapshotCache) Publish(_ context.Context, a domain.OrderFlowAnalysis) error {
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, a)
	return nil
}

func (c *fakeSnapshotCache) LoadRecent(_ context.Context, n int) ([]domain.OrderFlowAnalysis, error) {
	if c.err != nil {
		return nil, c.err
	}
	if n < len(c.stored) {
		return c.stored[len(c.stored)-n:], nil
	}
	return c.stored, nil
}

func levels(start, step float64, n int, size float64) []domain.OrderBookEntry {
	out := make([]domain.OrderBookEntry, n)
	for i := range out {
		out[i] = domain.OrderBookEntry{Price: start + step*float64(i), Size: size}
	}
	return out
}

func TestAnalyze_MissingSideIsNeutral(t *testing.T) {
	a := NewOrderFlowAnalyzer(50, nil, nopLogger())

	for _, book := range []*domain.OrderBook{
		nil,
		{Bids: levels(99, -0.1, 5, 10)},
		{Asks: levels(100, 0.1, 5, 10)},
	} {
		res := a.Analyze(context.Background(), book)
		assert.False(t, res.Available)
		assert.Equal(t, domain.DirectionUnknown, res.Prediction.Direction)
		assert.Zero(t, res.Imbalance)
		assert.NotNil(t, res.Walls.BidWalls)
	}
	assert.Equal(t, domain.FlowInsufficientData, a.Trend(2).Trend)
}

func TestAnalyze_ImbalanceAndRatio(t *testing.T) {
	a := NewOrderFlowAnalyzer(50, nil, nopLogger())
	book := &domain.OrderBook{
		Bids: levels(99.9, -0.1, 10, 100),
		Asks: levels(100.0, 0.1, 5, 100),
	}

	res := a.Analyze(context.Background(), book)
	require.True(t, res.Available)
	assert.InDelta(t, 33.333, res.Imbalance, 0.01)
	assert.InDelta(t, 2.0, res.Metrics.BidAskRatio, 1e-9)
	assert.InDelta(t, 99.9, res.Metrics.BestBid, 1e-9)
	assert.InDelta(t, 100.0, res.Metrics.BestAsk, 1e-9)
	assert.InDelta(t, 0.1/99.9*100, res.Metrics.SpreadPct, 1e-9)
	assert.InDelta(t, 500, res.Metrics.Top5BidVolume, 1e-9)
	assert.InDelta(t, 1000, res.Metrics.Top10BidVolume, 1e-9)
	assert.InDelta(t, 500, res.Metrics.Top10AskVolume, 1e-9)
	assert.InDelta(t, 1000, res.Metrics.Top20BidVolume, 1e-9)
	assert.InDelta(t, 99.95, res.Metrics.MidPrice, 1e-9)
	assert.Equal(t, domain.SignalBullish, res.Prediction.Direction)
	assert.Equal(t, res, a.Latest())
}

func TestImbalanceScore_BoundsAndSign(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		book := &domain.OrderBook{
			Bids: make([]domain.OrderBookEntry, 1+rng.Intn(10)),
			Asks: make([]domain.OrderBookEntry, 1+rng.Intn(10)),
		}
		var bidVol, askVol float64
		for j := range book.Bids {
			book.Bids[j] = domain.OrderBookEntry{Price: 100 - float64(j), Size: rng.Float64() * 1000}
			bidVol += book.Bids[j].Size
		}
		for j := range book.Asks {
			book.Asks[j] = domain.OrderBookEntry{Price: 101 + float64(j), Size: rng.Float64() * 1000}
			askVol += book.Asks[j].Size
		}

		score := imbalanceScore(book)
		require.GreaterOrEqual(t, score, -100.0)
		require.LessOrEqual(t, score, 100.0)
		if bidVol > askVol {
			require.Positive(t, score)
		} else if bidVol < askVol {
			require.Negative(t, score)
		}
	}
}

func TestDetectWalls(t *testing.T) {
	bids := levels(100, -0.5, 10, 1)
	bids[6].Size = 50
	asks := levels(101, 0.5, 10, 2)

	wa := detectWalls(&domain.OrderBook{Bids: bids, Asks: asks})
	assert.InDelta(t, 5.9, wa.BidThreshold, 1e-9)
	assert.Equal(t, 1, wa.BidWallCount)
	require.NotNil(t, wa.StrongestBid)
	assert.Equal(t, 50.0, wa.StrongestBid.Size)
	assert.Equal(t, 97.0, wa.StrongestBid.Price)

	// uniform sizes put every level at the threshold; the list is capped
	assert.Equal(t, 10, wa.AskWallCount)
	assert.Len(t, wa.AskWalls, 5)
}

func TestPercentileMatchesLinearInterpolation(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 90))
	assert.Equal(t, 7.0, percentile([]float64{7}, 90))
	assert.InDelta(t, 9.1, percentile([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 90), 1e-9)
}

func TestClusterLevels(t *testing.T) {
	clusters := clusterLevels([]domain.OrderBookEntry{
		{Price: 100, Size: 10},
		{Price: 99.95, Size: 10},
		{Price: 99.9, Size: 10},
		{Price: 97, Size: 40},
		{Price: 95, Size: 5},
		{Price: 94.99, Size: 5},
	})

	require.Len(t, clusters, 2)
	assert.Equal(t, 30.0, clusters[0].Volume)
	assert.Equal(t, 3, clusters[0].Levels)
	assert.InDelta(t, 99.9375, clusters[0].Price, 1e-9)
	assert.Equal(t, 10.0, clusters[1].Volume)
}

func TestPredictDirection_Points(t *testing.T) {
	bearish := domain.OrderFlowAnalysis{
		Imbalance: -25,
		Metrics:   domain.BookMetrics{BidAskRatio: 0.5, SpreadPct: 0.3},
		Walls:     domain.WallAnalysis{BidWallCount: 1, AskWallCount: 4},
	}
	p := predictDirection(bearish)
	assert.Equal(t, -70.0, p.Score)
	assert.Equal(t, domain.SignalBearish, p.Direction)
	assert.Equal(t, 70.0, p.Confidence)
	assert.Len(t, p.Reasons, 4)

	mild := domain.OrderFlowAnalysis{Imbalance: 12, Metrics: domain.BookMetrics{BidAskRatio: 1, SpreadPct: 0.1}}
	p = predictDirection(mild)
	assert.Equal(t, 15.0, p.Score)
	assert.Equal(t, domain.SignalNeutral, p.Direction)
}

func TestBookStrength(t *testing.T) {
	s := bookStrength(domain.BookMetrics{
		TotalBidVolume: 8000, TotalAskVolume: 4000,
		Top10BidVolume: 1500, Top10AskVolume: 1500,
		SpreadPct: 0.01,
	}, 200)
	assert.Equal(t, 100, s.Score)
	assert.Equal(t, "EXCELLENT", s.Quality)

	// concentration is measured over the top ten levels, not the top five
	s = bookStrength(domain.BookMetrics{
		TotalBidVolume: 8000, TotalAskVolume: 4000,
		Top5BidVolume: 1000, Top5AskVolume: 1000,
		Top10BidVolume: 3000, Top10AskVolume: 3000,
		SpreadPct: 0.01,
	}, 200)
	assert.Equal(t, 80, s.Score)

	s = bookStrength(domain.BookMetrics{TotalBidVolume: 10, TotalAskVolume: 10, Top10BidVolume: 10, Top10AskVolume: 10, SpreadPct: 0.5}, 4)
	assert.Equal(t, 0, s.Score)
	assert.Equal(t, "POOR", s.Quality)
}

func TestImbalanceRing(t *testing.T) {
	r := newImbalanceRing(3)
	assert.Empty(t, r.lastN(3))
	for i := 1; i <= 5; i++ {
		r.push(float64(i))
	}
	assert.Equal(t, []float64{3, 4, 5}, r.lastN(3))
	assert.Equal(t, []float64{3, 4, 5}, r.lastN(10))
	assert.Equal(t, []float64{4, 5}, r.lastN(2))
}

func TestTrend(t *testing.T) {
	a := NewOrderFlowAnalyzer(50, nil, nopLogger())
	for i := 0; i < 9; i++ {
		a.history.push(float64(i * 10))
	}
	assert.Equal(t, domain.FlowInsufficientData, a.Trend(10).Trend)

	a.history.push(90)
	tr := a.Trend(10)
	assert.Equal(t, domain.FlowStrengtheningBids, tr.Trend)
	assert.InDelta(t, 10, tr.Slope, 1e-9)
	assert.InDelta(t, 45, tr.AvgImbalance, 1e-9)

	for i := 0; i < 10; i++ {
		a.history.push(math.Sin(float64(i)))
	}
	assert.Equal(t, domain.FlowStable, a.Trend(10).Trend)

	for i := 0; i < 10; i++ {
		a.history.push(float64(-i * 6))
	}
	assert.Equal(t, domain.FlowStrengtheningAsks, a.Trend(10).Trend)
}

func TestAnalyze_PublishesAndWarmsFromCache(t *testing.T) {
	cache := &fakeSnapshotCache{}
	a := NewOrderFlowAnalyzer(5, cache, nopLogger())
	book := &domain.OrderBook{Bids: levels(99, -1, 3, 10), Asks: levels(100, 1, 3, 10)}
	a.Analyze(context.Background(), book)
	require.Len(t, cache.published, 1)

	cache.stored = []domain.OrderFlowAnalysis{
		{Available: true, Imbalance: -10},
		{Available: false},
		{Available: true, Imbalance: 10},
	}
	b := NewOrderFlowAnalyzer(5, cache, nopLogger())
	n, err := b.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []float64{-10, 10}, b.history.lastN(5))
	assert.Equal(t, 10.0, b.Latest().Imbalance)

	cache.err = errors.New("redis down")
	res := a.Analyze(context.Background(), book)
	assert.True(t, res.Available)
	_, err = b.Warm(context.Background())
	assert.Error(t, err)
}

package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/perp_scanner/internal/domain"
	"github.com/vitos/perp_scanner/internal/infrastructure/storage"
)

type fakeSource struct {
	mu        sync.Mutex
	now       *time.Time
	price     float64
	err       error
	calls     int
	streaming bool
}

func (f *fakeSource) Streaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

func (f *fakeSource) setPrice(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func (f *fakeSource) Snapshot(_ context.Context, symbol string) (*domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	price := f.price
	now := *f.now

	candles := make([]domain.Candle, 30)
	for i := range candles {
		c := price * (0.97 + float64(i)*0.001)
		candles[i] = domain.Candle{Time: now.Add(time.Duration(i-30) * time.Hour).UnixMilli(), Open: c * 0.999, High: c * 1.004, Low: c * 0.996, Close: c, Volume: 1000}
	}
	book := &domain.OrderBook{Symbol: symbol, Time: now}
	for i := 1; i <= 10; i++ {
		book.Bids = append(book.Bids, domain.OrderBookEntry{Price: price - 0.01*float64(i), Size: 120})
		book.Asks = append(book.Asks, domain.OrderBookEntry{Price: price + 0.01*float64(i), Size: 80})
	}
	return &domain.MarketSnapshot{
		Symbol:    symbol,
		Time:      now,
		Ticker:    domain.Ticker{Symbol: symbol, LastPrice: price, MarkPrice: price, FundingRate: 0.0001, OpenInterest: 5e6},
		Candles1m: []domain.Candle{{Time: now.UnixMilli(), Open: price, High: price, Low: price, Close: price, Volume: 42}},
		Candles1h: candles,
		Candles4h: candles,
		OrderBook: book,
		Trades: []domain.PublicTrade{
			{ID: "t1", Symbol: symbol, Side: "Buy", Size: 200, Price: price, Time: now.UnixMilli()},
			{ID: "t2", Symbol: symbol, Side: "Sell", Size: 1, Price: price, Time: now.UnixMilli()},
		},
	}, nil
}

type fakeDecider struct {
	mu       sync.Mutex
	decision domain.Decision
	err      error
	calls    int
	lastIn   domain.DecisionInput
}

func (f *fakeDecider) Decide(_ context.Context, in domain.DecisionInput) (domain.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastIn = in
	return f.decision, f.err
}

type pipelineFixture struct {
	now         *time.Time
	source      *fakeSource
	decider     *fakeDecider
	prices      *storage.PriceStore
	predictions *PredictionTracker
	pipeline    *Pipeline
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	now := testNow
	clock := fixedClock(&now)

	prices := newPriceStore(t)
	history := NewPriceHistory(prices, nopLogger())
	history.timeNow = clock
	whales := NewWhaleTracker(newWhaleStore(t), 5000, nopLogger())
	whales.timeNow = clock
	flow := NewOrderFlowAnalyzer(50, nil, nopLogger())
	flow.timeNow = clock
	tracker := newTestTracker(newPredictionStore(t), &now)
	positions := NewPositionController(PositionConfig{WalletSizeUSD: 10, MaxLeverage: 20, EntryWindow: time.Minute}, tracker, nopLogger())
	positions.timeNow = clock

	src := &fakeSource{now: &now, price: 100}
	dec := &fakeDecider{decision: domain.Decision{
		Recommendation: domain.RecBuyNow,
		EntryPrice:     100,
		ExitPrice:      105,
		StopPrice:      97,
		Leverage:       10,
		Confidence:     80,
		Reasoning:      "test",
		Source:         "fake",
	}}

	p := NewPipeline(PipelineConfig{
		Symbol:                "SOLUSDT",
		CycleInterval:         5 * time.Second,
		VolumeMetricsInterval: 5 * time.Minute,
		PatternScanInterval:   30 * time.Second,
		DecisionInterval:      2 * time.Minute,
		CleanupInterval:       24 * time.Hour,
		FetchTimeout:          time.Second,
		RetentionDays:         7,
	}, PipelineDeps{
		Source:      src,
		History:     history,
		Whales:      whales,
		OrderFlow:   flow,
		Strategies:  NewStrategyEngine(),
		Decider:     dec,
		Predictions: tracker,
		Positions:   positions,
	}, nopLogger())
	p.timeNow = clock

	return &pipelineFixture{
		now:         &now,
		source:      src,
		decider:     dec,
		prices:      prices,
		predictions: tracker,
		pipeline:    p,
	}
}

func (f *pipelineFixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func TestPipeline_FirstCycleDecidesAndOpens(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pipeline.RunCycle(ctx))

	st := f.pipeline.Status()
	assert.Equal(t, "SOLUSDT", st.Symbol)
	assert.NotEmpty(t, st.CycleID)
	assert.EqualValues(t, 1, st.Cycles)
	assert.Equal(t, 100.0, st.Price)
	require.NotNil(t, st.Decision)
	assert.Equal(t, domain.RecBuyNow, st.Decision.Recommendation)
	assert.Positive(t, st.PredictionID)
	assert.Equal(t, domain.StateEntryWindow, st.Position.State)
	assert.True(t, st.OrderFlow.Available)
	assert.Empty(t, st.LastError)
	assert.Empty(t, st.LastLedgerError)
	assert.False(t, st.TradeStream)
	assert.True(t, st.VolumeMetricsAt.Equal(testNow))
	assert.True(t, st.PatternScanAt.Equal(testNow))
	assert.True(t, st.CleanupAt.Equal(testNow))

	ticks, err := f.prices.RecentTicks(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	require.NotNil(t, ticks[0].Volume1m)
	assert.Equal(t, 42.0, *ticks[0].Volume1m)
	require.NotNil(t, ticks[0].FundingRate)
	assert.Equal(t, 0.0001, *ticks[0].FundingRate)

	p, err := f.predictions.Get(ctx, st.PredictionID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.Features.CurrentPrice)
	assert.Equal(t, st.OrderFlow.Prediction.Direction, p.Features.OrderflowDirection)

	f.decider.mu.Lock()
	defer f.decider.mu.Unlock()
	require.NotNil(t, f.decider.lastIn.Insights)
	assert.False(t, f.decider.lastIn.Insights.HasData)
}

func TestPipeline_DecisionCadenceAndTargetClose(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pipeline.RunCycle(ctx))
	predictionID := f.pipeline.Status().PredictionID

	f.advance(5 * time.Second)
	f.source.setPrice(101)
	require.NoError(t, f.pipeline.RunCycle(ctx))
	assert.Equal(t, 1, f.decider.calls, "decision interval not elapsed")
	assert.True(t, f.pipeline.Status().PatternScanAt.Equal(testNow), "pattern interval not elapsed")
	assert.Equal(t, domain.StateEntryWindow, f.pipeline.Status().Position.State)

	f.advance(5 * time.Second)
	f.source.setPrice(106)
	require.NoError(t, f.pipeline.RunCycle(ctx))

	st := f.pipeline.Status()
	assert.Equal(t, domain.StateIdle, st.Position.State)
	require.NotNil(t, st.Position.LastClosed)
	assert.Equal(t, domain.ExitTargetHit, st.Position.LastClosed.ExitReason)

	p, err := f.predictions.Get(ctx, predictionID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeWin, p.Outcome)
	require.NotNil(t, p.ActualProfitUSD)
	assert.InDelta(t, 6.0, *p.ActualProfitUSD, 1e-9)

	// A stale buy decision must not reopen the slot.
	f.advance(5 * time.Second)
	f.source.setPrice(100)
	require.NoError(t, f.pipeline.RunCycle(ctx))
	assert.Equal(t, domain.StateIdle, f.pipeline.Status().Position.State)

	f.advance(2 * time.Minute)
	require.NoError(t, f.pipeline.RunCycle(ctx))
	assert.Equal(t, 2, f.decider.calls)
	assert.Equal(t, domain.StateEntryWindow, f.pipeline.Status().Position.State)
	assert.NotEqual(t, predictionID, f.pipeline.Status().PredictionID)
}

func TestPipeline_ReportsTradeStream(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.mu.Lock()
	f.source.streaming = true
	f.source.mu.Unlock()

	require.NoError(t, f.pipeline.RunCycle(context.Background()))
	assert.True(t, f.pipeline.Status().TradeStream)
}

func TestPipeline_FetchFailureSkipsCycle(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.err = errors.New("bybit: 503")

	err := f.pipeline.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, f.pipeline.Status().LastError, "503")
	assert.Zero(t, f.decider.calls)
	assert.Nil(t, f.pipeline.Status().Decision)
}

func TestPipeline_InvalidSnapshotIsRejected(t *testing.T) {
	f := newPipelineFixture(t)
	f.source.setPrice(0)

	err := f.pipeline.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrInvalidSnapshot)

	ticks, err := f.prices.RecentTicks(context.Background(), time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, ticks)
}

func TestPipeline_DecisionErrorKeepsPreviousDecision(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	f.decider.decision = domain.Decision{Recommendation: domain.RecWait, Source: "fake"}
	require.NoError(t, f.pipeline.RunCycle(ctx))
	first := f.pipeline.Status()
	require.NotNil(t, first.Decision)

	f.decider.err = errors.New("advisor timeout")
	f.advance(3 * time.Minute)
	require.NoError(t, f.pipeline.RunCycle(ctx))

	st := f.pipeline.Status()
	require.NotNil(t, st.Decision)
	assert.Equal(t, domain.RecWait, st.Decision.Recommendation)
	assert.Equal(t, first.PredictionID, st.PredictionID)
	assert.Equal(t, domain.StateIdle, st.Position.State)

	recent, err := f.predictions.RecentPredictions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestPipeline_RunStopsOnCancel(t *testing.T) {
	f := newPipelineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.pipeline.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.pipeline.Status().Cycles >= 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

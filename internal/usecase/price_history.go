package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/vitos/perp_scanner/internal/domain"
	"go.uber.org/zap"
)

const (
	moonWindow           = 5 * time.Minute
	dipWindow            = 3 * time.Minute
	minPatternSamples    = 30
	minSupportSamples    = 100
	extremaHalfWindow    = 20
	patternPriceSamples  = 60
	minVolatilitySamples = 10
	dipEventDuration     = 180
)

var volumeWindows = []time.Duration{
	time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour, 4 * time.Hour, 24 * time.Hour,
}

// PriceHistory owns the tick series and the detectors that read it.
type PriceHistory struct {
	repo    domain.PriceHistoryRepository
	logger  *zap.Logger
	timeNow func() time.Time
	dropped atomic.Int64
}

func NewPriceHistory(repo domain.PriceHistoryRepository, logger *zap.Logger) *PriceHistory {
	return &PriceHistory{
		repo:    repo,
		logger:  logger.With(zap.String("component", "price_history")),
		timeNow: time.Now,
	}
}

// LogTick appends a tick. Failures are logged and counted, never returned.
func (h *PriceHistory) LogTick(ctx context.Context, tick domain.PriceTick) {
	if tick.Timestamp.IsZero() {
		tick.Timestamp = h.timeNow()
	}
	if tick.Price <= 0 || math.IsNaN(tick.Price) {
		h.dropped.Add(1)
		h.logger.Warn("Dropping tick with invalid price", zap.Float64("price", tick.Price))
		return
	}
	if err := h.repo.InsertTick(ctx, tick); err != nil {
		h.dropped.Add(1)
		h.logger.Warn("Failed to store tick", zap.Error(err), zap.Int64("dropped_total", h.dropped.Load()))
	}
}

func (h *PriceHistory) DroppedTicks() int64 {
	return h.dropped.Load()
}

// ComputeVolumeMetrics averages volume_1m over each lookback window and stores a new snapshot.
func (h *PriceHistory) ComputeVolumeMetrics(ctx context.Context) (domain.VolumeMetrics, error) {
	now := h.timeNow()
	avgs := make([]float64, len(volumeWindows))
	for i, w := range volumeWindows {
		avg, err := h.repo.AverageVolumeSince(ctx, now.Add(-w))
		if err != nil {
			return domain.VolumeMetrics{}, fmt.Errorf("average volume over %s: %w", w, err)
		}
		avgs[i] = avg
	}

	m := domain.VolumeMetrics{
		Timestamp:  now,
		Vol1m:      avgs[0],
		Vol5m:      avgs[1],
		Vol15m:     avgs[2],
		Vol1h:      avgs[3],
		Vol4h:      avgs[4],
		Vol24h:     avgs[5],
		Vol5mAvg1h: avgs[3],
		Trend:      domain.VolumeStable,
	}
	if m.Vol5mAvg1h > 0 && m.Vol5m > 2*m.Vol5mAvg1h {
		m.SpikeDetected = true
	}
	switch {
	case m.Vol5m > m.Vol1h*1.2:
		m.Trend = domain.VolumeIncreasing
	case m.Vol5m < m.Vol1h*0.8:
		m.Trend = domain.VolumeDecreasing
	}

	if err := h.repo.InsertVolumeMetrics(ctx, m); err != nil {
		return m, fmt.Errorf("store volume metrics: %w", err)
	}
	return m, nil
}

// LatestVolumeTrend reads the newest snapshot; UNKNOWN when none has been computed.
func (h *PriceHistory) LatestVolumeTrend(ctx context.Context) (domain.VolumeTrendReading, error) {
	m, err := h.repo.LatestVolumeMetrics(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.VolumeTrendReading{Trend: domain.VolumeUnknown}, nil
	}
	if err != nil {
		return domain.VolumeTrendReading{Trend: domain.VolumeUnknown}, err
	}

	r := domain.VolumeTrendReading{
		Trend:         m.Trend,
		SpikeDetected: m.SpikeDetected,
		Vol5m:         m.Vol5m,
		Avg1h:         m.Vol5mAvg1h,
		Timestamp:     m.Timestamp,
	}
	if m.Vol5mAvg1h > 0 {
		r.Multiplier = m.Vol5m / m.Vol5mAvg1h
	}
	return r, nil
}

func (h *PriceHistory) DetectMoonCandle(ctx context.Context) (domain.MoonCandleResult, error) {
	ticks, err := h.repo.TicksSince(ctx, h.timeNow().Add(-moonWindow))
	if err != nil {
		return domain.MoonCandleResult{Type: domain.PatternInsufficientData}, err
	}
	if len(ticks) < minPatternSamples {
		return domain.MoonCandleResult{Type: domain.PatternInsufficientData, Samples: len(ticks)}, nil
	}

	first, lastTick := ticks[0], ticks[len(ticks)-1]
	pct := (lastTick.Price - first.Price) / first.Price * 100

	var vols []float64
	for _, t := range ticks {
		if t.Volume1m != nil && *t.Volume1m > 0 {
			vols = append(vols, *t.Volume1m)
		}
	}
	var recent float64
	if len(vols) >= 10 {
		for _, v := range tail(vols, 10) {
			recent += v
		}
		recent /= 10
	}
	spike := recent > 2*mean(vols)

	res := domain.MoonCandleResult{
		Type:            domain.PatternNormal,
		PriceChangePct:  pct,
		VolumeSpike:     spike,
		PriceStart:      first.Price,
		PriceEnd:        lastTick.Price,
		DurationSeconds: int(lastTick.Timestamp.Sub(first.Timestamp).Seconds()),
		Samples:         len(ticks),
	}
	switch {
	case pct > 5 && spike:
		res.Type = domain.PatternMoonCandle
	case pct > 3 && pct <= 5:
		res.Type = domain.PatternPump
	case pct < -5:
		res.Type = domain.PatternDump
	}
	res.Detected = res.Type != domain.PatternNormal
	return res, nil
}

func (h *PriceHistory) DetectDipOpportunity(ctx context.Context) (domain.DipResult, error) {
	ticks, err := h.repo.TicksSince(ctx, h.timeNow().Add(-dipWindow))
	if err != nil {
		return domain.DipResult{Type: domain.PatternInsufficientData}, err
	}
	n := len(ticks)
	if n < minPatternSamples {
		return domain.DipResult{Type: domain.PatternInsufficientData, Samples: n}, nil
	}

	minIdx := n - minPatternSamples
	for i := minIdx + 1; i < n; i++ {
		if ticks[i].Price < ticks[minIdx].Price {
			minIdx = i
		}
	}
	low := ticks[minIdx].Price
	cur := ticks[n-1].Price

	res := domain.DipResult{
		Type:         domain.PatternNoDip,
		BouncePct:    (cur - low) / low * 100,
		LowPrice:     low,
		CurrentPrice: cur,
		Samples:      n,
	}
	if minIdx >= minPatternSamples {
		ref := ticks[minIdx-minPatternSamples].Price
		res.DipDepthPct = (ref - low) / ref * 100
	}
	if res.DipDepthPct > 0.3 && res.BouncePct > 0.2 {
		res.Type = domain.PatternDipBounce
		res.Detected = true
	}
	return res, nil
}

// DetectSupportResistance finds the most frequently tested local extremes over the lookback.
func (h *PriceHistory) DetectSupportResistance(ctx context.Context, lookbackHours int) (domain.SupportResistance, error) {
	ticks, err := h.repo.TicksSince(ctx, h.timeNow().Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return domain.SupportResistance{}, err
	}
	n := len(ticks)
	if n < minSupportSamples {
		return domain.SupportResistance{Samples: n}, nil
	}

	supports := make(map[float64]int)
	resistances := make(map[float64]int)
	w := extremaHalfWindow
	for i := w; i < n-w; i++ {
		p := ticks[i].Price
		lo, hi := p, p
		for _, t := range ticks[i-w : i+w] {
			lo = math.Min(lo, t.Price)
			hi = math.Max(hi, t.Price)
		}
		if p == lo {
			supports[p]++
		}
		if p == hi {
			resistances[p]++
		}
	}

	return domain.SupportResistance{
		Available:  true,
		Support:    mostTested(supports),
		Resistance: mostTested(resistances),
		Samples:    n,
	}, nil
}

// mostTested picks the level with the highest count, preferring the lower price on ties.
func mostTested(levels map[float64]int) *domain.PriceLevel {
	var best *domain.PriceLevel
	for price, count := range levels {
		if best == nil || count > best.Tests || (count == best.Tests && price < best.Price) {
			best = &domain.PriceLevel{Price: price, Tests: count}
		}
	}
	return best
}

// RecordPattern stores ev, deriving its percent move from the start and end prices.
func (h *PriceHistory) RecordPattern(ctx context.Context, ev domain.PatternEvent) (int64, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.timeNow()
	}
	if ev.PriceStart > 0 {
		ev.PercentMove = (ev.PriceEnd - ev.PriceStart) / ev.PriceStart * 100
	}
	return h.repo.InsertPatternEvent(ctx, ev)
}

// ScanPatterns runs the short-window detectors and records what they find.
func (h *PriceHistory) ScanPatterns(ctx context.Context) (domain.MoonCandleResult, domain.DipResult, error) {
	var errs []error

	moon, err := h.DetectMoonCandle(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("moon candle: %w", err))
	} else if moon.Detected {
		ev := domain.PatternEvent{
			Type:            moon.Type,
			PriceStart:      moon.PriceStart,
			PriceEnd:        moon.PriceEnd,
			DurationSeconds: moon.DurationSeconds,
			VolumeSpike:     moon.VolumeSpike,
			Description:     fmt.Sprintf("%s %+.2f%% over %ds", moon.Type, moon.PriceChangePct, moon.DurationSeconds),
		}
		if _, err := h.RecordPattern(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", moon.Type, err))
		}
	}

	dip, err := h.DetectDipOpportunity(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("dip: %w", err))
	} else if dip.Detected {
		ev := domain.PatternEvent{
			Type:            domain.PatternDipBounce,
			PriceStart:      dip.LowPrice,
			PriceEnd:        dip.CurrentPrice,
			DurationSeconds: dipEventDuration,
			Description:     fmt.Sprintf("dip %.2f%% then bounce %.2f%%", dip.DipDepthPct, dip.BouncePct),
		}
		if _, err := h.RecordPattern(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("record dip: %w", err))
		}
	}

	return moon, dip, errors.Join(errs...)
}

// RecentPatterns summarizes pattern events over hours plus volatility and direction of the latest prices in that window.
func (h *PriceHistory) RecentPatterns(ctx context.Context, hours int) (domain.PatternSummary, error) {
	now := h.timeNow()
	sum := domain.PatternSummary{
		Hours:      hours,
		Volatility: domain.TrendUnknown,
		Trend:      domain.TrendUnknown,
	}

	stats, err := h.repo.PatternStatsSince(ctx, now.Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return sum, err
	}
	sum.Patterns = stats

	day, err := h.repo.PatternStatsSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return sum, err
	}
	sum.MoonCandles24h = day[domain.PatternMoonCandle].Count
	sum.Pumps24h = day[domain.PatternPump].Count
	sum.Dumps24h = day[domain.PatternDump].Count

	ticks, err := h.repo.RecentTicks(ctx, now.Add(-time.Duration(hours)*time.Hour), patternPriceSamples)
	if err != nil {
		return sum, err
	}
	if len(ticks) < minVolatilitySamples {
		return sum, nil
	}

	prices := make([]float64, len(ticks))
	for i, t := range ticks {
		prices[i] = t.Price
	}
	if m := mean(prices); m > 0 {
		sum.VolatilityPct = sampleStdDev(prices) / m * 100
	}
	switch {
	case sum.VolatilityPct > 1:
		sum.Volatility = domain.VolatilityHigh
	case sum.VolatilityPct > 0.5:
		sum.Volatility = domain.VolatilityMedium
	default:
		sum.Volatility = domain.VolatilityLow
	}

	oldest, newest := prices[0], prices[len(prices)-1]
	sum.PriceChangePct = (newest - oldest) / oldest * 100
	switch {
	case sum.PriceChangePct > 1:
		sum.Trend = domain.TrendBullish
	case sum.PriceChangePct < -1:
		sum.Trend = domain.TrendBearish
	default:
		sum.Trend = domain.TrendSideways
	}
	return sum, nil
}

// Cleanup prunes everything older than retentionDays.
func (h *PriceHistory) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := h.timeNow().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	n, err := h.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	h.logger.Info("Pruned price history", zap.Int64("rows", n), zap.Int("retention_days", retentionDays))
	return n, nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/perp_scanner/internal/domain"
	"go.uber.org/zap"
)

const flowTrendPeriods = 10

// PipelineConfig holds the cadences of the evaluation loop.
type PipelineConfig struct {
	Symbol                string
	CycleInterval         time.Duration
	VolumeMetricsInterval time.Duration
	PatternScanInterval   time.Duration
	DecisionInterval      time.Duration
	CleanupInterval       time.Duration
	FetchTimeout          time.Duration
	RetentionDays         int
}

// PipelineDeps are the collaborators one cycle drives.
type PipelineDeps struct {
	Source      domain.MarketDataSource
	History     *PriceHistory
	Whales      *WhaleTracker
	OrderFlow   *OrderFlowAnalyzer
	Strategies  *StrategyEngine
	Decider     domain.DecisionMaker
	Predictions *PredictionTracker
	Positions   *PositionController
}

// PipelineStatus is the read model of the last completed cycle.
type PipelineStatus struct {
	Symbol       string                    `json:"symbol"`
	CycleID      string                    `json:"cycle_id"`
	Timestamp    time.Time                 `json:"timestamp"`
	Cycles       int64                     `json:"cycles"`
	Price        float64                   `json:"price"`
	Ticker       domain.Ticker             `json:"ticker"`
	VolumeTrend  domain.VolumeTrendReading `json:"volume_trend"`
	Moon         domain.MoonCandleResult   `json:"moon_candle"`
	Dip          domain.DipResult          `json:"dip"`
	OrderFlow    domain.OrderFlowAnalysis  `json:"order_flow"`
	FlowTrend    domain.OrderFlowTrend     `json:"order_flow_trend"`
	Whales       domain.TradeFlowAnalysis  `json:"whales"`
	Momentum     float64                   `json:"momentum_score"`
	Strategies   domain.StrategyEvaluation `json:"strategies"`
	Decision     *domain.Decision          `json:"decision,omitempty"`
	DecisionAt   time.Time                 `json:"decision_at"`
	PredictionID int64                     `json:"prediction_id"`
	Position     domain.PositionView       `json:"position"`
	Resolve      ResolveReport             `json:"last_resolve"`
	TradeStream  bool                      `json:"trade_stream"`

	VolumeMetricsAt time.Time `json:"volume_metrics_at"`
	PatternScanAt   time.Time `json:"pattern_scan_at"`
	CleanupAt       time.Time `json:"cleanup_at"`

	LastError         string    `json:"last_error,omitempty"`
	LastLedgerError   string    `json:"last_ledger_error,omitempty"`
	LastLedgerErrorAt time.Time `json:"last_ledger_error_at,omitempty"`
	DroppedTicks      int64     `json:"dropped_ticks"`
	DroppedWhales     int64     `json:"dropped_whales"`
}

// tradeStreamer is a source that can also push public trades.
type tradeStreamer interface {
	Streaming() bool
}

// Pipeline runs the evaluation cycle: fetch, record, analyze, decide, manage the position.
type Pipeline struct {
	cfg    PipelineConfig
	deps   PipelineDeps
	logger *zap.Logger

	volumeCadence   *Cadence
	patternCadence  *Cadence
	decisionCadence *Cadence
	cleanupCadence  *Cadence

	cycleMu      sync.Mutex
	moon         domain.MoonCandleResult
	dip          domain.DipResult
	decision     *domain.Decision
	decisionAt   time.Time
	predictionID int64

	statusMu sync.RWMutex
	status   PipelineStatus
	cycles   atomic.Int64

	timeNow func() time.Time
}

func NewPipeline(cfg PipelineConfig, deps PipelineDeps, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:             cfg,
		deps:            deps,
		logger:          logger.With(zap.String("component", "pipeline"), zap.String("symbol", cfg.Symbol)),
		volumeCadence:   NewCadence(cfg.VolumeMetricsInterval),
		patternCadence:  NewCadence(cfg.PatternScanInterval),
		decisionCadence: NewCadence(cfg.DecisionInterval),
		cleanupCadence:  NewCadence(cfg.CleanupInterval),
		moon:            domain.MoonCandleResult{Type: domain.PatternInsufficientData},
		dip:             domain.DipResult{Type: domain.PatternInsufficientData},
		status:          PipelineStatus{Symbol: cfg.Symbol},
		timeNow:         time.Now,
	}
}

// Run executes a cycle immediately and then on every tick until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("Starting evaluation loop", zap.Duration("interval", p.cfg.CycleInterval))
	ticker := time.NewTicker(p.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		if err := p.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("Cycle skipped", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("Evaluation loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunCycle performs one evaluation. It only fails when no usable snapshot could be fetched;
// every later step degrades on its own and is reported in the status.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	cycleID := uuid.NewString()
	log := p.logger.With(zap.String("cycle_id", cycleID))
	start := p.timeNow()

	snap, err := p.fetch(ctx)
	if err != nil {
		p.recordError(err)
		return err
	}
	price := snap.Price()

	p.deps.History.LogTick(ctx, tickFromSnapshot(snap))

	if p.volumeCadence.Due(start) {
		if _, err := p.deps.History.ComputeVolumeMetrics(ctx); err != nil {
			log.Warn("Volume metrics failed", zap.Error(err))
		}
	}
	volume, err := p.deps.History.LatestVolumeTrend(ctx)
	if err != nil {
		log.Warn("Volume trend unavailable", zap.Error(err))
	}

	if p.patternCadence.Due(start) {
		moon, dip, err := p.deps.History.ScanPatterns(ctx)
		if err != nil {
			log.Warn("Pattern scan failed", zap.Error(err))
		} else {
			p.moon, p.dip = moon, dip
		}
	}

	flow := p.deps.OrderFlow.Analyze(ctx, snap.OrderBook)
	whales := p.deps.Whales.AnalyzeTrades(ctx, snap.Trades, price)
	input := StrategyInputFromSnapshot(snap, flow)
	momentum := input.CompositeScore
	eval := p.deps.Strategies.Evaluate(input)

	fresh := false
	if p.decisionCadence.Due(start) {
		fresh = p.decide(ctx, log, snap, eval, flow, whales, momentum, volume)
	}

	position := p.deps.Positions.Step(ctx, StepInput{
		Price:        price,
		Decision:     p.decision,
		Fresh:        fresh,
		Opportunity:  eval.Best,
		PredictionID: p.predictionID,
	})

	resolve, err := p.deps.Predictions.ResolvePending(ctx, price)
	if err != nil {
		p.recordLedgerError(err)
	}

	if p.cleanupCadence.Due(start) && p.cfg.RetentionDays > 0 {
		if _, err := p.deps.History.Cleanup(ctx, p.cfg.RetentionDays); err != nil {
			log.Warn("History cleanup failed", zap.Error(err))
		}
	}

	p.statusMu.Lock()
	s := &p.status
	s.CycleID = cycleID
	s.Timestamp = snap.Time
	s.Cycles = p.cycles.Add(1)
	s.Price = price
	s.Ticker = snap.Ticker
	s.VolumeTrend = volume
	s.Moon, s.Dip = p.moon, p.dip
	s.OrderFlow = flow
	s.FlowTrend = p.deps.OrderFlow.Trend(flowTrendPeriods)
	s.Whales = whales
	s.Momentum = momentum
	s.Strategies = eval
	s.Decision = copyDecision(p.decision)
	s.DecisionAt = p.decisionAt
	s.PredictionID = p.predictionID
	s.Position = position
	s.Resolve = resolve
	if ts, ok := p.deps.Source.(tradeStreamer); ok {
		s.TradeStream = ts.Streaming()
	}
	s.VolumeMetricsAt = p.volumeCadence.Last()
	s.PatternScanAt = p.patternCadence.Last()
	s.CleanupAt = p.cleanupCadence.Last()
	s.LastError = ""
	s.DroppedTicks = p.deps.History.DroppedTicks()
	s.DroppedWhales = p.deps.Whales.DroppedWhales()
	p.statusMu.Unlock()

	log.Debug("Cycle complete",
		zap.Float64("price", price),
		zap.String("best_strategy", string(eval.Best.Strategy)),
		zap.String("flow", flow.Prediction.Direction),
		zap.String("position", string(position.State)),
		zap.Duration("took", p.timeNow().Sub(start)))
	return nil
}

func (p *Pipeline) fetch(ctx context.Context) (*domain.MarketSnapshot, error) {
	fetchCtx := ctx
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}
	snap, err := p.deps.Source.Snapshot(fetchCtx, p.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// decide asks the decision maker for a fresh decision and records it in the ledger.
// It returns false when no new decision was produced.
func (p *Pipeline) decide(ctx context.Context, log *zap.Logger, snap *domain.MarketSnapshot, eval domain.StrategyEvaluation,
	flow domain.OrderFlowAnalysis, whales domain.TradeFlowAnalysis, momentum float64, volume domain.VolumeTrendReading) bool {

	in := domain.DecisionInput{
		Snapshot:   snap,
		Evaluation: eval,
		OrderFlow:  flow,
		Whales:     whales,
		Momentum:   momentum,
	}
	if insights, err := p.deps.Predictions.Insights(ctx); err != nil {
		log.Warn("Learning insights unavailable", zap.Error(err))
	} else {
		in.Insights = &insights
	}

	d, err := p.deps.Decider.Decide(ctx, in)
	if err != nil {
		log.Warn("Decision failed, keeping previous decision", zap.Error(err))
		return false
	}
	p.decision = &d
	p.decisionAt = p.timeNow()
	p.predictionID = 0

	features := domain.FeatureSnapshot{
		CurrentPrice:        snap.Price(),
		SignalStrength:      momentum,
		Strategy:            eval.Best.Strategy,
		StrategyConfidence:  eval.Best.Confidence,
		OrderflowDirection:  flow.Prediction.Direction,
		OrderflowConfidence: flow.Prediction.Confidence,
		Imbalance:           flow.Imbalance,
		WhaleSentiment:      whales.Signal,
		WhaleScore:          whales.BuyPressurePct,
		FundingRate:         snap.Ticker.FundingRate,
		VolumeTrend:         volume.Trend,
	}
	id, err := p.deps.Predictions.LogPrediction(ctx, d, features)
	if err != nil {
		p.recordLedgerError(err)
	} else {
		p.predictionID = id
	}

	log.Info("Decision",
		zap.String("recommendation", string(d.Recommendation)),
		zap.Float64("confidence", d.Confidence),
		zap.String("source", d.Source),
		zap.Int64("prediction_id", p.predictionID))
	return true
}

func (p *Pipeline) recordError(err error) {
	p.statusMu.Lock()
	p.status.LastError = err.Error()
	p.statusMu.Unlock()
}

func (p *Pipeline) recordLedgerError(err error) {
	p.statusMu.Lock()
	p.status.LastLedgerError = err.Error()
	p.status.LastLedgerErrorAt = p.timeNow()
	p.statusMu.Unlock()
}

// Status returns a copy of the last cycle's read model.
func (p *Pipeline) Status() PipelineStatus {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	s := p.status
	s.Decision = copyDecision(p.status.Decision)
	return s
}

func copyDecision(d *domain.Decision) *domain.Decision {
	if d == nil {
		return nil
	}
	c := *d
	c.KeyFactors = append([]string(nil), d.KeyFactors...)
	return &c
}

// StrategyInputFromSnapshot builds the strategy input, scoring momentum from the 1h and 4h candles.
func StrategyInputFromSnapshot(snap *domain.MarketSnapshot, flow domain.OrderFlowAnalysis) domain.StrategyInput {
	return domain.StrategyInput{
		Price:          snap.Price(),
		Candles1h:      snap.Candles1h,
		OrderFlow:      flow,
		CompositeScore: MomentumScore(snap.Candles1h, snap.Candles4h),
	}
}

func tickFromSnapshot(s *domain.MarketSnapshot) domain.PriceTick {
	tick := domain.PriceTick{
		Timestamp: s.Time,
		Price:     s.Price(),
		Volume1m:  s.Volume1m(),
	}
	if s.Ticker.MarkPrice > 0 {
		mark, funding := s.Ticker.MarkPrice, s.Ticker.FundingRate
		tick.MarkPrice = &mark
		tick.FundingRate = &funding
	}
	if s.Ticker.OpenInterest > 0 {
		oi := s.Ticker.OpenInterest
		tick.OpenInterest = &oi
	}
	return tick
}

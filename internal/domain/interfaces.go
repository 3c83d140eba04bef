package domain

import (
	"context"
	"time"
)

// PriceHistoryRepository persists ticks, volume snapshots and pattern events.
type PriceHistoryRepository interface {
	InsertTick(ctx context.Context, tick PriceTick) error
	AverageVolumeSince(ctx context.Context, since time.Time) (float64, error)
	InsertVolumeMetrics(ctx context.Context, m VolumeMetrics) error
	LatestVolumeMetrics(ctx context.Context) (*VolumeMetrics, error)
	TicksSince(ctx context.Context, since time.Time) ([]PriceTick, error)
	RecentTicks(ctx context.Context, since time.Time, limit int) ([]PriceTick, error)
	InsertPatternEvent(ctx context.Context, ev PatternEvent) (int64, error)
	PatternStatsSince(ctx context.Context, since time.Time) (map[PatternType]PatternStat, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WhaleRepository persists whale trades. InsertWhale is idempotent on TradeID.
type WhaleRepository interface {
	InsertWhale(ctx context.Context, w WhaleTrade) (bool, error)
	RecentWhales(ctx context.Context, since time.Time, limit int) ([]WhaleTrade, error)
	WhaleTotalsSince(ctx context.Context, since time.Time) (WhaleSummary, error)
}

// PredictionRepository is the decision ledger.
type PredictionRepository interface {
	InsertPrediction(ctx context.Context, p *Prediction) (int64, error)
	GetPrediction(ctx context.Context, id int64) (*Prediction, error)
	UnresolvedPredictions(ctx context.Context, now time.Time, limit int) ([]Prediction, error)
	RecentPredictions(ctx context.Context, limit int) ([]Prediction, error)
	FillHorizon(ctx context.Context, id int64, h Horizon, price, movePct float64, checkedAt time.Time) error
	Finalize(ctx context.Context, id int64, r Resolution, checkedAt time.Time) error
	RecordTradeResult(ctx context.Context, id int64, r TradeResult) error
	OverallStats(ctx context.Context) (PredictionStats, error)
	ConditionStats(ctx context.Context) ([]ConditionStat, error)
	BestConditions(ctx context.Context, minSamples, limit int) ([]ConditionBucket, error)
}

// SnapshotCache is the optional order-flow snapshot store.
type SnapshotCache interface {
	Publish(ctx context.Context, a OrderFlowAnalysis) error
	LoadRecent(ctx context.Context, n int) ([]OrderFlowAnalysis, error)
}

// MarketDataSource fetches everything one cycle needs for a symbol.
type MarketDataSource interface {
	Snapshot(ctx context.Context, symbol string) (*MarketSnapshot, error)
}

// DecisionMaker turns the core's outputs into a final trade decision.
type DecisionMaker interface {
	Decide(ctx context.Context, in DecisionInput) (Decision, error)
}

// TradeResultRecorder receives realized closes from the position controller.
type TradeResultRecorder interface {
	LogActualTradeResult(ctx context.Context, predictionID int64, entry, exit float64, reason ExitReason, holdHours, walletUSD float64, leverage int) error
}

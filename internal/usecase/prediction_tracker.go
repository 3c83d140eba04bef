package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/vitos/perp_scanner/internal/domain"
	"go.uber.org/zap"
)

const (
	resolveBatchSize     = 100
	insightMinSamples    = 3
	insightBestLimit     = 5
	correctWaitMovePct   = 2.0
	missedOpportunityPct = 5.0
	defaultLedgerRetries = 3
)

// PredictionTracker is the feedback loop between decisions and what the market did afterwards.
type PredictionTracker struct {
	repo       domain.PredictionRepository
	logger     *zap.Logger
	timeNow    func() time.Time
	newBackOff func() backoff.BackOff
}

func NewPredictionTracker(repo domain.PredictionRepository, logger *zap.Logger) *PredictionTracker {
	return &PredictionTracker{
		repo:    repo,
		logger:  logger.With(zap.String("component", "predictions")),
		timeNow: time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return backoff.WithMaxRetries(b, defaultLedgerRetries)
		},
	}
}

// retry runs a ledger write with exponential backoff. ErrNotFound is never retried.
func (t *PredictionTracker) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(t.newBackOff(), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if errors.Is(err, domain.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		t.logger.Warn("Ledger write failed, retrying", zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
	})
}

// LogPrediction persists a decision with its feature snapshot and returns the new id.
func (t *PredictionTracker) LogPrediction(ctx context.Context, d domain.Decision, features domain.FeatureSnapshot) (int64, error) {
	p := &domain.Prediction{
		Timestamp:      t.timeNow(),
		Recommendation: d.Recommendation,
		EntryPrice:     d.EntryPrice,
		ExitPrice:      d.ExitPrice,
		StopPrice:      d.StopPrice,
		Leverage:       d.Leverage,
		Confidence:     d.Confidence,
		Reasoning:      d.Reasoning,
		KeyFactors:     d.KeyFactors,
		Features:       features,
	}

	var id int64
	err := t.retry(ctx, "log_prediction", func() error {
		var err error
		id, err = t.repo.InsertPrediction(ctx, p)
		return err
	})
	if err != nil {
		t.logger.Error("Failed to log prediction",
			zap.String("recommendation", string(d.Recommendation)),
			zap.Float64("current_price", features.CurrentPrice),
			zap.Float64("entry_price", d.EntryPrice),
			zap.Error(err))
		return 0, fmt.Errorf("log prediction: %w", err)
	}
	t.logger.Info("Prediction logged",
		zap.Int64("prediction_id", id),
		zap.String("recommendation", string(d.Recommendation)),
		zap.Float64("confidence", d.Confidence))
	return id, nil
}

// ResolveReport counts what one resolution pass changed.
type ResolveReport struct {
	Checked   int `json:"checked"`
	Filled    int `json:"filled"`
	Finalized int `json:"finalized"`
}

// ResolvePending back-fills horizon prices for unresolved predictions and finalizes those
// older than 24h. A failing row does not stop the pass; all failures are returned joined.
func (t *PredictionTracker) ResolvePending(ctx context.Context, currentPrice float64) (ResolveReport, error) {
	var report ResolveReport
	if currentPrice <= 0 {
		return report, fmt.Errorf("%w: %v", domain.ErrInvalidPrice, currentPrice)
	}

	now := t.timeNow()
	pending, err := t.repo.UnresolvedPredictions(ctx, now, resolveBatchSize)
	if err != nil {
		return report, fmt.Errorf("load unresolved predictions: %w", err)
	}

	var errs []error
	for i := range pending {
		p := &pending[i]
		report.Checked++

		base := p.Features.CurrentPrice
		if base <= 0 {
			continue
		}
		elapsed := now.Sub(p.Timestamp).Hours()
		move := (currentPrice - base) / base * 100

		for _, h := range domain.Horizons {
			if elapsed < float64(h) || p.HorizonPrice(h) != nil {
				continue
			}
			err := t.retry(ctx, "fill_horizon", func() error {
				return t.repo.FillHorizon(ctx, p.ID, h, currentPrice, move, now)
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("prediction %d horizon %dh: %w", p.ID, h, err))
				continue
			}
			report.Filled++
		}

		if elapsed < float64(domain.Horizon24h) {
			continue
		}
		res := Resolve(*p, currentPrice, move)
		err := t.retry(ctx, "finalize", func() error {
			return t.repo.Finalize(ctx, p.ID, res, now)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("prediction %d finalize: %w", p.ID, err))
			continue
		}
		report.Finalized++
		t.logger.Info("Prediction resolved",
			zap.Int64("prediction_id", p.ID),
			zap.String("outcome", string(res.Outcome)),
			zap.Float64("move_24h", move))
	}

	joined := errors.Join(errs...)
	if joined != nil {
		t.logger.Error("Prediction resolution incomplete", zap.Int("failures", len(errs)), zap.Error(joined))
	}
	return report, joined
}

// Resolve decides the 24h outcome of p given the current price and the move since decision time.
func Resolve(p domain.Prediction, currentPrice, movePct float64) domain.Resolution {
	lev := float64(max(1, p.Leverage))

	switch {
	case p.Recommendation.IsBuy():
		entry := p.EntryPrice
		if entry <= 0 {
			entry = p.Features.CurrentPrice
		}
		if currentPrice > entry {
			profit := (currentPrice - entry) / entry * 100 * lev
			if profit > 0 {
				return domain.Resolution{Outcome: domain.OutcomeWin, WasCorrect: true, ProfitIfFollowed: profit}
			}
			return domain.Resolution{Outcome: domain.OutcomeLoss, ProfitIfFollowed: profit}
		}
		if p.StopPrice > 0 && currentPrice <= p.StopPrice {
			return domain.Resolution{
				Outcome:          domain.OutcomeLoss,
				ProfitIfFollowed: (p.StopPrice - entry) / entry * 100 * lev,
			}
		}
		return domain.Resolution{Outcome: domain.OutcomeNoMove}

	case p.Recommendation == domain.RecWait:
		// Only a large upward move counts as missed; large drops are not penalized.
		switch {
		case math.Abs(movePct) < correctWaitMovePct:
			return domain.Resolution{Outcome: domain.OutcomeCorrectWait, WasCorrect: true}
		case movePct > missedOpportunityPct:
			return domain.Resolution{Outcome: domain.OutcomeMissedOpportunity}
		default:
			return domain.Resolution{Outcome: domain.OutcomeCorrectWait}
		}
	}
	return domain.Resolution{Outcome: domain.OutcomePending}
}

// LogActualTradeResult records a realized close. It overrides any horizon-derived outcome.
func (t *PredictionTracker) LogActualTradeResult(ctx context.Context, predictionID int64, entry, exit float64, reason domain.ExitReason, holdHours, walletUSD float64, leverage int) error {
	if entry <= 0 {
		return fmt.Errorf("%w: entry %v", domain.ErrInvalidPrice, entry)
	}

	move := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry)).Div(decimal.NewFromFloat(entry))
	lev := decimal.NewFromInt(int64(leverage))
	profit := decimal.NewFromFloat(walletUSD).Mul(lev).Mul(move)

	r := domain.TradeResult{
		EntryPrice:       entry,
		ExitPrice:        exit,
		ExitReason:       reason,
		HoldHours:        holdHours,
		WalletSizeUSD:    walletUSD,
		Leverage:         leverage,
		ProfitUSD:        profit.InexactFloat64(),
		ProfitIfFollowed: move.Mul(lev).Mul(decimal.NewFromInt(100)).InexactFloat64(),
		Outcome:          domain.OutcomeLoss,
	}
	if profit.IsPositive() {
		r.Outcome = domain.OutcomeWin
	}

	err := t.retry(ctx, "trade_result", func() error {
		return t.repo.RecordTradeResult(ctx, predictionID, r)
	})
	if err != nil {
		t.logger.Error("Failed to record trade result",
			zap.Int64("prediction_id", predictionID),
			zap.String("exit_reason", string(reason)),
			zap.Float64("entry_price", entry),
			zap.Float64("exit_price", exit),
			zap.Float64("profit_usd", r.ProfitUSD),
			zap.Error(err))
		return fmt.Errorf("record trade result for prediction %d: %w", predictionID, err)
	}
	t.logger.Info("Trade result recorded",
		zap.Int64("prediction_id", predictionID),
		zap.String("outcome", string(r.Outcome)),
		zap.Float64("profit_usd", r.ProfitUSD))
	return nil
}

// Insights aggregates resolved predictions into plain statistics.
func (t *PredictionTracker) Insights(ctx context.Context) (domain.LearningInsights, error) {
	var in domain.LearningInsights

	overall, err := t.repo.OverallStats(ctx)
	if err != nil {
		return in, fmt.Errorf("overall stats: %w", err)
	}
	if overall.Total == 0 {
		return in, nil
	}
	in.HasData = true
	in.Overall = overall

	if in.ByCondition, err = t.repo.ConditionStats(ctx); err != nil {
		return in, fmt.Errorf("condition stats: %w", err)
	}
	if in.BestConditions, err = t.repo.BestConditions(ctx, insightMinSamples, insightBestLimit); err != nil {
		return in, fmt.Errorf("best conditions: %w", err)
	}
	return in, nil
}

func (t *PredictionTracker) RecentPredictions(ctx context.Context, limit int) ([]domain.Prediction, error) {
	return t.repo.RecentPredictions(ctx, limit)
}

func (t *PredictionTracker) Get(ctx context.Context, id int64) (*domain.Prediction, error) {
	return t.repo.GetPrediction(ctx, id)
}

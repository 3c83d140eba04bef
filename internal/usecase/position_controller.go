package usecase

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/perp_scanner/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultEntryWindow = 60 * time.Second
	minDecisionLev     = 10
)

// PositionConfig bounds the simulated position.
type PositionConfig struct {
	WalletSizeUSD float64
	MaxLeverage   int
	EntryWindow   time.Duration
}

// StepInput is what one evaluation cycle hands the controller.
// Fresh marks a decision that arrived in this cycle; only fresh buy decisions open positions.
type StepInput struct {
	Price        float64
	Decision     *domain.Decision
	Fresh        bool
	Opportunity  domain.StrategyOpportunity
	PredictionID int64
}

// PositionController owns the single simulated position slot. Step is the only writer.
type PositionController struct {
	mu         sync.Mutex
	pos        *domain.Position
	lastClosed *domain.ClosedPosition
	cfg        PositionConfig
	recorder   domain.TradeResultRecorder
	logger     *zap.Logger
	timeNow    func() time.Time
}

func NewPositionController(cfg PositionConfig, recorder domain.TradeResultRecorder, logger *zap.Logger) *PositionController {
	if cfg.EntryWindow <= 0 {
		cfg.EntryWindow = DefaultEntryWindow
	}
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = 1
	}
	return &PositionController{
		cfg:      cfg,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "position")),
		timeNow:  time.Now,
	}
}

// Step advances the state machine by one cycle and returns the resulting view.
func (c *PositionController) Step(ctx context.Context, in StepInput) domain.PositionView {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.timeNow()
	buy := in.Fresh && in.Decision != nil && in.Decision.Recommendation.IsBuy()

	if c.pos == nil {
		if buy && in.Price > 0 {
			c.open(now, in)
		}
		return c.viewLocked(now)
	}

	if buy {
		c.logger.Debug("Ignoring buy decision while a position is open",
			zap.Float64("entry_price", c.pos.EntryPrice),
			zap.Int64("prediction_id", c.pos.PredictionID))
	}

	if d := c.pos.EntryWindowDeadline; d != nil && !now.Before(*d) {
		c.pos.EntryWindowDeadline = nil
	}

	if reason, ok := c.closeTrigger(in); ok {
		c.close(ctx, now, in.Price, reason)
	}
	return c.viewLocked(now)
}

func (c *PositionController) open(now time.Time, in StepInput) {
	d := in.Decision
	opp := in.Opportunity

	pick := func(fromDecision, fromOpp float64) float64 {
		if fromDecision > 0 {
			return fromDecision
		}
		return fromOpp
	}

	lev := opp.Leverage
	if d.Leverage > 0 {
		lev = max(minDecisionLev, d.Leverage)
	}
	lev = min(c.cfg.MaxLeverage, max(1, lev))

	deadline := now.Add(c.cfg.EntryWindow)
	c.pos = &domain.Position{
		EntryPrice:          pick(d.EntryPrice, opp.EntryPrice),
		EntryTime:           now,
		Leverage:            lev,
		TargetPrice:         pick(d.ExitPrice, opp.ExitPrice),
		StopPrice:           pick(d.StopPrice, opp.StopPrice),
		Strategy:            opp.Strategy,
		PredictionID:        in.PredictionID,
		EntryWindowDeadline: &deadline,
	}
	if c.pos.EntryPrice <= 0 {
		c.pos.EntryPrice = in.Price
	}

	c.logger.Info("Position opened",
		zap.Float64("entry_price", c.pos.EntryPrice),
		zap.Float64("target_price", c.pos.TargetPrice),
		zap.Float64("stop_price", c.pos.StopPrice),
		zap.Int("leverage", c.pos.Leverage),
		zap.String("strategy", string(c.pos.Strategy)),
		zap.Int64("prediction_id", c.pos.PredictionID))
}

// closeTrigger checks target, then stop, then an external close signal.
func (c *PositionController) closeTrigger(in StepInput) (domain.ExitReason, bool) {
	p := c.pos
	if in.Price > 0 {
		if p.TargetPrice > 0 && in.Price >= p.TargetPrice {
			return domain.ExitTargetHit, true
		}
		if p.StopPrice > 0 && in.Price <= p.StopPrice {
			return domain.ExitStopLoss, true
		}
	}
	if in.Decision != nil && in.Decision.Recommendation.IsClose() {
		return domain.ExitAIClose, true
	}
	return "", false
}

func (c *PositionController) close(ctx context.Context, now time.Time, price float64, reason domain.ExitReason) {
	p := *c.pos
	if price <= 0 {
		price = p.EntryPrice
	}
	hold := now.Sub(p.EntryTime).Hours()

	profit := decimal.NewFromFloat(c.cfg.WalletSizeUSD).
		Mul(decimal.NewFromInt(int64(p.Leverage))).
		Mul(decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice))).
		Div(decimal.NewFromFloat(p.EntryPrice))

	fields := []zap.Field{
		zap.String("exit_reason", string(reason)),
		zap.Float64("entry_price", p.EntryPrice),
		zap.Float64("exit_price", price),
		zap.Float64("hold_hours", hold),
		zap.Int("leverage", p.Leverage),
		zap.Float64("wallet_usd", c.cfg.WalletSizeUSD),
		zap.Int64("prediction_id", p.PredictionID),
	}

	if p.PredictionID > 0 && c.recorder != nil {
		if err := c.recorder.LogActualTradeResult(ctx, p.PredictionID, p.EntryPrice, price, reason, hold, c.cfg.WalletSizeUSD, p.Leverage); err != nil {
			c.logger.Error("Failed to record trade result; slot cleared anyway", append(fields, zap.Error(err))...)
		}
	} else {
		c.logger.Warn("Closed position has no linked prediction", fields...)
	}

	c.lastClosed = &domain.ClosedPosition{
		Position:   p,
		ExitPrice:  price,
		ExitReason: reason,
		ExitTime:   now,
		HoldHours:  hold,
		ProfitUSD:  profit.InexactFloat64(),
	}
	c.pos = nil
	c.logger.Info("Position closed", append(fields, zap.Float64("profit_usd", c.lastClosed.ProfitUSD))...)
}

// View returns a copy of the current state.
func (c *PositionController) View() domain.PositionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked(c.timeNow())
}

func (c *PositionController) viewLocked(now time.Time) domain.PositionView {
	v := domain.PositionView{State: domain.StateIdle}
	if c.lastClosed != nil {
		lc := *c.lastClosed
		v.LastClosed = &lc
	}
	if c.pos == nil {
		return v
	}

	p := *c.pos
	v.Position = &p
	v.State = domain.StateOpen
	if d := c.pos.EntryWindowDeadline; d != nil {
		dl := *d
		p.EntryWindowDeadline = &dl
		remaining := int(math.Ceil(d.Sub(now).Seconds()))
		if remaining > 0 {
			v.State = domain.StateEntryWindow
			v.WindowRemainingSeconds = remaining
		}
	}
	return v
}

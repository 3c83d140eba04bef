package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/perp_scanner/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultWhaleThresholdUSD = 5000.0
	pressureSignalPct        = 20.0
	summarySentimentUSD      = 10000.0
)

// WhaleTracker classifies trade flow and persists trades above the notional threshold.
type WhaleTracker struct {
	repo      domain.WhaleRepository
	threshold decimal.Decimal
	logger    *zap.Logger
	timeNow   func() time.Time
	dropped   atomic.Int64
}

func NewWhaleTracker(repo domain.WhaleRepository, thresholdUSD float64, logger *zap.Logger) *WhaleTracker {
	if thresholdUSD <= 0 {
		thresholdUSD = DefaultWhaleThresholdUSD
	}
	return &WhaleTracker{
		repo:      repo,
		threshold: decimal.NewFromFloat(thresholdUSD),
		logger:    logger.With(zap.String("component", "whale_tracker")),
		timeNow:   time.Now,
	}
}

func (w *WhaleTracker) DroppedWhales() int64 {
	return w.dropped.Load()
}

// AnalyzeTrades aggregates buy/sell notional over trades. An empty batch yields a neutral result.
func (w *WhaleTracker) AnalyzeTrades(ctx context.Context, trades []domain.PublicTrade, currentPrice float64) domain.TradeFlowAnalysis {
	res := domain.TradeFlowAnalysis{
		WhaleBuys:  []domain.WhaleTrade{},
		WhaleSells: []domain.WhaleTrade{},
		Signal:     domain.SignalNeutral,
	}
	if len(trades) == 0 {
		return res
	}

	buyVol, sellVol := decimal.Zero, decimal.Zero
	for _, t := range trades {
		price := t.Price
		if price <= 0 {
			price = currentPrice
		}
		if price <= 0 || t.Size <= 0 {
			continue
		}
		res.TradesAnalyzed++

		usd := decimal.NewFromFloat(t.Size).Mul(decimal.NewFromFloat(price))
		dir := domain.DirectionBuy
		if t.IsBuyerMaker() {
			dir = domain.DirectionSell
			sellVol = sellVol.Add(usd)
		} else {
			buyVol = buyVol.Add(usd)
		}

		if usd.LessThan(w.threshold) {
			continue
		}

		whale := domain.WhaleTrade{
			TradeID:      t.ID,
			Timestamp:    time.UnixMilli(t.Time).UTC(),
			Price:        price,
			Quantity:     t.Size,
			USDValue:     usd.InexactFloat64(),
			Direction:    dir,
			IsBuyerMaker: t.IsBuyerMaker(),
		}
		if t.Time == 0 {
			whale.Timestamp = w.timeNow()
		}
		if whale.TradeID == "" {
			whale.TradeID = fmt.Sprintf("whale_%d", whale.Timestamp.UnixMilli())
		}
		w.store(ctx, whale)

		if dir == domain.DirectionBuy {
			res.WhaleBuys = append(res.WhaleBuys, whale)
		} else {
			res.WhaleSells = append(res.WhaleSells, whale)
		}
	}

	net := buyVol.Sub(sellVol)
	res.BuyVolumeUSD = buyVol.InexactFloat64()
	res.SellVolumeUSD = sellVol.InexactFloat64()
	res.NetBuyPressure = net.InexactFloat64()
	res.WhaleDetected = len(res.WhaleBuys)+len(res.WhaleSells) > 0
	if total := buyVol.Add(sellVol); total.IsPositive() {
		res.BuyPressurePct = net.Div(total).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	switch {
	case res.BuyPressurePct > pressureSignalPct:
		res.Signal = domain.SignalBullish
	case res.BuyPressurePct < -pressureSignalPct:
		res.Signal = domain.SignalBearish
	}
	return res
}

func (w *WhaleTracker) store(ctx context.Context, whale domain.WhaleTrade) {
	inserted, err := w.repo.InsertWhale(ctx, whale)
	if err != nil {
		w.dropped.Add(1)
		w.logger.Warn("Failed to store whale trade", zap.String("trade_id", whale.TradeID), zap.Error(err))
		return
	}
	if inserted {
		w.logger.Info("Whale trade",
			zap.String("trade_id", whale.TradeID),
			zap.String("direction", string(whale.Direction)),
			zap.Float64("usd_value", whale.USDValue),
			zap.Float64("price", whale.Price),
		)
	}
}

// RecentWhales returns stored whales in the window, newest first. When currentPrice is
// positive each entry carries its unrealized PnL in percent.
func (w *WhaleTracker) RecentWhales(ctx context.Context, window time.Duration, limit int, currentPrice float64) ([]domain.WhaleFeedEntry, error) {
	whales, err := w.repo.RecentWhales(ctx, w.timeNow().Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("recent whales: %w", err)
	}

	feed := make([]domain.WhaleFeedEntry, 0, len(whales))
	for _, wt := range whales {
		entry := domain.WhaleFeedEntry{WhaleTrade: wt}
		if currentPrice > 0 && wt.Price > 0 {
			var pnl float64
			if wt.Direction == domain.DirectionBuy {
				pnl = (currentPrice - wt.Price) / wt.Price * 100
			} else {
				pnl = (wt.Price - currentPrice) / wt.Price * 100
			}
			entry.PnLPct = &pnl
		}
		feed = append(feed, entry)
	}
	return feed, nil
}

// Summary totals whale flow over the window.
func (w *WhaleTracker) Summary(ctx context.Context, window time.Duration) (domain.WhaleSummary, error) {
	sum, err := w.repo.WhaleTotalsSince(ctx, w.timeNow().Add(-window))
	if err != nil {
		return sum, fmt.Errorf("whale totals: %w", err)
	}
	sum.WindowMinutes = int(window.Minutes())
	sum.NetFlowUSD = decimal.NewFromFloat(sum.BuyVolumeUSD).Sub(decimal.NewFromFloat(sum.SellVolumeUSD)).InexactFloat64()
	sum.Sentiment = domain.SignalNeutral
	switch {
	case sum.NetFlowUSD > summarySentimentUSD:
		sum.Sentiment = domain.SignalBullish
	case sum.NetFlowUSD < -summarySentimentUSD:
		sum.Sentiment = domain.SignalBearish
	}
	return sum, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/perp_scanner/internal/config"
	"github.com/vitos/perp_scanner/internal/domain"
	"github.com/vitos/perp_scanner/internal/infrastructure/cache"
	"github.com/vitos/perp_scanner/internal/infrastructure/exchange"
	"github.com/vitos/perp_scanner/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	symbol := flag.String("symbol", "", "symbol to check (defaults to config symbol)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *symbol == "" {
		*symbol = cfg.Symbol
	}

	fmt.Printf("Testing Bybit market data...\n")
	fmt.Printf("Endpoint: %s\n", cfg.Exchange.RESTEndpoint)

	feed := exchange.NewBybitFeed(exchange.FeedConfig{
		BaseURL:        cfg.Exchange.RESTEndpoint,
		WSURL:          cfg.Exchange.WSEndpoint,
		TradeLimit:     cfg.Exchange.TradeLimit,
		OrderBookDepth: cfg.Exchange.OrderBookDepth,
		Timeout:        cfg.Engine.FetchTimeout,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := feed.Snapshot(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to fetch snapshot: %v\n", err)
		os.Exit(1)
	}
	if err := snap.Validate(); err != nil {
		fmt.Printf("❌ Invalid snapshot: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ %s last=%.4f mark=%.4f funding=%.6f oi=%.0f 24h=%.2f%%\n",
		*symbol, snap.Ticker.LastPrice, snap.Ticker.MarkPrice, snap.Ticker.FundingRate, snap.Ticker.OpenInterest, snap.Ticker.Change24hPct)
	fmt.Printf("✅ Candles: 1m=%d 1h=%d 4h=%d, trades=%d\n", len(snap.Candles1m), len(snap.Candles1h), len(snap.Candles4h), len(snap.Trades))

	flow := usecase.NewOrderFlowAnalyzer(2, nil, zap.NewNop()).Analyze(ctx, snap.OrderBook)
	if !flow.Available {
		fmt.Printf("❌ Order book unavailable\n")
	} else {
		m := flow.Metrics
		fmt.Printf("✅ Book: bid=%.4f ask=%.4f spread=%.4f%% imbalance=%.1f strength=%d (%s)\n",
			m.BestBid, m.BestAsk, m.SpreadPct, flow.Imbalance, flow.Strength.Score, flow.Strength.Quality)
		fmt.Printf("   Flow: %s (%.0f%%) walls bid=%d ask=%d\n",
			flow.Prediction.Direction, flow.Prediction.Confidence, flow.Walls.BidWallCount, flow.Walls.AskWallCount)
	}

	if cfg.Redis.Enabled {
		checkCachedFlow(ctx, cfg, *symbol, flow)
	}

	eval := usecase.NewStrategyEngine().Evaluate(usecase.StrategyInputFromSnapshot(snap, flow))
	for _, o := range eval.Opportunities {
		mark := " "
		if o.Active {
			mark = "*"
		}
		fmt.Printf(" %s %-10s conf=%5.1f entry=%.4f exit=%.4f stop=%.4f lev=%dx\n",
			mark, o.Strategy, o.Confidence, o.EntryPrice, o.ExitPrice, o.StopPrice, o.Leverage)
	}
	fmt.Printf("Best: %s\n", eval.Best.Strategy)
}

// checkCachedFlow compares the live book with the last analysis a running scanner published.
func checkCachedFlow(ctx context.Context, cfg *config.Config, symbol string, live domain.OrderFlowAnalysis) {
	client, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		fmt.Printf("❌ Redis: %v\n", err)
		return
	}
	defer client.Close()

	cached, err := cache.NewOrderFlowCache(client, symbol, cfg.Engine.OrderFlowHistory, cfg.Redis.TTL).Latest(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fmt.Printf("   Cache: no published analysis for %s\n", symbol)
	case err != nil:
		fmt.Printf("❌ Cache: %v\n", err)
	default:
		fmt.Printf("✅ Cache: imbalance=%.1f (live %.1f) %s, age %s\n",
			cached.Imbalance, live.Imbalance, cached.Prediction.Direction, time.Since(cached.Timestamp).Round(time.Second))
	}
}

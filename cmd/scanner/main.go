package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/perp_scanner/internal/config"
	"github.com/vitos/perp_scanner/internal/domain"
	"github.com/vitos/perp_scanner/internal/infrastructure/cache"
	"github.com/vitos/perp_scanner/internal/infrastructure/exchange"
	"github.com/vitos/perp_scanner/internal/infrastructure/logger"
	"github.com/vitos/perp_scanner/internal/infrastructure/storage"
	"github.com/vitos/perp_scanner/internal/usecase"
	"github.com/vitos/perp_scanner/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level, logger.Rotation{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.With(zap.String("symbol", cfg.Symbol))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Init Storage
	priceStore, err := storage.NewPriceStore(cfg.Storage.PriceHistoryPath)
	if err != nil {
		log.Fatal("Failed to open price history", zap.Error(err))
	}
	defer priceStore.Close()
	whaleStore, err := storage.NewWhaleStore(cfg.Storage.WhalePath)
	if err != nil {
		log.Fatal("Failed to open whale store", zap.Error(err))
	}
	defer whaleStore.Close()
	predictionStore, err := storage.NewPredictionStore(cfg.Storage.PredictionPath)
	if err != nil {
		log.Fatal("Failed to open prediction ledger", zap.Error(err))
	}
	defer predictionStore.Close()

	// 4. Optional order-flow cache
	var snapshots domain.SnapshotCache
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("Redis unavailable, order-flow history starts empty", zap.Error(err))
		} else {
			defer client.Close()
			snapshots = cache.NewOrderFlowCache(client, cfg.Symbol, cfg.Engine.OrderFlowHistory, cfg.Redis.TTL)
		}
	}

	// 5. Init Exchange (Bybit, public data only)
	feed := exchange.NewBybitFeed(exchange.FeedConfig{
		BaseURL:        cfg.Exchange.RESTEndpoint,
		WSURL:          cfg.Exchange.WSEndpoint,
		TradeLimit:     cfg.Exchange.TradeLimit,
		OrderBookDepth: cfg.Exchange.OrderBookDepth,
		Timeout:        cfg.Engine.FetchTimeout,
	}, log)
	if cfg.Exchange.UseWebsocket {
		go feed.StreamTrades(ctx, []string{cfg.Symbol})
	}

	// 6. Init Services
	history := usecase.NewPriceHistory(priceStore, log)
	whales := usecase.NewWhaleTracker(whaleStore, cfg.Engine.WhaleThresholdUSD, log)
	flow := usecase.NewOrderFlowAnalyzer(cfg.Engine.OrderFlowHistory, snapshots, log)
	if n, err := flow.Warm(ctx); err != nil {
		log.Warn("Failed to warm order-flow history", zap.Error(err))
	} else if n > 0 {
		log.Info("Order-flow history restored", zap.Int("snapshots", n))
	}
	predictions := usecase.NewPredictionTracker(predictionStore, log)
	positions := usecase.NewPositionController(usecase.PositionConfig{
		WalletSizeUSD: cfg.Engine.WalletSizeUSD,
		MaxLeverage:   cfg.Engine.MaxLeverage,
		EntryWindow:   cfg.Engine.EntryWindow,
	}, predictions, log)

	pipeline := usecase.NewPipeline(usecase.PipelineConfig{
		Symbol:                cfg.Symbol,
		CycleInterval:         cfg.Engine.CycleInterval,
		VolumeMetricsInterval: cfg.Engine.VolumeMetricsInterval,
		PatternScanInterval:   cfg.Engine.PatternScanInterval,
		DecisionInterval:      cfg.Engine.DecisionInterval,
		CleanupInterval:       cfg.Engine.CleanupInterval,
		FetchTimeout:          cfg.Engine.FetchTimeout,
		RetentionDays:         cfg.Engine.RetentionDays,
	}, usecase.PipelineDeps{
		Source:      feed,
		History:     history,
		Whales:      whales,
		OrderFlow:   flow,
		Strategies:  usecase.NewStrategyEngine(),
		Decider:     usecase.NewStrategyDecider(cfg.Engine.BuyConfidence),
		Predictions: predictions,
		Positions:   positions,
	}, log)

	// 7. Start loop and web server
	loopDone := make(chan struct{})
	go func() {
		pipeline.Run(ctx)
		close(loopDone)
	}()

	server := web.NewServer(cfg.Server.Port, pipeline, whales, predictions, history, flow, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Web server failed", zap.Error(err))
			stop()
		}
	}()

	// 8. Wait for Shutdown
	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}
	<-loopDone
	log.Info("Stopped")
}

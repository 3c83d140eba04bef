package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/perp_scanner/internal/config"
	"github.com/vitos/perp_scanner/internal/infrastructure/storage"
	"github.com/vitos/perp_scanner/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	recent := flag.Int("recent", 20, "number of recent predictions to list")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewPredictionStore(cfg.Storage.PredictionPath)
	if err != nil {
		fmt.Printf("Error opening ledger: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	tracker := usecase.NewPredictionTracker(store, zap.NewNop())

	fmt.Printf("Analyzing ledger: %s\n", cfg.Storage.PredictionPath)
	insights, err := tracker.Insights(ctx)
	if err != nil {
		fmt.Printf("Error computing insights: %v\n", err)
		os.Exit(1)
	}
	if !insights.HasData {
		fmt.Println("No resolved predictions yet.")
	} else {
		o := insights.Overall
		fmt.Printf("\nResolved: %d  wins=%d losses=%d correct_waits=%d missed=%d no_move=%d\n",
			o.Total, o.Wins, o.Losses, o.CorrectWaits, o.Missed, o.NoMove)
		fmt.Printf("Accuracy: %.1f%%  Win rate: %.1f%%  Avg profit: %.2f%%  Profit factor: %.2f  Realized: $%.2f\n",
			o.AccuracyPct, o.WinRatePct, o.AvgProfitPct, o.ProfitFactor, o.TotalProfitUSD)

		fmt.Printf("\n%-12s | %-10s | %-6s | %-10s | %s\n", "Order flow", "Whales", "Count", "Win rate", "Avg profit %")
		fmt.Println("----------------------------------------------------------------")
		for _, c := range insights.ByCondition {
			fmt.Printf("%-12s | %-10s | %-6d | %-10.1f | %.2f\n",
				c.OrderflowDirection, c.WhaleSentiment, c.Count, c.WinRatePct, c.AvgProfitPct)
		}

		if len(insights.BestConditions) > 0 {
			fmt.Println("\nBest buy conditions:")
			for _, b := range insights.BestConditions {
				fmt.Printf("  signal~%d flow=%s whales=%s n=%d win=%.1f%% avg=%.2f%%\n",
					b.SignalBucket, b.OrderflowDirection, b.WhaleSentiment, b.Count, b.WinRatePct, b.AvgProfitPct)
			}
		}
	}

	preds, err := tracker.RecentPredictions(ctx, *recent)
	if err != nil {
		fmt.Printf("Error listing predictions: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nLast %d predictions:\n", len(preds))
	for _, p := range preds {
		outcome := string(p.Outcome)
		if outcome == "" {
			outcome = "open"
		}
		move := "-"
		if p.Move24h != nil {
			move = fmt.Sprintf("%+.2f%%", *p.Move24h)
		}
		fmt.Printf("  #%-5d %s %-10s conf=%3.0f price=%.4f 24h=%-8s %s\n",
			p.ID, p.Timestamp.Format("2006-01-02 15:04"), p.Recommendation, p.Confidence, p.Features.CurrentPrice, move, outcome)
	}
}

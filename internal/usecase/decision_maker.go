package usecase

import (
	"context"
	"fmt"

	"github.com/vitos/perp_scanner/internal/domain"
)

const (
	decisionSource = "strategy"
	// Below this many decided predictions the track record is ignored.
	minTrackRecord       = 10
	poorWinRatePct       = 40.0
	poorRecordPenalty    = 10.0
	defaultBuyConfidence = 70.0
)

// StrategyDecider is the built-in DecisionMaker. It follows the best strategy
// opportunity and vetoes it when order flow or whales disagree.
type StrategyDecider struct {
	buyConfidence float64
}

func NewStrategyDecider(buyConfidence float64) *StrategyDecider {
	if buyConfidence <= 0 {
		buyConfidence = defaultBuyConfidence
	}
	return &StrategyDecider{buyConfidence: buyConfidence}
}

func (d *StrategyDecider) Decide(_ context.Context, in domain.DecisionInput) (domain.Decision, error) {
	best := in.Evaluation.Best
	flow := in.OrderFlow.Prediction.Direction
	whales := in.Whales.Signal

	threshold := d.buyConfidence
	if ins := in.Insights; ins != nil && ins.HasData {
		decided := ins.Overall.Wins + ins.Overall.Losses
		if decided >= minTrackRecord && ins.Overall.WinRatePct < poorWinRatePct {
			threshold += poorRecordPenalty
		}
	}

	factors := []string{
		fmt.Sprintf("%s confidence %.0f", best.Strategy, best.Confidence),
		fmt.Sprintf("order flow %s", flow),
		fmt.Sprintf("whales %s", whales),
		fmt.Sprintf("momentum %.0f", in.Momentum),
	}
	out := domain.Decision{
		EntryPrice: best.EntryPrice,
		ExitPrice:  best.ExitPrice,
		StopPrice:  best.StopPrice,
		Leverage:   best.Leverage,
		Confidence: best.Confidence,
		KeyFactors: factors,
		Source:     decisionSource,
	}

	switch {
	case flow == domain.SignalBearish && whales == domain.SignalBearish:
		out.Recommendation = domain.RecDontBuy
		out.Reasoning = "order flow and whale activity are both bearish"
	case best.Active && best.Confidence >= threshold && flow != domain.SignalBearish:
		out.Recommendation = domain.RecBuyNow
		out.Reasoning = best.Reasoning
	default:
		out.Recommendation = domain.RecWait
		out.Reasoning = fmt.Sprintf("no setup above %.0f%% confidence", threshold)
	}
	return out, nil
}

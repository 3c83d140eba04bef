package domain

type Recommendation string

const (
	RecBuyNow    Recommendation = "BUY_NOW"
	RecStrongBuy Recommendation = "STRONG_BUY"
	RecWait      Recommendation = "WAIT"
	RecNoTrade   Recommendation = "NO_TRADE"
	RecSell      Recommendation = "SELL"
	RecDontBuy   Recommendation = "DONT_BUY"
	RecClose     Recommendation = "CLOSE"
)

// IsBuy reports whether the recommendation should open a position.
func (r Recommendation) IsBuy() bool {
	return r == RecBuyNow || r == RecStrongBuy
}

// IsClose reports whether the recommendation should close an open position.
func (r Recommendation) IsClose() bool {
	return r == RecSell || r == RecDontBuy || r == RecClose
}

// Decision is the final trade decision produced by the advisory collaborator.
type Decision struct {
	Recommendation Recommendation `json:"recommendation"`
	EntryPrice     float64        `json:"entry_price"`
	ExitPrice      float64        `json:"exit_price"`
	StopPrice      float64        `json:"stop_price"`
	Leverage       int            `json:"leverage"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	KeyFactors     []string       `json:"key_factors,omitempty"`
	Source         string         `json:"source"`
}

// DecisionInput is what the pipeline hands the decision maker each refresh.
type DecisionInput struct {
	Snapshot   *MarketSnapshot    `json:"-"`
	Evaluation StrategyEvaluation `json:"evaluation"`
	OrderFlow  OrderFlowAnalysis  `json:"order_flow"`
	Whales     TradeFlowAnalysis  `json:"whales"`
	Momentum   float64            `json:"momentum_score"`
	Insights   *LearningInsights  `json:"insights,omitempty"`
}

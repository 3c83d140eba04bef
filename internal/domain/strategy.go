package domain

type StrategyKind string

const (
	StrategyScalping  StrategyKind = "SCALPING"
	StrategyMomentum  StrategyKind = "MOMENTUM"
	StrategyDipBuying StrategyKind = "DIP_BUYING"
	StrategyBreakout  StrategyKind = "BREAKOUT"
)

// StrategyOpportunity is one strategy's self-contained trade proposal.
type StrategyOpportunity struct {
	Strategy        StrategyKind `json:"strategy"`
	Active          bool         `json:"active"`
	Confidence      float64      `json:"confidence"`
	EntryPrice      float64      `json:"entry_price"`
	ExitPrice       float64      `json:"exit_price"`
	StopPrice       float64      `json:"stop_price"`
	Leverage        int          `json:"leverage"`
	TargetProfitPct float64      `json:"target_profit_pct"`
	Timeframe       string       `json:"timeframe"`
	Reasoning       string       `json:"reasoning"`
}

type StrategyEvaluation struct {
	Best          StrategyOpportunity   `json:"best"`
	Opportunities []StrategyOpportunity `json:"opportunities"`
}

// StrategyInput is the fused view the engine evaluates.
type StrategyInput struct {
	Price          float64
	Candles1h      []Candle
	OrderFlow      OrderFlowAnalysis
	CompositeScore float64
}

package domain

import "time"

type BookMetrics struct {
	BestBid          float64 `json:"best_bid"`
	BestAsk          float64 `json:"best_ask"`
	Spread           float64 `json:"spread"`
	SpreadPct        float64 `json:"spread_pct"`
	TotalBidVolume   float64 `json:"total_bid_volume"`
	TotalAskVolume   float64 `json:"total_ask_volume"`
	Top5BidVolume    float64 `json:"top5_bid_volume"`
	Top5AskVolume    float64 `json:"top5_ask_volume"`
	Top10BidVolume   float64 `json:"top10_bid_volume"`
	Top10AskVolume   float64 `json:"top10_ask_volume"`
	Top20BidVolume   float64 `json:"top20_bid_volume"`
	Top20AskVolume   float64 `json:"top20_ask_volume"`
	BidAskRatio      float64 `json:"bid_ask_ratio"`
	WeightedBidPrice float64 `json:"weighted_bid_price"`
	WeightedAskPrice float64 `json:"weighted_ask_price"`
	MidPrice         float64 `json:"mid_price"`
}

type Wall struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type WallAnalysis struct {
	BidWalls     []Wall  `json:"bid_walls"`
	AskWalls     []Wall  `json:"ask_walls"`
	BidWallCount int     `json:"bid_wall_count"`
	AskWallCount int     `json:"ask_wall_count"`
	BidThreshold float64 `json:"bid_threshold"`
	AskThreshold float64 `json:"ask_threshold"`
	StrongestBid *Wall   `json:"strongest_bid,omitempty"`
	StrongestAsk *Wall   `json:"strongest_ask,omitempty"`
}

// LiquidityCluster groups adjacent book levels into one support or resistance zone.
type LiquidityCluster struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Levels int     `json:"levels"`
}

const DirectionUnknown = "UNKNOWN"

type FlowPrediction struct {
	Direction  string   `json:"direction"`
	Confidence float64  `json:"confidence"`
	Score      float64  `json:"score"`
	Reasons    []string `json:"reasons"`
}

type BookStrength struct {
	Score   int    `json:"score"`
	Quality string `json:"quality"`
}

// OrderFlowAnalysis is one ephemeral order-book snapshot analysis.
// Available is false when either side of the book was missing.
type OrderFlowAnalysis struct {
	Timestamp  time.Time          `json:"timestamp"`
	Available  bool               `json:"available"`
	Metrics    BookMetrics        `json:"metrics"`
	Walls      WallAnalysis       `json:"walls"`
	Imbalance  float64            `json:"imbalance_score"`
	Support    []LiquidityCluster `json:"support_clusters"`
	Resistance []LiquidityCluster `json:"resistance_clusters"`
	Prediction FlowPrediction     `json:"prediction"`
	Strength   BookStrength       `json:"strength"`
}

const (
	FlowStrengtheningBids = "STRENGTHENING_BIDS"
	FlowStrengtheningAsks = "STRENGTHENING_ASKS"
	FlowStable            = "STABLE"
	FlowInsufficientData  = "INSUFFICIENT_DATA"
)

type OrderFlowTrend struct {
	Trend        string  `json:"trend"`
	Slope        float64 `json:"slope"`
	Periods      int     `json:"periods"`
	AvgImbalance float64 `json:"avg_imbalance"`
}

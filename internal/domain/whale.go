package domain

import "time"

type TradeDirection string

const (
	DirectionBuy  TradeDirection = "BUY"
	DirectionSell TradeDirection = "SELL"
)

// WhaleTrade is a trade whose notional crossed the whale threshold. TradeID is unique.
type WhaleTrade struct {
	TradeID      string         `json:"trade_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Price        float64        `json:"price"`
	Quantity     float64        `json:"quantity"`
	USDValue     float64        `json:"usd_value"`
	Direction    TradeDirection `json:"direction"`
	IsBuyerMaker bool           `json:"is_buyer_maker"`
}

// WhaleFeedEntry annotates a stored whale trade with unrealized PnL against a reference price.
type WhaleFeedEntry struct {
	WhaleTrade
	PnLPct *float64 `json:"pnl_pct,omitempty"`
}

const (
	SignalBullish = "BULLISH"
	SignalBearish = "BEARISH"
	SignalNeutral = "NEUTRAL"
)

type TradeFlowAnalysis struct {
	WhaleDetected  bool         `json:"whale_detected"`
	WhaleBuys      []WhaleTrade `json:"whale_buys"`
	WhaleSells     []WhaleTrade `json:"whale_sells"`
	BuyVolumeUSD   float64      `json:"buy_volume_usd"`
	SellVolumeUSD  float64      `json:"sell_volume_usd"`
	NetBuyPressure float64      `json:"net_buy_pressure"`
	BuyPressurePct float64      `json:"buy_pressure_pct"`
	Signal         string       `json:"signal"`
	TradesAnalyzed int          `json:"trades_analyzed"`
}

type WhaleSummary struct {
	WindowMinutes int     `json:"window_minutes"`
	BuyCount      int     `json:"buy_count"`
	SellCount     int     `json:"sell_count"`
	BuyVolumeUSD  float64 `json:"buy_volume_usd"`
	SellVolumeUSD float64 `json:"sell_volume_usd"`
	NetFlowUSD    float64 `json:"net_flow_usd"`
	Sentiment     string  `json:"sentiment"`
}

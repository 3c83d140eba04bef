package domain

import (
	"fmt"
	"time"
)

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// IsGreen reports whether the candle closed above its open.
func (c Candle) IsGreen() bool {
	return c.Close > c.Open
}

type OrderBookEntry struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook holds bids sorted best-first (descending) and asks sorted best-first (ascending).
type OrderBook struct {
	Symbol string           `json:"symbol"`
	Bids   []OrderBookEntry `json:"bids"`
	Asks   []OrderBookEntry `json:"asks"`
	Time   time.Time        `json:"time"`
}

// PublicTrade is a single print from the public trade feed.
// Side is the taker side as reported by the exchange ("Buy" or "Sell").
type PublicTrade struct {
	ID     string  `json:"id"`
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Size   float64 `json:"size"`
	Price  float64 `json:"price"`
	Time   int64   `json:"time"` // unix ms
}

// IsBuyerMaker is true when the resting order was the bid, i.e. the aggressor sold.
func (t PublicTrade) IsBuyerMaker() bool {
	return t.Side == "Sell"
}

type Ticker struct {
	Symbol       string  `json:"symbol"`
	LastPrice    float64 `json:"last_price"`
	MarkPrice    float64 `json:"mark_price"`
	FundingRate  float64 `json:"funding_rate"`
	OpenInterest float64 `json:"open_interest"`
	Volume24h    float64 `json:"volume_24h"`
	Turnover24h  float64 `json:"turnover_24h"`
	Change24hPct float64 `json:"change_24h_pct"`
}

// MarketSnapshot is everything one pipeline cycle needs from the market-data collaborator.
type MarketSnapshot struct {
	Symbol    string        `json:"symbol"`
	Time      time.Time     `json:"time"`
	Ticker    Ticker        `json:"ticker"`
	Candles1m []Candle      `json:"candles_1m"`
	Candles1h []Candle      `json:"candles_1h"`
	Candles4h []Candle      `json:"candles_4h"`
	OrderBook *OrderBook    `json:"order_book,omitempty"`
	Trades    []PublicTrade `json:"trades"`
}

// Price returns the last traded price.
func (s *MarketSnapshot) Price() float64 {
	return s.Ticker.LastPrice
}

// Volume1m is the base volume of the most recent one-minute candle, nil when unknown.
func (s *MarketSnapshot) Volume1m() *float64 {
	if len(s.Candles1m) == 0 {
		return nil
	}
	v := s.Candles1m[len(s.Candles1m)-1].Volume
	return &v
}

// Validate rejects snapshots the core cannot reason about.
// Missing order book or trades are allowed; the analyzers return neutral results for them.
func (s *MarketSnapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if s.Ticker.LastPrice <= 0 {
		return fmt.Errorf("%w: last price %v", ErrInvalidSnapshot, s.Ticker.LastPrice)
	}
	if s.Time.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSnapshot)
	}
	return nil
}

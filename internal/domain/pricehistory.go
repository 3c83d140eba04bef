package domain

import "time"

// PriceTick is one append-only sample of the traded pair.
type PriceTick struct {
	Timestamp    time.Time `json:"timestamp"`
	Price        float64   `json:"price"`
	Volume1m     *float64  `json:"volume_1m,omitempty"`
	MarkPrice    *float64  `json:"mark_price,omitempty"`
	FundingRate  *float64  `json:"funding_rate,omitempty"`
	OpenInterest *float64  `json:"open_interest,omitempty"`
}

type VolumeTrend string

const (
	VolumeIncreasing VolumeTrend = "INCREASING"
	VolumeDecreasing VolumeTrend = "DECREASING"
	VolumeStable     VolumeTrend = "STABLE"
	VolumeUnknown    VolumeTrend = "UNKNOWN"
)

// VolumeMetrics is a derived snapshot; a newer row supersedes older ones.
type VolumeMetrics struct {
	Timestamp     time.Time   `json:"timestamp"`
	Vol1m         float64     `json:"vol_1m"`
	Vol5m         float64     `json:"vol_5m"`
	Vol15m        float64     `json:"vol_15m"`
	Vol1h         float64     `json:"vol_1h"`
	Vol4h         float64     `json:"vol_4h"`
	Vol24h        float64     `json:"vol_24h"`
	Vol5mAvg1h    float64     `json:"vol_5m_avg_1h"`
	SpikeDetected bool        `json:"spike_detected"`
	Trend         VolumeTrend `json:"trend"`
}

type VolumeTrendReading struct {
	Trend         VolumeTrend `json:"trend"`
	SpikeDetected bool        `json:"spike_detected"`
	Multiplier    float64     `json:"multiplier"`
	Vol5m         float64     `json:"vol_5m"`
	Avg1h         float64     `json:"avg_1h"`
	Timestamp     time.Time   `json:"timestamp"`
}

type PatternType string

const (
	PatternMoonCandle       PatternType = "MOON_CANDLE"
	PatternPump             PatternType = "PUMP"
	PatternDump             PatternType = "DUMP"
	PatternDipBounce        PatternType = "DIP_BOUNCE"
	PatternNormal           PatternType = "NORMAL"
	PatternNoDip            PatternType = "NO_DIP"
	PatternInsufficientData PatternType = "INSUFFICIENT_DATA"
)

// PatternEvent is an immutable detector log entry.
type PatternEvent struct {
	ID              int64       `json:"id"`
	Timestamp       time.Time   `json:"timestamp"`
	Type            PatternType `json:"type"`
	PriceStart      float64     `json:"price_start"`
	PriceEnd        float64     `json:"price_end"`
	PercentMove     float64     `json:"percent_move"`
	DurationSeconds int         `json:"duration_seconds"`
	VolumeSpike     bool        `json:"volume_spike"`
	Description     string      `json:"description"`
}

type MoonCandleResult struct {
	Detected        bool        `json:"detected"`
	Type            PatternType `json:"type"`
	PriceChangePct  float64     `json:"price_change_pct"`
	VolumeSpike     bool        `json:"volume_spike"`
	PriceStart      float64     `json:"price_start"`
	PriceEnd        float64     `json:"price_end"`
	DurationSeconds int         `json:"duration_seconds"`
	Samples         int         `json:"samples"`
}

type DipResult struct {
	Detected     bool        `json:"detected"`
	Type         PatternType `json:"type"`
	DipDepthPct  float64     `json:"dip_depth_pct"`
	BouncePct    float64     `json:"bounce_pct"`
	LowPrice     float64     `json:"low_price"`
	CurrentPrice float64     `json:"current_price"`
	Samples      int         `json:"samples"`
}

type PriceLevel struct {
	Price float64 `json:"price"`
	Tests int     `json:"tests"`
}

// SupportResistance is unavailable when the lookback holds too few samples.
type SupportResistance struct {
	Available  bool        `json:"available"`
	Support    *PriceLevel `json:"support,omitempty"`
	Resistance *PriceLevel `json:"resistance,omitempty"`
	Samples    int         `json:"samples"`
}

type PatternStat struct {
	Count      int     `json:"count"`
	AvgMovePct float64 `json:"avg_move_pct"`
}

const (
	VolatilityHigh   = "HIGH"
	VolatilityMedium = "MEDIUM"
	VolatilityLow    = "LOW"

	TrendBullish  = "BULLISH"
	TrendBearish  = "BEARISH"
	TrendSideways = "SIDEWAYS"
	TrendUnknown  = "UNKNOWN"
)

type PatternSummary struct {
	Hours          int                         `json:"hours"`
	Patterns       map[PatternType]PatternStat `json:"patterns"`
	Volatility     string                      `json:"volatility"`
	VolatilityPct  float64                     `json:"volatility_pct"`
	Trend          string                      `json:"trend"`
	PriceChangePct float64                     `json:"price_change_pct"`
	MoonCandles24h int                         `json:"moon_candles_24h"`
	Pumps24h       int                         `json:"pumps_24h"`
	Dumps24h       int                         `json:"dumps_24h"`
}

package domain

import "time"

type Outcome string

const (
	OutcomeNone              Outcome = ""
	OutcomePending           Outcome = "PENDING"
	OutcomeWin               Outcome = "WIN"
	OutcomeLoss              Outcome = "LOSS"
	OutcomeCorrectWait       Outcome = "CORRECT_WAIT"
	OutcomeMissedOpportunity Outcome = "MISSED_OPPORTUNITY"
	OutcomeNoMove            Outcome = "NO_MOVE"
)

type Horizon int

const (
	Horizon1h  Horizon = 1
	Horizon4h  Horizon = 4
	Horizon24h Horizon = 24
)

var Horizons = []Horizon{Horizon1h, Horizon4h, Horizon24h}

// FeatureSnapshot is the market state captured when the decision was taken.
type FeatureSnapshot struct {
	CurrentPrice        float64      `json:"current_price"`
	SignalStrength      float64      `json:"signal_strength"`
	Strategy            StrategyKind `json:"strategy"`
	StrategyConfidence  float64      `json:"strategy_confidence"`
	OrderflowDirection  string       `json:"orderflow_direction"`
	OrderflowConfidence float64      `json:"orderflow_confidence"`
	Imbalance           float64      `json:"imbalance"`
	WhaleSentiment      string       `json:"whale_sentiment"`
	WhaleScore          float64      `json:"whale_score"`
	FundingRate         float64      `json:"funding_rate"`
	VolumeTrend         VolumeTrend  `json:"volume_trend"`
}

// Prediction is the ledger row for one decision. Nil pointers are unresolved fields.
type Prediction struct {
	ID             int64           `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Recommendation Recommendation  `json:"recommendation"`
	EntryPrice     float64         `json:"entry_price"`
	ExitPrice      float64         `json:"exit_price"`
	StopPrice      float64         `json:"stop_price"`
	Leverage       int             `json:"leverage"`
	Confidence     float64         `json:"confidence"`
	Reasoning      string          `json:"reasoning"`
	KeyFactors     []string        `json:"key_factors"`
	Features       FeatureSnapshot `json:"features"`

	Price1h  *float64 `json:"price_1h_later,omitempty"`
	Price4h  *float64 `json:"price_4h_later,omitempty"`
	Price24h *float64 `json:"price_24h_later,omitempty"`
	Move1h   *float64 `json:"actual_move_1h,omitempty"`
	Move4h   *float64 `json:"actual_move_4h,omitempty"`
	Move24h  *float64 `json:"actual_move_24h,omitempty"`

	Outcome          Outcome    `json:"outcome"`
	WasCorrect       *bool      `json:"was_correct,omitempty"`
	ProfitIfFollowed *float64   `json:"profit_if_followed,omitempty"`
	LastChecked      *time.Time `json:"last_checked,omitempty"`

	ActualProfitUSD  *float64 `json:"actual_profit_usd,omitempty"`
	WalletSizeUSD    *float64 `json:"wallet_size_usd,omitempty"`
	ActualEntryPrice *float64 `json:"actual_entry_price,omitempty"`
	ActualExitPrice  *float64 `json:"actual_exit_price,omitempty"`
	ExitReason       string   `json:"exit_reason,omitempty"`
	HoldTimeHours    *float64 `json:"hold_time_hours,omitempty"`
}

// HorizonPrice returns the back-filled price for h, nil when not yet resolved.
func (p *Prediction) HorizonPrice(h Horizon) *float64 {
	switch h {
	case Horizon1h:
		return p.Price1h
	case Horizon4h:
		return p.Price4h
	case Horizon24h:
		return p.Price24h
	}
	return nil
}

// Resolution is the terminal verdict written at the 24h horizon.
type Resolution struct {
	Outcome          Outcome
	WasCorrect       bool
	ProfitIfFollowed float64
}

// TradeResult is the realized close of a simulated position.
type TradeResult struct {
	EntryPrice       float64
	ExitPrice        float64
	ExitReason       ExitReason
	HoldHours        float64
	WalletSizeUSD    float64
	Leverage         int
	ProfitUSD        float64
	ProfitIfFollowed float64
	Outcome          Outcome
}

type PredictionStats struct {
	Total          int     `json:"total"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	CorrectWaits   int     `json:"correct_waits"`
	Missed         int     `json:"missed_opportunities"`
	NoMove         int     `json:"no_move"`
	Correct        int     `json:"correct"`
	AccuracyPct    float64 `json:"accuracy_pct"`
	WinRatePct     float64 `json:"win_rate_pct"`
	AvgProfitPct   float64 `json:"avg_profit_pct"`
	TotalProfitUSD float64 `json:"total_profit_usd"`
	GrossProfit    float64 `json:"gross_profit_pct"`
	GrossLoss      float64 `json:"gross_loss_pct"`
	ProfitFactor   float64 `json:"profit_factor"`
}

type ConditionStat struct {
	OrderflowDirection string  `json:"orderflow_direction"`
	WhaleSentiment     string  `json:"whale_sentiment"`
	Count              int     `json:"count"`
	Wins               int     `json:"wins"`
	WinRatePct         float64 `json:"win_rate_pct"`
	AvgProfitPct       float64 `json:"avg_profit_pct"`
}

type ConditionBucket struct {
	SignalBucket       int     `json:"signal_bucket"`
	OrderflowDirection string  `json:"orderflow_direction"`
	WhaleSentiment     string  `json:"whale_sentiment"`
	Count              int     `json:"count"`
	WinRatePct         float64 `json:"win_rate_pct"`
	AvgProfitPct       float64 `json:"avg_profit_pct"`
}

// LearningInsights are aggregate facts over resolved predictions.
type LearningInsights struct {
	HasData        bool              `json:"has_data"`
	Overall        PredictionStats   `json:"overall"`
	ByCondition    []ConditionStat   `json:"by_condition"`
	BestConditions []ConditionBucket `json:"best_conditions"`
}

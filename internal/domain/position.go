package domain

import "time"

type PositionState string

const (
	StateIdle        PositionState = "IDLE"
	StateEntryWindow PositionState = "ENTRY_WINDOW"
	StateOpen        PositionState = "OPEN"
)

type ExitReason string

const (
	ExitTargetHit ExitReason = "TARGET_HIT"
	ExitStopLoss  ExitReason = "STOP_LOSS"
	ExitAIClose   ExitReason = "AI_CLOSE"
)

// Position is the single simulated position slot.
type Position struct {
	EntryPrice          float64      `json:"entry_price"`
	EntryTime           time.Time    `json:"entry_time"`
	Leverage            int          `json:"leverage"`
	TargetPrice         float64      `json:"target_price"`
	StopPrice           float64      `json:"stop_price"`
	Strategy            StrategyKind `json:"strategy"`
	PredictionID        int64        `json:"prediction_id"`
	EntryWindowDeadline *time.Time   `json:"entry_window_deadline,omitempty"`
}

type ClosedPosition struct {
	Position   Position   `json:"position"`
	ExitPrice  float64    `json:"exit_price"`
	ExitReason ExitReason `json:"exit_reason"`
	ExitTime   time.Time  `json:"exit_time"`
	HoldHours  float64    `json:"hold_hours"`
	ProfitUSD  float64    `json:"profit_usd"`
}

// PositionView is a copy of the controller state safe to hand to readers.
type PositionView struct {
	State                  PositionState   `json:"state"`
	Position               *Position       `json:"position,omitempty"`
	WindowRemainingSeconds int             `json:"window_remaining_seconds"`
	LastClosed             *ClosedPosition `json:"last_closed,omitempty"`
}

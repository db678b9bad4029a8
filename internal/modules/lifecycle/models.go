// Package lifecycle owns position state, the strict transition table, and
// the per-cycle position evaluator.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/aristath/wheel-trader/internal/domain"
)

// State of a position. CLOSED is terminal.
type State string

const (
	StateNew      State = "NEW"
	StateAssigned State = "ASSIGNED"
	StateOpen     State = "OPEN"
	StateRolling  State = "ROLLING"
	StateClosing  State = "CLOSING"
	StateClosed   State = "CLOSED"
)

// Action applied to a position.
type Action string

const (
	ActionAssign Action = "ASSIGN"
	ActionOpen   Action = "OPEN"
	ActionHold   Action = "HOLD"
	ActionRoll   Action = "ROLL"
	ActionClose  Action = "CLOSE"
)

// transitions is the single source of truth for the state machine. Keep
// transitions here, never in conditionals.
var transitions = map[State]map[Action]State{
	StateNew:      {ActionAssign: StateAssigned},
	StateAssigned: {ActionOpen: StateOpen},
	StateOpen: {
		ActionHold:  StateOpen,
		ActionRoll:  StateRolling,
		ActionClose: StateClosing,
	},
	StateRolling: {ActionOpen: StateOpen},
	StateClosing: {ActionClose: StateClosed},
}

// InvalidTransitionError reports a transition the table forbids.
type InvalidTransitionError struct {
	From          State
	Action        Action
	CorrelationID string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s + %s (correlation_id=%s)",
		e.From, e.Action, e.CorrelationID)
}

// HistoryRecord is one entry in a position's append-only state history.
type HistoryRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Action    Action    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// ExitPlan is informational; only the evaluator decides what to do next.
type ExitPlan struct {
	ProfitTargetPct      float64  `json:"profit_target_pct"`
	PremiumExtensionPct  float64  `json:"premium_extension_pct"`
	MaxLossMultiplier    float64  `json:"max_loss_multiplier"`
	TimeStopSoftDays     int      `json:"time_stop_soft_days"`
	TimeStopHardDays     int      `json:"time_stop_hard_days"`
	UnderlyingStopBreach bool     `json:"underlying_stop_breach"`
	TargetT1             *float64 `json:"target_t1,omitempty"`
	TargetT2             *float64 `json:"target_t2,omitempty"`
}

// Position is the persisted record of one wheel leg.
type Position struct {
	ID               string           `json:"id"`
	Symbol           string           `json:"symbol"`
	PositionType     domain.TradeMode `json:"position_type"`
	Strike           float64          `json:"strike"`
	Expiry           string           `json:"expiry"` // YYYY-MM-DD
	Contracts        int              `json:"contracts"`
	PremiumCollected float64          `json:"premium_collected"`
	EntryDate        string           `json:"entry_date"`
	State            State            `json:"lifecycle_state"`
	History          []HistoryRecord  `json:"state_history"`
	ExitPlan         ExitPlan         `json:"exit_plan"`
	RealizedPnL      float64          `json:"realized_pnl"`
}

// DTE returns calendar days to expiry from now, floored at zero for
// expired positions.
func (p *Position) DTE(now time.Time) int {
	exp, err := time.Parse("2006-01-02", p.Expiry)
	if err != nil {
		return 0
	}
	d := int(exp.Sub(now.Truncate(24*time.Hour)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

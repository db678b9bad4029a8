package lifecycle

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/config"
)

// Signal is the evaluator's recommendation for one open position.
type Signal string

const (
	SignalHold          Signal = "HOLD"
	SignalTakeProfit    Signal = "TAKE_PROFIT"
	SignalRollSuggested Signal = "ROLL_SUGGESTED"
	SignalExitNow       Signal = "EXIT_NOW"
)

// ExitPriority qualifies how urgent a signal is.
type ExitPriority string

const (
	PriorityNormal         ExitPriority = "NORMAL"
	PriorityAdvisory       ExitPriority = "ADVISORY"
	PriorityFastCapture    ExitPriority = "FAST_CAPTURE"
	PriorityExpiryCritical ExitPriority = "EXPIRY_CRITICAL"
	PriorityPanic          ExitPriority = "PANIC"
)

// MarketView is the per-position market context for one evaluation cycle.
type MarketView struct {
	Bid             *float64
	Ask             *float64
	PanicFlag       bool
	HitT1           bool
	HitT2           bool
	RegimeFavorable bool
}

// Evaluation is the evaluator output. The evaluator never mutates the
// position; callers decide whether to act on the signal.
type Evaluation struct {
	PositionID     string       `json:"position_id"`
	Signal         Signal       `json:"signal"`
	Reason         string       `json:"reason"`
	Priority       ExitPriority `json:"exit_priority"`
	PremiumCapture *float64     `json:"premium_capture"`
	DTE            int          `json:"dte"`
	RiskFlag       bool         `json:"risk_flag,omitempty"`
}

// Evaluator applies the priority-ordered exit rules.
type Evaluator struct {
	cfg config.ExitConfig
	log zerolog.Logger
	now func() time.Time
}

// NewEvaluator creates a position evaluator.
func NewEvaluator(cfg config.ExitConfig, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		cfg: cfg,
		log: log.With().Str("component", "position_evaluator").Logger(),
		now: time.Now,
	}
}

// Evaluate runs the rule ladder for one open position. First match wins.
func (e *Evaluator) Evaluate(p *Position, view MarketView) Evaluation {
	dte := p.DTE(e.now())
	ev := Evaluation{
		PositionID: p.ID,
		Signal:     SignalHold,
		Priority:   PriorityNormal,
		DTE:        dte,
	}

	entryPremium := perContractPremium(p)

	// Missing quote or unusable entry premium: no capture math, flag and
	// hold.
	if view.Bid == nil || view.Ask == nil || entryPremium <= 0 {
		ev.Reason = "data_missing"
		ev.RiskFlag = true
		return ev
	}

	mid := (*view.Bid + *view.Ask) / 2
	capture := (entryPremium - mid) / entryPremium
	ev.PremiumCapture = &capture

	switch {
	case view.PanicFlag:
		ev.Signal = SignalExitNow
		ev.Reason = "panic_regime_flip"
		ev.Priority = PriorityPanic

	case dte <= e.cfg.DTEHardExit:
		ev.Signal = SignalExitNow
		ev.Reason = "dte_hard_exit"
		if dte <= 3 {
			ev.Priority = PriorityExpiryCritical
		}

	case capture >= e.cfg.PremiumExtensionPct:
		ev.Signal = SignalExitNow
		ev.Reason = "premium_75_target"
		if dte > 3 {
			ev.Priority = PriorityFastCapture
		}

	case view.HitT2:
		ev.Signal = SignalExitNow
		ev.Reason = "structure_T2"

	case dte <= e.cfg.DTESoftExit:
		ev.Signal = SignalRollSuggested
		ev.Reason = "dte_soft_roll"
		ev.Priority = PriorityAdvisory

	case view.HitT1 && capture >= 0.50:
		ev.Signal = SignalTakeProfit
		ev.Reason = "structure_T1_premium_50"
		ev.Priority = PriorityAdvisory

	case capture >= e.cfg.ProfitTargetPct:
		if !view.HitT2 && view.RegimeFavorable {
			ev.Signal = SignalHold
			ev.Reason = "ride_zone_60_regime_ok"
		} else {
			ev.Signal = SignalTakeProfit
			ev.Reason = "premium_60_take_profit"
		}

	default:
		ev.Reason = "no_exit_condition"
	}

	e.log.Debug().
		Str("position_id", p.ID).
		Str("signal", string(ev.Signal)).
		Str("reason", ev.Reason).
		Int("dte", dte).
		Msg("position evaluated")

	return ev
}

// perContractPremium is the collected credit per contract per share.
func perContractPremium(p *Position) float64 {
	if p.Contracts <= 0 {
		return 0
	}
	return p.PremiumCollected / float64(p.Contracts) / 100
}

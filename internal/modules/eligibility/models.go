// Package eligibility decides, per symbol, whether a CSP or CC evaluation
// may proceed. It layers three checks: data dependencies, stage-1 snapshot
// qualification, and the technical eligibility engine. Option chains are
// never consulted here.
package eligibility

import (
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/modules/regime"
)

// DepsStatus is the outcome of the data-dependencies check.
type DepsStatus string

const (
	DepsPass DepsStatus = "PASS"
	DepsWarn DepsStatus = "WARN"
	DepsFail DepsStatus = "FAIL"
)

// DepsReport is the pure result of checking a snapshot against the
// required-fields policy for its instrument type.
type DepsReport struct {
	Status          DepsStatus `json:"status"`
	MissingRequired []string   `json:"missing_required,omitempty"`
	MissingOptional []string   `json:"missing_optional,omitempty"`
	StaleFields     []string   `json:"stale_fields,omitempty"`
}

// Stage1Status is QUALIFIED or BLOCKED; stage-1 has no middle ground.
type Stage1Status string

const (
	Stage1Qualified Stage1Status = "QUALIFIED"
	Stage1Blocked   Stage1Status = "BLOCKED"
)

// Stage1Result carries the stage-1 verdict plus per-field quality detail
// for diagnostics.
type Stage1Result struct {
	Status             Stage1Status      `json:"status"`
	Reason             string            `json:"reason,omitempty"`
	DataQualityDetails map[string]string `json:"data_quality_details"`
	Deps               DepsReport        `json:"data_deps"`
}

// Rejection reason codes, ordered by gate precedence within each mode.
const (
	FailNoCandles              = "FAIL_NO_CANDLES"
	FailNoHoldings             = "FAIL_NO_HOLDINGS"
	FailNotHeldForCC           = "FAIL_NOT_HELD_FOR_CC"
	FailRegimeNotUp            = "FAIL_REGIME_NOT_UP"
	FailRegimeNotDown          = "FAIL_REGIME_NOT_DOWN"
	FailRSIOutOfBand           = "FAIL_RSI_OUT_OF_BAND"
	FailCCRSIOutOfBand         = "FAIL_CC_RSI_OUT_OF_BAND"
	FailATRTooHigh             = "FAIL_ATR_TOO_HIGH"
	FailSupportTooFar          = "FAIL_SUPPORT_TOO_FAR"
	FailResistanceTooFar       = "FAIL_RESISTANCE_TOO_FAR"
	FailIntradayRegimeConflict = "FAIL_INTRADAY_REGIME_CONFLICT"
	FailIntradayDataMissing    = "FAIL_INTRADAY_DATA_MISSING"
)

// Computed is the numeric evidence block attached to every trace so a
// rejection can be audited without rerunning indicators.
type Computed struct {
	Regime              regime.Regime  `json:"regime"`
	RegimeWeekly        regime.Regime  `json:"regime_weekly"`
	RegimeIntraday      *regime.Regime `json:"regime_intraday,omitempty"`
	RSI14               *float64       `json:"rsi14"`
	ATRPct              *float64       `json:"atr_pct"`
	EMA20               *float64       `json:"ema20"`
	EMA50               *float64       `json:"ema50"`
	EMA200              *float64       `json:"ema200"`
	SupportLevel        *float64       `json:"support_level"`
	ResistanceLevel     *float64       `json:"resistance_level"`
	DistToSupportPct    *float64       `json:"distance_to_support_pct"`
	DistToResistancePct *float64       `json:"distance_to_resistance_pct"`
	CandleCount         int            `json:"candle_count"`
}

// Trace is the full audit record of one eligibility decision.
type Trace struct {
	Symbol               string           `json:"symbol"`
	ModeDecision         domain.TradeMode `json:"mode_decision"`
	Computed             Computed         `json:"computed"`
	RejectionReasonCodes []string         `json:"rejection_reason_codes"`
	PrimaryReasonCode    string           `json:"primary_reason_code,omitempty"`
}

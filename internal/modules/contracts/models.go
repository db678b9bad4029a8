// Package contracts implements stage-2: selecting option contracts for the
// mode the eligibility engine chose. It never mixes option types within a
// symbol and cycle.
package contracts

import (
	"github.com/aristath/wheel-trader/internal/domain"
)

// ContractStatus is the layered stage-2 outcome. FAIL means the chain was
// fetched and every contract failed the filters; UNAVAILABLE means stage-2
// did not run or the chain came back empty. The distinction is mandatory
// for diagnostics.
type ContractStatus string

const (
	StatusPass        ContractStatus = "PASS"
	StatusFail        ContractStatus = "FAIL"
	StatusUnavailable ContractStatus = "UNAVAILABLE"

	StatusErrorModeMixedCSP ContractStatus = "ERROR_MODE_MIXED_CSP"
	StatusErrorModeMixedCC  ContractStatus = "ERROR_MODE_MIXED_CC"
)

// LiquidityGrade ranks a selected contract by how many non-blocking
// preferences it met.
type LiquidityGrade string

const (
	GradeA LiquidityGrade = "A"
	GradeB LiquidityGrade = "B"
	GradeC LiquidityGrade = "C"
)

// Rejection cause keys used in telemetry counts.
const (
	RejectMissingFields = "missing_fields"
	RejectDelta         = "delta"
	RejectOI            = "oi"
	RejectSpread        = "spread"
)

// SelectedContract is one accepted candidate. NormalizedDelta follows the
// presentation convention: negative for puts, positive for calls, whatever
// sign the provider reported.
type SelectedContract struct {
	Contract        domain.OptionContract `json:"contract"`
	NormalizedDelta float64               `json:"normalized_delta"`
	AbsDelta        float64               `json:"abs_delta"`
	Grade           LiquidityGrade        `json:"grade"`
	PreferencesMet  int                   `json:"preferences_met"`
}

// ContractData reports whether chain data was obtained at all, and from
// which source.
type ContractData struct {
	Available bool               `json:"available"`
	Source    domain.ChainSource `json:"source"`
}

// ContractEligibility is the stage-2 verdict with a human-readable reason.
type ContractEligibility struct {
	Status ContractStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

// Telemetry captures enough of the selection run to audit a FAIL without
// refetching the chain.
type Telemetry struct {
	Rejections           map[string]int `json:"rejections"`
	RejectionSummary     []string       `json:"rejection_summary,omitempty"`
	ExpirationsAvailable int            `json:"expirations_available"`
	ExpirationsEvaluated int            `json:"expirations_evaluated"`
	CandidatesConsidered int            `json:"candidates_considered"`
	SampleRequestSymbols []string       `json:"sample_request_symbols,omitempty"`
	OptionTypeCounts     map[string]int `json:"option_type_counts"`
	GreeksSummary        string         `json:"greeks_summary,omitempty"`
}

// Stage2Result is the complete stage-2 output for one symbol.
type Stage2Result struct {
	Symbol                string              `json:"symbol"`
	Mode                  domain.TradeMode    `json:"mode"`
	ContractData          ContractData        `json:"contract_data"`
	ContractEligibility   ContractEligibility `json:"contract_eligibility"`
	RequiredFieldsPresent bool                `json:"required_fields_present"`
	Selected              []SelectedContract  `json:"selected_contracts"`
	Telemetry             Telemetry           `json:"telemetry"`
}

// Package artifact persists the canonical per-run decision output. One
// writer per run; readers always see a complete file.
package artifact

import (
	"time"

	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/modules/contracts"
)

// Version is the only artifact version this build reads or writes. The
// health endpoint reports CRITICAL on anything else.
const Version = "v2"

// Metadata describes the run that produced the artifact.
type Metadata struct {
	ArtifactVersion   string             `json:"artifact_version"`
	PipelineTimestamp time.Time          `json:"pipeline_timestamp"`
	MarketPhase       domain.MarketPhase `json:"market_phase"`
	DataSource        string             `json:"data_source"`
	UniverseSize      int                `json:"universe_size"`
	EligibleCount     int                `json:"eligible_count"`
	FreezeHash        string             `json:"freeze_hash"`
	RunMode           string             `json:"run_mode"`
	RunID             string             `json:"run_id"`
	BudgetStopped     bool               `json:"budget_stopped,omitempty"`
	DeadlineExceeded  bool               `json:"deadline_exceeded,omitempty"`
}

// SymbolEvalSummary is one universe row. Band is never empty; D is the
// floor.
type SymbolEvalSummary struct {
	Symbol         string           `json:"symbol"`
	Verdict        domain.Verdict   `json:"verdict"`
	FinalVerdict   domain.Verdict   `json:"final_verdict"`
	Score          *float64         `json:"score"`
	Band           domain.Band      `json:"band"`
	BandReason     string           `json:"band_reason,omitempty"`
	PrimaryReason  string           `json:"primary_reason,omitempty"`
	StageStatus    string           `json:"stage_status"`
	Stage1Status   string           `json:"stage1_status"`
	Stage2Status   string           `json:"stage2_status"`
	ProviderStatus string           `json:"provider_status"`
	EvaluatedAt    time.Time        `json:"evaluated_at"`
	Strategy       domain.TradeMode `json:"strategy"`
	Price          *float64         `json:"price"`
	Expiration     string           `json:"expiration,omitempty"`
	HasCandidates  bool             `json:"has_candidates"`
	CandidateCount int              `json:"candidate_count"`
	Error          string           `json:"error,omitempty"`
}

// Candidate is a fully selected contract proposal surfaced to the UI.
type Candidate struct {
	Symbol            string                     `json:"symbol"`
	Mode              domain.TradeMode           `json:"mode"`
	Contract          contracts.SelectedContract `json:"contract"`
	Score             float64                    `json:"score"`
	Band              domain.Band                `json:"band"`
	AdjustedContracts int                        `json:"adjusted_contracts"`
}

// DecisionArtifact is the v2 output document.
type DecisionArtifact struct {
	Metadata           Metadata            `json:"metadata"`
	Symbols            []SymbolEvalSummary `json:"symbols"`
	SelectedCandidates []Candidate         `json:"selected_candidates"`
}

// BlockerSummary counts non-qualified rows by primary reason.
func BlockerSummary(doc *DecisionArtifact) map[string]int {
	summary := make(map[string]int)
	for _, row := range doc.Symbols {
		if row.Verdict == domain.VerdictQualified || row.PrimaryReason == "" {
			continue
		}
		summary[row.PrimaryReason]++
	}
	return summary
}

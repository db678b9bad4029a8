// Package guardrails scales suggested contract counts down against
// portfolio-level risk. Rules apply multiplicatively in a fixed order, with
// integer floor after each step; the result is never negative and the
// inputs are never mutated.
package guardrails

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
)

// Severity of the combined adjustment.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityAdvisory Severity = "ADVISORY"
)

// PortfolioState is the read-only risk snapshot the rules consume.
type PortfolioState struct {
	ExposurePct      float64 `json:"exposure_pct"`
	MaxSymbolPct     float64 `json:"max_symbol_pct"`
	ClusterRiskLevel string  `json:"cluster_risk_level"` // LOW, MEDIUM, HIGH
	PositionsNearITM int     `json:"positions_near_itm"`
}

// Candidate is the proposal being adjusted.
type Candidate struct {
	Symbol             string           `json:"symbol"`
	Mode               domain.TradeMode `json:"mode"`
	SuggestedContracts int              `json:"suggested_contracts"`
}

// Adjustment is the guardrail output.
type Adjustment struct {
	AdjustedContracts int      `json:"adjusted_contracts"`
	AppliedRules      []string `json:"applied_rules"`
	Advisories        []string `json:"advisories"`
	SeverityOverride  Severity `json:"severity_override,omitempty"`
}

// Engine applies the rule ladder with configured limits.
type Engine struct {
	limits config.PortfolioLimits
	log    zerolog.Logger
}

// NewEngine creates a guardrail engine.
func NewEngine(limits config.PortfolioLimits, log zerolog.Logger) *Engine {
	return &Engine{limits: limits, log: log.With().Str("component", "guardrails").Logger()}
}

// Apply runs the ordered rules over one candidate.
func (e *Engine) Apply(portfolio PortfolioState, candidate Candidate, regimeState domain.RegimeState) Adjustment {
	adj := Adjustment{
		AdjustedContracts: candidate.SuggestedContracts,
		SeverityOverride:  SeverityNone,
	}
	if adj.AdjustedContracts < 0 {
		adj.AdjustedContracts = 0
	}

	scale := func(rule string, factor float64) {
		adj.AdjustedContracts = int(math.Floor(float64(adj.AdjustedContracts) * factor))
		adj.AppliedRules = append(adj.AppliedRules, rule)
	}
	// 1. Portfolio exposure.
	switch {
	case portfolio.ExposurePct >= e.limits.CriticalExposurePct:
		adj.AdjustedContracts = 0
		adj.AppliedRules = append(adj.AppliedRules, "exposure_critical")
		adj.Advisories = append(adj.Advisories,
			fmt.Sprintf("exposure %.0f%% at or above critical %.0f%%",
				portfolio.ExposurePct*100, e.limits.CriticalExposurePct*100))
		adj.SeverityOverride = SeverityAdvisory
	case portfolio.ExposurePct >= e.limits.TargetMaxExposurePct:
		scale("exposure_target", 0.5)
	}

	// 2. Symbol concentration.
	if portfolio.MaxSymbolPct >= e.limits.MaxSymbolConcentrationPct {
		scale("symbol_concentration", 0.75)
		if portfolio.MaxSymbolPct >= e.limits.CriticalSymbolConcentration {
			adj.Advisories = append(adj.Advisories,
				fmt.Sprintf("symbol concentration %.0f%% at or above critical %.0f%%",
					portfolio.MaxSymbolPct*100, e.limits.CriticalSymbolConcentration*100))
			adj.SeverityOverride = SeverityAdvisory
		}
	}

	// 3. Cluster risk.
	if portfolio.ClusterRiskLevel == "HIGH" {
		scale("cluster_risk_high", 0.70)
	}

	// 4. Market regime.
	switch regimeState {
	case domain.RegimeCrash:
		adj.AdjustedContracts = 0
		adj.AppliedRules = append(adj.AppliedRules, "regime_crash")
		adj.Advisories = append(adj.Advisories, "regime CRASH: no new positions")
		adj.SeverityOverride = SeverityAdvisory
	case domain.RegimeDown:
		if candidate.Mode == domain.ModeCSP {
			scale("regime_down_csp", 0.75)
		}
	}

	// 5. Assignment pressure.
	if portfolio.PositionsNearITM >= e.limits.AssignmentPressureThreshold {
		scale("assignment_pressure", 0.60)
	}

	if adj.AdjustedContracts < 0 {
		adj.AdjustedContracts = 0
	}

	if len(adj.AppliedRules) > 0 {
		e.log.Debug().
			Str("symbol", candidate.Symbol).
			Int("suggested", candidate.SuggestedContracts).
			Int("adjusted", adj.AdjustedContracts).
			Strs("rules", adj.AppliedRules).
			Msg("guardrails applied")
	}

	return adj
}

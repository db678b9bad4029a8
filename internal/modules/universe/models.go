// Package universe loads the symbol universe file and applies the cheap
// pre-evaluation quality gates.
package universe

import (
	"github.com/aristath/wheel-trader/internal/domain"
)

// Member is one universe entry from universe.yaml.
type Member struct {
	Symbol         string                `yaml:"symbol" json:"symbol"`
	InstrumentType domain.InstrumentType `yaml:"instrument_type" json:"instrument_type"`
	Holdings       float64               `yaml:"holdings" json:"holdings"`
	GatesDisabled  bool                  `yaml:"gates_disabled" json:"gates_disabled"`
	GateOverrides  *GateThresholds       `yaml:"gate_overrides,omitempty" json:"gate_overrides,omitempty"`
}

// Universe is the parsed universe file.
type Universe struct {
	Symbols  []Member `yaml:"symbols" json:"symbols"`
	Settings Settings `yaml:"settings" json:"settings"`
}

// Settings are universe-wide toggles.
type Settings struct {
	GatesEnabled bool `yaml:"gates_enabled" json:"gates_enabled"`
}

// GateThresholds are the numeric gate limits. A zero value means "use the
// default"; overrides replace only the fields they set.
type GateThresholds struct {
	MinPrice               float64 `yaml:"min_price" json:"min_price"`
	MaxPrice               float64 `yaml:"max_price" json:"max_price"`
	MaxUnderlyingSpreadPct float64 `yaml:"max_underlying_spread_pct" json:"max_underlying_spread_pct"`
	MinAvgStockVolume      float64 `yaml:"min_avg_stock_volume" json:"min_avg_stock_volume"`
	MaxOptionSpreadPct     float64 `yaml:"max_option_spread_pct" json:"max_option_spread_pct"`
	MinOptionOI            int64   `yaml:"min_option_oi" json:"min_option_oi"`
	MinOptionVolume        int64   `yaml:"min_option_volume" json:"min_option_volume"`
}

// merged returns defaults with any non-zero override applied.
func (g GateThresholds) merged(override *GateThresholds) GateThresholds {
	if override == nil {
		return g
	}
	out := g
	if override.MinPrice > 0 {
		out.MinPrice = override.MinPrice
	}
	if override.MaxPrice > 0 {
		out.MaxPrice = override.MaxPrice
	}
	if override.MaxUnderlyingSpreadPct > 0 {
		out.MaxUnderlyingSpreadPct = override.MaxUnderlyingSpreadPct
	}
	if override.MinAvgStockVolume > 0 {
		out.MinAvgStockVolume = override.MinAvgStockVolume
	}
	if override.MaxOptionSpreadPct > 0 {
		out.MaxOptionSpreadPct = override.MaxOptionSpreadPct
	}
	if override.MinOptionOI > 0 {
		out.MinOptionOI = override.MinOptionOI
	}
	if override.MinOptionVolume > 0 {
		out.MinOptionVolume = override.MinOptionVolume
	}
	return out
}

// GateStatus is PASS or SKIP. SKIP symbols never reach the provider-heavy
// stages.
type GateStatus string

const (
	GatePass GateStatus = "PASS"
	GateSkip GateStatus = "SKIP"
)

// GateResult is the gate outcome with the metrics that were inspected.
type GateResult struct {
	Status  GateStatus         `json:"status"`
	Reasons []string           `json:"reasons,omitempty"`
	Metrics map[string]float64 `json:"metrics"`
}

// ChainLiquidity is the optional option-market input to the gates.
type ChainLiquidity struct {
	SpreadPct *float64
	OI        *int64
	Volume    *int64
}

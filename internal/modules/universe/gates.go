package universe

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/modules/eligibility"
	"github.com/aristath/wheel-trader/internal/modules/snapshot"
)

// Gatekeeper runs the quality gates cheapest-first: the first failing gate
// short-circuits.
type Gatekeeper struct {
	defaults GateThresholds
	enabled  bool
	log      zerolog.Logger
}

// DefaultThresholds derives the gate limits from the selection config.
func DefaultThresholds(sel config.SelectionConfig) GateThresholds {
	return GateThresholds{
		MinPrice:               sel.MinPrice,
		MaxPrice:               sel.MaxPrice,
		MaxUnderlyingSpreadPct: sel.MaxSpreadPct,
		MinAvgStockVolume:      500_000,
		MaxOptionSpreadPct:     sel.MaxOptionBidAskPct,
		MinOptionOI:            sel.MinOptionOI,
		MinOptionVolume:        sel.MinOptionVolume,
	}
}

// NewGatekeeper creates the gate runner.
func NewGatekeeper(defaults GateThresholds, enabled bool, log zerolog.Logger) *Gatekeeper {
	return &Gatekeeper{
		defaults: defaults,
		enabled:  enabled,
		log:      log.With().Str("component", "quality_gates").Logger(),
	}
}

// Check runs the gates for one universe member. Disabled gates (globally
// or per symbol) always pass with a reason noting the bypass.
func (g *Gatekeeper) Check(member *Member, snap *snapshot.Snapshot, deps eligibility.DepsReport, chain *ChainLiquidity) GateResult {
	result := GateResult{Status: GatePass, Metrics: map[string]float64{}}

	if !g.enabled || member.GatesDisabled {
		result.Reasons = append(result.Reasons, "gates disabled")
		return result
	}

	limits := g.defaults.merged(member.GateOverrides)

	skip := func(reason string) GateResult {
		result.Status = GateSkip
		result.Reasons = append(result.Reasons, reason)
		g.log.Debug().Str("symbol", member.Symbol).Str("reason", reason).Msg("gate skip")
		return result
	}

	// 1. Data sufficiency.
	if deps.Status == eligibility.DepsFail {
		return skip(fmt.Sprintf("data insufficient: missing %v", deps.MissingRequired))
	}
	if len(deps.StaleFields) > 0 {
		return skip("data stale: quote_date beyond staleness window")
	}

	// 2. Price range.
	price := snap.SpotPrice()
	if price == nil {
		return skip("price missing")
	}
	result.Metrics["price"] = *price
	if *price < limits.MinPrice || *price > limits.MaxPrice {
		return skip(fmt.Sprintf("price %.2f outside [%.2f, %.2f]", *price, limits.MinPrice, limits.MaxPrice))
	}

	// 3. Underlying spread.
	if spread := snap.UnderlyingSpreadPct(); spread != nil {
		result.Metrics["underlying_spread_pct"] = *spread
		if *spread > limits.MaxUnderlyingSpreadPct {
			return skip(fmt.Sprintf("underlying spread %.1f%% above %.1f%%",
				*spread*100, limits.MaxUnderlyingSpreadPct*100))
		}
	}

	// 4. Stock volume.
	if snap.AvgStockVolume20d.IsValid() {
		vol := *snap.AvgStockVolume20d.Value
		result.Metrics["avg_stock_volume_20d"] = vol
		if vol < limits.MinAvgStockVolume {
			return skip(fmt.Sprintf("avg stock volume %.0f below %.0f", vol, limits.MinAvgStockVolume))
		}
	}

	// 5. Chain liquidity, only when supplied.
	if chain != nil {
		if chain.SpreadPct != nil {
			result.Metrics["option_spread_pct"] = *chain.SpreadPct
			if limits.MaxOptionSpreadPct > 0 && *chain.SpreadPct > limits.MaxOptionSpreadPct {
				return skip(fmt.Sprintf("option spread %.1f%% above %.1f%%",
					*chain.SpreadPct*100, limits.MaxOptionSpreadPct*100))
			}
		}
		if chain.OI != nil {
			result.Metrics["option_oi"] = float64(*chain.OI)
			if *chain.OI < limits.MinOptionOI {
				return skip(fmt.Sprintf("option OI %d below %d", *chain.OI, limits.MinOptionOI))
			}
		}
		if chain.Volume != nil {
			result.Metrics["option_volume"] = float64(*chain.Volume)
			if *chain.Volume < limits.MinOptionVolume {
				return skip(fmt.Sprintf("option volume %d below %d", *chain.Volume, limits.MinOptionVolume))
			}
		}
	}

	return result
}

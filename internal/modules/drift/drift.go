// Package drift compares a persisted decision snapshot against live market
// data just before action. It reads both sides and mutates neither.
package drift

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/config"
)

// Kind of drift found.
type Kind string

const (
	ChainUnavailable Kind = "CHAIN_UNAVAILABLE"
	PriceDrift       Kind = "PRICE_DRIFT"
	IVDrift          Kind = "IV_DRIFT"
	SpreadWidened    Kind = "SPREAD_WIDENED"
)

// Severity of a drift item. BLOCK invalidates the candidate.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityBlock Severity = "BLOCK"
)

// Item is one detected drift on one symbol.
type Item struct {
	Symbol   string   `json:"symbol"`
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// Status is the detector output for a candidate set.
type Status struct {
	HasDrift bool   `json:"has_drift"`
	Items    []Item `json:"items"`
}

// SnapshotView is the persisted side of the comparison for one symbol.
type SnapshotView struct {
	Symbol    string
	Price     *float64
	IV        *float64
	SpreadPct *float64
}

// LiveView is the live side for one symbol.
type LiveView struct {
	ChainAvailable bool
	Price          *float64
	IV             *float64
	SpreadPct      *float64
	SpreadOverMid  *float64
}

// Detector applies the drift thresholds.
type Detector struct {
	cfg config.DriftConfig
	log zerolog.Logger
}

// NewDetector creates a drift detector.
func NewDetector(cfg config.DriftConfig, log zerolog.Logger) *Detector {
	return &Detector{cfg: cfg, log: log.With().Str("component", "drift").Logger()}
}

// Check compares every snapshot symbol against its live view. Symbols with
// no live entry are treated as chain-unavailable.
func (d *Detector) Check(snapshots []SnapshotView, live map[string]LiveView) Status {
	var items []Item
	for _, snap := range snapshots {
		items = append(items, d.checkSymbol(snap, live[snap.Symbol])...)
	}

	status := Status{HasDrift: len(items) > 0, Items: items}
	if status.HasDrift {
		d.log.Warn().Int("items", len(items)).Msg("pre-action drift detected")
	}
	return status
}

func (d *Detector) checkSymbol(snap SnapshotView, live LiveView) []Item {
	if !live.ChainAvailable {
		return []Item{{
			Symbol:   snap.Symbol,
			Kind:     ChainUnavailable,
			Severity: SeverityBlock,
			Detail:   "option chain not available in live data",
		}}
	}

	var items []Item

	if snap.Price != nil && live.Price != nil && *snap.Price > 0 {
		rel := math.Abs(*live.Price-*snap.Price) / *snap.Price
		if rel >= d.cfg.PriceDriftWarnPct {
			sev := SeverityInfo
			if rel >= 2*d.cfg.PriceDriftWarnPct {
				sev = SeverityWarn
			}
			items = append(items, Item{
				Symbol:   snap.Symbol,
				Kind:     PriceDrift,
				Severity: sev,
				Detail:   fmt.Sprintf("price moved %.2f%% since snapshot", rel*100),
			})
		}
	}

	if snap.IV != nil && live.IV != nil {
		abs := math.Abs(*live.IV - *snap.IV)
		relOK := *snap.IV != 0 && abs / math.Abs(*snap.IV) >= d.cfg.IVDriftRel
		if abs >= d.cfg.IVDriftAbs || relOK {
			items = append(items, Item{
				Symbol:   snap.Symbol,
				Kind:     IVDrift,
				Severity: SeverityWarn,
				Detail:   fmt.Sprintf("iv moved from %.3f to %.3f", *snap.IV, *live.IV),
			})
		}
	}

	widened := snap.SpreadPct != nil && live.SpreadPct != nil &&
		*live.SpreadPct > d.cfg.SpreadWidenedMult**snap.SpreadPct
	tooWide := live.SpreadOverMid != nil && *live.SpreadOverMid > d.cfg.SpreadMidMax
	if widened || tooWide {
		items = append(items, Item{
			Symbol:   snap.Symbol,
			Kind:     SpreadWidened,
			Severity: SeverityWarn,
			Detail:   "option spread widened beyond tolerance",
		})
	}

	return items
}

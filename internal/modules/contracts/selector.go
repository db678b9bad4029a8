package contracts

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
)

const sampleSymbolLimit = 5

// Selector filters and ranks the base chain in the chosen mode.
type Selector struct {
	cfg config.SelectionConfig
	log zerolog.Logger
}

// NewSelector creates a contract selector.
func NewSelector(cfg config.SelectionConfig, log zerolog.Logger) *Selector {
	return &Selector{cfg: cfg, log: log.With().Str("component", "contracts").Logger()}
}

// Unavailable builds the stage-2 result for a symbol whose chain could not
// be fetched, or where stage-2 never ran.
func Unavailable(symbol string, mode domain.TradeMode, reason string) Stage2Result {
	return Stage2Result{
		Symbol: symbol,
		Mode:   mode,
		ContractData: ContractData{
			Available: false,
			Source:    domain.ChainSourceNone,
		},
		ContractEligibility: ContractEligibility{
			Status: StatusUnavailable,
			Reason: reason,
		},
		Telemetry: Telemetry{
			Rejections:       map[string]int{},
			OptionTypeCounts: map[string]int{},
		},
	}
}

// Select runs the filter ladder over the fetched chain and returns ranked
// candidates. CSP selects puts only, CC calls only; contracts of the other
// type are discarded at intake.
func (s *Selector) Select(symbol string, mode domain.TradeMode, chain []domain.OptionContract, meta domain.ChainMeta) Stage2Result {
	result := Stage2Result{
		Symbol: symbol,
		Mode:   mode,
		ContractData: ContractData{
			Available: len(chain) > 0,
			Source:    meta.Source,
		},
		Telemetry: Telemetry{
			Rejections:           map[string]int{},
			OptionTypeCounts:     map[string]int{},
			ExpirationsAvailable: meta.ExpirationsAvailable,
			ExpirationsEvaluated: meta.ExpirationsEvaluated,
		},
	}

	if len(chain) == 0 {
		result.ContractData.Source = domain.ChainSourceNone
		result.ContractEligibility = ContractEligibility{
			Status: StatusUnavailable,
			Reason: "chain empty",
		}
		return result
	}

	wantType := domain.OptionPut
	if mode == domain.ModeCC {
		wantType = domain.OptionCall
	}

	var candidates []domain.OptionContract
	for _, c := range chain {
		result.Telemetry.OptionTypeCounts[string(c.Type)]++
		if c.Type == wantType {
			candidates = append(candidates, c)
		}
	}

	// A chain carrying only the opposite type means the request itself was
	// for the wrong leg. Never evaluate mixed or inverted requests.
	if len(candidates) == 0 && len(chain) > 0 {
		status := StatusErrorModeMixedCSP
		if mode == domain.ModeCC {
			status = StatusErrorModeMixedCC
		}
		result.ContractEligibility = ContractEligibility{
			Status: status,
			Reason: fmt.Sprintf("no %s contracts in a %s-mode request", wantType, mode),
		}
		s.log.Error().Str("symbol", symbol).Str("mode", string(mode)).Msg("mode-mixed chain request")
		return result
	}

	result.Telemetry.CandidatesConsidered = len(candidates)
	for i, c := range candidates {
		if i >= sampleSymbolLimit {
			break
		}
		result.Telemetry.SampleRequestSymbols = append(result.Telemetry.SampleRequestSymbols, c.OptionSymbol)
	}

	var selected []SelectedContract
	for _, c := range candidates {
		if cause := s.filterCause(c); cause != "" {
			result.Telemetry.Rejections[cause]++
			continue
		}
		selected = append(selected, s.accept(c))
	}

	s.rank(selected, mode)

	result.Selected = selected
	result.RequiredFieldsPresent = len(selected) > 0
	result.Telemetry.RejectionSummary = humanizeRejections(result.Telemetry.Rejections, s.cfg)
	result.Telemetry.GreeksSummary = greeksSummary(selected, mode)

	if len(selected) == 0 {
		result.ContractEligibility = ContractEligibility{
			Status: StatusFail,
			Reason: fmt.Sprintf("%d contracts evaluated, none passed filters", len(candidates)),
		}
		return result
	}

	result.ContractEligibility = ContractEligibility{Status: StatusPass}
	return result
}

// filterCause returns the rejection cause for a contract, or "" when it
// passes. Missing required fields are checked before any threshold.
func (s *Selector) filterCause(c domain.OptionContract) string {
	if c.Strike <= 0 || c.Expiration == "" || c.Bid == nil || c.Ask == nil ||
		c.Greeks.Delta == nil || c.OpenInterest == nil {
		return RejectMissingFields
	}

	absDelta := math.Abs(*c.Greeks.Delta)
	if absDelta < s.cfg.DeltaLo || absDelta > s.cfg.DeltaHi {
		return RejectDelta
	}

	if *c.OpenInterest < s.cfg.MinOI {
		return RejectOI
	}

	spreadPct := c.SpreadPct
	if spreadPct == nil {
		mid := (*c.Bid + *c.Ask) / 2
		if mid <= 0 {
			return RejectSpread
		}
		p := (*c.Ask - *c.Bid) / mid
		spreadPct = &p
	}
	if *spreadPct > s.cfg.MaxSpreadPct {
		return RejectSpread
	}

	return ""
}

// accept wraps a passing contract with its normalized delta and liquidity
// grade. Preferences are the non-blocking bars: tighter spread, deeper OI,
// and traded volume.
func (s *Selector) accept(c domain.OptionContract) SelectedContract {
	absDelta := math.Abs(*c.Greeks.Delta)

	normalized := absDelta
	if c.Type == domain.OptionPut {
		normalized = -absDelta
	}

	prefs := 0
	if c.SpreadPct != nil && s.cfg.MaxOptionBidAskPct > 0 && *c.SpreadPct <= s.cfg.MaxOptionBidAskPct {
		prefs++
	}
	if c.OpenInterest != nil && *c.OpenInterest >= s.cfg.MinOptionOI {
		prefs++
	}
	if c.Volume != nil && *c.Volume >= s.cfg.MinOptionVolume {
		prefs++
	}

	grade := GradeC
	switch prefs {
	case 3:
		grade = GradeA
	case 2:
		grade = GradeB
	}

	return SelectedContract{
		Contract:        c,
		NormalizedDelta: normalized,
		AbsDelta:        absDelta,
		Grade:           grade,
		PreferencesMet:  prefs,
	}
}

// rank orders candidates by closeness of |delta| to the band midpoint, then
// by strike (higher for CSP, lower for CC), then by open interest.
func (s *Selector) rank(selected []SelectedContract, mode domain.TradeMode) {
	mid := (s.cfg.DeltaLo + s.cfg.DeltaHi) / 2

	sort.SliceStable(selected, func(i, j int) bool {
		di := math.Abs(selected[i].AbsDelta - mid)
		dj := math.Abs(selected[j].AbsDelta - mid)
		if di != dj {
			return di < dj
		}

		si, sj := selected[i].Contract.Strike, selected[j].Contract.Strike
		if si != sj {
			if mode == domain.ModeCC {
				return si < sj
			}
			return si > sj
		}

		oi := int64(0)
		if v := selected[i].Contract.OpenInterest; v != nil {
			oi = *v
		}
		oj := int64(0)
		if v := selected[j].Contract.OpenInterest; v != nil {
			oj = *v
		}
		return oi > oj
	})
}

func humanizeRejections(counts map[string]int, cfg config.SelectionConfig) []string {
	var out []string
	if n := counts[RejectMissingFields]; n > 0 {
		out = append(out, fmt.Sprintf("%d rejected: required chain fields missing", n))
	}
	if n := counts[RejectDelta]; n > 0 {
		out = append(out, fmt.Sprintf("%d rejected: |delta| outside %.2f-%.2f", n, cfg.DeltaLo, cfg.DeltaHi))
	}
	if n := counts[RejectOI]; n > 0 {
		out = append(out, fmt.Sprintf("%d rejected: open interest below %d", n, cfg.MinOI))
	}
	if n := counts[RejectSpread]; n > 0 {
		out = append(out, fmt.Sprintf("%d rejected: spread above %.0f%%", n, cfg.MaxSpreadPct*100))
	}
	return out
}

// greeksSummary words the |delta| range per mode, never naming the other
// mode.
func greeksSummary(selected []SelectedContract, mode domain.TradeMode) string {
	if len(selected) == 0 {
		return ""
	}

	lo, hi := selected[0].AbsDelta, selected[0].AbsDelta
	for _, c := range selected[1:] {
		if c.AbsDelta < lo {
			lo = c.AbsDelta
		}
		if c.AbsDelta > hi {
			hi = c.AbsDelta
		}
	}

	return fmt.Sprintf("abs_delta %.2f-%.2f (%s)", lo, hi, mode)
}

// Package scoring turns a symbol's evaluation evidence into component
// scores, a weighted composite, and an A/B/C/D confidence band.
package scoring

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/modules/contracts"
	"github.com/aristath/wheel-trader/internal/modules/eligibility"
	"github.com/aristath/wheel-trader/pkg/formulas"
)

// Breakdown holds the per-component scores, each 0-100. A nil component
// contributes zero to the composite; weights are never renormalized.
type Breakdown struct {
	DataQuality       *float64 `json:"data_quality"`
	Regime            *float64 `json:"regime"`
	OptionsLiquidity  *float64 `json:"options_liquidity"`
	StrategyFit       *float64 `json:"strategy_fit"`
	CapitalEfficiency *float64 `json:"capital_efficiency"`
	Composite         float64  `json:"composite"`
}

// Result is the scored and banded outcome for one symbol.
type Result struct {
	Breakdown  Breakdown   `json:"breakdown"`
	Band       domain.Band `json:"band"`
	BandReason string      `json:"band_reason"`
}

// Input gathers everything the scorer consumes. Selected is the ranked
// stage-2 list; the first entry is the primary candidate.
type Input struct {
	Mode         domain.TradeMode
	RegimeState  domain.RegimeState
	Completeness float64
	LiquidityOK  bool
	Computed     eligibility.Computed
	Selected     []contracts.SelectedContract
	Spot         *float64
	DTEMin       int
	DTEMax       int
}

// Scorer computes breakdowns and bands with fixed config weights.
type Scorer struct {
	cfg config.ScoringConfig
	log zerolog.Logger
}

// NewScorer creates a scorer.
func NewScorer(cfg config.ScoringConfig, log zerolog.Logger) *Scorer {
	return &Scorer{cfg: cfg, log: log.With().Str("component", "scoring").Logger()}
}

// Score computes the component breakdown, composite, and band.
func (s *Scorer) Score(in Input) Result {
	b := Breakdown{
		DataQuality:       fptr(formulas.Clamp(in.Completeness*100, 0, 100)),
		Regime:            s.regimeScore(in),
		OptionsLiquidity:  s.liquidityScore(in.Selected),
		StrategyFit:       s.strategyFitScore(in),
		CapitalEfficiency: s.capitalEfficiencyScore(in),
	}

	w := s.cfg.Weights
	b.Composite = component(b.DataQuality)*w.DataQuality +
		component(b.Regime)*w.Regime +
		component(b.OptionsLiquidity)*w.OptionsLiquidity +
		component(b.StrategyFit)*w.StrategyFit +
		component(b.CapitalEfficiency)*w.CapitalEfficiency

	band, reason := s.band(b.Composite, in)

	return Result{Breakdown: b, Band: band, BandReason: reason}
}

// band applies the tier ladder. D is the floor; the reason always names the
// first precondition that demoted the symbol.
func (s *Scorer) band(score float64, in Input) (domain.Band, string) {
	switch {
	case in.RegimeState == domain.RegimeRiskOn &&
		in.Completeness >= 0.95 &&
		in.LiquidityOK &&
		score >= s.cfg.BandAMin:
		return domain.BandA, fmt.Sprintf("Band A: score %.0f >= %.0f with full preconditions", score, s.cfg.BandAMin)

	case in.Completeness >= 0.90 && score >= s.cfg.BandBMin:
		return domain.BandB, s.demotionReason("B", score, in)

	case in.Completeness >= 0.75 && score >= s.cfg.BandCMin:
		return domain.BandC, s.demotionReason("C", score, in)

	default:
		return domain.BandD, s.demotionReason("D", score, in)
	}
}

// demotionReason names the failing precondition of the next band up.
func (s *Scorer) demotionReason(band string, score float64, in Input) string {
	switch band {
	case "B":
		if in.RegimeState != domain.RegimeRiskOn {
			return fmt.Sprintf("Band B because regime_state %s is not RISK_ON", in.RegimeState)
		}
		if in.Completeness < 0.95 {
			return fmt.Sprintf("Band B because data_completeness %.2f < 0.95", in.Completeness)
		}
		if !in.LiquidityOK {
			return "Band B because options liquidity check failed"
		}
		return fmt.Sprintf("Band B because score %.0f < %.0f", score, s.cfg.BandAMin)
	case "C":
		if in.Completeness < 0.90 {
			return fmt.Sprintf("Band C because data_completeness %.2f < 0.90", in.Completeness)
		}
		return fmt.Sprintf("Band C because score %.0f < %.0f", score, s.cfg.BandBMin)
	default:
		if in.Completeness < 0.75 {
			return fmt.Sprintf("Band D because data_completeness %.2f < 0.75", in.Completeness)
		}
		return fmt.Sprintf("Band D because score %.0f < %.0f", score, s.cfg.BandCMin)
	}
}

// regimeScore favors the trend alignment of the chosen mode: CSP wants the
// daily regime UP, CC wants DOWN. Weekly agreement adds the top tier.
func (s *Scorer) regimeScore(in Input) *float64 {
	daily := in.Computed.Regime
	weekly := in.Computed.RegimeWeekly
	if daily == "" {
		return nil
	}

	var want string
	switch in.Mode {
	case domain.ModeCSP:
		want = "UP"
	case domain.ModeCC:
		want = "DOWN"
	default:
		return fptr(25)
	}

	switch {
	case string(daily) == want && string(weekly) == want:
		return fptr(100)
	case string(daily) == want:
		return fptr(75)
	case daily == "SIDEWAYS":
		return fptr(50)
	default:
		return fptr(25)
	}
}

// liquidityScore maps the primary candidate's grade. No candidate, no
// component.
func (s *Scorer) liquidityScore(selected []contracts.SelectedContract) *float64 {
	if len(selected) == 0 {
		return nil
	}

	switch selected[0].Grade {
	case contracts.GradeA:
		return fptr(100)
	case contracts.GradeB:
		return fptr(75)
	default:
		return fptr(50)
	}
}

// strategyFitScore blends the preference sub-scores of the primary
// candidate with the configured preference weights.
func (s *Scorer) strategyFitScore(in Input) *float64 {
	if len(in.Selected) == 0 {
		return nil
	}
	best := in.Selected[0]
	c := best.Contract
	p := s.cfg.Preference

	total := 0.0
	weights := 0.0
	add := func(weight, score float64) {
		total += weight * score
		weights += weight
	}

	// Premium yield on collateral, saturating at 2%.
	if c.Mid != nil && c.Strike > 0 {
		add(p.Premium, formulas.Clamp(*c.Mid / c.Strike / 0.02 * 100, 0, 100))
	}

	// DTE closeness to the middle of the window.
	if in.DTEMax > in.DTEMin {
		mid := float64(in.DTEMin+in.DTEMax) / 2
		half := float64(in.DTEMax-in.DTEMin) / 2
		add(p.DTE, formulas.Clamp((1-math.Abs(float64(c.DTE)-mid)/half)*100, 0, 100))
	}

	if c.SpreadPct != nil {
		add(p.Spread, formulas.Clamp((1-*c.SpreadPct/0.10)*100, 0, 100))
	}

	// OTM cushion between strike and spot.
	if in.Spot != nil && *in.Spot > 0 {
		otm := math.Abs(*in.Spot-c.Strike) / *in.Spot
		add(p.OTM, formulas.Clamp(otm/0.10*100, 0, 100))
	}

	add(p.Liquidity, float64(best.PreferencesMet)/3*100)

	// Context: closeness of |delta| to the conservative end of the band.
	add(p.Context, formulas.Clamp((1-best.AbsDelta/0.50)*100, 0, 100))

	if in.Mode == domain.ModeCSP {
		add(p.StrategyPreference, 100)
	} else {
		add(p.StrategyPreference, 50)
	}

	if weights == 0 {
		return nil
	}
	v := formulas.Clamp(total/weights, 0, 100)
	return &v
}

// capitalEfficiencyScore annualizes premium over collateral, saturating at
// a 30% annualized return.
func (s *Scorer) capitalEfficiencyScore(in Input) *float64 {
	if len(in.Selected) == 0 {
		return nil
	}
	c := in.Selected[0].Contract
	if c.Mid == nil || c.Strike <= 0 || c.DTE <= 0 {
		return nil
	}

	annualized := (*c.Mid / c.Strike) * (365 / float64(c.DTE))
	v := formulas.Clamp(annualized/0.30*100, 0, 100)
	return &v
}

func component(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func fptr(v float64) *float64 { return &v }

package scoring

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/modules/contracts"
	"github.com/aristath/wheel-trader/internal/modules/eligibility"
)

func scoringCfg() config.ScoringConfig {
	return config.ScoringConfig{
		Weights: config.ComponentWeights{
			DataQuality:       0.20,
			Regime:            0.25,
			OptionsLiquidity:  0.20,
			StrategyFit:       0.25,
			CapitalEfficiency: 0.10,
		},
		Preference: config.PreferenceWeights{
			Premium: 0.25, DTE: 0.15, Spread: 0.15, OTM: 0.15,
			Liquidity: 0.15, Context: 0.10, StrategyPreference: 0.05,
		},
		BandAMin: 75,
		BandBMin: 60,
		BandCMin: 45,
	}
}

func fv(v float64) *float64 { return &v }
func iv(v int64) *int64     { return &v }

func goodCandidate() contracts.SelectedContract {
	return contracts.SelectedContract{
		Contract: domain.OptionContract{
			Strike:       170,
			Type:         domain.OptionPut,
			Bid:          fv(3.30),
			Ask:          fv(3.50),
			Mid:          fv(3.40),
			OpenInterest: iv(900),
			Volume:       iv(200),
			Greeks:       domain.Greeks{Delta: fv(-0.25)},
			SpreadPct:    fv(0.058),
			DTE:          35,
		},
		NormalizedDelta: -0.25,
		AbsDelta:        0.25,
		Grade:           contracts.GradeA,
		PreferencesMet:  3,
	}
}

func goodInput() Input {
	return Input{
		Mode:         domain.ModeCSP,
		RegimeState:  domain.RegimeRiskOn,
		Completeness: 1.0,
		LiquidityOK:  true,
		Computed: eligibility.Computed{
			Regime:       "UP",
			RegimeWeekly: "UP",
		},
		Selected: []contracts.SelectedContract{goodCandidate()},
		Spot:     fv(186.50),
		DTEMin:   21,
		DTEMax:   49,
	}
}

func TestScoreBandA(t *testing.T) {
	s := NewScorer(scoringCfg(), zerolog.Nop())

	r := s.Score(goodInput())

	require.NotNil(t, r.Breakdown.DataQuality)
	assert.Equal(t, 100.0, *r.Breakdown.DataQuality)
	require.NotNil(t, r.Breakdown.Regime)
	assert.Equal(t, 100.0, *r.Breakdown.Regime)
	require.NotNil(t, r.Breakdown.OptionsLiquidity)
	assert.Equal(t, 100.0, *r.Breakdown.OptionsLiquidity)
	assert.GreaterOrEqual(t, r.Breakdown.Composite, 75.0)
	assert.Equal(t, domain.BandA, r.Band)
}

func TestScoreMissingComponentContributesZero(t *testing.T) {
	s := NewScorer(scoringCfg(), zerolog.Nop())

	in := goodInput()
	in.Selected = nil

	r := s.Score(in)

	assert.Nil(t, r.Breakdown.OptionsLiquidity)
	assert.Nil(t, r.Breakdown.StrategyFit)
	assert.Nil(t, r.Breakdown.CapitalEfficiency)
	// Only data_quality (0.20) and regime (0.25) remain; no renormalization.
	assert.InDelta(t, 45.0, r.Breakdown.Composite, 0.001)
}

func TestBandBWhenCompletenessBelowA(t *testing.T) {
	s := NewScorer(scoringCfg(), zerolog.Nop())

	in := goodInput()
	in.Completeness = 0.92

	r := s.Score(in)

	assert.Equal(t, domain.BandB, r.Band)
	assert.Contains(t, r.BandReason, "data_completeness 0.92 < 0.95")
}

func TestBandBWhenRegimeNotRiskOn(t *testing.T) {
	s := NewScorer(scoringCfg(), zerolog.Nop())

	in := goodInput()
	in.RegimeState = domain.RegimeRiskOff

	r := s.Score(in)

	assert.Equal(t, domain.BandB, r.Band)
	assert.Contains(t, r.BandReason, "not RISK_ON")
}

func TestBandCOnLowCompleteness(t *testing.T) {
	s := NewScorer(scoringCfg(), zerolog.Nop())

	in := goodInput()
	in.Completeness = 0.80

	r := s.Score(in)

	assert.Equal(t, domain.BandC, r.Band)
	assert.Contains(t, r.BandReason, "data_completeness 0.80 < 0.90")
}

func TestBandDIsTheFloor(t *testing.T) {
	s := NewScorer(scoringCfg(), zerolog.Nop())

	in := goodInput()
	in.Completeness = 0.40
	in.Selected = nil
	in.Computed.Regime = "DOWN"
	in.Computed.RegimeWeekly = "DOWN"

	r := s.Score(in)

	assert.Equal(t, domain.BandD, r.Band)
	assert.NotEmpty(t, r.BandReason)
}

func TestRegimeScoreModeAware(t *testing.T) {
	s := NewScorer(scoringCfg(), zerolog.Nop())

	in := goodInput()
	in.Mode = domain.ModeCC
	in.Computed.Regime = "DOWN"
	in.Computed.RegimeWeekly = "DOWN"

	r := s.Score(in)

	require.NotNil(t, r.Breakdown.Regime)
	assert.Equal(t, 100.0, *r.Breakdown.Regime)
}

func TestCapitalEfficiencySaturates(t *testing.T) {
	s := NewScorer(scoringCfg(), zerolog.Nop())

	in := goodInput()
	// 3.40/170 over 35 days annualizes to ~20.9%: partial score.
	r := s.Score(in)
	require.NotNil(t, r.Breakdown.CapitalEfficiency)
	assert.InDelta(t, 69.5, *r.Breakdown.CapitalEfficiency, 1.0)

	rich := goodCandidate()
	rich.Contract.Mid = fv(10.0)
	in.Selected = []contracts.SelectedContract{rich}
	r = s.Score(in)
	assert.Equal(t, 100.0, *r.Breakdown.CapitalEfficiency)
}

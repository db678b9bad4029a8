package eligibility

import (
	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/modules/regime"
)

// Engine runs the technical gates that pick CSP, CC, or neither for a
// symbol. It operates on candles and holdings only.
type Engine struct {
	cfg config.EligibilityConfig
	log zerolog.Logger
}

// NewEngine creates the eligibility engine.
func NewEngine(cfg config.EligibilityConfig, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log.With().Str("component", "eligibility").Logger()}
}

// Input is everything the engine may consult for one symbol. Intraday
// candles are supplied by the caller when confirmation is enabled;
// IntradayFetched distinguishes "fetch failed" from "not attempted".
type Input struct {
	Symbol          string
	Candles         []domain.Candle
	Intraday        []domain.Candle
	IntradayFetched bool
	Holdings        float64
}

// Evaluate runs the gate ladder and returns a full audit trace. CSP gates
// take precedence: when both modes pass, the decision is CSP.
func (e *Engine) Evaluate(in Input) Trace {
	trace := Trace{
		Symbol:       in.Symbol,
		ModeDecision: domain.ModeNone,
		Computed:     Computed{CandleCount: len(in.Candles)},
	}

	if len(in.Candles) < e.cfg.MinCandles {
		trace.RejectionReasonCodes = []string{FailNoCandles}
		trace.PrimaryReasonCode = FailNoCandles
		return trace
	}

	analysis := regime.Analyze(in.Candles, regime.DefaultConfig(e.cfg.MaxSRTolPct))
	trace.Computed = computedFrom(analysis, len(in.Candles))

	cspCodes := e.cspGates(analysis)
	ccCodes := e.ccGates(analysis, in.Holdings)

	switch {
	case len(cspCodes) == 0:
		trace.ModeDecision = domain.ModeCSP
	case len(ccCodes) == 0:
		trace.ModeDecision = domain.ModeCC
	default:
		trace.RejectionReasonCodes = append(cspCodes, ccCodes...)
		trace.PrimaryReasonCode = cspCodes[0]
		return trace
	}

	if e.cfg.EnableIntradayConfirmation {
		if code := e.confirmIntraday(&trace, in); code != "" {
			trace.ModeDecision = domain.ModeNone
			trace.RejectionReasonCodes = append(trace.RejectionReasonCodes, code)
			trace.PrimaryReasonCode = code
		}
	}

	e.log.Debug().
		Str("symbol", in.Symbol).
		Str("mode", string(trace.ModeDecision)).
		Str("regime", string(trace.Computed.Regime)).
		Strs("rejections", trace.RejectionReasonCodes).
		Msg("eligibility evaluated")

	return trace
}

// cspGates returns the CSP gate failures in precedence order. A nil metric
// fails the gate that needs it.
func (e *Engine) cspGates(a regime.Analysis) []string {
	var codes []string

	if a.Regime != regime.RegimeUp {
		codes = append(codes, FailRegimeNotUp)
	}
	if a.RSI14 == nil || *a.RSI14 < e.cfg.CSPRSIMin || *a.RSI14 > e.cfg.CSPRSIMax {
		codes = append(codes, FailRSIOutOfBand)
	}
	if a.ATRPct == nil || *a.ATRPct >= e.cfg.MaxATRPct {
		codes = append(codes, FailATRTooHigh)
	}
	if d := a.Levels.DistToSupportPct; d == nil || *d > e.cfg.SupportNearPct {
		codes = append(codes, FailSupportTooFar)
	}

	return codes
}

// ccGates mirrors cspGates for covered calls: the symbol must be held in
// at least one contract's worth of shares, the regime must be DOWN, and
// price must sit near resistance.
func (e *Engine) ccGates(a regime.Analysis, holdings float64) []string {
	var codes []string

	switch {
	case holdings <= 0:
		codes = append(codes, FailNoHoldings)
	case holdings < 100:
		codes = append(codes, FailNotHeldForCC)
	}
	if a.Regime != regime.RegimeDown {
		codes = append(codes, FailRegimeNotDown)
	}
	if a.RSI14 == nil || *a.RSI14 < e.cfg.CCRSIMin || *a.RSI14 > e.cfg.CCRSIMax {
		codes = append(codes, FailCCRSIOutOfBand)
	}
	if a.ATRPct == nil || *a.ATRPct >= e.cfg.MaxATRPct {
		codes = append(codes, FailATRTooHigh)
	}
	if d := a.Levels.DistToResistancePct; d == nil || *d > e.cfg.ResistNearPct {
		codes = append(codes, FailResistanceTooFar)
	}

	return codes
}

// confirmIntraday checks the 4H regime against the chosen mode. Returns the
// failure code, or "" when confirmation passes.
func (e *Engine) confirmIntraday(trace *Trace, in Input) string {
	if !in.IntradayFetched {
		return FailIntradayDataMissing
	}

	r, ok := regime.ClassifyIntraday(in.Intraday, e.cfg.IntradayMinRows)
	if !ok {
		return FailIntradayDataMissing
	}
	trace.Computed.RegimeIntraday = &r

	switch trace.ModeDecision {
	case domain.ModeCSP:
		if r == regime.RegimeDown {
			return FailIntradayRegimeConflict
		}
	case domain.ModeCC:
		if r == regime.RegimeUp {
			return FailIntradayRegimeConflict
		}
	}

	return ""
}

func computedFrom(a regime.Analysis, candleCount int) Computed {
	return Computed{
		Regime:              a.Regime,
		RegimeWeekly:        a.RegimeWeekly,
		RSI14:               a.RSI14,
		ATRPct:              a.ATRPct,
		EMA20:               a.EMA20,
		EMA50:               a.EMA50,
		EMA200:              a.EMA200,
		SupportLevel:        a.Levels.Support,
		ResistanceLevel:     a.Levels.Resistance,
		DistToSupportPct:    a.Levels.DistToSupportPct,
		DistToResistancePct: a.Levels.DistToResistancePct,
		CandleCount:         candleCount,
	}
}

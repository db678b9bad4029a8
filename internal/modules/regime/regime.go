// Package regime classifies trend regime over candle history and locates
// swing-cluster support/resistance levels.
package regime

import (
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/pkg/formulas"
)

// Regime is the trend classification over a timeframe.
type Regime string

const (
	RegimeUp       Regime = "UP"
	RegimeDown     Regime = "DOWN"
	RegimeSideways Regime = "SIDEWAYS"
)

const (
	emaShort  = 20
	emaMedium = 50
	emaLong   = 200

	weeklyEMAShort  = 4
	weeklyEMAMedium = 13
	weeklyEMALong   = 26

	intradayEMAShort  = 9
	intradayEMAMedium = 21
	intradayEMALong   = 50

	slopeLookback = 5
)

// Analysis bundles the indicator values the eligibility engine consumes.
// All pointers are nil on insufficient lookback; there are no fallbacks.
type Analysis struct {
	Regime       Regime   `json:"regime"`
	RegimeWeekly Regime   `json:"regime_weekly"`
	RSI14        *float64 `json:"rsi14"`
	ATR14        *float64 `json:"atr14"`
	ATRPct       *float64 `json:"atr_pct"`
	EMA20        *float64 `json:"ema20"`
	EMA50        *float64 `json:"ema50"`
	EMA200       *float64 `json:"ema200"`
	Slope        *float64 `json:"slope"`
	Levels       Levels   `json:"levels"`
}

// Config holds the S/R clustering knobs.
type Config struct {
	SwingWindow int     // fractal half-window k
	ATRMult     float64 // tolerance = clamp(ATRMult*ATR, PctFloor*spot, MaxPct*spot)
	PctFloor    float64
	MaxPct      float64
}

// DefaultConfig matches the production clustering parameters.
func DefaultConfig(maxSRTolPct float64) Config {
	return Config{SwingWindow: 3, ATRMult: 0.75, PctFloor: 0.005, MaxPct: maxSRTolPct}
}

// Analyze computes indicators, daily and weekly regime, and S/R levels from
// ascending daily candles.
func Analyze(candles []domain.Candle, cfg Config) Analysis {
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	a := Analysis{
		Regime:       RegimeSideways,
		RegimeWeekly: RegimeSideways,
		RSI14:        formulas.CalculateRSI(closes, 14),
		ATR14:        formulas.CalculateATR(highs, lows, closes, 14),
		ATRPct:       formulas.CalculateATRPercent(highs, lows, closes, 14),
		EMA20:        formulas.CalculateEMA(closes, emaShort),
		EMA50:        formulas.CalculateEMA(closes, emaMedium),
		EMA200:       formulas.CalculateEMA(closes, emaLong),
	}

	if r, slope, ok := classify(closes, emaShort, emaMedium, emaLong); ok {
		a.Regime = r
		a.Slope = slope
	}

	if weekly := weeklyCloses(candles); len(weekly) > 0 {
		if r, _, ok := classify(weekly, weeklyEMAShort, weeklyEMAMedium, weeklyEMALong); ok {
			a.RegimeWeekly = r
		}
	}

	if len(closes) > 0 {
		spot := closes[len(closes)-1]
		a.Levels = DetectLevels(candles, spot, a.ATR14, cfg)
	}

	return a
}

// ClassifyIntraday classifies the 4H regime. The second return is false when
// fewer than minRows bars are present.
func ClassifyIntraday(candles []domain.Candle, minRows int) (Regime, bool) {
	if len(candles) < minRows {
		return RegimeSideways, false
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	r, _, ok := classify(closes, intradayEMAShort, intradayEMAMedium, intradayEMALong)
	if !ok {
		return RegimeSideways, false
	}

	return r, true
}

// classify applies the EMA-ordering rule:
//
//	UP:   emaShort > emaMedium > emaLong and slope >= 0
//	DOWN: emaShort < emaMedium < emaLong and slope <= 0
//	SIDEWAYS otherwise
//
// All three EMAs must exist; shorter history cannot establish the ordering
// and classification stays unavailable rather than falling back.
func classify(closes []float64, short, medium, long int) (Regime, *float64, bool) {
	emaS := formulas.CalculateEMASeries(closes, short)
	emaM := formulas.CalculateEMASeries(closes, medium)
	emaL := formulas.CalculateEMA(closes, long)
	if emaS == nil || emaM == nil || emaL == nil {
		return RegimeSideways, nil, false
	}

	slope := formulas.EMASlope(emaS, slopeLookback)
	if slope == nil {
		return RegimeSideways, nil, false
	}

	s := emaS[len(emaS)-1]
	m := emaM[len(emaM)-1]

	up := s > m && m > *emaL && *slope >= 0
	down := s < m && m < *emaL && *slope <= 0

	switch {
	case up:
		return RegimeUp, slope, true
	case down:
		return RegimeDown, slope, true
	default:
		return RegimeSideways, slope, true
	}
}

// weeklyCloses reduces daily candles to one close per ISO week.
func weeklyCloses(candles []domain.Candle) []float64 {
	var closes []float64
	lastWeek := ""
	for _, c := range candles {
		week := isoWeekKey(c.Date)
		if week == "" {
			continue
		}
		if week == lastWeek && len(closes) > 0 {
			closes[len(closes)-1] = c.Close
			continue
		}
		closes = append(closes, c.Close)
		lastWeek = week
	}
	return closes
}

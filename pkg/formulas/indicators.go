package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateRSI calculates the Relative Strength Index.
//
// RSI Formula:
//   RSI = 100 - (100 / (1 + RS))
//   where RS = Average Gain / Average Loss over N periods
//
// Returns the current RSI value (0-100) or nil if insufficient data.
// There is no fallback value on short history.
func CalculateRSI(closes []float64, length int) *float64 {
	if len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)

	if len(rsi) > 0 && !isNaN(rsi[len(rsi)-1]) {
		result := rsi[len(rsi)-1]
		return &result
	}

	return nil
}

// CalculateEMA calculates the exponential moving average over the given
// period and returns the latest value, or nil if insufficient data.
func CalculateEMA(closes []float64, period int) *float64 {
	series := CalculateEMASeries(closes, period)
	if series == nil {
		return nil
	}

	result := series[len(series)-1]
	return &result
}

// CalculateEMASeries returns the full EMA series aligned to closes, or nil
// if the lookback is insufficient. Leading values before the first full
// period are NaN, matching talib conventions.
func CalculateEMASeries(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}

	series := talib.Ema(closes, period)
	if len(series) == 0 || isNaN(series[len(series)-1]) {
		return nil
	}

	return series
}

// CalculateATR calculates the Average True Range (Wilder smoothing) and
// returns the latest value, or nil if insufficient data.
func CalculateATR(highs, lows, closes []float64, period int) *float64 {
	if len(closes) < period+1 || len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}

	atr := talib.Atr(highs, lows, closes, period)

	if len(atr) > 0 && !isNaN(atr[len(atr)-1]) {
		result := atr[len(atr)-1]
		return &result
	}

	return nil
}

// CalculateATRPercent expresses ATR as a fraction of the latest close.
func CalculateATRPercent(highs, lows, closes []float64, period int) *float64 {
	atr := CalculateATR(highs, lows, closes, period)
	if atr == nil || len(closes) == 0 {
		return nil
	}

	last := closes[len(closes)-1]
	if last <= 0 {
		return nil
	}

	result := *atr / last
	return &result
}

// EMASlope returns the sign-carrying slope of the EMA series over the last
// lookback points, or nil when the series is too short.
func EMASlope(emaSeries []float64, lookback int) *float64 {
	if lookback < 1 || len(emaSeries) < lookback+1 {
		return nil
	}

	a := emaSeries[len(emaSeries)-1-lookback]
	b := emaSeries[len(emaSeries)-1]
	if isNaN(a) || isNaN(b) {
		return nil
	}

	result := (b - a) / float64(lookback)
	return &result
}

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}

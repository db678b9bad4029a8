package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateRSIInsufficientData(t *testing.T) {
	// RSI(14) needs at least 15 closes; no fallback below that.
	closes := make([]float64, 14)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	assert.Nil(t, CalculateRSI(closes, 14))
}

func TestCalculateRSIMonotonicRise(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	rsi := CalculateRSI(closes, 14)

	require.NotNil(t, rsi)
	// Uninterrupted gains push RSI to its ceiling.
	assert.Greater(t, *rsi, 90.0)
	assert.LessOrEqual(t, *rsi, 100.0)
}

func TestCalculateEMAInsufficientData(t *testing.T) {
	assert.Nil(t, CalculateEMA([]float64{1, 2, 3}, 20))
}

func TestCalculateATRPercent(t *testing.T) {
	n := 30
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 100
		highs[i] = 101
		lows[i] = 99
	}

	pct := CalculateATRPercent(highs, lows, closes, 14)

	require.NotNil(t, pct)
	// Constant 2-point range on a 100 close is 2% ATR.
	assert.InDelta(t, 0.02, *pct, 1e-6)
}

func TestEMASlope(t *testing.T) {
	series := []float64{10, 11, 12, 13, 14}

	slope := EMASlope(series, 3)

	require.NotNil(t, slope)
	assert.InDelta(t, 1.0, *slope, 1e-9)
	assert.Nil(t, EMASlope(series, 10))
}

func TestCalculateMaxDrawdown(t *testing.T) {
	prices := []float64{100, 120, 90, 110}

	dd := CalculateMaxDrawdown(prices)

	require.NotNil(t, dd)
	assert.InDelta(t, 0.25, *dd, 1e-9)
	assert.Nil(t, CalculateMaxDrawdown([]float64{100}))
}

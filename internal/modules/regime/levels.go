package regime

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/pkg/formulas"
)

// Defensive bounds: swing points further than 30% from spot are discarded
// as data glitches rather than tradable structure.
const (
	swingLowFloorMult = 0.7
	swingHighCeilMult = 1.3
)

// Levels holds the nearest swing-cluster support/resistance around spot.
// Distances are fractions of spot; nil when no cluster sits on that side.
type Levels struct {
	Support             *float64 `json:"support_level"`
	Resistance          *float64 `json:"resistance_level"`
	DistToSupportPct    *float64 `json:"distance_to_support_pct"`
	DistToResistancePct *float64 `json:"distance_to_resistance_pct"`
}

// DetectLevels finds fractal swing highs/lows, clusters them within an
// ATR-derived tolerance, and picks the nearest cluster center on each side
// of spot.
func DetectLevels(candles []domain.Candle, spot float64, atr *float64, cfg Config) Levels {
	if spot <= 0 || len(candles) < 2*cfg.SwingWindow+1 {
		return Levels{}
	}

	var points []float64
	for i := cfg.SwingWindow; i < len(candles)-cfg.SwingWindow; i++ {
		if isSwingHigh(candles, i, cfg.SwingWindow) {
			h := candles[i].High
			if h < spot*swingHighCeilMult {
				points = append(points, h)
			}
		}
		if isSwingLow(candles, i, cfg.SwingWindow) {
			l := candles[i].Low
			if l > spot*swingLowFloorMult {
				points = append(points, l)
			}
		}
	}

	if len(points) == 0 {
		return Levels{}
	}

	tol := cfg.PctFloor * spot
	if atr != nil {
		tol = formulas.Clamp(cfg.ATRMult**atr, cfg.PctFloor*spot, cfg.MaxPct*spot)
	}

	centers := clusterCenters(points, tol)

	var lv Levels
	for _, center := range centers {
		c := center
		if c < spot {
			if lv.Support == nil || c > *lv.Support {
				lv.Support = &c
			}
		} else if c > spot {
			if lv.Resistance == nil || c < *lv.Resistance {
				lv.Resistance = &c
			}
		}
	}

	if lv.Support != nil {
		d := (spot - *lv.Support) / spot
		lv.DistToSupportPct = &d
	}
	if lv.Resistance != nil {
		d := (*lv.Resistance - spot) / spot
		lv.DistToResistancePct = &d
	}

	return lv
}

func isSwingHigh(candles []domain.Candle, i, k int) bool {
	h := candles[i].High
	for j := i - k; j <= i+k; j++ {
		if j == i {
			continue
		}
		if candles[j].High >= h {
			return false
		}
	}
	return true
}

func isSwingLow(candles []domain.Candle, i, k int) bool {
	l := candles[i].Low
	for j := i - k; j <= i+k; j++ {
		if j == i {
			continue
		}
		if candles[j].Low <= l {
			return false
		}
	}
	return true
}

// clusterCenters greedily groups sorted points whose span stays within tol
// and returns each group's mean.
func clusterCenters(points []float64, tol float64) []float64 {
	sort.Float64s(points)

	var centers []float64
	start := 0
	for i := 1; i <= len(points); i++ {
		if i == len(points) || points[i]-points[start] > tol {
			centers = append(centers, formulas.Mean(points[start:i]))
			start = i
		}
	}

	return centers
}

// isoWeekKey maps a YYYY-MM-DD date to its ISO year-week bucket.
func isoWeekKey(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return ""
	}
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-%02d", y, w)
}

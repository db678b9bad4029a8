package universe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/database"
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/modules/eligibility"
	"github.com/aristath/wheel-trader/internal/modules/snapshot"
	"github.com/aristath/wheel-trader/internal/quality"
)

const sampleYAML = `
symbols:
  - symbol: nvda
    instrument_type: EQUITY
    holdings: 0
  - symbol: SPY
    instrument_type: ETF
    holdings: 200
    gate_overrides:
      min_price: 100
  - symbol: XSP
    instrument_type: INDEX
    gates_disabled: true
settings:
  gates_enabled: true
`

func writeUniverse(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "universe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadUniverse(t *testing.T) {
	u, err := Load(writeUniverse(t, sampleYAML))
	require.NoError(t, err)

	require.Len(t, u.Symbols, 3)
	assert.Equal(t, "NVDA", u.Symbols[0].Symbol)
	assert.Equal(t, domain.InstrumentETF, u.Symbols[1].InstrumentType)
	assert.Equal(t, 200.0, u.Symbols[1].Holdings)
	assert.True(t, u.Symbols[2].GatesDisabled)
	assert.True(t, u.Settings.GatesEnabled)

	m, ok := u.Member("spy")
	require.True(t, ok)
	assert.Equal(t, 100.0, m.GateOverrides.MinPrice)
}

func TestLoadRejectsDuplicates(t *testing.T) {
	_, err := Load(writeUniverse(t, "symbols:\n  - symbol: NVDA\n  - symbol: nvda\n"))
	assert.Error(t, err)
}

func TestLoadRejectsEmpty(t *testing.T) {
	_, err := Load(writeUniverse(t, "symbols: []\n"))
	assert.Error(t, err)
}

func gateSnapshot(price float64) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Symbol:            "NVDA",
		InstrumentType:    domain.InstrumentEquity,
		Price:             quality.ValidField(snapshot.FieldPrice, price),
		Bid:               quality.ValidField(snapshot.FieldBid, price-0.10),
		Ask:               quality.ValidField(snapshot.FieldAsk, price+0.10),
		AvgStockVolume20d: quality.ValidField(snapshot.FieldAvgStockVolume, 2_000_000.0),
	}
}

func gatekeeper() *Gatekeeper {
	sel := config.SelectionConfig{
		MinPrice:           10,
		MaxPrice:           800,
		MaxSpreadPct:       0.10,
		MaxOptionBidAskPct: 0.05,
		MinOptionOI:        500,
		MinOptionVolume:    50,
	}
	return NewGatekeeper(DefaultThresholds(sel), true, zerolog.Nop())
}

func passDeps() eligibility.DepsReport {
	return eligibility.DepsReport{Status: eligibility.DepsPass}
}

func TestGatesPass(t *testing.T) {
	g := gatekeeper()

	r := g.Check(&Member{Symbol: "NVDA"}, gateSnapshot(186.50), passDeps(), nil)

	assert.Equal(t, GatePass, r.Status)
	assert.Equal(t, 186.50, r.Metrics["price"])
}

func TestGatesShortCircuitOnDataFail(t *testing.T) {
	g := gatekeeper()

	deps := eligibility.DepsReport{
		Status:          eligibility.DepsFail,
		MissingRequired: []string{"price"},
	}
	r := g.Check(&Member{Symbol: "NVDA"}, gateSnapshot(186.50), deps, nil)

	assert.Equal(t, GateSkip, r.Status)
	require.Len(t, r.Reasons, 1)
	assert.Contains(t, r.Reasons[0], "data insufficient")
	// Short-circuit: price gate never ran.
	assert.NotContains(t, r.Metrics, "price")
}

func TestGatesPriceRange(t *testing.T) {
	g := gatekeeper()

	r := g.Check(&Member{Symbol: "PENNY"}, gateSnapshot(4.20), passDeps(), nil)

	assert.Equal(t, GateSkip, r.Status)
	assert.Contains(t, r.Reasons[0], "price 4.20 outside")
}

func TestGatesPerSymbolOverride(t *testing.T) {
	g := gatekeeper()

	member := &Member{Symbol: "BRK", GateOverrides: &GateThresholds{MaxPrice: 900}}
	r := g.Check(member, gateSnapshot(850), passDeps(), nil)

	assert.Equal(t, GatePass, r.Status)
}

func TestGatesDisabledBypass(t *testing.T) {
	g := gatekeeper()

	r := g.Check(&Member{Symbol: "XSP", GatesDisabled: true}, gateSnapshot(1), passDeps(), nil)

	assert.Equal(t, GatePass, r.Status)
	assert.Contains(t, r.Reasons, "gates disabled")
}

func TestGatesChainLiquidity(t *testing.T) {
	g := gatekeeper()

	oi := int64(100)
	r := g.Check(&Member{Symbol: "NVDA"}, gateSnapshot(186.50), passDeps(), &ChainLiquidity{OI: &oi})

	assert.Equal(t, GateSkip, r.Status)
	assert.Contains(t, r.Reasons[0], "option OI 100 below 500")
}

func TestScoreHistoryRecordAndTrend(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "scores.db"))
	require.NoError(t, err)
	defer db.Close()

	h, err := NewScoreHistory(db, zerolog.Nop())
	require.NoError(t, err)

	base := time.Date(2026, 8, 20, 16, 0, 0, 0, time.UTC)
	for i, score := range []float64{55, 62, 71} {
		s := score
		require.NoError(t, h.Record(ScoreRow{
			RunID:       "run-" + string(rune('a'+i)),
			Symbol:      "NVDA",
			EvaluatedAt: base.Add(time.Duration(i) * 24 * time.Hour),
			Score:       &s,
			Band:        domain.BandB,
			Verdict:     domain.VerdictQualified,
			Mode:        domain.ModeCSP,
		}))
	}

	rows, err := h.Recent("NVDA", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 71.0, *rows[0].Score)

	trend, err := h.Trend("NVDA", 10)
	require.NoError(t, err)
	assert.Equal(t, "IMPROVING", trend)
}

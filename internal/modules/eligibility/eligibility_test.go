package eligibility

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/modules/regime"
	"github.com/aristath/wheel-trader/internal/modules/snapshot"
	"github.com/aristath/wheel-trader/internal/quality"
)

func depsConfig() config.DataDepsConfig {
	return config.DataDepsConfig{
		StalenessTradingDays: 1,
		RequiredEquity:       []string{"price", "iv_rank", "bid", "ask", "volume", "quote_date"},
		RequiredETFIndex:     []string{"price", "iv_rank", "volume", "quote_date"},
		Optional:             []string{"avg_option_volume_20d"},
	}
}

func fullSnapshot(inst domain.InstrumentType) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Symbol:             "NVDA",
		InstrumentType:     inst,
		Price:              quality.ValidField(snapshot.FieldPrice, 186.50),
		Bid:                quality.ValidField(snapshot.FieldBid, 186.40),
		Ask:                quality.ValidField(snapshot.FieldAsk, 186.60),
		Volume:             quality.ValidField(snapshot.FieldVolume, int64(1_000_000)),
		QuoteDate:          quality.ValidField(snapshot.FieldQuoteDate, "2026-08-24"),
		IVRank:             quality.ValidField(snapshot.FieldIVRank, 42.0),
		AvgOptionVolume20d: quality.ValidField(snapshot.FieldAvgOptionVolume, 5500.0),
		AvgStockVolume20d:  quality.ValidField(snapshot.FieldAvgStockVolume, 900_000.0),
	}
}

// 2026-08-25 is a Tuesday; the quote above is from Monday the 24th.
var tuesday = time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)

func TestCheckDataDepsPass(t *testing.T) {
	report := CheckDataDeps(fullSnapshot(domain.InstrumentEquity), depsConfig(), tuesday)

	assert.Equal(t, DepsPass, report.Status)
	assert.Empty(t, report.MissingRequired)
	assert.Empty(t, report.StaleFields)
}

func TestCheckDataDepsMissingRequiredFails(t *testing.T) {
	snap := fullSnapshot(domain.InstrumentEquity)
	snap.Bid = quality.MissingField[float64](snapshot.FieldBid)
	snap.IVRank = quality.MissingField[float64](snapshot.FieldIVRank)

	report := CheckDataDeps(snap, depsConfig(), tuesday)

	assert.Equal(t, DepsFail, report.Status)
	assert.Equal(t, []string{"bid", "iv_rank"}, report.MissingRequired)
}

func TestCheckDataDepsETFRelaxesBidAsk(t *testing.T) {
	snap := fullSnapshot(domain.InstrumentETF)
	snap.Bid = quality.MissingField[float64](snapshot.FieldBid)
	snap.Ask = quality.MissingField[float64](snapshot.FieldAsk)

	report := CheckDataDeps(snap, depsConfig(), tuesday)

	assert.Equal(t, DepsPass, report.Status)
}

func TestCheckDataDepsStaleQuoteWarns(t *testing.T) {
	snap := fullSnapshot(domain.InstrumentEquity)
	// Friday's quote seen on Tuesday is two trading days old.
	snap.QuoteDate = quality.ValidField(snapshot.FieldQuoteDate, "2026-08-21")

	report := CheckDataDeps(snap, depsConfig(), tuesday)

	assert.Equal(t, DepsWarn, report.Status)
	assert.NotEmpty(t, report.StaleFields)
}

func TestCheckDataDepsWeekendDoesNotAge(t *testing.T) {
	snap := fullSnapshot(domain.InstrumentEquity)
	snap.QuoteDate = quality.ValidField(snapshot.FieldQuoteDate, "2026-08-21")

	// Friday's quote is still fresh on Saturday.
	saturday := time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)
	report := CheckDataDeps(snap, depsConfig(), saturday)

	assert.Equal(t, DepsPass, report.Status)
	assert.Empty(t, report.StaleFields)
}

func TestCheckDataDepsOptionalMissingWarns(t *testing.T) {
	snap := fullSnapshot(domain.InstrumentEquity)
	snap.AvgOptionVolume20d = quality.MissingField[float64](snapshot.FieldAvgOptionVolume)

	report := CheckDataDeps(snap, depsConfig(), tuesday)

	assert.Equal(t, DepsWarn, report.Status)
	assert.Equal(t, []string{"avg_option_volume_20d"}, report.MissingOptional)
}

func TestStage1BlocksOnMissingRequired(t *testing.T) {
	snap := fullSnapshot(domain.InstrumentEquity)
	snap.Price = quality.MissingField[float64](snapshot.FieldPrice)

	result := Stage1(snap, depsConfig(), tuesday)

	assert.Equal(t, Stage1Blocked, result.Status)
	assert.Contains(t, result.Reason, "price")
	assert.Equal(t, "MISSING", result.DataQualityDetails["price"])
	assert.Equal(t, "VALID", result.DataQualityDetails["bid"])
}

func TestStage1QualifiedCarriesDetails(t *testing.T) {
	result := Stage1(fullSnapshot(domain.InstrumentEquity), depsConfig(), tuesday)

	require.Equal(t, Stage1Qualified, result.Status)
	assert.Empty(t, result.Reason)
	assert.Len(t, result.DataQualityDetails, 8)
}

func engineConfig() config.EligibilityConfig {
	return config.EligibilityConfig{
		MinCandles:      60,
		MaxATRPct:       0.05,
		CSPRSIMin:       40,
		CSPRSIMax:       65,
		CCRSIMin:        35,
		CCRSIMax:        60,
		SupportNearPct:  0.04,
		ResistNearPct:   0.04,
		MaxSRTolPct:     0.03,
		IntradayMinRows: 30,
	}
}

func TestEvaluateFailsWithoutCandles(t *testing.T) {
	e := NewEngine(engineConfig(), zerolog.Nop())

	trace := e.Evaluate(Input{Symbol: "NVDA", Candles: make([]domain.Candle, 10)})

	assert.Equal(t, domain.ModeNone, trace.ModeDecision)
	assert.Equal(t, FailNoCandles, trace.PrimaryReasonCode)
	assert.Equal(t, []string{FailNoCandles}, trace.RejectionReasonCodes)
}

func fptr(v float64) *float64 { return &v }

func passingCSPAnalysis() regime.Analysis {
	return regime.Analysis{
		Regime: regime.RegimeUp,
		RSI14:  fptr(52),
		ATRPct: fptr(0.02),
		Levels: regime.Levels{DistToSupportPct: fptr(0.02), DistToResistancePct: fptr(0.06)},
	}
}

func TestCSPGatesPassAndFail(t *testing.T) {
	e := NewEngine(engineConfig(), zerolog.Nop())

	assert.Empty(t, e.cspGates(passingCSPAnalysis()))

	a := passingCSPAnalysis()
	a.Regime = regime.RegimeSideways
	a.RSI14 = fptr(72)
	codes := e.cspGates(a)
	assert.Equal(t, []string{FailRegimeNotUp, FailRSIOutOfBand}, codes)

	a = passingCSPAnalysis()
	a.RSI14 = nil
	assert.Contains(t, e.cspGates(a), FailRSIOutOfBand)

	a = passingCSPAnalysis()
	a.Levels.DistToSupportPct = fptr(0.09)
	assert.Equal(t, []string{FailSupportTooFar}, e.cspGates(a))
}

func TestCCGatesRequireHoldings(t *testing.T) {
	e := NewEngine(engineConfig(), zerolog.Nop())

	a := regime.Analysis{
		Regime: regime.RegimeDown,
		RSI14:  fptr(45),
		ATRPct: fptr(0.02),
		Levels: regime.Levels{DistToResistancePct: fptr(0.02)},
	}

	assert.Empty(t, e.ccGates(a, 200))
	assert.Equal(t, []string{FailNoHoldings}, e.ccGates(a, 0))
	assert.Equal(t, []string{FailNotHeldForCC}, e.ccGates(a, 60))
}

func TestEvaluateDowntrendNotHeldRejectsBoth(t *testing.T) {
	e := NewEngine(engineConfig(), zerolog.Nop())

	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, 260)
	for i := range candles {
		c := 300 - 0.5*float64(i)
		candles[i] = domain.Candle{
			Date: start.AddDate(0, 0, i).Format("2006-01-02"),
			Open: c, High: c + 1, Low: c - 1, Close: c,
		}
	}

	trace := e.Evaluate(Input{Symbol: "NVDA", Candles: candles, Holdings: 0})

	assert.Equal(t, domain.ModeNone, trace.ModeDecision)
	assert.Equal(t, FailRegimeNotUp, trace.PrimaryReasonCode)
	assert.Contains(t, trace.RejectionReasonCodes, FailRegimeNotUp)
	assert.Contains(t, trace.RejectionReasonCodes, FailNoHoldings)
	assert.Equal(t, regime.RegimeDown, trace.Computed.Regime)
}

func TestConfirmIntradayMissingData(t *testing.T) {
	cfg := engineConfig()
	cfg.EnableIntradayConfirmation = true
	e := NewEngine(cfg, zerolog.Nop())

	trace := Trace{ModeDecision: domain.ModeCSP}

	code := e.confirmIntraday(&trace, Input{IntradayFetched: false})
	assert.Equal(t, FailIntradayDataMissing, code)

	code = e.confirmIntraday(&trace, Input{IntradayFetched: true, Intraday: make([]domain.Candle, 5)})
	assert.Equal(t, FailIntradayDataMissing, code)
}

func TestConfirmIntradayConflict(t *testing.T) {
	cfg := engineConfig()
	cfg.EnableIntradayConfirmation = true
	e := NewEngine(cfg, zerolog.Nop())

	start := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Candle, 80)
	for i := range bars {
		c := 200 - float64(i)
		bars[i] = domain.Candle{
			Date: start.Add(time.Duration(i) * 4 * time.Hour).Format("2006-01-02"),
			Open: c, High: c + 1, Low: c - 1, Close: c,
		}
	}

	trace := Trace{ModeDecision: domain.ModeCSP}
	code := e.confirmIntraday(&trace, Input{IntradayFetched: true, Intraday: bars})

	assert.Equal(t, FailIntradayRegimeConflict, code)
	require.NotNil(t, trace.Computed.RegimeIntraday)
	assert.Equal(t, regime.RegimeDown, *trace.Computed.RegimeIntraday)
}

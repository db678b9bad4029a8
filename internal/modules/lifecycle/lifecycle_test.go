package lifecycle

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
)

func newCSP(state State) *Position {
	return &Position{
		ID:               "pos-1",
		Symbol:           "NVDA",
		PositionType:     domain.ModeCSP,
		Strike:           170,
		Expiry:           "2026-09-18",
		Contracts:        2,
		PremiumCollected: 680, // 3.40 per share
		EntryDate:        "2026-08-10",
		State:            state,
	}
}

func TestTransitionHappyPath(t *testing.T) {
	m := NewMachine(zerolog.Nop())
	p := newCSP(StateNew)

	steps := []struct {
		action Action
		want   State
	}{
		{ActionAssign, StateAssigned},
		{ActionOpen, StateOpen},
		{ActionHold, StateOpen},
		{ActionRoll, StateRolling},
		{ActionOpen, StateOpen},
		{ActionClose, StateClosing},
		{ActionClose, StateClosed},
	}

	for _, step := range steps {
		require.NoError(t, m.Transition(p, step.action, "test", "test", "corr-1"))
		assert.Equal(t, step.want, p.State)
	}

	require.Len(t, p.History, len(steps))
	assert.Equal(t, StateNew, p.History[0].From)
	assert.Equal(t, StateClosed, p.History[len(steps)-1].To)
}

func TestTransitionClosedIsTerminal(t *testing.T) {
	m := NewMachine(zerolog.Nop())
	p := newCSP(StateClosed)

	err := m.Transition(p, ActionAssign, "", "", "corr-2")

	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, StateClosed, invalid.From)
	assert.Equal(t, "corr-2", invalid.CorrelationID)
	assert.Equal(t, StateClosed, p.State)
	assert.Empty(t, p.History)
}

func TestTransitionForbiddenPair(t *testing.T) {
	m := NewMachine(zerolog.Nop())
	p := newCSP(StateNew)

	err := m.Transition(p, ActionClose, "", "", "corr-3")

	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, StateNew, p.State)
}

func TestNormalizeLegacyState(t *testing.T) {
	s, migrated := NormalizeLegacyState(State("ACTIVE"))
	assert.Equal(t, StateOpen, s)
	assert.True(t, migrated)

	s, migrated = NormalizeLegacyState(StateClosed)
	assert.Equal(t, StateClosed, s)
	assert.False(t, migrated)
}

func TestStoreRoundTripAndLegacyMigration(t *testing.T) {
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	p := newCSP(StateOpen)
	require.NoError(t, store.Save(p))

	loaded, err := store.Load(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, loaded.State)

	legacy := newCSP(State("PENDING_CLOSE"))
	legacy.ID = "pos-legacy"
	require.NoError(t, store.Save(legacy))

	migrated, err := store.Load("pos-legacy")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, migrated.State)
	require.Len(t, migrated.History, 1)
	assert.Equal(t, "legacy state normalized", migrated.History[0].Reason)

	// Second load must not migrate again.
	again, err := store.Load("pos-legacy")
	require.NoError(t, err)
	assert.Len(t, again.History, 1)
}

func TestStoreOpenExcludesClosed(t *testing.T) {
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	open := newCSP(StateOpen)
	open.ID = "pos-open"
	closed := newCSP(StateClosed)
	closed.ID = "pos-closed"
	require.NoError(t, store.Save(open))
	require.NoError(t, store.Save(closed))

	got, err := store.Open()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pos-open", got[0].ID)
}

func TestStoreMaintainsOpenIndex(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, zerolog.Nop())
	require.NoError(t, err)

	open := newCSP(StateOpen)
	open.ID = "pos-open"
	closed := newCSP(StateClosed)
	closed.ID = "pos-closed"
	require.NoError(t, store.Save(open))
	require.NoError(t, store.Save(closed))

	data, err := os.ReadFile(filepath.Join(dir, "positions", "open_positions.json"))
	require.NoError(t, err)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "pos-open", rows[0]["id"])
	assert.Equal(t, "NVDA", rows[0]["symbol"])

	// The index file itself is never listed as a position.
	all, err := store.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func exitCfg() config.ExitConfig {
	return config.ExitConfig{
		DTESoftExit:         14,
		DTEHardExit:         7,
		ProfitTargetPct:     0.60,
		PremiumExtensionPct: 0.75,
		MaxLossMultiplier:   2.0,
	}
}

func evaluatorAt(t *testing.T, now time.Time) *Evaluator {
	t.Helper()
	e := NewEvaluator(exitCfg(), zerolog.Nop())
	e.now = func() time.Time { return now }
	return e
}

func quote(bid, ask float64) MarketView {
	return MarketView{Bid: &bid, Ask: &ask}
}

func TestEvaluatePanicWins(t *testing.T) {
	e := evaluatorAt(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	p := newCSP(StateOpen)

	view := quote(0.10, 0.20) // capture well above 0.75 too
	view.PanicFlag = true

	ev := e.Evaluate(p, view)

	assert.Equal(t, SignalExitNow, ev.Signal)
	assert.Equal(t, "panic_regime_flip", ev.Reason)
	assert.Equal(t, PriorityPanic, ev.Priority)
}

func TestEvaluateHardExitAndExpiryCritical(t *testing.T) {
	// 2026-09-16 is two days before expiry.
	e := evaluatorAt(t, time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC))
	p := newCSP(StateOpen)

	ev := e.Evaluate(p, quote(3.00, 3.20))

	assert.Equal(t, SignalExitNow, ev.Signal)
	assert.Equal(t, "dte_hard_exit", ev.Reason)
	assert.Equal(t, PriorityExpiryCritical, ev.Priority)
}

func TestEvaluatePremiumTarget(t *testing.T) {
	e := evaluatorAt(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	p := newCSP(StateOpen)

	// mid 0.50 against 3.40 entry: capture ~0.85.
	ev := e.Evaluate(p, quote(0.45, 0.55))

	assert.Equal(t, SignalExitNow, ev.Signal)
	assert.Equal(t, "premium_75_target", ev.Reason)
	assert.Equal(t, PriorityFastCapture, ev.Priority)
	require.NotNil(t, ev.PremiumCapture)
	assert.InDelta(t, 0.853, *ev.PremiumCapture, 0.01)
}

func TestEvaluateSoftRollAdvisory(t *testing.T) {
	// 12 days to expiry, low capture.
	e := evaluatorAt(t, time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC))
	p := newCSP(StateOpen)

	ev := e.Evaluate(p, quote(3.00, 3.20))

	assert.Equal(t, SignalRollSuggested, ev.Signal)
	assert.Equal(t, "dte_soft_roll", ev.Reason)
	assert.Equal(t, PriorityAdvisory, ev.Priority)
}

func TestEvaluateRideZoneVersusTakeProfit(t *testing.T) {
	e := evaluatorAt(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	p := newCSP(StateOpen)

	// capture ~0.65, between target and extension.
	view := quote(1.10, 1.30)
	view.RegimeFavorable = true
	ev := e.Evaluate(p, view)
	assert.Equal(t, SignalHold, ev.Signal)
	assert.Equal(t, "ride_zone_60_regime_ok", ev.Reason)

	view.RegimeFavorable = false
	ev = e.Evaluate(p, view)
	assert.Equal(t, SignalTakeProfit, ev.Signal)
	assert.Equal(t, "premium_60_take_profit", ev.Reason)
}

func TestEvaluateStructureTargets(t *testing.T) {
	e := evaluatorAt(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	p := newCSP(StateOpen)

	view := quote(2.90, 3.10) // low capture
	view.HitT2 = true
	ev := e.Evaluate(p, view)
	assert.Equal(t, SignalExitNow, ev.Signal)
	assert.Equal(t, "structure_T2", ev.Reason)

	// T1 with capture >= 0.50.
	view = quote(1.50, 1.70)
	view.HitT1 = true
	ev = e.Evaluate(p, view)
	assert.Equal(t, SignalTakeProfit, ev.Signal)
	assert.Equal(t, "structure_T1_premium_50", ev.Reason)
}

func TestEvaluateDataMissingHolds(t *testing.T) {
	e := evaluatorAt(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	p := newCSP(StateOpen)

	ev := e.Evaluate(p, MarketView{})

	assert.Equal(t, SignalHold, ev.Signal)
	assert.Equal(t, "data_missing", ev.Reason)
	assert.True(t, ev.RiskFlag)
	assert.Nil(t, ev.PremiumCapture)

	// Zero entry premium behaves the same even with a live quote.
	p.PremiumCollected = 0
	ev = e.Evaluate(p, quote(1.00, 1.10))
	assert.Equal(t, "data_missing", ev.Reason)
	assert.True(t, ev.RiskFlag)
}

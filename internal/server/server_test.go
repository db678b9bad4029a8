package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/events"
	"github.com/aristath/wheel-trader/internal/modules/artifact"
	"github.com/aristath/wheel-trader/internal/modules/ledger"
	"github.com/aristath/wheel-trader/internal/modules/lifecycle"
	"github.com/aristath/wheel-trader/internal/pipeline"
	"github.com/aristath/wheel-trader/internal/scheduler"
)

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, phase domain.MarketPhase) (*pipeline.RunResult, error) {
	return &pipeline.RunResult{RunID: "noop", SymbolsEvaluated: 1}, nil
}

type noQuotes struct{}

func (noQuotes) GetDelayedQuote(ctx context.Context, symbol string) (domain.EquityQuote, error) {
	return domain.EquityQuote{}, os.ErrNotExist
}

func (noQuotes) GetChain(ctx context.Context, symbol, expiration string) ([]domain.OptionContract, error) {
	return nil, os.ErrNotExist
}

func newTestServer(t *testing.T) (*Server, *artifact.Store, *events.Manager) {
	t.Helper()
	log := zerolog.Nop()
	dir := t.TempDir()

	universeYAML := "settings:\n  gates_enabled: true\nsymbols:\n  - symbol: AAPL\n"
	universePath := filepath.Join(dir, "universe.yaml")
	require.NoError(t, os.WriteFile(universePath, []byte(universeYAML), 0o644))

	cfg := &config.Config{
		Port:               0,
		DataDir:            dir,
		UniverseFile:       universePath,
		RunMode:            config.RunModeDryRun,
		EvalCadenceMinutes: 30,
		RunRetention:       3,
	}

	store, err := artifact.NewStore(dir, 3, log)
	require.NoError(t, err)
	positions, err := lifecycle.NewStore(dir, log)
	require.NoError(t, err)

	mgr := events.NewManager(log, 20)
	hours := scheduler.NewMarketHoursService(log)
	evalJob := scheduler.NewEvaluationJob(noopRunner{}, hours, mgr, 5*time.Minute, log)
	posJob := scheduler.NewPositionCheckJob(
		positions, lifecycle.NewEvaluator(cfg.Exits, log), noQuotes{}, hours, mgr, dir, log)

	srv := New(Options{
		Config:    cfg,
		Store:     store,
		Positions: positions,
		Ledger:    ledger.New(dir, log),
		Events:    mgr,
		Hours:     hours,
		EvalJob:   evalJob,
		PosJob:    posJob,
		Log:       log,
	})
	return srv, store, mgr
}

func get(t *testing.T, srv *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func sampleArtifact(version, dataSource string) *artifact.DecisionArtifact {
	score := 72.5
	return &artifact.DecisionArtifact{
		Metadata: artifact.Metadata{
			ArtifactVersion:   version,
			PipelineTimestamp: time.Date(2026, 8, 25, 13, 0, 0, 0, time.UTC),
			MarketPhase:       domain.PhaseMid,
			DataSource:        dataSource,
			UniverseSize:      1,
			RunID:             "run-1",
		},
		Symbols: []artifact.SymbolEvalSummary{{
			Symbol:        "AAPL",
			Verdict:       domain.VerdictHold,
			Score:         &score,
			Band:          domain.BandB,
			PrimaryReason: "regime_not_up",
			StageStatus:   "COMPLETE",
			Strategy:      domain.ModeNone,
			EvaluatedAt:   time.Date(2026, 8, 25, 13, 0, 0, 0, time.UTC),
		}},
		SelectedCandidates: []artifact.Candidate{},
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestDecisionLatestBeforeFirstRun(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := get(t, srv, "/api/ui/decision/latest")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NO_ARTIFACT", body["status"])
}

func TestDecisionLatestServesArtifact(t *testing.T) {
	srv, store, _ := newTestServer(t)
	require.NoError(t, store.SetLatest(sampleArtifact("", "tradier")))

	rec, body := get(t, srv, "/api/ui/decision/latest")
	assert.Equal(t, http.StatusOK, rec.Code)
	meta := body["metadata"].(map[string]interface{})
	assert.Equal(t, "v2", meta["artifact_version"])
}

func TestDecisionLatestRejectsMockDataInLiveMode(t *testing.T) {
	srv, store, _ := newTestServer(t)
	require.NoError(t, store.SetLatest(sampleArtifact("", "mock")))

	rec, body := get(t, srv, "/api/ui/decision/latest?mode=LIVE")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "mock")

	rec, _ = get(t, srv, "/api/ui/decision/latest?mode=MOCK")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUniverseBandNeverEmpty(t *testing.T) {
	srv, store, _ := newTestServer(t)
	doc := sampleArtifact("", "tradier")
	doc.Symbols[0].Band = ""
	require.NoError(t, store.SetLatest(doc))

	rec, body := get(t, srv, "/api/ui/universe")
	assert.Equal(t, http.StatusOK, rec.Code)
	symbols := body["symbols"].([]interface{})
	require.Len(t, symbols, 1)
	assert.Equal(t, "D", symbols[0].(map[string]interface{})["band"])
	assert.Nil(t, body["error"])
}

func TestSymbolDiagnosticsUnknownSymbol(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := get(t, srv, "/api/ui/symbol-diagnostics?symbol=ZZZZ")
	assert.Equal(t, http.StatusOK, rec.Code, "unknown symbols are never errors")
	assert.Equal(t, "OUT_OF_SCOPE", body["status"])

	blockers := body["blockers"].([]interface{})
	require.Len(t, blockers, 1)
	assert.Equal(t, "NOT_IN_UNIVERSE", blockers[0].(map[string]interface{})["code"])
}

func TestSymbolDiagnosticsKnownSymbol(t *testing.T) {
	srv, store, _ := newTestServer(t)
	require.NoError(t, store.SetLatest(sampleArtifact("", "tradier")))

	rec, body := get(t, srv, "/api/ui/symbol-diagnostics?symbol=aapl")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HOLD", body["status"])

	blockers := body["blockers"].([]interface{})
	require.Len(t, blockers, 1)
	assert.Equal(t, "regime_not_up", blockers[0].(map[string]interface{})["code"])
}

func TestMarketStatusShape(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := get(t, srv, "/api/market-status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "market_phase")
	assert.Contains(t, body, "skip_reason")
	assert.Equal(t, false, body["evaluation_attempted"])
}

func TestOpsEvaluateAcceptsThenCoolsDown(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/ops/evaluate", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["accepted"])
	assert.NotEmpty(t, body["job_id"])

	req = httptest.NewRequest(http.MethodPost, "/api/ops/evaluate", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["accepted"])
}

func TestOpsJobStateUnknownIsNotFoundWith200(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := get(t, srv, "/api/ops/evaluate/no-such-job")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not_found", body["state"])
}

func TestSystemHealthVersions(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec, body := get(t, srv, "/api/system/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DEGRADED", body["status"])

	require.NoError(t, store.SetLatest(sampleArtifact("", "tradier")))
	_, body = get(t, srv, "/api/system/health")
	assert.Equal(t, "OK", body["status"])

	require.NoError(t, store.SetLatest(sampleArtifact("v1", "tradier")))
	_, body = get(t, srv, "/api/system/health")
	assert.Equal(t, "CRITICAL", body["status"])
}

func TestLedgerEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec, body := get(t, srv, "/api/ledger")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["entries"])

	require.NoError(t, srv.ledger.Append(ledger.Entry{
		Date: "2026-08-03", PositionID: "p1", EventType: ledger.EventOpen, CashDelta: 250,
	}))
	require.NoError(t, srv.ledger.Append(ledger.Entry{
		Date: "2026-08-14", PositionID: "p1", EventType: ledger.EventClose, CashDelta: 180,
	}))

	rec, body = get(t, srv, "/api/ledger")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["entries"], 2)

	rec, body = get(t, srv, "/api/ledger/summary?year=2026&month=8")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 250.0, body["total_credit_collected"])
	assert.Equal(t, 180.0, body["realized_pnl"])

	rec, _ = get(t, srv, "/api/ledger/summary?month=13")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystemEventsTail(t *testing.T) {
	srv, _, mgr := newTestServer(t)
	mgr.Emit(events.RunStarted, "test", map[string]interface{}{"run_id": "r1"})

	rec, body := get(t, srv, "/api/system/events")
	assert.Equal(t, http.StatusOK, rec.Code)
	evs := body["events"].([]interface{})
	require.NotEmpty(t, evs)
	assert.Equal(t, "RUN_STARTED", evs[0].(map[string]interface{})["type"])
}

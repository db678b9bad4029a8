package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/modules/artifact"
	"github.com/aristath/wheel-trader/internal/modules/ledger"
	"github.com/aristath/wheel-trader/internal/modules/lifecycle"
	"github.com/aristath/wheel-trader/internal/modules/universe"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "wheel-trader",
	})
}

// handleDecisionLatest serves the current artifact. A LIVE caller is never
// handed mock or scenario data.
func (s *Server) handleDecisionLatest(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetLatest()
	if errors.Is(err, os.ErrNotExist) {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "NO_ARTIFACT"})
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	mode := strings.ToUpper(r.URL.Query().Get("mode"))
	if mode == string(config.RunModeLive) {
		source := strings.ToLower(doc.Metadata.DataSource)
		if source == "mock" || source == "scenario" {
			s.writeError(w, http.StatusBadRequest, "artifact data_source "+source+" is not servable in LIVE mode")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, doc)
}

type universeRow struct {
	Symbol        string           `json:"symbol"`
	Verdict       domain.Verdict   `json:"verdict"`
	Score         *float64         `json:"score"`
	Band          domain.Band      `json:"band"`
	BandReason    string           `json:"band_reason,omitempty"`
	PrimaryReason string           `json:"primary_reason,omitempty"`
	Strategy      domain.TradeMode `json:"strategy"`
	HasCandidates bool             `json:"has_candidates"`
}

func (s *Server) handleUniverse(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetLatest()
	if errors.Is(err, os.ErrNotExist) {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbols": []universeRow{}, "updated_at": nil, "error": nil,
		})
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rows := make([]universeRow, 0, len(doc.Symbols))
	for _, row := range doc.Symbols {
		band := row.Band
		if band == "" {
			band = domain.BandD
		}
		rows = append(rows, universeRow{
			Symbol:        row.Symbol,
			Verdict:       row.Verdict,
			Score:         row.Score,
			Band:          band,
			BandReason:    row.BandReason,
			PrimaryReason: row.PrimaryReason,
			Strategy:      row.Strategy,
			HasCandidates: row.HasCandidates,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbols":    rows,
		"updated_at": doc.Metadata.PipelineTimestamp,
		"error":      nil,
	})
}

type blocker struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// handleSymbolDiagnostics answers 200 for every input. Unknown symbols are
// out of scope, not errors.
func (s *Server) handleSymbolDiagnostics(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "OUT_OF_SCOPE",
			"blockers": []blocker{{Code: "NOT_IN_UNIVERSE", Detail: "no symbol supplied"}},
		})
		return
	}

	uni, err := universe.Load(s.cfg.UniverseFile)
	if err != nil {
		s.log.Error().Err(err).Msg("universe load failed for diagnostics")
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbol":   symbol,
			"status":   "OUT_OF_SCOPE",
			"blockers": []blocker{{Code: "NOT_IN_UNIVERSE", Detail: "universe unavailable"}},
		})
		return
	}

	member, ok := uni.Member(symbol)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbol":   symbol,
			"status":   "OUT_OF_SCOPE",
			"blockers": []blocker{{Code: "NOT_IN_UNIVERSE"}},
		})
		return
	}

	resp := map[string]interface{}{
		"symbol":          symbol,
		"instrument_type": member.InstrumentType,
		"status":          "NOT_EVALUATED",
		"blockers":        []blocker{},
	}

	if row, found := s.latestRow(symbol); found {
		resp["status"] = string(row.Verdict)
		resp["row"] = row
		var blockers []blocker
		if row.PrimaryReason != "" && row.Verdict != domain.VerdictQualified {
			blockers = append(blockers, blocker{Code: row.PrimaryReason})
		}
		if blockers == nil {
			blockers = []blocker{}
		}
		resp["blockers"] = blockers
	}

	if s.history != nil {
		if trend, terr := s.history.Trend(symbol, 5); terr == nil {
			resp["score_trend"] = trend
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	open, err := s.positions.Open()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if open == nil {
		open = []*lifecycle.Position{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"positions": open})
}

func (s *Server) handleLedgerEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Entries()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// handleLedgerSummary aggregates one calendar month, defaulting to the
// current one.
func (s *Server) handleLedgerSummary(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	year, month := now.Year(), int(now.Month())

	if raw := r.URL.Query().Get("year"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		year = n
	}
	if raw := r.URL.Query().Get("month"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 12 {
			s.writeError(w, http.StatusBadRequest, "invalid month")
			return
		}
		month = n
	}

	summary, err := s.ledger.Summarize(year, month)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	state := s.evalJob.State()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"market_phase":         s.hours.Phase(now),
		"market":               s.hours.Status(now),
		"last_market_check":    now.UTC(),
		"last_evaluated_at":    state.LastFinished,
		"evaluation_attempted": state.LastStarted != nil,
		"evaluation_emitted":   state.LastFinished != nil && state.LastError == "",
		"skip_reason":          state.LastSkipReason,
	})
}

func (s *Server) handleOpsStatus(w http.ResponseWriter, r *http.Request) {
	state := s.evalJob.State()

	var nextRun *time.Time
	if state.LastStarted != nil {
		n := state.LastStarted.Add(time.Duration(s.cfg.EvalCadenceMinutes) * time.Minute)
		nextRun = &n
	}

	resp := map[string]interface{}{
		"last_run_at":       state.LastFinished,
		"next_run_at":       nextRun,
		"cadence_minutes":   s.cfg.EvalCadenceMinutes,
		"last_run_reason":   state.LastSkipReason,
		"last_run_error":    state.LastError,
		"running":           state.Running,
		"position_check":    s.posJob.State(),
		"symbols_evaluated": 0,
		"trades_found":      0,
		"blockers_summary":  map[string]int{},
	}

	if result := s.evalJob.LastResult(); result != nil {
		resp["symbols_evaluated"] = result.SymbolsEvaluated
		resp["trades_found"] = result.CandidatesFound
	}
	if doc, err := s.store.GetLatest(); err == nil {
		resp["blockers_summary"] = artifact.BlockerSummary(doc)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpsEvaluate(w http.ResponseWriter, r *http.Request) {
	accepted, jobID, remaining := s.evalJob.TriggerManual()
	if !accepted {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"accepted":                   false,
			"cooldown_seconds_remaining": remaining,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": true,
		"job_id":   jobID,
	})
}

func (s *Server) handleOpsJobState(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"state":  s.evalJob.ManualJobState(jobID),
	})
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetLatest()
	if errors.Is(err, os.ErrNotExist) {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "NO_RUNS"})
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"metadata":         doc.Metadata,
		"symbol_count":     len(doc.Symbols),
		"candidate_count":  len(doc.SelectedCandidates),
		"blockers_summary": artifact.BlockerSummary(doc),
	})
}

func (s *Server) handleEvalSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	resp := map[string]interface{}{"symbol": symbol}
	if row, found := s.latestRow(symbol); found {
		resp["row"] = row
	} else {
		resp["status"] = "NOT_EVALUATED"
	}

	if s.history != nil {
		if recent, err := s.history.Recent(symbol, 10); err == nil {
			resp["history"] = recent
		}
		if trend, err := s.history.Trend(symbol, 5); err == nil {
			resp["score_trend"] = trend
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	status := "OK"
	detail := ""

	doc, err := s.store.GetLatest()
	switch {
	case errors.Is(err, os.ErrNotExist):
		status = "DEGRADED"
		detail = "no artifact written yet"
	case err != nil:
		status = "CRITICAL"
		detail = err.Error()
	case doc.Metadata.ArtifactVersion != artifact.Version:
		status = "CRITICAL"
		detail = "artifact version " + doc.Metadata.ArtifactVersion + " is not " + artifact.Version
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"detail":           detail,
		"run_mode":         s.cfg.RunMode,
		"artifact_version": artifact.Version,
	})
}

func (s *Server) handleSystemEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.events.Recent(limit),
	})
}

func (s *Server) latestRow(symbol string) (artifact.SymbolEvalSummary, bool) {
	doc, err := s.store.GetLatest()
	if err != nil {
		return artifact.SymbolEvalSummary{}, false
	}
	for _, row := range doc.Symbols {
		if row.Symbol == symbol {
			return row, true
		}
	}
	return artifact.SymbolEvalSummary{}, false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

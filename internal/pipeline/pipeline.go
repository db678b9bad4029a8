// Package pipeline orchestrates one evaluation run: snapshots, stage-1,
// eligibility, stage-2, scoring, guardrails, and the decision artifact.
// Per-symbol failures land in that symbol's row and never fail the run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/wheel-trader/internal/clients/tradier"
	"github.com/aristath/wheel-trader/internal/config"
	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/events"
	"github.com/aristath/wheel-trader/internal/modules/artifact"
	"github.com/aristath/wheel-trader/internal/modules/contracts"
	"github.com/aristath/wheel-trader/internal/modules/drift"
	"github.com/aristath/wheel-trader/internal/modules/eligibility"
	"github.com/aristath/wheel-trader/internal/modules/freeze"
	"github.com/aristath/wheel-trader/internal/modules/guardrails"
	"github.com/aristath/wheel-trader/internal/modules/lifecycle"
	"github.com/aristath/wheel-trader/internal/modules/regime"
	"github.com/aristath/wheel-trader/internal/modules/scoring"
	"github.com/aristath/wheel-trader/internal/modules/snapshot"
	"github.com/aristath/wheel-trader/internal/modules/universe"
)

const (
	dailyLookback   = 260
	benchmarkSymbol = "SPY"
)

// MarketProvider is the provider surface the pipeline needs.
type MarketProvider interface {
	snapshot.MarketData
	GetIntradayHistory(ctx context.Context, symbol string) ([]domain.Candle, error)
	FetchBaseChain(ctx context.Context, symbol string, dteMin, dteMax int, mode domain.TradeMode) tradier.ChainResult
	GetLiveQuotes(ctx context.Context, symbols []string) (map[string]domain.EquityQuote, error)
	SetBudget(b *tradier.Budget)
}

// Pipeline wires the evaluation stages together.
type Pipeline struct {
	cfg       *config.Config
	provider  MarketProvider
	snapshots *snapshot.Service
	engine    *eligibility.Engine
	selector  *contracts.Selector
	scorer    *scoring.Scorer
	rails     *guardrails.Engine
	drifts    *drift.Detector
	store     *artifact.Store
	history   *universe.ScoreHistory
	positions *lifecycle.Store
	events    *events.Manager
	log       zerolog.Logger
	now       func() time.Time
}

// Options carries the collaborators for New. History and Positions may be
// nil; without a position store guardrails see an empty book.
type Options struct {
	Config    *config.Config
	Provider  MarketProvider
	Store     *artifact.Store
	History   *universe.ScoreHistory
	Positions *lifecycle.Store
	Events    *events.Manager
	Log       zerolog.Logger
}

// New builds a pipeline and its stage components.
func New(opts Options) *Pipeline {
	log := opts.Log
	return &Pipeline{
		cfg:       opts.Config,
		provider:  opts.Provider,
		snapshots: snapshot.NewService(opts.Provider, log),
		engine:    eligibility.NewEngine(opts.Config.Eligibility, log),
		selector:  contracts.NewSelector(opts.Config.Selection, log),
		scorer:    scoring.NewScorer(opts.Config.Scoring, log),
		rails:     guardrails.NewEngine(opts.Config.Portfolio, log),
		drifts:    drift.NewDetector(opts.Config.Drift, log),
		store:     opts.Store,
		history:   opts.History,
		positions: opts.Positions,
		events:    opts.Events,
		log:       log.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
	}
}

// RunResult summarizes a completed run.
type RunResult struct {
	RunID            string
	SymbolsEvaluated int
	CandidatesFound  int
	BudgetStopped    bool
	DeadlineExceeded bool
}

// Run executes one evaluation cycle. An explicit cancellation of ctx
// aborts without writing an artifact; hitting the run deadline aggregates
// partial results and still writes one.
func (p *Pipeline) Run(ctx context.Context, marketPhase domain.MarketPhase) (*RunResult, error) {
	uni, err := universe.Load(p.cfg.UniverseFile)
	if err != nil {
		return nil, err
	}

	freezeHash, err := freeze.Hash(p.cfg.Critical())
	if err != nil {
		return nil, fmt.Errorf("hash critical config: %w", err)
	}

	runID := uuid.NewString()
	startedAt := artifact.NewRunTimestamp(p.now())

	budget := tradier.NewBudget(p.cfg.HTTPBudget)
	p.provider.SetBudget(budget)

	deadline := time.Duration(p.cfg.RunDeadlineSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	p.events.Emit(events.RunStarted, "pipeline", map[string]interface{}{
		"run_id":        runID,
		"universe_size": len(uni.Symbols),
	})

	regimeState := p.marketRegime(runCtx)
	portfolio := p.portfolioState(runCtx)

	gates := universe.NewGatekeeper(
		universe.DefaultThresholds(p.cfg.Selection), uni.Settings.GatesEnabled, p.log)

	workers := p.cfg.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	rows := make([]artifact.SymbolEvalSummary, len(uni.Symbols))
	candidates := make([]*artifact.Candidate, len(uni.Symbols))

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(workers)
	for i := range uni.Symbols {
		i := i
		member := &uni.Symbols[i]
		g.Go(func() error {
			rows[i], candidates[i] = p.evaluateSymbol(gctx, member, gates, regimeState, portfolio)
			return nil
		})
	}
	_ = g.Wait()

	// An explicit external cancel invalidates the run entirely.
	if ctx.Err() != nil {
		p.events.Emit(events.RunSkipped, "pipeline", map[string]interface{}{
			"run_id": runID,
			"reason": "canceled",
		})
		return nil, ctx.Err()
	}

	deadlineExceeded := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if deadlineExceeded {
		p.log.Warn().Str("run_id", runID).Msg("run deadline exceeded, aggregating partial results")
	}
	if budget.Exhausted() {
		p.log.Warn().Str("run_id", runID).Msg("http budget exhausted during run")
	}

	doc := &artifact.DecisionArtifact{
		Metadata: artifact.Metadata{
			ArtifactVersion:   artifact.Version,
			PipelineTimestamp: startedAt,
			MarketPhase:       marketPhase,
			DataSource:        "tradier",
			UniverseSize:      len(uni.Symbols),
			FreezeHash:        freezeHash,
			RunMode:           string(p.cfg.RunMode),
			RunID:             runID,
			BudgetStopped:     budget.Exhausted(),
			DeadlineExceeded:  deadlineExceeded,
		},
		Symbols:            rows,
		SelectedCandidates: []artifact.Candidate{},
	}

	for _, row := range rows {
		if row.Verdict == domain.VerdictQualified {
			doc.Metadata.EligibleCount++
		}
	}
	kept := make([]*artifact.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c != nil {
			kept = append(kept, c)
		}
	}
	for _, c := range p.confirmCandidates(runCtx, kept, rows) {
		doc.SelectedCandidates = append(doc.SelectedCandidates, *c)
	}

	if err := p.store.SetLatest(doc); err != nil {
		return nil, err
	}
	p.events.Emit(events.ArtifactWritten, "pipeline", map[string]interface{}{
		"run_id":     runID,
		"symbols":    len(doc.Symbols),
		"candidates": len(doc.SelectedCandidates),
	})

	p.recordHistory(runID, rows)

	result := &RunResult{
		RunID:            runID,
		SymbolsEvaluated: len(rows),
		CandidatesFound:  len(doc.SelectedCandidates),
		BudgetStopped:    budget.Exhausted(),
		DeadlineExceeded: deadlineExceeded,
	}
	p.events.Emit(events.RunCompleted, "pipeline", map[string]interface{}{
		"run_id":     runID,
		"candidates": result.CandidatesFound,
	})
	return result, nil
}

// evaluateSymbol runs the full per-symbol ladder. Every return carries a
// complete row; errors become row fields.
func (p *Pipeline) evaluateSymbol(ctx context.Context, member *universe.Member, gates *universe.Gatekeeper, regimeState domain.RegimeState, portfolio guardrails.PortfolioState) (artifact.SymbolEvalSummary, *artifact.Candidate) {
	row := artifact.SymbolEvalSummary{
		Symbol:         member.Symbol,
		Verdict:        domain.VerdictHold,
		FinalVerdict:   domain.VerdictHold,
		Band:           domain.BandD,
		StageStatus:    "COMPLETE",
		Stage2Status:   string(contracts.StatusUnavailable),
		ProviderStatus: "OK",
		EvaluatedAt:    p.now().UTC(),
		Strategy:       domain.ModeNone,
	}

	snap, err := p.snapshots.Build(ctx, member.Symbol, member.InstrumentType)
	if err != nil {
		return p.errorRow(row, err), nil
	}
	row.Price = snap.SpotPrice()

	deps := eligibility.CheckDataDeps(snap, p.cfg.DataDeps, p.now())
	stage1 := eligibility.Stage1(snap, p.cfg.DataDeps, p.now())
	row.Stage1Status = string(stage1.Status)
	if deps.Status == eligibility.DepsWarn {
		row.ProviderStatus = "DEGRADED"
	}

	gate := gates.Check(member, snap, deps, nil)
	if gate.Status == universe.GateSkip {
		row.StageStatus = "SKIPPED"
		row.BandReason = "Band D because quality gates skipped the symbol"
		if len(gate.Reasons) > 0 {
			row.PrimaryReason = gate.Reasons[0]
		}
		return row, nil
	}

	if stage1.Status == eligibility.Stage1Blocked {
		row.Verdict = domain.VerdictBlocked
		row.FinalVerdict = domain.VerdictBlocked
		row.PrimaryReason = stage1.Reason
		row.BandReason = "Band D because stage-1 blocked on missing data"
		return row, nil
	}

	candles, err := p.provider.GetDailyHistory(ctx, member.Symbol, dailyLookback)
	if err != nil {
		return p.errorRow(row, err), nil
	}

	input := eligibility.Input{
		Symbol:   member.Symbol,
		Candles:  candles,
		Holdings: member.Holdings,
	}
	if p.cfg.Eligibility.EnableIntradayConfirmation {
		intraday, ierr := p.provider.GetIntradayHistory(ctx, member.Symbol)
		input.Intraday = intraday
		input.IntradayFetched = ierr == nil
	}

	trace := p.engine.Evaluate(input)
	row.Strategy = trace.ModeDecision
	completeness, _ := snap.Completeness()

	if trace.ModeDecision == domain.ModeNone {
		row.PrimaryReason = trace.PrimaryReasonCode
		scored := p.scorer.Score(scoring.Input{
			Mode:         domain.ModeNone,
			RegimeState:  regimeState,
			Completeness: completeness,
			Computed:     trace.Computed,
			DTEMin:       p.cfg.Selection.DTEMin,
			DTEMax:       p.cfg.Selection.DTEMax,
		})
		row.Score = &scored.Breakdown.Composite
		row.Band = scored.Band
		row.BandReason = scored.BandReason
		return row, nil
	}

	row.Verdict = domain.VerdictQualified
	row.FinalVerdict = domain.VerdictQualified

	chain := p.provider.FetchBaseChain(ctx, member.Symbol,
		p.cfg.Selection.DTEMin, p.cfg.Selection.DTEMax, trace.ModeDecision)

	var stage2 contracts.Stage2Result
	if chain.Err != nil {
		if errors.Is(chain.Err, tradier.ErrBudgetExhausted) || ctx.Err() != nil {
			return p.errorRow(row, chain.Err), nil
		}
		stage2 = contracts.Unavailable(member.Symbol, trace.ModeDecision, chain.Err.Error())
	} else {
		stage2 = p.selector.Select(member.Symbol, trace.ModeDecision, chain.Contracts, chain.Meta)
	}
	row.Stage2Status = string(stage2.ContractEligibility.Status)
	row.HasCandidates = len(stage2.Selected) > 0
	row.CandidateCount = len(stage2.Selected)
	if len(stage2.Selected) > 0 {
		row.Expiration = stage2.Selected[0].Contract.Expiration
	}
	if stage2.ContractEligibility.Status != contracts.StatusPass {
		row.PrimaryReason = stage2.ContractEligibility.Reason
	}

	scored := p.scorer.Score(scoring.Input{
		Mode:         trace.ModeDecision,
		RegimeState:  regimeState,
		Completeness: completeness,
		LiquidityOK:  stage2.ContractEligibility.Status == contracts.StatusPass,
		Computed:     trace.Computed,
		Selected:     stage2.Selected,
		Spot:         snap.SpotPrice(),
		DTEMin:       p.cfg.Selection.DTEMin,
		DTEMax:       p.cfg.Selection.DTEMax,
	})
	row.Score = &scored.Breakdown.Composite
	row.Band = scored.Band
	row.BandReason = scored.BandReason

	if stage2.ContractEligibility.Status != contracts.StatusPass {
		return row, nil
	}

	adj := p.rails.Apply(portfolio, guardrails.Candidate{
		Symbol:             member.Symbol,
		Mode:               trace.ModeDecision,
		SuggestedContracts: 1,
	}, regimeState)
	if adj.AdjustedContracts <= 0 {
		row.PrimaryReason = "guardrails reduced position to zero"
		return row, nil
	}

	return row, &artifact.Candidate{
		Symbol:            member.Symbol,
		Mode:              trace.ModeDecision,
		Contract:          stage2.Selected[0],
		Score:             scored.Breakdown.Composite,
		Band:              scored.Band,
		AdjustedContracts: adj.AdjustedContracts,
	}
}

// confirmCandidates re-checks surfaced candidates against live quotes and
// drops any with a BLOCK-severity drift. Quote failure keeps the artifact
// untouched; drift must never invent data.
func (p *Pipeline) confirmCandidates(ctx context.Context, candidates []*artifact.Candidate, rows []artifact.SymbolEvalSummary) []*artifact.Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	symbols := make([]string, 0, len(candidates))
	priceBySymbol := make(map[string]*float64, len(rows))
	for _, row := range rows {
		priceBySymbol[row.Symbol] = row.Price
	}
	for _, c := range candidates {
		symbols = append(symbols, c.Symbol)
	}

	quotes, err := p.provider.GetLiveQuotes(ctx, symbols)
	if err != nil {
		p.log.Warn().Err(err).Msg("live quotes unavailable, skipping drift confirmation")
		return candidates
	}

	views := make([]drift.SnapshotView, 0, len(candidates))
	live := make(map[string]drift.LiveView, len(quotes))
	for _, c := range candidates {
		views = append(views, drift.SnapshotView{
			Symbol:    c.Symbol,
			Price:     priceBySymbol[c.Symbol],
			IV:        c.Contract.Contract.IV,
			SpreadPct: c.Contract.Contract.SpreadPct,
		})
		if q, ok := quotes[c.Symbol]; ok {
			live[c.Symbol] = drift.LiveView{ChainAvailable: true, Price: q.Price}
		}
	}

	status := p.drifts.Check(views, live)
	if !status.HasDrift {
		return candidates
	}

	blocked := make(map[string]bool)
	for _, item := range status.Items {
		p.events.Emit(events.DriftDetected, "pipeline", map[string]interface{}{
			"symbol":   item.Symbol,
			"kind":     string(item.Kind),
			"severity": string(item.Severity),
			"detail":   item.Detail,
		})
		if item.Severity == drift.SeverityBlock {
			blocked[item.Symbol] = true
		}
	}
	if len(blocked) == 0 {
		return candidates
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if blocked[c.Symbol] {
			p.log.Warn().Str("symbol", c.Symbol).Msg("candidate dropped after drift block")
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func (p *Pipeline) errorRow(row artifact.SymbolEvalSummary, err error) artifact.SymbolEvalSummary {
	row.StageStatus = "ERROR"
	row.Verdict = domain.VerdictError
	row.FinalVerdict = domain.VerdictError
	row.Error = err.Error()
	row.BandReason = "Band D because evaluation failed"
	switch {
	case errors.Is(err, tradier.ErrBudgetExhausted):
		row.ProviderStatus = "BUDGET_EXHAUSTED"
		row.PrimaryReason = "budget_exhausted"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		row.ProviderStatus = "DEADLINE"
		row.PrimaryReason = "deadline_exceeded"
	default:
		row.ProviderStatus = "ERROR"
		row.PrimaryReason = "provider_error"
	}
	return row
}

// marketRegime classifies the benchmark and persists the result to
// market/market_regime.json. Failures default to RISK_OFF.
func (p *Pipeline) marketRegime(ctx context.Context) domain.RegimeState {
	candles, err := p.provider.GetDailyHistory(ctx, benchmarkSymbol, dailyLookback)
	if err != nil || len(candles) == 0 {
		p.log.Warn().Err(err).Msg("benchmark history unavailable, assuming RISK_OFF")
		return domain.RegimeRiskOff
	}

	analysis := regime.Analyze(candles, regime.DefaultConfig(p.cfg.Eligibility.MaxSRTolPct))

	state := domain.RegimeRiskOff
	switch analysis.Regime {
	case regime.RegimeUp:
		state = domain.RegimeRiskOn
	case regime.RegimeDown:
		state = domain.RegimeDown
		if analysis.ATRPct != nil && *analysis.ATRPct >= 2*p.cfg.Eligibility.MaxATRPct {
			state = domain.RegimeCrash
		}
	}

	p.persistMarketRegime(state, analysis)
	return state
}

// nearITMBand is the spot-to-strike proximity that counts a short option
// as assignment pressure.
const nearITMBand = 0.02

// portfolioState snapshots the open book for the guardrail rules: notional
// exposure against account capital, per-symbol concentration, expiry-week
// clustering, and positions trading near their strike. Without a position
// store or configured capital the book reads empty.
func (p *Pipeline) portfolioState(ctx context.Context) guardrails.PortfolioState {
	state := guardrails.PortfolioState{ClusterRiskLevel: "LOW"}
	if p.positions == nil || p.cfg.Portfolio.AccountCapital <= 0 {
		return state
	}

	open, err := p.positions.Open()
	if err != nil {
		p.log.Warn().Err(err).Msg("open positions unavailable, guardrails see empty book")
		return state
	}
	if len(open) == 0 {
		return state
	}

	var total float64
	bySymbol := make(map[string]float64)
	byWeek := make(map[string]int)
	for _, pos := range open {
		notional := pos.Strike * float64(pos.Contracts) * 100
		total += notional
		bySymbol[pos.Symbol] += notional
		if exp, perr := time.Parse("2006-01-02", pos.Expiry); perr == nil {
			year, week := exp.ISOWeek()
			byWeek[fmt.Sprintf("%d-W%02d", year, week)]++
		}
	}

	capital := p.cfg.Portfolio.AccountCapital
	state.ExposurePct = total / capital
	for _, notional := range bySymbol {
		if pct := notional / capital; pct > state.MaxSymbolPct {
			state.MaxSymbolPct = pct
		}
	}

	maxPerWeek := 0
	for _, n := range byWeek {
		if n > maxPerWeek {
			maxPerWeek = n
		}
	}
	switch {
	case maxPerWeek >= 3:
		state.ClusterRiskLevel = "HIGH"
	case maxPerWeek == 2:
		state.ClusterRiskLevel = "MEDIUM"
	}

	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	quotes, err := p.provider.GetLiveQuotes(ctx, symbols)
	if err != nil {
		p.log.Warn().Err(err).Msg("quotes unavailable, assignment pressure not assessed")
		return state
	}
	for _, pos := range open {
		q, ok := quotes[pos.Symbol]
		if !ok || q.Price == nil {
			continue
		}
		spot := *q.Price
		nearITM := spot <= pos.Strike*(1+nearITMBand)
		if pos.PositionType == domain.ModeCC {
			nearITM = spot >= pos.Strike*(1-nearITMBand)
		}
		if nearITM {
			state.PositionsNearITM++
		}
	}

	p.log.Debug().
		Float64("exposure_pct", state.ExposurePct).
		Float64("max_symbol_pct", state.MaxSymbolPct).
		Str("cluster_risk", state.ClusterRiskLevel).
		Int("near_itm", state.PositionsNearITM).
		Msg("portfolio state computed")
	return state
}

func (p *Pipeline) persistMarketRegime(state domain.RegimeState, analysis regime.Analysis) {
	dir := filepath.Join(p.cfg.DataDir, "market")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.log.Warn().Err(err).Msg("market dir unavailable")
		return
	}

	doc := map[string]interface{}{
		"regime_state": state,
		"benchmark":    benchmarkSymbol,
		"regime":       analysis.Regime,
		"atr_pct":      analysis.ATRPct,
		"computed_at":  p.now().UTC(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return
	}

	tmp, err := os.CreateTemp(dir, ".regime-*")
	if err != nil {
		return
	}
	if _, err := tmp.Write(data); err == nil && tmp.Close() == nil {
		_ = os.Rename(tmp.Name(), filepath.Join(dir, "market_regime.json"))
	} else {
		tmp.Close()
		os.Remove(tmp.Name())
	}
}

func (p *Pipeline) recordHistory(runID string, rows []artifact.SymbolEvalSummary) {
	if p.history == nil {
		return
	}
	for _, row := range rows {
		err := p.history.Record(universe.ScoreRow{
			RunID:       runID,
			Symbol:      row.Symbol,
			EvaluatedAt: row.EvaluatedAt,
			Score:       row.Score,
			Band:        row.Band,
			Verdict:     row.Verdict,
			Mode:        row.Strategy,
		})
		if err != nil {
			p.log.Warn().Err(err).Str("symbol", row.Symbol).Msg("score history write failed")
		}
	}
}

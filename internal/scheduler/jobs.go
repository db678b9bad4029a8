package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/wheel-trader/internal/domain"
	"github.com/aristath/wheel-trader/internal/events"
	"github.com/aristath/wheel-trader/internal/modules/lifecycle"
	"github.com/aristath/wheel-trader/internal/pipeline"
)

// PipelineRunner triggers one evaluation run.
type PipelineRunner interface {
	Run(ctx context.Context, phase domain.MarketPhase) (*pipeline.RunResult, error)
}

// JobState is the ops-status view of a job.
type JobState struct {
	Name           string     `json:"name"`
	Running        bool       `json:"running"`
	LastStarted    *time.Time `json:"last_started,omitempty"`
	LastFinished   *time.Time `json:"last_finished,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	LastSkipReason string     `json:"last_skip_reason,omitempty"`
}

// EvaluationJob runs the evaluation pipeline on schedule. Runs are skipped
// outside tradable phases and while a previous run is still in flight.
type EvaluationJob struct {
	runner   PipelineRunner
	hours    *MarketHoursService
	events   *events.Manager
	cooldown time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu         sync.Mutex
	state      JobState
	manualJobs map[string]string
	lastResult *pipeline.RunResult
}

// NewEvaluationJob wires the evaluation cycle.
func NewEvaluationJob(runner PipelineRunner, hours *MarketHoursService, mgr *events.Manager, cooldown time.Duration, log zerolog.Logger) *EvaluationJob {
	return &EvaluationJob{
		runner:     runner,
		hours:      hours,
		events:     mgr,
		cooldown:   cooldown,
		log:        log.With().Str("component", "evaluation_job").Logger(),
		now:        time.Now,
		state:      JobState{Name: "evaluation_cycle"},
		manualJobs: make(map[string]string),
	}
}

// Name implements Job.
func (j *EvaluationJob) Name() string { return "evaluation_cycle" }

// Run implements Job. Scheduled invocations respect the market phase;
// CLOSED and PRE sessions are recorded as skips, not failures.
func (j *EvaluationJob) Run() error {
	phase := j.hours.Phase(j.now())
	if phase == domain.PhaseClosed || phase == domain.PhasePre {
		j.recordSkip("market phase " + string(phase))
		return nil
	}
	return j.execute(phase)
}

// TriggerManual starts a run regardless of market phase, subject to the
// ops cooldown. On acceptance it returns a job id that ManualJobState
// resolves to queued/running/done/failed; on rejection it returns the
// seconds remaining on the cooldown.
func (j *EvaluationJob) TriggerManual() (accepted bool, jobID string, cooldownRemaining int) {
	j.mu.Lock()
	if j.state.Running {
		j.mu.Unlock()
		return false, "", 0
	}
	if j.state.LastStarted != nil {
		elapsed := j.now().Sub(*j.state.LastStarted)
		if elapsed < j.cooldown {
			remaining := int((j.cooldown - elapsed).Seconds())
			j.mu.Unlock()
			return false, "", remaining
		}
	}
	jobID = uuid.NewString()
	j.manualJobs[jobID] = "queued"
	started := j.now()
	j.state.LastStarted = &started
	j.mu.Unlock()

	phase := j.hours.Phase(j.now())
	go func() {
		j.setManualState(jobID, "running")
		if err := j.execute(phase); err != nil {
			j.log.Error().Err(err).Msg("manual evaluation run failed")
			j.setManualState(jobID, "failed")
			return
		}
		j.setManualState(jobID, "done")
	}()
	return true, jobID, 0
}

// ManualJobState resolves a manual job id. Unknown ids report not_found;
// the caller still answers 200.
func (j *EvaluationJob) ManualJobState(jobID string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if state, ok := j.manualJobs[jobID]; ok {
		return state
	}
	return "not_found"
}

func (j *EvaluationJob) setManualState(jobID, state string) {
	j.mu.Lock()
	j.manualJobs[jobID] = state
	j.mu.Unlock()
}

// LastResult returns the most recent successful run summary, if any.
func (j *EvaluationJob) LastResult() *pipeline.RunResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastResult
}

// State returns a copy of the job state for the ops endpoints.
func (j *EvaluationJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *EvaluationJob) execute(phase domain.MarketPhase) error {
	j.mu.Lock()
	if j.state.Running {
		j.mu.Unlock()
		j.recordSkip("previous run still in flight")
		return nil
	}
	started := j.now()
	j.state.Running = true
	j.state.LastStarted = &started
	j.state.LastSkipReason = ""
	j.mu.Unlock()

	result, err := j.runner.Run(context.Background(), phase)

	finished := j.now()
	j.mu.Lock()
	j.state.Running = false
	j.state.LastFinished = &finished
	if err != nil {
		j.state.LastError = err.Error()
	} else {
		j.state.LastError = ""
		j.lastResult = result
	}
	j.mu.Unlock()
	return err
}

func (j *EvaluationJob) recordSkip(reason string) {
	j.mu.Lock()
	j.state.LastSkipReason = reason
	j.mu.Unlock()

	j.log.Info().Str("reason", reason).Msg("evaluation run skipped")
	j.events.Emit(events.RunSkipped, "scheduler", map[string]interface{}{
		"job":    j.Name(),
		"reason": reason,
	})
}

// QuoteSource is the market side of the position check. The chain lookup
// takes an exact expiration so held contracts resolve even when they sit
// outside the entry-selection strike band.
type QuoteSource interface {
	GetDelayedQuote(ctx context.Context, symbol string) (domain.EquityQuote, error)
	GetChain(ctx context.Context, symbol, expiration string) ([]domain.OptionContract, error)
}

// PositionSignals is the persisted output of one position check sweep.
type PositionSignals struct {
	CheckedAt time.Time              `json:"checked_at"`
	Signals   []lifecycle.Evaluation `json:"signals"`
}

// PositionCheckJob sweeps open positions through the exit evaluator and
// persists the resulting signals. It never transitions positions itself.
type PositionCheckJob struct {
	store     *lifecycle.Store
	evaluator *lifecycle.Evaluator
	quotes    QuoteSource
	hours     *MarketHoursService
	events    *events.Manager
	dataDir   string
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state JobState
}

// NewPositionCheckJob wires the exit-signal sweep.
func NewPositionCheckJob(store *lifecycle.Store, evaluator *lifecycle.Evaluator, quotes QuoteSource, hours *MarketHoursService, mgr *events.Manager, dataDir string, log zerolog.Logger) *PositionCheckJob {
	return &PositionCheckJob{
		store:     store,
		evaluator: evaluator,
		quotes:    quotes,
		hours:     hours,
		events:    mgr,
		dataDir:   dataDir,
		log:       log.With().Str("component", "position_check").Logger(),
		now:       time.Now,
		state:     JobState{Name: "position_check"},
	}
}

// Name implements Job.
func (j *PositionCheckJob) Name() string { return "position_check" }

// State returns a copy of the job state.
func (j *PositionCheckJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Run implements Job.
func (j *PositionCheckJob) Run() error {
	if !j.hours.IsTradingDay(j.now()) {
		j.mu.Lock()
		j.state.LastSkipReason = "not a trading day"
		j.mu.Unlock()
		return nil
	}

	started := j.now()
	j.mu.Lock()
	j.state.Running = true
	j.state.LastStarted = &started
	j.state.LastSkipReason = ""
	j.mu.Unlock()

	err := j.sweep()

	finished := j.now()
	j.mu.Lock()
	j.state.Running = false
	j.state.LastFinished = &finished
	if err != nil {
		j.state.LastError = err.Error()
	} else {
		j.state.LastError = ""
	}
	j.mu.Unlock()
	return err
}

func (j *PositionCheckJob) sweep() error {
	open, err := j.store.Open()
	if err != nil {
		return err
	}

	out := PositionSignals{CheckedAt: j.now().UTC()}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, p := range open {
		view := lifecycle.MarketView{}

		// The underlying quote drives the structure targets; premium
		// capture needs the position's own option quote.
		quote, qerr := j.quotes.GetDelayedQuote(ctx, p.Symbol)
		if qerr == nil {
			j.applyExitPlan(p, quote, &view)
		} else {
			j.log.Warn().Err(qerr).Str("symbol", p.Symbol).Msg("quote unavailable for position check")
		}

		bid, ask, oerr := j.optionQuote(ctx, p)
		if oerr == nil {
			view.Bid = bid
			view.Ask = ask
		} else {
			j.log.Warn().Err(oerr).
				Str("symbol", p.Symbol).
				Str("expiry", p.Expiry).
				Float64("strike", p.Strike).
				Msg("option quote unavailable for position check")
		}

		ev := j.evaluator.Evaluate(p, view)
		out.Signals = append(out.Signals, ev)

		if ev.Signal != lifecycle.SignalHold {
			j.log.Info().
				Str("position_id", p.ID).
				Str("symbol", p.Symbol).
				Str("signal", string(ev.Signal)).
				Str("reason", ev.Reason).
				Msg("exit signal raised")
			j.events.Emit(events.ExitSignal, "position_check", map[string]interface{}{
				"position_id": p.ID,
				"symbol":      p.Symbol,
				"signal":      string(ev.Signal),
				"reason":      ev.Reason,
			})
		}
	}

	return j.persist(out)
}

// optionQuote looks up the held contract's bid/ask in the chain for the
// position's expiration. A position whose contract is no longer quoted
// reports an error and leaves the evaluator in its data-missing path.
func (j *PositionCheckJob) optionQuote(ctx context.Context, p *lifecycle.Position) (bid, ask *float64, err error) {
	contracts, err := j.quotes.GetChain(ctx, p.Symbol, p.Expiry)
	if err != nil {
		return nil, nil, err
	}

	want := domain.OptionPut
	if p.PositionType == domain.ModeCC {
		want = domain.OptionCall
	}
	for _, c := range contracts {
		if c.Type == want && c.Strike == p.Strike {
			return c.Bid, c.Ask, nil
		}
	}
	return nil, nil, fmt.Errorf("contract %s %s %.2f not in chain", p.Symbol, want, p.Strike)
}

// applyExitPlan marks T1/T2 hits from the stored plan. Targets are
// underlying levels: a short put rides the underlying down into support,
// a covered call rides it up into resistance.
func (j *PositionCheckJob) applyExitPlan(p *lifecycle.Position, quote domain.EquityQuote, view *lifecycle.MarketView) {
	if quote.Bid == nil || quote.Ask == nil {
		return
	}
	mid := (*quote.Bid + *quote.Ask) / 2
	hit := func(target float64) bool {
		if p.PositionType == domain.ModeCC {
			return mid >= target
		}
		return mid <= target
	}
	if p.ExitPlan.TargetT1 != nil && hit(*p.ExitPlan.TargetT1) {
		view.HitT1 = true
	}
	if p.ExitPlan.TargetT2 != nil && hit(*p.ExitPlan.TargetT2) {
		view.HitT2 = true
	}
}

func (j *PositionCheckJob) persist(out PositionSignals) error {
	dir := filepath.Join(j.dataDir, "positions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".signals-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, "signals_latest.json"))
}

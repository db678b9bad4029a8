package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a background cycle the scheduler drives. Run owns its own
// skip logic; overlapping and off-hours invocations return nil, not an
// error.
type Job interface {
	Run() error
	Name() string
}

// Scheduler runs the evaluation and position-check cycles on cron
// expressions with second precision. Job errors are logged and swallowed;
// a failed cycle never stops the schedule.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
	jobs int
}

// New creates an empty scheduler. Jobs start firing only after Start.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// AddJob registers a job under a six-field cron expression or an @every
// interval, e.g. "0 35 9 * * MON-FRI" or "@every 15m".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		started := time.Now()
		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Dur("elapsed", time.Since(started)).
				Msg("scheduled cycle failed")
			return
		}
		s.log.Debug().
			Str("job", job.Name()).
			Dur("elapsed", time.Since(started)).
			Msg("scheduled cycle completed")
	})
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name(), err)
	}

	s.jobs++
	s.log.Info().
		Str("job", job.Name()).
		Str("schedule", schedule).
		Msg("job scheduled")
	return nil
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", s.jobs).Msg("scheduler started")
}

// Stop halts the schedule and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

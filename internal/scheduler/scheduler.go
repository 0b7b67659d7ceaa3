// Package scheduler fires the recurring jobs on the home-exchange clock.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/metrics"
)

// Job is one named recurring task. Jobs receive a background context; a job
// that outlives its next firing is skipped, not stacked.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler wraps robfig cron with the engine's job set. All specs are
// evaluated in the home exchange timezone. When a history recorder is set,
// every firing leaves a row in cache.db.
type Scheduler struct {
	cron    *cron.Cron
	history *History
	log     zerolog.Logger
}

// New creates a scheduler in the given location. history may be nil.
func New(location *time.Location, history *History, log zerolog.Logger) *Scheduler {
	l := log.With().Str("component", "scheduler").Logger()
	c := cron.New(
		cron.WithLocation(location),
		cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DiscardLogger),
		),
	)
	return &Scheduler{cron: c, history: history, log: l}
}

// Register adds a job. Returns an error for a malformed cron spec.
func (s *Scheduler) Register(job Job) error {
	log := s.log.With().Str("job", job.Name).Logger()
	_, err := s.cron.AddFunc(job.Spec, func() {
		started := time.Now()
		log.Info().Msg("Job starting")
		historyID := s.recordStart(job.Name, started)

		if err := job.Run(context.Background()); err != nil {
			metrics.ScheduledJobRuns.WithLabelValues(job.Name, "error").Inc()
			s.recordFinish(historyID, "error", err.Error())
			log.Error().Err(err).Dur("duration", time.Since(started)).Msg("Job failed")
			return
		}
		metrics.ScheduledJobRuns.WithLabelValues(job.Name, "ok").Inc()
		s.recordFinish(historyID, "ok", "")
		log.Info().Dur("duration", time.Since(started)).Msg("Job finished")
	})
	if err != nil {
		return err
	}
	log.Info().Str("spec", job.Spec).Msg("Job registered")
	return nil
}

// recordStart and recordFinish tolerate a missing or failing history store;
// bookkeeping never blocks a job.
func (s *Scheduler) recordStart(jobName string, started time.Time) string {
	if s.history == nil {
		return ""
	}
	id, err := s.history.Begin(jobName, started)
	if err != nil {
		s.log.Warn().Err(err).Str("job", jobName).Msg("Failed to record job start")
	}
	return id
}

func (s *Scheduler) recordFinish(id, status, detail string) {
	if s.history == nil || id == "" {
		return
	}
	if err := s.history.Finish(id, status, detail); err != nil {
		s.log.Warn().Err(err).Msg("Failed to record job finish")
	}
}

// Start launches the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// Entries exposes the schedule for the status endpoint.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// Package batch orchestrates the daily analytics pipeline: phase ordering
// per portfolio-date, bounded concurrency across portfolios, backfill and
// force-rerun resets, and the process-wide run tracker.
package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/spyglass/internal/domain"
)

// ErrRunInProgress is returned when a second batch run is attempted while
// one is active and force is not set.
var ErrRunInProgress = fmt.Errorf("a batch run is already in progress")

// Tracker guards the single process-wide batch run. A second concurrent run
// conflicts unless forced; the active run is always cleared on exit through
// the caller's deferred Clear.
type Tracker struct {
	mu      sync.Mutex
	current *domain.BatchRun
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin claims the tracker for a new run. With force set, a stale active run
// is displaced rather than conflicting.
func (t *Tracker) Begin(triggeredBy string, totalJobs int, force bool) (*domain.BatchRun, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil && !force {
		return nil, fmt.Errorf("%w (started %s by %s)", ErrRunInProgress,
			t.current.StartedAt.Format(time.RFC3339), t.current.TriggeredBy)
	}

	run := &domain.BatchRun{
		ID:          uuid.NewString(),
		StartedAt:   time.Now(),
		TriggeredBy: triggeredBy,
		TotalJobs:   totalJobs,
	}
	t.current = run
	return run, nil
}

// Progress records one finished job and what the run is doing now.
func (t *Tracker) Progress(runID, jobName, portfolioName string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.ID != runID {
		return
	}
	if failed {
		t.current.FailedJobs++
	} else {
		t.current.CompletedJobs++
	}
	t.current.CurrentJobName = jobName
	t.current.CurrentPortfolioName = portfolioName
}

// SetTotal adjusts the job count once the backfill plan is known.
func (t *Tracker) SetTotal(runID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil && t.current.ID == runID {
		t.current.TotalJobs = total
	}
}

// Clear releases the tracker if the given run still owns it. Safe to call
// from a defer regardless of how the run ended.
func (t *Tracker) Clear(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil && t.current.ID == runID {
		t.current = nil
	}
}

// Current returns a copy of the active run, or nil when idle.
func (t *Tracker) Current() *domain.BatchRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	copied := *t.current
	return &copied
}

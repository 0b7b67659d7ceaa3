package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const timeLayout = "2006-01-02 15:04:05"

// History records job runs in cache.db. Rows are bookkeeping only; the
// table is safe to wipe.
type History struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistory creates the job history recorder.
func NewHistory(db *sql.DB, log zerolog.Logger) *History {
	return &History{db: db, log: log.With().Str("repository", "job_history").Logger()}
}

// Begin inserts a running row and returns its ID.
func (h *History) Begin(jobName string, started time.Time) (string, error) {
	id := uuid.NewString()
	// sqlite datetime() format, so Prune's comparison stays lexicographic
	_, err := h.db.Exec(`
		INSERT INTO job_history (id, job_name, started_at, status)
		VALUES (?, ?, ?, 'running')
	`, id, jobName, started.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("failed to record job start: %w", err)
	}
	return id, nil
}

// Finish closes a row with its outcome.
func (h *History) Finish(id, status, detail string) error {
	_, err := h.db.Exec(`
		UPDATE job_history
		SET completed_at = ?, status = ?, detail = ?
		WHERE id = ?
	`, time.Now().UTC().Format(timeLayout), status, detail, id)
	if err != nil {
		return fmt.Errorf("failed to record job finish: %w", err)
	}
	return nil
}

// Prune drops rows older than the retention window.
func (h *History) Prune(retainDays int) (int64, error) {
	res, err := h.db.Exec(fmt.Sprintf(`
		DELETE FROM job_history WHERE started_at < datetime('now', '-%d days')
	`, retainDays))
	if err != nil {
		return 0, fmt.Errorf("failed to prune job history: %w", err)
	}
	return res.RowsAffected()
}

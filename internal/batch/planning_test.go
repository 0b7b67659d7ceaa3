package batch

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/snapshot"

	_ "modernc.org/sqlite"
)

// planningOrchestrator wires only the collaborators missingDates touches.
func planningOrchestrator(t *testing.T, backfillMax int) (*Orchestrator, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE portfolio_snapshots (
			id TEXT PRIMARY KEY,
			portfolio_id TEXT NOT NULL,
			snapshot_date TEXT NOT NULL,
			is_complete INTEGER NOT NULL DEFAULT 0,
			UNIQUE (portfolio_id, snapshot_date)
		);
	`)
	require.NoError(t, err)

	o := &Orchestrator{
		cfg:      config.AnalyticsConfig{BackfillMaxTradingDays: backfillMax},
		cal:      calendar.New(calendar.SystemClock{}, "America/New_York"),
		snapRepo: snapshot.NewRepository(db, zerolog.Nop()),
		log:      zerolog.Nop(),
	}
	return o, db
}

func TestMissingDatesFillsGapChronologically(t *testing.T) {
	o, db := planningOrchestrator(t, 30)

	// Last complete snapshot Monday 2026-01-05; target Friday 2026-01-09.
	_, err := db.Exec(`
		INSERT INTO portfolio_snapshots (id, portfolio_id, snapshot_date, is_complete)
		VALUES ('s1', 'pf1', '2026-01-05', 1);
	`)
	require.NoError(t, err)

	dates, err := o.missingDates("pf1", "2026-01-09")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-06", "2026-01-07", "2026-01-08", "2026-01-09"}, dates)
}

func TestMissingDatesSkipsWeekend(t *testing.T) {
	o, db := planningOrchestrator(t, 30)

	// Friday complete, target following Tuesday: weekend never planned.
	_, err := db.Exec(`
		INSERT INTO portfolio_snapshots (id, portfolio_id, snapshot_date, is_complete)
		VALUES ('s1', 'pf1', '2026-01-09', 1);
	`)
	require.NoError(t, err)

	dates, err := o.missingDates("pf1", "2026-01-13")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-12", "2026-01-13"}, dates)
}

func TestMissingDatesUpToDatePortfolio(t *testing.T) {
	o, db := planningOrchestrator(t, 30)

	_, err := db.Exec(`
		INSERT INTO portfolio_snapshots (id, portfolio_id, snapshot_date, is_complete)
		VALUES ('s1', 'pf1', '2026-01-09', 1);
	`)
	require.NoError(t, err)

	dates, err := o.missingDates("pf1", "2026-01-09")
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestMissingDatesNeverSnapshottedStartsAtTarget(t *testing.T) {
	o, _ := planningOrchestrator(t, 30)

	dates, err := o.missingDates("pf1", "2026-01-09")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-09"}, dates)
}

func TestMissingDatesCapsGapAtBackfillLimit(t *testing.T) {
	o, db := planningOrchestrator(t, 3)

	_, err := db.Exec(`
		INSERT INTO portfolio_snapshots (id, portfolio_id, snapshot_date, is_complete)
		VALUES ('s1', 'pf1', '2025-12-01', 1);
	`)
	require.NoError(t, err)

	dates, err := o.missingDates("pf1", "2026-01-09")
	require.NoError(t, err)
	// Oldest days beyond the cap are dropped; the newest survive in order.
	assert.Equal(t, []string{"2026-01-07", "2026-01-08", "2026-01-09"}, dates)
}

func TestMissingDatesIgnoresIncompleteRows(t *testing.T) {
	o, db := planningOrchestrator(t, 30)

	_, err := db.Exec(`
		INSERT INTO portfolio_snapshots (id, portfolio_id, snapshot_date, is_complete) VALUES
			('s1', 'pf1', '2026-01-07', 1),
			('s2', 'pf1', '2026-01-08', 0);
	`)
	require.NoError(t, err)

	dates, err := o.missingDates("pf1", "2026-01-09")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-08", "2026-01-09"}, dates)
}

package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/spyglass/internal/batch"
	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/marketdata"
	"github.com/aristath/spyglass/internal/snapshot"
)

func setupServer(t *testing.T) (*Server, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Only the columns the placeholder cleanup touches
	_, err = db.Exec(`
		CREATE TABLE portfolio_snapshots (
			id TEXT PRIMARY KEY,
			portfolio_id TEXT NOT NULL,
			snapshot_date TEXT NOT NULL,
			is_complete INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE (portfolio_id, snapshot_date)
		);
	`)
	require.NoError(t, err)

	cfg := &config.Config{Port: 0, AdminKey: "test-secret"}
	cfg.Analytics.PlaceholderGraceHours = 1

	cal := calendar.New(calendar.SystemClock{}, "America/New_York")
	srv := New(Deps{
		Config:    cfg,
		Tracker:   batch.NewTracker(),
		Snapshots: snapshot.NewRepository(db, zerolog.Nop()),
		Calendar:  cal,
	}, zerolog.Nop())
	return srv, db
}

func doRequest(t *testing.T, srv *Server, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutesRequireKey(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/admin/batch/run/current", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/admin/batch/run/current", "wrong-key", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/admin/batch/run/current", "test-secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerTokenAccepted(t *testing.T) {
	srv, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/batch/run/current", nil)
	req.Header.Set("Authorization", "Bearer test-secret")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthIsOpen(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCurrentRunReflectsTracker(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/admin/batch/run/current", "test-secret", "")
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "idle", body["status"])

	run, err := srv.deps.Tracker.Begin("scheduler", 4, false)
	require.NoError(t, err)
	srv.deps.Tracker.Progress(run.ID, "pipeline:2026-01-07", "Alpha", false)

	rec = doRequest(t, srv, http.MethodGet, "/admin/batch/run/current", "test-secret", "")
	body = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, run.ID, body["batch_run_id"])
	assert.Equal(t, float64(4), body["total_jobs"])
	assert.Equal(t, float64(1), body["completed_jobs"])
	assert.Equal(t, "Alpha", body["current_portfolio_name"])
}

func TestBatchRunValidation(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/admin/batch/run", "test-secret",
		`{"force_rerun": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/admin/batch/run", "test-secret",
		`{"force_rerun": true, "start_date": "01/05/2026", "end_date": "2026-01-09"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/admin/batch/run", "test-secret",
		`{"force_rerun": true, "start_date": "2026-01-09", "end_date": "2026-01-05"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCleanupIncompleteDeletesStalePlaceholders(t *testing.T) {
	srv, db := setupServer(t)

	_, err := db.Exec(`
		INSERT INTO portfolio_snapshots (id, portfolio_id, snapshot_date, is_complete, created_at, updated_at)
		VALUES
			('stale', 'pf1', '2026-01-06', 0, datetime('now', '-3 hours'), datetime('now', '-3 hours')),
			('fresh', 'pf1', '2026-01-07', 0, datetime('now'), datetime('now')),
			('done',  'pf1', '2026-01-05', 1, datetime('now', '-3 hours'), datetime('now', '-3 hours'));
	`)
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodPost, "/admin/batch/cleanup-incomplete", "test-secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(1), body["deleted"])

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM portfolio_snapshots").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestBackupUnconfigured(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/admin/system/backup", "test-secret", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLogRefreshOutcomeCounts(t *testing.T) {
	var buf strings.Builder
	log := zerolog.New(&buf)

	logRefreshOutcome(log, &marketdata.RefreshReport{
		Requested: 3,
		Fetched:   2,
		Failed:    []string{"XYZ"},
	}, nil)

	out := buf.String()
	assert.Contains(t, out, `"requested":3`)
	assert.Contains(t, out, `"fetched":2`)
	assert.Contains(t, out, `"failed":1`)

	buf.Reset()
	logRefreshOutcome(log, nil, errors.New("provider timeout"))
	assert.Contains(t, buf.String(), "provider timeout")
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/spyglass/internal/batch"
	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/marketdata"
)

const currentRunPath = "/admin/batch/run/current"

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]interface{}{
		"status":    "error",
		"message":   msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeBody tolerates an empty request body so flag-free POSTs work with
// bare curl.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type batchRunRequest struct {
	PortfolioID string `json:"portfolio_id"`
	Force       bool   `json:"force"`
	ForceRerun  bool   `json:"force_rerun"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// handleBatchRun starts a batch run in the background and returns its run
// ID immediately. force displaces a running batch; force_rerun with a date
// range wipes and reprocesses that range.
func (s *Server) handleBatchRun(w http.ResponseWriter, r *http.Request) {
	var req batchRunRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	var runID string
	var err error
	if req.ForceRerun {
		if req.StartDate == "" || req.EndDate == "" {
			s.writeError(w, http.StatusBadRequest, "force_rerun requires start_date and end_date")
			return
		}
		for _, d := range []string{req.StartDate, req.EndDate} {
			if _, perr := calendar.Parse(d); perr != nil {
				s.writeError(w, http.StatusBadRequest, "bad date "+d+", want YYYY-MM-DD")
				return
			}
		}
		if req.EndDate < req.StartDate {
			s.writeError(w, http.StatusBadRequest, "end_date before start_date")
			return
		}
		runID, err = s.deps.Orchestrator.StartRange("admin", req.PortfolioID, req.StartDate, req.EndDate, req.Force)
	} else {
		runID, err = s.deps.Orchestrator.StartDaily("admin", req.Force)
	}

	if errors.Is(err, batch.ErrRunInProgress) {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"status":    "conflict",
			"message":   "a batch run is already in progress",
			"poll_url":  currentRunPath,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":       "started",
		"batch_run_id": runID,
		"started_at":   time.Now().UTC().Format(time.RFC3339),
		"poll_url":     currentRunPath,
	})
}

// handleCurrentRun reports the tracker state. Answers whether idle or
// running, with stable field names, so clients can poll it blindly.
func (s *Server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	run := s.deps.Tracker.Current()
	if run == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "idle"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":                 "running",
		"batch_run_id":           run.ID,
		"started_at":             run.StartedAt.UTC().Format(time.RFC3339),
		"triggered_by":           run.TriggeredBy,
		"total_jobs":             run.TotalJobs,
		"completed_jobs":         run.CompletedJobs,
		"failed_jobs":            run.FailedJobs,
		"current_job_name":       run.CurrentJobName,
		"current_portfolio_name": run.CurrentPortfolioName,
	})
}

// handleTriggerMarketData refreshes bars for the full symbol universe in
// the background.
func (s *Server) handleTriggerMarketData(w http.ResponseWriter, r *http.Request) {
	go func() {
		report, err := s.deps.Orchestrator.RefreshMarketData(context.Background())
		logRefreshOutcome(s.log, report, err)
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":     "started",
		"started_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// logRefreshOutcome reports a background refresh once it finishes.
func logRefreshOutcome(log zerolog.Logger, report *marketdata.RefreshReport, err error) {
	if err != nil {
		log.Error().Err(err).Msg("Manual market data refresh failed")
		return
	}
	log.Info().
		Int("requested", report.Requested).
		Int("fetched", report.Fetched).
		Int("failed", len(report.Failed)).
		Msg("Manual market data refresh finished")
}

type correlationsRequest struct {
	PortfolioID string `json:"portfolio_id"`
}

// handleTriggerCorrelations recomputes correlations for one portfolio or
// all, synchronously, and returns the per-portfolio outcome counts.
func (s *Server) handleTriggerCorrelations(w http.ResponseWriter, r *http.Request) {
	var req correlationsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	summary, err := s.deps.Orchestrator.RunCorrelations(r.Context(), req.PortfolioID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "completed",
		"date":       summary.Date,
		"portfolios": summary.Portfolios,
		"completed":  summary.Completed,
		"skipped":    summary.Skipped,
		"failed":     summary.Failed,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

type profilesRequest struct {
	MaxAgeDays int  `json:"max_age_days"`
	Force      bool `json:"force"`
}

// handleTriggerProfiles resyncs company profiles for the active symbol set.
// force refetches everything regardless of age.
func (s *Server) handleTriggerProfiles(w http.ResponseWriter, r *http.Request) {
	req := profilesRequest{MaxAgeDays: 7}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	maxAge := req.MaxAgeDays
	if req.Force {
		maxAge = 0
	}

	synced, err := s.deps.Orchestrator.SyncProfiles(r.Context(), maxAge)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "completed",
		"synced":    synced,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type cleanupRequest struct {
	AgeThresholdHours int    `json:"age_threshold_hours"`
	PortfolioID       string `json:"portfolio_id"`
}

// handleCleanupIncomplete deletes placeholder snapshot rows older than the
// age threshold, optionally scoped to one portfolio. Complete snapshots are
// never touched.
func (s *Server) handleCleanupIncomplete(w http.ResponseWriter, r *http.Request) {
	req := cleanupRequest{AgeThresholdHours: s.deps.Config.Analytics.PlaceholderGraceHours}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.AgeThresholdHours < 0 {
		s.writeError(w, http.StatusBadRequest, "age_threshold_hours must be non-negative")
		return
	}

	deleted, err := s.deps.Snapshots.DeleteStalePlaceholders(req.AgeThresholdHours, req.PortfolioID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "completed",
		"deleted":   deleted,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRestoreSectorTags rewrites position sector tags from the current
// company profiles.
func (s *Server) handleRestoreSectorTags(w http.ResponseWriter, r *http.Request) {
	updated, err := s.deps.Portfolios.RestoreSectorTags()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "completed",
		"updated":   updated,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleBackup runs a manual database backup in the background.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backup == nil {
		s.writeError(w, http.StatusServiceUnavailable, "backup is not configured")
		return
	}
	go func() {
		if err := s.deps.Backup(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("Manual backup failed")
			return
		}
		s.log.Info().Msg("Manual backup finished")
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":     "started",
		"started_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHealth is the unauthenticated liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime_s":  int(time.Since(s.started).Seconds()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSystemHealth reports process and host health: database reachability,
// CPU, memory and disk pressure, tracker state and the trading calendar's
// idea of the current day.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	databases := map[string]string{}
	for name, db := range map[string]interface {
		HealthCheck(context.Context) error
	}{
		"analytics": s.deps.AnalyticsDB,
		"cache":     s.deps.CacheDB,
	} {
		if err := db.HealthCheck(ctx); err != nil {
			databases[name] = err.Error()
			status = "degraded"
		} else {
			databases[name] = "ok"
		}
	}

	// Short sampling interval: the endpoint must answer fast
	cpuAvg := 0.0
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		cpuAvg = pcts[0]
	}
	memUsed := 0.0
	if m, err := mem.VirtualMemory(); err == nil {
		memUsed = m.UsedPercent
	}
	diskUsed := 0.0
	if d, err := disk.Usage(s.deps.Config.DataDir); err == nil {
		diskUsed = d.UsedPercent
	}

	tracker := "idle"
	if s.deps.Tracker.Current() != nil {
		tracker = "running"
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"databases":        databases,
		"cpu_percent":      cpuAvg,
		"memory_percent":   memUsed,
		"disk_percent":     diskUsed,
		"batch":            tracker,
		"last_trading_day": calendar.Format(s.deps.Calendar.MostRecentTradingDay()),
		"uptime_s":         int(time.Since(s.started).Seconds()),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

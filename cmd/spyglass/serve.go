package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/spyglass/internal/scheduler"
	"github.com/aristath/spyglass/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and admin API",
	Long: `Starts the long-running engine: the cron scheduler fires the daily batch
at 16:00 Eastern with evening retries, and the admin HTTP surface exposes
manual triggers, run polling and health.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	a.log.Info().Str("data_dir", a.cfg.DataDir).Msg("Starting Spyglass")

	history := scheduler.NewHistory(a.cacheDB.Conn(), a.log)
	sched := scheduler.New(a.cal.Location(), history, a.log)
	if pruned, err := history.Prune(30); err != nil {
		a.log.Warn().Err(err).Msg("Failed to prune job history")
	} else if pruned > 0 {
		a.log.Info().Int64("rows", pruned).Msg("Pruned old job history")
	}
	jobs := []scheduler.Job{
		{
			// Market close plus settlement slack
			Name: "daily-batch",
			Spec: "0 16 * * 1-5",
			Run: func(ctx context.Context) error {
				_, err := a.orchestrator.RunDaily(ctx, "scheduler", false)
				return err
			},
		},
	}
	// The legacy job set carries only the daily batch; the evening retries
	// and weekly passes belong to the current set.
	v2jobs := []scheduler.Job{
		{
			// Retry path for portfolios whose morning correlations skipped
			Name: "correlations",
			Spec: "0 18 * * 1-5",
			Run: func(ctx context.Context) error {
				_, err := a.orchestrator.RunCorrelations(ctx, "")
				return err
			},
		},
		{
			Name: "company-profiles",
			Spec: "0 19 * * 1-5",
			Run: func(ctx context.Context) error {
				_, err := a.orchestrator.SyncProfiles(ctx, 7)
				return err
			},
		},
		{
			Name: "weekly-backfill",
			Spec: "0 2 * * 0",
			Run: func(ctx context.Context) error {
				_, err := a.orchestrator.RunBackfill(ctx, "scheduler", a.cfg.Analytics.WeeklyBackfillDays)
				return err
			},
		},
	}
	if a.backup != nil {
		v2jobs = append(v2jobs, scheduler.Job{
			Name: "backup",
			Spec: "30 2 * * 0",
			Run:  a.backup.Run,
		})
	}
	if a.cfg.BatchV2 {
		jobs = append(jobs, v2jobs...)
	}
	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			return err
		}
	}

	deps := server.Deps{
		Config:       a.cfg,
		AnalyticsDB:  a.analyticsDB,
		CacheDB:      a.cacheDB,
		Orchestrator: a.orchestrator,
		Tracker:      a.tracker,
		Portfolios:   a.portfolios,
		Snapshots:    a.snapRepo,
		Calendar:     a.cal,
	}
	if a.backup != nil {
		deps.Backup = a.backup.Run
	}
	srv := server.New(deps, a.log)

	sched.Start()
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		sched.Stop()
		return err
	case sig := <-stop:
		a.log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	sched.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	a.log.Info().Msg("Spyglass stopped")
	return nil
}

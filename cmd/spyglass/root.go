package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/spyglass/internal/batch"
	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/correlation"
	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/factors"
	"github.com/aristath/spyglass/internal/marketdata"
	"github.com/aristath/spyglass/internal/portfolio"
	"github.com/aristath/spyglass/internal/reliability"
	"github.com/aristath/spyglass/internal/risk"
	"github.com/aristath/spyglass/internal/snapshot"
	"github.com/aristath/spyglass/internal/stress"
	"github.com/aristath/spyglass/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "spyglass",
	Short: "Multi-tenant portfolio analytics batch engine",
	Long: `Spyglass computes end-of-day portfolio analytics: market data refresh,
symbol factor exposures, betas and volatility, concentration, correlations,
stress tests and the daily portfolio snapshot.

Run 'spyglass serve' for the scheduler plus admin API, or 'spyglass batch'
for a one-shot run.`,
}

// app holds the fully wired engine. Every command builds one.
type app struct {
	cfg          *config.Config
	log          zerolog.Logger
	analyticsDB  *database.DB
	cacheDB      *database.DB
	cal          *calendar.Calendar
	portfolios   *portfolio.Repository
	snapRepo     *snapshot.Repository
	tracker      *batch.Tracker
	orchestrator *batch.Orchestrator
	backup       *reliability.Service
}

func (a *app) close() {
	if a.cacheDB != nil {
		a.cacheDB.Close()
	}
	if a.analyticsDB != nil {
		a.analyticsDB.Close()
	}
}

// buildApp loads configuration, opens and migrates the databases, and wires
// every engine behind the orchestrator.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)

	analyticsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "analytics.db"),
		Profile: database.ProfileStandard,
		Name:    "analytics",
	})
	if err != nil {
		return nil, err
	}
	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		analyticsDB.Close()
		return nil, err
	}
	for _, db := range []*database.DB{analyticsDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			analyticsDB.Close()
			cacheDB.Close()
			return nil, err
		}
	}

	cal := calendar.New(calendar.SystemClock{}, cfg.Timezone)
	conn := analyticsDB.Conn()

	portfolios := portfolio.NewRepository(conn, log)
	mdRepo := marketdata.NewRepository(conn, log)
	factorRepo := factors.NewRepository(conn, log)
	riskRepo := risk.NewRepository(conn, log)
	corrRepo := correlation.NewRepository(conn, log)
	stressRepo := stress.NewRepository(conn, log)
	snapRepo := snapshot.NewRepository(conn, log)

	if err := factorRepo.SeedDefinitions(factors.BuiltinFactors()); err != nil {
		analyticsDB.Close()
		cacheDB.Close()
		return nil, err
	}

	timeout := time.Duration(cfg.Providers.RequestTimeout) * time.Second
	providers := []marketdata.Provider{
		marketdata.NewFMPProvider(cfg.Providers.FMPAPIKey, timeout, log),
		marketdata.NewStooqProvider(timeout, log),
	}
	chain := marketdata.NewChain(providers, cfg.Providers, log)
	md := marketdata.NewService(chain, mdRepo, cal, cfg.Providers.BatchSize, log)

	library, err := stress.LoadLibrary(cfg.Analytics.ScenarioFile)
	if err != nil {
		analyticsDB.Close()
		cacheDB.Close()
		return nil, err
	}

	tracker := batch.NewTracker()
	orch := batch.NewOrchestrator(batch.Deps{
		Config:     cfg.Analytics,
		Calendar:   cal,
		Tracker:    tracker,
		Resetter:   batch.NewResetter(conn, log),
		Portfolios: portfolios,
		MarketData: md,
		Universe:   factors.NewUniverseJob(md, factorRepo, cal, cfg.Analytics, log),
		FactorRepo: factorRepo,
		Aggregator: factors.NewAggregator(factorRepo, portfolios, log),
		Betas:      risk.NewBetaEngine(md, riskRepo, cal, cfg.Analytics, log),
		Vols:       risk.NewVolEngine(md, cal, cfg.Analytics, log),
		RiskRepo:   riskRepo,
		Corr:       correlation.NewEngine(md, corrRepo, portfolios, cal, cfg.Analytics, log),
		Stress:     stress.NewEngine(library, factorRepo, stressRepo, cfg.Analytics, log),
		Snapshots:  snapshot.NewWriter(snapRepo, portfolios, log),
		SnapRepo:   snapRepo,
	}, log)

	a := &app{
		cfg:          cfg,
		log:          log,
		analyticsDB:  analyticsDB,
		cacheDB:      cacheDB,
		cal:          cal,
		portfolios:   portfolios,
		snapRepo:     snapRepo,
		tracker:      tracker,
		orchestrator: orch,
	}

	if cfg.Backup.Bucket != "" {
		svc, err := reliability.NewService(context.Background(), map[string]*database.DB{
			"analytics": analyticsDB,
			"cache":     cacheDB,
		}, cfg.Backup, log)
		if err != nil {
			log.Error().Err(err).Msg("Backup disabled, service failed to initialize")
		} else {
			a.backup = svc
		}
	}

	return a, nil
}

package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/correlation"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/factors"
	"github.com/aristath/spyglass/internal/marketdata"
	"github.com/aristath/spyglass/internal/metrics"
	"github.com/aristath/spyglass/internal/portfolio"
	"github.com/aristath/spyglass/internal/risk"
	"github.com/aristath/spyglass/internal/snapshot"
	"github.com/aristath/spyglass/internal/stress"
)

// Orchestrator runs the eight-phase pipeline per portfolio-date with bounded
// concurrency across portfolios. Within a portfolio, phases and dates are
// strictly sequential.
type Orchestrator struct {
	cfg        config.AnalyticsConfig
	cal        *calendar.Calendar
	tracker    *Tracker
	resetter   *Resetter
	portfolios *portfolio.Repository
	md         *marketdata.Service
	universe   *factors.UniverseJob
	factorRepo *factors.Repository
	aggregator *factors.Aggregator
	betas      *risk.BetaEngine
	vols       *risk.VolEngine
	riskRepo   *risk.Repository
	corr       *correlation.Engine
	stress     *stress.Engine
	snapshots  *snapshot.Writer
	snapRepo   *snapshot.Repository
	log        zerolog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config     config.AnalyticsConfig
	Calendar   *calendar.Calendar
	Tracker    *Tracker
	Resetter   *Resetter
	Portfolios *portfolio.Repository
	MarketData *marketdata.Service
	Universe   *factors.UniverseJob
	FactorRepo *factors.Repository
	Aggregator *factors.Aggregator
	Betas      *risk.BetaEngine
	Vols       *risk.VolEngine
	RiskRepo   *risk.Repository
	Corr       *correlation.Engine
	Stress     *stress.Engine
	Snapshots  *snapshot.Writer
	SnapRepo   *snapshot.Repository
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(d Deps, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        d.Config,
		cal:        d.Calendar,
		tracker:    d.Tracker,
		resetter:   d.Resetter,
		portfolios: d.Portfolios,
		md:         d.MarketData,
		universe:   d.Universe,
		factorRepo: d.FactorRepo,
		aggregator: d.Aggregator,
		betas:      d.Betas,
		vols:       d.Vols,
		riskRepo:   d.RiskRepo,
		corr:       d.Corr,
		stress:     d.Stress,
		snapshots:  d.Snapshots,
		snapRepo:   d.SnapRepo,
		log:        log.With().Str("component", "orchestrator").Logger(),
	}
}

// RunSummary reports what a batch run did.
type RunSummary struct {
	RunID      string
	Date       string
	Portfolios int
	Jobs       int
	Completed  int
	Skipped    int
	Failed     int
	Duration   time.Duration
}

// RunDaily computes the most recent trading day, backfills any per-portfolio
// gaps in chronological order, and processes each portfolio-date through the
// phase pipeline. Returns ErrRunInProgress when another run holds the tracker.
func (o *Orchestrator) RunDaily(ctx context.Context, triggeredBy string, force bool) (*RunSummary, error) {
	target := calendar.Format(o.cal.MostRecentTradingDay())

	run, err := o.tracker.Begin(triggeredBy, 0, force)
	if err != nil {
		return nil, err
	}
	defer o.tracker.Clear(run.ID)

	return o.execute(ctx, run, target, force)
}

// RunRange reprocesses every trading day in [start, end] for one portfolio
// (or all when portfolioID is empty), bypassing completion checks. All
// calculation rows in the range are deleted child-first before any
// recomputation.
func (o *Orchestrator) RunRange(ctx context.Context, triggeredBy, portfolioID, start, end string, force bool) (*RunSummary, error) {
	run, err := o.tracker.Begin(triggeredBy, 0, force)
	if err != nil {
		return nil, err
	}
	defer o.tracker.Clear(run.ID)

	return o.executeRange(ctx, run, portfolioID, start, end)
}

// StartDaily begins a daily run synchronously, so a tracker conflict
// surfaces to the caller, then processes in the background. The returned
// run ID can be polled on the tracker.
func (o *Orchestrator) StartDaily(triggeredBy string, force bool) (string, error) {
	target := calendar.Format(o.cal.MostRecentTradingDay())

	run, err := o.tracker.Begin(triggeredBy, 0, force)
	if err != nil {
		return "", err
	}
	go func() {
		defer o.tracker.Clear(run.ID)
		if _, err := o.execute(context.Background(), run, target, force); err != nil {
			o.log.Error().Err(err).Str("run_id", run.ID).Msg("Background daily run failed")
		}
	}()
	return run.ID, nil
}

// StartRange is the background counterpart of RunRange.
func (o *Orchestrator) StartRange(triggeredBy, portfolioID, start, end string, force bool) (string, error) {
	run, err := o.tracker.Begin(triggeredBy, 0, force)
	if err != nil {
		return "", err
	}
	go func() {
		defer o.tracker.Clear(run.ID)
		if _, err := o.executeRange(context.Background(), run, portfolioID, start, end); err != nil {
			o.log.Error().Err(err).Str("run_id", run.ID).Msg("Background range run failed")
		}
	}()
	return run.ID, nil
}

// RunBackfill processes every trading day in the trailing window that is
// not yet complete. Completed dates short-circuit at the snapshot gate, so
// the weekly pass is cheap when the dailies kept up.
func (o *Orchestrator) RunBackfill(ctx context.Context, triggeredBy string, tradingDays int) (*RunSummary, error) {
	target := o.cal.MostRecentTradingDay()
	start := o.cal.TradingDaysBack(target, tradingDays)

	run, err := o.tracker.Begin(triggeredBy, 0, false)
	if err != nil {
		return nil, err
	}
	defer o.tracker.Clear(run.ID)

	days := o.cal.TradingDaysBetween(start, target)
	portfolios, err := o.portfolios.ActivePortfolios()
	if err != nil {
		return nil, err
	}

	dates := make([]string, len(days))
	for i, d := range days {
		dates[i] = calendar.Format(d)
	}
	plan := make(map[string][]string, len(portfolios))
	for _, p := range portfolios {
		plan[p.ID] = dates
	}
	return o.run(ctx, run, portfolios, plan, calendar.Format(target), false)
}

// executeRange wipes the range child-first and reprocesses every trading
// day in it, bypassing completion checks.
func (o *Orchestrator) executeRange(ctx context.Context, run *domain.BatchRun, portfolioID, start, end string) (*RunSummary, error) {
	if err := o.resetter.ResetRange(portfolioID, start, end); err != nil {
		return nil, err
	}

	startT, err := calendar.Parse(start)
	if err != nil {
		return nil, fmt.Errorf("bad start date %q: %w", start, err)
	}
	endT, err := calendar.Parse(end)
	if err != nil {
		return nil, fmt.Errorf("bad end date %q: %w", end, err)
	}
	days := o.cal.TradingDaysBetween(startT, endT)
	if len(days) == 0 {
		return nil, fmt.Errorf("no trading days in [%s, %s]", start, end)
	}

	portfolios, err := o.selectPortfolios(portfolioID)
	if err != nil {
		return nil, err
	}

	plan := make(map[string][]string, len(portfolios))
	for _, p := range portfolios {
		dates := make([]string, len(days))
		for i, d := range days {
			dates[i] = calendar.Format(d)
		}
		plan[p.ID] = dates
	}
	return o.run(ctx, run, portfolios, plan, calendar.Format(days[len(days)-1]), true)
}

// execute builds the daily plan (target day plus backfill gaps) and runs it.
func (o *Orchestrator) execute(ctx context.Context, run *domain.BatchRun, target string, force bool) (*RunSummary, error) {
	portfolios, err := o.portfolios.ActivePortfolios()
	if err != nil {
		return nil, err
	}

	plan := make(map[string][]string, len(portfolios))
	for _, p := range portfolios {
		dates, err := o.missingDates(p.ID, target)
		if err != nil {
			return nil, err
		}
		plan[p.ID] = dates
	}
	return o.run(ctx, run, portfolios, plan, target, force)
}

// run performs the shared prep (market data refresh, symbol universe) and
// then fans portfolios out with bounded concurrency.
func (o *Orchestrator) run(ctx context.Context, run *domain.BatchRun, portfolios []domain.Portfolio, plan map[string][]string, target string, force bool) (*RunSummary, error) {
	started := time.Now()

	total := 0
	for _, dates := range plan {
		total += len(dates)
	}
	o.tracker.SetTotal(run.ID, total)

	summary := &RunSummary{RunID: run.ID, Date: target, Portfolios: len(portfolios), Jobs: total}
	if total == 0 {
		o.log.Info().Str("date", target).Msg("Nothing to process")
		summary.Duration = time.Since(started)
		return summary, nil
	}

	cache := marketdata.NewPriceCache()
	corrSet := newFactorCorrSet()
	if err := o.prepare(ctx, target, cache); err != nil {
		return nil, err
	}

	// Bounded fan-out across portfolios; dates within one stay sequential
	sem := semaphore.NewWeighted(int64(o.cfg.MaxPortfolioConcurrency))
	g, gctx := errgroup.WithContext(ctx)

	type outcome struct{ completed, skipped, failed int }
	results := make(chan outcome, len(portfolios))

	for i := range portfolios {
		p := portfolios[i]
		dates := plan[p.ID]
		if len(dates) == 0 {
			continue
		}

		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			var out outcome
			for _, date := range dates {
				res := o.processDate(gctx, &p, date, cache, corrSet, force)
				o.tracker.Progress(run.ID, "pipeline:"+date, p.Name, res.IsFailed())
				metrics.BatchJobsProcessed.WithLabelValues(string(res.Status)).Inc()

				switch {
				case res.IsFailed():
					out.failed++
					o.log.Error().
						Str("portfolio", p.ID).
						Str("date", date).
						Err(res.Err).
						Msg("Pipeline failed for portfolio-date, continuing")
					// Later dates for this portfolio depend on this one's
					// snapshot; stop its backfill here.
					results <- out
					return nil
				case res.IsSkipped():
					out.skipped++
				default:
					out.completed++
				}
			}
			results <- out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)
	for out := range results {
		summary.Completed += out.completed
		summary.Skipped += out.skipped
		summary.Failed += out.failed
	}

	summary.Duration = time.Since(started)
	metrics.BatchRunDuration.Observe(summary.Duration.Seconds())
	o.log.Info().
		Str("date", target).
		Int("portfolios", summary.Portfolios).
		Int("completed", summary.Completed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Batch run finished")
	return summary, nil
}

// prepare refreshes market data for every needed symbol and runs the daily
// symbol factor universe. Shared across all portfolios in the run.
func (o *Orchestrator) prepare(ctx context.Context, target string, cache *marketdata.PriceCache) error {
	symbols, err := o.universeSymbols(target)
	if err != nil {
		return err
	}

	end, err := calendar.Parse(target)
	if err != nil {
		return err
	}

	report, err := o.md.Refresh(ctx, symbols, end, o.fetchWindow(), cache)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		o.log.Warn().Strs("symbols", report.Failed).Msg("Symbols without fresh bars this run")
	}

	if _, err := o.universe.Run(symbols, target, cache); err != nil {
		return fmt.Errorf("symbol factor universe failed: %w", err)
	}
	return nil
}

// universeSymbols is the union of every symbol the run needs bars for:
// position symbols (underlyings for options), factor ETFs and benchmarks.
func (o *Orchestrator) universeSymbols(target string) ([]string, error) {
	symbols, err := o.portfolios.ActiveSymbolsAcrossPortfolios(target)
	if err != nil {
		return nil, err
	}

	defs, err := o.factorRepo.Definitions()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		seen[s] = true
	}
	for _, s := range factors.FactorETFSymbols(defs) {
		if !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	for _, s := range []string{o.cfg.BenchmarkSymbol, o.cfg.RatesBenchmarkSymbol, o.cfg.TreasuryYieldSymbol} {
		if s != "" && !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	return symbols, nil
}

// fetchWindow is the widest consumer window: percentile vol needs a year
// plus the realized-vol runway, spreads need 180 days.
func (o *Orchestrator) fetchWindow() int {
	window := o.cfg.VolPercentileWindowDays + 21
	if o.cfg.SpreadWindowDays > window {
		window = o.cfg.SpreadWindowDays
	}
	return window
}

// RefreshMarketData fetches bars for the full symbol universe as of the
// most recent trading day, outside a batch run. Admin trigger path.
func (o *Orchestrator) RefreshMarketData(ctx context.Context) (*marketdata.RefreshReport, error) {
	target := calendar.Format(o.cal.MostRecentTradingDay())
	symbols, err := o.universeSymbols(target)
	if err != nil {
		return nil, err
	}
	end, err := calendar.Parse(target)
	if err != nil {
		return nil, err
	}
	return o.md.Refresh(ctx, symbols, end, o.fetchWindow(), marketdata.NewPriceCache())
}

// RunCorrelations recomputes pairwise correlations and clusters for one
// portfolio, or all when portfolioID is empty, on the most recent trading
// day. This is the evening retry path for portfolios whose morning run
// skipped on thin data.
func (o *Orchestrator) RunCorrelations(ctx context.Context, portfolioID string) (*RunSummary, error) {
	target := calendar.Format(o.cal.MostRecentTradingDay())
	portfolios, err := o.selectPortfolios(portfolioID)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{Date: target, Portfolios: len(portfolios), Jobs: len(portfolios)}
	cache := marketdata.NewPriceCache()
	started := time.Now()
	for i := range portfolios {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := o.corr.Compute(&portfolios[i], target, cache)
		switch {
		case res.IsFailed():
			summary.Failed++
			o.log.Error().Str("portfolio", portfolios[i].ID).Err(res.Err).Msg("Correlation recompute failed")
		case res.IsSkipped():
			summary.Skipped++
		default:
			summary.Completed++
		}
	}
	summary.Duration = time.Since(started)
	return summary, nil
}

// SyncProfiles refreshes stale company profiles for the active symbol set.
func (o *Orchestrator) SyncProfiles(ctx context.Context, maxAgeDays int) (int, error) {
	target := calendar.Format(o.cal.MostRecentTradingDay())
	symbols, err := o.portfolios.ActiveSymbolsAcrossPortfolios(target)
	if err != nil {
		return 0, err
	}
	return o.md.SyncProfiles(ctx, symbols, maxAgeDays)
}

// factorCorrSet memoizes the per-date factor correlation matrix for one run.
// The matrix depends only on the date and the factor definitions, so every
// portfolio processing that date shares a single read-only copy.
type factorCorrSet struct {
	mu     sync.Mutex
	byDate map[string]map[string]float64
}

func newFactorCorrSet() *factorCorrSet {
	return &factorCorrSet{byDate: make(map[string]map[string]float64)}
}

// factorCorrFor returns the factor correlation matrix for date, computing it
// on first use and serving every later portfolio from the set.
func (o *Orchestrator) factorCorrFor(date string, cache *marketdata.PriceCache, set *factorCorrSet) (map[string]float64, error) {
	set.mu.Lock()
	defer set.mu.Unlock()

	if corr, ok := set.byDate[date]; ok {
		return corr, nil
	}

	defs, err := o.factorRepo.Definitions()
	if err != nil {
		return nil, err
	}
	corr, err := stress.FactorCorrelations(o.md, o.cal, defs, date, o.cfg.CorrelationWindowDays, o.cfg.CorrMinPairObs, cache)
	if err != nil {
		return nil, err
	}
	set.byDate[date] = corr
	return corr, nil
}

// processDate runs phases P1..P8 for one portfolio-date. A phase failure
// aborts the remaining phases, leaving any placeholder for admin cleanup.
func (o *Orchestrator) processDate(ctx context.Context, p *domain.Portfolio, date string, cache *marketdata.PriceCache, corrSet *factorCorrSet, force bool) domain.CalcResult {
	if err := ctx.Err(); err != nil {
		return domain.Failed(err)
	}

	log := o.log.With().Str("portfolio", p.ID).Str("date", date).Logger()

	// P5 runs first as a gate: a completed snapshot short-circuits the
	// whole date unless force-rerunning.
	if res := o.snapshots.BeginPlaceholder(p.ID, date, force); !res.IsOK() {
		return res
	}

	positions, err := o.portfolios.ActivePositionsOn(p.ID, date)
	if err != nil {
		return domain.Failed(err)
	}
	if len(positions) == 0 {
		// Nothing held: still complete an empty snapshot so the date is
		// not re-backfilled forever.
		res, _ := o.snapshots.Complete(snapshot.Inputs{Portfolio: p, Date: date, Prices: cache})
		if res.IsFailed() {
			return res
		}
		return domain.Skipped(domain.SkipNoPositions)
	}

	// P1: persist fresh marks so downstream consumers read current values
	for i := range positions {
		pos := &positions[i]
		if v, live := marketdata.PositionValue(pos, cache, date); live {
			if err := o.portfolios.UpdateMarketValue(pos.ID, v); err != nil {
				return domain.Failed(err)
			}
			pos.MarketValue = v
		}
	}

	// P2: preview the equity rollforward so weights use today's equity
	work := *p
	if prev, err := o.snapRepo.LatestCompleteBefore(p.ID, date); err != nil {
		return domain.Failed(err)
	} else if prev != nil {
		realized, err := o.portfolios.RealizedPnLOn(p.ID, date)
		if err != nil {
			return domain.Failed(err)
		}
		flow, err := o.portfolios.NetCapitalFlowOn(p.ID, date)
		if err != nil {
			return domain.Failed(err)
		}
		work.EquityBalance = prev.EquityBalance + realized + flow
	}

	// P3/P4: factor aggregation, betas, volatility, concentration
	if res := o.aggregator.Aggregate(&work, date, cache, true); res.IsFailed() {
		return res
	} else if res.IsSkipped() {
		log.Debug().Str("reason", res.SkipReason).Msg("Factor aggregation skipped")
	}

	betas, err := o.betas.Compute(positions, date, cache)
	if err != nil {
		return domain.Failed(err)
	}
	marketBeta := o.betas.PortfolioMarketBeta(positions, betas, cache, date, work.EquityBalance)

	volProfile := o.portfolioVol(positions, date, cache, work.EquityBalance)
	o.persistPositionVols(positions, date, cache)

	profiles, err := o.md.Repo().Profiles(returnSymbols(positions))
	if err != nil {
		return domain.Failed(err)
	}
	conc := risk.Concentration(positions, cache, date, profiles)

	greekIDs := make([]string, len(positions))
	for i, pos := range positions {
		greekIDs[i] = pos.ID
	}
	greeks, err := o.portfolios.GreeksOn(greekIDs, date)
	if err != nil {
		return domain.Failed(err)
	}

	// P6: snapshot completion with the assembled metrics
	in := snapshot.Inputs{
		Portfolio:  p,
		Date:       date,
		Positions:  positions,
		Prices:     cache,
		Greeks:     greeks,
		MarketBeta: marketBeta,
	}
	if volProfile != nil {
		in.RealizedVol21d = volProfile.Realized21d
		in.RealizedVol63d = volProfile.Realized63d
		in.ExpectedVol = volProfile.ExpectedVol
		in.VolTrend = volProfile.Trend
		in.VolPercentile = volProfile.Percentile
	}
	if conc != nil {
		in.HHI = conc.HHI
		in.EffectivePositions = conc.EffectivePositions
		in.Top3Concentration = conc.Top3
		in.Top10Concentration = conc.Top10
		in.SectorWeights = conc.SectorWeights
	}
	res, newEquity := o.snapshots.Complete(in)
	if res.IsFailed() {
		return res
	}
	work.EquityBalance = newEquity

	// P7: stress off the exposures P4 just wrote, sharing the run-level
	// factor correlation matrix for the date
	factorCorr, err := o.factorCorrFor(date, cache, corrSet)
	if err != nil {
		return domain.Failed(err)
	}
	if sres := o.stress.Run(&work, date, factorCorr); sres.IsFailed() {
		return sres
	} else if sres.IsSkipped() {
		log.Debug().Str("reason", sres.SkipReason).Msg("Stress tests skipped")
	}

	// P8: correlations may fail gracefully for early dates; the evening
	// retry job picks them up.
	if cres := o.corr.Compute(&work, date, cache); cres.IsFailed() {
		log.Warn().Err(cres.Err).Msg("Correlation phase failed, snapshot stands")
	} else if cres.IsSkipped() {
		log.Debug().Str("reason", cres.SkipReason).Msg("Correlations skipped")
	}

	return domain.OK()
}

// portfolioVol profiles the weighted portfolio return series using current
// signed weights over the percentile window.
func (o *Orchestrator) portfolioVol(positions []domain.Position, date string, cache *marketdata.PriceCache, equity float64) *risk.VolProfile {
	if equity <= 0 {
		return nil
	}

	end, err := calendar.Parse(date)
	if err != nil {
		return nil
	}
	start := calendar.Format(o.cal.TradingDaysBack(end, o.cfg.VolPercentileWindowDays+21))

	// Aggregate per-date portfolio returns from position weights
	byDate := make(map[string]float64)
	counted := make(map[string]bool)
	for i := range positions {
		pos := &positions[i]
		if pos.Class == domain.ClassPrivate {
			continue
		}
		w := marketdata.SignedWeight(pos, cache, date, equity)
		if w == 0 {
			continue
		}
		series, err := o.md.LoadReturns(pos.ReturnSymbol(), start, date, cache)
		if err != nil {
			continue
		}
		for j, d := range series.Dates {
			byDate[d] += w * series.Returns[j]
			counted[d] = true
		}
	}
	if len(byDate) == 0 {
		return nil
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	returns := make([]float64, len(dates))
	for i, d := range dates {
		returns[i] = byDate[d]
	}
	return o.vols.Profile(returns)
}

// persistPositionVols caches per-position volatility metrics, computing only
// positions without cached rows for the date.
func (o *Orchestrator) persistPositionVols(positions []domain.Position, date string, cache *marketdata.PriceCache) {
	ids := make([]string, len(positions))
	for i, pos := range positions {
		ids[i] = pos.ID
	}
	cached, err := o.riskRepo.CachedMetrics(ids, date)
	if err != nil {
		o.log.Warn().Err(err).Msg("Could not load cached vol metrics")
		return
	}

	var toPersist []risk.PositionMetric
	for i := range positions {
		pos := &positions[i]
		if pos.Class == domain.ClassPrivate {
			continue
		}
		if _, ok := cached[pos.ID][risk.MetricVol21d]; ok {
			continue
		}
		profile, err := o.vols.ProfileForSymbol(pos.ReturnSymbol(), date, cache)
		if err != nil || profile == nil {
			continue
		}
		toPersist = append(toPersist, profile.ToMetrics(pos.ID, date)...)
	}
	if err := o.riskRepo.UpsertMetrics(toPersist); err != nil {
		o.log.Warn().Err(err).Msg("Could not persist position vol metrics")
	}
}

// missingDates lists the trading days a portfolio is missing up to target,
// oldest first, capped at the backfill limit.
func (o *Orchestrator) missingDates(portfolioID, target string) ([]string, error) {
	latest, err := o.snapRepo.LatestCompleteDate(portfolioID)
	if err != nil {
		return nil, err
	}

	targetT, err := calendar.Parse(target)
	if err != nil {
		return nil, err
	}

	if latest == "" {
		// Never snapshotted: start at the target day only; deeper history
		// arrives via the explicit backfill jobs.
		return []string{target}, nil
	}
	if latest >= target {
		return nil, nil
	}

	latestT, err := calendar.Parse(latest)
	if err != nil {
		return nil, err
	}

	days := o.cal.TradingDaysBetween(o.cal.NextTradingDay(latestT), targetT)
	if len(days) > o.cfg.BackfillMaxTradingDays {
		days = days[len(days)-o.cfg.BackfillMaxTradingDays:]
	}
	dates := make([]string, len(days))
	for i, d := range days {
		dates[i] = calendar.Format(d)
	}
	return dates, nil
}

func (o *Orchestrator) selectPortfolios(portfolioID string) ([]domain.Portfolio, error) {
	all, err := o.portfolios.ActivePortfolios()
	if err != nil {
		return nil, err
	}
	if portfolioID == "" {
		return all, nil
	}
	for _, p := range all {
		if p.ID == portfolioID {
			return []domain.Portfolio{p}, nil
		}
	}
	return nil, fmt.Errorf("portfolio %s not found or inactive", portfolioID)
}

func returnSymbols(positions []domain.Position) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range positions {
		s := positions[i].ReturnSymbol()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}


package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/calendar"
)

// Service coordinates the provider chain, the repository and the per-run
// price cache. Phase 1 of every batch run calls Refresh; individual symbol
// failures are tolerated and reported, never fatal.
type Service struct {
	chain     *Chain
	repo      *Repository
	cal       *calendar.Calendar
	batchSize int
	log       zerolog.Logger
}

// RefreshReport summarizes one refresh pass.
type RefreshReport struct {
	Requested int
	Fetched   int
	Failed    []string
}

// NewService creates the market-data service.
func NewService(chain *Chain, repo *Repository, cal *calendar.Calendar, batchSize int, log zerolog.Logger) *Service {
	if batchSize < 1 {
		batchSize = 50
	}
	return &Service{
		chain:     chain,
		repo:      repo,
		cal:       cal,
		batchSize: batchSize,
		log:       log.With().Str("component", "marketdata_service").Logger(),
	}
}

// Refresh fetches daily bars for every symbol over the trailing window ending
// at end, upserts them, and loads closes into cache. A symbol whose fetch
// fails end-to-end is recorded in the report and skipped; downstream engines
// degrade per symbol rather than aborting the run.
func (s *Service) Refresh(ctx context.Context, symbols []string, end time.Time, windowDays int, cache *PriceCache) (*RefreshReport, error) {
	start := s.cal.TradingDaysBack(end, windowDays)
	report := &RefreshReport{Requested: len(symbols)}

	for _, symbol := range symbols {
		bars, err := s.chain.Bars(ctx, symbol, start, end)
		if err != nil {
			s.log.Warn().Str("symbol", symbol).Err(err).Msg("Bar fetch failed, skipping symbol")
			report.Failed = append(report.Failed, symbol)
			continue
		}
		if err := s.repo.UpsertBars(bars); err != nil {
			return report, fmt.Errorf("failed to persist bars for %s: %w", symbol, err)
		}

		if cache != nil {
			series := make(map[string]float64, len(bars))
			for _, b := range bars {
				series[b.Date] = b.Close
			}
			cache.PutSeries(symbol, series)
		}
		report.Fetched++
	}

	s.log.Info().
		Int("requested", report.Requested).
		Int("fetched", report.Fetched).
		Int("failed", len(report.Failed)).
		Str("start", calendar.Format(start)).
		Str("end", calendar.Format(end)).
		Msg("Market data refresh complete")
	return report, nil
}

// WarmCache loads closes already persisted for the given symbols and window
// into the cache without hitting providers. Used when a phase needs history
// beyond what Refresh just fetched.
func (s *Service) WarmCache(symbols []string, start, end string, cache *PriceCache) error {
	for _, symbol := range symbols {
		closes, err := s.repo.ClosesInRange(symbol, start, end)
		if err != nil {
			return err
		}
		if len(closes) > 0 {
			cache.PutSeries(symbol, closes)
		}
	}
	return nil
}

// SyncProfiles fetches company profiles for symbols whose stored profile is
// missing or older than maxAgeDays. Per-symbol failures are logged and
// skipped.
func (s *Service) SyncProfiles(ctx context.Context, symbols []string, maxAgeDays int) (int, error) {
	stale, err := s.repo.StaleProfileSymbols(symbols, maxAgeDays)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, symbol := range stale {
		profile, err := s.chain.Profile(ctx, symbol)
		if err != nil {
			s.log.Warn().Str("symbol", symbol).Err(err).Msg("Profile fetch failed, skipping")
			continue
		}
		if err := s.repo.UpsertProfile(profile); err != nil {
			return synced, err
		}
		synced++
	}

	s.log.Info().Int("stale", len(stale)).Int("synced", synced).Msg("Company profile sync complete")
	return synced, nil
}

// LoadReturns builds simple return series for one symbol over [start, end]
// from the cache when warm, falling back to the repository.
func (s *Service) LoadReturns(symbol, start, end string, cache *PriceCache) (ReturnSeries, error) {
	closes := s.closesFor(symbol, start, end, cache)
	if closes == nil {
		var err error
		closes, err = s.repo.ClosesInRange(symbol, start, end)
		if err != nil {
			return ReturnSeries{}, err
		}
	}
	return SimpleReturns(symbol, closes), nil
}

// LoadLogReturns is LoadReturns for log returns.
func (s *Service) LoadLogReturns(symbol, start, end string, cache *PriceCache) (ReturnSeries, error) {
	closes := s.closesFor(symbol, start, end, cache)
	if closes == nil {
		var err error
		closes, err = s.repo.ClosesInRange(symbol, start, end)
		if err != nil {
			return ReturnSeries{}, err
		}
	}
	return LogReturns(symbol, closes), nil
}

func (s *Service) closesFor(symbol, start, end string, cache *PriceCache) map[string]float64 {
	if cache == nil {
		return nil
	}
	series := cache.Series(symbol)
	if series == nil {
		return nil
	}
	windowed := make(map[string]float64)
	for date, close := range series {
		if date >= start && date <= end {
			windowed[date] = close
		}
	}
	if len(windowed) == 0 {
		return nil
	}
	return windowed
}

// Repo exposes the repository for engines that query prices directly.
func (s *Service) Repo() *Repository { return s.repo }

package factors

import (
	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/marketdata"
)

// UniverseJob computes the daily symbol factor universe: one ridge regression
// and four spread regressions per symbol, cached so portfolio aggregation
// never regresses. Runs once per day over the union of active symbols.
type UniverseJob struct {
	md   *marketdata.Service
	repo *Repository
	cal  *calendar.Calendar
	cfg  config.AnalyticsConfig
	log  zerolog.Logger
}

// UniverseReport summarizes one universe run.
type UniverseReport struct {
	Date             string
	Symbols          int
	RidgeComputed    int
	SpreadComputed   int
	SkippedShortData int
}

// NewUniverseJob creates the universe job.
func NewUniverseJob(md *marketdata.Service, repo *Repository, cal *calendar.Calendar, cfg config.AnalyticsConfig, log zerolog.Logger) *UniverseJob {
	return &UniverseJob{
		md:   md,
		repo: repo,
		cal:  cal,
		cfg:  cfg,
		log:  log.With().Str("component", "factor_universe").Logger(),
	}
}

// Run computes betas for every symbol on the given trading date. Per-symbol
// data shortfalls are skipped and counted, never fatal.
func (j *UniverseJob) Run(symbols []string, date string, cache *marketdata.PriceCache) (*UniverseReport, error) {
	defs, err := j.repo.Definitions()
	if err != nil {
		return nil, err
	}
	ridge := RidgeFactors(defs)
	spreads := SpreadFactors(defs)

	report := &UniverseReport{Date: date, Symbols: len(symbols)}

	end, err := calendar.Parse(date)
	if err != nil {
		return nil, err
	}

	// The spread window is the longer of the two; load once, slice per family.
	spreadStart := calendar.Format(j.cal.TradingDaysBack(end, j.cfg.SpreadWindowDays))
	ridgeStart := calendar.Format(j.cal.TradingDaysBack(end, j.cfg.RidgeWindowDays))

	// Factor ETF return series are shared across all symbols; build once.
	ridgeSeries, err := j.loadFamilySeries(ridge, ridgeStart, date, cache)
	if err != nil {
		return nil, err
	}
	spreadSeries, err := j.loadSpreadSeries(spreads, spreadStart, date, cache)
	if err != nil {
		return nil, err
	}

	for _, symbol := range symbols {
		var exposures []domain.SymbolFactorExposure

		if e := j.ridgeFor(symbol, date, ridge, ridgeSeries, cache); e != nil {
			exposures = append(exposures, e...)
			report.RidgeComputed++
		} else {
			report.SkippedShortData++
		}

		spreadExposures, computed := j.spreadsFor(symbol, date, spreads, spreadSeries, spreadStart, cache)
		exposures = append(exposures, spreadExposures...)
		report.SpreadComputed += computed

		if err := j.repo.UpsertSymbolExposures(exposures); err != nil {
			return report, err
		}
	}

	j.log.Info().
		Str("date", date).
		Int("symbols", report.Symbols).
		Int("ridge", report.RidgeComputed).
		Int("spread", report.SpreadComputed).
		Int("skipped", report.SkippedShortData).
		Msg("Symbol factor universe complete")
	return report, nil
}

// ridgeFor regresses one symbol jointly against the ridge ETF returns.
// Returns nil when the aligned sample is below the minimum.
func (j *UniverseJob) ridgeFor(symbol, date string, defs []domain.FactorDefinition, etfSeries []marketdata.ReturnSeries, cache *marketdata.PriceCache) []domain.SymbolFactorExposure {
	end, _ := calendar.Parse(date)
	start := calendar.Format(j.cal.TradingDaysBack(end, j.cfg.RidgeWindowDays))

	symSeries, err := j.md.LoadReturns(symbol, start, date, cache)
	if err != nil || len(symSeries.Returns) == 0 {
		return nil
	}

	all := append([]marketdata.ReturnSeries{symSeries}, etfSeries...)
	_, matrix := marketdata.AlignMany(all)
	n := len(matrix)
	if n < j.cfg.MinRegressionDays {
		return nil
	}

	y := make([]float64, n)
	X := make([][]float64, n)
	for i, row := range matrix {
		y[i] = row[0]
		X[i] = row[1:]
	}

	result, err := Ridge(X, y, j.cfg.RidgeLambda)
	if err != nil {
		j.log.Debug().Str("symbol", symbol).Err(err).Msg("Ridge regression failed")
		return nil
	}

	quality := domain.QualityPartial
	if n >= j.cfg.RidgeWindowDays {
		quality = domain.QualityFull
	}

	exposures := make([]domain.SymbolFactorExposure, 0, len(defs))
	for i, d := range defs {
		exposures = append(exposures, domain.SymbolFactorExposure{
			Symbol:          symbol,
			FactorID:        d.ID,
			CalculationDate: date,
			Beta:            ClampBeta(result.Betas[i], j.cfg.BetaCap),
			RSquared:        result.RSquared,
			Observations:    n,
			Quality:         quality,
		})
	}
	return exposures
}

// spreadsFor runs the univariate spread regressions for one symbol.
func (j *UniverseJob) spreadsFor(symbol, date string, defs []domain.FactorDefinition, spreadSeries map[string]marketdata.ReturnSeries, start string, cache *marketdata.PriceCache) ([]domain.SymbolFactorExposure, int) {
	symSeries, err := j.md.LoadReturns(symbol, start, date, cache)
	if err != nil || len(symSeries.Returns) == 0 {
		return nil, 0
	}

	var exposures []domain.SymbolFactorExposure
	computed := 0
	for _, d := range defs {
		spread, ok := spreadSeries[d.ID]
		if !ok {
			continue
		}
		x, y := marketdata.AlignPair(spread, symSeries)
		n := len(x)
		if n < j.cfg.SpreadMinDays {
			continue
		}

		result, err := OLS(x, y, j.cfg.BetaConfidence)
		if err != nil {
			continue
		}

		quality := domain.QualityPartial
		if n >= j.cfg.SpreadWindowDays {
			quality = domain.QualityFull
		}
		exposures = append(exposures, domain.SymbolFactorExposure{
			Symbol:          symbol,
			FactorID:        d.ID,
			CalculationDate: date,
			Beta:            ClampBeta(result.Beta, j.cfg.BetaCap),
			RSquared:        result.RSquared,
			Observations:    n,
			Quality:         quality,
			Significant:     result.Significant,
		})
		computed++
	}
	return exposures, computed
}

// loadFamilySeries loads one return series per ridge factor ETF.
func (j *UniverseJob) loadFamilySeries(defs []domain.FactorDefinition, start, end string, cache *marketdata.PriceCache) ([]marketdata.ReturnSeries, error) {
	series := make([]marketdata.ReturnSeries, 0, len(defs))
	for _, d := range defs {
		s, err := j.md.LoadReturns(d.LongETF, start, end, cache)
		if err != nil {
			return nil, err
		}
		series = append(series, s)
	}
	return series, nil
}

// loadSpreadSeries builds long-minus-short return series per spread factor,
// aligned on the pair's common dates.
func (j *UniverseJob) loadSpreadSeries(defs []domain.FactorDefinition, start, end string, cache *marketdata.PriceCache) (map[string]marketdata.ReturnSeries, error) {
	out := make(map[string]marketdata.ReturnSeries, len(defs))
	for _, d := range defs {
		long, err := j.md.LoadReturns(d.LongETF, start, end, cache)
		if err != nil {
			return nil, err
		}
		short, err := j.md.LoadReturns(d.ShortETF, start, end, cache)
		if err != nil {
			return nil, err
		}

		shortByDate := make(map[string]float64, len(short.Dates))
		for i, dt := range short.Dates {
			shortByDate[dt] = short.Returns[i]
		}

		spread := marketdata.ReturnSeries{Symbol: d.ID}
		for i, dt := range long.Dates {
			if sv, ok := shortByDate[dt]; ok {
				spread.Dates = append(spread.Dates, dt)
				spread.Returns = append(spread.Returns, long.Returns[i]-sv)
			}
		}
		out[d.ID] = spread
	}
	return out, nil
}

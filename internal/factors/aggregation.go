package factors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/marketdata"
	"github.com/aristath/spyglass/internal/portfolio"
)

// Aggregator rolls cached symbol betas up to portfolio factor exposures.
// It never regresses; the universe job has already done the heavy lifting.
type Aggregator struct {
	repo      *Repository
	positions *portfolio.Repository
	log       zerolog.Logger
}

// NewAggregator creates the portfolio factor aggregator.
func NewAggregator(repo *Repository, positions *portfolio.Repository, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		repo:      repo,
		positions: positions,
		log:       log.With().Str("component", "factor_aggregation").Logger(),
	}
}

// Aggregate computes beta_P,f = sum_i w_i * beta_{symbol_i,f} for every
// factor, using signed weights over equity. Option positions are
// delta-adjusted when deltaAdjusted is set and greeks exist for the date.
// Symbols with no cached beta contribute zero and are reported as missing
// coverage in the result diagnostics.
func (a *Aggregator) Aggregate(p *domain.Portfolio, date string, prices marketdata.PriceSource, deltaAdjusted bool) domain.CalcResult {
	positions, err := a.positions.ActivePositionsOn(p.ID, date)
	if err != nil {
		return domain.Failed(fmt.Errorf("failed to load positions: %w", err))
	}

	var public []domain.Position
	for _, pos := range positions {
		if pos.Class == domain.ClassPublic || pos.Class == domain.ClassOptions {
			public = append(public, pos)
		}
	}
	if len(public) == 0 {
		return domain.Skipped(domain.SkipNoPublicPositions)
	}
	if p.EquityBalance <= 0 {
		return domain.Skipped(domain.SkipNonPositiveEquity)
	}

	// Betas come from the latest universe run on or before the date.
	betaDate, err := a.repo.LatestSymbolExposureDate(date)
	if err != nil {
		return domain.Failed(err)
	}
	if betaDate == "" {
		return domain.Skipped(domain.SkipNoSymbolBetas)
	}
	symbolBetas, err := a.repo.SymbolExposuresOn(betaDate)
	if err != nil {
		return domain.Failed(err)
	}

	var greeks map[string]domain.Greeks
	if deltaAdjusted {
		ids := make([]string, len(public))
		for i, pos := range public {
			ids[i] = pos.ID
		}
		greeks, err = a.positions.GreeksOn(ids, date)
		if err != nil {
			return domain.Failed(err)
		}
	}

	defs, err := a.repo.Definitions()
	if err != nil {
		return domain.Failed(err)
	}

	totals := make(map[string]float64, len(defs))
	covered := false
	var missing []string
	for i := range public {
		pos := &public[i]
		weight := marketdata.SignedWeight(pos, prices, date, p.EquityBalance)
		if deltaAdjusted && pos.Type.IsOption() {
			// Delta is stored for the long contract; signed quantity already
			// flips shorts, so the delta multiplies in directly.
			if g, ok := greeks[pos.ID]; ok {
				weight *= g.Delta
			}
		}

		byFactor, ok := symbolBetas[pos.ReturnSymbol()]
		if !ok {
			missing = append(missing, pos.ReturnSymbol())
			continue
		}
		covered = true
		for factorID, exposure := range byFactor {
			totals[factorID] += weight * exposure.Beta
		}
	}
	if !covered {
		return domain.Skipped(domain.SkipNoSymbolBetas)
	}

	exposures := make([]domain.PortfolioFactorExposure, 0, len(totals))
	for factorID, beta := range totals {
		exposures = append(exposures, domain.PortfolioFactorExposure{
			PortfolioID:     p.ID,
			FactorID:        factorID,
			CalculationDate: date,
			Beta:            beta,
			DollarExposure:  beta * p.EquityBalance,
		})
	}
	if err := a.repo.UpsertPortfolioExposures(exposures); err != nil {
		return domain.Failed(err)
	}

	result := domain.OK()
	result = result.WithDiagnostic("factors", strconv.Itoa(len(exposures)))
	result = result.WithDiagnostic("beta_date", betaDate)
	if len(missing) > 0 {
		result = result.WithDiagnostic("missing_coverage", strings.Join(missing, ","))
		a.log.Debug().
			Str("portfolio", p.ID).
			Strs("symbols", missing).
			Msg("Positions without cached betas contributed zero")
	}
	return result
}

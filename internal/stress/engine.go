package stress

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/correlation"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/factors"
)

// Exposure bases.
const (
	BasisPrecomputed = "precomputed"
	BasisFallback    = "fallback"
)

// Engine applies the scenario library to a portfolio's factor exposures.
type Engine struct {
	library *Library
	factors *factors.Repository
	repo    *Repository
	cfg     config.AnalyticsConfig
	log     zerolog.Logger
}

// NewEngine creates the stress engine.
func NewEngine(library *Library, factorRepo *factors.Repository, repo *Repository, cfg config.AnalyticsConfig, log zerolog.Logger) *Engine {
	l := log.With().Str("component", "stress_engine").Logger()
	for _, w := range library.SeverityMixWarnings() {
		l.Warn().Str("warning", w).Msg("Scenario severity mix off target")
	}
	return &Engine{
		library: library,
		factors: factorRepo,
		repo:    repo,
		cfg:     cfg,
		log:     l,
	}
}

// Run evaluates every active scenario for the portfolio-date and persists
// the results. Requires the factor aggregation phase to have run first.
// factorCorr is the factor correlation lookup keyed by correlation.PairKey;
// the clamp is applied here, after loading, before any arithmetic.
func (e *Engine) Run(p *domain.Portfolio, date string, factorCorr map[string]float64) domain.CalcResult {
	exposures, err := e.factors.PortfolioExposuresOn(p.ID, date)
	if err != nil {
		return domain.Failed(err)
	}
	if len(exposures) == 0 {
		return domain.Skipped(domain.SkipNoSymbolBetas)
	}

	clamped := make(map[string]float64, len(factorCorr))
	for k, rho := range factorCorr {
		clamped[k] = clamp(rho, e.cfg.StressCorrClampMin, e.cfg.StressCorrClampMax)
	}

	var results []domain.StressResult
	for _, scenario := range e.library.Active() {
		r := e.evaluate(p, date, scenario, exposures, clamped)
		results = append(results, r)
	}

	if err := e.repo.UpsertResults(results); err != nil {
		return domain.Failed(err)
	}
	return domain.OK().WithDiagnostic("scenarios", fmt.Sprintf("%d", len(results)))
}

// evaluate computes direct and correlation-amplified P&L for one scenario.
func (e *Engine) evaluate(p *domain.Portfolio, date string, scenario Scenario, exposures map[string]domain.PortfolioFactorExposure, corr map[string]float64) domain.StressResult {
	impacts := make(map[string]float64, len(scenario.ShockedFactors))
	basis := BasisPrecomputed

	var direct float64
	for factorID, shock := range scenario.ShockedFactors {
		exposure, ok := exposures[factorID]
		if !ok {
			// No exposure to this factor: zero impact, still recorded
			impacts[factorID] = 0
			continue
		}

		dollarExposure := exposure.DollarExposure
		if dollarExposure == 0 && exposure.Beta != 0 {
			dollarExposure = exposure.Beta * p.EquityBalance
			basis = BasisFallback
		}
		impact := shock * dollarExposure
		impacts[factorID] = impact
		direct += impact
	}

	// Correlation spillover: unshocked factors move in sympathy with the
	// shocked set, scaled down by the configured damping factor.
	var spillover float64
	for factorID := range exposures {
		if _, shocked := scenario.ShockedFactors[factorID]; shocked {
			continue
		}
		for shockedID, impact := range impacts {
			rho, ok := corr[correlation.PairKey(factorID, shockedID)]
			if !ok {
				continue
			}
			spillover += rho * impact * e.cfg.StressCorrelationScale
		}
	}

	return domain.StressResult{
		PortfolioID:       p.ID,
		ScenarioName:      scenario.Name,
		Date:              date,
		DirectPnL:         direct,
		CorrelatedPnL:     direct + spillover,
		CorrelationEffect: spillover,
		ExposureBasis:     basis,
		FactorImpacts:     impacts,
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// MarshalImpacts renders the factor impact map as the JSON persisted
// alongside each result row.
func MarshalImpacts(impacts map[string]float64) (string, error) {
	b, err := json.Marshal(impacts)
	if err != nil {
		return "", fmt.Errorf("failed to marshal factor impacts: %w", err)
	}
	return string(b), nil
}

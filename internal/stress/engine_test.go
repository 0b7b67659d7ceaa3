package stress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/correlation"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/factors"
)

func testEngine(lib *Library) *Engine {
	cfg := config.AnalyticsConfig{
		StressCorrClampMin:     -0.95,
		StressCorrClampMax:     0.95,
		StressCorrelationScale: 0.5,
	}
	return &Engine{library: lib, cfg: cfg}
}

func TestLoadDefaultLibrary(t *testing.T) {
	lib, err := LoadLibrary("")
	require.NoError(t, err)
	require.NotEmpty(t, lib.Scenarios)

	// Historical replays ship inactive
	for _, s := range lib.Scenarios {
		if s.Category == "historical" {
			assert.False(t, s.Active, "historical scenario %s should ship inactive", s.Name)
		}
	}
	assert.Empty(t, lib.SeverityMixWarnings())

	// Every shocked factor must exist in the production factor set, or the
	// scenario silently contributes zero impact.
	known := make(map[string]bool)
	for _, d := range factors.BuiltinFactors() {
		known[d.ID] = true
	}
	for _, s := range lib.Scenarios {
		for id := range s.ShockedFactors {
			assert.True(t, known[id], "scenario %s shocks unknown factor %s", s.Name, id)
		}
	}
}

func TestLibraryValidateRejectsBadSeverity(t *testing.T) {
	lib := &Library{Scenarios: []Scenario{
		{Name: "x", Severity: "catastrophic", ShockedFactors: map[string]float64{"market": -0.1}},
	}}
	assert.Error(t, lib.Validate())
}

func TestLibraryValidateRejectsDuplicates(t *testing.T) {
	s := Scenario{Name: "dup", Severity: SeverityBase, ShockedFactors: map[string]float64{"market": -0.1}}
	lib := &Library{Scenarios: []Scenario{s, s}}
	assert.Error(t, lib.Validate())
}

func TestDirectPnLFallbackBasis(t *testing.T) {
	// Market beta 1.2, equity 1M, -10% market shock: -120k via fallback basis
	lib := &Library{Scenarios: []Scenario{{
		Name:           "market_down_10",
		Severity:       SeverityModerate,
		Active:         true,
		ShockedFactors: map[string]float64{"market": -0.10},
	}}}
	e := testEngine(lib)

	p := &domain.Portfolio{ID: "pf1", EquityBalance: 1_000_000}
	exposures := map[string]domain.PortfolioFactorExposure{
		"market": {PortfolioID: "pf1", FactorID: "market", Beta: 1.2, DollarExposure: 0},
	}

	res := e.evaluate(p, "2026-01-07", lib.Scenarios[0], exposures, nil)
	assert.InDelta(t, -120_000.0, res.DirectPnL, 1e-6)
	assert.Equal(t, BasisFallback, res.ExposureBasis)
	assert.InDelta(t, -120_000.0, res.FactorImpacts["market"], 1e-6)
}

func TestDirectPnLPrecomputedBasis(t *testing.T) {
	lib := &Library{Scenarios: []Scenario{{
		Name:           "market_down_10",
		Severity:       SeverityModerate,
		Active:         true,
		ShockedFactors: map[string]float64{"market": -0.10},
	}}}
	e := testEngine(lib)

	p := &domain.Portfolio{ID: "pf1", EquityBalance: 1_000_000}
	exposures := map[string]domain.PortfolioFactorExposure{
		"market": {PortfolioID: "pf1", FactorID: "market", Beta: 1.2, DollarExposure: 1_200_000},
	}

	res := e.evaluate(p, "2026-01-07", lib.Scenarios[0], exposures, nil)
	assert.InDelta(t, -120_000.0, res.DirectPnL, 1e-6)
	assert.Equal(t, BasisPrecomputed, res.ExposureBasis)
}

func TestCorrelatedPnLSpillover(t *testing.T) {
	lib := &Library{Scenarios: []Scenario{{
		Name:           "market_down_10",
		Severity:       SeverityModerate,
		Active:         true,
		ShockedFactors: map[string]float64{"market": -0.10},
	}}}
	e := testEngine(lib)

	p := &domain.Portfolio{ID: "pf1", EquityBalance: 1_000_000}
	exposures := map[string]domain.PortfolioFactorExposure{
		"market": {FactorID: "market", Beta: 1.0, DollarExposure: 1_000_000},
		"size":   {FactorID: "size", Beta: 0.5, DollarExposure: 500_000},
	}
	corr := map[string]float64{
		correlation.PairKey("market", "size"): 0.8,
	}

	res := e.evaluate(p, "2026-01-07", lib.Scenarios[0], exposures, corr)
	// direct = -100k; spillover = 0.8 * -100k * 0.5 = -40k
	assert.InDelta(t, -100_000.0, res.DirectPnL, 1e-6)
	assert.InDelta(t, -40_000.0, res.CorrelationEffect, 1e-6)
	assert.InDelta(t, -140_000.0, res.CorrelatedPnL, 1e-6)
}

func TestRunClampsCorrelationsBeforeUse(t *testing.T) {
	assert.Equal(t, 0.95, clamp(0.99, -0.95, 0.95))
	assert.Equal(t, -0.95, clamp(-1.0, -0.95, 0.95))
	assert.Equal(t, 0.4, clamp(0.4, -0.95, 0.95))
}

func TestUnshockedFactorWithNoExposureIgnored(t *testing.T) {
	lib := &Library{Scenarios: []Scenario{{
		Name:           "growth_unwind",
		Severity:       SeveritySevere,
		Active:         true,
		ShockedFactors: map[string]float64{"growth": -0.15, "momentum": -0.12},
	}}}
	e := testEngine(lib)

	p := &domain.Portfolio{ID: "pf1", EquityBalance: 100_000}
	exposures := map[string]domain.PortfolioFactorExposure{
		"growth": {FactorID: "growth", Beta: 0.8, DollarExposure: 80_000},
		// No momentum exposure
	}

	res := e.evaluate(p, "2026-01-07", lib.Scenarios[0], exposures, nil)
	assert.InDelta(t, -12_000.0, res.DirectPnL, 1e-6)
	assert.Equal(t, 0.0, res.FactorImpacts["momentum"])
}

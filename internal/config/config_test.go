package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SPYGLASS_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90, cfg.Analytics.MarketBetaWindowDays)
	assert.Equal(t, 60, cfg.Analytics.MinRegressionDays)
	assert.Equal(t, 180, cfg.Analytics.SpreadWindowDays)
	assert.Equal(t, 5.0, cfg.Analytics.BetaCap)
	assert.Equal(t, 1.0, cfg.Analytics.RidgeLambda)
	assert.Equal(t, 30, cfg.Analytics.CorrMinPairObs)
	assert.Equal(t, -0.95, cfg.Analytics.StressCorrClampMin)
	assert.Equal(t, 0.95, cfg.Analytics.StressCorrClampMax)
	assert.Equal(t, 8, cfg.Analytics.MaxPortfolioConcurrency)
	assert.Equal(t, 1, cfg.Analytics.PlaceholderGraceHours)
	assert.Equal(t, "SPY", cfg.Analytics.BenchmarkSymbol)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.True(t, cfg.BatchV2)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SPYGLASS_DATA_DIR", t.TempDir())
	t.Setenv("MARKET_BETA_WINDOW_DAYS", "120")
	t.Setenv("BETA_CAP", "3.5")
	t.Setenv("ORCHESTRATOR_MAX_PORTFOLIO_CONCURRENCY", "2")
	t.Setenv("BATCH_V2_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Analytics.MarketBetaWindowDays)
	assert.Equal(t, 3.5, cfg.Analytics.BetaCap)
	assert.Equal(t, 2, cfg.Analytics.MaxPortfolioConcurrency)
	assert.False(t, cfg.BatchV2)
}

func TestValidateRejectsBadWindows(t *testing.T) {
	t.Setenv("SPYGLASS_DATA_DIR", t.TempDir())
	t.Setenv("MIN_REGRESSION_DAYS", "120")
	t.Setenv("MARKET_BETA_WINDOW_DAYS", "90")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MIN_REGRESSION_DAYS")
}

func TestValidateRejectsInvertedClamp(t *testing.T) {
	t.Setenv("SPYGLASS_DATA_DIR", t.TempDir())
	t.Setenv("STRESS_CORR_CLAMP_MIN", "0.95")
	t.Setenv("STRESS_CORR_CLAMP_MAX", "-0.95")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clamp")
}

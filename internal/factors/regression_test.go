package factors

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOLSRecoversKnownSlope(t *testing.T) {
	// y = 0.5 + 2x exactly
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	y := make([]float64, len(x))
	for i := range x {
		y[i] = 0.5 + 2*x[i]
	}

	res, err := OLS(x, y, 0.10)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Beta, 1e-9)
	assert.InDelta(t, 0.5, res.Alpha, 1e-9)
	assert.InDelta(t, 1.0, res.RSquared, 1e-9)
	assert.Equal(t, 8, res.Observations)
}

func TestOLSSignificanceOnNoisyData(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 100
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64()
		y[i] = 1.5*x[i] + 0.1*rng.NormFloat64()
	}

	res, err := OLS(x, y, 0.10)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, res.Beta, 0.05)
	assert.True(t, res.Significant)
	assert.Less(t, res.PValue, 0.10)
}

func TestOLSInsignificantOnPureNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 200
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64()
		y[i] = rng.NormFloat64()
	}

	res, err := OLS(x, y, 0.01)
	require.NoError(t, err)
	assert.False(t, res.Significant)
}

func TestOLSRejectsTinySamples(t *testing.T) {
	_, err := OLS([]float64{1, 2}, []float64{1, 2}, 0.10)
	assert.Error(t, err)
}

func TestRidgeRecoversCoefficientsWithSmallPenalty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n := 120
	X := make([][]float64, n)
	y := make([]float64, n)
	true1, true2 := 1.2, -0.8
	for i := 0; i < n; i++ {
		x1 := rng.NormFloat64()
		x2 := rng.NormFloat64()
		X[i] = []float64{x1, x2}
		y[i] = true1*x1 + true2*x2 + 0.05*rng.NormFloat64()
	}

	res, err := Ridge(X, y, 0.001)
	require.NoError(t, err)
	require.Len(t, res.Betas, 2)
	assert.InDelta(t, true1, res.Betas[0], 0.05)
	assert.InDelta(t, true2, res.Betas[1], 0.05)
	assert.Greater(t, res.RSquared, 0.95)
	assert.Equal(t, n, res.Observations)
}

func TestRidgePenaltyShrinksBetas(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	n := 80
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		X[i] = []float64{x}
		y[i] = 2.0 * x
	}

	small, err := Ridge(X, y, 0.001)
	require.NoError(t, err)
	large, err := Ridge(X, y, 1000.0)
	require.NoError(t, err)

	assert.Less(t, large.Betas[0], small.Betas[0])
	assert.Greater(t, large.Betas[0], 0.0)
}

func TestRidgeHandlesCollinearRegressors(t *testing.T) {
	// Perfectly collinear columns are singular under OLS; the penalty keeps
	// the system solvable.
	n := 60
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i%7) - 3
		X[i] = []float64{x, x}
		y[i] = 2 * x
	}

	res, err := Ridge(X, y, 1.0)
	require.NoError(t, err)
	// The penalty splits the loading across the twin columns
	assert.InDelta(t, res.Betas[0], res.Betas[1], 1e-9)
}

func TestRidgeRejectsUnderdeterminedSystems(t *testing.T) {
	X := [][]float64{{1, 2}, {3, 4}}
	y := []float64{1, 2}
	_, err := Ridge(X, y, 1.0)
	assert.Error(t, err)
}

func TestClampBeta(t *testing.T) {
	assert.Equal(t, 5.0, ClampBeta(7.2, 5.0))
	assert.Equal(t, -5.0, ClampBeta(-9.9, 5.0))
	assert.Equal(t, 1.3, ClampBeta(1.3, 5.0))
}

func TestBuiltinFactorsShape(t *testing.T) {
	defs := BuiltinFactors()
	assert.Len(t, RidgeFactors(defs), 6)
	assert.Len(t, SpreadFactors(defs), 4)

	// The ridge set is styles only; market exposure lives with the beta
	// engine, not here.
	ridgeIDs := make([]string, 0, 6)
	for _, d := range RidgeFactors(defs) {
		ridgeIDs = append(ridgeIDs, d.ID)
	}
	assert.Equal(t, []string{"value", "growth", "momentum", "quality", "size", "low_volatility"}, ridgeIDs)

	spreadLegs := make(map[string][2]string, 4)
	for _, d := range SpreadFactors(defs) {
		spreadLegs[d.ID] = [2]string{d.LongETF, d.ShortETF}
	}
	assert.Equal(t, map[string][2]string{
		"growth_value":    {"VUG", "VTV"},
		"momentum_spread": {"MTUM", "SPY"},
		"size_spread":     {"IWM", "SPY"},
		"quality_spread":  {"QUAL", "SPY"},
	}, spreadLegs)

	for _, d := range SpreadFactors(defs) {
		assert.NotEmpty(t, d.ShortETF, "spread factor %s needs a short leg", d.ID)
	}
	for _, d := range RidgeFactors(defs) {
		assert.Empty(t, d.ShortETF)
	}

	symbols := FactorETFSymbols(defs)
	assert.Contains(t, symbols, "SPY")
	assert.Contains(t, symbols, "SPLV")
	// De-duplicated across families
	count := 0
	for _, s := range symbols {
		if s == "SPY" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

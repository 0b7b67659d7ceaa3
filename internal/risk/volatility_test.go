package risk

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/config"
)

func testVolEngine() *VolEngine {
	cfg := config.AnalyticsConfig{
		VolPercentileWindowDays: 252,
		VolTrendWindowDays:      10,
	}
	return NewVolEngine(nil, nil, cfg, zerolog.Nop())
}

func constantVolReturns(n int, dailyVol float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = dailyVol * rng.NormFloat64()
	}
	return out
}

func TestRealizedVolAnnualization(t *testing.T) {
	// Alternating +1%/-1% has daily stdev ~1.0050...%; annualized by sqrt(252)
	returns := make([]float64, 63)
	for i := range returns {
		if i%2 == 0 {
			returns[i] = 0.01
		} else {
			returns[i] = -0.01
		}
	}

	v21 := RealizedVol(returns, 21)
	v63 := RealizedVol(returns, 63)
	assert.InDelta(t, 0.01*math.Sqrt(252), v21, 0.01)
	assert.InDelta(t, 0.01*math.Sqrt(252), v63, 0.01)
}

func TestRealizedVolInsufficientData(t *testing.T) {
	assert.Equal(t, 0.0, RealizedVol([]float64{0.01, -0.01}, 21))
}

func TestProfileShortHistoryIsNil(t *testing.T) {
	e := testVolEngine()
	assert.Nil(t, e.Profile(constantVolReturns(10, 0.01, 1)))
}

func TestProfileStableSeries(t *testing.T) {
	e := testVolEngine()
	returns := constantVolReturns(300, 0.01, 11)

	p := e.Profile(returns)
	require.NotNil(t, p)
	assert.InDelta(t, 0.01*math.Sqrt(252), p.Realized21d, 0.06)
	assert.InDelta(t, 0.01*math.Sqrt(252), p.Realized63d, 0.04)
	assert.Greater(t, p.ExpectedVol, 0.0)
	assert.GreaterOrEqual(t, p.Percentile, 0.0)
	assert.LessOrEqual(t, p.Percentile, 1.0)
}

func TestProfileTrendIncreasingOnVolRamp(t *testing.T) {
	e := testVolEngine()
	// Quiet regime then a sharp vol ramp. The ramp is shorter than the
	// 21d rolling window so the trend window still sees rising vol
	// instead of a fully propagated plateau.
	returns := constantVolReturns(250, 0.005, 5)
	returns = append(returns, constantVolReturns(15, 0.04, 6)...)

	p := e.Profile(returns)
	require.NotNil(t, p)
	assert.Equal(t, TrendIncreasing, p.Trend)
	// Current vol should sit near the top of its own 1y distribution
	assert.Greater(t, p.Percentile, 0.8)
}

func TestProfileTrendDecreasingAfterCalm(t *testing.T) {
	e := testVolEngine()
	returns := constantVolReturns(250, 0.04, 7)
	returns = append(returns, constantVolReturns(15, 0.005, 8)...)

	p := e.Profile(returns)
	require.NotNil(t, p)
	assert.Equal(t, TrendDecreasing, p.Trend)
	assert.Less(t, p.Percentile, 0.2)
}

func TestHARForecastTracksRegime(t *testing.T) {
	// HAR fit on a calm series should forecast a calm vol
	calm := constantVolReturns(300, 0.008, 21)
	forecast, ok := harForecast(calm)
	require.True(t, ok)
	assert.InDelta(t, 0.008*math.Sqrt(252), forecast, 0.07)
}

func TestHARForecastNeedsRunway(t *testing.T) {
	_, ok := harForecast(constantVolReturns(40, 0.01, 2))
	assert.False(t, ok)
}

func TestPercentileRank(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 0.0, percentileRank(values, 1))
	assert.Equal(t, 0.8, percentileRank(values, 5))
	assert.Equal(t, 1.0, percentileRank(values, 6))
}

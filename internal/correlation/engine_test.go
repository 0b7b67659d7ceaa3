package correlation

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/marketdata"
)

func seriesFrom(symbol string, dates []string, returns []float64) marketdata.ReturnSeries {
	return marketdata.ReturnSeries{Symbol: symbol, Dates: dates, Returns: returns}
}

func tradingDates(n int) []string {
	// Synthetic date labels; only equality matters for alignment
	dates := make([]string, n)
	for i := range dates {
		dates[i] = string(rune('A'+i/26)) + string(rune('a'+i%26))
	}
	return dates
}

func TestPairwisePerfectCorrelation(t *testing.T) {
	dates := tradingDates(40)
	base := make([]float64, 40)
	double := make([]float64, 40)
	rng := rand.New(rand.NewSource(1))
	for i := range base {
		base[i] = rng.NormFloat64()
		double[i] = 2 * base[i]
	}

	pairs := PairwiseCorrelations([]marketdata.ReturnSeries{
		seriesFrom("AAA", dates, base),
		seriesFrom("BBB", dates, double),
	}, 30)

	require.Len(t, pairs, 1)
	assert.InDelta(t, 1.0, pairs[0].Correlation, 1e-9)
	assert.Equal(t, 40, pairs[0].Observations)
	assert.InDelta(t, 0.0, pairs[0].PValue, 1e-9)
}

func TestPairwiseBelowMinObsOmitted(t *testing.T) {
	dates := tradingDates(20)
	returns := make([]float64, 20)
	rng := rand.New(rand.NewSource(2))
	for i := range returns {
		returns[i] = rng.NormFloat64()
	}

	pairs := PairwiseCorrelations([]marketdata.ReturnSeries{
		seriesFrom("AAA", dates, returns),
		seriesFrom("BBB", dates, returns),
	}, 30)
	assert.Empty(t, pairs)
}

func TestPairwiseAlignmentUsesCommonDatesOnly(t *testing.T) {
	// AAA trades on all 40 dates, BBB misses the first 5. The pair must
	// correlate and derive its p-value on the 35 shared dates.
	all := tradingDates(40)
	rng := rand.New(rand.NewSource(3))
	aRet := make([]float64, 40)
	for i := range aRet {
		aRet[i] = rng.NormFloat64()
	}
	bRet := make([]float64, 35)
	copy(bRet, aRet[5:])

	pairs := PairwiseCorrelations([]marketdata.ReturnSeries{
		seriesFrom("AAA", all, aRet),
		seriesFrom("BBB", all[5:], bRet),
	}, 30)

	require.Len(t, pairs, 1)
	assert.Equal(t, 35, pairs[0].Observations)
	assert.InDelta(t, 1.0, pairs[0].Correlation, 1e-9)
}

func TestPairwiseUncorrelatedNoise(t *testing.T) {
	dates := tradingDates(90)
	rng := rand.New(rand.NewSource(4))
	a := make([]float64, 90)
	b := make([]float64, 90)
	for i := range a {
		a[i] = rng.NormFloat64()
		b[i] = rng.NormFloat64()
	}

	pairs := PairwiseCorrelations([]marketdata.ReturnSeries{
		seriesFrom("AAA", dates, a),
		seriesFrom("BBB", dates, b),
	}, 30)

	require.Len(t, pairs, 1)
	assert.Less(t, pairs[0].Correlation, 0.3)
	assert.Greater(t, pairs[0].Correlation, -0.3)
	assert.Greater(t, pairs[0].PValue, 0.01)
}

func TestClusterByThresholdSingleLink(t *testing.T) {
	symbols := []string{"AAA", "BBB", "CCC", "DDD", "EEE"}
	pairs := []domain.PairwiseCorrelation{
		{Symbol1: "AAA", Symbol2: "BBB", Correlation: 0.9},
		{Symbol1: "BBB", Symbol2: "CCC", Correlation: 0.75}, // chains AAA-BBB-CCC
		{Symbol1: "AAA", Symbol2: "CCC", Correlation: 0.2},  // direct link weak, still one cluster
		{Symbol1: "DDD", Symbol2: "EEE", Correlation: 0.5},  // below threshold
	}

	clusters := ClusterByThreshold(symbols, pairs, 0.7)
	require.Len(t, clusters, 1)
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, clusters[0])
}

func TestClusterNoPairsAboveThreshold(t *testing.T) {
	symbols := []string{"AAA", "BBB"}
	pairs := []domain.PairwiseCorrelation{
		{Symbol1: "AAA", Symbol2: "BBB", Correlation: 0.3},
	}
	assert.Empty(t, ClusterByThreshold(symbols, pairs, 0.7))
}

func TestPairKeyCanonicalOrder(t *testing.T) {
	assert.Equal(t, PairKey("SPY", "AAPL"), PairKey("AAPL", "SPY"))
	assert.Equal(t, "AAPL|SPY", PairKey("SPY", "AAPL"))
}

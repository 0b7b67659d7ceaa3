package marketdata

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleReturns(t *testing.T) {
	closes := map[string]float64{
		"2026-01-05": 100.0,
		"2026-01-06": 102.0,
		"2026-01-07": 99.96,
	}

	s := SimpleReturns("AAPL", closes)
	require.Len(t, s.Returns, 2)
	assert.Equal(t, []string{"2026-01-06", "2026-01-07"}, s.Dates)
	assert.InDelta(t, 0.02, s.Returns[0], 1e-12)
	assert.InDelta(t, -0.02, s.Returns[1], 1e-12)
}

func TestSimpleReturnsSkipsBadCloses(t *testing.T) {
	closes := map[string]float64{
		"2026-01-05": 100.0,
		"2026-01-06": 0.0, // bad row
		"2026-01-07": 105.0,
	}

	s := SimpleReturns("AAPL", closes)
	// 06 pair has a zero close on the later side, 07 pair has zero on the
	// earlier side; neither produces an observation.
	assert.Empty(t, s.Returns)
}

func TestLogReturns(t *testing.T) {
	closes := map[string]float64{
		"2026-01-05": 100.0,
		"2026-01-06": 110.0,
	}

	s := LogReturns("AAPL", closes)
	require.Len(t, s.Returns, 1)
	assert.InDelta(t, math.Log(1.1), s.Returns[0], 1e-12)
}

func TestAlignPairInnerJoin(t *testing.T) {
	a := ReturnSeries{
		Symbol:  "A",
		Dates:   []string{"2026-01-05", "2026-01-06", "2026-01-07"},
		Returns: []float64{0.01, 0.02, 0.03},
	}
	b := ReturnSeries{
		Symbol:  "B",
		Dates:   []string{"2026-01-06", "2026-01-07", "2026-01-08"},
		Returns: []float64{0.10, 0.20, 0.30},
	}

	x, y := AlignPair(a, b)
	require.Len(t, x, 2)
	assert.Equal(t, []float64{0.02, 0.03}, x)
	assert.Equal(t, []float64{0.10, 0.20}, y)
}

func TestAlignManyCommonGrid(t *testing.T) {
	series := []ReturnSeries{
		{Symbol: "A", Dates: []string{"2026-01-05", "2026-01-06", "2026-01-07"}, Returns: []float64{1, 2, 3}},
		{Symbol: "B", Dates: []string{"2026-01-06", "2026-01-07"}, Returns: []float64{20, 30}},
		{Symbol: "C", Dates: []string{"2026-01-05", "2026-01-06", "2026-01-07"}, Returns: []float64{100, 200, 300}},
	}

	dates, matrix := AlignMany(series)
	require.Equal(t, []string{"2026-01-06", "2026-01-07"}, dates)
	require.Len(t, matrix, 2)
	assert.Equal(t, []float64{2, 20, 200}, matrix[0])
	assert.Equal(t, []float64{3, 30, 300}, matrix[1])
}

func TestYieldChanges(t *testing.T) {
	levels := map[string]float64{
		"2026-01-05": 4.20,
		"2026-01-06": 4.35,
		"2026-01-07": 4.30,
	}

	s := YieldChanges("DGS10", levels)
	require.Len(t, s.Returns, 2)
	assert.InDelta(t, 0.15, s.Returns[0], 1e-12)
	assert.InDelta(t, -0.05, s.Returns[1], 1e-12)
}

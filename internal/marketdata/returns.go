package marketdata

import (
	"math"
	"sort"
)

// ReturnSeries is a symbol's daily returns keyed by the date of the later
// close in each pair. Only consecutive available closes produce a return;
// gaps in a symbol's history simply yield no observation for the gap dates.
type ReturnSeries struct {
	Symbol  string
	Dates   []string
	Returns []float64
}

// SimpleReturns builds day-over-day simple returns from a date->close map.
// Dates come out chronologically sorted. Pairs with a non-positive earlier
// close are skipped.
func SimpleReturns(symbol string, closes map[string]float64) ReturnSeries {
	return buildReturns(symbol, closes, func(prev, cur float64) float64 {
		return cur/prev - 1.0
	})
}

// LogReturns builds day-over-day log returns, used by the correlation engine.
func LogReturns(symbol string, closes map[string]float64) ReturnSeries {
	return buildReturns(symbol, closes, func(prev, cur float64) float64 {
		return math.Log(cur / prev)
	})
}

func buildReturns(symbol string, closes map[string]float64, f func(prev, cur float64) float64) ReturnSeries {
	dates := make([]string, 0, len(closes))
	for d := range closes {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	series := ReturnSeries{Symbol: symbol}
	for i := 1; i < len(dates); i++ {
		prev := closes[dates[i-1]]
		cur := closes[dates[i]]
		if prev <= 0 || cur <= 0 {
			continue
		}
		series.Dates = append(series.Dates, dates[i])
		series.Returns = append(series.Returns, f(prev, cur))
	}
	return series
}

// AlignPair inner-joins two return series on date, preserving chronological
// order. Used by pairwise regressions and correlations: each pair aligns on
// its own common dates rather than a global grid.
func AlignPair(a, b ReturnSeries) (x, y []float64) {
	bByDate := make(map[string]float64, len(b.Dates))
	for i, d := range b.Dates {
		bByDate[d] = b.Returns[i]
	}
	for i, d := range a.Dates {
		if bv, ok := bByDate[d]; ok {
			x = append(x, a.Returns[i])
			y = append(y, bv)
		}
	}
	return x, y
}

// AlignMany inner-joins several return series on their common dates. The
// result is a dates x series matrix with one row per common date, in
// chronological order. Used by the ridge regression design matrix, where all
// regressors must share one grid.
func AlignMany(series []ReturnSeries) (dates []string, matrix [][]float64) {
	if len(series) == 0 {
		return nil, nil
	}

	counts := make(map[string]int)
	for _, s := range series {
		for _, d := range s.Dates {
			counts[d]++
		}
	}
	for d, n := range counts {
		if n == len(series) {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)

	byDate := make([]map[string]float64, len(series))
	for i, s := range series {
		m := make(map[string]float64, len(s.Dates))
		for j, d := range s.Dates {
			m[d] = s.Returns[j]
		}
		byDate[i] = m
	}

	matrix = make([][]float64, len(dates))
	for r, d := range dates {
		row := make([]float64, len(series))
		for col := range series {
			row[col] = byDate[col][d]
		}
		matrix[r] = row
	}
	return dates, matrix
}

// YieldChanges converts a treasury yield series (percent levels) into daily
// absolute changes, the regressor for interest-rate beta.
func YieldChanges(symbol string, levels map[string]float64) ReturnSeries {
	dates := make([]string, 0, len(levels))
	for d := range levels {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	series := ReturnSeries{Symbol: symbol}
	for i := 1; i < len(dates); i++ {
		series.Dates = append(series.Dates, dates[i])
		series.Returns = append(series.Returns, levels[dates[i]]-levels[dates[i-1]])
	}
	return series
}

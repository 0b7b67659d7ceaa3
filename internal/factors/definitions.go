package factors

import (
	"github.com/aristath/spyglass/internal/domain"
)

// BuiltinFactors is the production factor set: six ridge factors regressed
// jointly, four long-short spread factors regressed one at a time.
func BuiltinFactors() []domain.FactorDefinition {
	return []domain.FactorDefinition{
		// Ridge family: joint multivariate regression against ETF returns.
		// Market exposure is covered separately by the beta engine against
		// the benchmark, so the ridge set holds style factors only.
		{ID: "value", Name: "Value", Type: domain.FactorRidge, LongETF: "VTV"},
		{ID: "growth", Name: "Growth", Type: domain.FactorRidge, LongETF: "VUG"},
		{ID: "momentum", Name: "Momentum", Type: domain.FactorRidge, LongETF: "MTUM"},
		{ID: "quality", Name: "Quality", Type: domain.FactorRidge, LongETF: "QUAL"},
		{ID: "size", Name: "Size", Type: domain.FactorRidge, LongETF: "IWM"},
		{ID: "low_volatility", Name: "Low Volatility", Type: domain.FactorRidge, LongETF: "SPLV"},

		// Spread family: univariate OLS against long-minus-short ETF returns
		{ID: "growth_value", Name: "Growth vs Value", Type: domain.FactorSpread, LongETF: "VUG", ShortETF: "VTV"},
		{ID: "momentum_spread", Name: "Momentum vs Market", Type: domain.FactorSpread, LongETF: "MTUM", ShortETF: "SPY"},
		{ID: "size_spread", Name: "Small vs Market", Type: domain.FactorSpread, LongETF: "IWM", ShortETF: "SPY"},
		{ID: "quality_spread", Name: "Quality vs Market", Type: domain.FactorSpread, LongETF: "QUAL", ShortETF: "SPY"},
	}
}

// FactorETFSymbols returns the distinct ETF symbols the factor set needs
// priced, so the market-data refresh can include them.
func FactorETFSymbols(defs []domain.FactorDefinition) []string {
	seen := make(map[string]bool)
	var symbols []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	for _, d := range defs {
		add(d.LongETF)
		add(d.ShortETF)
	}
	return symbols
}

// RidgeFactors filters the ridge family, preserving order.
func RidgeFactors(defs []domain.FactorDefinition) []domain.FactorDefinition {
	var out []domain.FactorDefinition
	for _, d := range defs {
		if d.Type == domain.FactorRidge {
			out = append(out, d)
		}
	}
	return out
}

// SpreadFactors filters the spread family, preserving order.
func SpreadFactors(defs []domain.FactorDefinition) []domain.FactorDefinition {
	var out []domain.FactorDefinition
	for _, d := range defs {
		if d.Type == domain.FactorSpread {
			out = append(out, d)
		}
	}
	return out
}

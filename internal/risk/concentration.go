package risk

import (
	"sort"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/marketdata"
)

// ConcentrationProfile summarizes how lumpy a book is. Weights are absolute
// market values over gross value, so long and short lumps both count.
type ConcentrationProfile struct {
	HHI                float64 // 10,000 x sum of squared weights
	EffectivePositions float64 // 10,000 / HHI
	Top3               float64
	Top10              float64
	SectorWeights      map[string]float64
	SectorActive       map[string]float64 // weight minus benchmark weight
}

// sp500SectorWeights is the benchmark sector mix used for over/underweight
// comparisons. Approximate S&P 500 weights, refreshed manually.
var sp500SectorWeights = map[string]float64{
	"Technology":             0.31,
	"Financial Services":     0.13,
	"Healthcare":             0.12,
	"Consumer Cyclical":      0.10,
	"Communication Services": 0.09,
	"Industrials":            0.08,
	"Consumer Defensive":     0.06,
	"Energy":                 0.04,
	"Utilities":              0.025,
	"Real Estate":            0.023,
	"Basic Materials":        0.022,
}

// Concentration computes HHI, effective positions, top-N shares and sector
// weights for the active positions. Sector names come from company profiles;
// symbols without a profile land in "Unknown".
func Concentration(positions []domain.Position, prices marketdata.PriceSource, date string, profiles map[string]domain.CompanyProfile) *ConcentrationProfile {
	type holding struct {
		weight float64
		sector string
	}

	var gross float64
	holdings := make([]holding, 0, len(positions))
	for i := range positions {
		pos := &positions[i]
		v, _ := marketdata.PositionValue(pos, prices, date)
		if v < 0 {
			v = -v
		}
		if v == 0 {
			continue
		}

		sector := "Unknown"
		if p, ok := profiles[pos.ReturnSymbol()]; ok && p.Sector != "" {
			sector = p.Sector
		}
		holdings = append(holdings, holding{weight: v, sector: sector})
		gross += v
	}
	if gross <= 0 || len(holdings) == 0 {
		return nil
	}

	weights := make([]float64, len(holdings))
	sectors := make(map[string]float64)
	var hhi float64
	for i, h := range holdings {
		w := h.weight / gross
		weights[i] = w
		hhi += w * w
		sectors[h.sector] += w
	}
	hhi *= 10000

	sort.Sort(sort.Reverse(sort.Float64Slice(weights)))
	topN := func(n int) float64 {
		var sum float64
		for i := 0; i < n && i < len(weights); i++ {
			sum += weights[i]
		}
		return sum
	}

	active := make(map[string]float64)
	for sector, w := range sectors {
		active[sector] = w - sp500SectorWeights[sector]
	}
	// Sectors the portfolio skips entirely are underweights too
	for sector, bw := range sp500SectorWeights {
		if _, ok := sectors[sector]; !ok {
			active[sector] = -bw
		}
	}

	return &ConcentrationProfile{
		HHI:                hhi,
		EffectivePositions: 10000 / hhi,
		Top3:               topN(3),
		Top10:              topN(10),
		SectorWeights:      sectors,
		SectorActive:       active,
	}
}

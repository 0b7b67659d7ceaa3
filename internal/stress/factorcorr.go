package stress

import (
	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/correlation"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/marketdata"
)

// FactorCorrelations builds the factor-to-factor correlation lookup from the
// factor return series: long ETF returns for ridge factors, long-minus-short
// for spreads. Keys follow correlation.PairKey over factor IDs. The stress
// engine clamps these after loading.
func FactorCorrelations(md *marketdata.Service, cal *calendar.Calendar, defs []domain.FactorDefinition, date string, windowDays, minObs int, cache *marketdata.PriceCache) (map[string]float64, error) {
	end, err := calendar.Parse(date)
	if err != nil {
		return nil, err
	}
	start := calendar.Format(cal.TradingDaysBack(end, windowDays))

	series := make([]marketdata.ReturnSeries, 0, len(defs))
	for _, d := range defs {
		long, err := md.LoadReturns(d.LongETF, start, date, cache)
		if err != nil {
			return nil, err
		}

		s := marketdata.ReturnSeries{Symbol: d.ID}
		if d.ShortETF == "" {
			s.Dates = long.Dates
			s.Returns = long.Returns
		} else {
			short, err := md.LoadReturns(d.ShortETF, start, date, cache)
			if err != nil {
				return nil, err
			}
			shortByDate := make(map[string]float64, len(short.Dates))
			for i, dt := range short.Dates {
				shortByDate[dt] = short.Returns[i]
			}
			for i, dt := range long.Dates {
				if sv, ok := shortByDate[dt]; ok {
					s.Dates = append(s.Dates, dt)
					s.Returns = append(s.Returns, long.Returns[i]-sv)
				}
			}
		}
		series = append(series, s)
	}

	out := make(map[string]float64)
	for _, p := range correlation.PairwiseCorrelations(series, minObs) {
		out[correlation.PairKey(p.Symbol1, p.Symbol2)] = p.Correlation
	}
	return out, nil
}

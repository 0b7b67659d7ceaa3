package risk

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/factors"
	"github.com/aristath/spyglass/internal/marketdata"
)

// BetaEngine computes per-position market and interest-rate betas.
// Position-first with caching: cached (position, date) rows are never
// recomputed within a run or across force-reruns of other metrics.
type BetaEngine struct {
	md   *marketdata.Service
	repo *Repository
	cal  *calendar.Calendar
	cfg  config.AnalyticsConfig
	log  zerolog.Logger
}

// NewBetaEngine creates the beta engine.
func NewBetaEngine(md *marketdata.Service, repo *Repository, cal *calendar.Calendar, cfg config.AnalyticsConfig, log zerolog.Logger) *BetaEngine {
	return &BetaEngine{
		md:   md,
		repo: repo,
		cal:  cal,
		cfg:  cfg,
		log:  log.With().Str("component", "beta_engine").Logger(),
	}
}

// PositionBetas holds the two betas for one position.
type PositionBetas struct {
	MarketBeta  float64
	IRBeta      float64
	HasMarket   bool
	HasIR       bool
	MarketR2    float64
	Significant bool
}

// Compute resolves betas for every position, serving from cache where
// possible and regressing only the gaps. Positions with insufficient history
// simply have no beta; that is data, not an error.
func (e *BetaEngine) Compute(positions []domain.Position, date string, cache *marketdata.PriceCache) (map[string]PositionBetas, error) {
	ids := make([]string, len(positions))
	for i, p := range positions {
		ids[i] = p.ID
	}
	cached, err := e.repo.CachedMetrics(ids, date)
	if err != nil {
		return nil, err
	}

	end, err := calendar.Parse(date)
	if err != nil {
		return nil, fmt.Errorf("bad trading date %q: %w", date, err)
	}
	start := calendar.Format(e.cal.TradingDaysBack(end, e.cfg.MarketBetaWindowDays))

	marketSeries, err := e.md.LoadReturns(e.cfg.BenchmarkSymbol, start, date, cache)
	if err != nil {
		return nil, err
	}
	ratesSeries, err := e.md.LoadReturns(e.cfg.RatesBenchmarkSymbol, start, date, cache)
	if err != nil {
		return nil, err
	}

	out := make(map[string]PositionBetas, len(positions))
	var toPersist []PositionMetric

	// Regressions run per return-symbol; positions sharing a symbol share
	// the computed betas.
	type regOut struct {
		market *factors.OLSResult
		rates  *factors.OLSResult
	}
	bySymbol := make(map[string]*regOut)

	for i := range positions {
		pos := &positions[i]
		pb := PositionBetas{}

		if m, ok := cached[pos.ID][MetricMarketBeta]; ok {
			pb.MarketBeta, pb.HasMarket = m.Value, true
			pb.MarketR2 = m.RSquared
			pb.Significant = m.Significant
		}
		if m, ok := cached[pos.ID][MetricIRBeta]; ok {
			pb.IRBeta, pb.HasIR = m.Value, true
		}
		if pb.HasMarket && pb.HasIR {
			out[pos.ID] = pb
			continue
		}

		symbol := pos.ReturnSymbol()
		reg, ok := bySymbol[symbol]
		if !ok {
			reg = &regOut{}
			symSeries, err := e.md.LoadReturns(symbol, start, date, cache)
			if err == nil && len(symSeries.Returns) > 0 {
				reg.market = e.regress(symSeries, marketSeries)
				reg.rates = e.regress(symSeries, ratesSeries)
			}
			bySymbol[symbol] = reg
		}

		if !pb.HasMarket && reg.market != nil {
			pb.MarketBeta = factors.ClampBeta(reg.market.Beta, e.cfg.BetaCap)
			pb.HasMarket = true
			pb.MarketR2 = reg.market.RSquared
			pb.Significant = reg.market.Significant
			toPersist = append(toPersist, PositionMetric{
				PositionID:   pos.ID,
				Date:         date,
				Metric:       MetricMarketBeta,
				Value:        pb.MarketBeta,
				RSquared:     reg.market.RSquared,
				Observations: reg.market.Observations,
				Significant:  reg.market.Significant,
			})
		}
		if !pb.HasIR && reg.rates != nil {
			pb.IRBeta = factors.ClampBeta(reg.rates.Beta, e.cfg.BetaCap)
			pb.HasIR = true
			toPersist = append(toPersist, PositionMetric{
				PositionID:   pos.ID,
				Date:         date,
				Metric:       MetricIRBeta,
				Value:        pb.IRBeta,
				RSquared:     reg.rates.RSquared,
				Observations: reg.rates.Observations,
				Significant:  reg.rates.Significant,
			})
		}
		out[pos.ID] = pb
	}

	// Persist immediately so a later phase failure keeps the cache warm
	if err := e.repo.UpsertMetrics(toPersist); err != nil {
		return nil, err
	}
	return out, nil
}

// PortfolioMarketBeta aggregates position betas with signed equity weights.
// Positions without a beta contribute zero.
func (e *BetaEngine) PortfolioMarketBeta(positions []domain.Position, betas map[string]PositionBetas, prices marketdata.PriceSource, date string, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	var total float64
	for i := range positions {
		pos := &positions[i]
		pb, ok := betas[pos.ID]
		if !ok || !pb.HasMarket {
			continue
		}
		total += marketdata.SignedWeight(pos, prices, date, equity) * pb.MarketBeta
	}
	return total
}

func (e *BetaEngine) regress(sym, benchmark marketdata.ReturnSeries) *factors.OLSResult {
	x, y := marketdata.AlignPair(benchmark, sym)
	if len(x) < e.cfg.MinRegressionDays {
		return nil
	}
	res, err := factors.OLS(x, y, e.cfg.BetaConfidence)
	if err != nil {
		return nil
	}
	return &res
}

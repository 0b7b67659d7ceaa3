// Package correlation computes pairwise log-return correlations for a
// portfolio's public symbols, with optional threshold clustering.
package correlation

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/marketdata"
	"github.com/aristath/spyglass/internal/portfolio"
)

// Engine computes and persists correlation matrices.
type Engine struct {
	md        *marketdata.Service
	repo      *Repository
	positions *portfolio.Repository
	cal       *calendar.Calendar
	cfg       config.AnalyticsConfig
	log       zerolog.Logger
}

// NewEngine creates the correlation engine.
func NewEngine(md *marketdata.Service, repo *Repository, positions *portfolio.Repository, cal *calendar.Calendar, cfg config.AnalyticsConfig, log zerolog.Logger) *Engine {
	return &Engine{
		md:        md,
		repo:      repo,
		positions: positions,
		cal:       cal,
		cfg:       cfg,
		log:       log.With().Str("component", "correlation_engine").Logger(),
	}
}

// Compute builds the pairwise correlation set for a portfolio-date and
// persists it with its clusters. Early dates with too little shared history
// produce a skip, which the evening retry picks up once data lands.
func (e *Engine) Compute(p *domain.Portfolio, date string, cache *marketdata.PriceCache) domain.CalcResult {
	positions, err := e.positions.ActivePositionsOn(p.ID, date)
	if err != nil {
		return domain.Failed(err)
	}

	symbolSet := make(map[string]bool)
	for _, pos := range positions {
		if pos.Class == domain.ClassPublic {
			symbolSet[pos.Symbol] = true
		}
	}
	if len(symbolSet) < 2 {
		return domain.Skipped(domain.SkipNoPublicPositions)
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	end, err := calendar.Parse(date)
	if err != nil {
		return domain.Failed(fmt.Errorf("bad trading date %q: %w", date, err))
	}
	start := calendar.Format(e.cal.TradingDaysBack(end, e.cfg.CorrelationWindowDays))

	series := make([]marketdata.ReturnSeries, 0, len(symbols))
	for _, s := range symbols {
		lr, err := e.md.LoadLogReturns(s, start, date, cache)
		if err != nil {
			return domain.Failed(err)
		}
		series = append(series, lr)
	}

	pairs := PairwiseCorrelations(series, e.cfg.CorrMinPairObs)
	if len(pairs) == 0 {
		return domain.Skipped(domain.SkipInsufficientData)
	}

	clusters := ClusterByThreshold(symbols, pairs, e.cfg.CorrClusterThreshold)

	result := &domain.CorrelationResult{
		PortfolioID: p.ID,
		Date:        date,
		WindowDays:  e.cfg.CorrelationWindowDays,
		Pairs:       pairs,
		Clusters:    clusters,
	}
	if err := e.repo.Replace(result, e.cfg.CorrClusterThreshold); err != nil {
		return domain.Failed(err)
	}

	return domain.OK().
		WithDiagnostic("pairs", fmt.Sprintf("%d", len(pairs))).
		WithDiagnostic("clusters", fmt.Sprintf("%d", len(clusters)))
}

// PairwiseCorrelations computes Pearson correlations for every symbol pair.
// Each pair is inner-joined on its own common dates; the p-value is derived
// from the same aligned sample, never from independently filtered arrays.
// Pairs with fewer than minObs common observations are omitted.
func PairwiseCorrelations(series []marketdata.ReturnSeries, minObs int) []domain.PairwiseCorrelation {
	var pairs []domain.PairwiseCorrelation
	for i := 0; i < len(series); i++ {
		for j := i + 1; j < len(series); j++ {
			x, y := marketdata.AlignPair(series[i], series[j])
			n := len(x)
			if n < minObs {
				continue
			}

			rho := stat.Correlation(x, y, nil)
			if math.IsNaN(rho) {
				continue
			}
			pairs = append(pairs, domain.PairwiseCorrelation{
				Symbol1:      series[i].Symbol,
				Symbol2:      series[j].Symbol,
				Correlation:  rho,
				Observations: n,
				PValue:       correlationPValue(rho, n),
			})
		}
	}
	return pairs
}

// correlationPValue is the two-sided p-value of the correlation t-test with
// n-2 degrees of freedom.
func correlationPValue(rho float64, n int) float64 {
	if n <= 2 {
		return 1
	}
	denom := 1 - rho*rho
	if denom <= 0 {
		return 0
	}
	t := rho * math.Sqrt(float64(n-2)/denom)
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return 2 * tDist.Survival(math.Abs(t))
}

// ClusterByThreshold groups symbols by single-link connectivity: two symbols
// join the same cluster when any path of pairs with rho >= threshold connects
// them. Singleton clusters are dropped.
func ClusterByThreshold(symbols []string, pairs []domain.PairwiseCorrelation, threshold float64) [][]string {
	parent := make(map[string]string, len(symbols))
	for _, s := range symbols {
		parent[s] = s
	}
	var find func(s string) string
	find = func(s string) string {
		if parent[s] != s {
			parent[s] = find(parent[s])
		}
		return parent[s]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, p := range pairs {
		if p.Correlation >= threshold {
			union(p.Symbol1, p.Symbol2)
		}
	}

	groups := make(map[string][]string)
	for _, s := range symbols {
		root := find(s)
		groups[root] = append(groups[root], s)
	}

	var clusters [][]string
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		clusters = append(clusters, members)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })
	return clusters
}

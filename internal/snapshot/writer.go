package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/marketdata"
	"github.com/aristath/spyglass/internal/portfolio"
)

// Writer drives the two-phase snapshot protocol and the equity rollforward.
type Writer struct {
	repo       *Repository
	portfolios *portfolio.Repository
	log        zerolog.Logger
}

// NewWriter creates a snapshot writer.
func NewWriter(repo *Repository, portfolios *portfolio.Repository, log zerolog.Logger) *Writer {
	return &Writer{
		repo:       repo,
		portfolios: portfolios,
		log:        log.With().Str("component", "snapshot_writer").Logger(),
	}
}

// BeginPlaceholder runs the placeholder phase. When a completed row already
// exists for the portfolio-date it skips (the pipeline short-circuits)
// unless force is set, in which case the row reverts to placeholder state
// and recomputation proceeds.
func (w *Writer) BeginPlaceholder(portfolioID, date string, force bool) domain.CalcResult {
	existing, err := w.repo.Get(portfolioID, date)
	if err != nil {
		return domain.Failed(err)
	}
	if existing != nil && existing.IsComplete {
		if !force {
			return domain.Skipped(domain.SkipAlreadyComplete)
		}
		if err := w.repo.MarkIncomplete(portfolioID, date); err != nil {
			return domain.Failed(err)
		}
	}
	if err := w.repo.UpsertPlaceholder(portfolioID, date); err != nil {
		return domain.Failed(err)
	}
	return domain.OK()
}

// Inputs carries everything the completion phase assembles into the row.
type Inputs struct {
	Portfolio *domain.Portfolio
	Date      string
	Positions []domain.Position
	Prices    marketdata.PriceSource
	Greeks    map[string]domain.Greeks

	MarketBeta         float64
	RealizedVol21d     float64
	RealizedVol63d     float64
	ExpectedVol        float64
	VolTrend           string
	VolPercentile      float64
	HHI                float64
	EffectivePositions float64
	Top3Concentration  float64
	Top10Concentration float64
	SectorWeights      map[string]float64
}

// Complete runs the completion phase: values the book, rolls the equity
// balance forward, fills the snapshot row, marks it complete, and writes the
// new equity back to the portfolio for the next trading day.
func (w *Writer) Complete(in Inputs) (domain.CalcResult, float64) {
	p := in.Portfolio

	var long, short, costBasis, delta, gamma, theta, vega float64
	var publicCount, optionCount, privateCount int
	for i := range in.Positions {
		pos := &in.Positions[i]
		v, _ := marketdata.PositionValue(pos, in.Prices, in.Date)
		if v >= 0 {
			long += v
		} else {
			short += -v
		}

		mult := 1.0
		if pos.Class == domain.ClassOptions {
			mult = domain.OptionContractMultiplier
		}
		costBasis += pos.Quantity * pos.EntryPrice * mult

		switch pos.Class {
		case domain.ClassPublic:
			publicCount++
		case domain.ClassOptions:
			optionCount++
		case domain.ClassPrivate:
			privateCount++
		}

		if pos.Type.IsOption() {
			if g, ok := in.Greeks[pos.ID]; ok {
				// Greeks are stored long-contract; signed quantity applies
				// direction once, contract multiplier scales to shares.
				contracts := pos.Quantity * domain.OptionContractMultiplier
				delta += g.Delta * contracts
				gamma += g.Gamma * contracts
				theta += g.Theta * contracts
				vega += g.Vega * contracts
			}
		}
	}

	gross := long + short
	net := long - short

	realized, err := w.portfolios.RealizedPnLOn(p.ID, in.Date)
	if err != nil {
		return domain.Failed(err), 0
	}
	flow, err := w.portfolios.NetCapitalFlowOn(p.ID, in.Date)
	if err != nil {
		return domain.Failed(err), 0
	}

	prev, err := w.repo.LatestCompleteBefore(p.ID, in.Date)
	if err != nil {
		return domain.Failed(err), 0
	}

	// Equity rollforward from the prior completed day
	prevEquity := p.EquityBalance
	var prevTotal, prevCumPnL, prevCumRealized float64
	if prev != nil {
		prevEquity = prev.EquityBalance
		prevTotal = prev.TotalValue
		prevCumPnL = prev.CumulativePnL
		prevCumRealized = prev.CumulativeRealizedPnL
	}
	newEquity := prevEquity + realized + flow

	// Equity carries positions at cost; marking the book to market on top
	// of it yields total value, and cash is what equity leaves uninvested.
	unrealized := net - costBasis
	total := newEquity + unrealized
	cash := total - net

	var dailyPnL float64
	if prev != nil {
		dailyPnL = total - prevTotal - flow
	}

	sectorJSON := "{}"
	if len(in.SectorWeights) > 0 {
		b, err := json.Marshal(in.SectorWeights)
		if err != nil {
			return domain.Failed(fmt.Errorf("failed to marshal sector weights: %w", err)), 0
		}
		sectorJSON = string(b)
	}

	snap := &domain.Snapshot{
		PortfolioID:           p.ID,
		Date:                  in.Date,
		TotalValue:            total,
		CashBalance:           cash,
		LongValue:             long,
		ShortValue:            short,
		GrossExposure:         gross,
		NetExposure:           net,
		DailyPnL:              dailyPnL,
		DailyRealizedPnL:      realized,
		CumulativePnL:         prevCumPnL + dailyPnL,
		CumulativeRealizedPnL: prevCumRealized + realized,
		DailyCapitalFlow:      flow,
		Delta:                 delta,
		Gamma:                 gamma,
		Theta:                 theta,
		Vega:                  vega,
		PositionCount:         len(in.Positions),
		PublicCount:           publicCount,
		OptionCount:           optionCount,
		PrivateCount:          privateCount,
		EquityBalance:         newEquity,
		RealizedVol21d:        in.RealizedVol21d,
		RealizedVol63d:        in.RealizedVol63d,
		ExpectedVol:           in.ExpectedVol,
		VolTrend:              in.VolTrend,
		VolPercentile:         in.VolPercentile,
		MarketBeta:            in.MarketBeta,
		HHI:                   in.HHI,
		EffectivePositions:    in.EffectivePositions,
		Top3Concentration:     in.Top3Concentration,
		Top10Concentration:    in.Top10Concentration,
		SectorExposure:        sectorJSON,
	}
	if err := w.repo.Complete(snap); err != nil {
		return domain.Failed(err), 0
	}

	// Next trading day's pipeline reads the rolled-forward equity as input
	if err := w.portfolios.UpdateEquityBalance(p.ID, newEquity); err != nil {
		return domain.Failed(err), 0
	}

	w.log.Debug().
		Str("portfolio", p.ID).
		Str("date", in.Date).
		Float64("equity", newEquity).
		Float64("daily_pnl", dailyPnL).
		Msg("Snapshot completed")
	return domain.OK(), newEquity
}

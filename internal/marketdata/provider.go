// Package marketdata owns price ingestion, the per-run price cache, aligned
// return matrices, and the canonical position valuation used by every engine.
package marketdata

import (
	"context"
	"time"

	"github.com/aristath/spyglass/internal/domain"
)

// Capability tags what a provider can serve. Providers are concrete adapter
// types behind this common interface; a chain is an ordered list of them.
type Capability string

const (
	CapQuotes     Capability = "current_quotes"
	CapBars       Capability = "historical_bars"
	CapProfile    Capability = "company_profile"
	CapHoldings   Capability = "fund_holdings"
	CapFinancials Capability = "financial_statements"
	CapEstimates  Capability = "analyst_estimates"
	CapEarnings   Capability = "earnings_calendar"
)

// Quote is a latest-price observation.
type Quote struct {
	Symbol string
	Price  float64
	AsOf   time.Time
}

// Holding is one constituent of a fund.
type Holding struct {
	Symbol string
	Weight float64
}

// Provider is the common contract for market-data upstreams.
// A provider advertises its capabilities; calling an unsupported method
// returns ErrUnsupported and the chain moves on.
type Provider interface {
	Name() string
	Supports(c Capability) bool

	Quotes(ctx context.Context, symbols []string) ([]Quote, error)
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
	Profile(ctx context.Context, symbol string) (*domain.CompanyProfile, error)
	Holdings(ctx context.Context, symbol string) ([]Holding, error)
}

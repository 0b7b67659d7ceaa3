// Package domain holds the core entities shared by every calculation engine.
// The domain layer is pure: no infrastructure dependencies, no SQL.
package domain

import "time"

// DateLayout is the canonical format for trading dates throughout the system.
// All dates in engine interfaces are trading dates, never wall-clock dates.
const DateLayout = "2006-01-02"

// PositionType describes direction and instrument kind.
type PositionType string

const (
	PositionLong      PositionType = "LONG"
	PositionShort     PositionType = "SHORT"
	PositionLongCall  PositionType = "LC"
	PositionLongPut   PositionType = "LP"
	PositionShortCall PositionType = "SC"
	PositionShortPut  PositionType = "SP"
)

// IsOption reports whether the position type is a listed option.
func (pt PositionType) IsOption() bool {
	switch pt {
	case PositionLongCall, PositionLongPut, PositionShortCall, PositionShortPut:
		return true
	}
	return false
}

// IsShort reports whether the position type carries short exposure.
// Short stock, short calls and short puts are all short the contract.
func (pt PositionType) IsShort() bool {
	switch pt {
	case PositionShort, PositionShortCall, PositionShortPut:
		return true
	}
	return false
}

// InvestmentClass partitions positions by how they are marked.
type InvestmentClass string

const (
	ClassPublic  InvestmentClass = "PUBLIC"
	ClassOptions InvestmentClass = "OPTIONS"
	ClassPrivate InvestmentClass = "PRIVATE"
)

// OptionContractMultiplier is the share count per listed option contract.
const OptionContractMultiplier = 100.0

// Portfolio is a user-owned book with a rolled-forward equity balance.
// EquityBalance is starting capital + cumulative realized P&L + cumulative
// net capital flows. It is not gross position value; leveraged books can
// carry gross exposure well above it.
type Portfolio struct {
	ID            string
	UserID        string
	Name          string
	BaseCurrency  string
	EquityBalance float64
	IsActive      bool
}

// Position is owned by exactly one portfolio.
type Position struct {
	ID               string
	PortfolioID      string
	Symbol           string
	Type             PositionType
	Class            InvestmentClass
	Quantity         float64 // signed for stocks, contracts for options
	EntryPrice       float64
	EntryDate        string
	ExitDate         string // empty while open
	ExitPrice        float64
	UnderlyingSymbol string // options only
	Strike           float64
	Expiration       string
	MarketValue      float64 // last persisted mark, may be stale
}

// ActiveOn reports whether the position is live on the given trading date:
// entry_date <= d and (exit_date is null or exit_date > d).
func (p *Position) ActiveOn(date string) bool {
	if p.EntryDate > date {
		return false
	}
	return p.ExitDate == "" || p.ExitDate > date
}

// PriceSymbol returns the symbol whose market bars price this position.
// Options are priced off their own symbol but regress off the underlying.
func (p *Position) PriceSymbol() string {
	return p.Symbol
}

// ReturnSymbol returns the symbol whose return series represents this
// position in regressions. For options that is the underlying.
func (p *Position) ReturnSymbol() string {
	if p.Type.IsOption() && p.UnderlyingSymbol != "" {
		return p.UnderlyingSymbol
	}
	return p.Symbol
}

// Bar is one OHLCV row keyed by (symbol, date). Treasury yields live in the
// same table under symbols like DGS10, with Close holding the yield in percent.
type Bar struct {
	Symbol     string
	Date       string
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	DataSource string
}

// CompanyProfile maps a symbol to sector metadata. Many positions share one profile.
type CompanyProfile struct {
	Symbol   string
	Name     string
	Sector   string
	Industry string
}

// FactorType distinguishes the two factor families.
type FactorType string

const (
	FactorRidge  FactorType = "ridge"
	FactorSpread FactorType = "spread"
)

// FactorDefinition maps a named factor to a long ETF or long-short ETF pair.
type FactorDefinition struct {
	ID       string
	Name     string
	Type     FactorType
	LongETF  string
	ShortETF string // empty for ridge factors
}

// QualityFlag tags how much history backed a symbol-factor regression.
type QualityFlag string

const (
	QualityFull    QualityFlag = "full_history"
	QualityPartial QualityFlag = "partial_history"
)

// SymbolFactorExposure is a per-symbol beta, intrinsic to the symbol and
// independent of any portfolio holding it.
type SymbolFactorExposure struct {
	Symbol          string
	FactorID        string
	CalculationDate string
	Beta            float64
	RSquared        float64
	Observations    int
	Quality         QualityFlag
	Significant     bool
}

// PortfolioFactorExposure is the weighted aggregation of symbol betas.
type PortfolioFactorExposure struct {
	PortfolioID     string
	FactorID        string
	CalculationDate string
	Beta            float64
	DollarExposure  float64 // Beta x equity balance
}

// Greeks are per-position per-date, supplied by a sibling pricing service.
// Delta is stored for the long contract: calls >= 0, puts <= 0. The
// aggregator multiplies by signed quantity so short positions flip the sign
// exactly once.
type Greeks struct {
	PositionID string
	Date       string
	Delta      float64
	Gamma      float64
	Theta      float64
	Vega       float64
}

// Snapshot is the single portfolio-day row assembled by the batch pipeline.
// IsComplete=false marks an in-flight placeholder.
type Snapshot struct {
	ID                    string
	PortfolioID           string
	Date                  string
	TotalValue            float64
	CashBalance           float64
	LongValue             float64
	ShortValue            float64
	GrossExposure         float64
	NetExposure           float64
	DailyPnL              float64
	DailyRealizedPnL      float64
	CumulativePnL         float64
	CumulativeRealizedPnL float64
	DailyCapitalFlow      float64
	Delta                 float64
	Gamma                 float64
	Theta                 float64
	Vega                  float64
	PositionCount         int
	PublicCount           int
	OptionCount           int
	PrivateCount          int
	EquityBalance         float64
	RealizedVol21d        float64
	RealizedVol63d        float64
	ExpectedVol           float64
	VolTrend              string
	VolPercentile         float64
	MarketBeta            float64
	HHI                   float64
	EffectivePositions    float64
	Top3Concentration     float64
	Top10Concentration    float64
	TargetPriceUpside     float64
	SectorExposure        string // JSON object sector -> weight
	IsComplete            bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// PairwiseCorrelation is one child row of a correlation calculation.
type PairwiseCorrelation struct {
	Symbol1      string
	Symbol2      string
	Correlation  float64
	Observations int
	PValue       float64
}

// CorrelationResult is a parent calculation with its children.
type CorrelationResult struct {
	ID          string
	PortfolioID string
	Date        string
	WindowDays  int
	Pairs       []PairwiseCorrelation
	Clusters    [][]string
}

// StressResult is one scenario outcome for a portfolio-date.
type StressResult struct {
	PortfolioID       string
	ScenarioName      string
	Date              string
	DirectPnL         float64
	CorrelatedPnL     float64
	CorrelationEffect float64
	ExposureBasis     string // "precomputed" or "fallback"
	FactorImpacts     map[string]float64
}

// BatchRun is the in-memory tracker state. At most one exists process-wide.
type BatchRun struct {
	ID                   string
	StartedAt            time.Time
	TriggeredBy          string
	TotalJobs            int
	CompletedJobs        int
	FailedJobs           int
	CurrentJobName       string
	CurrentPortfolioName string
}

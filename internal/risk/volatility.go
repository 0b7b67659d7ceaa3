package risk

import (
	"math"
	"sort"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/spyglass/internal/calendar"
	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/marketdata"
)

// Annualization factor for daily returns.
const tradingDaysPerYear = 252.0

// VolTrend labels.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// VolProfile is the volatility picture for one return series.
type VolProfile struct {
	Realized21d  float64
	Realized63d  float64
	ExpectedVol  float64 // HAR(1,5,22) one-step forecast, annualized
	Percentile   float64 // current 21d vol vs trailing 1y distribution, 0..1
	Trend        string
	Observations int
}

// VolEngine computes realized and forecast volatility per position
// (on the underlying for options) and for the portfolio return series.
type VolEngine struct {
	md  *marketdata.Service
	cal *calendar.Calendar
	cfg config.AnalyticsConfig
	log zerolog.Logger
}

// NewVolEngine creates the volatility engine.
func NewVolEngine(md *marketdata.Service, cal *calendar.Calendar, cfg config.AnalyticsConfig, log zerolog.Logger) *VolEngine {
	return &VolEngine{
		md:  md,
		cal: cal,
		cfg: cfg,
		log: log.With().Str("component", "vol_engine").Logger(),
	}
}

// ProfileForSymbol loads enough history for the percentile window plus a
// vol-estimation runway and profiles the symbol's returns.
func (e *VolEngine) ProfileForSymbol(symbol, date string, cache *marketdata.PriceCache) (*VolProfile, error) {
	end, err := calendar.Parse(date)
	if err != nil {
		return nil, err
	}
	// 21 extra days so the oldest rolling vol point has a full window
	start := calendar.Format(e.cal.TradingDaysBack(end, e.cfg.VolPercentileWindowDays+21))

	series, err := e.md.LoadReturns(symbol, start, date, cache)
	if err != nil {
		return nil, err
	}
	return e.Profile(series.Returns), nil
}

// Profile computes the volatility profile from a chronological daily return
// series. Returns nil when even the short window cannot be filled.
func (e *VolEngine) Profile(returns []float64) *VolProfile {
	if len(returns) < 21 {
		return nil
	}

	p := &VolProfile{
		Realized21d:  RealizedVol(returns, 21),
		Observations: len(returns),
		Trend:        TrendStable,
	}
	if len(returns) >= 63 {
		p.Realized63d = RealizedVol(returns, 63)
	}

	rolling := rollingVol(returns, 21)
	if len(rolling) > 1 {
		p.Percentile = percentileRank(rolling, rolling[len(rolling)-1])
		p.Trend = e.trend(rolling)
	}
	if forecast, ok := harForecast(returns); ok {
		p.ExpectedVol = forecast
	} else {
		// Not enough runway for HAR; fall back to the short realized window
		p.ExpectedVol = p.Realized21d
	}
	return p
}

// RealizedVol is the annualized standard deviation of the last n returns.
func RealizedVol(returns []float64, n int) float64 {
	if len(returns) < n || n < 2 {
		return 0
	}
	window := returns[len(returns)-n:]
	return stat.StdDev(window, nil) * math.Sqrt(tradingDaysPerYear)
}

// rollingVol builds the 21d realized vol series over the full history.
func rollingVol(returns []float64, window int) []float64 {
	if len(returns) < window {
		return nil
	}
	out := make([]float64, 0, len(returns)-window+1)
	for i := window; i <= len(returns); i++ {
		out = append(out, stat.StdDev(returns[i-window:i], nil)*math.Sqrt(tradingDaysPerYear))
	}
	return out
}

// percentileRank is the fraction of observations strictly below x.
func percentileRank(values []float64, x float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := sort.SearchFloat64s(sorted, x)
	return float64(idx) / float64(len(sorted))
}

// trend classifies the direction of the recent vol series by the slope of a
// short linear fit, normalized by the series mean so thresholds are
// scale-free.
func (e *VolEngine) trend(rolling []float64) string {
	n := e.cfg.VolTrendWindowDays
	if n < 2 || len(rolling) < n {
		return TrendStable
	}
	window := rolling[len(rolling)-n:]

	slopes := talib.LinearRegSlope(window, n)
	slope := slopes[len(slopes)-1]

	mean := stat.Mean(window, nil)
	if mean <= 0 {
		return TrendStable
	}
	rel := slope / mean
	switch {
	case rel > 0.005:
		return TrendIncreasing
	case rel < -0.005:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// harForecast fits HAR(1,5,22): tomorrow's daily realized variance regressed
// on today's daily, weekly and monthly average realized variances, then
// returns the annualized vol forecast. Needs 22 lag days plus a fitting
// sample.
func harForecast(returns []float64) (float64, bool) {
	const (
		lagD = 1
		lagW = 5
		lagM = 22
	)
	// Daily realized variance proxy
	rv := make([]float64, len(returns))
	for i, r := range returns {
		rv[i] = r * r
	}
	nObs := len(rv) - lagM
	if nObs < 30 {
		return 0, false
	}

	// Design: [1, rv_d, rv_w, rv_m] predicting next-day rv
	X := mat.NewDense(nObs, 4, nil)
	y := mat.NewVecDense(nObs, nil)
	for i := 0; i < nObs; i++ {
		t := lagM + i - 1 // index of "today" for observation i
		X.Set(i, 0, 1)
		X.Set(i, 1, rv[t])
		X.Set(i, 2, meanOf(rv[t-lagW+1:t+1]))
		X.Set(i, 3, meanOf(rv[t-lagM+1:t+1]))
		y.SetVec(i, rv[t+1])
	}

	var coef mat.VecDense
	if err := coef.SolveVec(X, y); err != nil {
		return 0, false
	}

	// Forecast using the latest lags
	t := len(rv) - 1
	forecastRV := coef.AtVec(0) +
		coef.AtVec(1)*rv[t] +
		coef.AtVec(2)*meanOf(rv[t-lagW+1:t+1]) +
		coef.AtVec(3)*meanOf(rv[t-lagM+1:t+1])
	if forecastRV < 0 || math.IsNaN(forecastRV) {
		return 0, false
	}
	return math.Sqrt(forecastRV * tradingDaysPerYear), true
}

func meanOf(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// ToMetrics converts a profile to position metric rows for caching.
func (p *VolProfile) ToMetrics(positionID, date string) []PositionMetric {
	if p == nil {
		return nil
	}
	return []PositionMetric{
		{PositionID: positionID, Date: date, Metric: MetricVol21d, Value: p.Realized21d, Observations: p.Observations},
		{PositionID: positionID, Date: date, Metric: MetricVol63d, Value: p.Realized63d, Observations: p.Observations},
		{PositionID: positionID, Date: date, Metric: MetricExpectedVol, Value: p.ExpectedVol, Observations: p.Observations},
		{PositionID: positionID, Date: date, Metric: MetricVolPercentile, Value: p.Percentile, Observations: p.Observations},
	}
}

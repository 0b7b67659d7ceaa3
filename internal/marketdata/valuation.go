package marketdata

import (
	"github.com/aristath/spyglass/internal/domain"
)

// PriceSource answers close lookups for valuation. Satisfied by PriceCache
// via a small adapter and by test stubs.
type PriceSource interface {
	Close(symbol, date string) (float64, bool)
}

// PositionValue is the canonical signed market value of a position on a date.
// Every engine that needs a position value calls this one function so that
// valuations, weights and snapshot totals can never disagree.
//
//	PUBLIC:  quantity x close       (quantity signed, shorts negative)
//	OPTIONS: quantity x 100 x close (contract price, shorts negative)
//	PRIVATE: quantity x entry price (no mark-to-market)
//
// When no close is available the last persisted MarketValue is used; when
// that is also absent the entry cost stands in. The second return reports
// whether a live mark was found.
func PositionValue(pos *domain.Position, prices PriceSource, date string) (float64, bool) {
	switch pos.Class {
	case domain.ClassPrivate:
		return pos.Quantity * pos.EntryPrice, true

	case domain.ClassOptions:
		if close, ok := prices.Close(pos.Symbol, date); ok {
			return pos.Quantity * domain.OptionContractMultiplier * close, true
		}
		if pos.MarketValue != 0 {
			return pos.MarketValue, false
		}
		return pos.Quantity * domain.OptionContractMultiplier * pos.EntryPrice, false

	default: // PUBLIC
		if close, ok := prices.Close(pos.Symbol, date); ok {
			return pos.Quantity * close, true
		}
		if pos.MarketValue != 0 {
			return pos.MarketValue, false
		}
		return pos.Quantity * pos.EntryPrice, false
	}
}

// GrossWeight returns |position value| / equity, the weight used for
// concentration metrics. Zero equity yields zero weight; callers skip such
// portfolios before reaching here.
func GrossWeight(pos *domain.Position, prices PriceSource, date string, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	v, _ := PositionValue(pos, prices, date)
	if v < 0 {
		v = -v
	}
	return v / equity
}

// SignedWeight returns position value / equity, the weight used for factor
// aggregation where shorts contribute negative exposure.
func SignedWeight(pos *domain.Position, prices PriceSource, date string, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	v, _ := PositionValue(pos, prices, date)
	return v / equity
}

package marketdata

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/spyglass/internal/domain"
)

type stubPrices map[string]float64

func (s stubPrices) Close(symbol, date string) (float64, bool) {
	c, ok := s[symbol]
	return c, ok
}

func TestPositionValuePublic(t *testing.T) {
	prices := stubPrices{"AAPL": 150.0}

	long := &domain.Position{Symbol: "AAPL", Class: domain.ClassPublic, Type: domain.PositionLong, Quantity: 10}
	v, live := PositionValue(long, prices, "2026-01-07")
	assert.True(t, live)
	assert.Equal(t, 1500.0, v)

	short := &domain.Position{Symbol: "AAPL", Class: domain.ClassPublic, Type: domain.PositionShort, Quantity: -10}
	v, _ = PositionValue(short, prices, "2026-01-07")
	assert.Equal(t, -1500.0, v)
}

func TestPositionValueOptionsUsesContractMultiplier(t *testing.T) {
	prices := stubPrices{"AAPL260116C00150000": 3.50}

	pos := &domain.Position{
		Symbol:   "AAPL260116C00150000",
		Class:    domain.ClassOptions,
		Type:     domain.PositionLongCall,
		Quantity: 2,
	}
	v, live := PositionValue(pos, prices, "2026-01-07")
	assert.True(t, live)
	assert.Equal(t, 700.0, v) // 2 contracts x 100 x 3.50

	short := &domain.Position{
		Symbol:   "AAPL260116C00150000",
		Class:    domain.ClassOptions,
		Type:     domain.PositionShortCall,
		Quantity: -2,
	}
	v, _ = PositionValue(short, prices, "2026-01-07")
	assert.Equal(t, -700.0, v)
}

func TestPositionValuePrivateIgnoresMarket(t *testing.T) {
	prices := stubPrices{"PRIVCO": 999.0}

	pos := &domain.Position{
		Symbol:     "PRIVCO",
		Class:      domain.ClassPrivate,
		Type:       domain.PositionLong,
		Quantity:   100,
		EntryPrice: 10.0,
	}
	v, live := PositionValue(pos, prices, "2026-01-07")
	assert.True(t, live)
	assert.Equal(t, 1000.0, v)
}

func TestPositionValueFallsBackToLastMark(t *testing.T) {
	pos := &domain.Position{
		Symbol:      "THIN",
		Class:       domain.ClassPublic,
		Type:        domain.PositionLong,
		Quantity:    10,
		EntryPrice:  5.0,
		MarketValue: 62.0,
	}
	v, live := PositionValue(pos, stubPrices{}, "2026-01-07")
	assert.False(t, live)
	assert.Equal(t, 62.0, v)
}

func TestPositionValueFallsBackToEntryCost(t *testing.T) {
	pos := &domain.Position{
		Symbol:     "THIN",
		Class:      domain.ClassPublic,
		Type:       domain.PositionLong,
		Quantity:   10,
		EntryPrice: 5.0,
	}
	v, live := PositionValue(pos, stubPrices{}, "2026-01-07")
	assert.False(t, live)
	assert.Equal(t, 50.0, v)
}

func TestWeights(t *testing.T) {
	prices := stubPrices{"AAPL": 150.0}
	short := &domain.Position{Symbol: "AAPL", Class: domain.ClassPublic, Type: domain.PositionShort, Quantity: -10}

	assert.Equal(t, 0.15, GrossWeight(short, prices, "2026-01-07", 10000))
	assert.Equal(t, -0.15, SignedWeight(short, prices, "2026-01-07", 10000))
	assert.Equal(t, 0.0, GrossWeight(short, prices, "2026-01-07", 0))
}

func TestPriceCacheConcurrencySafeReads(t *testing.T) {
	cache := NewPriceCache()
	cache.PutSeries("AAPL", map[string]float64{"2026-01-06": 149.0, "2026-01-07": 150.0})

	c, ok := cache.Close("AAPL", "2026-01-07")
	assert.True(t, ok)
	assert.Equal(t, 150.0, c)

	_, ok = cache.Close("MSFT", "2026-01-07")
	assert.False(t, ok)

	series := cache.Series("AAPL")
	assert.Len(t, series, 2)
}

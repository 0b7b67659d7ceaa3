package marketdata

import (
	"sync"
)

// PriceCache is a per-batch-run in-memory price map. It is populated once
// after the refresh phase and read concurrently by every engine for the rest
// of the run, so portfolios computed in the same run see identical prices.
// It is discarded when the run ends.
type PriceCache struct {
	mu sync.RWMutex
	// symbol -> date -> close
	closes map[string]map[string]float64
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{closes: make(map[string]map[string]float64)}
}

// Put stores one close.
func (c *PriceCache) Put(symbol, date string, close float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.closes[symbol]
	if !ok {
		m = make(map[string]float64)
		c.closes[symbol] = m
	}
	m[date] = close
}

// PutSeries stores a full date->close series for one symbol.
func (c *PriceCache) PutSeries(symbol string, series map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.closes[symbol]
	if !ok {
		m = make(map[string]float64, len(series))
		c.closes[symbol] = m
	}
	for date, close := range series {
		m[date] = close
	}
}

// Close returns the close for (symbol, date) if cached.
func (c *PriceCache) Close(symbol, date string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.closes[symbol]
	if !ok {
		return 0, false
	}
	close, ok := m[date]
	return close, ok
}

// Series returns a copy of the cached date->close map for a symbol.
func (c *PriceCache) Series(symbol string) map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.closes[symbol]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(m))
	for date, close := range m {
		out[date] = close
	}
	return out
}

// Symbols returns all cached symbols.
func (c *PriceCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	symbols := make([]string, 0, len(c.closes))
	for s := range c.closes {
		symbols = append(symbols, s)
	}
	return symbols
}

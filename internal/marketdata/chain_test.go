package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/domain"
)

type fakeProvider struct {
	name     string
	caps     map[Capability]bool
	barsErr  error
	bars     []domain.Bar
	barCalls int
}

func (f *fakeProvider) Name() string              { return f.name }
func (f *fakeProvider) Supports(c Capability) bool { return f.caps[c] }

func (f *fakeProvider) Quotes(ctx context.Context, symbols []string) ([]Quote, error) {
	return nil, ErrUnsupported
}

func (f *fakeProvider) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	f.barCalls++
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	return f.bars, nil
}

func (f *fakeProvider) Profile(ctx context.Context, symbol string) (*domain.CompanyProfile, error) {
	return nil, ErrUnsupported
}

func (f *fakeProvider) Holdings(ctx context.Context, symbol string) ([]Holding, error) {
	return nil, ErrUnsupported
}

func testProviderConfig() config.ProviderConfig {
	return config.ProviderConfig{
		RequestTimeout: 5,
		MaxRetries:     1,
		BatchSize:      50,
		RatePerSecond:  1000, // fast tests
	}
}

func TestChainFallsThroughOnFailure(t *testing.T) {
	primary := &fakeProvider{
		name:    "primary",
		caps:    map[Capability]bool{CapBars: true},
		barsErr: errors.New("upstream down"),
	}
	fallback := &fakeProvider{
		name: "fallback",
		caps: map[Capability]bool{CapBars: true},
		bars: []domain.Bar{{Symbol: "AAPL", Date: "2026-01-07", Close: 150.0}},
	}

	chain := NewChain([]Provider{primary, fallback}, testProviderConfig(), zerolog.Nop())
	bars, err := chain.Bars(context.Background(), "AAPL", time.Now().AddDate(0, 0, -5), time.Now())
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "AAPL", bars[0].Symbol)
	// Primary was tried, including one retry, before falling through
	assert.Equal(t, 2, primary.barCalls)
}

func TestChainSkipsProvidersWithoutCapability(t *testing.T) {
	quotesOnly := &fakeProvider{
		name: "quotes-only",
		caps: map[Capability]bool{CapQuotes: true},
	}
	barsProvider := &fakeProvider{
		name: "bars",
		caps: map[Capability]bool{CapBars: true},
		bars: []domain.Bar{{Symbol: "SPY", Date: "2026-01-07", Close: 500.0}},
	}

	chain := NewChain([]Provider{quotesOnly, barsProvider}, testProviderConfig(), zerolog.Nop())
	bars, err := chain.Bars(context.Background(), "SPY", time.Now().AddDate(0, 0, -5), time.Now())
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 0, quotesOnly.barCalls)
}

func TestChainErrorsWhenAllProvidersFail(t *testing.T) {
	p := &fakeProvider{
		name:    "only",
		caps:    map[Capability]bool{CapBars: true},
		barsErr: errors.New("boom"),
	}

	chain := NewChain([]Provider{p}, testProviderConfig(), zerolog.Nop())
	_, err := chain.Bars(context.Background(), "SPY", time.Now().AddDate(0, 0, -5), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestChainErrorsWhenNoProviderSupportsCapability(t *testing.T) {
	p := &fakeProvider{name: "bars", caps: map[Capability]bool{CapBars: true}}

	chain := NewChain([]Provider{p}, testProviderConfig(), zerolog.Nop())
	_, err := chain.Holdings(context.Background(), "SPY")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider supports")
}

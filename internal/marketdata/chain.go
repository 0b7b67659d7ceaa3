package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/aristath/spyglass/internal/config"
	"github.com/aristath/spyglass/internal/domain"
	"github.com/aristath/spyglass/internal/metrics"
)

// guardedProvider wraps one upstream with its own circuit breaker and rate
// limiter. Breaker state is per provider so a dead primary never starves
// the fallbacks.
type guardedProvider struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

// Chain tries providers in order for each capability. A provider that does
// not advertise the capability, fails, or has an open breaker is skipped
// and the next one is tried. The chain fails only when every provider does.
type Chain struct {
	providers  []guardedProvider
	maxRetries int
	log        zerolog.Logger
}

// NewChain wraps the given providers, in priority order, with per-provider
// breakers and rate limiters.
func NewChain(providers []Provider, cfg config.ProviderConfig, log zerolog.Logger) *Chain {
	chainLog := log.With().Str("component", "marketdata_chain").Logger()

	guarded := make([]guardedProvider, 0, len(providers))
	for _, p := range providers {
		name := p.Name()
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    2 * time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				chainLog.Warn().
					Str("provider", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Provider breaker state changed")
			},
		}
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		guarded = append(guarded, guardedProvider{
			provider: p,
			breaker:  gobreaker.NewCircuitBreaker(settings),
			limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		})
	}

	return &Chain{
		providers:  guarded,
		maxRetries: cfg.MaxRetries,
		log:        chainLog,
	}
}

// call runs fn against each provider that supports cap, in order, with
// rate limiting, breaker protection and bounded retries per provider.
func (c *Chain) call(ctx context.Context, cap Capability, fn func(Provider) (interface{}, error)) (interface{}, error) {
	var lastErr error
	for i := range c.providers {
		g := &c.providers[i]
		if !g.provider.Supports(cap) {
			continue
		}

		for attempt := 0; attempt <= c.maxRetries; attempt++ {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter wait: %w", err)
			}

			out, err := g.breaker.Execute(func() (interface{}, error) {
				return fn(g.provider)
			})
			if err == nil {
				metrics.ProviderRequests.WithLabelValues(g.provider.Name(), "ok").Inc()
				return out, nil
			}
			metrics.ProviderRequests.WithLabelValues(g.provider.Name(), "error").Inc()
			lastErr = err

			if errors.Is(err, ErrUnsupported) || errors.Is(err, context.Canceled) {
				break
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				// Breaker is shedding load for this provider; no point retrying it
				break
			}

			c.log.Debug().
				Str("provider", g.provider.Name()).
				Str("capability", string(cap)).
				Int("attempt", attempt+1).
				Err(err).
				Msg("Provider call failed")
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("no provider supports capability %s", cap)
	}
	return nil, fmt.Errorf("all providers failed for %s: %w", cap, lastErr)
}

// Quotes fetches latest prices through the chain.
func (c *Chain) Quotes(ctx context.Context, symbols []string) ([]Quote, error) {
	out, err := c.call(ctx, CapQuotes, func(p Provider) (interface{}, error) {
		return p.Quotes(ctx, symbols)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Quote), nil
}

// Bars fetches daily bars for one symbol through the chain.
func (c *Chain) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	out, err := c.call(ctx, CapBars, func(p Provider) (interface{}, error) {
		return p.Bars(ctx, symbol, start, end)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.Bar), nil
}

// Profile fetches sector metadata for one symbol through the chain.
func (c *Chain) Profile(ctx context.Context, symbol string) (*domain.CompanyProfile, error) {
	out, err := c.call(ctx, CapProfile, func(p Provider) (interface{}, error) {
		return p.Profile(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return out.(*domain.CompanyProfile), nil
}

// Holdings fetches fund constituents through the chain.
func (c *Chain) Holdings(ctx context.Context, symbol string) ([]Holding, error) {
	out, err := c.call(ctx, CapHoldings, func(p Provider) (interface{}, error) {
		return p.Holdings(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Holding), nil
}

package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
)

// ErrUnsupported is returned when a provider is asked for a capability it
// does not advertise. The chain treats it as "try the next provider".
var ErrUnsupported = errors.New("capability not supported by provider")

// FMPProvider adapts Financial Modeling Prep. It is the primary upstream and
// serves every capability the engine consumes.
type FMPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewFMPProvider creates the FMP adapter.
func NewFMPProvider(apiKey string, timeout time.Duration, log zerolog.Logger) *FMPProvider {
	return &FMPProvider{
		baseURL: "https://financialmodelingprep.com/api/v3",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("client", "fmp").Logger(),
	}
}

// Name identifies the provider in logs and breaker state.
func (p *FMPProvider) Name() string { return "fmp" }

// Supports reports capability coverage.
func (p *FMPProvider) Supports(c Capability) bool {
	switch c {
	case CapQuotes, CapBars, CapProfile, CapHoldings, CapFinancials, CapEstimates, CapEarnings:
		return true
	}
	return false
}

// Quotes fetches latest prices for up to one provider batch of symbols.
func (p *FMPProvider) Quotes(ctx context.Context, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	var raw []struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	endpoint := fmt.Sprintf("/quote/%s", url.PathEscape(strings.Join(symbols, ",")))
	if err := p.getJSON(ctx, endpoint, nil, &raw); err != nil {
		return nil, err
	}

	now := time.Now()
	quotes := make([]Quote, 0, len(raw))
	for _, q := range raw {
		quotes = append(quotes, Quote{Symbol: q.Symbol, Price: q.Price, AsOf: now})
	}
	return quotes, nil
}

// Bars fetches daily OHLCV for one symbol over [start, end].
func (p *FMPProvider) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var raw struct {
		Symbol     string `json:"symbol"`
		Historical []struct {
			Date   string  `json:"date"`
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Close  float64 `json:"close"`
			Volume float64 `json:"volume"`
		} `json:"historical"`
	}

	params := url.Values{}
	params.Set("from", start.Format(domain.DateLayout))
	params.Set("to", end.Format(domain.DateLayout))
	endpoint := fmt.Sprintf("/historical-price-full/%s", url.PathEscape(symbol))
	if err := p.getJSON(ctx, endpoint, params, &raw); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(raw.Historical))
	for _, h := range raw.Historical {
		if h.Close <= 0 {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Date:       h.Date,
			Open:       h.Open,
			High:       h.High,
			Low:        h.Low,
			Close:      h.Close,
			Volume:     h.Volume,
			DataSource: p.Name(),
		})
	}
	return bars, nil
}

// Profile fetches sector metadata for one symbol.
func (p *FMPProvider) Profile(ctx context.Context, symbol string) (*domain.CompanyProfile, error) {
	var raw []struct {
		Symbol      string `json:"symbol"`
		CompanyName string `json:"companyName"`
		Sector      string `json:"sector"`
		Industry    string `json:"industry"`
	}
	endpoint := fmt.Sprintf("/profile/%s", url.PathEscape(symbol))
	if err := p.getJSON(ctx, endpoint, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no profile returned for %s", symbol)
	}

	return &domain.CompanyProfile{
		Symbol:   raw[0].Symbol,
		Name:     raw[0].CompanyName,
		Sector:   raw[0].Sector,
		Industry: raw[0].Industry,
	}, nil
}

// Holdings fetches ETF constituents.
func (p *FMPProvider) Holdings(ctx context.Context, symbol string) ([]Holding, error) {
	var raw []struct {
		Asset         string  `json:"asset"`
		WeightPercent float64 `json:"weightPercentage"`
	}
	endpoint := fmt.Sprintf("/etf-holder/%s", url.PathEscape(symbol))
	if err := p.getJSON(ctx, endpoint, nil, &raw); err != nil {
		return nil, err
	}

	holdings := make([]Holding, 0, len(raw))
	for _, h := range raw {
		holdings = append(holdings, Holding{Symbol: h.Asset, Weight: h.WeightPercent / 100.0})
	}
	return holdings, nil
}

// getJSON performs one GET with the API key appended and decodes into out.
func (p *FMPProvider) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", p.apiKey)

	reqURL := p.baseURL + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fmp returned status %d for %s", resp.StatusCode, endpoint)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

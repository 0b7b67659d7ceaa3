package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
)

// StooqProvider is the keyless fallback for historical bars. It serves bars
// only; the chain falls through to it when the primary is down or rate-capped.
type StooqProvider struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewStooqProvider creates the stooq.com CSV adapter.
func NewStooqProvider(timeout time.Duration, log zerolog.Logger) *StooqProvider {
	return &StooqProvider{
		baseURL: "https://stooq.com/q/d/l/",
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("client", "stooq").Logger(),
	}
}

// Name identifies the provider in logs and breaker state.
func (p *StooqProvider) Name() string { return "stooq" }

// Supports reports capability coverage: bars only.
func (p *StooqProvider) Supports(c Capability) bool {
	return c == CapBars
}

// Quotes is not supported.
func (p *StooqProvider) Quotes(ctx context.Context, symbols []string) ([]Quote, error) {
	return nil, ErrUnsupported
}

// Profile is not supported.
func (p *StooqProvider) Profile(ctx context.Context, symbol string) (*domain.CompanyProfile, error) {
	return nil, ErrUnsupported
}

// Holdings is not supported.
func (p *StooqProvider) Holdings(ctx context.Context, symbol string) ([]Holding, error) {
	return nil, ErrUnsupported
}

// Bars fetches daily OHLCV CSV for one symbol over [start, end].
// US tickers carry a ".us" suffix on stooq.
func (p *StooqProvider) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	params := url.Values{}
	params.Set("s", strings.ToLower(symbol)+".us")
	params.Set("d1", start.Format("20060102"))
	params.Set("d2", end.Format("20060102"))
	params.Set("i", "d")

	reqURL := p.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stooq returned status %d for %s", resp.StatusCode, symbol)
	}

	return p.parseCSV(symbol, resp.Body)
}

// parseCSV reads stooq's Date,Open,High,Low,Close,Volume layout.
func (p *StooqProvider) parseCSV(symbol string, r io.Reader) ([]domain.Bar, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV for %s: %w", symbol, err)
	}
	if len(records) < 2 {
		// Header only or empty body: no data for the range
		return nil, nil
	}

	bars := make([]domain.Bar, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 5 {
			continue
		}
		closePx, err := strconv.ParseFloat(rec[4], 64)
		if err != nil || closePx <= 0 {
			continue
		}
		open, _ := strconv.ParseFloat(rec[1], 64)
		high, _ := strconv.ParseFloat(rec[2], 64)
		low, _ := strconv.ParseFloat(rec[3], 64)
		var volume float64
		if len(rec) > 5 {
			volume, _ = strconv.ParseFloat(rec[5], 64)
		}

		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Date:       rec[0],
			Open:       open,
			High:       high,
			Low:        low,
			Close:      closePx,
			Volume:     volume,
			DataSource: p.Name(),
		})
	}
	return bars, nil
}

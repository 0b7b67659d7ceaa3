package marketdata

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/domain"
)

// Repository persists bars and company profiles in the analytics database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a market-data repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "marketdata").Logger(),
	}
}

// UpsertBars writes bars keyed by (symbol, date). Re-running a batch for the
// same date overwrites in place; it never duplicates rows.
func (r *Repository) UpsertBars(bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO market_data (symbol, date, open, high, low, close, volume, data_source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				data_source = excluded.data_source
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare bar upsert: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			if _, err := stmt.Exec(b.Symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, b.DataSource); err != nil {
				return fmt.Errorf("failed to upsert bar %s@%s: %w", b.Symbol, b.Date, err)
			}
		}
		return nil
	})
}

// ClosesInRange returns close prices for one symbol in [start, end],
// ordered by date ascending, as date -> close.
func (r *Repository) ClosesInRange(symbol, start, end string) (map[string]float64, error) {
	rows, err := r.db.Query(`
		SELECT date, close FROM market_data
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query closes for %s: %w", symbol, err)
	}
	defer rows.Close()

	closes := make(map[string]float64)
	for rows.Next() {
		var date string
		var c float64
		if err := rows.Scan(&date, &c); err != nil {
			return nil, fmt.Errorf("failed to scan close row: %w", err)
		}
		closes[date] = c
	}
	return closes, rows.Err()
}

// CloseSeries returns (dates, closes) for one symbol in [start, end],
// both slices aligned and in chronological order.
func (r *Repository) CloseSeries(symbol, start, end string) ([]string, []float64, error) {
	rows, err := r.db.Query(`
		SELECT date, close FROM market_data
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, symbol, start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query close series for %s: %w", symbol, err)
	}
	defer rows.Close()

	var dates []string
	var closes []float64
	for rows.Next() {
		var date string
		var c float64
		if err := rows.Scan(&date, &c); err != nil {
			return nil, nil, fmt.Errorf("failed to scan close row: %w", err)
		}
		dates = append(dates, date)
		closes = append(closes, c)
	}
	return dates, closes, rows.Err()
}

// CloseOn returns the close for a symbol on an exact date, or
// (0, false, nil) when no row exists.
func (r *Repository) CloseOn(symbol, date string) (float64, bool, error) {
	var c float64
	err := r.db.QueryRow(`
		SELECT close FROM market_data WHERE symbol = ? AND date = ?
	`, symbol, date).Scan(&c)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query close for %s@%s: %w", symbol, date, err)
	}
	return c, true, nil
}

// LatestCloseOnOrBefore returns the most recent close at or before date.
func (r *Repository) LatestCloseOnOrBefore(symbol, date string) (float64, string, bool, error) {
	var c float64
	var d string
	err := r.db.QueryRow(`
		SELECT close, date FROM market_data
		WHERE symbol = ? AND date <= ?
		ORDER BY date DESC LIMIT 1
	`, symbol, date).Scan(&c, &d)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to query latest close for %s: %w", symbol, err)
	}
	return c, d, true, nil
}

// SymbolsWithDataOn returns which of the given symbols have a bar on date.
func (r *Repository) SymbolsWithDataOn(symbols []string, date string) (map[string]bool, error) {
	if len(symbols) == 0 {
		return map[string]bool{}, nil
	}

	placeholders := strings.Repeat("?,", len(symbols))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(symbols)+1)
	for _, s := range symbols {
		args = append(args, s)
	}
	args = append(args, date)

	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT symbol FROM market_data WHERE symbol IN (%s) AND date = ?
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbol coverage: %w", err)
	}
	defer rows.Close()

	have := make(map[string]bool)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		have[s] = true
	}
	return have, rows.Err()
}

// UpsertProfile writes one company profile keyed by symbol.
func (r *Repository) UpsertProfile(p *domain.CompanyProfile) error {
	_, err := r.db.Exec(`
		INSERT INTO company_profiles (symbol, name, sector, industry, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			sector = excluded.sector,
			industry = excluded.industry,
			updated_at = CURRENT_TIMESTAMP
	`, p.Symbol, p.Name, p.Sector, p.Industry)
	if err != nil {
		return fmt.Errorf("failed to upsert profile for %s: %w", p.Symbol, err)
	}
	return nil
}

// Profiles returns profiles for the given symbols, keyed by symbol.
// Symbols with no profile row are simply absent from the map.
func (r *Repository) Profiles(symbols []string) (map[string]domain.CompanyProfile, error) {
	if len(symbols) == 0 {
		return map[string]domain.CompanyProfile{}, nil
	}

	placeholders := strings.Repeat("?,", len(symbols))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = s
	}

	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT symbol, name, sector, industry FROM company_profiles WHERE symbol IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	profiles := make(map[string]domain.CompanyProfile)
	for rows.Next() {
		var p domain.CompanyProfile
		if err := rows.Scan(&p.Symbol, &p.Name, &p.Sector, &p.Industry); err != nil {
			return nil, err
		}
		profiles[p.Symbol] = p
	}
	return profiles, rows.Err()
}

// StaleProfileSymbols returns symbols from the given set whose profile is
// missing or older than maxAgeDays.
func (r *Repository) StaleProfileSymbols(symbols []string, maxAgeDays int) ([]string, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(symbols))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(symbols)+1)
	for _, s := range symbols {
		args = append(args, s)
	}
	args = append(args, fmt.Sprintf("-%d days", maxAgeDays))

	rows, err := r.db.Query(fmt.Sprintf(`
		SELECT symbol FROM company_profiles
		WHERE symbol IN (%s) AND updated_at >= datetime('now', ?)
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fresh profiles: %w", err)
	}
	defer rows.Close()

	fresh := make(map[string]bool)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		fresh[s] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var stale []string
	for _, s := range symbols {
		if !fresh[s] {
			stale = append(stale, s)
		}
	}
	return stale, nil
}

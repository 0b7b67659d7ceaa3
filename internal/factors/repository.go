package factors

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/domain"
)

// Repository persists factor definitions and exposures.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a factors repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "factors").Logger(),
	}
}

// SeedDefinitions upserts the built-in factor set. Idempotent; runs at startup.
func (r *Repository) SeedDefinitions(defs []domain.FactorDefinition) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, d := range defs {
			_, err := tx.Exec(`
				INSERT INTO factor_definitions (id, name, factor_type, long_etf, short_etf)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					factor_type = excluded.factor_type,
					long_etf = excluded.long_etf,
					short_etf = excluded.short_etf
			`, d.ID, d.Name, d.Type, d.LongETF, d.ShortETF)
			if err != nil {
				return fmt.Errorf("failed to seed factor %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

// Definitions returns all factor definitions in insertion order.
func (r *Repository) Definitions() ([]domain.FactorDefinition, error) {
	rows, err := r.db.Query(`
		SELECT id, name, factor_type, long_etf, short_etf FROM factor_definitions ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query factor definitions: %w", err)
	}
	defer rows.Close()

	var defs []domain.FactorDefinition
	for rows.Next() {
		var d domain.FactorDefinition
		if err := rows.Scan(&d.ID, &d.Name, &d.Type, &d.LongETF, &d.ShortETF); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// UpsertSymbolExposures writes one symbol's factor betas for a date.
func (r *Repository) UpsertSymbolExposures(exposures []domain.SymbolFactorExposure) error {
	if len(exposures) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO symbol_factor_exposures
				(symbol, factor_id, calculation_date, beta, r_squared, observations, quality_flag, significant)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, factor_id, calculation_date) DO UPDATE SET
				beta = excluded.beta,
				r_squared = excluded.r_squared,
				observations = excluded.observations,
				quality_flag = excluded.quality_flag,
				significant = excluded.significant
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare exposure upsert: %w", err)
		}
		defer stmt.Close()

		for _, e := range exposures {
			sig := 0
			if e.Significant {
				sig = 1
			}
			if _, err := stmt.Exec(e.Symbol, e.FactorID, e.CalculationDate, e.Beta, e.RSquared, e.Observations, e.Quality, sig); err != nil {
				return fmt.Errorf("failed to upsert exposure %s/%s: %w", e.Symbol, e.FactorID, err)
			}
		}
		return nil
	})
}

// SymbolExposuresOn bulk-loads all symbol betas for a date, keyed
// symbol -> factor_id. Aggregation becomes a pure lookup over this map.
func (r *Repository) SymbolExposuresOn(date string) (map[string]map[string]domain.SymbolFactorExposure, error) {
	rows, err := r.db.Query(`
		SELECT symbol, factor_id, calculation_date, beta, COALESCE(r_squared, 0), observations, quality_flag, significant
		FROM symbol_factor_exposures
		WHERE calculation_date = ?
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbol exposures: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]domain.SymbolFactorExposure)
	for rows.Next() {
		var e domain.SymbolFactorExposure
		var sig int
		if err := rows.Scan(&e.Symbol, &e.FactorID, &e.CalculationDate, &e.Beta, &e.RSquared, &e.Observations, &e.Quality, &sig); err != nil {
			return nil, err
		}
		e.Significant = sig != 0
		byFactor, ok := out[e.Symbol]
		if !ok {
			byFactor = make(map[string]domain.SymbolFactorExposure)
			out[e.Symbol] = byFactor
		}
		byFactor[e.FactorID] = e
	}
	return out, rows.Err()
}

// LatestSymbolExposureDate returns the most recent universe run date on or
// before the given date, or "" when none exists.
func (r *Repository) LatestSymbolExposureDate(onOrBefore string) (string, error) {
	var d sql.NullString
	err := r.db.QueryRow(`
		SELECT MAX(calculation_date) FROM symbol_factor_exposures WHERE calculation_date <= ?
	`, onOrBefore).Scan(&d)
	if err != nil {
		return "", fmt.Errorf("failed to query latest exposure date: %w", err)
	}
	return d.String, nil
}

// UpsertPortfolioExposures writes a portfolio's aggregated factor betas.
func (r *Repository) UpsertPortfolioExposures(exposures []domain.PortfolioFactorExposure) error {
	if len(exposures) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO portfolio_factor_exposures
				(id, portfolio_id, factor_id, calculation_date, beta, dollar_exposure)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(portfolio_id, factor_id, calculation_date) DO UPDATE SET
				beta = excluded.beta,
				dollar_exposure = excluded.dollar_exposure
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare portfolio exposure upsert: %w", err)
		}
		defer stmt.Close()

		for _, e := range exposures {
			if _, err := stmt.Exec(uuid.NewString(), e.PortfolioID, e.FactorID, e.CalculationDate, e.Beta, e.DollarExposure); err != nil {
				return fmt.Errorf("failed to upsert portfolio exposure %s/%s: %w", e.PortfolioID, e.FactorID, err)
			}
		}
		return nil
	})
}

// PortfolioExposuresOn returns a portfolio's factor betas for a date,
// keyed by factor_id.
func (r *Repository) PortfolioExposuresOn(portfolioID, date string) (map[string]domain.PortfolioFactorExposure, error) {
	rows, err := r.db.Query(`
		SELECT portfolio_id, factor_id, calculation_date, beta, dollar_exposure
		FROM portfolio_factor_exposures
		WHERE portfolio_id = ? AND calculation_date = ?
	`, portfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio exposures: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.PortfolioFactorExposure)
	for rows.Next() {
		var e domain.PortfolioFactorExposure
		if err := rows.Scan(&e.PortfolioID, &e.FactorID, &e.CalculationDate, &e.Beta, &e.DollarExposure); err != nil {
			return nil, err
		}
		out[e.FactorID] = e
	}
	return out, rows.Err()
}

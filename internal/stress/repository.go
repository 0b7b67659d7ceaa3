package stress

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/domain"
)

// Repository persists stress test results.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a stress repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "stress").Logger(),
	}
}

// UpsertResults writes results keyed by (portfolio, scenario, date).
func (r *Repository) UpsertResults(results []domain.StressResult) error {
	if len(results) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO stress_test_results
				(id, portfolio_id, scenario_name, run_date, direct_pnl, correlated_pnl,
				 correlation_effect, exposure_basis, factor_impacts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(portfolio_id, scenario_name, run_date) DO UPDATE SET
				direct_pnl = excluded.direct_pnl,
				correlated_pnl = excluded.correlated_pnl,
				correlation_effect = excluded.correlation_effect,
				exposure_basis = excluded.exposure_basis,
				factor_impacts = excluded.factor_impacts
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare stress upsert: %w", err)
		}
		defer stmt.Close()

		for _, res := range results {
			impacts, err := MarshalImpacts(res.FactorImpacts)
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(uuid.NewString(), res.PortfolioID, res.ScenarioName, res.Date,
				res.DirectPnL, res.CorrelatedPnL, res.CorrelationEffect, res.ExposureBasis, impacts); err != nil {
				return fmt.Errorf("failed to upsert stress result %s/%s: %w", res.PortfolioID, res.ScenarioName, err)
			}
		}
		return nil
	})
}

// ResultsOn returns all results for a portfolio-date.
func (r *Repository) ResultsOn(portfolioID, date string) ([]domain.StressResult, error) {
	rows, err := r.db.Query(`
		SELECT portfolio_id, scenario_name, run_date, direct_pnl, correlated_pnl,
		       correlation_effect, exposure_basis, factor_impacts
		FROM stress_test_results
		WHERE portfolio_id = ? AND run_date = ?
		ORDER BY scenario_name
	`, portfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query stress results: %w", err)
	}
	defer rows.Close()

	var results []domain.StressResult
	for rows.Next() {
		var res domain.StressResult
		var impactsJSON string
		if err := rows.Scan(&res.PortfolioID, &res.ScenarioName, &res.Date, &res.DirectPnL,
			&res.CorrelatedPnL, &res.CorrelationEffect, &res.ExposureBasis, &impactsJSON); err != nil {
			return nil, err
		}
		res.FactorImpacts = unmarshalImpacts(impactsJSON)
		results = append(results, res)
	}
	return results, rows.Err()
}

func unmarshalImpacts(s string) map[string]float64 {
	out := make(map[string]float64)
	if s == "" {
		return out
	}
	// Malformed JSON in a stored row degrades to an empty map
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

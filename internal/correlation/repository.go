package correlation

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/database"
	"github.com/aristath/spyglass/internal/domain"
)

// Repository persists correlation calculations with their pairwise and
// cluster children. Children cascade on parent delete.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a correlation repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "correlation").Logger(),
	}
}

// Replace deletes any existing calculation for the portfolio-date and writes
// the new one with all children in a single transaction.
func (r *Repository) Replace(result *domain.CorrelationResult, clusterThreshold float64) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		// Cascade removes pairwise rows, clusters and members
		if _, err := tx.Exec(`
			DELETE FROM correlation_calculations WHERE portfolio_id = ? AND calculation_date = ?
		`, result.PortfolioID, result.Date); err != nil {
			return fmt.Errorf("failed to clear prior calculation: %w", err)
		}

		calcID := uuid.NewString()
		if _, err := tx.Exec(`
			INSERT INTO correlation_calculations (id, portfolio_id, calculation_date, window_days)
			VALUES (?, ?, ?, ?)
		`, calcID, result.PortfolioID, result.Date, result.WindowDays); err != nil {
			return fmt.Errorf("failed to insert calculation: %w", err)
		}

		pairStmt, err := tx.Prepare(`
			INSERT INTO pairwise_correlations (id, calculation_id, symbol_1, symbol_2, correlation, observations, p_value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare pair insert: %w", err)
		}
		defer pairStmt.Close()

		for _, p := range result.Pairs {
			if _, err := pairStmt.Exec(uuid.NewString(), calcID, p.Symbol1, p.Symbol2, p.Correlation, p.Observations, p.PValue); err != nil {
				return fmt.Errorf("failed to insert pair %s/%s: %w", p.Symbol1, p.Symbol2, err)
			}
		}

		for idx, members := range result.Clusters {
			clusterID := uuid.NewString()
			if _, err := tx.Exec(`
				INSERT INTO correlation_clusters (id, calculation_id, cluster_index, threshold)
				VALUES (?, ?, ?, ?)
			`, clusterID, calcID, idx, clusterThreshold); err != nil {
				return fmt.Errorf("failed to insert cluster %d: %w", idx, err)
			}
			for _, symbol := range members {
				if _, err := tx.Exec(`
					INSERT INTO correlation_cluster_members (cluster_id, symbol) VALUES (?, ?)
				`, clusterID, symbol); err != nil {
					return fmt.Errorf("failed to insert cluster member %s: %w", symbol, err)
				}
			}
		}

		result.ID = calcID
		return nil
	})
}

// Load returns the calculation for a portfolio-date, or nil when absent.
func (r *Repository) Load(portfolioID, date string) (*domain.CorrelationResult, error) {
	var result domain.CorrelationResult
	err := r.db.QueryRow(`
		SELECT id, portfolio_id, calculation_date, window_days
		FROM correlation_calculations
		WHERE portfolio_id = ? AND calculation_date = ?
	`, portfolioID, date).Scan(&result.ID, &result.PortfolioID, &result.Date, &result.WindowDays)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query calculation: %w", err)
	}

	rows, err := r.db.Query(`
		SELECT symbol_1, symbol_2, correlation, observations, COALESCE(p_value, 1)
		FROM pairwise_correlations WHERE calculation_id = ?
		ORDER BY symbol_1, symbol_2
	`, result.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.PairwiseCorrelation
		if err := rows.Scan(&p.Symbol1, &p.Symbol2, &p.Correlation, &p.Observations, &p.PValue); err != nil {
			return nil, err
		}
		result.Pairs = append(result.Pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	clusterRows, err := r.db.Query(`
		SELECT c.id FROM correlation_clusters c
		WHERE c.calculation_id = ? ORDER BY c.cluster_index
	`, result.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer clusterRows.Close()

	var clusterIDs []string
	for clusterRows.Next() {
		var id string
		if err := clusterRows.Scan(&id); err != nil {
			return nil, err
		}
		clusterIDs = append(clusterIDs, id)
	}
	if err := clusterRows.Err(); err != nil {
		return nil, err
	}

	for _, clusterID := range clusterIDs {
		memberRows, err := r.db.Query(`
			SELECT symbol FROM correlation_cluster_members WHERE cluster_id = ? ORDER BY symbol
		`, clusterID)
		if err != nil {
			return nil, fmt.Errorf("failed to query cluster members: %w", err)
		}
		var members []string
		for memberRows.Next() {
			var s string
			if err := memberRows.Scan(&s); err != nil {
				memberRows.Close()
				return nil, err
			}
			members = append(members, s)
		}
		if err := memberRows.Err(); err != nil {
			memberRows.Close()
			return nil, err
		}
		memberRows.Close()
		result.Clusters = append(result.Clusters, members)
	}

	return &result, nil
}

// PairMap loads the latest correlations on or before date as a symmetric
// lookup keyed "A|B" in sorted symbol order. Used by the stress engine.
func (r *Repository) PairMap(portfolioID, date string) (map[string]float64, error) {
	var calcID string
	err := r.db.QueryRow(`
		SELECT id FROM correlation_calculations
		WHERE portfolio_id = ? AND calculation_date <= ?
		ORDER BY calculation_date DESC LIMIT 1
	`, portfolioID, date).Scan(&calcID)
	if err == sql.ErrNoRows {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest calculation: %w", err)
	}

	rows, err := r.db.Query(`
		SELECT symbol_1, symbol_2, correlation FROM pairwise_correlations WHERE calculation_id = ?
	`, calcID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var a, b string
		var rho float64
		if err := rows.Scan(&a, &b, &rho); err != nil {
			return nil, err
		}
		out[PairKey(a, b)] = rho
	}
	return out, rows.Err()
}

// PairKey builds the canonical sorted key for a symbol pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

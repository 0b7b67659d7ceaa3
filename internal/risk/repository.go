// Package risk computes per-position betas and volatility metrics with
// position-first caching, and aggregates them to portfolio level along with
// sector and concentration measures.
package risk

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/database"
)

// Metric names persisted in position_metrics.
const (
	MetricMarketBeta    = "market_beta"
	MetricIRBeta        = "ir_beta"
	MetricVol21d        = "realized_vol_21d"
	MetricVol63d        = "realized_vol_63d"
	MetricExpectedVol   = "expected_vol"
	MetricVolPercentile = "vol_percentile"
)

// PositionMetric is one cached per-position per-date value.
type PositionMetric struct {
	PositionID   string
	Date         string
	Metric       string
	Value        float64
	RSquared     float64
	Observations int
	Significant  bool
}

// Repository persists position metrics.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a risk repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "risk").Logger(),
	}
}

// UpsertMetrics writes metrics keyed by (position, date, metric).
func (r *Repository) UpsertMetrics(metrics []PositionMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO position_metrics
				(position_id, metric_date, metric, value, r_squared, observations, significant)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(position_id, metric_date, metric) DO UPDATE SET
				value = excluded.value,
				r_squared = excluded.r_squared,
				observations = excluded.observations,
				significant = excluded.significant
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare metric upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range metrics {
			sig := 0
			if m.Significant {
				sig = 1
			}
			if _, err := stmt.Exec(m.PositionID, m.Date, m.Metric, m.Value, m.RSquared, m.Observations, sig); err != nil {
				return fmt.Errorf("failed to upsert metric %s/%s: %w", m.PositionID, m.Metric, err)
			}
		}
		return nil
	})
}

// CachedMetrics bulk-loads metrics for the given positions on one date,
// keyed position_id -> metric name. The engines compute only what is absent.
func (r *Repository) CachedMetrics(positionIDs []string, date string) (map[string]map[string]PositionMetric, error) {
	out := make(map[string]map[string]PositionMetric)
	if len(positionIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT position_id, metric_date, metric, value, COALESCE(r_squared, 0),
		       COALESCE(observations, 0), significant
		FROM position_metrics
		WHERE metric_date = ? AND position_id IN (`
	args := make([]interface{}, 0, len(positionIDs)+1)
	args = append(args, date)
	for i, id := range positionIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached metrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m PositionMetric
		var sig int
		if err := rows.Scan(&m.PositionID, &m.Date, &m.Metric, &m.Value, &m.RSquared, &m.Observations, &sig); err != nil {
			return nil, err
		}
		m.Significant = sig != 0
		byMetric, ok := out[m.PositionID]
		if !ok {
			byMetric = make(map[string]PositionMetric)
			out[m.PositionID] = byMetric
		}
		byMetric[m.Metric] = m
	}
	return out, rows.Err()
}

package batch

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/database"
)

// Resetter deletes engine-owned calculation rows for a date range ahead of a
// force-rerun. Deletion is strictly child-first; market data and the inbound
// tables (positions, portfolios, flows, greeks) are never touched.
type Resetter struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewResetter creates a resetter.
func NewResetter(db *sql.DB, log zerolog.Logger) *Resetter {
	return &Resetter{
		db:  db,
		log: log.With().Str("component", "batch_reset").Logger(),
	}
}

// ResetRange clears calculations in [start, end] for one portfolio, or for
// all portfolios when portfolioID is empty.
func (r *Resetter) ResetRange(portfolioID, start, end string) error {
	scope := func(column string) (string, []interface{}) {
		cond := fmt.Sprintf("%s >= ? AND %s <= ?", column, column)
		args := []interface{}{start, end}
		if portfolioID != "" {
			cond += " AND portfolio_id = ?"
			args = append(args, portfolioID)
		}
		return cond, args
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		calcCond, calcArgs := scope("calculation_date")

		// Correlation children first: members, clusters, pairs, then parents
		if _, err := tx.Exec(`
			DELETE FROM correlation_cluster_members WHERE cluster_id IN (
				SELECT c.id FROM correlation_clusters c
				JOIN correlation_calculations cc ON cc.id = c.calculation_id
				WHERE `+calcCond+`)
		`, calcArgs...); err != nil {
			return fmt.Errorf("failed to delete cluster members: %w", err)
		}
		if _, err := tx.Exec(`
			DELETE FROM correlation_clusters WHERE calculation_id IN (
				SELECT id FROM correlation_calculations WHERE `+calcCond+`)
		`, calcArgs...); err != nil {
			return fmt.Errorf("failed to delete clusters: %w", err)
		}
		if _, err := tx.Exec(`
			DELETE FROM pairwise_correlations WHERE calculation_id IN (
				SELECT id FROM correlation_calculations WHERE `+calcCond+`)
		`, calcArgs...); err != nil {
			return fmt.Errorf("failed to delete pairwise correlations: %w", err)
		}
		if _, err := tx.Exec(`
			DELETE FROM correlation_calculations WHERE `+calcCond,
			calcArgs...); err != nil {
			return fmt.Errorf("failed to delete correlation calculations: %w", err)
		}

		runCond, runArgs := scope("run_date")
		if _, err := tx.Exec(`DELETE FROM stress_test_results WHERE `+runCond, runArgs...); err != nil {
			return fmt.Errorf("failed to delete stress results: %w", err)
		}

		// The rerun rolls equity forward again from the day before the range,
		// so the live balance must unwind first: back to the last complete
		// snapshot surviving the reset, or to the balance in effect before
		// the earliest row being deleted when none survives. Runs before the
		// snapshot delete because the unwind arm reads the doomed rows.
		restoreCond := "deleted_at IS NULL"
		restoreArgs := []interface{}{start, end, start, end}
		if portfolioID != "" {
			restoreCond += " AND id = ?"
			restoreArgs = append(restoreArgs, portfolioID)
		}
		if _, err := tx.Exec(`
			UPDATE portfolios SET equity_balance = COALESCE(
				(SELECT s.equity_balance FROM portfolio_snapshots s
					WHERE s.portfolio_id = portfolios.id AND s.is_complete = 1
					  AND (s.snapshot_date < ? OR s.snapshot_date > ?)
					ORDER BY s.snapshot_date DESC LIMIT 1),
				(SELECT s.equity_balance - s.daily_realized_pnl - s.daily_capital_flow
					FROM portfolio_snapshots s
					WHERE s.portfolio_id = portfolios.id AND s.is_complete = 1
					  AND s.snapshot_date >= ? AND s.snapshot_date <= ?
					ORDER BY s.snapshot_date ASC LIMIT 1),
				portfolios.equity_balance)
			WHERE `+restoreCond, restoreArgs...); err != nil {
			return fmt.Errorf("failed to unwind equity balances: %w", err)
		}

		snapCond, snapArgs := scope("snapshot_date")
		if _, err := tx.Exec(`DELETE FROM portfolio_snapshots WHERE `+snapCond, snapArgs...); err != nil {
			return fmt.Errorf("failed to delete snapshots: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM portfolio_factor_exposures WHERE `+calcCond, calcArgs...); err != nil {
			return fmt.Errorf("failed to delete portfolio exposures: %w", err)
		}

		// Position metrics join through positions for portfolio scoping
		metricCond := "metric_date >= ? AND metric_date <= ?"
		metricArgs := []interface{}{start, end}
		if portfolioID != "" {
			metricCond += " AND position_id IN (SELECT id FROM positions WHERE portfolio_id = ?)"
			metricArgs = append(metricArgs, portfolioID)
		}
		if _, err := tx.Exec(`DELETE FROM position_metrics WHERE `+metricCond, metricArgs...); err != nil {
			return fmt.Errorf("failed to delete position metrics: %w", err)
		}

		r.log.Info().
			Str("portfolio", portfolioID).
			Str("start", start).
			Str("end", end).
			Msg("Reset calculation rows for range")
		return nil
	})
}

// Package snapshot owns the daily portfolio snapshot rows and their
// two-phase placeholder-then-complete write protocol.
package snapshot

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
)

// Repository persists portfolio snapshots.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a snapshot repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "snapshot").Logger(),
	}
}

// Get returns the snapshot for a portfolio-date, or nil when absent.
func (r *Repository) Get(portfolioID, date string) (*domain.Snapshot, error) {
	row := r.db.QueryRow(`
		SELECT id, portfolio_id, snapshot_date, total_value, cash_balance, long_value, short_value,
		       gross_exposure, net_exposure, daily_pnl, daily_realized_pnl, cumulative_pnl,
		       cumulative_realized_pnl, daily_capital_flow, delta, gamma, theta, vega,
		       position_count, public_count, option_count, private_count, equity_balance,
		       COALESCE(realized_vol_21d, 0), COALESCE(realized_vol_63d, 0), COALESCE(expected_vol, 0),
		       COALESCE(vol_trend, ''), COALESCE(vol_percentile, 0), COALESCE(market_beta, 0),
		       COALESCE(hhi, 0), COALESCE(effective_positions, 0), COALESCE(top3_concentration, 0),
		       COALESCE(top10_concentration, 0), COALESCE(target_price_upside, 0),
		       sector_exposure, is_complete
		FROM portfolio_snapshots
		WHERE portfolio_id = ? AND snapshot_date = ?
	`, portfolioID, date)

	var s domain.Snapshot
	var complete int
	err := row.Scan(&s.ID, &s.PortfolioID, &s.Date, &s.TotalValue, &s.CashBalance, &s.LongValue,
		&s.ShortValue, &s.GrossExposure, &s.NetExposure, &s.DailyPnL, &s.DailyRealizedPnL,
		&s.CumulativePnL, &s.CumulativeRealizedPnL, &s.DailyCapitalFlow, &s.Delta, &s.Gamma,
		&s.Theta, &s.Vega, &s.PositionCount, &s.PublicCount, &s.OptionCount, &s.PrivateCount,
		&s.EquityBalance, &s.RealizedVol21d, &s.RealizedVol63d, &s.ExpectedVol, &s.VolTrend,
		&s.VolPercentile, &s.MarketBeta, &s.HHI, &s.EffectivePositions, &s.Top3Concentration,
		&s.Top10Concentration, &s.TargetPriceUpside, &s.SectorExposure, &complete)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	s.IsComplete = complete != 0
	return &s, nil
}

// UpsertPlaceholder writes (or refreshes) an incomplete row for the
// portfolio-date. An existing completed row is left untouched. created_at
// resets on re-begin so the stale-placeholder sweep dates work from when it
// actually started, not from the first attempt.
func (r *Repository) UpsertPlaceholder(portfolioID, date string) error {
	_, err := r.db.Exec(`
		INSERT INTO portfolio_snapshots (id, portfolio_id, snapshot_date, is_complete)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(portfolio_id, snapshot_date) DO UPDATE SET
			created_at = datetime('now'),
			updated_at = datetime('now')
		WHERE portfolio_snapshots.is_complete = 0
	`, uuid.NewString(), portfolioID, date)
	if err != nil {
		return fmt.Errorf("failed to upsert placeholder for %s@%s: %w", portfolioID, date, err)
	}
	return nil
}

// Complete fills in the computed fields and marks the row complete.
func (r *Repository) Complete(s *domain.Snapshot) error {
	res, err := r.db.Exec(`
		UPDATE portfolio_snapshots SET
			total_value = ?, cash_balance = ?, long_value = ?, short_value = ?,
			gross_exposure = ?, net_exposure = ?, daily_pnl = ?, daily_realized_pnl = ?,
			cumulative_pnl = ?, cumulative_realized_pnl = ?, daily_capital_flow = ?,
			delta = ?, gamma = ?, theta = ?, vega = ?,
			position_count = ?, public_count = ?, option_count = ?, private_count = ?,
			equity_balance = ?, realized_vol_21d = ?, realized_vol_63d = ?, expected_vol = ?,
			vol_trend = ?, vol_percentile = ?, market_beta = ?, hhi = ?, effective_positions = ?,
			top3_concentration = ?, top10_concentration = ?, target_price_upside = ?,
			sector_exposure = ?, is_complete = 1, updated_at = datetime('now')
		WHERE portfolio_id = ? AND snapshot_date = ?
	`, s.TotalValue, s.CashBalance, s.LongValue, s.ShortValue,
		s.GrossExposure, s.NetExposure, s.DailyPnL, s.DailyRealizedPnL,
		s.CumulativePnL, s.CumulativeRealizedPnL, s.DailyCapitalFlow,
		s.Delta, s.Gamma, s.Theta, s.Vega,
		s.PositionCount, s.PublicCount, s.OptionCount, s.PrivateCount,
		s.EquityBalance, s.RealizedVol21d, s.RealizedVol63d, s.ExpectedVol,
		s.VolTrend, s.VolPercentile, s.MarketBeta, s.HHI, s.EffectivePositions,
		s.Top3Concentration, s.Top10Concentration, s.TargetPriceUpside,
		s.SectorExposure, s.PortfolioID, s.Date)
	if err != nil {
		return fmt.Errorf("failed to complete snapshot for %s@%s: %w", s.PortfolioID, s.Date, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("no placeholder to complete for %s@%s", s.PortfolioID, s.Date)
	}
	return nil
}

// MarkIncomplete flips a row back to placeholder state for force-reruns.
func (r *Repository) MarkIncomplete(portfolioID, date string) error {
	_, err := r.db.Exec(`
		UPDATE portfolio_snapshots SET is_complete = 0, updated_at = datetime('now')
		WHERE portfolio_id = ? AND snapshot_date = ?
	`, portfolioID, date)
	if err != nil {
		return fmt.Errorf("failed to mark snapshot incomplete: %w", err)
	}
	return nil
}

// LatestCompleteDate returns the newest completed snapshot date for a
// portfolio, or "" when none exists.
func (r *Repository) LatestCompleteDate(portfolioID string) (string, error) {
	var d sql.NullString
	err := r.db.QueryRow(`
		SELECT MAX(snapshot_date) FROM portfolio_snapshots
		WHERE portfolio_id = ? AND is_complete = 1
	`, portfolioID).Scan(&d)
	if err != nil {
		return "", fmt.Errorf("failed to query latest snapshot date: %w", err)
	}
	return d.String, nil
}

// LatestCompleteBefore returns the newest completed snapshot strictly before
// the given date, or nil.
func (r *Repository) LatestCompleteBefore(portfolioID, date string) (*domain.Snapshot, error) {
	var d sql.NullString
	err := r.db.QueryRow(`
		SELECT MAX(snapshot_date) FROM portfolio_snapshots
		WHERE portfolio_id = ? AND is_complete = 1 AND snapshot_date < ?
	`, portfolioID, date).Scan(&d)
	if err != nil {
		return nil, fmt.Errorf("failed to query prior snapshot date: %w", err)
	}
	if !d.Valid || d.String == "" {
		return nil, nil
	}
	return r.Get(portfolioID, d.String)
}

// DeleteStalePlaceholders removes incomplete rows older than ageHours,
// optionally scoped to one portfolio. Returns the number deleted.
func (r *Repository) DeleteStalePlaceholders(ageHours int, portfolioID string) (int64, error) {
	query := `
		DELETE FROM portfolio_snapshots
		WHERE is_complete = 0
		  AND created_at < datetime('now', ?)
	`
	args := []interface{}{fmt.Sprintf("-%d hours", ageHours)}
	if portfolioID != "" {
		query += " AND portfolio_id = ?"
		args = append(args, portfolioID)
	}

	res, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale placeholders: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info().Int64("deleted", n).Msg("Removed stale snapshot placeholders")
	}
	return n, nil
}

// Package portfolio reads the inbound tables owned by the ingestion surface:
// portfolios, positions, greeks and capital flows. The batch engine treats
// them as read-only inputs, except for the equity rollforward writeback.
package portfolio

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/spyglass/internal/domain"
)

// Repository provides access to portfolios and their positions.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a portfolio repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "portfolio").Logger(),
	}
}

// ActivePortfolios returns all active, non-deleted portfolios.
func (r *Repository) ActivePortfolios() ([]domain.Portfolio, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, name, base_currency, equity_balance, is_active
		FROM portfolios
		WHERE is_active = 1 AND deleted_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.BaseCurrency, &p.EquityBalance, &p.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		portfolios = append(portfolios, p)
	}
	return portfolios, rows.Err()
}

// PortfolioByID returns one portfolio, or nil when absent.
func (r *Repository) PortfolioByID(id string) (*domain.Portfolio, error) {
	var p domain.Portfolio
	err := r.db.QueryRow(`
		SELECT id, user_id, name, base_currency, equity_balance, is_active
		FROM portfolios WHERE id = ? AND deleted_at IS NULL
	`, id).Scan(&p.ID, &p.UserID, &p.Name, &p.BaseCurrency, &p.EquityBalance, &p.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio %s: %w", id, err)
	}
	return &p, nil
}

// ActivePositionsOn returns positions of a portfolio live on the given
// trading date: entered on or before it and not yet exited.
func (r *Repository) ActivePositionsOn(portfolioID, date string) ([]domain.Position, error) {
	rows, err := r.db.Query(`
		SELECT id, portfolio_id, symbol, position_type, investment_class,
		       quantity, entry_price, entry_date,
		       COALESCE(exit_date, ''), COALESCE(exit_price, 0),
		       COALESCE(underlying_symbol, ''), COALESCE(strike, 0),
		       COALESCE(expiration, ''), COALESCE(market_value, 0)
		FROM positions
		WHERE portfolio_id = ?
		  AND deleted_at IS NULL
		  AND entry_date <= ?
		  AND (exit_date IS NULL OR exit_date > ?)
		ORDER BY id
	`, portfolioID, date, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for %s: %w", portfolioID, err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// RealizedPnLOn sums realized P&L from positions exited on the given date:
// (exit - entry) x quantity, with the option contract multiplier applied.
func (r *Repository) RealizedPnLOn(portfolioID, date string) (float64, error) {
	rows, err := r.db.Query(`
		SELECT position_type, investment_class, quantity, entry_price, COALESCE(exit_price, 0)
		FROM positions
		WHERE portfolio_id = ? AND deleted_at IS NULL AND exit_date = ?
	`, portfolioID, date)
	if err != nil {
		return 0, fmt.Errorf("failed to query exits for %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var total float64
	for rows.Next() {
		var ptype domain.PositionType
		var class domain.InvestmentClass
		var qty, entry, exit float64
		if err := rows.Scan(&ptype, &class, &qty, &entry, &exit); err != nil {
			return 0, err
		}
		mult := 1.0
		if class == domain.ClassOptions {
			mult = domain.OptionContractMultiplier
		}
		total += (exit - entry) * qty * mult
	}
	return total, rows.Err()
}

// ActiveSymbolsAcrossPortfolios returns the distinct symbols of active
// positions across all active portfolios on the given date. Options
// contribute their underlying, since regressions run on underlying returns.
func (r *Repository) ActiveSymbolsAcrossPortfolios(date string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT
			CASE WHEN investment_class = 'OPTIONS' AND COALESCE(underlying_symbol, '') != ''
			     THEN underlying_symbol ELSE symbol END AS sym
		FROM positions p
		JOIN portfolios pf ON pf.id = p.portfolio_id
		WHERE pf.is_active = 1 AND pf.deleted_at IS NULL
		  AND p.deleted_at IS NULL
		  AND p.entry_date <= ?
		  AND (p.exit_date IS NULL OR p.exit_date > ?)
		ORDER BY sym
	`, date, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query active symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// GreeksOn bulk-loads greeks for the given positions on a date, keyed by
// position ID. Positions without a greeks row are absent from the map.
func (r *Repository) GreeksOn(positionIDs []string, date string) (map[string]domain.Greeks, error) {
	greeks := make(map[string]domain.Greeks)
	if len(positionIDs) == 0 {
		return greeks, nil
	}

	query := `
		SELECT position_id, greek_date,
		       COALESCE(delta, 0), COALESCE(gamma, 0),
		       COALESCE(theta, 0), COALESCE(vega, 0)
		FROM position_greeks
		WHERE greek_date = ? AND position_id IN (`
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
		return nil, fmt.Errorf("failed to query greeks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g domain.Greeks
		if err := rows.Scan(&g.PositionID, &g.Date, &g.Delta, &g.Gamma, &g.Theta, &g.Vega); err != nil {
			return nil, err
		}
		greeks[g.PositionID] = g
	}
	return greeks, rows.Err()
}

// NetCapitalFlowOn sums capital flows for a portfolio on a date.
// Deposits are positive, withdrawals negative.
func (r *Repository) NetCapitalFlowOn(portfolioID, date string) (float64, error) {
	var net float64
	err := r.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM capital_flows
		WHERE portfolio_id = ? AND flow_date = ?
	`, portfolioID, date).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("failed to query capital flows for %s: %w", portfolioID, err)
	}
	return net, nil
}

// UpdateEquityBalance writes the rolled-forward equity back onto the
// portfolio so the next trading day's pipeline reads it as input.
func (r *Repository) UpdateEquityBalance(portfolioID string, equity float64) error {
	_, err := r.db.Exec(`
		UPDATE portfolios SET equity_balance = ?, updated_at = datetime('now') WHERE id = ?
	`, equity, portfolioID)
	if err != nil {
		return fmt.Errorf("failed to update equity for %s: %w", portfolioID, err)
	}
	return nil
}

// UpdateMarketValue persists the latest mark on a position.
func (r *Repository) UpdateMarketValue(positionID string, value float64) error {
	_, err := r.db.Exec(`
		UPDATE positions SET market_value = ? WHERE id = ?
	`, value, positionID)
	if err != nil {
		return fmt.Errorf("failed to update market value for %s: %w", positionID, err)
	}
	return nil
}

// RestoreSectorTags rewrites the sector label on every live position from
// the current company profiles. Options are tagged by their underlying,
// private holdings get a fixed label, anything without a profile falls back
// to Unknown. Returns the number of positions retagged.
func (r *Repository) RestoreSectorTags() (int64, error) {
	res, err := r.db.Exec(`
		UPDATE positions SET sector_tag = CASE
			WHEN investment_class = 'PRIVATE' THEN 'Private'
			ELSE COALESCE(
				(SELECT cp.sector FROM company_profiles cp
				 WHERE cp.symbol = CASE
					WHEN positions.investment_class = 'OPTIONS'
						THEN COALESCE(NULLIF(positions.underlying_symbol, ''), positions.symbol)
					ELSE positions.symbol
				 END AND cp.sector != ''),
				'Unknown')
		END
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to restore sector tags: %w", err)
	}
	return res.RowsAffected()
}

func scanPositions(rows *sql.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(
			&p.ID, &p.PortfolioID, &p.Symbol, &p.Type, &p.Class,
			&p.Quantity, &p.EntryPrice, &p.EntryDate,
			&p.ExitDate, &p.ExitPrice,
			&p.UnderlyingSymbol, &p.Strike, &p.Expiration, &p.MarketValue,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

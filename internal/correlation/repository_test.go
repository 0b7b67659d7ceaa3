package correlation

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/spyglass/internal/domain"

	_ "modernc.org/sqlite"
)

func setupCorrDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Replace leans on ON DELETE CASCADE, so the test schema keeps the
	// child foreign keys and turns enforcement on.
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE correlation_calculations (
			id TEXT PRIMARY KEY,
			portfolio_id TEXT NOT NULL,
			calculation_date TEXT NOT NULL,
			window_days INTEGER NOT NULL,
			UNIQUE (portfolio_id, calculation_date)
		);
		CREATE TABLE pairwise_correlations (
			id TEXT PRIMARY KEY,
			calculation_id TEXT NOT NULL REFERENCES correlation_calculations(id) ON DELETE CASCADE,
			symbol_1 TEXT NOT NULL,
			symbol_2 TEXT NOT NULL,
			correlation REAL NOT NULL,
			observations INTEGER NOT NULL,
			p_value REAL
		);
		CREATE TABLE correlation_clusters (
			id TEXT PRIMARY KEY,
			calculation_id TEXT NOT NULL REFERENCES correlation_calculations(id) ON DELETE CASCADE,
			cluster_index INTEGER NOT NULL,
			threshold REAL NOT NULL
		);
		CREATE TABLE correlation_cluster_members (
			cluster_id TEXT NOT NULL REFERENCES correlation_clusters(id) ON DELETE CASCADE,
			symbol TEXT NOT NULL,
			PRIMARY KEY (cluster_id, symbol)
		);
	`)
	require.NoError(t, err)
	return db
}

func TestReplaceLoadRoundTrip(t *testing.T) {
	db := setupCorrDB(t)
	repo := NewRepository(db, zerolog.Nop())

	in := &domain.CorrelationResult{
		PortfolioID: "pf1",
		Date:        "2026-01-06",
		WindowDays:  90,
		Pairs: []domain.PairwiseCorrelation{
			{Symbol1: "AAPL", Symbol2: "MSFT", Correlation: 0.82, Observations: 88, PValue: 0.001},
			{Symbol1: "AAPL", Symbol2: "XOM", Correlation: 0.15, Observations: 90, PValue: 0.2},
		},
		Clusters: [][]string{{"AAPL", "MSFT"}},
	}
	require.NoError(t, repo.Replace(in, 0.7))
	require.NotEmpty(t, in.ID, "Replace should backfill the calculation ID")

	out, err := repo.Load("pf1", "2026-01-06")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, 90, out.WindowDays)
	require.Len(t, out.Pairs, 2)
	assert.Equal(t, "AAPL", out.Pairs[0].Symbol1)
	assert.Equal(t, "MSFT", out.Pairs[0].Symbol2)
	assert.InDelta(t, 0.82, out.Pairs[0].Correlation, 1e-12)
	assert.Equal(t, 88, out.Pairs[0].Observations)
	require.Len(t, out.Clusters, 1)
	assert.Equal(t, []string{"AAPL", "MSFT"}, out.Clusters[0])
}

func TestReplaceCascadesPriorChildren(t *testing.T) {
	db := setupCorrDB(t)
	repo := NewRepository(db, zerolog.Nop())

	first := &domain.CorrelationResult{
		PortfolioID: "pf1",
		Date:        "2026-01-06",
		WindowDays:  90,
		Pairs: []domain.PairwiseCorrelation{
			{Symbol1: "AAPL", Symbol2: "MSFT", Correlation: 0.8, Observations: 90},
			{Symbol1: "AAPL", Symbol2: "XOM", Correlation: 0.1, Observations: 90},
		},
		Clusters: [][]string{{"AAPL", "MSFT"}},
	}
	require.NoError(t, repo.Replace(first, 0.7))

	second := &domain.CorrelationResult{
		PortfolioID: "pf1",
		Date:        "2026-01-06",
		WindowDays:  90,
		Pairs: []domain.PairwiseCorrelation{
			{Symbol1: "AAPL", Symbol2: "MSFT", Correlation: 0.5, Observations: 90},
		},
	}
	require.NoError(t, repo.Replace(second, 0.7))
	assert.NotEqual(t, first.ID, second.ID)

	var calcs, pairs, clusters, members int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM correlation_calculations").Scan(&calcs))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM pairwise_correlations").Scan(&pairs))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM correlation_clusters").Scan(&clusters))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM correlation_cluster_members").Scan(&members))
	assert.Equal(t, 1, calcs)
	assert.Equal(t, 1, pairs, "first calculation's pairs should cascade away")
	assert.Equal(t, 0, clusters)
	assert.Equal(t, 0, members)
}

func TestLoadAbsentReturnsNil(t *testing.T) {
	db := setupCorrDB(t)
	repo := NewRepository(db, zerolog.Nop())

	out, err := repo.Load("pf1", "2026-01-06")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestPairMapUsesLatestOnOrBefore(t *testing.T) {
	db := setupCorrDB(t)
	repo := NewRepository(db, zerolog.Nop())

	older := &domain.CorrelationResult{
		PortfolioID: "pf1",
		Date:        "2026-01-02",
		WindowDays:  90,
		Pairs: []domain.PairwiseCorrelation{
			{Symbol1: "AAPL", Symbol2: "MSFT", Correlation: 0.6, Observations: 90},
		},
	}
	require.NoError(t, repo.Replace(older, 0.7))
	newer := &domain.CorrelationResult{
		PortfolioID: "pf1",
		Date:        "2026-01-06",
		WindowDays:  90,
		Pairs: []domain.PairwiseCorrelation{
			{Symbol1: "AAPL", Symbol2: "MSFT", Correlation: 0.9, Observations: 90},
		},
	}
	require.NoError(t, repo.Replace(newer, 0.7))

	// Mid-week date sees the older run, not the newer one.
	pairs, err := repo.PairMap("pf1", "2026-01-05")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, pairs[PairKey("MSFT", "AAPL")], 1e-12)

	pairs, err = repo.PairMap("pf1", "2026-01-06")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, pairs[PairKey("AAPL", "MSFT")], 1e-12)

	pairs, err = repo.PairMap("pf1", "2025-12-01")
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

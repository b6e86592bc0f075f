package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamwager/wagerd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `
	id, owner, title, outcome_1, outcome_2,
	pool_1, pool_2, status, winning_outcome,
	locked_at, created_at, updated_at`

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, owner, title, outcome_1, outcome_2,
			pool_1, pool_2, status, winning_outcome,
			locked_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			owner           = EXCLUDED.owner,
			title           = EXCLUDED.title,
			outcome_1       = EXCLUDED.outcome_1,
			outcome_2       = EXCLUDED.outcome_2,
			pool_1          = EXCLUDED.pool_1,
			pool_2          = EXCLUDED.pool_2,
			status          = EXCLUDED.status,
			winning_outcome = EXCLUDED.winning_outcome,
			locked_at       = EXCLUDED.locked_at,
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		int64(m.ID), m.Owner, m.Title,
		m.Outcomes[0], m.Outcomes[1],
		int64(m.Pools[0]), int64(m.Pools[1]),
		string(m.Status), int16(m.WinningOutcome),
		m.LockedAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

// GetByID returns a single market, or domain.ErrNotFound.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	query := `SELECT` + marketColumns + ` FROM markets WHERE id = $1`
	m, err := scanMarket(s.pool.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// ListByOwner returns markets created for the given owner, newest first.
func (s *MarketStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT` + marketColumns + ` FROM markets WHERE owner = $1 ORDER BY id DESC`
	args := []any{owner}
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by owner: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// ListByStatus returns markets in the given lifecycle state, newest first.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT` + marketColumns + ` FROM markets WHERE status = $1 ORDER BY id DESC`
	args := []any{string(status)}
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by status: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// ListAll returns every market in ID order. Used for engine restore at boot.
func (s *MarketStore) ListAll(ctx context.Context) ([]domain.Market, error) {
	query := `SELECT` + marketColumns + ` FROM markets ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all markets: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// ListTerminalBetween returns resolved or cancelled markets last updated in
// [after, before).
func (s *MarketStore) ListTerminalBetween(ctx context.Context, after, before time.Time) ([]domain.Market, error) {
	query := `SELECT` + marketColumns + `
		FROM markets
		WHERE status IN ($1, $2) AND updated_at >= $3 AND updated_at < $4
		ORDER BY id`
	rows, err := s.pool.Query(ctx, query,
		string(domain.MarketStatusResolved), string(domain.MarketStatusCancelled), after, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal markets: %w", err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var id, pool1, pool2 int64
	var status string
	var winning int16
	err := row.Scan(
		&id, &m.Owner, &m.Title,
		&m.Outcomes[0], &m.Outcomes[1],
		&pool1, &pool2, &status, &winning,
		&m.LockedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.ID = uint64(id)
	m.Pools[0] = uint64(pool1)
	m.Pools[1] = uint64(pool2)
	m.Status = domain.MarketStatus(status)
	m.WinningOutcome = domain.Outcome(winning)
	return m, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

// paginate appends LIMIT and OFFSET clauses for non-zero opts values.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamwager/wagerd/internal/domain"
)

// StakeStore implements domain.StakeStore using PostgreSQL.
type StakeStore struct {
	pool *pgxpool.Pool
}

// NewStakeStore creates a StakeStore backed by the given connection pool.
func NewStakeStore(pool *pgxpool.Pool) *StakeStore {
	return &StakeStore{pool: pool}
}

// Upsert writes the current stake total for one (market, account, outcome)
// key. Claims write a zero amount rather than deleting the row.
func (s *StakeStore) Upsert(ctx context.Context, st domain.Stake) error {
	const query = `
		INSERT INTO stakes (market_id, account, outcome, amount, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (market_id, account, outcome) DO UPDATE SET
			amount     = EXCLUDED.amount,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		int64(st.MarketID), st.Account, int16(st.Outcome), int64(st.Amount))
	if err != nil {
		return fmt.Errorf("postgres: upsert stake %d/%s: %w", st.MarketID, st.Account, err)
	}
	return nil
}

// Get returns a single stake row, or domain.ErrNotFound.
func (s *StakeStore) Get(ctx context.Context, marketID uint64, account string, outcome domain.Outcome) (domain.Stake, error) {
	const query = `
		SELECT market_id, account, outcome, amount, updated_at
		FROM stakes
		WHERE market_id = $1 AND account = $2 AND outcome = $3`

	st, err := scanStake(s.pool.QueryRow(ctx, query, int64(marketID), account, int16(outcome)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Stake{}, fmt.Errorf("postgres: stake %d/%s/%d: %w",
			marketID, account, outcome, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Stake{}, fmt.Errorf("postgres: get stake: %w", err)
	}
	return st, nil
}

// ListByMarket returns all stake rows for a market.
func (s *StakeStore) ListByMarket(ctx context.Context, marketID uint64) ([]domain.Stake, error) {
	const query = `
		SELECT market_id, account, outcome, amount, updated_at
		FROM stakes
		WHERE market_id = $1
		ORDER BY account, outcome`

	rows, err := s.pool.Query(ctx, query, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list stakes by market: %w", err)
	}
	defer rows.Close()
	return collectStakes(rows)
}

// ListByAccount returns an account's stake rows across markets, newest
// market first.
func (s *StakeStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Stake, error) {
	query := `
		SELECT market_id, account, outcome, amount, updated_at
		FROM stakes
		WHERE account = $1
		ORDER BY market_id DESC, outcome`
	args := []any{account}
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stakes by account: %w", err)
	}
	defer rows.Close()
	return collectStakes(rows)
}

// ListAll returns every stake row. Used for engine restore at boot.
func (s *StakeStore) ListAll(ctx context.Context) ([]domain.Stake, error) {
	const query = `
		SELECT market_id, account, outcome, amount, updated_at
		FROM stakes
		ORDER BY market_id, account, outcome`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all stakes: %w", err)
	}
	defer rows.Close()
	return collectStakes(rows)
}

func scanStake(row pgx.Row) (domain.Stake, error) {
	var st domain.Stake
	var marketID, amount int64
	var outcome int16
	if err := row.Scan(&marketID, &st.Account, &outcome, &amount, &st.UpdatedAt); err != nil {
		return domain.Stake{}, err
	}
	st.MarketID = uint64(marketID)
	st.Outcome = domain.Outcome(outcome)
	st.Amount = uint64(amount)
	return st, nil
}

func collectStakes(rows pgx.Rows) ([]domain.Stake, error) {
	var stakes []domain.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stake: %w", err)
		}
		stakes = append(stakes, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: stake rows: %w", err)
	}
	return stakes, nil
}

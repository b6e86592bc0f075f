package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/streamwager/wagerd/internal/domain"
)

// GrantStore implements domain.GrantStore using PostgreSQL.
type GrantStore struct {
	pool *pgxpool.Pool
}

// NewGrantStore creates a GrantStore backed by the given connection pool.
func NewGrantStore(pool *pgxpool.Pool) *GrantStore {
	return &GrantStore{pool: pool}
}

// Set writes the grant flag for one (owner, candidate) pair. Revocations
// flip the flag to false rather than deleting the row, preserving history.
func (s *GrantStore) Set(ctx context.Context, g domain.Grant) error {
	const query = `
		INSERT INTO grants (owner, candidate, granted, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner, candidate) DO UPDATE SET
			granted    = EXCLUDED.granted,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, g.Owner, g.Candidate, g.Granted); err != nil {
		return fmt.Errorf("postgres: set grant %s/%s: %w", g.Owner, g.Candidate, err)
	}
	return nil
}

// ListByOwner returns all grant rows for one owner, revoked ones included.
func (s *GrantStore) ListByOwner(ctx context.Context, owner string) ([]domain.Grant, error) {
	const query = `
		SELECT owner, candidate, granted, updated_at
		FROM grants
		WHERE owner = $1
		ORDER BY candidate`

	rows, err := s.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list grants by owner: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

// ListAll returns every grant row. Used for engine restore at boot.
func (s *GrantStore) ListAll(ctx context.Context) ([]domain.Grant, error) {
	const query = `
		SELECT owner, candidate, granted, updated_at
		FROM grants
		ORDER BY owner, candidate`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all grants: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

func collectGrants(rows pgx.Rows) ([]domain.Grant, error) {
	var grants []domain.Grant
	for rows.Next() {
		var g domain.Grant
		if err := rows.Scan(&g.Owner, &g.Candidate, &g.Granted, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: grant rows: %w", err)
	}
	return grants, nil
}

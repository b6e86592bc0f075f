package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries. Since is
// inclusive and Until exclusive, so consecutive time windows do not overlap.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists the engine's market records. The engine itself is the
// authoritative copy; the store is a write-through mirror used for restart
// recovery, listings, and archival.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id uint64) (Market, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Market, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	ListAll(ctx context.Context) ([]Market, error)
	// ListTerminalBetween returns resolved or cancelled markets whose last
	// update falls in [after, before). The cold archiver walks this window
	// forward so every sweep exports only the delta.
	ListTerminalBetween(ctx context.Context, after, before time.Time) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// StakeStore persists individual stakes keyed by (market, account, outcome).
type StakeStore interface {
	Upsert(ctx context.Context, s Stake) error
	Get(ctx context.Context, marketID uint64, account string, outcome Outcome) (Stake, error)
	ListByMarket(ctx context.Context, marketID uint64) ([]Stake, error)
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]Stake, error)
	ListAll(ctx context.Context) ([]Stake, error)
}

// GrantStore persists administrator grants keyed by (owner, candidate).
type GrantStore interface {
	Set(ctx context.Context, g Grant) error
	ListByOwner(ctx context.Context, owner string) ([]Grant, error)
	ListAll(ctx context.Context) ([]Grant, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of engine mutations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

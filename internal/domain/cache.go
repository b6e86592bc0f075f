package domain

import (
	"context"
	"io"
	"time"
)

// MarketCache provides fast market snapshot lookups for read endpoints.
type MarketCache interface {
	Set(ctx context.Context, m Market) error
	Get(ctx context.Context, id uint64) (Market, error)
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lease is a held distributed lock. The holder must keep renewing it within
// the TTL; a Renew that finds the lock expired or taken over returns
// ErrLockLost. Release is safe to call more than once.
type Lease interface {
	Renew(ctx context.Context) error
	Release()
}

// LockManager provides distributed locking. The serve mode takes a leader
// lock so exactly one engine instance writes to a given mirror.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// StreamMessage is a single entry read back from the durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans committed engine events out to external consumers via
// pub/sub for live delivery and a capped stream for catch-up reads.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports terminal-state markets to cold storage. Markets are never
// deleted from the primary store; the archive is an audit export.
type Archiver interface {
	ArchiveSettled(ctx context.Context, before time.Time) (int64, error)
	ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error)
}

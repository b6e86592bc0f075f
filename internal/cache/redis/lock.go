package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/streamwager/wagerd/internal/domain"
)

// Renewal and release are conditional on the holder's token, so a lease can
// never extend or delete a lock another party has since acquired.
const (
	renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`
	releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
)

// LockManager implements domain.LockManager on SETNX plus token-checked Lua
// scripts. The serve mode holds the leader lock through it so only one
// engine instance writes a given mirror.
type LockManager struct {
	rdb       *redis.Client
	renewSc   *redis.Script
	releaseSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		renewSc:   redis.NewScript(renewLua),
		releaseSc: redis.NewScript(releaseLua),
	}
}

// Acquire obtains the lock stored under "lock:"+key for the given TTL. It
// returns domain.ErrLockHeld when another party holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	l := &lease{
		lm:    lm,
		key:   "lock:" + key,
		token: uuid.New().String(),
		ttl:   ttl,
	}
	ok, err := lm.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return l, nil
}

// lease is a held lock identified by its acquisition token.
type lease struct {
	lm    *LockManager
	key   string
	token string
	ttl   time.Duration
}

// Renew extends the lease by its original TTL. A renewal that finds the key
// expired, or rewritten under another token, returns domain.ErrLockLost.
func (l *lease) Renew(ctx context.Context) error {
	n, err := l.lm.renewSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis: renew lock %s: %w", l.key, err)
	}
	if n == 0 {
		return domain.ErrLockLost
	}
	return nil
}

// Release drops the lease. Releasing an expired or already-released lease
// is a no-op. The background context keeps release working after the
// holder's own context is cancelled.
func (l *lease) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.lm.releaseSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err()
}

var _ domain.LockManager = (*LockManager)(nil)

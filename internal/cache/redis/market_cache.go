package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamwager/wagerd/internal/domain"
)

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with JSON-serialized market
// snapshots under market:{id} keys. The mirror refreshes an entry on every
// committed mutation, so a hit is at most one commit stale.
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(id uint64) string {
	return "market:" + strconv.FormatUint(id, 10)
}

// Set stores a market snapshot with a 5-minute TTL.
func (mc *MarketCache) Set(ctx context.Context, m domain.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", m.ID, err)
	}
	if err := mc.rdb.Set(ctx, marketKey(m.ID), data, marketTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market %d: %w", m.ID, err)
	}
	return nil
}

// Get returns a cached market, or domain.ErrNotFound on a miss.
func (mc *MarketCache) Get(ctx context.Context, id uint64) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Market{}, fmt.Errorf("redis: market %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return m, nil
}

// Invalidate removes a market from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, id uint64) error {
	if err := mc.rdb.Del(ctx, marketKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)

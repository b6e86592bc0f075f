// Package service provides the read path over the persisted market data:
// listings, account history, and audit queries that the engine's in-memory
// views do not cover. The engine stays authoritative for live state; these
// queries serve dashboards and overlays that can tolerate mirror lag.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streamwager/wagerd/internal/domain"
)

// MarketService answers market listing and history queries from the cache
// and the persistent store.
type MarketService struct {
	markets domain.MarketStore
	stakes  domain.StakeStore
	audit   domain.AuditStore
	cache   domain.MarketCache
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(
	markets domain.MarketStore,
	stakes domain.StakeStore,
	audit domain.AuditStore,
	cache domain.MarketCache,
	logger *slog.Logger,
) *MarketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketService{
		markets: markets,
		stakes:  stakes,
		audit:   audit,
		cache:   cache,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// GetMarket retrieves a market snapshot, cache first, store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %d: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// ListByOwner returns a streamer's markets, newest first.
func (s *MarketService) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list by owner %q: %w", owner, err)
	}
	return markets, nil
}

// ListByStatus returns markets in one lifecycle state, newest first.
func (s *MarketService) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	if !validStatus(status) {
		return nil, fmt.Errorf("market_service: %w: status %q", domain.ErrInvalidInput, status)
	}
	markets, err := s.markets.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list by status %q: %w", status, err)
	}
	return markets, nil
}

// AccountStakes returns an account's stake rows across markets.
func (s *MarketService) AccountStakes(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Stake, error) {
	stakes, err := s.stakes.ListByAccount(ctx, account, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: stakes for %q: %w", account, err)
	}
	return stakes, nil
}

// AuditLog returns audit entries, newest first.
func (s *MarketService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: audit log: %w", err)
	}
	return entries, nil
}

func validStatus(status domain.MarketStatus) bool {
	switch status {
	case domain.MarketStatusOpen, domain.MarketStatusLocked,
		domain.MarketStatusResolved, domain.MarketStatusCancelled:
		return true
	}
	return false
}

// Package mirror bridges the engine's commit hooks to the persistence and
// delivery layers. The engine is the authoritative copy; everything here is
// best-effort write-through, so every method swallows errors after logging
// them and never feeds a failure back into the engine.
package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/streamwager/wagerd/internal/domain"
)

const writeTimeout = 5 * time.Second

// Stores groups the persistence targets a Mirror writes through to. Any
// field may be nil; a nil store is skipped.
type Stores struct {
	Markets domain.MarketStore
	Stakes  domain.StakeStore
	Grants  domain.GrantStore
}

// Mirror copies committed engine state into the stores and refreshes the
// market cache.
type Mirror struct {
	stores Stores
	cache  domain.MarketCache
	logger *slog.Logger
}

// New creates a Mirror. cache may be nil.
func New(stores Stores, cache domain.MarketCache, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{stores: stores, cache: cache, logger: logger.With("component", "mirror")}
}

func (m *Mirror) MarketSaved(ctx context.Context, mk domain.Market) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if m.stores.Markets != nil {
		if err := m.stores.Markets.Upsert(ctx, mk); err != nil {
			m.logger.Warn("market mirror write failed", "market_id", mk.ID, "error", err)
		}
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, mk); err != nil {
			m.logger.Warn("market cache refresh failed", "market_id", mk.ID, "error", err)
		}
	}
}

func (m *Mirror) StakeSaved(ctx context.Context, s domain.Stake) {
	if m.stores.Stakes == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := m.stores.Stakes.Upsert(ctx, s); err != nil {
		m.logger.Warn("stake mirror write failed",
			"market_id", s.MarketID, "account", s.Account, "error", err)
	}
}

func (m *Mirror) GrantSaved(ctx context.Context, g domain.Grant) {
	if m.stores.Grants == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := m.stores.Grants.Set(ctx, g); err != nil {
		m.logger.Warn("grant mirror write failed",
			"owner", g.Owner, "candidate", g.Candidate, "error", err)
	}
}

// Recorder fans committed engine events out to the audit log and the signal
// bus. Live consumers get the pub/sub channel; the capped stream backs
// catch-up reads for websocket clients that reconnect.
type Recorder struct {
	audit   domain.AuditStore
	bus     domain.SignalBus
	channel string
	stream  string
	logger  *slog.Logger
}

// NewRecorder creates a Recorder. audit and bus may each be nil.
func NewRecorder(audit domain.AuditStore, bus domain.SignalBus, channel, stream string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		audit:   audit,
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logger.With("component", "recorder"),
	}
}

func (r *Recorder) Emit(ctx context.Context, ev domain.MarketEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if r.audit != nil {
		detail := map[string]any{
			"event_id":  ev.ID,
			"market_id": ev.MarketID,
		}
		if ev.Owner != "" {
			detail["owner"] = ev.Owner
		}
		if ev.Account != "" {
			detail["account"] = ev.Account
		}
		if ev.Outcome != domain.OutcomeNone {
			detail["outcome"] = ev.Outcome
		}
		if ev.Amount != 0 {
			detail["amount"] = ev.Amount
		}
		if ev.Title != "" {
			detail["title"] = ev.Title
		}
		if err := r.audit.Log(ctx, string(ev.Kind), detail); err != nil {
			r.logger.Warn("audit write failed", "kind", ev.Kind, "error", err)
		}
	}

	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("event marshal failed", "kind", ev.Kind, "error", err)
		return
	}
	if r.channel != "" {
		if err := r.bus.Publish(ctx, r.channel, payload); err != nil {
			r.logger.Warn("event publish failed", "kind", ev.Kind, "error", err)
		}
	}
	if r.stream != "" {
		if err := r.bus.StreamAppend(ctx, r.stream, payload); err != nil {
			r.logger.Warn("event stream append failed", "kind", ev.Kind, "error", err)
		}
	}
}

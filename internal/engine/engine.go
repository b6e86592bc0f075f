// Package engine implements the prediction-market lifecycle state machine:
// the authoritative record of markets and stakes, the operations legal in
// each lifecycle state, the payout and refund paths, and the authorization
// checks for market administration.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamwager/wagerd/internal/auth"
	"github.com/streamwager/wagerd/internal/domain"
	"github.com/streamwager/wagerd/internal/ledger"
)

// Mirror receives a copy of every committed state change for persistence.
// Calls are best-effort: implementations log failures and must never return
// control-flow back into the engine.
type Mirror interface {
	MarketSaved(ctx context.Context, m domain.Market)
	StakeSaved(ctx context.Context, s domain.Stake)
	GrantSaved(ctx context.Context, g domain.Grant)
}

// Sink receives the notification record emitted after every committed
// mutation. Best-effort, same contract as Mirror.
type Sink interface {
	Emit(ctx context.Context, ev domain.MarketEvent)
}

// Config carries the engine's collaborators. Transfer is required; the rest
// default to no-ops (Mirror, Events), slog.Default (Logger), and UTC wall
// time (Now).
type Config struct {
	Transfer domain.Transfer
	Mirror   Mirror
	Events   Sink
	Logger   *slog.Logger
	Now      func() time.Time
}

// marketState pairs a market record with the mutex that serializes all
// mutations against it.
type marketState struct {
	mu sync.Mutex
	m  domain.Market
}

// Engine is the prediction-market ledger engine. All lifecycle transitions
// are caller-triggered; there is no background scheduling. Mutations on the
// same market are totally ordered by a per-market mutex, and every operation
// either fully commits or fully fails with no partial mutation.
//
// The settlement layer may call back into the engine, so no market lock is
// ever held across a Transfer call: placeBet validates, releases the lock
// for the debit, then revalidates; claims commit the stake zeroing before
// the credit and roll it back whole if the credit fails.
type Engine struct {
	mu      sync.RWMutex // guards markets and nextID
	markets map[uint64]*marketState
	nextID  uint64

	book     *ledger.Book
	admins   *auth.Registry
	transfer domain.Transfer
	mirror   Mirror
	events   Sink
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Engine from the given configuration.
func New(cfg Config) *Engine {
	if cfg.Transfer == nil {
		panic("engine: Transfer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	mirror := cfg.Mirror
	if mirror == nil {
		mirror = noopMirror{}
	}
	events := cfg.Events
	if events == nil {
		events = noopSink{}
	}
	return &Engine{
		markets:  make(map[uint64]*marketState),
		book:     ledger.NewBook(),
		admins:   auth.NewRegistry(),
		transfer: cfg.Transfer,
		mirror:   mirror,
		events:   events,
		logger:   logger.With(slog.String("component", "engine")),
		now:      now,
	}
}

// Restore seeds the engine from mirrored state at startup. The next market
// ID continues after the highest restored ID so IDs are never reused.
func (e *Engine) Restore(markets []domain.Market, stakes []domain.Stake, grants []domain.Grant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range markets {
		e.markets[m.ID] = &marketState{m: m}
		if m.ID >= e.nextID {
			e.nextID = m.ID + 1
		}
	}
	e.book.Load(stakes)
	e.admins.Load(grants)
}

// ---------------------------------------------------------------------------
// Market administration
// ---------------------------------------------------------------------------

// CreateMarket opens a new market for owner with the given title and outcome
// labels. The caller must be the owner or hold an administrator grant from
// the owner. Returns the assigned market ID.
func (e *Engine) CreateMarket(ctx context.Context, caller, owner, title, label1, label2 string) (uint64, error) {
	if !e.admins.CanManage(owner, caller) {
		return 0, domain.ErrUnauthorized
	}
	if strings.TrimSpace(title) == "" || strings.TrimSpace(label1) == "" || strings.TrimSpace(label2) == "" {
		return 0, domain.ErrInvalidInput
	}

	now := e.now()
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	st := &marketState{m: domain.Market{
		ID:        id,
		Owner:     owner,
		Title:     title,
		Outcomes:  [2]string{label1, label2},
		Status:    domain.MarketStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	e.markets[id] = st
	e.mu.Unlock()

	e.mirror.MarketSaved(ctx, st.m)
	e.emit(ctx, domain.MarketEvent{
		Kind:     domain.EventMarketCreated,
		MarketID: id,
		Owner:    owner,
		Account:  caller,
		Title:    title,
	})
	return id, nil
}

// LockMarket freezes betting on an Open market. Owner or administrator only.
func (e *Engine) LockMarket(ctx context.Context, caller string, marketID uint64) error {
	return e.transition(ctx, caller, marketID, func(m *domain.Market, now time.Time) (domain.EventKind, error) {
		if m.Status != domain.MarketStatusOpen {
			return "", domain.ErrInvalidState
		}
		m.Status = domain.MarketStatusLocked
		m.LockedAt = &now
		return domain.EventMarketLocked, nil
	})
}

// ResolveMarket settles a Locked market to the winning outcome. Owner or
// administrator only.
func (e *Engine) ResolveMarket(ctx context.Context, caller string, marketID uint64, winning domain.Outcome) error {
	if !winning.Valid() {
		return domain.ErrInvalidOption
	}
	return e.transition(ctx, caller, marketID, func(m *domain.Market, now time.Time) (domain.EventKind, error) {
		if m.Status != domain.MarketStatusLocked {
			return "", domain.ErrInvalidState
		}
		m.Status = domain.MarketStatusResolved
		m.WinningOutcome = winning
		return domain.EventMarketResolved, nil
	})
}

// CancelMarket voids an Open or Locked market, enabling refunds instead of
// payouts. Owner or administrator only.
func (e *Engine) CancelMarket(ctx context.Context, caller string, marketID uint64) error {
	return e.transition(ctx, caller, marketID, func(m *domain.Market, now time.Time) (domain.EventKind, error) {
		if m.Status != domain.MarketStatusOpen && m.Status != domain.MarketStatusLocked {
			return "", domain.ErrInvalidState
		}
		m.Status = domain.MarketStatusCancelled
		return domain.EventMarketCancelled, nil
	})
}

// transition applies an authorized lifecycle mutation under the market lock
// and, on success, mirrors the record and emits the corresponding event.
func (e *Engine) transition(ctx context.Context, caller string, marketID uint64, fn func(*domain.Market, time.Time) (domain.EventKind, error)) error {
	st, err := e.state(marketID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if !e.admins.CanManage(st.m.Owner, caller) {
		st.mu.Unlock()
		return domain.ErrUnauthorized
	}
	now := e.now()
	kind, err := fn(&st.m, now)
	if err != nil {
		st.mu.Unlock()
		return err
	}
	st.m.UpdatedAt = now
	snapshot := st.m
	st.mu.Unlock()

	e.mirror.MarketSaved(ctx, snapshot)
	e.emit(ctx, domain.MarketEvent{
		Kind:     kind,
		MarketID: marketID,
		Owner:    snapshot.Owner,
		Account:  caller,
		Outcome:  snapshot.WinningOutcome,
		Title:    snapshot.Title,
	})
	return nil
}

// ---------------------------------------------------------------------------
// Betting
// ---------------------------------------------------------------------------

// PlaceBet debits amount from the caller and records it as a stake on the
// given outcome. The debit happens first so a failed debit leaves no stake;
// if the market left Open while the debit was in flight, the debit is
// compensated with a credit and the bet is rejected.
func (e *Engine) PlaceBet(ctx context.Context, caller string, marketID uint64, outcome domain.Outcome, amount uint64) error {
	st, err := e.state(marketID)
	if err != nil {
		return err
	}
	// Pre-flight checks so we do not debit for an obviously doomed bet.
	st.mu.Lock()
	switch {
	case st.m.Status != domain.MarketStatusOpen:
		st.mu.Unlock()
		return domain.ErrInvalidState
	case !outcome.Valid():
		st.mu.Unlock()
		return domain.ErrInvalidOption
	case amount == 0:
		st.mu.Unlock()
		return domain.ErrInvalidAmount
	case amount > math.MaxUint64-st.m.TotalPool():
		// The combined pool is capped at MaxUint64 so neither the pool
		// counters nor the payout sum can ever wrap.
		st.mu.Unlock()
		return domain.ErrInvalidAmount
	}
	st.mu.Unlock()

	// Debit with no lock held; the settlement layer may re-enter the engine.
	if err := e.transfer.Debit(ctx, caller, amount); err != nil {
		return fmt.Errorf("%w: debit %s: %w", domain.ErrTransferFailed, caller, err)
	}

	st.mu.Lock()
	// Revalidate: the market may have left Open, or other bets may have
	// filled the pool cap, while the debit was in flight. Undo the debit
	// and reject; no stake is recorded.
	var rejected error
	switch {
	case st.m.Status != domain.MarketStatusOpen:
		rejected = domain.ErrInvalidState
	case amount > math.MaxUint64-st.m.TotalPool():
		rejected = domain.ErrInvalidAmount
	}
	if rejected != nil {
		st.mu.Unlock()
		if cerr := e.transfer.Credit(ctx, caller, amount); cerr != nil {
			e.logger.ErrorContext(ctx, "compensating credit failed, funds held in treasury",
				slog.Uint64("market_id", marketID),
				slog.String("account", caller),
				slog.Uint64("amount", amount),
				slog.String("error", cerr.Error()),
			)
		}
		return rejected
	}
	now := e.now()
	e.book.Add(marketID, caller, outcome, amount)
	st.m.Pools[outcome-1] += amount
	st.m.UpdatedAt = now
	snapshot := st.m
	total := e.book.Amount(marketID, caller, outcome)
	st.mu.Unlock()

	e.mirror.MarketSaved(ctx, snapshot)
	e.mirror.StakeSaved(ctx, domain.Stake{
		MarketID: marketID, Account: caller, Outcome: outcome,
		Amount: total, UpdatedAt: now,
	})
	e.emit(ctx, domain.MarketEvent{
		Kind:     domain.EventBetPlaced,
		MarketID: marketID,
		Owner:    snapshot.Owner,
		Account:  caller,
		Outcome:  outcome,
		Amount:   amount,
		Title:    snapshot.Title,
	})
	return nil
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

// ClaimWinnings pays the caller their pari-mutuel payout on a Resolved
// market and returns the amount credited. The stake is zeroed before the
// credit is attempted; a failed credit restores it and nothing is paid.
func (e *Engine) ClaimWinnings(ctx context.Context, caller string, marketID uint64) (uint64, error) {
	st, err := e.state(marketID)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	if st.m.Status != domain.MarketStatusResolved {
		st.mu.Unlock()
		return 0, domain.ErrInvalidState
	}
	winning := st.m.WinningOutcome
	stake := e.book.Take(marketID, caller, winning)
	if stake == 0 {
		st.mu.Unlock()
		return 0, domain.ErrNothingToClaim
	}
	payout := ledger.Payout(stake, st.m.Pool(winning), st.m.Pool(winning.Other()))
	owner, title := st.m.Owner, st.m.Title
	st.mu.Unlock()

	// The zeroed stake is committed and visible before the external credit,
	// so a re-entrant settlement layer cannot double-claim.
	if err := e.transfer.Credit(ctx, caller, payout); err != nil {
		e.book.Restore(marketID, caller, winning, stake)
		return 0, fmt.Errorf("%w: credit %s: %w", domain.ErrTransferFailed, caller, err)
	}

	now := e.now()
	e.mirror.StakeSaved(ctx, domain.Stake{
		MarketID: marketID, Account: caller, Outcome: winning,
		Amount: 0, UpdatedAt: now,
	})
	e.emit(ctx, domain.MarketEvent{
		Kind:     domain.EventWinningsClaimed,
		MarketID: marketID,
		Owner:    owner,
		Account:  caller,
		Outcome:  winning,
		Amount:   payout,
		Title:    title,
	})
	return payout, nil
}

// ClaimRefund returns the caller's principal on a Cancelled market: the sum
// of their stakes on both outcomes. Same zero-then-pay ordering as
// ClaimWinnings.
func (e *Engine) ClaimRefund(ctx context.Context, caller string, marketID uint64) (uint64, error) {
	st, err := e.state(marketID)
	if err != nil {
		return 0, err
	}

	st.mu.Lock()
	if st.m.Status != domain.MarketStatusCancelled {
		st.mu.Unlock()
		return 0, domain.ErrInvalidState
	}
	s1, s2 := e.book.TakeBoth(marketID, caller)
	if s1 == 0 && s2 == 0 {
		st.mu.Unlock()
		return 0, domain.ErrNothingToClaim
	}
	refund := ledger.Refund(s1, s2)
	owner, title := st.m.Owner, st.m.Title
	st.mu.Unlock()

	if err := e.transfer.Credit(ctx, caller, refund); err != nil {
		e.book.Restore(marketID, caller, domain.Outcome1, s1)
		e.book.Restore(marketID, caller, domain.Outcome2, s2)
		return 0, fmt.Errorf("%w: credit %s: %w", domain.ErrTransferFailed, caller, err)
	}

	now := e.now()
	for _, o := range []domain.Outcome{domain.Outcome1, domain.Outcome2} {
		e.mirror.StakeSaved(ctx, domain.Stake{
			MarketID: marketID, Account: caller, Outcome: o,
			Amount: 0, UpdatedAt: now,
		})
	}
	e.emit(ctx, domain.MarketEvent{
		Kind:     domain.EventRefundClaimed,
		MarketID: marketID,
		Owner:    owner,
		Account:  caller,
		Amount:   refund,
		Title:    title,
	})
	return refund, nil
}

// ---------------------------------------------------------------------------
// Administrator grants
// ---------------------------------------------------------------------------

// Grant gives candidate administrator rights over the caller's markets.
// Idempotent: granting an existing administrator succeeds without effect.
func (e *Engine) Grant(ctx context.Context, caller, candidate string) error {
	if strings.TrimSpace(candidate) == "" {
		return domain.ErrInvalidInput
	}
	if !e.admins.Grant(caller, candidate) {
		return nil
	}
	e.mirror.GrantSaved(ctx, domain.Grant{
		Owner: caller, Candidate: candidate, Granted: true, UpdatedAt: e.now(),
	})
	e.emit(ctx, domain.MarketEvent{
		Kind:    domain.EventAdminGranted,
		Owner:   caller,
		Account: candidate,
	})
	return nil
}

// Revoke removes candidate's administrator rights over the caller's markets.
// Idempotent.
func (e *Engine) Revoke(ctx context.Context, caller, candidate string) error {
	if !e.admins.Revoke(caller, candidate) {
		return nil
	}
	e.mirror.GrantSaved(ctx, domain.Grant{
		Owner: caller, Candidate: candidate, Granted: false, UpdatedAt: e.now(),
	})
	e.emit(ctx, domain.MarketEvent{
		Kind:    domain.EventAdminRevoked,
		Owner:   caller,
		Account: candidate,
	})
	return nil
}

// IsGranted reports whether candidate holds an administrator grant from
// owner.
func (e *Engine) IsGranted(owner, candidate string) bool {
	return e.admins.IsGranted(owner, candidate)
}

// Admins returns the owner's current administrator set.
func (e *Engine) Admins(owner string) []string {
	return e.admins.ListByOwner(owner)
}

// CanManage reports whether account may administer the given market.
func (e *Engine) CanManage(marketID uint64, account string) (bool, error) {
	st, err := e.state(marketID)
	if err != nil {
		return false, err
	}
	st.mu.Lock()
	owner := st.m.Owner
	st.mu.Unlock()
	return e.admins.CanManage(owner, account), nil
}

// ---------------------------------------------------------------------------
// Read views
// ---------------------------------------------------------------------------

// GetMarket returns a consistent snapshot of the market record.
func (e *Engine) GetMarket(marketID uint64) (domain.Market, error) {
	st, err := e.state(marketID)
	if err != nil {
		return domain.Market{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.m, nil
}

// Markets returns snapshots of every market, ordered by ID.
func (e *Engine) Markets() []domain.Market {
	e.mu.RLock()
	states := make([]*marketState, 0, len(e.markets))
	for _, st := range e.markets {
		states = append(states, st)
	}
	e.mu.RUnlock()

	out := make([]domain.Market, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.m)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stake returns the caller's live stake on one outcome of a market.
func (e *Engine) Stake(marketID uint64, account string, outcome domain.Outcome) (uint64, error) {
	if _, err := e.state(marketID); err != nil {
		return 0, err
	}
	if !outcome.Valid() {
		return 0, domain.ErrInvalidOption
	}
	return e.book.Amount(marketID, account, outcome), nil
}

// StakesByMarket returns every live stake recorded against a market.
func (e *Engine) StakesByMarket(marketID uint64) ([]domain.Stake, error) {
	if _, err := e.state(marketID); err != nil {
		return nil, err
	}
	return e.book.ByMarket(marketID), nil
}

// GetPayout returns what ClaimWinnings would pay the account right now,
// without mutating state. It is 0 unless the market is Resolved and the
// account holds a stake on the winning outcome.
func (e *Engine) GetPayout(marketID uint64, account string) (uint64, error) {
	st, err := e.state(marketID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.m.Status != domain.MarketStatusResolved {
		return 0, nil
	}
	winning := st.m.WinningOutcome
	stake := e.book.Amount(marketID, account, winning)
	if stake == 0 {
		return 0, nil
	}
	return ledger.Payout(stake, st.m.Pool(winning), st.m.Pool(winning.Other())), nil
}

// GetRefundAmount returns what ClaimRefund would pay the account right now,
// without mutating state. It is 0 unless the market is Cancelled.
func (e *Engine) GetRefundAmount(marketID uint64, account string) (uint64, error) {
	st, err := e.state(marketID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.m.Status != domain.MarketStatusCancelled {
		return 0, nil
	}
	s1 := e.book.Amount(marketID, account, domain.Outcome1)
	s2 := e.book.Amount(marketID, account, domain.Outcome2)
	return ledger.Refund(s1, s2), nil
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

func (e *Engine) state(marketID uint64) (*marketState, error) {
	e.mu.RLock()
	st, ok := e.markets[marketID]
	e.mu.RUnlock()
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return st, nil
}

func (e *Engine) emit(ctx context.Context, ev domain.MarketEvent) {
	ev.ID = uuid.New().String()
	ev.At = e.now()
	e.events.Emit(ctx, ev)
}

type noopMirror struct{}

func (noopMirror) MarketSaved(context.Context, domain.Market) {}
func (noopMirror) StakeSaved(context.Context, domain.Stake)   {}
func (noopMirror) GrantSaved(context.Context, domain.Grant)   {}

type noopSink struct{}

func (noopSink) Emit(context.Context, domain.MarketEvent) {}

// MultiSink fans one event out to several sinks in order.
type MultiSink []Sink

// Emit delivers ev to every sink.
func (ms MultiSink) Emit(ctx context.Context, ev domain.MarketEvent) {
	for _, s := range ms {
		s.Emit(ctx, ev)
	}
}

package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/streamwager/wagerd/internal/domain"
)

// testBank implements domain.Transfer with injectable failures and a full
// call log, so tests can assert exactly what moved and when.
type testBank struct {
	mu        sync.Mutex
	balances  map[string]uint64
	treasury  uint64
	debitErr  error
	creditErr error
	debits    int
	credits   int
	onDebit   func() // runs before the debit applies; used for re-entrancy tests
}

func newTestBank(balances map[string]uint64) *testBank {
	if balances == nil {
		balances = make(map[string]uint64)
	}
	return &testBank{balances: balances}
}

func (b *testBank) Debit(ctx context.Context, account string, amount uint64) error {
	if b.onDebit != nil {
		b.onDebit()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.debitErr != nil {
		return b.debitErr
	}
	if b.balances[account] < amount {
		return errors.New("insufficient balance")
	}
	b.balances[account] -= amount
	b.treasury += amount
	b.debits++
	return nil
}

func (b *testBank) Credit(ctx context.Context, account string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.creditErr != nil {
		return b.creditErr
	}
	b.treasury -= amount
	b.balances[account] += amount
	b.credits++
	return nil
}

func (b *testBank) balance(account string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// eventRecorder captures emitted events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.MarketEvent
}

func (r *eventRecorder) Emit(_ context.Context, ev domain.MarketEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestEngine(balances map[string]uint64) (*Engine, *testBank, *eventRecorder) {
	bank := newTestBank(balances)
	rec := &eventRecorder{}
	e := New(Config{Transfer: bank, Events: rec})
	return e, bank, rec
}

// mustCreate opens a market owned by "streamer" and returns its ID.
func mustCreate(t *testing.T, e *Engine) uint64 {
	t.Helper()
	id, err := e.CreateMarket(context.Background(), "streamer", "streamer", "Will I win this game?", "Yes", "No")
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return id
}

func TestCreateMarket(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(nil)

	id, err := e.CreateMarket(ctx, "streamer", "streamer", "First blood?", "Blue", "Red")
	if err != nil {
		t.Fatalf("CreateMarket by owner: %v", err)
	}
	if id != 0 {
		t.Errorf("first market ID = %d, want 0", id)
	}

	id2 := mustCreate(t, e)
	if id2 != 1 {
		t.Errorf("second market ID = %d, want 1 (sequential)", id2)
	}

	m, err := e.GetMarket(id)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.Status != domain.MarketStatusOpen {
		t.Errorf("new market status = %q, want open", m.Status)
	}
	if m.Pools[0] != 0 || m.Pools[1] != 0 {
		t.Errorf("new market pools = %v, want zero", m.Pools)
	}
}

func TestCreateMarketAuthorization(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(nil)

	if _, err := e.CreateMarket(ctx, "viewer", "streamer", "t", "a", "b"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("stranger creating for streamer: err = %v, want ErrUnauthorized", err)
	}

	if err := e.Grant(ctx, "streamer", "mod"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := e.CreateMarket(ctx, "mod", "streamer", "t", "a", "b"); err != nil {
		t.Errorf("granted mod creating for streamer: %v", err)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(nil)

	for _, in := range [][3]string{
		{"", "a", "b"},
		{"t", "", "b"},
		{"t", "a", ""},
		{"   ", "a", "b"},
	} {
		if _, err := e.CreateMarket(ctx, "streamer", "streamer", in[0], in[1], in[2]); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("CreateMarket(%q, %q, %q): err = %v, want ErrInvalidInput", in[0], in[1], in[2], err)
		}
	}
}

func TestPlaceBetValidation(t *testing.T) {
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"viewer": 100})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "viewer", 999, domain.Outcome1, 1); !errors.Is(err, domain.ErrMarketNotFound) {
		t.Errorf("unknown market: err = %v, want ErrMarketNotFound", err)
	}
	if err := e.PlaceBet(ctx, "viewer", id, domain.Outcome(3), 1); !errors.Is(err, domain.ErrInvalidOption) {
		t.Errorf("outcome 3: err = %v, want ErrInvalidOption", err)
	}
	if err := e.PlaceBet(ctx, "viewer", id, domain.OutcomeNone, 1); !errors.Is(err, domain.ErrInvalidOption) {
		t.Errorf("outcome 0: err = %v, want ErrInvalidOption", err)
	}
	if err := e.PlaceBet(ctx, "viewer", id, domain.Outcome1, 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount: err = %v, want ErrInvalidAmount", err)
	}

	if err := e.LockMarket(ctx, "streamer", id); err != nil {
		t.Fatalf("LockMarket: %v", err)
	}
	if err := e.PlaceBet(ctx, "viewer", id, domain.Outcome1, 1); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("bet on locked market: err = %v, want ErrInvalidState", err)
	}

	if bank.balance("viewer") != 100 {
		t.Errorf("rejected bets must not move funds, balance = %d", bank.balance("viewer"))
	}
}

func TestPlaceBetDebitFailureLeavesNoState(t *testing.T) {
	ctx := context.Background()
	e, bank, rec := newTestEngine(map[string]uint64{"viewer": 100})
	id := mustCreate(t, e)

	bank.debitErr = errors.New("settlement down")
	err := e.PlaceBet(ctx, "viewer", id, domain.Outcome1, 10)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}

	m, _ := e.GetMarket(id)
	if m.Pools[0] != 0 {
		t.Errorf("pool = %d after failed debit, want 0", m.Pools[0])
	}
	if s, _ := e.Stake(id, "viewer", domain.Outcome1); s != 0 {
		t.Errorf("stake = %d after failed debit, want 0", s)
	}
	for _, k := range rec.kinds() {
		if k == domain.EventBetPlaced {
			t.Error("no bet event should be emitted for a failed debit")
		}
	}
}

func TestPlaceBetAccumulatesAndTracksPools(t *testing.T) {
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"a": 100, "b": 100})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 10); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 5); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if err := e.PlaceBet(ctx, "b", id, domain.Outcome2, 7); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	if s, _ := e.Stake(id, "a", domain.Outcome1); s != 15 {
		t.Errorf("repeat bets: stake = %d, want 15", s)
	}
	m, _ := e.GetMarket(id)
	if m.Pools != [2]uint64{15, 7} {
		t.Errorf("pools = %v, want [15 7]", m.Pools)
	}
	if bank.balance("a") != 85 || bank.balance("b") != 93 {
		t.Errorf("balances = (%d, %d), want (85, 93)", bank.balance("a"), bank.balance("b"))
	}
}

func TestPlaceBetRejectsPoolOverflow(t *testing.T) {
	// The combined pool across both outcomes stays within uint64, so
	// payouts of the form stake + share can never wrap.
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"whale": math.MaxUint64, "late": 100})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "whale", id, domain.Outcome1, math.MaxUint64-10); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	err := e.PlaceBet(ctx, "late", id, domain.Outcome2, 11)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("bet past pool cap: err = %v, want ErrInvalidAmount", err)
	}
	if bank.balance("late") != 100 {
		t.Errorf("balance = %d, want 100 (rejected bet must not debit)", bank.balance("late"))
	}

	if err := e.PlaceBet(ctx, "late", id, domain.Outcome2, 10); err != nil {
		t.Fatalf("bet filling pool exactly: %v", err)
	}
	m, _ := e.GetMarket(id)
	if m.TotalPool() != math.MaxUint64 {
		t.Errorf("total pool = %d, want MaxUint64", m.TotalPool())
	}
}

func TestPlaceBetRevalidatesPoolAfterDebit(t *testing.T) {
	// A concurrent bet lands while the first bet's debit is in flight and
	// fills the pool cap. The first bet must be rejected on re-acquire and
	// its debit compensated.
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"viewer": 100, "whale": math.MaxUint64})
	id := mustCreate(t, e)

	raced := false
	bank.onDebit = func() {
		if !raced {
			raced = true
			if err := e.PlaceBet(ctx, "whale", id, domain.Outcome2, math.MaxUint64-10); err != nil {
				t.Errorf("racing bet: %v", err)
			}
		}
	}

	err := e.PlaceBet(ctx, "viewer", id, domain.Outcome1, 50)
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("bet raced past pool cap: err = %v, want ErrInvalidAmount", err)
	}
	if bank.balance("viewer") != 100 {
		t.Errorf("balance = %d, want 100 (debit compensated)", bank.balance("viewer"))
	}
	if s, _ := e.Stake(id, "viewer", domain.Outcome1); s != 0 {
		t.Errorf("stake = %d, want 0 (no stake recorded)", s)
	}
}

func TestLifecycleMonotonicity(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(nil)

	// Open: resolve is illegal (cannot skip Locked).
	id := mustCreate(t, e)
	if err := e.ResolveMarket(ctx, "streamer", id, domain.Outcome1); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("resolve from open: err = %v, want ErrInvalidState", err)
	}

	// Locked: second lock is illegal.
	if err := e.LockMarket(ctx, "streamer", id); err != nil {
		t.Fatalf("LockMarket: %v", err)
	}
	if err := e.LockMarket(ctx, "streamer", id); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("double lock: err = %v, want ErrInvalidState", err)
	}
	m, _ := e.GetMarket(id)
	if m.LockedAt == nil {
		t.Error("LockedAt should be set on lock")
	}

	// Resolved is terminal.
	if err := e.ResolveMarket(ctx, "streamer", id, domain.Outcome2); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}
	if err := e.ResolveMarket(ctx, "streamer", id, domain.Outcome1); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("double resolve: err = %v, want ErrInvalidState", err)
	}
	if err := e.CancelMarket(ctx, "streamer", id); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("cancel resolved: err = %v, want ErrInvalidState", err)
	}
	m, _ = e.GetMarket(id)
	if m.WinningOutcome != domain.Outcome2 {
		t.Errorf("winning outcome = %d, want 2", m.WinningOutcome)
	}

	// Cancelled is terminal, reachable from Open and Locked.
	id2 := mustCreate(t, e)
	if err := e.CancelMarket(ctx, "streamer", id2); err != nil {
		t.Fatalf("cancel from open: %v", err)
	}
	if err := e.LockMarket(ctx, "streamer", id2); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("lock cancelled: err = %v, want ErrInvalidState", err)
	}
	if err := e.CancelMarket(ctx, "streamer", id2); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("double cancel: err = %v, want ErrInvalidState", err)
	}

	if err := e.ResolveMarket(ctx, "streamer", id2, domain.Outcome(5)); !errors.Is(err, domain.ErrInvalidOption) {
		t.Errorf("resolve with outcome 5: err = %v, want ErrInvalidOption", err)
	}
}

func TestManagementAuthorization(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(nil)
	id := mustCreate(t, e)

	// Stranger cannot lock, resolve, or cancel.
	if err := e.LockMarket(ctx, "viewer", id); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("lock by stranger: err = %v, want ErrUnauthorized", err)
	}
	if err := e.CancelMarket(ctx, "viewer", id); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("cancel by stranger: err = %v, want ErrUnauthorized", err)
	}

	// After a grant the administrator can manage.
	if err := e.Grant(ctx, "streamer", "mod"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if ok, _ := e.CanManage(id, "mod"); !ok {
		t.Error("CanManage should be true for granted mod")
	}
	if err := e.LockMarket(ctx, "mod", id); err != nil {
		t.Errorf("lock by mod after grant: %v", err)
	}

	// After revoke the rights are gone again.
	if err := e.Revoke(ctx, "streamer", "mod"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := e.ResolveMarket(ctx, "mod", id, domain.Outcome1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("resolve by revoked mod: err = %v, want ErrUnauthorized", err)
	}

	if ok, _ := e.CanManage(id, "streamer"); !ok {
		t.Error("CanManage should always be true for the owner")
	}
}

func TestScenarioA(t *testing.T) {
	// Stakes of 1 and 2 on outcome 1 (pool 3), 3 on outcome 2 (pool 3);
	// outcome 1 wins.
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"a": 10, "b": 10, "c": 10})
	id := mustCreate(t, e)

	for _, bet := range []struct {
		account string
		outcome domain.Outcome
		amount  uint64
	}{
		{"a", domain.Outcome1, 1},
		{"b", domain.Outcome1, 2},
		{"c", domain.Outcome2, 3},
	} {
		if err := e.PlaceBet(ctx, bet.account, id, bet.outcome, bet.amount); err != nil {
			t.Fatalf("PlaceBet(%s): %v", bet.account, err)
		}
	}
	if err := e.LockMarket(ctx, "streamer", id); err != nil {
		t.Fatalf("LockMarket: %v", err)
	}
	if err := e.ResolveMarket(ctx, "streamer", id, domain.Outcome1); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}

	got, err := e.ClaimWinnings(ctx, "a", id)
	if err != nil || got != 2 {
		t.Errorf("a's payout = (%d, %v), want (2, nil)", got, err)
	}
	got, err = e.ClaimWinnings(ctx, "b", id)
	if err != nil || got != 4 {
		t.Errorf("b's payout = (%d, %v), want (4, nil)", got, err)
	}
	if _, err := e.ClaimWinnings(ctx, "c", id); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Errorf("loser's claim: err = %v, want ErrNothingToClaim", err)
	}

	if bank.balance("a") != 11 || bank.balance("b") != 12 || bank.balance("c") != 7 {
		t.Errorf("final balances = (%d, %d, %d), want (11, 12, 7)",
			bank.balance("a"), bank.balance("b"), bank.balance("c"))
	}
	if bank.treasury != 0 {
		t.Errorf("treasury = %d after full distribution, want 0", bank.treasury)
	}
}

func TestScenarioB(t *testing.T) {
	// One staker of 1 on each outcome; outcome 1 wins; payout 2.
	ctx := context.Background()
	e, _, _ := newTestEngine(map[string]uint64{"a": 1, "b": 1})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.PlaceBet(ctx, "b", id, domain.Outcome2, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.LockMarket(ctx, "streamer", id); err != nil {
		t.Fatal(err)
	}
	if err := e.ResolveMarket(ctx, "streamer", id, domain.Outcome1); err != nil {
		t.Fatal(err)
	}

	if got, err := e.ClaimWinnings(ctx, "a", id); err != nil || got != 2 {
		t.Errorf("payout = (%d, %v), want (2, nil)", got, err)
	}
}

func TestScenarioC(t *testing.T) {
	// No stakes on the losing outcome: payout equals stake exactly.
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"a": 10})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 7); err != nil {
		t.Fatal(err)
	}
	if err := e.LockMarket(ctx, "streamer", id); err != nil {
		t.Fatal(err)
	}
	if err := e.ResolveMarket(ctx, "streamer", id, domain.Outcome1); err != nil {
		t.Fatal(err)
	}

	if got, err := e.ClaimWinnings(ctx, "a", id); err != nil || got != 7 {
		t.Errorf("payout = (%d, %v), want (7, nil)", got, err)
	}
	if bank.balance("a") != 10 {
		t.Errorf("balance = %d, want 10 (no gain, no loss)", bank.balance("a"))
	}
}

func TestScenarioDRefund(t *testing.T) {
	// Same account stakes on both outcomes; cancellation refunds the sum.
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"a": 10})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.PlaceBet(ctx, "a", id, domain.Outcome2, 2); err != nil {
		t.Fatal(err)
	}

	// Refund is illegal before cancellation.
	if _, err := e.ClaimRefund(ctx, "a", id); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("refund on open market: err = %v, want ErrInvalidState", err)
	}

	if err := e.CancelMarket(ctx, "streamer", id); err != nil {
		t.Fatal(err)
	}

	got, err := e.ClaimRefund(ctx, "a", id)
	if err != nil || got != 3 {
		t.Fatalf("refund = (%d, %v), want (3, nil)", got, err)
	}
	if _, err := e.ClaimRefund(ctx, "a", id); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Errorf("second refund: err = %v, want ErrNothingToClaim", err)
	}
	if bank.balance("a") != 10 {
		t.Errorf("balance = %d, want 10 (principal back)", bank.balance("a"))
	}
}

func TestDoubleClaimWinnings(t *testing.T) {
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"a": 5, "b": 5})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 5); err != nil {
		t.Fatal(err)
	}
	if err := e.PlaceBet(ctx, "b", id, domain.Outcome2, 5); err != nil {
		t.Fatal(err)
	}
	if err := e.LockMarket(ctx, "streamer", id); err != nil {
		t.Fatal(err)
	}
	if err := e.ResolveMarket(ctx, "streamer", id, domain.Outcome1); err != nil {
		t.Fatal(err)
	}

	if _, err := e.ClaimWinnings(ctx, "a", id); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	credits := bank.credits
	if _, err := e.ClaimWinnings(ctx, "a", id); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Errorf("second claim: err = %v, want ErrNothingToClaim", err)
	}
	if bank.credits != credits {
		t.Error("second claim must not produce an additional transfer")
	}
}

func TestClaimBeforeResolveIsInvalidState(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(map[string]uint64{"a": 5})
	id := mustCreate(t, e)

	if _, err := e.ClaimWinnings(ctx, "a", id); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("claim on open market: err = %v, want ErrInvalidState", err)
	}
	if err := e.LockMarket(ctx, "streamer", id); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimWinnings(ctx, "a", id); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("claim on locked market: err = %v, want ErrInvalidState", err)
	}
}

func TestCreditFailureRestoresStake(t *testing.T) {
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"a": 5, "b": 5})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 5); err != nil {
		t.Fatal(err)
	}
	if err := e.PlaceBet(ctx, "b", id, domain.Outcome2, 5); err != nil {
		t.Fatal(err)
	}
	if err := e.LockMarket(ctx, "streamer", id); err != nil {
		t.Fatal(err)
	}
	if err := e.ResolveMarket(ctx, "streamer", id, domain.Outcome1); err != nil {
		t.Fatal(err)
	}

	bank.creditErr = errors.New("settlement down")
	if _, err := e.ClaimWinnings(ctx, "a", id); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("claim with failing credit: err = %v, want ErrTransferFailed", err)
	}

	// Stake must be back; the claim succeeds once settlement recovers.
	if s, _ := e.Stake(id, "a", domain.Outcome1); s != 5 {
		t.Errorf("stake after failed credit = %d, want 5 (restored)", s)
	}
	bank.creditErr = nil
	if got, err := e.ClaimWinnings(ctx, "a", id); err != nil || got != 10 {
		t.Errorf("retried claim = (%d, %v), want (10, nil)", got, err)
	}
}

func TestRefundCreditFailureRestoresBothStakes(t *testing.T) {
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"a": 10})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.PlaceBet(ctx, "a", id, domain.Outcome2, 2); err != nil {
		t.Fatal(err)
	}
	if err := e.CancelMarket(ctx, "streamer", id); err != nil {
		t.Fatal(err)
	}

	bank.creditErr = errors.New("settlement down")
	if _, err := e.ClaimRefund(ctx, "a", id); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("refund with failing credit: err = %v, want ErrTransferFailed", err)
	}
	if amt, _ := e.GetRefundAmount(id, "a"); amt != 3 {
		t.Errorf("refund amount after failed credit = %d, want 3 (restored)", amt)
	}

	bank.creditErr = nil
	if got, err := e.ClaimRefund(ctx, "a", id); err != nil || got != 3 {
		t.Errorf("retried refund = (%d, %v), want (3, nil)", got, err)
	}
}

func TestGetPayoutMatchesClaim(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(map[string]uint64{"a": 100, "b": 100, "c": 100})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 13); err != nil {
		t.Fatal(err)
	}
	if err := e.PlaceBet(ctx, "b", id, domain.Outcome1, 29); err != nil {
		t.Fatal(err)
	}
	if err := e.PlaceBet(ctx, "c", id, domain.Outcome2, 57); err != nil {
		t.Fatal(err)
	}

	// Before resolution the view reports 0.
	if amt, err := e.GetPayout(id, "a"); err != nil || amt != 0 {
		t.Errorf("GetPayout on open market = (%d, %v), want (0, nil)", amt, err)
	}

	if err := e.LockMarket(ctx, "streamer", id); err != nil {
		t.Fatal(err)
	}
	if err := e.ResolveMarket(ctx, "streamer", id, domain.Outcome1); err != nil {
		t.Fatal(err)
	}

	for _, account := range []string{"a", "b"} {
		view, err := e.GetPayout(id, account)
		if err != nil {
			t.Fatalf("GetPayout(%s): %v", account, err)
		}
		claimed, err := e.ClaimWinnings(ctx, account, id)
		if err != nil {
			t.Fatalf("ClaimWinnings(%s): %v", account, err)
		}
		if view != claimed {
			t.Errorf("%s: GetPayout = %d but ClaimWinnings paid %d", account, view, claimed)
		}
	}
	if amt, _ := e.GetPayout(id, "c"); amt != 0 {
		t.Errorf("loser's GetPayout = %d, want 0", amt)
	}
}

func TestGetRefundAmountMatchesClaim(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(map[string]uint64{"a": 100})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 4); err != nil {
		t.Fatal(err)
	}
	if err := e.PlaceBet(ctx, "a", id, domain.Outcome2, 9); err != nil {
		t.Fatal(err)
	}

	if amt, _ := e.GetRefundAmount(id, "a"); amt != 0 {
		t.Errorf("GetRefundAmount before cancel = %d, want 0", amt)
	}
	if err := e.CancelMarket(ctx, "streamer", id); err != nil {
		t.Fatal(err)
	}

	view, _ := e.GetRefundAmount(id, "a")
	claimed, err := e.ClaimRefund(ctx, "a", id)
	if err != nil {
		t.Fatal(err)
	}
	if view != claimed {
		t.Errorf("GetRefundAmount = %d but ClaimRefund paid %d", view, claimed)
	}
}

func TestPoolsMatchRecordedStakes(t *testing.T) {
	// The pool counters must equal the sum of individual stakes after every
	// mutation, including under concurrent bets on the same market.
	ctx := context.Background()
	e, bank, _ := newTestEngine(nil)
	id := mustCreate(t, e)

	const bettors = 8
	const betsEach = 50

	bank.mu.Lock()
	accounts := make([]string, bettors)
	for i := range accounts {
		accounts[i] = string(rune('a' + i))
		bank.balances[accounts[i]] = betsEach * 3
	}
	bank.mu.Unlock()

	var wg sync.WaitGroup
	for i, account := range accounts {
		wg.Add(1)
		go func(account string, outcome domain.Outcome) {
			defer wg.Done()
			for j := 0; j < betsEach; j++ {
				if err := e.PlaceBet(ctx, account, id, outcome, 1); err != nil {
					t.Errorf("PlaceBet(%s): %v", account, err)
					return
				}
			}
		}(account, domain.Outcome(i%2+1))
	}
	wg.Wait()

	m, _ := e.GetMarket(id)
	stakes, _ := e.StakesByMarket(id)
	var sum1, sum2 uint64
	for _, s := range stakes {
		switch s.Outcome {
		case domain.Outcome1:
			sum1 += s.Amount
		case domain.Outcome2:
			sum2 += s.Amount
		}
	}
	if m.Pools[0] != sum1 || m.Pools[1] != sum2 {
		t.Errorf("pools = %v but stake sums = [%d %d]", m.Pools, sum1, sum2)
	}
	if want := uint64(bettors * betsEach); m.TotalPool() != want {
		t.Errorf("total pool = %d, want %d", m.TotalPool(), want)
	}
	if bank.treasury != m.TotalPool() {
		t.Errorf("treasury = %d, want %d (every debit recorded exactly once)", bank.treasury, m.TotalPool())
	}
}

func TestReentrantSettlementCannotCorruptState(t *testing.T) {
	// A hostile settlement layer locks the market during the debit of a bet.
	// The engine must neither deadlock nor record the stake: the debit is
	// compensated and the bet rejected.
	ctx := context.Background()
	e, bank, _ := newTestEngine(map[string]uint64{"viewer": 10})
	id := mustCreate(t, e)

	locked := false
	bank.onDebit = func() {
		if !locked {
			locked = true
			if err := e.LockMarket(ctx, "streamer", id); err != nil {
				t.Errorf("re-entrant LockMarket: %v", err)
			}
		}
	}

	err := e.PlaceBet(ctx, "viewer", id, domain.Outcome1, 4)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("bet raced by lock: err = %v, want ErrInvalidState", err)
	}

	m, _ := e.GetMarket(id)
	if m.Pools[0] != 0 {
		t.Errorf("pool = %d, want 0 (no stake recorded)", m.Pools[0])
	}
	if bank.balance("viewer") != 10 {
		t.Errorf("balance = %d, want 10 (debit compensated)", bank.balance("viewer"))
	}
}

func TestGrantIdempotentAndCandidateValidation(t *testing.T) {
	ctx := context.Background()
	e, _, rec := newTestEngine(nil)

	if err := e.Grant(ctx, "streamer", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty candidate: err = %v, want ErrInvalidInput", err)
	}
	if err := e.Grant(ctx, "streamer", "mod"); err != nil {
		t.Fatal(err)
	}
	if err := e.Grant(ctx, "streamer", "mod"); err != nil {
		t.Errorf("repeat grant should succeed as no-op, got %v", err)
	}
	if err := e.Revoke(ctx, "streamer", "mod"); err != nil {
		t.Fatal(err)
	}
	if err := e.Revoke(ctx, "streamer", "mod"); err != nil {
		t.Errorf("repeat revoke should succeed as no-op, got %v", err)
	}

	// Exactly one grant and one revoke event despite the repeats.
	var grants, revokes int
	for _, k := range rec.kinds() {
		switch k {
		case domain.EventAdminGranted:
			grants++
		case domain.EventAdminRevoked:
			revokes++
		}
	}
	if grants != 1 || revokes != 1 {
		t.Errorf("events = %d grants, %d revokes; want 1 and 1", grants, revokes)
	}
}

func TestRestoreContinuesIDSequence(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(map[string]uint64{"a": 10})

	e.Restore(
		[]domain.Market{
			{ID: 0, Owner: "streamer", Title: "old", Outcomes: [2]string{"x", "y"}, Status: domain.MarketStatusResolved, WinningOutcome: domain.Outcome1},
			{ID: 4, Owner: "streamer", Title: "live", Outcomes: [2]string{"x", "y"}, Status: domain.MarketStatusOpen},
		},
		[]domain.Stake{{MarketID: 4, Account: "a", Outcome: domain.Outcome1, Amount: 2}},
		[]domain.Grant{{Owner: "streamer", Candidate: "mod", Granted: true}},
	)

	id := mustCreate(t, e)
	if id != 5 {
		t.Errorf("next ID after restore = %d, want 5 (IDs never reused)", id)
	}
	if s, _ := e.Stake(4, "a", domain.Outcome1); s != 2 {
		t.Errorf("restored stake = %d, want 2", s)
	}
	if !e.IsGranted("streamer", "mod") {
		t.Error("restored grant missing")
	}
	if err := e.PlaceBet(ctx, "a", 4, domain.Outcome2, 1); err != nil {
		t.Errorf("bet on restored open market: %v", err)
	}
}

func TestEventSequenceForFullLifecycle(t *testing.T) {
	ctx := context.Background()
	e, _, rec := newTestEngine(map[string]uint64{"a": 5, "b": 5})
	id := mustCreate(t, e)

	if err := e.PlaceBet(ctx, "a", id, domain.Outcome1, 2); err != nil {
		t.Fatal(err)
	}
	if err := e.PlaceBet(ctx, "b", id, domain.Outcome2, 3); err != nil {
		t.Fatal(err)
	}
	if err := e.LockMarket(ctx, "streamer", id); err != nil {
		t.Fatal(err)
	}
	if err := e.ResolveMarket(ctx, "streamer", id, domain.Outcome1); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimWinnings(ctx, "a", id); err != nil {
		t.Fatal(err)
	}

	want := []domain.EventKind{
		domain.EventMarketCreated,
		domain.EventBetPlaced,
		domain.EventBetPlaced,
		domain.EventMarketLocked,
		domain.EventMarketResolved,
		domain.EventWinningsClaimed,
	}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

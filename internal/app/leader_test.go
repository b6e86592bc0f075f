package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/streamwager/wagerd/internal/domain"
)

type fakeLease struct {
	mu       sync.Mutex
	renews   int
	renewErr error
	released bool
}

func (l *fakeLease) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.renews++
	return l.renewErr
}

func (l *fakeLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
}

type fakeLockManager struct {
	lease      *fakeLease
	acquireErr error
}

func (lm *fakeLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	if lm.acquireErr != nil {
		return nil, lm.acquireErr
	}
	return lm.lease, nil
}

func TestHoldLeaderLockRenewsUntilCancelled(t *testing.T) {
	lease := &fakeLease{}
	lm := &fakeLockManager{lease: lease}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- holdLeaderLock(ctx, lm, "test:leader", 30*time.Millisecond, slog.New(slog.DiscardHandler))
	}()

	// Wait for at least two renewal ticks before cancelling.
	deadline := time.After(2 * time.Second)
	for {
		lease.mu.Lock()
		n := lease.renews
		lease.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("lease never renewed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	lease.mu.Lock()
	defer lease.mu.Unlock()
	if !lease.released {
		t.Error("lease not released on shutdown")
	}
}

func TestHoldLeaderLockFatalOnLostLease(t *testing.T) {
	lease := &fakeLease{renewErr: domain.ErrLockLost}
	lm := &fakeLockManager{lease: lease}

	err := holdLeaderLock(context.Background(), lm, "test:leader", 30*time.Millisecond, slog.New(slog.DiscardHandler))
	if !errors.Is(err, domain.ErrLockLost) {
		t.Fatalf("err = %v, want ErrLockLost", err)
	}
	lease.mu.Lock()
	defer lease.mu.Unlock()
	if !lease.released {
		t.Error("lease not released after failed renewal")
	}
}

func TestHoldLeaderLockAcquireFailure(t *testing.T) {
	lm := &fakeLockManager{acquireErr: domain.ErrLockHeld}

	err := holdLeaderLock(context.Background(), lm, "test:leader", 30*time.Millisecond, slog.New(slog.DiscardHandler))
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
}

// Package settlement provides the funds interface the engine debits and
// credits against. The Bank adapter keeps balances in memory for local and
// test deployments; the ERC20 adapter settles against a token contract.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streamwager/wagerd/internal/domain"
)

// Bank is an in-memory settlement ledger. Debits fail when the account
// balance is insufficient; credits always succeed. The treasury counter
// tracks funds currently held by the engine between debit and payout.
type Bank struct {
	mu       sync.Mutex
	balances map[string]uint64
	treasury uint64
	logger   *slog.Logger
}

// NewBank creates a Bank seeded with the given balances.
func NewBank(seed map[string]uint64, logger *slog.Logger) *Bank {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bank{
		balances: make(map[string]uint64, len(seed)),
		logger:   logger.With("component", "bank"),
	}
	for account, amount := range seed {
		b.balances[account] = amount
	}
	return b
}

func (b *Bank) Debit(ctx context.Context, account string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balances[account]
	if bal < amount {
		return fmt.Errorf("%w: debit %s: balance %d below %d",
			domain.ErrTransferFailed, account, bal, amount)
	}
	b.balances[account] = bal - amount
	b.treasury += amount
	b.logger.Debug("debit", "account", account, "amount", amount, "balance", b.balances[account])
	return nil
}

func (b *Bank) Credit(ctx context.Context, account string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.treasury < amount {
		return fmt.Errorf("%w: credit %s: treasury %d below %d",
			domain.ErrTransferFailed, account, b.treasury, amount)
	}
	b.treasury -= amount
	b.balances[account] += amount
	b.logger.Debug("credit", "account", account, "amount", amount, "balance", b.balances[account])
	return nil
}

// Deposit adds external funds to an account. Used by the HTTP faucet
// endpoint in bank mode.
func (b *Bank) Deposit(account string, amount uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] += amount
	return b.balances[account]
}

// Balance returns the current balance of an account.
func (b *Bank) Balance(account string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// Treasury returns the funds currently held between debits and payouts.
func (b *Bank) Treasury() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.treasury
}

package ledger

import (
	"sync"

	"github.com/streamwager/wagerd/internal/domain"
)

type stakeKey struct {
	marketID uint64
	account  string
	outcome  domain.Outcome
}

// Book is the authoritative record of individual stakes, keyed by
// (market, account, outcome). Amounts only grow through Add and are zeroed
// exactly once through the Take methods; a taken stake can be reinstated
// with Restore when the settlement credit that followed it fails.
//
// Book is safe for concurrent use. The engine additionally serializes all
// mutations for a given market, so per-market sums observed under that
// discipline are always consistent with the market's pool totals.
type Book struct {
	mu     sync.RWMutex
	stakes map[stakeKey]uint64
}

// NewBook creates an empty stake book.
func NewBook() *Book {
	return &Book{stakes: make(map[stakeKey]uint64)}
}

// Add accumulates amount onto the stake for (marketID, account, outcome).
func (b *Book) Add(marketID uint64, account string, outcome domain.Outcome, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stakes[stakeKey{marketID, account, outcome}] += amount
}

// Amount returns the current stake for (marketID, account, outcome).
func (b *Book) Amount(marketID uint64, account string, outcome domain.Outcome) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stakes[stakeKey{marketID, account, outcome}]
}

// Take zeroes and returns the stake for (marketID, account, outcome).
// A second Take for the same key returns 0.
func (b *Book) Take(marketID uint64, account string, outcome domain.Outcome) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := stakeKey{marketID, account, outcome}
	amt := b.stakes[k]
	if amt != 0 {
		delete(b.stakes, k)
	}
	return amt
}

// TakeBoth zeroes and returns the account's stakes on both outcomes of the
// market. Used by refund claims on cancelled markets.
func (b *Book) TakeBoth(marketID uint64, account string) (s1, s2 uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k1 := stakeKey{marketID, account, domain.Outcome1}
	k2 := stakeKey{marketID, account, domain.Outcome2}
	s1, s2 = b.stakes[k1], b.stakes[k2]
	delete(b.stakes, k1)
	delete(b.stakes, k2)
	return s1, s2
}

// Restore reinstates a previously taken stake. Called when the settlement
// credit after a Take fails and the claim must be rolled back whole.
func (b *Book) Restore(marketID uint64, account string, outcome domain.Outcome, amount uint64) {
	if amount == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stakes[stakeKey{marketID, account, outcome}] += amount
}

// SumOutcome returns the sum of all recorded stakes on one outcome of a
// market. Under the engine's per-market write discipline this equals the
// market's pool total for that outcome at all times.
func (b *Book) SumOutcome(marketID uint64, outcome domain.Outcome) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total uint64
	for k, v := range b.stakes {
		if k.marketID == marketID && k.outcome == outcome {
			total += v
		}
	}
	return total
}

// ByMarket returns snapshots of every live stake recorded against a market.
func (b *Book) ByMarket(marketID uint64) []domain.Stake {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.Stake
	for k, v := range b.stakes {
		if k.marketID == marketID {
			out = append(out, domain.Stake{
				MarketID: k.marketID,
				Account:  k.account,
				Outcome:  k.outcome,
				Amount:   v,
			})
		}
	}
	return out
}

// Load seeds the book from mirrored stakes at startup. Zero-amount rows
// (already-claimed stakes) are skipped.
func (b *Book) Load(stakes []domain.Stake) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range stakes {
		if s.Amount == 0 {
			continue
		}
		b.stakes[stakeKey{s.MarketID, s.Account, s.Outcome}] = s.Amount
	}
}

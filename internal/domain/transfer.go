package domain

import "context"

// Transfer moves fungible value between viewer accounts and the engine's
// treasury. The engine decides how much moves to whom; implementations own
// the mechanics (an in-memory bank for dev, an ERC-20 token on chain, ...).
//
// A Debit failure must abort placeBet with no stake recorded; a Credit
// failure during a claim must abort the whole claim. Implementations may
// call back into the engine (a hostile settlement layer can), so the engine
// never holds a market lock across these calls.
type Transfer interface {
	// Debit withdraws amount from account into the treasury.
	Debit(ctx context.Context, account string, amount uint64) error
	// Credit pays amount from the treasury out to account.
	Credit(ctx context.Context, account string, amount uint64) error
}

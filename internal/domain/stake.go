package domain

import "time"

// Stake is the accumulated amount one account has wagered on one outcome of
// one market. A stake is created implicitly on the first bet, incremented on
// repeat bets, and zeroed exactly once when successfully claimed.
type Stake struct {
	MarketID  uint64    `json:"market_id"`
	Account   string    `json:"account"`
	Outcome   Outcome   `json:"outcome"`
	Amount    uint64    `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Grant records whether an owner has delegated market administration to a
// candidate account. Only the owner toggles this; an administrator cannot
// grant or revoke for the owner's namespace.
type Grant struct {
	Owner     string    `json:"owner"`
	Candidate string    `json:"candidate"`
	Granted   bool      `json:"granted"`
	UpdatedAt time.Time `json:"updated_at"`
}

package domain

import "time"

// EventKind identifies the engine mutation that produced a MarketEvent.
type EventKind string

const (
	EventMarketCreated   EventKind = "market_created"
	EventBetPlaced       EventKind = "bet_placed"
	EventMarketLocked    EventKind = "market_locked"
	EventMarketResolved  EventKind = "market_resolved"
	EventMarketCancelled EventKind = "market_cancelled"
	EventWinningsClaimed EventKind = "winnings_claimed"
	EventRefundClaimed   EventKind = "refund_claimed"
	EventAdminGranted    EventKind = "admin_granted"
	EventAdminRevoked    EventKind = "admin_revoked"
)

// MarketEvent is the notification record emitted after every committed engine
// mutation. Delivery is best-effort; consumers (chat announcers, the UI
// WebSocket hub, listings) must never feed back into the mutation itself.
type MarketEvent struct {
	ID       string    `json:"id"` // uuid
	Kind     EventKind `json:"kind"`
	MarketID uint64    `json:"market_id"`
	Owner    string    `json:"owner,omitempty"`
	Account  string    `json:"account,omitempty"` // bettor, claimer, or grant candidate
	Outcome  Outcome   `json:"outcome,omitempty"`
	Amount   uint64    `json:"amount,omitempty"` // stake placed or amount paid out
	Title    string    `json:"title,omitempty"`
	At       time.Time `json:"at"`
}

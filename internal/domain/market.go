package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
//
// Legal transitions: Open -> Locked -> Resolved, and Open|Locked -> Cancelled.
// Resolved and Cancelled are terminal.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusLocked    MarketStatus = "locked"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusResolved || s == MarketStatusCancelled
}

// Outcome identifies one of the two sides of a market. Zero means unset.
type Outcome uint8

const (
	OutcomeNone Outcome = 0
	Outcome1    Outcome = 1
	Outcome2    Outcome = 2
)

// Valid reports whether o is a bettable outcome.
func (o Outcome) Valid() bool {
	return o == Outcome1 || o == Outcome2
}

// Other returns the opposing outcome. Calling it on OutcomeNone returns
// OutcomeNone.
func (o Outcome) Other() Outcome {
	switch o {
	case Outcome1:
		return Outcome2
	case Outcome2:
		return Outcome1
	default:
		return OutcomeNone
	}
}

// Market is a single two-outcome wagering instance tied to one owner (the
// streamer). IDs are dense and assigned sequentially from 0; markets are
// never deleted.
type Market struct {
	ID             uint64       `json:"id"`
	Owner          string       `json:"owner"`
	Title          string       `json:"title"`
	Outcomes       [2]string    `json:"outcomes"` // display labels for outcomes 1 and 2
	Pools          [2]uint64    `json:"pools"`    // total stake per outcome, frozen once Locked
	Status         MarketStatus `json:"status"`
	WinningOutcome Outcome      `json:"winning_outcome"` // OutcomeNone until Resolved
	LockedAt       *time.Time   `json:"locked_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Pool returns the total stake accumulated on the given outcome.
func (m Market) Pool(o Outcome) uint64 {
	if !o.Valid() {
		return 0
	}
	return m.Pools[o-1]
}

// TotalPool returns the combined stake across both outcomes.
func (m Market) TotalPool() uint64 {
	return m.Pools[0] + m.Pools[1]
}

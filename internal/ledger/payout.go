// Package ledger implements the stake book and the pari-mutuel payout
// arithmetic for the prediction-market engine.
package ledger

import (
	"math"
	"math/bits"
)

// Payout computes the amount a winner may withdraw: their own stake back
// plus a share of the losing pool proportional to their stake.
//
//	payout = stake + floor(stake * losingPool / winningPool)
//
// When the losing pool is empty there is nothing to distribute and the stake
// is simply returned. Division truncates, so the sum of all payouts never
// exceeds winningPool + losingPool; the at most winnerCount-1 units left
// over stay with the treasury.
//
// A nonzero stake implies winningPool >= stake by construction (the stake is
// itself part of that pool); a zero winning pool alongside a nonzero stake
// indicates ledger corruption and panics rather than dividing by zero.
//
// The engine caps the combined pool at MaxUint64, so stake + share fits in
// a uint64 for any pools it produces. Raw inputs past that cap saturate to
// MaxUint64 instead of wrapping below the winner's own stake.
func Payout(stake, winningPool, losingPool uint64) uint64 {
	if stake == 0 {
		return 0
	}
	if losingPool == 0 {
		return stake
	}
	if winningPool < stake {
		panic("ledger: winning pool smaller than individual stake")
	}
	// 128-bit intermediate product: stake * losingPool can exceed 64 bits.
	hi, lo := bits.Mul64(stake, losingPool)
	share, _ := bits.Div64(hi, lo, winningPool)
	if share > math.MaxUint64-stake {
		return math.MaxUint64
	}
	return stake + share
}

// Refund computes the amount returned on cancellation: principal only, both
// outcomes summed, no proportional adjustment.
func Refund(stakeOutcome1, stakeOutcome2 uint64) uint64 {
	return stakeOutcome1 + stakeOutcome2
}

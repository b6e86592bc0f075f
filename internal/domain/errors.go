package domain

import "errors"

var (
	// ErrNotFound is returned by stores and caches when a record does not exist.
	ErrNotFound = errors.New("not found")

	// Rejected engine operations. Every one of these leaves engine state
	// exactly as it was before the call.
	ErrUnauthorized   = errors.New("caller is not the owner or a granted administrator")
	ErrMarketNotFound = errors.New("market not found")
	ErrInvalidInput   = errors.New("title and outcome labels must be non-empty")
	ErrInvalidState   = errors.New("operation not legal in current market state")
	ErrInvalidOption  = errors.New("outcome must be 1 or 2")
	ErrInvalidAmount  = errors.New("bet amount must be non-zero")
	ErrNothingToClaim = errors.New("no claimable stake for this account")
	ErrTransferFailed = errors.New("settlement transfer failed")

	// ErrLockHeld is returned when a distributed lock is already held.
	ErrLockHeld = errors.New("lock already held")

	// ErrLockLost is returned by Lease.Renew when the lock expired or was
	// taken over between renewals.
	ErrLockLost = errors.New("lock lost")
)

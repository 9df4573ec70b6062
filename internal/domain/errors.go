package domain

import "errors"

var (
	// ErrNoReferencePrice means every price source was exhausted; the
	// affected grid side is skipped for the cycle.
	ErrNoReferencePrice = errors.New("no reference price available")

	// ErrExchangeUnreachable marks transient network/availability failures.
	// The cycle is skipped and counted against the retry budget.
	ErrExchangeUnreachable = errors.New("exchange unreachable")

	// ErrOrderRejected means the exchange declined a specific placement.
	ErrOrderRejected = errors.New("order rejected")

	// ErrOrderNotFound on cancel means the order is already gone (filled or
	// cancelled); callers treat it as success.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInsufficientBalance drops the affected level, never the cycle.
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)

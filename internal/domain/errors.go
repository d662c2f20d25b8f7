// Package domain holds types and errors shared across the engine's modules.
// It has no infrastructure dependencies.
package domain

import "errors"

// Engine error taxonomy. Every failing operation returns one of these,
// possibly wrapped with context; callers branch with errors.Is.
var (
	// ErrInvalidAmount - zero, negative, or below the configured minimum.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance - requested shares or value exceed holdings.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientLiquidity - redemption cannot be fully sourced from
	// idle balance plus strategy withdrawals.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrNotReady - harvest cooldown or batch interval has not elapsed.
	ErrNotReady = errors.New("not ready")

	// ErrNothingPending - flush called with an empty aggregate.
	ErrNothingPending = errors.New("nothing pending")

	// ErrInvalidAllocation - weights do not sum to 100% (10,000 bps).
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrUnauthorized - operator-only call from a non-operator.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBridgeFailure - a strategy adapter call did not complete as
	// contracted.
	ErrBridgeFailure = errors.New("bridge failure")
)

package engine

import (
	"errors"

	"LendLedger/internal/fpmath"
)

// Messages on the first four are load-bearing: callers and tests match
// on them, so they stay byte-for-byte stable.
var (
	ErrInvalidAmount          = errors.New("Amount must be more than 0")
	ErrInsufficientCollateral = errors.New("Less than required")
	ErrNotLiquidatable        = errors.New("Account is not liquidatable")
	ErrRepayExceedsDebt       = errors.New("Repay amount exceeds user's debt")

	// ErrInsufficientCollateralForReward guards the balance underflow a
	// liquidation reward larger than the target's collateral would cause.
	ErrInsufficientCollateralForReward = errors.New("reward exceeds target collateral")

	ErrOverflow = fpmath.ErrOverflow
)

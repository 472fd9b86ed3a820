package ledger

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Account tracks one borrower's position: collateral locked with the
// engine and debt minted against it. Both balances are smallest-unit
// integers of their respective 18-decimal assets.
type Account struct {
	ID         uuid.UUID
	Collateral *uint256.Int
	Debt       *uint256.Int
}

// NewAccount returns a zeroed account for id.
func NewAccount(id uuid.UUID) *Account {
	return &Account{
		ID:         id,
		Collateral: new(uint256.Int),
		Debt:       new(uint256.Int),
	}
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing live balances.
func (a *Account) Clone() *Account {
	return &Account{
		ID:         a.ID,
		Collateral: new(uint256.Int).Set(a.Collateral),
		Debt:       new(uint256.Int).Set(a.Debt),
	}
}

// HasDebt reports whether the account owes anything.
func (a *Account) HasDebt() bool {
	return !a.Debt.IsZero()
}

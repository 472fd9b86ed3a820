package token

import (
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalanceOrAllowance = errors.New("insufficient balance or allowance")
	ErrNotOwner                       = errors.New("not owner")
)

// AssetLedger is the fungible-token collaborator the engine moves
// value through. The engine holds two instances, one per asset, and
// the mint right on the debt asset after ownership transfer.
type AssetLedger interface {
	BalanceOf(holder uuid.UUID) *uint256.Int
	Transfer(from, to uuid.UUID, amount *uint256.Int) error
	TransferFrom(spender, owner, to uuid.UUID, amount *uint256.Int) error
	Approve(owner, spender uuid.UUID, amount *uint256.Int)
	Mint(caller, to uuid.UUID, amount *uint256.Int) error
}

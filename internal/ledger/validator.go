package ledger

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var ErrConservationViolated = errors.New("collateral conservation violated")

// Validator checks the books after mutations. The one global
// conservation law: collateral recorded across accounts equals the
// collateral the engine actually holds in the token ledger.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAccount rejects structurally broken accounts.
func (v *Validator) ValidateAccount(acc *Account) error {
	if acc == nil {
		return errors.New("nil account")
	}
	if acc.Collateral == nil || acc.Debt == nil {
		return fmt.Errorf("account %s has nil balance", acc.ID)
	}
	return nil
}

// ValidateConservation sums account collateral and compares it against
// the engine's token-ledger holdings.
func (v *Validator) ValidateConservation(accounts []*Account, held *uint256.Int) error {
	total := new(uint256.Int)
	for _, acc := range accounts {
		if err := v.ValidateAccount(acc); err != nil {
			return err
		}
		var overflow bool
		total, overflow = total.AddOverflow(total, acc.Collateral)
		if overflow {
			return fmt.Errorf("collateral total overflows at account %s", acc.ID)
		}
	}
	if !total.Eq(held) {
		return fmt.Errorf("%w: accounts total %s, engine holds %s",
			ErrConservationViolated, total, held)
	}
	return nil
}

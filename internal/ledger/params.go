package ledger

import "fmt"

// Params are the risk parameters the engine prices positions with.
// Percent values are whole percentages: a CollateralRatio of 150 means
// collateral value must cover 150% of debt.
type Params struct {
	CollateralRatio  uint64
	LiquidationBonus uint64
}

// DefaultParams returns the production parameter set.
func DefaultParams() Params {
	return Params{
		CollateralRatio:  150,
		LiquidationBonus: 105,
	}
}

// Validate rejects parameter sets that would let positions be created
// already under water or pay out negative bonuses.
func (p Params) Validate() error {
	if p.CollateralRatio < 100 {
		return fmt.Errorf("collateral ratio %d below 100", p.CollateralRatio)
	}
	if p.LiquidationBonus < 100 {
		return fmt.Errorf("liquidation bonus %d below 100", p.LiquidationBonus)
	}
	return nil
}

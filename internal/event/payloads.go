package event

import "github.com/google/uuid"

// Amounts are decimal strings of smallest-unit integers; JSON numbers
// cannot carry the full 256-bit range. Each payload carries the
// account's post-state balances so projections stay stateless.

type CollateralDeposited struct {
	AccountID uuid.UUID `json:"account_id"`
	Amount    string    `json:"amount"`

	CollateralBalance string `json:"collateral_balance"`
	DebtBalance       string `json:"debt_balance"`
}

func (e *CollateralDeposited) EventType() EventType {
	return EventTypeCollateralDeposited
}

type Borrowed struct {
	AccountID uuid.UUID `json:"account_id"`
	Amount    string    `json:"amount"`

	CollateralBalance string `json:"collateral_balance"`
	DebtBalance       string `json:"debt_balance"`

	// Oracle observation the borrow check was priced at.
	PriceValue string `json:"price_value"`
	PriceScale string `json:"price_scale"`
}

func (e *Borrowed) EventType() EventType {
	return EventTypeBorrowed
}

type Liquidated struct {
	AccountID    uuid.UUID `json:"account_id"`
	LiquidatorID uuid.UUID `json:"liquidator_id"`
	Repaid       string    `json:"repaid"`
	Reward       string    `json:"reward"`

	// Target post-state.
	CollateralBalance string `json:"collateral_balance"`
	DebtBalance       string `json:"debt_balance"`

	PriceValue string `json:"price_value"`
	PriceScale string `json:"price_scale"`
}

func (e *Liquidated) EventType() EventType {
	return EventTypeLiquidated
}

package fpmath

import (
	"errors"

	"github.com/holiman/uint256"
)

// Balances and prices are smallest-unit integers (18-decimal assets,
// 8-decimal oracle prices). Intermediate products run in 256-bit
// arithmetic; a product that does not fit 256 bits is an error, never
// a silent wrap.
var (
	ErrOverflow     = errors.New("arithmetic overflow")
	ErrDivideByZero = errors.New("division by zero")
)

var (
	hundred = uint256.NewInt(100)

	// MaxValue is the "no liquidation risk" health sentinel.
	MaxValue = new(uint256.Int).Not(uint256.NewInt(0))
)

// MulDiv computes a * b / denom with truncating division.
func MulDiv(a, b, denom *uint256.Int) (*uint256.Int, error) {
	if denom.IsZero() {
		return nil, ErrDivideByZero
	}

	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}

	return product.Div(product, denom), nil
}

// Mul computes a * b, failing on 256-bit overflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return product, nil
}

// CollateralValue converts a collateral balance into debt-asset terms:
// balance * price / priceScale, price read fresh by the caller.
func CollateralValue(balance, price, priceScale *uint256.Int) (*uint256.Int, error) {
	return MulDiv(balance, price, priceScale)
}

// ScaleByPercent computes x * pct / 100 (truncating).
func ScaleByPercent(x *uint256.Int, pct uint64) (*uint256.Int, error) {
	return MulDiv(x, uint256.NewInt(pct), hundred)
}

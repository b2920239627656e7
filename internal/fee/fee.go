// Package fee splits a sale price into the platform fee and the seller proceeds.
package fee

import (
	"errors"

	"github.com/holiman/uint256"
)

// Denominator is the number of basis points in 100%.
const Denominator uint64 = 10000

var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrRateOutOfRange     = errors.New("fee rate out of range")
)

var denominator = uint256.NewInt(Denominator)

// ValidateRate reports whether bps is inside [0, Denominator].
func ValidateRate(bps uint64) error {
	if bps > Denominator {
		return ErrRateOutOfRange
	}

	return nil
}

// Compute returns floor(price*bps/10000) and price minus that fee.
// fee+remainder always equals price. A product that does not fit in 256 bits is rejected.
func Compute(price *uint256.Int, bps uint64) (fee, remainder *uint256.Int, err error) {
	if err := ValidateRate(bps); err != nil {
		return nil, nil, err
	}
	if price == nil {
		price = new(uint256.Int)
	}

	product, overflow := new(uint256.Int).MulOverflow(price, uint256.NewInt(bps))
	if overflow {
		return nil, nil, ErrArithmeticOverflow
	}

	fee = new(uint256.Int).Div(product, denominator)
	remainder = new(uint256.Int).Sub(price, fee)

	return fee, remainder, nil
}

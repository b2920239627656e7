package entity

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// FormatAmount renders a base unit amount in whole currency units.
func FormatAmount(amount *uint256.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}

	return decimal.NewFromBigInt(amount.ToBig(), -decimals).String()
}

// ParseAmount converts a decimal amount in whole currency units to base units. Amounts finer
// than the currency precision are rejected.
func ParseAmount(value string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	if d.IsNegative() {
		return nil, ErrInvalidAmount
	}

	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, ErrInvalidAmount
	}

	amount, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, ErrInvalidAmount
	}

	return amount, nil
}

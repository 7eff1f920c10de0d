// Package money holds the decimal conventions shared by fee, pricing and escrow code.
// Amounts are major units rounded half away from zero to two places.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const Places = 2

var (
	ErrInvalidAmount  = errors.New("invalid_amount")
	ErrNegativeAmount = errors.New("negative_amount")
)

var hundred = decimal.NewFromInt(100)

// Round2 rounds to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Percent returns round(amount * rate / 100, 2).
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(rate).Div(hundred))
}

// ToMinorUnits converts a major-unit amount to integer cents for processors and the ledger.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(Places).Round(0).IntPart()
}

func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -Places)
}

// Parse accepts a plain decimal string such as "100.00".
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParsePositive parses and requires a strictly positive amount with at most two decimals.
func ParsePositive(raw string) (decimal.Decimal, error) {
	d, err := Parse(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.Equal(Round2(d)) {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

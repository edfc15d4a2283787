// Package money implements the fixed-point monetary amounts used by the budget ledger.
//
// An Amount is an integer count of micro-units (one millionth of the currency unit).
// Additions are plain integer additions, so accumulating many small spends never drifts.
// Parsing, formatting and fractional multiplication go through shopspring/decimal.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places an Amount keeps.
const Scale = 6

// Amount is a monetary value in micro-units.
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

var (
	// ErrInvalidAmount is returned when a string is not a decimal number.
	ErrInvalidAmount = errors.New("invalid monetary amount")

	// ErrOutOfRange is returned when a value does not fit in an Amount.
	ErrOutOfRange = errors.New("monetary amount out of range")

	maxAmount = decimal.NewFromInt(math.MaxInt64)
	minAmount = decimal.NewFromInt(math.MinInt64)
)

// FromDecimal converts a decimal to an Amount, rounding half away from zero
// to the nearest micro-unit.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	micros := d.Shift(Scale).Round(0)
	if micros.GreaterThan(maxAmount) || micros.LessThan(minAmount) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return Amount(micros.IntPart()), nil
}

// Parse parses a decimal string such as "12.50" or "0.000125".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromMicros returns the Amount for a raw micro-unit count.
func FromMicros(micros int64) Amount {
	return Amount(micros)
}

// Micros returns the raw micro-unit count.
func (a Amount) Micros() int64 {
	return int64(a)
}

// Decimal returns the amount as a decimal in currency units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String formats the amount without trailing zeros ("85.5", "0.000125").
func (a Amount) String() string {
	return a.Decimal().String()
}

// StringFixed formats the amount with exactly places decimals.
func (a Amount) StringFixed(places int32) string {
	return a.Decimal().StringFixed(places)
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return a + b
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return a - b
}

// IsNegative reports whether a < 0.
func (a Amount) IsNegative() bool {
	return a < 0
}

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool {
	return a == 0
}

// Ratio returns a / of as a float. A non-positive denominator yields 0.
func (a Amount) Ratio(of Amount) float64 {
	if of <= 0 {
		return 0
	}
	r, _ := a.Decimal().DivRound(of.Decimal(), 8).Float64()
	return r
}

// MulFraction returns a * f rounded to the nearest micro-unit.
func (a Amount) MulFraction(f float64) Amount {
	product := a.Decimal().Mul(decimal.NewFromFloat(f))
	out, err := FromDecimal(product)
	if err != nil {
		if product.IsNegative() {
			return Amount(math.MinInt64)
		}
		return Amount(math.MaxInt64)
	}
	return out
}

// MarshalJSON encodes the amount as a JSON number in currency units.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, string(data))
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

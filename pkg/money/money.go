package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kobo is an integer naira amount in minor units. All ledger arithmetic is
// integer arithmetic; decimal representations exist only at the boundary.
type Kobo int64

// PositiveKobo is a Kobo amount known to be strictly greater than zero.
// Operation amounts (debits, credits, fees on the wire) use this type so the
// ledger never sees a zero or negative movement.
type PositiveKobo struct {
	value Kobo
}

const koboPerNaira = 100

// NewKobo validates a non-negative minor-unit amount.
func NewKobo(raw int64) (Kobo, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return Kobo(raw), nil
}

// NewPositiveKobo validates a strictly positive minor-unit amount.
func NewPositiveKobo(raw int64) (PositiveKobo, error) {
	if raw <= 0 {
		return PositiveKobo{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveKobo{value: Kobo(raw)}, nil
}

// Int64 returns the raw minor-unit value.
func (amount Kobo) Int64() int64 {
	return int64(amount)
}

// DecimalString renders the amount as a naira decimal, e.g. "125.50".
func (amount Kobo) DecimalString() string {
	return decimal.New(int64(amount), -2).StringFixed(2)
}

// ParseDecimalString converts a display-format naira amount into kobo.
// Amounts with sub-kobo precision are rejected rather than rounded.
func ParseDecimalString(raw string) (Kobo, error) {
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	scaled := parsed.Mul(decimal.NewFromInt(koboPerNaira))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: sub-kobo precision", ErrInvalidAmount)
	}
	return NewKobo(scaled.IntPart())
}

// ToKobo widens a positive amount back to Kobo.
func (amount PositiveKobo) ToKobo() Kobo {
	return amount.value
}

// Int64 returns the raw minor-unit value.
func (amount PositiveKobo) Int64() int64 {
	return int64(amount.value)
}

// Package decimals reconciles human-readable amounts with the raw integer
// units the wallet operates in and with the venue's numeric wire format.
// All arithmetic is arbitrary-precision; raw amounts are compared by exact
// string equality elsewhere, never by tolerance.
package decimals

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultWireLength is the widest serialized number the venue accepts in
// order amount and price fields.
const DefaultWireLength = 21

// ErrPrecision is returned when an asset's decimal point is unknown, so no
// exact scaling is possible.
var ErrPrecision = errors.New("decimals: decimal point unknown")

// Scale converts a human amount into the asset's raw integer unit by
// multiplying with 10^decimalPoint.
func Scale(amount decimal.Decimal, decimalPoint int) (decimal.Decimal, error) {
	if decimalPoint < 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %d", ErrPrecision, decimalPoint)
	}
	return amount.Mul(decimal.New(1, int32(decimalPoint))), nil
}

// Unscale is the inverse of Scale: raw units back to a human amount.
func Unscale(raw decimal.Decimal, decimalPoint int) (decimal.Decimal, error) {
	if decimalPoint < 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %d", ErrPrecision, decimalPoint)
	}
	return raw.Div(decimal.New(1, int32(decimalPoint))), nil
}

// RoundForAsset truncates value to the asset's decimal places, always toward
// zero. Rounding up would promise funds the wallet may not hold.
func RoundForAsset(value decimal.Decimal, decimalPoint int) (decimal.Decimal, error) {
	if decimalPoint < 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %d", ErrPrecision, decimalPoint)
	}
	return value.RoundDown(int32(decimalPoint)), nil
}

// TrimToWireLength shortens a decimal string to maxLength by dropping
// trailing fractional digits. Integer digits are never dropped: when the
// integer part alone exceeds maxLength it is returned as-is, unscaled.
func TrimToWireLength(str string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultWireLength
	}
	if len(str) <= maxLength {
		return str
	}
	intPart, fracPart, _ := strings.Cut(str, ".")
	available := maxLength - len(intPart) - 1
	if available <= 0 {
		return intPart
	}
	if len(fracPart) > available {
		fracPart = fracPart[:available]
	}
	return intPart + "." + fracPart
}

// String renders a decimal in plain fixed notation with trailing zeros
// trimmed, the form venue fields expect.
func String(value decimal.Decimal) string {
	return value.String()
}

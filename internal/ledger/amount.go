package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

const minorUnitExp = 2

// ParseAmount converts a decimal string with up to 2 fractional digits into
// minor units. Zero and negative amounts are rejected.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, Invalid("amount", "required")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, Invalid("amount", "not a number")
	}

	if !d.Equal(d.Truncate(minorUnitExp)) {
		return 0, Invalid("amount", "supports up to 2 decimals")
	}

	if !d.IsPositive() {
		return 0, Invalid("amount", "must be > 0")
	}

	minor := d.Shift(minorUnitExp)
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, Invalid("amount", "out of range")
	}

	return minor.IntPart(), nil
}

// FormatAmount renders minor units as a fixed 2-decimal string.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -minorUnitExp).StringFixed(minorUnitExp)
}

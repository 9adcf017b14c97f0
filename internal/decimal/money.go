// Package decimal holds the euro-cent arithmetic shared by the generators and
// the validator.
package decimal

import (
	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

// Tolerance is the largest difference accepted between a stated and a
// recomputed amount
var Tolerance = decimal.New(1, -2)

// German VAT rates in percent (§12 UStG)
var (
	RateStandard = decimal.NewFromInt(19)
	RateReduced  = decimal.NewFromInt(7)
	RateZero     = decimal.Zero
)

// GermanRates lists every rate an invoice line may carry
var GermanRates = []decimal.Decimal{RateZero, RateReduced, RateStandard}

// IsGermanRate reports whether rate is one of GermanRates
func IsGermanRate(rate decimal.Decimal) bool {
	for _, r := range GermanRates {
		if rate.Equal(r) {
			return true
		}
	}
	return false
}

// Round2 rounds half away from zero to cents
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineNet is quantity times unit price, rounded to cents
func LineNet(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return Round2(quantity.Mul(unitPrice))
}

// Tax is base * rate / 100, rounded to cents
func Tax(base, ratePercent decimal.Decimal) decimal.Decimal {
	if ratePercent.IsZero() {
		return Zero
	}
	return Round2(base.Mul(ratePercent).Shift(-2))
}

// WithinTolerance reports whether a and b differ by at most one cent
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// Format renders a wire amount with two decimals and no grouping ("1234.50")
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatRate renders a tax rate without trailing zeros ("19", "7", "5.5")
func FormatRate(d decimal.Decimal) string {
	return d.String()
}

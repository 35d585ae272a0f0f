// Package decimal holds the cent-precision money helpers shared by the tax
// engine, the validators and the XML writers.
package decimal

import (
	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

// Tolerance is the accepted rounding drift for monetary identities
var Tolerance = decimal.RequireFromString("0.01")

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to cents
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// CalculateTax computes basis × rate / 100 rounded to cents
func CalculateTax(basis, ratePercent decimal.Decimal) decimal.Decimal {
	if ratePercent.IsZero() {
		return Zero
	}
	return CalculatePercentage(basis, ratePercent)
}

// CalculatePercentage computes amount × percentage / 100 rounded to cents
func CalculatePercentage(amount, percentage decimal.Decimal) decimal.Decimal {
	return amount.Mul(percentage).Div(hundred).Round(2)
}

// WithinTolerance reports whether |a-b| <= 0.01
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// IsPositive reports d > 0
func IsPositive(d decimal.Decimal) bool {
	return d.Sign() > 0
}

// Amount formats a monetary value with exactly two decimals
func Amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Quantity formats a quantity without trailing zeros (1, 1.5, 0.125)
func Quantity(d decimal.Decimal) string {
	return d.String()
}

// Percent formats a tax rate with two decimals
func Percent(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Package money converts provider amount fields into minor units.
//
// Provider payloads carry amounts as integers, floats or free-text decimal
// strings depending on the endpoint. Everything funnels through ParseMinorUnits
// so the degrade-to-zero policy for malformed values lives in one place.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseMinorUnits parses a decimal amount string (e.g. "12.50") into minor
// units (1250). Malformed or negative-garbage input degrades to zero rather
// than failing the surrounding computation.
func ParseMinorUnits(raw string) int64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	trimmed = strings.TrimPrefix(trimmed, "$")
	trimmed = strings.ReplaceAll(trimmed, ",", "")

	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0
	}

	return value.Mul(decimal.NewFromInt(100)).IntPart()
}

// FormatMinorUnits renders minor units as a decimal string ("1250" -> "12.50").
func FormatMinorUnits(amount int64) string {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// MonthlyAmount normalizes a per-interval amount to a monthly cadence.
// Annual prices contribute a twelfth, weeks and days scale up by their
// average occurrences per month. Unknown intervals pass through unchanged.
func MonthlyAmount(amount int64, interval string) int64 {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "annual", "year", "yearly":
		return amount / 12
	case "month", "monthly", "":
		return amount
	case "week", "weekly":
		product := decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(52.0 / 12.0))
		return product.IntPart()
	case "day", "daily":
		product := decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(365.0 / 12.0))
		return product.IntPart()
	default:
		return amount
	}
}

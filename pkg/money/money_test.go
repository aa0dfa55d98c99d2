package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMinorUnits(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int64
	}{
		{"plain decimal", "12.50", 1250},
		{"integer", "100", 10000},
		{"currency prefix", "$49.99", 4999},
		{"thousands separator", "1,200.00", 120000},
		{"whitespace", "  7.25  ", 725},
		{"empty", "", 0},
		{"garbage", "abc", 0},
		{"partial garbage", "12.5x", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseMinorUnits(tc.in))
		})
	}
}

func TestMonthlyAmount(t *testing.T) {
	// An annual item priced at 1200 contributes exactly 100 per month.
	assert.Equal(t, int64(100), MonthlyAmount(1200, "annual"))
	assert.Equal(t, int64(100), MonthlyAmount(1200, "year"))
	assert.Equal(t, int64(500), MonthlyAmount(500, "monthly"))
	assert.Equal(t, int64(500), MonthlyAmount(500, ""))
	assert.Equal(t, int64(4333), MonthlyAmount(1000, "weekly"))
}

func TestFormatMinorUnits(t *testing.T) {
	assert.Equal(t, "12.50", FormatMinorUnits(1250))
	assert.Equal(t, "0.00", FormatMinorUnits(0))
}

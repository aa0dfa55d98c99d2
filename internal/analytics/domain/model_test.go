package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMonth(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		raw     string
		want    time.Time
		wantErr bool
	}{
		{name: "empty means current month", raw: "", want: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "explicit year-month", raw: "2024-11", want: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)},
		{name: "month name uses current year", raw: "January", want: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "whitespace is trimmed", raw: "  2025-02 ", want: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{name: "garbage rejected", raw: "13-2025", wantErr: true},
		{name: "day precision rejected", raw: "2025-02-03", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseMonth(tc.raw, now)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidMonth)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCacheKeyEncodesAllDimensions(t *testing.T) {
	req := Request{
		Category:              "gym",
		Month:                 time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		IncludeMaintenanceFee: true,
	}
	require.Equal(t, "gym_2025-03_true", req.CacheKey())

	req.IncludeMaintenanceFee = false
	require.Equal(t, "gym_2025-03_false", req.CacheKey())
}

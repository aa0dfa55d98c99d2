// Package domain defines the analytics query contract and the aggregated
// report it produces.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CategoryAll selects every category; CategoryMisc is the fallback bucket
// for price references absent from the tenant's table.
const (
	CategoryAll  = "all"
	CategoryMisc = "misc"
)

// Request selects one report: a month window, a category filter, and
// whether the designated maintenance-fee line counts as revenue.
type Request struct {
	OrgID                 snowflake.ID
	Category              string
	Month                 time.Time // first day of the month, UTC
	IncludeMaintenanceFee bool
}

// CacheKey is the persisted-cache key for this request.
func (r Request) CacheKey() string {
	return fmt.Sprintf("%s_%s_%t", r.Category, r.Month.Format("2006-01"), r.IncludeMaintenanceFee)
}

// CategoryRevenue is the lifetime view of one category.
type CategoryRevenue struct {
	Category        string  `json:"category"`
	LifetimeRevenue int64   `json:"lifetime_revenue"`
	PayingCustomers int     `json:"paying_customers"`
	LTV             float64 `json:"ltv"`
}

// MonthRevenue is one point of the trailing revenue series.
type MonthRevenue struct {
	Month     string `json:"month"`
	Actual    int64  `json:"actual"`
	Projected int64  `json:"projected,omitempty"`
}

// Totals is a count with its summed amount in minor units.
type Totals struct {
	Count  int   `json:"count"`
	Amount int64 `json:"amount"`
}

// Report is the full aggregation for one request. Amounts are minor units.
type Report struct {
	Category              string    `json:"category"`
	Month                 string    `json:"month"`
	IncludeMaintenanceFee bool      `json:"include_maintenance_fee"`
	GeneratedAt           time.Time `json:"generated_at"`

	LifetimeRevenue int64             `json:"lifetime_revenue"`
	AverageLTV      float64           `json:"average_ltv"`
	Categories      []CategoryRevenue `json:"categories"`

	PeriodRevenue      int64          `json:"period_revenue"`
	PriorPeriodRevenue int64          `json:"prior_period_revenue"`
	PercentChange      float64        `json:"percent_change"`
	ProjectedRevenue   int64          `json:"projected_revenue"`
	History            []MonthRevenue `json:"history"`

	FailedPayments   Totals `json:"failed_payments"`
	RefundedPayments Totals `json:"refunded_payments"`

	ActiveAtStart    int     `json:"active_at_start"`
	ActiveAtEnd      int     `json:"active_at_end"`
	CanceledInWindow int     `json:"canceled_in_window"`
	NewInWindow      int     `json:"new_in_window"`
	ChurnRate        float64 `json:"churn_rate"`
	MRR              int64   `json:"mrr"`
}

type Service interface {
	// GetReport serves a cached report while it is fresh and recomputes
	// synchronously otherwise. Computation is all-or-nothing: a fetch
	// failure yields an error and writes no cache entry.
	GetReport(ctx context.Context, req Request) (*Report, error)
	// RefreshCommon precomputes the current-month entries every category
	// and inclusion flag, ahead of client demand.
	RefreshCommon(ctx context.Context, orgID snowflake.ID) error
}

var (
	ErrInvalidCategory  = errors.New("invalid_category")
	ErrInvalidMonth     = errors.New("invalid_month")
	ErrProviderDisabled = errors.New("provider_not_configured")
)

var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// ParseMonth normalizes a month parameter to the first day of the month in
// UTC. It accepts "YYYY-MM", a lowercase month name resolved against the
// current year, or an empty string meaning the current month.
func ParseMonth(raw string, now time.Time) (time.Time, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	if month, ok := monthNames[raw]; ok {
		return time.Date(now.Year(), month, 1, 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse("2006-01", raw)
	if err != nil {
		return time.Time{}, ErrInvalidMonth
	}
	return time.Date(parsed.Year(), parsed.Month(), 1, 0, 0, 0, 0, time.UTC), nil
}

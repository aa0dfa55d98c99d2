// Package domain defines the outbound billing-provider client the
// reconciler and analytics engine depend on. Provider wire formats stay
// behind this boundary; amounts cross it as decimal strings and are parsed
// once by pkg/money.
package domain

import "time"

// SubscriptionStatus is the remote lifecycle state as reported by the provider.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionUnpaid   SubscriptionStatus = "unpaid"
	SubscriptionPaused   SubscriptionStatus = "paused"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// IsDelinquent reports whether the remote status means payment is overdue.
func (s SubscriptionStatus) IsDelinquent() bool {
	return s == SubscriptionPastDue || s == SubscriptionUnpaid
}

// InvoiceStatus mirrors the provider's invoice states. Open and
// uncollectible invoices count as failed payments in analytics.
type InvoiceStatus string

const (
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOpen          InvoiceStatus = "open"
	InvoiceUncollectible InvoiceStatus = "uncollectible"
	InvoiceVoid          InvoiceStatus = "void"
)

// SubscriptionItem is a priced line on a remote subscription.
type SubscriptionItem struct {
	PriceRef  string
	PlanName  string
	Amount    string // decimal string, e.g. "49.99"
	Interval  string // day|week|month|year
	Quantity  int64
	PeriodEnd time.Time
}

// Subscription is the provider's view of one membership.
type Subscription struct {
	ID                string
	CustomerRef       string
	Status            SubscriptionStatus
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	StartAt           time.Time
	CanceledAt        *time.Time
	PauseStartAt      *time.Time
	PauseEndAt        *time.Time
	Items             []SubscriptionItem
}

// InvoiceLine is a single charge line on a remote invoice.
type InvoiceLine struct {
	PriceRef    string
	Description string
	Amount      string // decimal string
	Refunded    bool
}

// Invoice is a remote invoice with its lines.
type Invoice struct {
	ID          string
	CustomerRef string
	Status      InvoiceStatus
	CreatedAt   time.Time
	Lines       []InvoiceLine
}

// Refund is a remote refund with the price reference of the refunded line
// when the provider can attribute it.
type Refund struct {
	ID          string
	CustomerRef string
	PriceRef    string
	Amount      string // decimal string
	CreatedAt   time.Time
}

// Page is one page of a provider list response.
type Page[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// ListOptions controls provider list pagination.
type ListOptions struct {
	Cursor string
	Limit  int
}

// Window bounds a provider list query by creation time.
type Window struct {
	Start time.Time
	End   time.Time
}

// PauseWindow schedules a remote pause of collection.
type PauseWindow struct {
	Start time.Time
	End   time.Time
}

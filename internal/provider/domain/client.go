package domain

import (
	"context"
	"errors"
)

var (
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrCustomerNotFound    = errors.New("provider_customer_not_found")
	ErrSubscriptionMissing = errors.New("provider_subscription_not_found")
)

// Client is the outbound billing-provider API. All list operations are
// paged; callers drain them to completion before acting on the result.
// Calls carry a bounded timeout; a timed-out call is a transient failure,
// never a confirmed negative.
type Client interface {
	ListSubscriptions(ctx context.Context, customerRef string, opts ListOptions) (Page[Subscription], error)
	ListInvoices(ctx context.Context, status InvoiceStatus, window Window, opts ListOptions) (Page[Invoice], error)
	ListRefunds(ctx context.Context, window Window, opts ListOptions) (Page[Refund], error)

	CreateSubscription(ctx context.Context, customerRef, priceRef string) (Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error
	PauseSubscription(ctx context.Context, subscriptionRef string, window PauseWindow) error
	ResumeSubscription(ctx context.Context, subscriptionRef string) error
}

// DrainSubscriptions follows pagination until the remote subscription list
// for a customer is exhausted.
func DrainSubscriptions(ctx context.Context, client Client, customerRef string) ([]Subscription, error) {
	var all []Subscription
	opts := ListOptions{}
	for {
		page, err := client.ListSubscriptions(ctx, customerRef, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.HasMore {
			return all, nil
		}
		opts.Cursor = page.NextCursor
	}
}

// DrainInvoices follows pagination until the invoice list is exhausted.
func DrainInvoices(ctx context.Context, client Client, status InvoiceStatus, window Window) ([]Invoice, error) {
	var all []Invoice
	opts := ListOptions{}
	for {
		page, err := client.ListInvoices(ctx, status, window, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.HasMore {
			return all, nil
		}
		opts.Cursor = page.NextCursor
	}
}

// DrainRefunds follows pagination until the refund list is exhausted.
func DrainRefunds(ctx context.Context, client Client, window Window) ([]Refund, error) {
	var all []Refund
	opts := ListOptions{}
	for {
		page, err := client.ListRefunds(ctx, window, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.HasMore {
			return all, nil
		}
		opts.Cursor = page.NextCursor
	}
}

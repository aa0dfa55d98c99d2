// Package stripe implements the billing-provider client against the
// Stripe API. Pagination is handled by the SDK's iterators, so list calls
// return a single fully drained page.
package stripe

import (
	"context"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"

	"github.com/smallbiznis/memberly/internal/config"
	providerdomain "github.com/smallbiznis/memberly/internal/provider/domain"
	"github.com/smallbiznis/memberly/pkg/money"
	"go.uber.org/zap"
)

type Client struct {
	api     *stripeclient.API
	log     *zap.Logger
	timeout time.Duration
}

// NewClient builds a provider client from the configured API key.
// Returns nil when no key is configured so callers can fall back to a noop.
func NewClient(cfg config.Config, log *zap.Logger) providerdomain.Client {
	key := strings.TrimSpace(cfg.ProviderAPIKey)
	if key == "" {
		return nil
	}

	api := &stripeclient.API{}
	api.Init(key, nil)

	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		api:     api,
		log:     log.Named("provider.stripe"),
		timeout: timeout,
	}
}

func (c *Client) ListSubscriptions(ctx context.Context, customerRef string, opts providerdomain.ListOptions) (providerdomain.Page[providerdomain.Subscription], error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerRef),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	var result []providerdomain.Subscription
	iter := c.api.Subscriptions.List(params)
	for iter.Next() {
		result = append(result, fromStripeSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return providerdomain.Page[providerdomain.Subscription]{}, wrapProviderErr(err)
	}

	return providerdomain.Page[providerdomain.Subscription]{Data: result}, nil
}

func (c *Client) ListInvoices(ctx context.Context, status providerdomain.InvoiceStatus, window providerdomain.Window, opts providerdomain.ListOptions) (providerdomain.Page[providerdomain.Invoice], error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.InvoiceListParams{}
	params.Context = ctx
	if status != "" {
		params.Status = stripe.String(string(status))
	}
	if !window.Start.IsZero() || !window.End.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{}
		if !window.Start.IsZero() {
			params.CreatedRange.GreaterThanOrEqual = window.Start.Unix()
		}
		if !window.End.IsZero() {
			params.CreatedRange.LesserThan = window.End.Unix()
		}
	}

	var result []providerdomain.Invoice
	iter := c.api.Invoices.List(params)
	for iter.Next() {
		result = append(result, fromStripeInvoice(iter.Invoice()))
	}
	if err := iter.Err(); err != nil {
		return providerdomain.Page[providerdomain.Invoice]{}, wrapProviderErr(err)
	}

	return providerdomain.Page[providerdomain.Invoice]{Data: result}, nil
}

func (c *Client) ListRefunds(ctx context.Context, window providerdomain.Window, opts providerdomain.ListOptions) (providerdomain.Page[providerdomain.Refund], error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.RefundListParams{}
	params.Context = ctx
	params.AddExpand("data.charge")
	if !window.Start.IsZero() || !window.End.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{}
		if !window.Start.IsZero() {
			params.CreatedRange.GreaterThanOrEqual = window.Start.Unix()
		}
		if !window.End.IsZero() {
			params.CreatedRange.LesserThan = window.End.Unix()
		}
	}

	var result []providerdomain.Refund
	iter := c.api.Refunds.List(params)
	for iter.Next() {
		result = append(result, fromStripeRefund(iter.Refund()))
	}
	if err := iter.Err(); err != nil {
		return providerdomain.Page[providerdomain.Refund]{}, wrapProviderErr(err)
	}

	return providerdomain.Page[providerdomain.Refund]{Data: result}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, customerRef, priceRef string) (providerdomain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerRef),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceRef)},
		},
	}
	params.Context = ctx

	created, err := c.api.Subscriptions.New(params)
	if err != nil {
		return providerdomain.Subscription{}, wrapProviderErr(err)
	}
	return fromStripeSubscription(created), nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if atPeriodEnd {
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		params.Context = ctx
		_, err := c.api.Subscriptions.Update(subscriptionRef, params)
		return wrapProviderErr(err)
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := c.api.Subscriptions.Cancel(subscriptionRef, params)
	return wrapProviderErr(err)
}

func (c *Client) PauseSubscription(ctx context.Context, subscriptionRef string, window providerdomain.PauseWindow) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{
		PauseCollection: &stripe.SubscriptionPauseCollectionParams{
			Behavior: stripe.String("void"),
		},
	}
	if !window.End.IsZero() {
		params.PauseCollection.ResumesAt = stripe.Int64(window.End.Unix())
	}
	params.Context = ctx

	_, err := c.api.Subscriptions.Update(subscriptionRef, params)
	return wrapProviderErr(err)
}

func (c *Client) ResumeSubscription(ctx context.Context, subscriptionRef string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	// Clearing pause_collection resumes collection.
	params.AddExtra("pause_collection", "")

	_, err := c.api.Subscriptions.Update(subscriptionRef, params)
	return wrapProviderErr(err)
}

func fromStripeSubscription(s *stripe.Subscription) providerdomain.Subscription {
	out := providerdomain.Subscription{
		ID:                s.ID,
		Status:            mapSubscriptionStatus(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		StartAt:           unixTime(s.StartDate),
	}
	if s.Customer != nil {
		out.CustomerRef = s.Customer.ID
	}
	if s.CanceledAt > 0 {
		canceled := unixTime(s.CanceledAt)
		out.CanceledAt = &canceled
	}
	if s.PauseCollection != nil {
		start := unixTime(s.StartDate)
		out.PauseStartAt = &start
		if s.PauseCollection.ResumesAt > 0 {
			end := unixTime(s.PauseCollection.ResumesAt)
			out.PauseEndAt = &end
		}
	}
	if s.Items != nil {
		// Billing periods live on the items; the subscription-level period
		// end is the latest item period end.
		for _, item := range s.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			periodEnd := unixTime(item.CurrentPeriodEnd)
			if periodEnd.After(out.CurrentPeriodEnd) {
				out.CurrentPeriodEnd = periodEnd
			}
			out.Items = append(out.Items, providerdomain.SubscriptionItem{
				PriceRef:  item.Price.ID,
				PlanName:  planName(item.Price),
				Amount:    money.FormatMinorUnits(item.Price.UnitAmount),
				Interval:  priceInterval(item.Price),
				Quantity:  item.Quantity,
				PeriodEnd: periodEnd,
			})
		}
	}
	return out
}

func fromStripeInvoice(inv *stripe.Invoice) providerdomain.Invoice {
	out := providerdomain.Invoice{
		ID:        inv.ID,
		Status:    providerdomain.InvoiceStatus(inv.Status),
		CreatedAt: unixTime(inv.Created),
	}
	if inv.Customer != nil {
		out.CustomerRef = inv.Customer.ID
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line == nil {
				continue
			}
			entry := providerdomain.InvoiceLine{
				Description: line.Description,
				Amount:      money.FormatMinorUnits(line.Amount),
			}
			if line.Pricing != nil && line.Pricing.PriceDetails != nil {
				entry.PriceRef = line.Pricing.PriceDetails.Price
			}
			out.Lines = append(out.Lines, entry)
		}
	}
	return out
}

func fromStripeRefund(r *stripe.Refund) providerdomain.Refund {
	out := providerdomain.Refund{
		ID:        r.ID,
		Amount:    money.FormatMinorUnits(r.Amount),
		CreatedAt: unixTime(r.Created),
	}
	if r.Charge != nil && r.Charge.Customer != nil {
		out.CustomerRef = r.Charge.Customer.ID
	}
	return out
}

func mapSubscriptionStatus(status stripe.SubscriptionStatus) providerdomain.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return providerdomain.SubscriptionActive
	case stripe.SubscriptionStatusTrialing:
		return providerdomain.SubscriptionTrialing
	case stripe.SubscriptionStatusPastDue:
		return providerdomain.SubscriptionPastDue
	case stripe.SubscriptionStatusUnpaid:
		return providerdomain.SubscriptionUnpaid
	case stripe.SubscriptionStatusPaused:
		return providerdomain.SubscriptionPaused
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return providerdomain.SubscriptionCanceled
	default:
		return providerdomain.SubscriptionStatus(status)
	}
}

func planName(price *stripe.Price) string {
	if price.Nickname != "" {
		return price.Nickname
	}
	if price.Product != nil && price.Product.Name != "" {
		return price.Product.Name
	}
	return price.ID
}

func priceInterval(price *stripe.Price) string {
	if price.Recurring == nil {
		return ""
	}
	return string(price.Recurring.Interval)
}

func unixTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func wrapProviderErr(err error) error {
	if err == nil {
		return nil
	}
	return err
}

package stripe

import (
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	providerdomain "github.com/smallbiznis/memberly/internal/provider/domain"
)

func TestFromStripeSubscriptionReadsItemPeriods(t *testing.T) {
	sub := &stripe.Subscription{
		ID:        "sub_123",
		Status:    stripe.SubscriptionStatusActive,
		StartDate: 1735689600, // 2025-01-01
		Customer:  &stripe.Customer{ID: "cus_123"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					CurrentPeriodEnd: 1740787200, // 2025-03-01
					Quantity:         1,
					Price: &stripe.Price{
						ID:         "price_gym",
						Nickname:   "Gym",
						UnitAmount: 4999,
						Recurring:  &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
					},
				},
				{
					CurrentPeriodEnd: 1743465600, // 2025-04-01
					Quantity:         1,
					Price: &stripe.Price{
						ID:         "price_locker",
						UnitAmount: 500,
						Recurring:  &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
					},
				},
			},
		},
	}

	out := fromStripeSubscription(sub)

	if out.Status != providerdomain.SubscriptionActive {
		t.Fatalf("status = %q, want active", out.Status)
	}
	if len(out.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(out.Items))
	}
	// The subscription-level period end is the latest item period end.
	want := time.Unix(1743465600, 0).UTC()
	if !out.CurrentPeriodEnd.Equal(want) {
		t.Fatalf("current period end = %v, want %v", out.CurrentPeriodEnd, want)
	}
	if !out.Items[0].PeriodEnd.Equal(time.Unix(1740787200, 0).UTC()) {
		t.Fatalf("first item period end = %v", out.Items[0].PeriodEnd)
	}
	if out.Items[0].PriceRef != "price_gym" || out.Items[0].PlanName != "Gym" {
		t.Fatalf("first item mapped to %q/%q", out.Items[0].PriceRef, out.Items[0].PlanName)
	}
	if out.Items[0].Amount != "49.99" || out.Items[0].Interval != "month" {
		t.Fatalf("first item amount/interval = %q/%q", out.Items[0].Amount, out.Items[0].Interval)
	}
	if out.CustomerRef != "cus_123" {
		t.Fatalf("customer ref = %q", out.CustomerRef)
	}
}

func TestFromStripeInvoiceReadsLinePricing(t *testing.T) {
	inv := &stripe.Invoice{
		ID:       "in_123",
		Status:   stripe.InvoiceStatusPaid,
		Created:  1740787200,
		Customer: &stripe.Customer{ID: "cus_123"},
		Lines: &stripe.InvoiceLineItemList{
			Data: []*stripe.InvoiceLineItem{
				{
					Description: "Gym membership",
					Amount:      4999,
					Pricing: &stripe.InvoiceLineItemPricing{
						PriceDetails: &stripe.InvoiceLineItemPricingPriceDetails{Price: "price_gym"},
					},
				},
				{
					Description: "One-off adjustment",
					Amount:      -500,
				},
			},
		},
	}

	out := fromStripeInvoice(inv)

	if out.Status != providerdomain.InvoicePaid {
		t.Fatalf("status = %q, want paid", out.Status)
	}
	if len(out.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(out.Lines))
	}
	if out.Lines[0].PriceRef != "price_gym" {
		t.Fatalf("first line price ref = %q", out.Lines[0].PriceRef)
	}
	// Lines without price details keep an empty ref and fall through to the
	// misc bucket downstream.
	if out.Lines[1].PriceRef != "" {
		t.Fatalf("second line price ref = %q, want empty", out.Lines[1].PriceRef)
	}
	if out.Lines[1].Amount != "-5.00" {
		t.Fatalf("second line amount = %q", out.Lines[1].Amount)
	}
}

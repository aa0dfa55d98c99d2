// Package stripe adapts Stripe webhook payloads onto the normalized
// membership-event contract.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	providerdomain "github.com/smallbiznis/memberly/internal/provider/domain"
	webhookdomain "github.com/smallbiznis/memberly/internal/webhook/domain"
)

type Adapter struct {
	webhookSecret string
}

// NewAdapter returns nil when no webhook secret is configured, which keeps
// the provider out of the registry entirely.
func NewAdapter(webhookSecret string) *Adapter {
	secret := strings.TrimSpace(webhookSecret)
	if secret == "" {
		return nil
	}
	return &Adapter{webhookSecret: secret}
}

func (a *Adapter) Provider() string {
	return "stripe"
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return webhookdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return webhookdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return webhookdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*webhookdomain.MembershipEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		return a.parseSubscription(event, payload, webhookdomain.EventTypeSubscriptionUpdated)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, payload, webhookdomain.EventTypeSubscriptionDeleted)
	case "invoice.payment_failed":
		return a.parseInvoice(event, payload, webhookdomain.EventTypePaymentFailed)
	case "invoice.paid", "invoice.payment_succeeded":
		return a.parseInvoice(event, payload, webhookdomain.EventTypePaymentSucceeded)
	default:
		return nil, webhookdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSubscription struct {
	ID                string                 `json:"id"`
	Customer          string                 `json:"customer"`
	Status            string                 `json:"status"`
	CancelAtPeriodEnd bool                   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64                  `json:"current_period_end"`
	StartDate         int64                  `json:"start_date"`
	CanceledAt        int64                  `json:"canceled_at"`
	PauseCollection   *stripePauseCollection `json:"pause_collection"`
}

type stripePauseCollection struct {
	Behavior  string `json:"behavior"`
	ResumesAt int64  `json:"resumes_at"`
}

type stripeInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte, eventType webhookdomain.EventType) (*webhookdomain.MembershipEvent, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	remote := providerdomain.Subscription{
		ID:                sub.ID,
		CustomerRef:       sub.Customer,
		Status:            providerdomain.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  unix(sub.CurrentPeriodEnd),
		StartAt:           unix(sub.StartDate),
	}
	if sub.CanceledAt > 0 {
		canceledAt := unix(sub.CanceledAt)
		remote.CanceledAt = &canceledAt
	}
	if sub.PauseCollection != nil {
		// Stripe pauses collection immediately; only the resume side of the
		// window travels on the payload.
		pauseStart := unix(event.Created)
		remote.PauseStartAt = &pauseStart
		if sub.PauseCollection.ResumesAt > 0 {
			pauseEnd := unix(sub.PauseCollection.ResumesAt)
			remote.PauseEndAt = &pauseEnd
		}
		if remote.Status == providerdomain.SubscriptionActive {
			remote.Status = providerdomain.SubscriptionPaused
		}
	}
	if eventType == webhookdomain.EventTypeSubscriptionDeleted {
		remote.Status = providerdomain.SubscriptionCanceled
	}

	return &webhookdomain.MembershipEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Type:            eventType,
		SubscriptionRef: sub.ID,
		Remote:          remote,
		OccurredAt:      unix(event.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte, eventType webhookdomain.EventType) (*webhookdomain.MembershipEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(invoice.Subscription) == "" {
		// Invoices detached from a subscription cannot affect a membership.
		return nil, webhookdomain.ErrEventIgnored
	}

	return &webhookdomain.MembershipEvent{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Type:            eventType,
		SubscriptionRef: invoice.Subscription,
		Remote: providerdomain.Subscription{
			ID:          invoice.Subscription,
			CustomerRef: invoice.Customer,
		},
		OccurredAt: unix(event.Created),
		RawPayload: payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var (
		timestamp  string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 {
			continue
		}
		switch pair[0] {
		case "t":
			timestamp = pair[1]
		case "v1":
			signatures = append(signatures, pair[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, webhookdomain.ErrInvalidSignature
	}
	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return "", nil, webhookdomain.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}

func unix(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

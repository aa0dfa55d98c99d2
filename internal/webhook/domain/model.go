// Package domain defines the inbound membership-event contract the webhook
// adapters normalize provider payloads into.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"

	providerdomain "github.com/smallbiznis/memberly/internal/provider/domain"
)

type EventType string

const (
	EventTypeSubscriptionUpdated EventType = "subscription_updated"
	EventTypeSubscriptionDeleted EventType = "subscription_deleted"
	EventTypePaymentFailed       EventType = "payment_failed"
	EventTypePaymentSucceeded    EventType = "payment_succeeded"
)

// MembershipEvent is a normalized provider event affecting one membership.
// Remote carries the subscription snapshot as the event reported it; the
// ingest service derives the local transition from it.
type MembershipEvent struct {
	Provider        string
	ProviderEventID string
	Type            EventType
	SubscriptionRef string
	Remote          providerdomain.Subscription
	OccurredAt      time.Time
	RawPayload      []byte
}

// Adapter verifies and parses one provider's webhook payloads.
type Adapter interface {
	Provider() string
	// Verify authenticates the payload. It fails closed: any verification
	// problem is reported as ErrInvalidSignature and nothing is mutated.
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*MembershipEvent, error)
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, orgID snowflake.ID, payload []byte, headers http.Header) error
}

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
)

// Package webhook ingests signed provider events and applies the membership
// transitions they imply.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/memberly/internal/clock"
	eventledgerdomain "github.com/smallbiznis/memberly/internal/eventledger/domain"
	membershipdomain "github.com/smallbiznis/memberly/internal/membership/domain"
	"github.com/smallbiznis/memberly/internal/observability/metrics"
	"github.com/smallbiznis/memberly/internal/webhook/adapters"
	webhookdomain "github.com/smallbiznis/memberly/internal/webhook/domain"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Ledger      eventledgerdomain.Service
	Memberships membershipdomain.Service
	Adapters    *adapters.Registry
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	clock       clock.Clock
	ledger      eventledgerdomain.Service
	memberships membershipdomain.Service
	adapters    *adapters.Registry
	metrics     *metrics.Metrics
}

func NewService(p Params) webhookdomain.Service {
	return &Service{
		log:         p.Log.Named("webhook.service"),
		clock:       p.Clock,
		ledger:      p.Ledger,
		memberships: p.Memberships,
		adapters:    p.Adapters,
		metrics:     p.Metrics,
	}
}

// IngestWebhook verifies, records, and handles one inbound delivery. The
// event id is recorded before dispatch; if the handler then fails, the id is
// forgotten again so the provider's retry is treated as a fresh delivery.
func (s *Service) IngestWebhook(ctx context.Context, provider string, orgID snowflake.ID, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return webhookdomain.ErrInvalidProvider
	}
	adapter, ok := s.adapters.Get(provider)
	if !ok {
		return webhookdomain.ErrInvalidProvider
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected",
			zap.String("provider", provider),
			zap.Int64("org_id", int64(orgID)),
		)
		s.metrics.IncWebhookEvent(ctx, provider, "rejected")
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, webhookdomain.ErrEventIgnored) {
			s.log.Debug("webhook event ignored", zap.String("provider", provider))
			s.metrics.IncWebhookEvent(ctx, provider, "ignored")
		}
		return err
	}

	first, err := s.ledger.RecordIfNew(ctx, event.ProviderEventID)
	if err != nil {
		return err
	}
	if !first {
		s.log.Debug("duplicate webhook delivery",
			zap.String("provider", provider),
			zap.String("event_id", event.ProviderEventID),
		)
		s.metrics.IncWebhookEvent(ctx, provider, "duplicate")
		return nil
	}

	if err := s.handle(ctx, orgID, event); err != nil {
		if ferr := s.ledger.Forget(ctx, event.ProviderEventID); ferr != nil {
			s.log.Error("failed to release event id after handler error",
				zap.String("event_id", event.ProviderEventID),
				zap.Error(ferr),
			)
		}
		s.metrics.IncWebhookEvent(ctx, provider, "failed")
		return err
	}
	s.metrics.IncWebhookEvent(ctx, provider, "handled")
	return nil
}

// handle applies the transition an event implies. Handlers are idempotent:
// repeating the current status is a no-op, so replays after a partial
// failure are safe under any delivery order.
func (s *Service) handle(ctx context.Context, orgID snowflake.ID, event *webhookdomain.MembershipEvent) error {
	now := s.clock.Now().UTC()

	var (
		target membershipdomain.Status
		endAt  *time.Time
	)
	switch event.Type {
	case webhookdomain.EventTypeSubscriptionUpdated:
		target = membershipdomain.StatusFromRemote(event.Remote, now)
		if target == membershipdomain.StatusCancelling && !event.Remote.CurrentPeriodEnd.IsZero() {
			periodEnd := event.Remote.CurrentPeriodEnd
			endAt = &periodEnd
		}
	case webhookdomain.EventTypeSubscriptionDeleted:
		target = membershipdomain.StatusCancelled
	case webhookdomain.EventTypePaymentFailed:
		target = membershipdomain.StatusPastDue
	case webhookdomain.EventTypePaymentSucceeded:
		// Paid invoices confirm billing states only; they never unwind a
		// scheduled cancellation or pause.
		return s.tolerateConvergence(orgID, event, s.memberships.MarkPaid(ctx, orgID, event.SubscriptionRef))
	default:
		return nil
	}

	return s.tolerateConvergence(orgID, event, s.memberships.ApplyRemoteStatus(ctx, orgID, event.SubscriptionRef, target, endAt))
}

// tolerateConvergence soft-fails the outcomes the reconciliation sweep will
// repair on its own: a membership the event predates, or a transition the
// status table rejects.
func (s *Service) tolerateConvergence(orgID snowflake.ID, event *webhookdomain.MembershipEvent, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, membershipdomain.ErrMembershipNotFound):
		// The event may predate reconciliation; the next sweep converges it.
		s.log.Warn("no membership for webhook event",
			zap.Int64("org_id", int64(orgID)),
			zap.String("subscription_ref", event.SubscriptionRef),
			zap.String("event_type", string(event.Type)),
		)
		return nil
	case errors.Is(err, membershipdomain.ErrConflictingState):
		return nil
	default:
		return err
	}
}

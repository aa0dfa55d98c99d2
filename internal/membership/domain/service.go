package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PauseRequest schedules a pause starting at the membership's next anchor
// date for the requested duration.
type PauseRequest struct {
	OrgID        snowflake.ID
	MembershipID snowflake.ID
	Duration     time.Duration
}

// CancelRequest ends a membership. Immediate cancels remotely and removes
// the membership; otherwise the membership enters CANCELLING and survives
// until the period-end deletion event arrives.
type CancelRequest struct {
	OrgID        snowflake.ID
	MembershipID snowflake.ID
	Immediate    bool
}

// CreateRequest provisions a remote subscription for a member on a plan.
type CreateRequest struct {
	OrgID    snowflake.ID
	MemberID snowflake.ID
	PlanID   snowflake.ID
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Membership, error)
	Pause(ctx context.Context, req PauseRequest) (*Membership, error)
	Resume(ctx context.Context, orgID, membershipID snowflake.ID) (*Membership, error)
	Cancel(ctx context.Context, req CancelRequest) (*Membership, error)

	// ApplyRemoteStatus transitions the membership identified by its external
	// subscription reference to the status implied by the remote snapshot.
	// Illegal transitions are ignored and reported via ErrConflictingState.
	ApplyRemoteStatus(ctx context.Context, orgID snowflake.ID, subscriptionRef string, target Status, endAt *time.Time) error

	// MarkPaid promotes a PENDING or PAST_DUE membership to ACTIVE after a
	// successful payment. Any other state is left untouched; in particular a
	// final invoice never unwinds a deferred cancellation.
	MarkPaid(ctx context.Context, orgID snowflake.ID, subscriptionRef string) error
}

var (
	ErrMembershipNotFound = errors.New("membership_not_found")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrConflictingState   = errors.New("conflicting_state")
	ErrNotPaused          = errors.New("membership_not_paused")
	ErrAlreadyCancelled   = errors.New("membership_already_cancelled")
	ErrMissingRemoteRef   = errors.New("missing_external_subscription_ref")
	ErrInvalidDuration    = errors.New("invalid_pause_duration")
	ErrProviderDisabled   = errors.New("provider_not_configured")
)

// Package domain contains the membership model and its status machine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	providerdomain "github.com/smallbiznis/memberly/internal/provider/domain"
)

// Status is the lifecycle state of a membership.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusActive         Status = "ACTIVE"
	StatusPastDue        Status = "PAST_DUE"
	StatusPauseScheduled Status = "PAUSE_SCHEDULED"
	StatusPaused         Status = "PAUSED"
	StatusCancelling     Status = "CANCELLING"
	StatusCancelled      Status = "CANCELLED"
	StatusInactive       Status = "INACTIVE"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool { return s == StatusCancelled }

// CanTransition reports whether moving from current to target is a legal
// transition. Out-of-order deliveries produce illegal pairs, which callers
// ignore rather than apply blindly.
func CanTransition(current, target Status) bool {
	if current.IsTerminal() {
		return false
	}
	switch target {
	case StatusActive, StatusPastDue, StatusCancelled, StatusInactive:
		return true
	case StatusPaused:
		return current == StatusPending || current == StatusActive ||
			current == StatusPastDue || current == StatusPauseScheduled
	case StatusPauseScheduled:
		return current == StatusPending || current == StatusActive || current == StatusPastDue
	case StatusCancelling:
		return current != StatusCancelling
	default:
		return false
	}
}

// StatusFromRemote derives the local status implied by a provider
// subscription snapshot. Cancellation signals win over pause signals, and a
// pause window that has not started yet maps to PAUSE_SCHEDULED.
func StatusFromRemote(sub providerdomain.Subscription, now time.Time) Status {
	switch {
	case sub.Status == providerdomain.SubscriptionCanceled:
		return StatusCancelled
	case sub.CancelAtPeriodEnd:
		return StatusCancelling
	case sub.Status == providerdomain.SubscriptionPaused:
		if sub.PauseStartAt != nil && sub.PauseStartAt.After(now) {
			return StatusPauseScheduled
		}
		return StatusPaused
	case sub.Status.IsDelinquent():
		return StatusPastDue
	case sub.Status == providerdomain.SubscriptionActive,
		sub.Status == providerdomain.SubscriptionTrialing:
		if sub.PauseStartAt != nil && sub.PauseStartAt.After(now) {
			return StatusPauseScheduled
		}
		return StatusActive
	default:
		return StatusInactive
	}
}

// Membership binds a member to a plan and mirrors one remote subscription.
type Membership struct {
	ID                      snowflake.ID `gorm:"primaryKey"`
	OrgID                   snowflake.ID `gorm:"not null;index"`
	MemberID                snowflake.ID `gorm:"not null;index"`
	PlanID                  snowflake.ID `gorm:"not null"`
	Status                  Status       `gorm:"type:text;not null"`
	AnchorAt                *time.Time
	EndAt                   *time.Time
	PauseStartAt            *time.Time
	PauseEndAt              *time.Time
	ExternalSubscriptionRef *string   `gorm:"type:text;uniqueIndex"`
	Amount                  int64     `gorm:"not null;default:0"` // minor units, per billing interval
	CreatedAt               time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "memberships" }

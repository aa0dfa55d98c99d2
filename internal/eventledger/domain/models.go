// Package domain contains the idempotency ledger of processed provider events.
package domain

import (
	"context"
	"errors"
	"time"
)

// ProcessedEvent records that an external event id has been handled.
type ProcessedEvent struct {
	EventID     string    `gorm:"primaryKey;type:text"`
	ProcessedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProcessedEvent) TableName() string { return "processed_events" }

var ErrInvalidEventID = errors.New("invalid_event_id")

// Service is the idempotency ledger. RecordIfNew must be atomic under
// concurrent duplicate deliveries of the same event id.
type Service interface {
	// RecordIfNew inserts eventID if absent and reports whether this call
	// was the first to insert it.
	RecordIfNew(ctx context.Context, eventID string) (bool, error)
	// Forget removes a recorded event id so a retried delivery is treated
	// as new. Used when handling failed after the id was recorded.
	Forget(ctx context.Context, eventID string) error
	// Prune deletes ledger entries older than the retention horizon.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

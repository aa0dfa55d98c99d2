package service

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/memberly/internal/clock"
	eventledgerdomain "github.com/smallbiznis/memberly/internal/eventledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) eventledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("eventledger.service"),
		clock: p.Clock,
	}
}

// RecordIfNew relies on the primary-key constraint, not check-then-insert,
// so concurrent duplicate deliveries resolve to exactly one winner.
func (s *Service) RecordIfNew(ctx context.Context, eventID string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, eventledgerdomain.ErrInvalidEventID
	}

	entry := eventledgerdomain.ProcessedEvent{
		EventID:     eventID,
		ProcessedAt: s.clock.Now(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (s *Service) Forget(ctx context.Context, eventID string) error {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return eventledgerdomain.ErrInvalidEventID
	}
	return s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Delete(&eventledgerdomain.ProcessedEvent{}).Error
}

func (s *Service) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("processed_at < ?", olderThan).
		Delete(&eventledgerdomain.ProcessedEvent{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("pruned processed events",
			zap.Int64("deleted", result.RowsAffected),
			zap.Time("older_than", olderThan),
		)
	}
	return result.RowsAffected, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/memberly/internal/clock"
)

// CacheEntry is the table-backed cache row. Keys are namespaced per org.
type CacheEntry struct {
	Key       string         `gorm:"primaryKey;type:text"`
	OrgID     snowflake.ID   `gorm:"not null;index"`
	Result    datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CacheEntry) TableName() string { return "analytics_cache_entries" }

type tableStore struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewTableStore keeps cache entries in the service database.
func NewTableStore(db *gorm.DB, clk clock.Clock) Store {
	return &tableStore{db: db, clock: clk}
}

func scopedKey(orgID snowflake.ID, key string) string {
	return fmt.Sprintf("%d:%s", orgID, key)
}

func (s *tableStore) Get(ctx context.Context, orgID snowflake.ID, key string) (*Entry, error) {
	var row CacheEntry
	err := s.db.WithContext(ctx).
		Where("key = ?", scopedKey(orgID, key)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Entry{Value: []byte(row.Result), UpdatedAt: row.UpdatedAt}, nil
}

func (s *tableStore) Put(ctx context.Context, orgID snowflake.ID, key string, value []byte) error {
	row := CacheEntry{
		Key:       scopedKey(orgID, key),
		OrgID:     orgID,
		Result:    datatypes.JSON(value),
		UpdatedAt: s.clock.Now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"result", "updated_at"}),
		}).
		Create(&row).Error
}

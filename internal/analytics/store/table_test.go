package store

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smallbiznis/memberly/internal/clock"
)

func setupTable(t *testing.T) (Store, *clock.FakeClock, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&CacheEntry{}))
	fake := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewTableStore(db, fake), fake, db
}

func TestTableStoreRoundTrip(t *testing.T) {
	s, fake, _ := setupTable(t)
	orgID := snowflake.ID(42)

	entry, err := s.Get(context.Background(), orgID, "all_2025-03_false")
	require.NoError(t, err)
	require.Nil(t, entry)

	require.NoError(t, s.Put(context.Background(), orgID, "all_2025-03_false", []byte(`{"mrr":100}`)))

	entry, err = s.Get(context.Background(), orgID, "all_2025-03_false")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.JSONEq(t, `{"mrr":100}`, string(entry.Value))
	require.Equal(t, fake.Now(), entry.UpdatedAt.UTC())
}

func TestTableStoreLastWriterWins(t *testing.T) {
	s, fake, db := setupTable(t)
	orgID := snowflake.ID(42)
	key := "all_2025-03_false"

	require.NoError(t, s.Put(context.Background(), orgID, key, []byte(`{"mrr":100}`)))
	fake.Advance(time.Hour)
	require.NoError(t, s.Put(context.Background(), orgID, key, []byte(`{"mrr":200}`)))

	entry, err := s.Get(context.Background(), orgID, key)
	require.NoError(t, err)
	require.JSONEq(t, `{"mrr":200}`, string(entry.Value))
	require.Equal(t, fake.Now(), entry.UpdatedAt.UTC())

	// The rewrite upserts in place, it never duplicates the row.
	var count int64
	require.NoError(t, db.Model(&CacheEntry{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestTableStoreScopesKeysByOrg(t *testing.T) {
	s, _, _ := setupTable(t)
	key := "all_2025-03_false"

	require.NoError(t, s.Put(context.Background(), snowflake.ID(1), key, []byte(`{"mrr":1}`)))
	require.NoError(t, s.Put(context.Background(), snowflake.ID(2), key, []byte(`{"mrr":2}`)))

	entry, err := s.Get(context.Background(), snowflake.ID(1), key)
	require.NoError(t, err)
	require.JSONEq(t, `{"mrr":1}`, string(entry.Value))
}

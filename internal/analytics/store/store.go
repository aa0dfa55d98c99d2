// Package store persists computed analytics reports. Freshness is decided
// by the caller; the store only keeps whole-entry values with their write
// time, so concurrent recomputation degrades to last-writer-wins.
package store

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Entry is one cached report value with its write timestamp.
type Entry struct {
	Value     []byte
	UpdatedAt time.Time
}

type Store interface {
	// Get returns the entry for the key, or nil when absent.
	Get(ctx context.Context, orgID snowflake.ID, key string) (*Entry, error)
	// Put replaces the entry wholesale.
	Put(ctx context.Context, orgID snowflake.ID, key string, value []byte) error
}

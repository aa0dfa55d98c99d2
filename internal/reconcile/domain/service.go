// Package domain defines the reconciliation sweep contract.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Summary reports the outcome of one sweep pass. Synced counts members whose
// remote state was fetched and converged, Updated counts members where at
// least one local field actually changed, and Errored counts members whose
// failures were isolated and skipped.
type Summary struct {
	Synced  int `json:"synced"`
	Updated int `json:"updated"`
	Errored int `json:"errored"`
}

// Add folds another summary into this one.
func (s *Summary) Add(other Summary) {
	s.Synced += other.Synced
	s.Updated += other.Updated
	s.Errored += other.Errored
}

type Service interface {
	// SyncOrg converges every member of one org against the provider.
	SyncOrg(ctx context.Context, orgID snowflake.ID) (Summary, error)
	// SyncAll converges every org that has members with billing accounts.
	SyncAll(ctx context.Context) (Summary, error)
}

var ErrProviderDisabled = errors.New("provider_not_configured")

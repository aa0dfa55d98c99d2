// Package domain contains persistence models for org members.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Member is a person attached to an org. The Is* flags and CachedStatus are
// denormalized from the member's memberships by the sync path so that list
// endpoints and analytics never have to join live.
type Member struct {
	ID                   snowflake.ID `gorm:"primaryKey"`
	OrgID                snowflake.ID `gorm:"not null;index"`
	Email                string       `gorm:"type:text;not null"`
	Name                 string       `gorm:"type:text"`
	ExternalCustomerRef  *string      `gorm:"type:text;index"`
	HasEverHadMembership bool         `gorm:"not null;default:false"`
	IsDelinquent         bool         `gorm:"not null;default:false"`
	IsPaused             bool         `gorm:"not null;default:false"`
	CachedStatus         string       `gorm:"type:text"`
	CreatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "members" }

var (
	ErrMemberNotFound     = errors.New("member_not_found")
	ErrMissingCustomerRef = errors.New("missing_external_customer_ref")
)

// Package domain contains persistence models for membership plans.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Interval is the billing cadence of a plan.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
	IntervalAnnual  Interval = "annual"
)

// NormalizeInterval maps provider interval spellings onto the closed set,
// defaulting to monthly for anything unrecognized.
func NormalizeInterval(raw string) Interval {
	switch raw {
	case "day", "daily":
		return IntervalDaily
	case "week", "weekly":
		return IntervalWeekly
	case "year", "yearly", "annual":
		return IntervalAnnual
	default:
		return IntervalMonthly
	}
}

// Plan is a tenant-defined membership template.
type Plan struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	OrgID            snowflake.ID `gorm:"not null;index"`
	Name             string       `gorm:"type:text;not null"`
	Amount           int64        `gorm:"not null;default:0"` // minor units
	Interval         Interval     `gorm:"type:text;not null;default:monthly"`
	ExternalPriceRef *string      `gorm:"type:text"`
	Archived         bool         `gorm:"not null;default:false"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

var (
	ErrPlanNotFound = errors.New("plan_not_found")
	ErrInvalidPlan  = errors.New("invalid_plan")
)

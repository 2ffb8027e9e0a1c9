// Package domain contains the plan catalog reference data.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Interval is a billing period unit understood by the payment provider.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Valid reports whether the interval is a recognized billing unit.
func (i Interval) Valid() bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// Plan is immutable reference data mapping a plan to price, duration and the
// provider-side product. The reconciliation path never mutates it.
type Plan struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	ProductRef      string       `gorm:"type:text;not null;uniqueIndex"`
	Name            string       `gorm:"type:text;not null"`
	Price           int64        `gorm:"not null"` // minor currency units
	Currency        string       `gorm:"type:text;not null"`
	BillingInterval Interval     `gorm:"type:text;not null;default:month"`
	IntervalCount   int          `gorm:"not null;default:1"`
	PriceText       string       `gorm:"type:text;not null;default:''"`
	Description     string       `gorm:"type:text;not null;default:''"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// Package domain holds the entitlement entity and the reconciler contracts.
package domain

import (
	"time"

	plandomain "github.com/fastingvibe/api/internal/plan/domain"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// State is the entitlement lifecycle state.
//
// pending -> success | failed | cancelled
// success -> cancelled | expired
//
// initiated is a variant entry state equivalent to pending, used when intent
// creation has not yet round-tripped the remote reference.
type State string

const (
	StateInitiated State = "initiated"
	StatePending   State = "pending"
	StateSuccess   State = "success"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// EntryStates are the states an entitlement can be reconciled out of.
var EntryStates = []State{StateInitiated, StatePending}

// OwnerRef identifies who holds an entitlement: a registered user or an
// anonymous device, exactly one at creation time. The device form is
// back-filled to a user once the owner authenticates (ClaimDevice).
type OwnerRef struct {
	UserID   *snowflake.ID
	DeviceID string
}

// Valid reports whether exactly one owner dimension is set, the shape
// required at creation time. Claimed rows carry both and are matched by
// either dimension.
func (o OwnerRef) Valid() bool {
	hasUser := o.UserID != nil && *o.UserID != 0
	hasDevice := o.DeviceID != ""
	return hasUser != hasDevice
}

// Empty reports whether neither owner dimension is set.
func (o OwnerRef) Empty() bool {
	return (o.UserID == nil || *o.UserID == 0) && o.DeviceID == ""
}

// String renders the owner for logging.
func (o OwnerRef) String() string {
	if o.UserID != nil && *o.UserID != 0 {
		return "user:" + o.UserID.String()
	}
	if o.DeviceID != "" {
		return "device:" + o.DeviceID
	}
	return "unknown"
}

// Entitlement is the durable record of a purchase intent and its resolution.
// Rows are append-only billing history: transitions into cancelled or expired
// never delete them.
type Entitlement struct {
	ID       snowflake.ID  `gorm:"primaryKey" json:"id"`
	UserID   *snowflake.ID `gorm:"index:idx_entitlements_owner_plan_state,priority:1" json:"user_id,omitempty"`
	DeviceID string        `gorm:"type:text;not null;default:'';index" json:"device_id,omitempty"`
	PlanID   snowflake.ID  `gorm:"index:idx_entitlements_owner_plan_state,priority:2" json:"plan_id"`

	// ProductRef, Currency, BillingInterval and IntervalCount are
	// denormalized from the plan at creation time; plan rows can change
	// after purchase.
	ProductRef      string              `gorm:"type:text;not null" json:"product_id"`
	Currency        string              `gorm:"type:text;not null;default:''" json:"currency"`
	BillingInterval plandomain.Interval `gorm:"type:text;not null;default:month" json:"interval"`
	IntervalCount   int                 `gorm:"not null;default:1" json:"interval_count"`

	// TransactionRef is the gateway's identifier for the charge or intent.
	// Globally unique once set.
	TransactionRef *string `gorm:"type:text;uniqueIndex" json:"transaction_id,omitempty"`
	PaymentMethod  string  `gorm:"type:text;not null;default:''" json:"payment_method,omitempty"`

	State State `gorm:"type:text;not null;default:pending;index:idx_entitlements_owner_plan_state,priority:3;index:idx_entitlements_state_end,priority:1" json:"state"`

	// StartAt and EndAt are set together at the transition into success.
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `gorm:"index:idx_entitlements_state_end,priority:2" json:"end_at,omitempty"`

	AutoRenew bool              `gorm:"not null;default:false" json:"auto_renew"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Entitlement) TableName() string { return "entitlements" }

// Owner returns the row's owner reference.
func (e *Entitlement) Owner() OwnerRef {
	return OwnerRef{UserID: e.UserID, DeviceID: e.DeviceID}
}

// ActiveAt reports the canonical entitlement predicate: state success with a
// window reaching now. Every "is this owner entitled" check goes through this.
func (e *Entitlement) ActiveAt(now time.Time) bool {
	return e.State == StateSuccess && e.EndAt != nil && !e.EndAt.Before(now)
}

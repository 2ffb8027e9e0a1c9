package domain

import (
	"context"
	"errors"
	"time"

	paymentdomain "github.com/fastingvibe/api/internal/payment/domain"
	plandomain "github.com/fastingvibe/api/internal/plan/domain"
	"github.com/fastingvibe/api/pkg/db/pagination"

	"github.com/bwmarrin/snowflake"
)

// CreatePurchaseRequest asks for a new chargeable purchase session.
type CreatePurchaseRequest struct {
	Owner      OwnerRef
	Email      string
	ProductRef string
}

// PurchaseSession is the client-facing result of CreatePurchase: the provider
// secret the payment sheet needs plus the plan being bought.
type PurchaseSession struct {
	ClientSecret string
	IntentRef    string
	Plan         plandomain.Plan
}

// Service is the entitlement reconciler: the single writer of entitlement
// state. Purchase requests and gateway events go through it; nothing else
// mutates the store.
type Service interface {
	CreatePurchase(ctx context.Context, req CreatePurchaseRequest) (*PurchaseSession, error)
	// ApplyEvent reconciles one verified gateway event into the store.
	// Duplicate and out-of-order deliveries resolve to no-ops, not errors.
	ApplyEvent(ctx context.Context, event *paymentdomain.Event) error
	// Cancel requests cancellation-at-period-end remotely, then marks the
	// owner's active entitlement cancelled.
	Cancel(ctx context.Context, owner OwnerRef) error
	// Active returns the owner's entitlement satisfying the canonical
	// predicate (state success, window reaching now), nil when none.
	Active(ctx context.Context, owner OwnerRef) (*Entitlement, error)
	History(ctx context.Context, owner OwnerRef, p pagination.Pagination) ([]Entitlement, pagination.PageInfo, error)
	// ClaimDevice back-fills the authenticated user onto entitlements bought
	// anonymously from a device.
	ClaimDevice(ctx context.Context, deviceID string, userID snowflake.ID) (int64, error)
	// ExpireOverdue moves success rows with a passed window to expired.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

var (
	ErrInvalidOwner            = errors.New("invalid_owner")
	ErrNotFound                = errors.New("entitlement_not_found")
	ErrNoActiveEntitlement     = errors.New("no_active_entitlement")
	ErrActiveEntitlementExists = errors.New("active_entitlement_exists")
)

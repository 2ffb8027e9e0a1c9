// Package domain defines the canonical payment-gateway contracts: the typed
// event union parsed from provider webhooks and the outbound gateway surface.
package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventKind enumerates the provider notifications the reconciler handles.
// Anything else is parsed to ErrEventIgnored and answered with success.
type EventKind string

const (
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventPaymentFailed       EventKind = "payment_failed"
	EventInvoicePaid         EventKind = "invoice_paid"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
)

// Event is the canonical payment event parsed by webhook adapters.
// Owner and plan identity come from the versioned intent metadata, so the
// reconciler can match the event without a separate lookup table.
type Event struct {
	Provider        string
	ProviderEventID string
	Kind            EventKind

	// TransactionRef is the provider identifier for the charge, intent or
	// subscription the event is about. Globally unique per provider.
	TransactionRef string

	UserID     *snowflake.ID
	DeviceID   string
	PlanID     *snowflake.ID
	ProductRef string

	Amount        int64
	Currency      string
	PaymentMethod string

	// PeriodEnd is set for invoice-paid events: the new period end reported
	// by the provider. The reconciler never moves a window backward from it.
	PeriodEnd *time.Time

	// RemoteStatus is set for subscription-updated events.
	RemoteStatus string

	OccurredAt time.Time
	RawPayload []byte
}

// IntentMetadata is the versioned payload contract attached to purchase
// intents so webhook events can be matched back to an owner and plan.
type IntentMetadata struct {
	Version    int
	UserID     *snowflake.ID
	DeviceID   string
	PlanID     snowflake.ID
	ProductRef string
}

// CustomerRef identifies a provider-side customer.
type CustomerRef string

// IntentRequest asks the gateway for a chargeable purchase intent.
type IntentRequest struct {
	Customer CustomerRef
	Amount   int64
	Currency string
	Metadata IntentMetadata
	// IdempotencyKey dedupes retried intent creation on the provider side.
	IdempotencyKey string
}

// Intent is the provider's in-progress charge attempt.
type Intent struct {
	Ref          string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
}

// ProductPricing is the provider's current default price for a product,
// used on the defensive synthesized-entitlement path and for price updates.
type ProductPricing struct {
	ProductRef    string
	ProductName   string
	PriceRef      string
	Amount        int64
	Currency      string
	Interval      string
	IntervalCount int
	Recurring     bool
}

// Gateway wraps outbound calls to the payment provider. Every call is
// bounded by the request context; transient failures surface as
// UpstreamError for the caller's retry policy.
type Gateway interface {
	EnsureCustomer(ctx context.Context, email string, meta IntentMetadata) (CustomerRef, error)
	CreatePurchaseIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	GetProductPricing(ctx context.Context, productRef string) (*ProductPricing, error)
	// UpdateDefaultPrice creates a new recurring price mirroring the
	// product's current billing interval and re-points the default price.
	UpdateDefaultPrice(ctx context.Context, productRef string, amount int64) (*ProductPricing, error)
	// CancelRecurring requests cancellation-at-period-end on the remote side.
	CancelRecurring(ctx context.Context, transactionRef string) error
}

// WebhookAdapter verifies and parses inbound provider events. Verify must be
// called before Parse output is trusted.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

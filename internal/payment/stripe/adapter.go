package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/fastingvibe/api/internal/payment/domain"
)

const signatureHeader = "Stripe-Signature"

// Adapter verifies Stripe webhook signatures and maps raw event payloads to
// the provider-neutral event union.
type Adapter struct {
	webhookSecret []byte
}

func NewAdapter(webhookSecret string) (*Adapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, paymentdomain.ErrNotConfigured
	}
	return &Adapter{webhookSecret: []byte(webhookSecret)}, nil
}

// Verify checks the Stripe-Signature header against the raw request body.
// The header carries a timestamp and one or more v1 HMAC-SHA256 signatures
// over "<timestamp>.<body>".
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	header := headers.Get(signatureHeader)
	if header == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp := ""
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, a.webhookSecret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type intentObject struct {
	ID                 string         `json:"id"`
	Amount             int64          `json:"amount"`
	Currency           string         `json:"currency"`
	PaymentMethodTypes []string       `json:"payment_method_types"`
	Metadata           map[string]any `json:"metadata"`
}

type checkoutSessionObject struct {
	ID            string         `json:"id"`
	PaymentIntent string         `json:"payment_intent"`
	AmountTotal   int64          `json:"amount_total"`
	Currency      string         `json:"currency"`
	Metadata      map[string]any `json:"metadata"`
}

type invoiceObject struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	Currency     string `json:"currency"`
	PeriodEnd    int64  `json:"period_end"`
	Lines        struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	SubscriptionDetails struct {
		Metadata map[string]any `json:"metadata"`
	} `json:"subscription_details"`
	Metadata map[string]any `json:"metadata"`
}

type subscriptionObject struct {
	ID               string         `json:"id"`
	Status           string         `json:"status"`
	CurrentPeriodEnd int64          `json:"current_period_end"`
	Currency         string         `json:"currency"`
	Metadata         map[string]any `json:"metadata"`
}

// Parse maps a verified payload to a provider-neutral event. Event types
// outside the reconciled set return ErrEventIgnored so callers can ack them
// without acting.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var envelope stripeEvent
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}
	if envelope.ID == "" || envelope.Type == "" || len(envelope.Data.Object) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}

	event := &paymentdomain.Event{
		Provider:        "stripe",
		ProviderEventID: envelope.ID,
		OccurredAt:      time.Unix(envelope.Created, 0).UTC(),
		RawPayload:      payload,
	}

	switch envelope.Type {
	case "payment_intent.succeeded":
		return a.parseIntent(envelope, event, paymentdomain.EventPaymentSucceeded)

	case "payment_intent.payment_failed":
		return a.parseIntent(envelope, event, paymentdomain.EventPaymentFailed)

	case "checkout.session.completed":
		var session checkoutSessionObject
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
		}
		if session.PaymentIntent == "" {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.Kind = paymentdomain.EventPaymentSucceeded
		event.TransactionRef = session.PaymentIntent
		event.Amount = session.AmountTotal
		event.Currency = strings.ToUpper(session.Currency)
		event.PaymentMethod = "card"
		if err := applyMetadata(event, session.Metadata); err != nil {
			return nil, err
		}
		return event, nil

	case "invoice.paid":
		var invoice invoiceObject
		if err := json.Unmarshal(envelope.Data.Object, &invoice); err != nil {
			return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
		}
		ref := invoice.Subscription
		if ref == "" {
			ref = invoice.ID
		}
		event.Kind = paymentdomain.EventInvoicePaid
		event.TransactionRef = ref
		event.Amount = invoice.AmountPaid
		event.Currency = strings.ToUpper(invoice.Currency)
		if end := invoicePeriodEnd(invoice); end > 0 {
			t := time.Unix(end, 0).UTC()
			event.PeriodEnd = &t
		}
		meta := invoice.SubscriptionDetails.Metadata
		if len(meta) == 0 {
			meta = invoice.Metadata
		}
		if err := applyMetadata(event, meta); err != nil {
			return nil, err
		}
		return event, nil

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub subscriptionObject
		if err := json.Unmarshal(envelope.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
		}
		if sub.ID == "" {
			return nil, paymentdomain.ErrInvalidPayload
		}
		if envelope.Type == "customer.subscription.deleted" {
			event.Kind = paymentdomain.EventSubscriptionDeleted
		} else {
			event.Kind = paymentdomain.EventSubscriptionUpdated
		}
		event.TransactionRef = sub.ID
		event.Currency = strings.ToUpper(sub.Currency)
		event.RemoteStatus = sub.Status
		if sub.CurrentPeriodEnd > 0 {
			t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			event.PeriodEnd = &t
		}
		if err := applyMetadata(event, sub.Metadata); err != nil {
			return nil, err
		}
		return event, nil

	default:
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrEventIgnored, envelope.Type)
	}
}

func (a *Adapter) parseIntent(
	envelope stripeEvent,
	event *paymentdomain.Event,
	kind paymentdomain.EventKind,
) (*paymentdomain.Event, error) {
	var intent intentObject
	if err := json.Unmarshal(envelope.Data.Object, &intent); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidPayload, err)
	}
	if intent.ID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	event.Kind = kind
	event.TransactionRef = intent.ID
	event.Amount = intent.Amount
	event.Currency = strings.ToUpper(intent.Currency)
	if len(intent.PaymentMethodTypes) > 0 {
		event.PaymentMethod = intent.PaymentMethodTypes[0]
	} else {
		event.PaymentMethod = "card"
	}
	if err := applyMetadata(event, intent.Metadata); err != nil {
		return nil, err
	}
	return event, nil
}

func applyMetadata(event *paymentdomain.Event, raw map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	meta, err := paymentdomain.ParseMetadata(raw)
	if err != nil {
		return err
	}
	event.UserID = meta.UserID
	event.DeviceID = meta.DeviceID
	if meta.PlanID != 0 {
		planID := meta.PlanID
		event.PlanID = &planID
	}
	event.ProductRef = meta.ProductRef
	return nil
}

func invoicePeriodEnd(invoice invoiceObject) int64 {
	for _, line := range invoice.Lines.Data {
		if line.Period.End > 0 {
			return line.Period.End
		}
	}
	return invoice.PeriodEnd
}

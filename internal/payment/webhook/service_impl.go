// Package webhook ingests provider events: verify, parse, reconcile,
// notify. Everything after signature verification is answered as handled so
// the provider does not amplify transient failures into retry storms.
package webhook

import (
	"context"
	"errors"
	"net/http"

	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"
	"github.com/fastingvibe/api/internal/notification"
	"github.com/fastingvibe/api/internal/observability/metrics"
	paymentdomain "github.com/fastingvibe/api/internal/payment/domain"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service handles one raw webhook delivery end to end.
type Service interface {
	// Handle returns an error only for signature verification failure;
	// every post-verification outcome is a handled delivery.
	Handle(ctx context.Context, payload []byte, headers http.Header) error
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Adapter    paymentdomain.WebhookAdapter `optional:"true"`
	Reconciler entitlementdomain.Service
	Dispatcher notification.Dispatcher
	Metrics    *metrics.Metrics `optional:"true"`
}

type service struct {
	log        *zap.Logger
	adapter    paymentdomain.WebhookAdapter
	reconciler entitlementdomain.Service
	dispatcher notification.Dispatcher
	metrics    *metrics.Metrics
}

func New(p Params) Service {
	return &service{
		log:        p.Log.Named("payment.webhook"),
		adapter:    p.Adapter,
		reconciler: p.Reconciler,
		dispatcher: p.Dispatcher,
		metrics:    p.Metrics,
	}
}

func (s *service) Handle(ctx context.Context, payload []byte, headers http.Header) error {
	// A missing signing secret is answered the same as a bad signature:
	// nothing can be verified, so nothing may mutate.
	if s.adapter == nil {
		s.log.Warn("webhook received without configured signing secret")
		return paymentdomain.ErrInvalidSignature
	}

	if err := s.adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		return paymentdomain.ErrInvalidSignature
	}

	event, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Debug("webhook event ignored", zap.Error(err))
			return nil
		}
		s.log.Error("webhook payload rejected", zap.Error(err))
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(ctx, event.Provider, string(event.Kind))
	}

	if err := s.reconciler.ApplyEvent(ctx, event); err != nil {
		// Logged server-side only; the provider still gets a handled
		// response. Reconciliation converges on later deliveries.
		s.log.Error("event reconciliation failed",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
		return nil
	}

	s.notify(ctx, event)
	return nil
}

func (s *service) notify(ctx context.Context, event *paymentdomain.Event) {
	var title, body string
	switch event.Kind {
	case paymentdomain.EventPaymentSucceeded, paymentdomain.EventInvoicePaid:
		title = "Subscription active"
		body = "Your FastingVibe subscription is active. Enjoy!"
	case paymentdomain.EventPaymentFailed:
		title = "Payment failed"
		body = "We could not process your payment. Please try again."
	case paymentdomain.EventSubscriptionDeleted:
		title = "Subscription ended"
		body = "Your FastingVibe subscription has ended."
	default:
		return
	}

	s.dispatcher.Dispatch(ctx, notification.Notification{
		Event:    string(event.Kind),
		UserID:   event.UserID,
		DeviceID: event.DeviceID,
		Title:    title,
		Body:     body,
	})
}

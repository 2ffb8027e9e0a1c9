package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fastingvibe/api/internal/clock"
	"github.com/fastingvibe/api/internal/config"
	"github.com/fastingvibe/api/internal/entitlement/domain"
	"github.com/fastingvibe/api/internal/observability/metrics"
	paymentdomain "github.com/fastingvibe/api/internal/payment/domain"
	plandomain "github.com/fastingvibe/api/internal/plan/domain"
	"github.com/fastingvibe/api/pkg/db"
	"github.com/fastingvibe/api/pkg/db/pagination"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Plans    plandomain.Repository
	Gateway  paymentdomain.Gateway `optional:"true"`
	Clock    clock.Clock
	Tunables *config.ReconcileConfigHolder
	Metrics  *metrics.Metrics `optional:"true"`
}

// Service is the entitlement reconciler. Correctness under concurrent
// webhook delivery rests on the repository's conditional updates and the
// unique transaction reference, not on in-process locks.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	plans    plandomain.Repository
	gateway  paymentdomain.Gateway
	clock    clock.Clock
	tunables *config.ReconcileConfigHolder
	metrics  *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("entitlement.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		plans:    p.Plans,
		gateway:  p.Gateway,
		clock:    p.Clock,
		tunables: p.Tunables,
		metrics:  p.Metrics,
	}
}

// gatewayContext bounds an outbound provider call by the configured timeout.
func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.tunables.Get().GatewayTimeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) fallbackWindowDays() int {
	days := s.tunables.Get().FallbackWindowDays
	if days <= 0 {
		days = domain.DefaultFallbackWindowDays
	}
	return days
}

func (s *Service) recordTransition(ctx context.Context, from, to domain.State) {
	if s.metrics != nil {
		s.metrics.RecordTransition(ctx, string(from), string(to))
	}
}

func (s *Service) CreatePurchase(ctx context.Context, req domain.CreatePurchaseRequest) (*domain.PurchaseSession, error) {
	if !req.Owner.Valid() {
		return nil, domain.ErrInvalidOwner
	}
	productRef := strings.TrimSpace(req.ProductRef)
	if productRef == "" {
		return nil, plandomain.ErrInvalidProduct
	}
	if s.gateway == nil {
		return nil, paymentdomain.ErrNotConfigured
	}

	plan, err := s.plans.FindByProductRef(ctx, s.db, productRef)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}

	now := s.clock.Now()
	active, err := s.repo.FindActiveByOwnerPlan(ctx, s.db, req.Owner, plan.ID, now)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, domain.ErrActiveEntitlementExists
	}

	meta := paymentdomain.IntentMetadata{
		UserID:     req.Owner.UserID,
		DeviceID:   req.Owner.DeviceID,
		PlanID:     plan.ID,
		ProductRef: plan.ProductRef,
	}

	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	customer, err := s.gateway.EnsureCustomer(gctx, req.Email, meta)
	if err != nil {
		s.recordGatewayCall(ctx, "ensure_customer", false)
		return nil, err
	}
	s.recordGatewayCall(ctx, "ensure_customer", true)

	intent, err := s.gateway.CreatePurchaseIntent(gctx, paymentdomain.IntentRequest{
		Customer:       customer,
		Amount:         plan.Price,
		Currency:       plan.Currency,
		Metadata:       meta,
		IdempotencyKey: fmt.Sprintf("fv-purchase-%s", s.genID.Generate()),
	})
	if err != nil {
		s.recordGatewayCall(ctx, "create_intent", false)
		return nil, err
	}
	s.recordGatewayCall(ctx, "create_intent", true)

	// The pending row is written only after the remote intent id is known,
	// so a timed-out provider call never leaves an orphan behind.
	transactionRef := intent.Ref
	ent := domain.Entitlement{
		ID:              s.genID.Generate(),
		UserID:          req.Owner.UserID,
		DeviceID:        req.Owner.DeviceID,
		PlanID:          plan.ID,
		ProductRef:      plan.ProductRef,
		Currency:        plan.Currency,
		BillingInterval: plan.BillingInterval,
		IntervalCount:   plan.IntervalCount,
		TransactionRef:  &transactionRef,
		State:           domain.StatePending,
		AutoRenew:       plan.BillingInterval.Valid(),
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, &ent); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// A retried request already recorded this intent; the fresh
			// client secret is still the right thing to hand back.
			s.log.Info("purchase intent already recorded",
				zap.String("transaction_ref", transactionRef),
			)
			return &domain.PurchaseSession{
				ClientSecret: intent.ClientSecret,
				IntentRef:    intent.Ref,
				Plan:         *plan,
			}, nil
		}
		return nil, err
	}

	s.log.Info("purchase created",
		zap.String("entitlement_id", ent.ID.String()),
		zap.String("owner", req.Owner.String()),
		zap.String("product_ref", plan.ProductRef),
		zap.String("transaction_ref", transactionRef),
	)

	return &domain.PurchaseSession{
		ClientSecret: intent.ClientSecret,
		IntentRef:    intent.Ref,
		Plan:         *plan,
	}, nil
}

func (s *Service) recordGatewayCall(ctx context.Context, operation string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordGatewayCall(ctx, operation, success)
	}
}

// ApplyEvent reconciles one verified gateway event. Events may arrive out of
// order or twice; both resolve to no-ops here, never to errors.
func (s *Service) ApplyEvent(ctx context.Context, event *paymentdomain.Event) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}

	log := s.log.With(
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("kind", string(event.Kind)),
		zap.String("transaction_ref", event.TransactionRef),
	)

	switch event.Kind {
	case paymentdomain.EventPaymentSucceeded:
		return s.applyPaymentSucceeded(ctx, event, log)
	case paymentdomain.EventPaymentFailed:
		return s.applyPaymentFailed(ctx, event, log)
	case paymentdomain.EventInvoicePaid:
		return s.applyInvoicePaid(ctx, event, log)
	case paymentdomain.EventSubscriptionUpdated:
		return s.applySubscriptionUpdated(ctx, event, log)
	case paymentdomain.EventSubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, event, log)
	default:
		log.Info("event kind not reconciled")
		return nil
	}
}

func (s *Service) applyPaymentSucceeded(ctx context.Context, event *paymentdomain.Event, log *zap.Logger) error {
	row, err := s.matchRow(ctx, event)
	if err != nil {
		return err
	}

	if row == nil {
		return s.synthesizeSuccess(ctx, event, log)
	}

	switch row.State {
	case domain.StateInitiated, domain.StatePending:
		start := domain.UTCMidnight(s.clock.Now())
		end := domain.WindowEnd(start, row.BillingInterval, row.IntervalCount, s.fallbackWindowDays())
		method := event.PaymentMethod
		if method == "" {
			method = "card"
		}
		moved, err := s.repo.MarkSucceeded(ctx, s.db, row.ID, event.TransactionRef, method, start, end)
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				// Another delivery already claimed this transaction ref.
				log.Info("transaction already reconciled")
				return nil
			}
			return err
		}
		if !moved {
			// Lost the conditional update: a concurrent delivery resolved
			// the row, or another window for the plan is already active.
			log.Info("payment succeeded resolves to no-op")
			return nil
		}
		s.recordTransition(ctx, row.State, domain.StateSuccess)
		log.Info("entitlement activated",
			zap.String("entitlement_id", row.ID.String()),
			zap.Time("start_at", start),
			zap.Time("end_at", end),
		)
		return nil

	default:
		// Already resolved; duplicate replay is a success to the caller.
		log.Info("payment succeeded on resolved entitlement, no-op",
			zap.String("state", string(row.State)),
		)
		return nil
	}
}

// synthesizeSuccess covers late or out-of-order delivery where no purchase
// row exists for the event: the entitlement is created directly in success,
// denormalizing plan data from the local catalog or, failing that, from the
// provider's product pricing.
func (s *Service) synthesizeSuccess(ctx context.Context, event *paymentdomain.Event, log *zap.Logger) error {
	owner := domain.OwnerRef{UserID: event.UserID, DeviceID: event.DeviceID}
	if owner.Empty() {
		log.Warn("succeeded payment carries no owner, cannot attribute")
		return nil
	}

	var plan *plandomain.Plan
	var err error
	if event.ProductRef != "" {
		plan, err = s.plans.FindByProductRef(ctx, s.db, event.ProductRef)
		if err != nil {
			return err
		}
	}
	if plan == nil && event.PlanID != nil {
		plan, err = s.plans.FindByID(ctx, s.db, *event.PlanID)
		if err != nil {
			return err
		}
	}

	interval := plandomain.Interval("")
	intervalCount := 1
	currency := event.Currency
	planID := snowflake.ID(0)
	productRef := event.ProductRef

	switch {
	case plan != nil:
		interval = plan.BillingInterval
		intervalCount = plan.IntervalCount
		currency = plan.Currency
		planID = plan.ID
		productRef = plan.ProductRef
	case s.gateway != nil && event.ProductRef != "":
		gctx, cancel := s.gatewayContext(ctx)
		pricing, err := s.gateway.GetProductPricing(gctx, event.ProductRef)
		cancel()
		if err != nil {
			s.recordGatewayCall(ctx, "get_product_pricing", false)
			return err
		}
		s.recordGatewayCall(ctx, "get_product_pricing", true)
		if pricing.Recurring {
			interval = plandomain.Interval(pricing.Interval)
			intervalCount = pricing.IntervalCount
		}
		if pricing.Currency != "" {
			currency = pricing.Currency
		}
		productRef = pricing.ProductRef
	}

	if event.PlanID != nil {
		planID = *event.PlanID
	}

	now := s.clock.Now()
	start := domain.UTCMidnight(now)
	end := domain.WindowEnd(start, interval, intervalCount, s.fallbackWindowDays())
	method := event.PaymentMethod
	if method == "" {
		method = "card"
	}
	transactionRef := event.TransactionRef

	ent := domain.Entitlement{
		ID:              s.genID.Generate(),
		UserID:          owner.UserID,
		DeviceID:        owner.DeviceID,
		PlanID:          planID,
		ProductRef:      productRef,
		Currency:        currency,
		BillingInterval: interval,
		IntervalCount:   intervalCount,
		PaymentMethod:   method,
		State:           domain.StateSuccess,
		StartAt:         &start,
		EndAt:           &end,
		AutoRenew:       interval.Valid(),
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if transactionRef != "" {
		ent.TransactionRef = &transactionRef
	}

	inserted, err := s.repo.InsertUnlessActive(ctx, s.db, &ent)
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// A concurrent delivery synthesized or resolved it first.
			log.Info("transaction already reconciled")
			return nil
		}
		return err
	}
	if !inserted {
		log.Info("active window already covers this plan, no-op")
		return nil
	}

	s.recordTransition(ctx, domain.StatePending, domain.StateSuccess)
	log.Info("entitlement synthesized from late event",
		zap.String("entitlement_id", ent.ID.String()),
		zap.String("owner", owner.String()),
		zap.Time("end_at", end),
	)
	return nil
}

func (s *Service) applyPaymentFailed(ctx context.Context, event *paymentdomain.Event, log *zap.Logger) error {
	row, err := s.matchRow(ctx, event)
	if err != nil {
		return err
	}
	if row == nil {
		log.Info("failed payment matches no entitlement, no-op")
		return nil
	}

	moved, err := s.repo.MarkFailed(ctx, s.db, row.ID, domain.EntryStates)
	if err != nil {
		return err
	}
	if !moved {
		log.Info("payment failed on resolved entitlement, no-op",
			zap.String("state", string(row.State)),
		)
		return nil
	}
	s.recordTransition(ctx, row.State, domain.StateFailed)
	log.Info("entitlement failed", zap.String("entitlement_id", row.ID.String()))
	return nil
}

func (s *Service) applyInvoicePaid(ctx context.Context, event *paymentdomain.Event, log *zap.Logger) error {
	row, err := s.matchRow(ctx, event)
	if err != nil {
		return err
	}
	if row == nil {
		// A recurring charge for a subscription this store never saw:
		// synthesize, same as a late succeeded payment.
		return s.synthesizeSuccess(ctx, event, log)
	}

	// Cancelled and expired rows are never resurrected by a late invoice.
	if row.State != domain.StateInitiated && row.State != domain.StatePending && row.State != domain.StateSuccess {
		log.Info("invoice paid on terminal entitlement, no-op",
			zap.String("state", string(row.State)),
		)
		return nil
	}

	now := s.clock.Now()
	var newEnd time.Time
	if event.PeriodEnd != nil {
		newEnd = event.PeriodEnd.UTC()
	} else {
		start := domain.UTCMidnight(now)
		newEnd = domain.WindowEnd(start, row.BillingInterval, row.IntervalCount, s.fallbackWindowDays())
	}

	if row.State == domain.StateSuccess {
		moved, err := s.repo.ExtendPeriod(ctx, s.db, row.ID, newEnd)
		if err != nil {
			return err
		}
		if !moved {
			// Monotonic guard: the stored window already reaches further.
			log.Info("invoice paid does not extend window, no-op")
			return nil
		}
		log.Info("entitlement window extended",
			zap.String("entitlement_id", row.ID.String()),
			zap.Time("end_at", newEnd),
		)
		return nil
	}

	// Entry-state row: the invoice is the first confirmation of payment.
	start := domain.UTCMidnight(now)
	method := event.PaymentMethod
	if method == "" {
		method = row.PaymentMethod
	}
	transactionRef := event.TransactionRef
	if transactionRef == "" && row.TransactionRef != nil {
		transactionRef = *row.TransactionRef
	}
	moved, err := s.repo.MarkSucceeded(ctx, s.db, row.ID, transactionRef, method, start, newEnd)
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			log.Info("transaction already reconciled")
			return nil
		}
		return err
	}
	if !moved {
		log.Info("invoice paid replayed, no-op")
		return nil
	}
	s.recordTransition(ctx, row.State, domain.StateSuccess)
	log.Info("entitlement activated by invoice",
		zap.String("entitlement_id", row.ID.String()),
		zap.Time("end_at", newEnd),
	)
	return nil
}

func (s *Service) applySubscriptionUpdated(ctx context.Context, event *paymentdomain.Event, log *zap.Logger) error {
	status := strings.ToLower(strings.TrimSpace(event.RemoteStatus))
	if status == "" || status == "active" || status == "trialing" {
		log.Info("subscription status carries no transition, no-op",
			zap.String("remote_status", status),
		)
		return nil
	}

	row, err := s.matchRow(ctx, event)
	if err != nil {
		return err
	}
	if row == nil {
		log.Info("subscription update matches no entitlement, no-op")
		return nil
	}

	moved, err := s.repo.MarkFailed(ctx, s.db, row.ID,
		[]domain.State{domain.StateInitiated, domain.StatePending, domain.StateSuccess},
	)
	if err != nil {
		return err
	}
	if !moved {
		log.Info("subscription update on resolved entitlement, no-op",
			zap.String("state", string(row.State)),
		)
		return nil
	}
	s.recordTransition(ctx, row.State, domain.StateFailed)
	log.Info("entitlement failed by remote status",
		zap.String("entitlement_id", row.ID.String()),
		zap.String("remote_status", status),
	)
	return nil
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, event *paymentdomain.Event, log *zap.Logger) error {
	row, err := s.matchRow(ctx, event)
	if err != nil {
		return err
	}
	if row == nil {
		log.Info("subscription delete matches no entitlement, no-op")
		return nil
	}

	now := s.clock.Now().UTC()
	moved, err := s.repo.MarkExpired(ctx, s.db, row.ID, now)
	if err != nil {
		return err
	}
	if !moved {
		log.Info("subscription delete on non-success entitlement, no-op",
			zap.String("state", string(row.State)),
		)
		return nil
	}
	s.recordTransition(ctx, row.State, domain.StateExpired)
	log.Info("entitlement expired by subscription delete",
		zap.String("entitlement_id", row.ID.String()),
	)
	return nil
}

// matchRow resolves the entitlement an event is about: by unique transaction
// reference first, then by the owner/product carried in metadata.
func (s *Service) matchRow(ctx context.Context, event *paymentdomain.Event) (*domain.Entitlement, error) {
	if event.TransactionRef != "" {
		row, err := s.repo.FindByTransactionRef(ctx, s.db, event.TransactionRef)
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
	}

	owner := domain.OwnerRef{UserID: event.UserID, DeviceID: event.DeviceID}
	if owner.Empty() {
		return nil, nil
	}

	if event.ProductRef != "" {
		row, err := s.repo.FindPendingByOwnerProduct(ctx, s.db, owner, event.ProductRef)
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
	}

	if event.PlanID != nil {
		return s.repo.FindActiveByOwnerPlan(ctx, s.db, owner, *event.PlanID, s.clock.Now())
	}
	return s.repo.FindActiveByOwner(ctx, s.db, owner, s.clock.Now())
}

func (s *Service) Cancel(ctx context.Context, owner domain.OwnerRef) error {
	if owner.Empty() {
		return domain.ErrInvalidOwner
	}

	active, err := s.repo.FindActiveByOwner(ctx, s.db, owner, s.clock.Now())
	if err != nil {
		return err
	}
	if active == nil {
		return domain.ErrNoActiveEntitlement
	}

	if s.gateway != nil && active.TransactionRef != nil && *active.TransactionRef != "" {
		gctx, cancel := s.gatewayContext(ctx)
		err := s.gateway.CancelRecurring(gctx, *active.TransactionRef)
		cancel()
		if err != nil && !errors.Is(err, paymentdomain.ErrRemoteNotFound) {
			s.recordGatewayCall(ctx, "cancel_recurring", false)
			return err
		}
		s.recordGatewayCall(ctx, "cancel_recurring", true)
	}

	moved, err := s.repo.MarkCancelled(ctx, s.db, active.ID)
	if err != nil {
		return err
	}
	if !moved {
		// A concurrent transition beat us; the remote cancel stands either way.
		s.log.Info("cancel raced a concurrent transition, no-op",
			zap.String("entitlement_id", active.ID.String()),
		)
		return nil
	}
	s.recordTransition(ctx, domain.StateSuccess, domain.StateCancelled)
	s.log.Info("entitlement cancelled",
		zap.String("entitlement_id", active.ID.String()),
		zap.String("owner", owner.String()),
	)
	return nil
}

func (s *Service) Active(ctx context.Context, owner domain.OwnerRef) (*domain.Entitlement, error) {
	if owner.Empty() {
		return nil, domain.ErrInvalidOwner
	}
	return s.repo.FindActiveByOwner(ctx, s.db, owner, s.clock.Now())
}

func (s *Service) History(ctx context.Context, owner domain.OwnerRef, p pagination.Pagination) ([]domain.Entitlement, pagination.PageInfo, error) {
	if owner.Empty() {
		return nil, pagination.PageInfo{}, domain.ErrInvalidOwner
	}
	return s.repo.ListByOwner(ctx, s.db, owner, p)
}

func (s *Service) ClaimDevice(ctx context.Context, deviceID string, userID snowflake.ID) (int64, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || userID == 0 {
		return 0, domain.ErrInvalidOwner
	}
	claimed, err := s.repo.ClaimByDevice(ctx, s.db, deviceID, userID)
	if err != nil {
		return 0, err
	}
	if claimed > 0 {
		s.log.Info("device entitlements claimed",
			zap.String("device_id", deviceID),
			zap.String("user_id", userID.String()),
			zap.Int64("claimed", claimed),
		)
	}
	return claimed, nil
}

func (s *Service) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	expired, err := s.repo.ExpireOverdue(ctx, s.db, now)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("entitlements expired", zap.Int64("expired", expired))
	}
	return expired, nil
}

package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fastingvibe/api/internal/clock"
	"github.com/fastingvibe/api/internal/config"
	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"
	entitlementrepo "github.com/fastingvibe/api/internal/entitlement/repository"
	entitlementservice "github.com/fastingvibe/api/internal/entitlement/service"
	paymentdomain "github.com/fastingvibe/api/internal/payment/domain"
	plandomain "github.com/fastingvibe/api/internal/plan/domain"
	planrepo "github.com/fastingvibe/api/internal/plan/repository"
	"github.com/fastingvibe/api/pkg/db/pagination"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockGateway struct {
	customers int
	intents   int
	cancelled []string
	pricing   *paymentdomain.ProductPricing
	intentErr error
	cancelErr error
}

func (m *mockGateway) EnsureCustomer(ctx context.Context, email string, meta paymentdomain.IntentMetadata) (paymentdomain.CustomerRef, error) {
	m.customers++
	return "cus_test", nil
}

func (m *mockGateway) CreatePurchaseIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.Intent, error) {
	if m.intentErr != nil {
		return nil, m.intentErr
	}
	m.intents++
	ref := fmt.Sprintf("pi_test_%d", m.intents)
	return &paymentdomain.Intent{
		Ref:          ref,
		ClientSecret: ref + "_secret",
		Status:       "requires_payment_method",
		Amount:       req.Amount,
		Currency:     req.Currency,
	}, nil
}

func (m *mockGateway) GetProductPricing(ctx context.Context, productRef string) (*paymentdomain.ProductPricing, error) {
	if m.pricing == nil {
		return nil, paymentdomain.ErrRemoteNotFound
	}
	return m.pricing, nil
}

func (m *mockGateway) UpdateDefaultPrice(ctx context.Context, productRef string, amount int64) (*paymentdomain.ProductPricing, error) {
	return &paymentdomain.ProductPricing{ProductRef: productRef, Amount: amount}, nil
}

func (m *mockGateway) CancelRecurring(ctx context.Context, transactionRef string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, transactionRef)
	return nil
}

type fixture struct {
	svc     entitlementdomain.Service
	db      *gorm.DB
	clk     *clock.FakeClock
	gateway *mockGateway
	node    *snowflake.Node
	plan    plandomain.Plan
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&plandomain.Plan{}, &entitlementdomain.Entitlement{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC))
	gateway := &mockGateway{}

	plan := plandomain.Plan{
		ID:              node.Generate(),
		ProductRef:      "prod_monthly",
		Name:            "Monthly",
		Price:           999,
		Currency:        "USD",
		BillingInterval: plandomain.IntervalMonth,
		IntervalCount:   1,
		CreatedAt:       clk.Now(),
		UpdatedAt:       clk.Now(),
	}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}

	svc := entitlementservice.New(entitlementservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     entitlementrepo.Provide(),
		Plans:    planrepo.Provide(),
		Gateway:  gateway,
		Clock:    clk,
		Tunables: config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig()),
	})

	return &fixture{svc: svc, db: db, clk: clk, gateway: gateway, node: node, plan: plan}
}

func (f *fixture) userOwner(t *testing.T) entitlementdomain.OwnerRef {
	t.Helper()
	id := f.node.Generate()
	return entitlementdomain.OwnerRef{UserID: &id}
}

func (f *fixture) succeededEvent(owner entitlementdomain.OwnerRef, transactionRef string) *paymentdomain.Event {
	planID := f.plan.ID
	return &paymentdomain.Event{
		Provider:        "stripe",
		ProviderEventID: "evt_" + transactionRef,
		Kind:            paymentdomain.EventPaymentSucceeded,
		TransactionRef:  transactionRef,
		UserID:          owner.UserID,
		DeviceID:        owner.DeviceID,
		PlanID:          &planID,
		ProductRef:      f.plan.ProductRef,
		Amount:          999,
		Currency:        "USD",
		PaymentMethod:   "card",
		OccurredAt:      f.clk.Now(),
	}
}

func (f *fixture) rowCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&entitlementdomain.Entitlement{}).Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}

func (f *fixture) rowByTransactionRef(t *testing.T, ref string) *entitlementdomain.Entitlement {
	t.Helper()
	var ent entitlementdomain.Entitlement
	if err := f.db.Where("transaction_ref = ?", ref).First(&ent).Error; err != nil {
		t.Fatalf("load row %s: %v", ref, err)
	}
	return &ent
}

func TestPurchaseThenSuccessScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner:      owner,
		Email:      "u1@example.com",
		ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if session.ClientSecret == "" || session.IntentRef == "" {
		t.Fatalf("expected session with secret and intent ref, got %+v", session)
	}

	row := f.rowByTransactionRef(t, session.IntentRef)
	if row.State != entitlementdomain.StatePending {
		t.Fatalf("expected pending after purchase, got %s", row.State)
	}
	if row.StartAt != nil || row.EndAt != nil {
		t.Fatalf("expected no window while pending")
	}

	event := f.succeededEvent(owner, session.IntentRef)
	if err := f.svc.ApplyEvent(ctx, event); err != nil {
		t.Fatalf("apply succeeded event: %v", err)
	}

	row = f.rowByTransactionRef(t, session.IntentRef)
	if row.State != entitlementdomain.StateSuccess {
		t.Fatalf("expected success, got %s", row.State)
	}
	wantStart := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2023, 7, 15, 0, 0, 0, 0, time.UTC)
	if row.StartAt == nil || !row.StartAt.UTC().Equal(wantStart) {
		t.Fatalf("expected start %s, got %v", wantStart, row.StartAt)
	}
	if row.EndAt == nil || !row.EndAt.UTC().Equal(wantEnd) {
		t.Fatalf("expected end %s, got %v", wantEnd, row.EndAt)
	}

	// Duplicate delivery: no second row, no state change.
	for i := 0; i < 3; i++ {
		if err := f.svc.ApplyEvent(ctx, event); err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
	}
	if got := f.rowCount(t); got != 1 {
		t.Fatalf("expected one row after replays, got %d", got)
	}
	replayed := f.rowByTransactionRef(t, session.IntentRef)
	if replayed.State != entitlementdomain.StateSuccess || !replayed.EndAt.Equal(*row.EndAt) {
		t.Fatalf("expected replay to be a no-op")
	}

	active, err := f.svc.Active(ctx, owner)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active == nil || active.ID != row.ID {
		t.Fatalf("expected canonical predicate to find the row")
	}
}

func TestCreatePurchaseOverlapGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, session.IntentRef)); err != nil {
		t.Fatalf("apply event: %v", err)
	}

	_, err = f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != entitlementdomain.ErrActiveEntitlementExists {
		t.Fatalf("expected overlap guard, got %v", err)
	}
}

func TestSynthesizedSuccessForUnknownPurchase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	// No purchase request ever recorded; the event still grants access.
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, "pi_unseen")); err != nil {
		t.Fatalf("apply event: %v", err)
	}

	row := f.rowByTransactionRef(t, "pi_unseen")
	if row.State != entitlementdomain.StateSuccess {
		t.Fatalf("expected synthesized success, got %s", row.State)
	}
	if row.ProductRef != f.plan.ProductRef || row.PlanID != f.plan.ID {
		t.Fatalf("expected plan denormalized onto synthesized row")
	}
	if row.EndAt == nil {
		t.Fatalf("expected synthesized window")
	}
}

func TestInvoicePaidExtendsMonotonically(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, session.IntentRef)); err != nil {
		t.Fatalf("apply event: %v", err)
	}

	later := time.Date(2023, 8, 15, 0, 0, 0, 0, time.UTC)
	invoice := f.succeededEvent(owner, session.IntentRef)
	invoice.Kind = paymentdomain.EventInvoicePaid
	invoice.PeriodEnd = &later
	if err := f.svc.ApplyEvent(ctx, invoice); err != nil {
		t.Fatalf("apply invoice: %v", err)
	}
	row := f.rowByTransactionRef(t, session.IntentRef)
	if row.EndAt == nil || !row.EndAt.UTC().Equal(later) {
		t.Fatalf("expected window extended to %s, got %v", later, row.EndAt)
	}

	// An out-of-order invoice with an earlier period end never moves the
	// window backward.
	earlier := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	stale := f.succeededEvent(owner, session.IntentRef)
	stale.Kind = paymentdomain.EventInvoicePaid
	stale.PeriodEnd = &earlier
	if err := f.svc.ApplyEvent(ctx, stale); err != nil {
		t.Fatalf("apply stale invoice: %v", err)
	}
	row = f.rowByTransactionRef(t, session.IntentRef)
	if !row.EndAt.UTC().Equal(later) {
		t.Fatalf("expected window to stay at %s, got %v", later, row.EndAt)
	}
}

func TestInvoicePaidNeverResurrectsCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, session.IntentRef)); err != nil {
		t.Fatalf("apply event: %v", err)
	}
	if err := f.svc.Cancel(ctx, owner); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	later := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	invoice := f.succeededEvent(owner, session.IntentRef)
	invoice.Kind = paymentdomain.EventInvoicePaid
	invoice.PeriodEnd = &later
	if err := f.svc.ApplyEvent(ctx, invoice); err != nil {
		t.Fatalf("apply invoice: %v", err)
	}

	row := f.rowByTransactionRef(t, session.IntentRef)
	if row.State != entitlementdomain.StateCancelled {
		t.Fatalf("expected cancelled to stay terminal, got %s", row.State)
	}
}

func TestPaymentFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	event := f.succeededEvent(owner, session.IntentRef)
	event.Kind = paymentdomain.EventPaymentFailed
	if err := f.svc.ApplyEvent(ctx, event); err != nil {
		t.Fatalf("apply failed event: %v", err)
	}

	row := f.rowByTransactionRef(t, session.IntentRef)
	if row.State != entitlementdomain.StateFailed {
		t.Fatalf("expected failed, got %s", row.State)
	}
	if row.StartAt != nil || row.EndAt != nil {
		t.Fatalf("expected no window on failed entitlement")
	}
}

func TestSubscriptionLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, session.IntentRef)); err != nil {
		t.Fatalf("apply event: %v", err)
	}

	// An active remote status carries no transition.
	update := f.succeededEvent(owner, session.IntentRef)
	update.Kind = paymentdomain.EventSubscriptionUpdated
	update.RemoteStatus = "active"
	if err := f.svc.ApplyEvent(ctx, update); err != nil {
		t.Fatalf("apply active update: %v", err)
	}
	if row := f.rowByTransactionRef(t, session.IntentRef); row.State != entitlementdomain.StateSuccess {
		t.Fatalf("expected success after active update, got %s", row.State)
	}

	deleted := f.succeededEvent(owner, session.IntentRef)
	deleted.Kind = paymentdomain.EventSubscriptionDeleted
	if err := f.svc.ApplyEvent(ctx, deleted); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	row := f.rowByTransactionRef(t, session.IntentRef)
	if row.State != entitlementdomain.StateExpired {
		t.Fatalf("expected expired after delete, got %s", row.State)
	}
	if row.EndAt == nil || !row.EndAt.UTC().Equal(f.clk.Now().UTC()) {
		t.Fatalf("expected window closed at now, got %v", row.EndAt)
	}
}

func TestSubscriptionUpdatedInactiveFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}

	update := f.succeededEvent(owner, session.IntentRef)
	update.Kind = paymentdomain.EventSubscriptionUpdated
	update.RemoteStatus = "past_due"
	if err := f.svc.ApplyEvent(ctx, update); err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if row := f.rowByTransactionRef(t, session.IntentRef); row.State != entitlementdomain.StateFailed {
		t.Fatalf("expected failed after past_due update, got %s", row.State)
	}
}

func TestCancelIsTerminalSoft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, session.IntentRef)); err != nil {
		t.Fatalf("apply event: %v", err)
	}

	if err := f.svc.Cancel(ctx, owner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(f.gateway.cancelled) != 1 || f.gateway.cancelled[0] != session.IntentRef {
		t.Fatalf("expected remote cancel for %s, got %v", session.IntentRef, f.gateway.cancelled)
	}

	row := f.rowByTransactionRef(t, session.IntentRef)
	if row.State != entitlementdomain.StateCancelled {
		t.Fatalf("expected cancelled, got %s", row.State)
	}

	// The record survives as billing history.
	history, _, err := f.svc.History(ctx, owner, pagination.Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ID != row.ID {
		t.Fatalf("expected cancelled row in history")
	}

	// A second cancel finds nothing active.
	if err := f.svc.Cancel(ctx, owner); err != entitlementdomain.ErrNoActiveEntitlement {
		t.Fatalf("expected no active entitlement, got %v", err)
	}

	// A fresh purchase creates a new row rather than reusing the cancelled one.
	second, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}
	if second.IntentRef == session.IntentRef {
		t.Fatalf("expected a new intent for the repurchase")
	}
	if got := f.rowCount(t); got != 2 {
		t.Fatalf("expected two rows after repurchase, got %d", got)
	}
}

func (f *fixture) activeSuccessCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	err := f.db.Model(&entitlementdomain.Entitlement{}).
		Where("plan_id = ?", f.plan.ID).
		Where("state = ?", entitlementdomain.StateSuccess).
		Where("end_at >= ?", f.clk.Now()).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count active rows: %v", err)
	}
	return count
}

func TestNoOverlappingActiveWindows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	// Two intents created before either has settled: both pass the purchase
	// guard because no success row exists yet.
	first, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	second, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}

	// Both intents settle; only one may open an active window.
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, first.IntentRef)); err != nil {
		t.Fatalf("settle first: %v", err)
	}
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, second.IntentRef)); err != nil {
		t.Fatalf("settle second: %v", err)
	}

	if got := f.activeSuccessCount(t); got != 1 {
		t.Fatalf("expected one active success row, got %d", got)
	}
	if row := f.rowByTransactionRef(t, second.IntentRef); row.State == entitlementdomain.StateSuccess {
		t.Fatalf("expected second intent to lose the success transition")
	}

	// A further succeeded event for the same plan cannot open a second
	// window either.
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, "pi_late")); err != nil {
		t.Fatalf("apply late event: %v", err)
	}
	if got := f.activeSuccessCount(t); got != 1 {
		t.Fatalf("expected one active success row after late event, got %d", got)
	}

	// The synthesized-success insert carries the same guard.
	repo := entitlementrepo.Provide()
	start := f.clk.Now()
	end := start.Add(30 * 24 * time.Hour)
	ref := "pi_synth"
	inserted, err := repo.InsertUnlessActive(ctx, f.db, &entitlementdomain.Entitlement{
		ID:             f.node.Generate(),
		UserID:         owner.UserID,
		PlanID:         f.plan.ID,
		ProductRef:     f.plan.ProductRef,
		TransactionRef: &ref,
		State:          entitlementdomain.StateSuccess,
		StartAt:        &start,
		EndAt:          &end,
		CreatedAt:      start,
		UpdatedAt:      start,
	})
	if err != nil {
		t.Fatalf("insert unless active: %v", err)
	}
	if inserted {
		t.Fatalf("expected insert blocked by the existing active window")
	}
	if got := f.activeSuccessCount(t); got != 1 {
		t.Fatalf("expected one active success row after blocked insert, got %d", got)
	}
}

func TestCancelToleratesMissingRemoteSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, session.IntentRef)); err != nil {
		t.Fatalf("apply event: %v", err)
	}

	// The provider answers not-found wrapped in call context; the local
	// cancellation still completes.
	f.gateway.cancelErr = fmt.Errorf("cancel subscription: %w", paymentdomain.ErrRemoteNotFound)
	if err := f.svc.Cancel(ctx, owner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if row := f.rowByTransactionRef(t, session.IntentRef); row.State != entitlementdomain.StateCancelled {
		t.Fatalf("expected cancelled, got %s", row.State)
	}
}

func TestHistoryClampsPageSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.node.Generate()
	owner := entitlementdomain.OwnerRef{UserID: &userID}

	base := f.clk.Now().Add(-30 * 24 * time.Hour)
	for i := 0; i < 260; i++ {
		ent := entitlementdomain.Entitlement{
			ID:         f.node.Generate(),
			UserID:     &userID,
			PlanID:     f.plan.ID,
			ProductRef: f.plan.ProductRef,
			State:      entitlementdomain.StateFailed,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
			UpdatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := f.db.Create(&ent).Error; err != nil {
			t.Fatalf("seed row %d: %v", i, err)
		}
	}

	history, info, err := f.svc.History(ctx, owner, pagination.Pagination{PageSize: 100000})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != pagination.MaxPageSize {
		t.Fatalf("expected page clamped to %d rows, got %d", pagination.MaxPageSize, len(history))
	}
	if !info.HasMore || info.NextPageToken == "" {
		t.Fatalf("expected a next page after the clamped one")
	}
}

func TestExpireOverdue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.userOwner(t)

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: owner, Email: "u@example.com", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(owner, session.IntentRef)); err != nil {
		t.Fatalf("apply event: %v", err)
	}

	f.clk.Advance(45 * 24 * time.Hour)
	expired, err := f.svc.ExpireOverdue(ctx, f.clk.Now())
	if err != nil {
		t.Fatalf("expire overdue: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected one expired row, got %d", expired)
	}
	if row := f.rowByTransactionRef(t, session.IntentRef); row.State != entitlementdomain.StateExpired {
		t.Fatalf("expected expired, got %s", row.State)
	}

	active, err := f.svc.Active(ctx, owner)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active entitlement after sweep")
	}
}

func TestClaimDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	deviceOwner := entitlementdomain.OwnerRef{DeviceID: "device-123"}

	session, err := f.svc.CreatePurchase(ctx, entitlementdomain.CreatePurchaseRequest{
		Owner: deviceOwner, Email: "", ProductRef: f.plan.ProductRef,
	})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	if err := f.svc.ApplyEvent(ctx, f.succeededEvent(deviceOwner, session.IntentRef)); err != nil {
		t.Fatalf("apply event: %v", err)
	}

	userID := f.node.Generate()
	claimed, err := f.svc.ClaimDevice(ctx, "device-123", userID)
	if err != nil {
		t.Fatalf("claim device: %v", err)
	}
	if claimed != 1 {
		t.Fatalf("expected one claimed row, got %d", claimed)
	}

	// The claimed row now answers the user's entitlement check.
	active, err := f.svc.Active(ctx, entitlementdomain.OwnerRef{UserID: &userID})
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active == nil {
		t.Fatalf("expected claimed entitlement to be active for the user")
	}
	if active.DeviceID != "device-123" {
		t.Fatalf("expected device id retained on claimed row")
	}
}

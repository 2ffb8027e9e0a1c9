package service

import (
	"context"
	"strings"
	"time"

	paymentdomain "github.com/fastingvibe/api/internal/payment/domain"
	"github.com/fastingvibe/api/internal/plan/domain"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Gateway paymentdomain.Gateway `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	genID   *snowflake.Node
	gateway paymentdomain.Gateway
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("plan.service"),
		repo:    p.Repo,
		genID:   p.GenID,
		gateway: p.Gateway,
	}
}

func (s *Service) Get(ctx context.Context, planID string) (domain.Plan, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(planID))
	if err != nil {
		return domain.Plan{}, domain.ErrNotFound
	}

	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrNotFound
	}
	return *plan, nil
}

func (s *Service) GetByProductRef(ctx context.Context, productRef string) (domain.Plan, error) {
	productRef = strings.TrimSpace(productRef)
	if productRef == "" {
		return domain.Plan{}, domain.ErrInvalidProduct
	}

	plan, err := s.repo.FindByProductRef(ctx, s.db, productRef)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrNotFound
	}
	return *plan, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Plan, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) Create(ctx context.Context, req domain.CreatePlanRequest) (domain.Plan, error) {
	productRef := strings.TrimSpace(req.ProductRef)
	if productRef == "" {
		return domain.Plan{}, domain.ErrInvalidProduct
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Plan{}, domain.ErrInvalidPlan
	}

	if req.Price <= 0 {
		return domain.Plan{}, domain.ErrInvalidPrice
	}

	interval := req.BillingInterval
	if interval == "" {
		interval = domain.IntervalMonth
	}
	if !interval.Valid() {
		return domain.Plan{}, domain.ErrInvalidInterval
	}

	intervalCount := req.IntervalCount
	if intervalCount <= 0 {
		intervalCount = 1
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	existing, err := s.repo.FindByProductRef(ctx, s.db, productRef)
	if err != nil {
		return domain.Plan{}, err
	}
	if existing != nil {
		return domain.Plan{}, domain.ErrPlanExists
	}

	now := time.Now().UTC()
	plan := domain.Plan{
		ID:              s.genID.Generate(),
		ProductRef:      productRef,
		Name:            name,
		Price:           req.Price,
		Currency:        currency,
		BillingInterval: interval,
		IntervalCount:   intervalCount,
		PriceText:       strings.TrimSpace(req.PriceText),
		Description:     strings.TrimSpace(req.Description),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Insert(ctx, s.db, &plan); err != nil {
		return domain.Plan{}, err
	}

	s.log.Info("plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("product_ref", plan.ProductRef),
	)
	return plan, nil
}

func (s *Service) UpdatePrice(ctx context.Context, req domain.UpdatePriceRequest) (domain.Plan, error) {
	productRef := strings.TrimSpace(req.ProductRef)
	if productRef == "" {
		return domain.Plan{}, domain.ErrInvalidProduct
	}
	if req.NewPrice <= 0 {
		return domain.Plan{}, domain.ErrInvalidPrice
	}

	plan, err := s.repo.FindByProductRef(ctx, s.db, productRef)
	if err != nil {
		return domain.Plan{}, err
	}
	if plan == nil {
		return domain.Plan{}, domain.ErrNotFound
	}

	// The provider is the pricing source of truth: re-point its default
	// price first, then mirror the amount locally. A local write without
	// the remote one would charge the old amount on the next renewal.
	if s.gateway != nil {
		pricing, err := s.gateway.UpdateDefaultPrice(ctx, productRef, req.NewPrice)
		if err != nil {
			return domain.Plan{}, err
		}
		s.log.Info("provider default price updated",
			zap.String("product_ref", productRef),
			zap.String("price_ref", pricing.PriceRef),
			zap.Int64("amount", pricing.Amount),
		)
	}

	priceText := strings.TrimSpace(req.PriceText)
	if priceText == "" {
		priceText = plan.PriceText
	}

	updated, err := s.repo.UpdatePrice(ctx, s.db, productRef, req.NewPrice, priceText)
	if err != nil {
		return domain.Plan{}, err
	}
	if !updated {
		return domain.Plan{}, domain.ErrNotFound
	}

	plan.Price = req.NewPrice
	plan.PriceText = priceText
	return *plan, nil
}

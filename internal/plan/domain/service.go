package domain

import (
	"context"
	"errors"
)

type CreatePlanRequest struct {
	ProductRef      string   `json:"product_id"`
	Name            string   `json:"name"`
	Price           int64    `json:"price"`
	Currency        string   `json:"currency"`
	BillingInterval Interval `json:"interval"`
	IntervalCount   int      `json:"interval_count"`
	PriceText       string   `json:"price_text"`
	Description     string   `json:"description,omitempty"`
}

type UpdatePriceRequest struct {
	ProductRef string `json:"productId"`
	NewPrice   int64  `json:"newPrice"`
	PriceText  string `json:"priceText"`
}

type Service interface {
	Get(ctx context.Context, planID string) (Plan, error)
	GetByProductRef(ctx context.Context, productRef string) (Plan, error)
	List(ctx context.Context) ([]Plan, error)
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	// UpdatePrice creates a new recurring price on the provider side,
	// re-points the product default price, then updates the local row.
	UpdatePrice(ctx context.Context, req UpdatePriceRequest) (Plan, error)
}

var (
	ErrNotFound        = errors.New("plan_not_found")
	ErrInvalidPlan     = errors.New("invalid_plan")
	ErrInvalidPrice    = errors.New("invalid_price")
	ErrInvalidProduct  = errors.New("invalid_product")
	ErrInvalidInterval = errors.New("invalid_interval")
	ErrPlanExists      = errors.New("plan_exists")
)

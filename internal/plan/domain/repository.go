package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByProductRef(ctx context.Context, db *gorm.DB, productRef string) (*Plan, error)
	List(ctx context.Context, db *gorm.DB) ([]Plan, error)
	UpdatePrice(ctx context.Context, db *gorm.DB, productRef string, price int64, priceText string) (bool, error)
}

// Package seed bootstraps the plan catalog on first startup.
package seed

import (
	"context"
	"errors"
	"time"

	plandomain "github.com/fastingvibe/api/internal/plan/domain"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var defaultPlans = []plandomain.Plan{
	{
		ProductRef:      "prod_fasting_monthly",
		Name:            "FastingVibe Monthly",
		Price:           999,
		Currency:        "USD",
		BillingInterval: plandomain.IntervalMonth,
		IntervalCount:   1,
		PriceText:       "$9.99 / month",
		Description:     "Full access, billed monthly.",
	},
	{
		ProductRef:      "prod_fasting_quarterly",
		Name:            "FastingVibe Quarterly",
		Price:           2499,
		Currency:        "USD",
		BillingInterval: plandomain.IntervalMonth,
		IntervalCount:   3,
		PriceText:       "$24.99 / 3 months",
		Description:     "Full access, billed every three months.",
	},
	{
		ProductRef:      "prod_fasting_yearly",
		Name:            "FastingVibe Yearly",
		Price:           7999,
		Currency:        "USD",
		BillingInterval: plandomain.IntervalYear,
		IntervalCount:   1,
		PriceText:       "$79.99 / year",
		Description:     "Full access, billed yearly.",
	},
}

// EnsureDefaultPlans inserts the default catalog rows that do not exist yet.
// Existing rows are left untouched; price changes go through the admin API.
func EnsureDefaultPlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, plan := range defaultPlans {
			var count int64
			if err := tx.Model(&plandomain.Plan{}).
				Where("product_ref = ?", plan.ProductRef).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			now := time.Now().UTC()
			plan.ID = node.Generate()
			plan.CreatedAt = now
			plan.UpdatedAt = now
			if err := tx.Create(&plan).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

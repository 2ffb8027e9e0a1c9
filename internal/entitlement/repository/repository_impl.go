package repository

import (
	"context"
	"errors"
	"time"

	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"
	"github.com/fastingvibe/api/pkg/db/pagination"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() entitlementdomain.Repository {
	return &repo{}
}

// ownerScope matches rows by either owner dimension so claimed rows stay
// visible to both the user and the original device.
func ownerScope(db *gorm.DB, owner entitlementdomain.OwnerRef) *gorm.DB {
	hasUser := owner.UserID != nil && *owner.UserID != 0
	hasDevice := owner.DeviceID != ""
	switch {
	case hasUser && hasDevice:
		return db.Where("(user_id = ? OR device_id = ?)", *owner.UserID, owner.DeviceID)
	case hasUser:
		return db.Where("user_id = ?", *owner.UserID)
	default:
		return db.Where("device_id = ?", owner.DeviceID)
	}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, ent *entitlementdomain.Entitlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO entitlements (
			id, user_id, device_id, plan_id, product_ref, transaction_ref,
			payment_method, state, start_at, end_at, auto_renew,
			currency, billing_interval, interval_count, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ent.ID,
		ent.UserID,
		ent.DeviceID,
		ent.PlanID,
		ent.ProductRef,
		ent.TransactionRef,
		ent.PaymentMethod,
		ent.State,
		ent.StartAt,
		ent.EndAt,
		ent.AutoRenew,
		ent.Currency,
		ent.BillingInterval,
		ent.IntervalCount,
		ent.Metadata,
		ent.CreatedAt,
		ent.UpdatedAt,
	).Error
}

// InsertUnlessActive inserts a success row only when no other success row
// for the same (owner, plan) still reaches past the new window's start.
// Returns false when an existing active window made the insert a no-op.
func (r *repo) InsertUnlessActive(ctx context.Context, db *gorm.DB, ent *entitlementdomain.Entitlement) (bool, error) {
	tx := db.WithContext(ctx).Exec(
		`INSERT INTO entitlements (
			id, user_id, device_id, plan_id, product_ref, transaction_ref,
			payment_method, state, start_at, end_at, auto_renew,
			currency, billing_interval, interval_count, metadata,
			created_at, updated_at
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM entitlements e2
			WHERE e2.plan_id = ?
			AND e2.state = ?
			AND e2.end_at >= ?
			AND ((? IS NOT NULL AND e2.user_id = ?) OR (? <> '' AND e2.device_id = ?))
		)`,
		ent.ID,
		ent.UserID,
		ent.DeviceID,
		ent.PlanID,
		ent.ProductRef,
		ent.TransactionRef,
		ent.PaymentMethod,
		ent.State,
		ent.StartAt,
		ent.EndAt,
		ent.AutoRenew,
		ent.Currency,
		ent.BillingInterval,
		ent.IntervalCount,
		ent.Metadata,
		ent.CreatedAt,
		ent.UpdatedAt,
		ent.PlanID,
		entitlementdomain.StateSuccess,
		ent.StartAt,
		ent.UserID,
		ent.UserID,
		ent.DeviceID,
		ent.DeviceID,
	)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*entitlementdomain.Entitlement, error) {
	var ent entitlementdomain.Entitlement
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ent, nil
}

func (r *repo) FindByTransactionRef(ctx context.Context, db *gorm.DB, transactionRef string) (*entitlementdomain.Entitlement, error) {
	var ent entitlementdomain.Entitlement
	err := db.WithContext(ctx).
		Where("transaction_ref = ?", transactionRef).
		First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ent, nil
}

func (r *repo) FindPendingByOwnerProduct(ctx context.Context, db *gorm.DB, owner entitlementdomain.OwnerRef, productRef string) (*entitlementdomain.Entitlement, error) {
	var ent entitlementdomain.Entitlement
	query := ownerScope(db.WithContext(ctx), owner).
		Where("product_ref = ?", productRef).
		Where("state IN ?", entitlementdomain.EntryStates).
		Order("created_at DESC")
	err := query.First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ent, nil
}

func (r *repo) FindActiveByOwner(ctx context.Context, db *gorm.DB, owner entitlementdomain.OwnerRef, now time.Time) (*entitlementdomain.Entitlement, error) {
	var ent entitlementdomain.Entitlement
	query := ownerScope(db.WithContext(ctx), owner).
		Where("state = ?", entitlementdomain.StateSuccess).
		Where("end_at >= ?", now).
		Order("end_at DESC")
	err := query.First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ent, nil
}

func (r *repo) FindActiveByOwnerPlan(ctx context.Context, db *gorm.DB, owner entitlementdomain.OwnerRef, planID snowflake.ID, now time.Time) (*entitlementdomain.Entitlement, error) {
	var ent entitlementdomain.Entitlement
	query := ownerScope(db.WithContext(ctx), owner).
		Where("plan_id = ?", planID).
		Where("state = ?", entitlementdomain.StateSuccess).
		Where("end_at >= ?", now).
		Order("end_at DESC")
	err := query.First(&ent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ent, nil
}

func (r *repo) ListByOwner(ctx context.Context, db *gorm.DB, owner entitlementdomain.OwnerRef, p pagination.Pagination) ([]entitlementdomain.Entitlement, pagination.PageInfo, error) {
	pageSize := p.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > pagination.MaxPageSize {
		pageSize = pagination.MaxPageSize
	}

	query := ownerScope(db.WithContext(ctx), owner).
		Order("created_at DESC, id DESC").
		Limit(pageSize + 1)

	if p.PageToken != "" {
		cursor, err := pagination.DecodeCursor(p.PageToken)
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var rows []entitlementdomain.Entitlement
	if err := query.Find(&rows).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}

	info := pagination.PageInfo{}
	if len(rows) > pageSize {
		rows = rows[:pageSize]
		last := rows[len(rows)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		info.NextPageToken = token
		info.HasMore = true
	}
	return rows, info, nil
}

func (r *repo) MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionRef, paymentMethod string, startAt, endAt time.Time) (bool, error) {
	// The NOT EXISTS clause enforces the single-active-window rule at the
	// transition itself: when two intents for the same (owner, plan) settle
	// concurrently, only one update matches and the loser resolves as the
	// idempotent no-op.
	tx := db.WithContext(ctx).Exec(
		`UPDATE entitlements
		SET state = ?, transaction_ref = ?, payment_method = ?, start_at = ?, end_at = ?, updated_at = ?
		WHERE id = ? AND state IN ?
		AND NOT EXISTS (
			SELECT 1 FROM entitlements e2
			WHERE e2.id <> entitlements.id
			AND e2.plan_id = entitlements.plan_id
			AND e2.state = ?
			AND e2.end_at >= ?
			AND (
				(entitlements.user_id IS NOT NULL AND e2.user_id = entitlements.user_id)
				OR (entitlements.device_id IS NOT NULL AND entitlements.device_id <> '' AND e2.device_id = entitlements.device_id)
			)
		)`,
		entitlementdomain.StateSuccess,
		transactionRef,
		paymentMethod,
		startAt,
		endAt,
		time.Now().UTC(),
		id,
		entitlementdomain.EntryStates,
		entitlementdomain.StateSuccess,
		startAt,
	)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from []entitlementdomain.State) (bool, error) {
	if len(from) == 0 {
		from = entitlementdomain.EntryStates
	}
	tx := db.WithContext(ctx).Exec(
		`UPDATE entitlements SET state = ?, updated_at = ? WHERE id = ? AND state IN ?`,
		entitlementdomain.StateFailed,
		time.Now().UTC(),
		id,
		from,
	)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repo) ExtendPeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, newEnd time.Time) (bool, error) {
	// The end_at guard keeps the window monotonic under out-of-order
	// delivery: an older invoice event can never pull it backward.
	tx := db.WithContext(ctx).Exec(
		`UPDATE entitlements
		SET state = ?, end_at = ?, updated_at = ?
		WHERE id = ?
		AND state IN ?
		AND (end_at IS NULL OR end_at < ?)`,
		entitlementdomain.StateSuccess,
		newEnd,
		time.Now().UTC(),
		id,
		[]entitlementdomain.State{entitlementdomain.StateInitiated, entitlementdomain.StatePending, entitlementdomain.StateSuccess},
		newEnd,
	)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	tx := db.WithContext(ctx).Exec(
		`UPDATE entitlements SET state = ?, auto_renew = ?, updated_at = ? WHERE id = ? AND state = ?`,
		entitlementdomain.StateCancelled,
		false,
		time.Now().UTC(),
		id,
		entitlementdomain.StateSuccess,
	)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repo) MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, endAt time.Time) (bool, error) {
	tx := db.WithContext(ctx).Exec(
		`UPDATE entitlements SET state = ?, end_at = ?, auto_renew = ?, updated_at = ? WHERE id = ? AND state = ?`,
		entitlementdomain.StateExpired,
		endAt,
		false,
		time.Now().UTC(),
		id,
		entitlementdomain.StateSuccess,
	)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repo) ClaimByDevice(ctx context.Context, db *gorm.DB, deviceID string, userID snowflake.ID) (int64, error) {
	tx := db.WithContext(ctx).Exec(
		`UPDATE entitlements SET user_id = ?, updated_at = ? WHERE device_id = ? AND user_id IS NULL`,
		userID,
		time.Now().UTC(),
		deviceID,
	)
	if tx.Error != nil {
		return 0, tx.Error
	}
	return tx.RowsAffected, nil
}

func (r *repo) ExpireOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	tx := db.WithContext(ctx).Exec(
		`UPDATE entitlements SET state = ?, auto_renew = ?, updated_at = ? WHERE state = ? AND end_at < ?`,
		entitlementdomain.StateExpired,
		false,
		now.UTC(),
		entitlementdomain.StateSuccess,
		now,
	)
	if tx.Error != nil {
		return 0, tx.Error
	}
	return tx.RowsAffected, nil
}

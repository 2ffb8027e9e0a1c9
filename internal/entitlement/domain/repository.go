package domain

import (
	"context"
	"time"

	"github.com/fastingvibe/api/pkg/db/pagination"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the entitlement data-access layer. Conditional mutations
// match on id plus the expected current state and report whether a row moved;
// a false result is the caller's idempotent no-op signal, never an error.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, ent *Entitlement) error
	// InsertUnlessActive inserts a success row unless another success row for
	// the same (owner, plan) already reaches past the new window's start.
	// Returns false when the existing window made the insert a no-op.
	InsertUnlessActive(ctx context.Context, db *gorm.DB, ent *Entitlement) (bool, error)

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entitlement, error)
	FindByTransactionRef(ctx context.Context, db *gorm.DB, transactionRef string) (*Entitlement, error)
	// FindPendingByOwnerProduct locates the newest entry-state row for an
	// owner and product, the row a succeeded-payment event resolves.
	FindPendingByOwnerProduct(ctx context.Context, db *gorm.DB, owner OwnerRef, productRef string) (*Entitlement, error)
	// FindActiveByOwner returns the owner's row satisfying the canonical
	// active predicate, nil when none.
	FindActiveByOwner(ctx context.Context, db *gorm.DB, owner OwnerRef, now time.Time) (*Entitlement, error)
	FindActiveByOwnerPlan(ctx context.Context, db *gorm.DB, owner OwnerRef, planID snowflake.ID, now time.Time) (*Entitlement, error)
	ListByOwner(ctx context.Context, db *gorm.DB, owner OwnerRef, p pagination.Pagination) ([]Entitlement, pagination.PageInfo, error)

	// MarkSucceeded moves an entry-state row to success, setting the window
	// and transaction reference in the same conditional update.
	MarkSucceeded(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionRef, paymentMethod string, startAt, endAt time.Time) (bool, error)
	// MarkFailed moves a row to failed when its current state is in from.
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from []State) (bool, error)
	// ExtendPeriod moves the window end forward, never backward, for rows in
	// pending or success. Returns false when the stored end already reaches
	// newEnd or the state does not qualify.
	ExtendPeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, newEnd time.Time) (bool, error)
	// MarkCancelled soft-terminates a success row; the record survives as
	// billing history.
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	// MarkExpired closes a success row's window at endAt.
	MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, endAt time.Time) (bool, error)

	// ClaimByDevice back-fills the user reference onto rows created under an
	// anonymous device id. Returns the number of rows claimed.
	ClaimByDevice(ctx context.Context, db *gorm.DB, deviceID string, userID snowflake.ID) (int64, error)
	// ExpireOverdue sweeps success rows whose window passed, returning the
	// number of rows moved to expired.
	ExpireOverdue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

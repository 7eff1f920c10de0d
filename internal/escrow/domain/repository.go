package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *ShiftPayment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ShiftPayment, error)
	// FindForUpdate locks the row on databases that support it.
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ShiftPayment, error)
	FindByShiftWorker(ctx context.Context, db *gorm.DB, shiftID, workerID snowflake.ID) (*ShiftPayment, error)
	// Update persists p only if the row still has expectedStatus and
	// expectedVersion, and bumps the version. It reports false otherwise.
	Update(ctx context.Context, db *gorm.DB, p *ShiftPayment, expectedStatus PaymentStatus, expectedVersion int64) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*ShiftPayment, error)

	ListDueForRelease(ctx context.Context, db *gorm.DB, capturedBefore time.Time, limit int) ([]snowflake.ID, error)
	ListPendingPayouts(ctx context.Context, db *gorm.DB, staleProcessingBefore time.Time, limit int) ([]snowflake.ID, error)
	ListFailedPayouts(ctx context.Context, db *gorm.DB, maxRetries int, limit int) ([]snowflake.ID, error)
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() escrowdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *escrowdomain.ShiftPayment) error {
	return db.WithContext(ctx).Create(p).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*escrowdomain.ShiftPayment, error) {
	return r.findOne(ctx, db, `SELECT * FROM shift_payments WHERE id = ?`, id)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*escrowdomain.ShiftPayment, error) {
	query := `SELECT * FROM shift_payments WHERE id = ?`
	if db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}
	return r.findOne(ctx, db, query, id)
}

func (r *repo) FindByShiftWorker(ctx context.Context, db *gorm.DB, shiftID, workerID snowflake.ID) (*escrowdomain.ShiftPayment, error) {
	return r.findOne(ctx, db,
		`SELECT * FROM shift_payments WHERE shift_id = ? AND worker_id = ?`,
		shiftID, workerID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*escrowdomain.ShiftPayment, error) {
	var row escrowdomain.ShiftPayment
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, p *escrowdomain.ShiftPayment, expectedStatus escrowdomain.PaymentStatus, expectedVersion int64) (bool, error) {
	next := expectedVersion + 1
	res := db.WithContext(ctx).Exec(
		`UPDATE shift_payments SET
			status = ?, payout_status = ?,
			charge_id = ?, transfer_id = ?, refund_id = ?,
			payout_retry_count = ?, last_payout_error = ?,
			is_disputed = ?, dispute_reason = ?, dispute_evidence = ?, dispute_filed_by = ?,
			disputed_at = ?, dispute_resolved_at = ?, dispute_resolution = ?,
			resolution_notes = ?, admin_dispute_notes = ?,
			hold_reason = ?, held_at = ?,
			refund_status = ?, refund_amount = ?, refund_reason = ?, refunded_at = ?,
			failure_reason = ?, failed_at = ?,
			captured_at = ?, released_at = ?, paid_out_at = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?`,
		p.Status, p.PayoutStatus,
		p.ChargeID, p.TransferID, p.RefundID,
		p.PayoutRetryCount, p.LastPayoutError,
		p.IsDisputed, p.DisputeReason, p.DisputeEvidence, p.DisputeFiledBy,
		p.DisputedAt, p.DisputeResolvedAt, p.DisputeResolution,
		p.ResolutionNotes, p.AdminDisputeNotes,
		p.HoldReason, p.HeldAt,
		p.RefundStatus, p.RefundAmount, p.RefundReason, p.RefundedAt,
		p.FailureReason, p.FailedAt,
		p.CapturedAt, p.ReleasedAt, p.PaidOutAt,
		next, p.UpdatedAt,
		p.ID, expectedStatus, expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	p.Version = next
	return true, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter escrowdomain.ListFilter) ([]*escrowdomain.ShiftPayment, error) {
	var rows []*escrowdomain.ShiftPayment
	stmt := db.WithContext(ctx).Model(&escrowdomain.ShiftPayment{})

	if filter.Status != nil {
		stmt = stmt.Where("status = ?", *filter.Status)
	}
	if filter.WorkerID != nil {
		stmt = stmt.Where("worker_id = ?", *filter.WorkerID)
	}
	if filter.BusinessID != nil {
		stmt = stmt.Where("business_id = ?", *filter.BusinessID)
	}
	if filter.Disputed != nil {
		stmt = stmt.Where("is_disputed = ?", *filter.Disputed)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// noRefundClaim keeps rows with a refund in flight out of the scheduler queues.
const noRefundClaim = `(refund_status IS NULL OR refund_status <> ?)`

func (r *repo) ListDueForRelease(ctx context.Context, db *gorm.DB, capturedBefore time.Time, limit int) ([]snowflake.ID, error) {
	return r.ids(ctx, db,
		`SELECT id FROM shift_payments
		WHERE status = ? AND is_disputed = ? AND captured_at IS NOT NULL AND captured_at <= ?
			AND `+noRefundClaim+`
		ORDER BY captured_at ASC, id ASC
		LIMIT ?`,
		escrowdomain.StatusInEscrow, false, capturedBefore.UTC(), escrowdomain.RefundProcessing, limit,
	)
}

// ListPendingPayouts also returns payouts stuck in processing since before
// staleProcessingBefore; their transfer is retried under the same idempotency key.
func (r *repo) ListPendingPayouts(ctx context.Context, db *gorm.DB, staleProcessingBefore time.Time, limit int) ([]snowflake.ID, error) {
	return r.ids(ctx, db,
		`SELECT id FROM shift_payments
		WHERE status = ? AND is_disputed = ?
			AND (payout_status = ? OR (payout_status = ? AND updated_at <= ?))
			AND `+noRefundClaim+`
		ORDER BY released_at ASC, id ASC
		LIMIT ?`,
		escrowdomain.StatusReleased, false,
		escrowdomain.PayoutPending, escrowdomain.PayoutProcessing, staleProcessingBefore.UTC(),
		escrowdomain.RefundProcessing, limit,
	)
}

func (r *repo) ListFailedPayouts(ctx context.Context, db *gorm.DB, maxRetries int, limit int) ([]snowflake.ID, error) {
	return r.ids(ctx, db,
		`SELECT id FROM shift_payments
		WHERE status = ? AND payout_status = ? AND is_disputed = ? AND payout_retry_count < ?
			AND `+noRefundClaim+`
		ORDER BY updated_at ASC, id ASC
		LIMIT ?`,
		escrowdomain.StatusReleased, escrowdomain.PayoutFailed, false, maxRetries,
		escrowdomain.RefundProcessing, limit,
	)
}

func (r *repo) ids(ctx context.Context, db *gorm.DB, query string, args ...any) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

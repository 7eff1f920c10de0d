package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/overtimestaff/escrow/internal/audit/domain"
	"github.com/overtimestaff/escrow/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

// Service owns every status change of a ShiftPayment. Payment ids are
// snowflake strings.
type Service interface {
	Create(ctx context.Context, req CreatePaymentRequest) (*ShiftPayment, error)
	Get(ctx context.Context, id string) (*ShiftPayment, error)
	List(ctx context.Context, req ListPaymentsRequest) (ListPaymentsResponse, error)

	Capture(ctx context.Context, id string) (*ShiftPayment, error)
	// ReleaseAfterHoldPeriod is the timed release. It re-checks status, dispute
	// and hold period and reports ErrInvalidTransition when any no longer allow it.
	ReleaseAfterHoldPeriod(ctx context.Context, id string) (*ShiftPayment, error)
	ReleaseEscrow(ctx context.Context, id string) (*ShiftPayment, error)
	Hold(ctx context.Context, id string, reason string) (*ShiftPayment, error)
	RemoveHold(ctx context.Context, id string) (*ShiftPayment, error)

	// Payout and RetryPayout return the persisted payment together with an
	// *ExternalServiceError when the transfer did not go through.
	Payout(ctx context.Context, id string) (*ShiftPayment, error)
	RetryPayout(ctx context.Context, id string) (*ShiftPayment, error)

	Refund(ctx context.Context, id string, req RefundRequest) (*ShiftPayment, error)

	FileDispute(ctx context.Context, id string, req FileDisputeRequest) (*ShiftPayment, error)
	ResolveDispute(ctx context.Context, id string, req ResolveDisputeRequest) (*ShiftPayment, error)
	AddDisputeNotes(ctx context.Context, id string, notes string) (*ShiftPayment, error)

	AuditLogs(ctx context.Context, id string, page pagination.Pagination) (auditdomain.ListAuditLogResponse, error)

	DueForRelease(ctx context.Context, limit int) ([]snowflake.ID, error)
	PendingPayouts(ctx context.Context, limit int) ([]snowflake.ID, error)
	FailedPayouts(ctx context.Context, limit int) ([]snowflake.ID, error)
}

type CreatePaymentRequest struct {
	ShiftID        string          `json:"shift_id"`
	WorkerID       string          `json:"worker_id"`
	BusinessID     string          `json:"business_id"`
	HourlyRate     decimal.Decimal `json:"hourly_rate"`
	HoursWorked    decimal.Decimal `json:"hours_worked"`
	CountryCode    string          `json:"country_code,omitempty"`
	RegionCode     string          `json:"region_code,omitempty"`
	Tier           string          `json:"tier,omitempty"`
	CustomerRef    string          `json:"customer_ref"`
	DestinationRef string          `json:"destination_ref"`
}

type ListPaymentsRequest struct {
	pagination.Pagination
	Status     string
	WorkerID   string
	BusinessID string
	Disputed   *bool
}

type ListPaymentsResponse struct {
	pagination.PageInfo
	Payments []ShiftPayment `json:"payments"`
}

type RefundRequest struct {
	Amount decimal.Decimal `json:"refund_amount"`
	Reason string          `json:"reason"`
}

type FileDisputeRequest struct {
	FiledBy  string  `json:"filed_by"`
	Reason   string  `json:"reason"`
	Evidence *string `json:"evidence,omitempty"`
}

type ResolveDisputeRequest struct {
	Resolution      string           `json:"resolution"`
	ResolutionNotes string           `json:"resolution_notes"`
	AdminNotes      *string          `json:"admin_notes,omitempty"`
	RefundAmount    *decimal.Decimal `json:"refund_amount,omitempty"`
}

// ListFilter narrows repository listings; Cursor is the last row of the previous page.
type ListFilter struct {
	Status     *PaymentStatus
	WorkerID   *snowflake.ID
	BusinessID *snowflake.ID
	Disputed   *bool
	Cursor     *Cursor
	Limit      int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the single source of truth for where escrowed money is.
type PaymentStatus string

const (
	StatusPending  PaymentStatus = "pending"
	StatusInEscrow PaymentStatus = "in_escrow"
	StatusReleased PaymentStatus = "released"
	StatusPaidOut  PaymentStatus = "paid_out"
	StatusOnHold   PaymentStatus = "on_hold"
	StatusRefunded PaymentStatus = "refunded"
	StatusFailed   PaymentStatus = "failed"
)

var AllStatuses = []PaymentStatus{
	StatusPending,
	StatusInEscrow,
	StatusReleased,
	StatusPaidOut,
	StatusOnHold,
	StatusRefunded,
	StatusFailed,
}

func (s PaymentStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s PaymentStatus) Terminal() bool {
	return s == StatusPaidOut || s == StatusRefunded || s == StatusFailed
}

// HoldsFunds reports whether captured money is still under platform control.
func (s PaymentStatus) HoldsFunds() bool {
	return s == StatusInEscrow || s == StatusReleased || s == StatusOnHold
}

// PayoutStatus tracks the external transfer independently of PaymentStatus.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// RefundStatus marks a refund claimed before the processor is called.
// Release, payout and hold are refused while a refund is processing.
type RefundStatus string

const (
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
)

type DisputeParty string

const (
	PartyWorker   DisputeParty = "worker"
	PartyBusiness DisputeParty = "business"
)

func ParseDisputeParty(raw string) (DisputeParty, bool) {
	switch p := DisputeParty(strings.ToLower(strings.TrimSpace(raw))); p {
	case PartyWorker, PartyBusiness:
		return p, true
	default:
		return "", false
	}
}

type Resolution string

const (
	ResolutionRelease Resolution = "release"
	ResolutionRefund  Resolution = "refund"
)

func ParseResolution(raw string) (Resolution, bool) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(raw))); r {
	case ResolutionRelease, ResolutionRefund:
		return r, true
	default:
		return "", false
	}
}

// ShiftPayment is the escrow record for one worker on one shift. Rows are
// never deleted. Amounts are decimal major units rounded to 2 places and
// total_amount always equals platform_fee + worker_amount.
type ShiftPayment struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	ShiftID    snowflake.ID `json:"shift_id" gorm:"column:shift_id;not null"`
	WorkerID   snowflake.ID `json:"worker_id" gorm:"column:worker_id;not null"`
	BusinessID snowflake.ID `json:"business_id" gorm:"column:business_id;not null"`
	Currency   string       `json:"currency" gorm:"column:currency;not null"`

	HourlyRate            decimal.Decimal `json:"hourly_rate" gorm:"column:hourly_rate;type:numeric;not null"`
	HoursWorked           decimal.Decimal `json:"hours_worked" gorm:"column:hours_worked;type:numeric;not null"`
	TotalAmount           decimal.Decimal `json:"total_amount" gorm:"column:total_amount;type:numeric;not null"`
	PlatformFee           decimal.Decimal `json:"platform_fee" gorm:"column:platform_fee;type:numeric;not null"`
	PlatformFeePercentage decimal.Decimal `json:"platform_fee_percentage" gorm:"column:platform_fee_percentage;type:numeric;not null"`
	WorkerFeeRate         decimal.Decimal `json:"worker_fee_rate" gorm:"column:worker_fee_rate;type:numeric;not null"`
	WorkerAmount          decimal.Decimal `json:"worker_amount" gorm:"column:worker_amount;type:numeric;not null"`

	CountryCode       string        `json:"country_code" gorm:"column:country_code;not null"`
	RegionCode        *string       `json:"region_code,omitempty" gorm:"column:region_code"`
	RegionalPricingID *snowflake.ID `json:"regional_pricing_id,omitempty" gorm:"column:regional_pricing_id"`

	Status       PaymentStatus `json:"status" gorm:"column:status;not null"`
	PayoutStatus PayoutStatus  `json:"payout_status" gorm:"column:payout_status;not null"`

	CustomerRef      string  `json:"-" gorm:"column:customer_ref;not null"`
	DestinationRef   string  `json:"-" gorm:"column:destination_ref;not null"`
	ChargeID         *string `json:"charge_id,omitempty" gorm:"column:charge_id"`
	TransferID       *string `json:"transfer_id,omitempty" gorm:"column:transfer_id"`
	RefundID         *string `json:"refund_id,omitempty" gorm:"column:refund_id"`
	PayoutRetryCount int     `json:"payout_retry_count" gorm:"column:payout_retry_count;not null"`
	LastPayoutError  *string `json:"last_payout_error,omitempty" gorm:"column:last_payout_error"`

	IsDisputed        bool          `json:"is_disputed" gorm:"column:is_disputed;not null"`
	DisputeReason     *string       `json:"dispute_reason,omitempty" gorm:"column:dispute_reason"`
	DisputeEvidence   *string       `json:"dispute_evidence,omitempty" gorm:"column:dispute_evidence"`
	DisputeFiledBy    *DisputeParty `json:"dispute_filed_by,omitempty" gorm:"column:dispute_filed_by"`
	DisputedAt        *time.Time    `json:"disputed_at,omitempty" gorm:"column:disputed_at"`
	DisputeResolvedAt *time.Time    `json:"dispute_resolved_at,omitempty" gorm:"column:dispute_resolved_at"`
	DisputeResolution *Resolution   `json:"dispute_resolution,omitempty" gorm:"column:dispute_resolution"`
	ResolutionNotes   *string       `json:"resolution_notes,omitempty" gorm:"column:resolution_notes"`
	AdminDisputeNotes *string       `json:"admin_dispute_notes,omitempty" gorm:"column:admin_dispute_notes"`

	HoldReason *string    `json:"hold_reason,omitempty" gorm:"column:hold_reason"`
	HeldAt     *time.Time `json:"held_at,omitempty" gorm:"column:held_at"`

	RefundStatus *RefundStatus       `json:"refund_status,omitempty" gorm:"column:refund_status"`
	RefundAmount decimal.NullDecimal `json:"refund_amount" gorm:"column:refund_amount;type:numeric"`
	RefundReason *string             `json:"refund_reason,omitempty" gorm:"column:refund_reason"`
	RefundedAt   *time.Time          `json:"refunded_at,omitempty" gorm:"column:refunded_at"`

	FailureReason *string    `json:"failure_reason,omitempty" gorm:"column:failure_reason"`
	FailedAt      *time.Time `json:"failed_at,omitempty" gorm:"column:failed_at"`

	CapturedAt *time.Time `json:"captured_at,omitempty" gorm:"column:captured_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty" gorm:"column:released_at"`
	PaidOutAt  *time.Time `json:"paid_out_at,omitempty" gorm:"column:paid_out_at"`

	Version   int64     `json:"version" gorm:"column:version;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (ShiftPayment) TableName() string { return "shift_payments" }

// CalculatedTotal is hourly_rate * hours_worked. A stored total that differs
// is surfaced, never rewritten.
func (p ShiftPayment) CalculatedTotal() decimal.Decimal {
	return p.HourlyRate.Mul(p.HoursWorked).Round(2)
}

func (p ShiftPayment) RefundInFlight() bool {
	return p.RefundStatus != nil && *p.RefundStatus == RefundProcessing
}

// AmountsBalanced checks total_amount == platform_fee + worker_amount.
func (p ShiftPayment) AmountsBalanced() bool {
	return p.TotalAmount.Equal(p.PlatformFee.Add(p.WorkerAmount))
}

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidBucket    = errors.New("invalid_bucket")
	ErrInvalidCurrency  = errors.New("invalid_currency")
)

type Bucket string

const (
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"
)

// Service reports over shift payments. Payment status is read straight from
// shift_payments, so the numbers never drift from the escrow state machine.
type Service interface {
	Summary(ctx context.Context, req SummaryRequest) (Summary, error)
}

// SummaryRequest covers payments created in [From, To) in one currency. A
// zero range means the last 30 days and a blank currency the settings default.
type SummaryRequest struct {
	From     time.Time
	To       time.Time
	Bucket   Bucket
	TopN     int
	Currency string
}

type StatusTotal struct {
	Status string          `json:"status"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type PartyTotal struct {
	ID       string          `json:"id"`
	Payments int64           `json:"payments"`
	Amount   decimal.Decimal `json:"amount"`
}

type RevenuePoint struct {
	Period       string          `json:"period"`
	Payments     int64           `json:"payments"`
	PlatformFees decimal.Decimal `json:"platform_fees"`
}

type Summary struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Bucket   Bucket    `json:"bucket"`
	Currency string    `json:"currency"`

	// Currencies lists every currency with payments in the window. All
	// amounts below are in Currency only.
	Currencies []string `json:"currencies"`

	TotalPayments     int64           `json:"total_payments"`
	ByStatus          []StatusTotal   `json:"by_status"`
	TotalPlatformFees decimal.Decimal `json:"total_platform_fees"`

	DisputeRate            float64  `json:"dispute_rate"`
	AverageResolutionHours *float64 `json:"average_resolution_hours,omitempty"`
	PayoutSuccessRate      *float64 `json:"payout_success_rate,omitempty"`

	TopWorkers    []PartyTotal   `json:"top_workers"`
	TopBusinesses []PartyTotal   `json:"top_businesses"`
	Revenue       []RevenuePoint `json:"revenue"`
}

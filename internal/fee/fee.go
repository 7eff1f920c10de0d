// Package fee splits a shift's gross amount between the platform and the worker.
package fee

import (
	"errors"

	"github.com/overtimestaff/escrow/internal/money"
	"github.com/shopspring/decimal"
)

var (
	ErrNegativeRate         = errors.New("negative_hourly_rate")
	ErrNegativeHours        = errors.New("negative_hours_worked")
	ErrInvalidFeeRate       = errors.New("invalid_fee_rate")
	ErrInvalidWorkerFeeRate = errors.New("invalid_worker_fee_rate")
)

var maxRate = decimal.NewFromInt(100)

// Breakdown is the result of Compute. WorkerFeeRate is carried through unchanged
// so callers can persist it next to the amounts.
type Breakdown struct {
	TotalAmount           decimal.Decimal
	PlatformFee           decimal.Decimal
	PlatformFeePercentage decimal.Decimal
	WorkerAmount          decimal.Decimal
	WorkerFeeRate         decimal.Decimal
}

// Compute applies the single-deduction convention:
//
//	total    = round(hourly_rate * hours_worked, 2)
//	platform = round(total * platform_fee_rate / 100, 2)
//	worker   = total - platform
//
// worker_fee_rate is validated and reported but never deducted.
func Compute(hourlyRate, hoursWorked, platformFeeRate, workerFeeRate decimal.Decimal) (Breakdown, error) {
	if hourlyRate.IsNegative() {
		return Breakdown{}, ErrNegativeRate
	}
	if hoursWorked.IsNegative() {
		return Breakdown{}, ErrNegativeHours
	}
	if platformFeeRate.IsNegative() || platformFeeRate.GreaterThan(maxRate) {
		return Breakdown{}, ErrInvalidFeeRate
	}
	if workerFeeRate.IsNegative() || workerFeeRate.GreaterThan(maxRate) {
		return Breakdown{}, ErrInvalidWorkerFeeRate
	}

	total := money.Round2(hourlyRate.Mul(hoursWorked))
	platform := money.Percent(total, platformFeeRate)
	return Breakdown{
		TotalAmount:           total,
		PlatformFee:           platform,
		PlatformFeePercentage: platformFeeRate,
		WorkerAmount:          total.Sub(platform),
		WorkerFeeRate:         workerFeeRate,
	}, nil
}

// Discrepancy reports total - round(hourly_rate * hours_worked, 2). A non-zero
// result is surfaced to admins and never corrected automatically.
func Discrepancy(total, hourlyRate, hoursWorked decimal.Decimal) decimal.Decimal {
	return total.Sub(money.Round2(hourlyRate.Mul(hoursWorked)))
}

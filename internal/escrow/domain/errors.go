package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotFound   = errors.New("payment_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrNotDisputed       = errors.New("not_disputed")
	ErrConflict          = errors.New("conflict")
	ErrDisputed          = errors.New("payment_disputed")
	ErrAlreadyDisputed   = errors.New("already_disputed")
	ErrPayoutInProgress  = errors.New("payout_in_progress")
	ErrRefundInProgress  = errors.New("refund_in_progress")
	ErrDuplicatePayment  = errors.New("duplicate_payment")
	ErrMissingCharge     = errors.New("missing_charge")
)

// Validation failures: reported to the caller before any state is touched.
var (
	ErrInvalidID              = errors.New("invalid_id")
	ErrInvalidReason          = errors.New("invalid_reason")
	ErrInvalidRefundAmount    = errors.New("invalid_refund_amount")
	ErrRefundExceedsTotal     = errors.New("refund_exceeds_total")
	ErrInvalidResolution      = errors.New("invalid_resolution")
	ErrInvalidResolutionNotes = errors.New("invalid_resolution_notes")
	ErrInvalidDisputeParty    = errors.New("invalid_dispute_party")
	ErrInvalidNotes           = errors.New("invalid_notes")
	ErrInvalidHourlyRate      = errors.New("invalid_hourly_rate")
	ErrInvalidHoursWorked     = errors.New("invalid_hours_worked")
	ErrInvalidCustomerRef     = errors.New("invalid_customer_ref")
	ErrInvalidDestinationRef  = errors.New("invalid_destination_ref")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
)

var validationErrors = []error{
	ErrInvalidID,
	ErrInvalidReason,
	ErrInvalidRefundAmount,
	ErrRefundExceedsTotal,
	ErrInvalidResolution,
	ErrInvalidResolutionNotes,
	ErrInvalidDisputeParty,
	ErrInvalidNotes,
	ErrInvalidHourlyRate,
	ErrInvalidHoursWorked,
	ErrInvalidCustomerRef,
	ErrInvalidDestinationRef,
	ErrInvalidStatus,
	ErrInvalidPageToken,
	ErrDisputed,
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ExternalServiceError is a payment processor failure as seen by the ledger.
type ExternalServiceError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	if e.Transient {
		return fmt.Sprintf("external service %s unavailable: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("external service %s rejected: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext) && ext.Transient
}

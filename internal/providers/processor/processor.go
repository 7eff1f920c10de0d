// Package processor moves money through an external payment processor.
package processor

import (
	"context"
	"errors"
	"fmt"
)

const (
	OpCapture  = "capture"
	OpTransfer = "transfer"
	OpRefund   = "refund"
)

// Processor captures business funds, transfers worker payouts and refunds charges.
// Amounts are minor units of Currency.
type Processor interface {
	Name() string
	Capture(ctx context.Context, req CaptureRequest) (string, error)
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	Refund(ctx context.Context, req RefundRequest) (string, error)
}

type CaptureRequest struct {
	AmountMinor    int64
	Currency       string
	CustomerRef    string
	IdempotencyKey string
	Metadata       map[string]string
}

type TransferRequest struct {
	AmountMinor    int64
	Currency       string
	DestinationRef string
	IdempotencyKey string
	Metadata       map[string]string
}

type RefundRequest struct {
	ChargeID       string
	AmountMinor    int64
	IdempotencyKey string
}

// Error classifies a processor failure. Transient failures may be retried
// with the same idempotency key; permanent ones never succeed on retry.
type Error struct {
	Op        string
	Code      string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Code != "" {
		return fmt.Sprintf("processor %s failed (%s, %s): %v", e.Op, kind, e.Code, e.Err)
	}
	return fmt.Sprintf("processor %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(op string, err error) *Error {
	return &Error{Op: op, Transient: true, Err: err}
}

func Permanent(op, code string, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// IsTransient reports whether err is a retryable processor failure. Context
// cancellation and unclassified errors are not retried.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

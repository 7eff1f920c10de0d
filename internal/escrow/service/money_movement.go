package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/overtimestaff/escrow/internal/config"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	ledgerdomain "github.com/overtimestaff/escrow/internal/ledger/domain"
	"github.com/overtimestaff/escrow/internal/money"
	"github.com/overtimestaff/escrow/internal/providers/processor"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// callProcessor retries transient processor failures with exponential backoff.
// Failures come back as *ExternalServiceError; context errors are returned as is.
func (s *Service) callProcessor(ctx context.Context, op string, settings config.AdminSettings, call func(context.Context) (string, error)) (string, error) {
	attempts := settings.ProcessorAttempts
	if attempts <= 0 {
		attempts = config.DefaultProcessorAttempts
	}
	b := backoff.NewExponentialBackOff()
	if settings.ProcessorBackoffBase > 0 {
		b.InitialInterval = settings.ProcessorBackoffBase
	}
	if settings.ProcessorBackoffMax > 0 {
		b.MaxInterval = settings.ProcessorBackoffMax
	}

	provider := s.processor.Name()
	ref, err := backoff.Retry(ctx, func() (string, error) {
		ref, err := call(ctx)
		switch {
		case err == nil:
			s.metrics.RecordProcessorCall(ctx, provider, op, "success")
			return ref, nil
		case processor.IsTransient(err):
			s.metrics.RecordProcessorCall(ctx, provider, op, "transient")
			s.log.Warn("processor call failed, retrying",
				zap.String("operation", op),
				zap.Error(err),
			)
			return "", err
		default:
			s.metrics.RecordProcessorCall(ctx, provider, op, "permanent")
			return "", backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)))
	if err == nil {
		return ref, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	return "", &escrowdomain.ExternalServiceError{
		Op:        op,
		Transient: processor.IsTransient(err),
		Err:       err,
	}
}

func (s *Service) refund(ctx context.Context, p *escrowdomain.ShiftPayment, amount decimal.Decimal) (string, error) {
	return s.callProcessor(ctx, processor.OpRefund, s.settings.Get(), func(ctx context.Context) (string, error) {
		return s.processor.Refund(ctx, processor.RefundRequest{
			ChargeID:       *p.ChargeID,
			AmountMinor:    minor(amount),
			IdempotencyKey: p.ID.String() + "-refund",
		})
	})
}

func validateRefundAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(money.Round2(amount)) {
		return escrowdomain.ErrInvalidRefundAmount
	}
	return nil
}

// checkRefundable runs every refund precondition that does not need the processor.
func checkRefundable(p *escrowdomain.ShiftPayment, event escrowdomain.Event, amount decimal.Decimal) error {
	if _, err := escrowdomain.Transition(p.Status, event); err != nil {
		return err
	}
	if amount.GreaterThan(p.TotalAmount) {
		return escrowdomain.ErrRefundExceedsTotal
	}
	if p.PayoutStatus == escrowdomain.PayoutProcessing {
		return escrowdomain.ErrPayoutInProgress
	}
	if p.ChargeID == nil || *p.ChargeID == "" {
		return escrowdomain.ErrMissingCharge
	}
	return nil
}

func markRefunded(p *escrowdomain.ShiftPayment, amount decimal.Decimal, reason, refundID string, now time.Time) {
	p.RefundAmount = decimal.NewNullDecimal(amount)
	p.RefundReason = &reason
	p.RefundedAt = &now
	if refundID != "" {
		p.RefundID = &refundID
	}
}

// markReleased stamps released_at and reports whether this is the first release.
func markReleased(p *escrowdomain.ShiftPayment, now time.Time) bool {
	if p.ReleasedAt != nil {
		return false
	}
	p.ReleasedAt = &now
	return true
}

func processorMetadata(p *escrowdomain.ShiftPayment) map[string]string {
	return map[string]string{
		"payment_id": p.ID.String(),
		"shift_id":   p.ShiftID.String(),
	}
}

func minor(amount decimal.Decimal) int64 {
	return money.ToMinorUnits(amount)
}

func capturePosting(p *escrowdomain.ShiftPayment, now time.Time) *ledgerdomain.Posting {
	total := minor(p.TotalAmount)
	return posting(p, ledgerdomain.SourceTypeCapture, now,
		ledgerdomain.Debit(ledgerdomain.AccountCodeProcessorCash, total),
		ledgerdomain.Credit(ledgerdomain.AccountCodeEscrowHolding, total),
	)
}

func releasePosting(p *escrowdomain.ShiftPayment, now time.Time) *ledgerdomain.Posting {
	return posting(p, ledgerdomain.SourceTypeRelease, now,
		ledgerdomain.Debit(ledgerdomain.AccountCodeEscrowHolding, minor(p.TotalAmount)),
		ledgerdomain.Credit(ledgerdomain.AccountCodeWorkerPayable, minor(p.WorkerAmount)),
		ledgerdomain.Credit(ledgerdomain.AccountCodePlatformRevenue, minor(p.PlatformFee)),
	)
}

func payoutPosting(p *escrowdomain.ShiftPayment, now time.Time) *ledgerdomain.Posting {
	worker := minor(p.WorkerAmount)
	return posting(p, ledgerdomain.SourceTypePayout, now,
		ledgerdomain.Debit(ledgerdomain.AccountCodeWorkerPayable, worker),
		ledgerdomain.Credit(ledgerdomain.AccountCodeProcessorCash, worker),
	)
}

// refundPosting returns money to the business from wherever it sits. Before
// release that is escrow holding. After release the worker share is reversed
// first and the platform fee covers the rest. An unrefunded remainder stays put.
func refundPosting(p *escrowdomain.ShiftPayment, amount decimal.Decimal, now time.Time) *ledgerdomain.Posting {
	refunded := minor(amount)
	if p.ReleasedAt == nil {
		return posting(p, ledgerdomain.SourceTypeRefund, now,
			ledgerdomain.Debit(ledgerdomain.AccountCodeEscrowHolding, refunded),
			ledgerdomain.Credit(ledgerdomain.AccountCodeProcessorCash, refunded),
		)
	}
	fromWorker := min(refunded, minor(p.WorkerAmount))
	return posting(p, ledgerdomain.SourceTypeRefund, now,
		ledgerdomain.Debit(ledgerdomain.AccountCodeWorkerPayable, fromWorker),
		ledgerdomain.Debit(ledgerdomain.AccountCodePlatformRevenue, refunded-fromWorker),
		ledgerdomain.Credit(ledgerdomain.AccountCodeProcessorCash, refunded),
	)
}

func posting(p *escrowdomain.ShiftPayment, source ledgerdomain.LedgerSourceType, now time.Time, lines ...ledgerdomain.LedgerEntryLine) *ledgerdomain.Posting {
	return &ledgerdomain.Posting{
		SourceType: source,
		SourceID:   p.ID,
		Currency:   p.Currency,
		OccurredAt: now,
		Lines:      lines,
	}
}

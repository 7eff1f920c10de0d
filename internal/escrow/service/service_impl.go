package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/overtimestaff/escrow/internal/audit/domain"
	"github.com/overtimestaff/escrow/internal/clock"
	"github.com/overtimestaff/escrow/internal/config"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"github.com/overtimestaff/escrow/internal/fee"
	ledgerdomain "github.com/overtimestaff/escrow/internal/ledger/domain"
	obsmetrics "github.com/overtimestaff/escrow/internal/observability/metrics"
	"github.com/overtimestaff/escrow/internal/paymentlock"
	"github.com/overtimestaff/escrow/internal/providers/processor"
	pricingdomain "github.com/overtimestaff/escrow/internal/regionalpricing/domain"
	"github.com/overtimestaff/escrow/pkg/db"
	"github.com/overtimestaff/escrow/pkg/db/pagination"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StaleProcessingAfter is how long a payout may sit in processing before the
// payout job picks it up again.
const StaleProcessingAfter = 10 * time.Minute

const auditTargetType = "shift_payment"

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      escrowdomain.Repository
	Settings  *config.SettingsHolder
	Pricing   pricingdomain.Service
	Processor processor.Processor
	Ledger    ledgerdomain.Service
	AuditSvc  auditdomain.Service
	Locker    *paymentlock.Locker `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      escrowdomain.Repository
	settings  *config.SettingsHolder
	pricing   pricingdomain.Service
	processor processor.Processor
	ledger    ledgerdomain.Service
	auditSvc  auditdomain.Service
	locker    *paymentlock.Locker
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) escrowdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("escrow.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		settings:  p.Settings,
		pricing:   p.Pricing,
		processor: p.Processor,
		ledger:    p.Ledger,
		auditSvc:  p.AuditSvc,
		locker:    p.Locker,
		metrics:   p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req escrowdomain.CreatePaymentRequest) (*escrowdomain.ShiftPayment, error) {
	shiftID, err := parseID(req.ShiftID)
	if err != nil {
		return nil, err
	}
	workerID, err := parseID(req.WorkerID)
	if err != nil {
		return nil, err
	}
	businessID, err := parseID(req.BusinessID)
	if err != nil {
		return nil, err
	}
	if !req.HourlyRate.IsPositive() {
		return nil, escrowdomain.ErrInvalidHourlyRate
	}
	if !req.HoursWorked.IsPositive() {
		return nil, escrowdomain.ErrInvalidHoursWorked
	}
	customerRef := strings.TrimSpace(req.CustomerRef)
	if customerRef == "" {
		return nil, escrowdomain.ErrInvalidCustomerRef
	}
	destinationRef := strings.TrimSpace(req.DestinationRef)
	if destinationRef == "" {
		return nil, escrowdomain.ErrInvalidDestinationRef
	}

	settings := s.settings.Get()
	payment := escrowdomain.ShiftPayment{
		ShiftID:        shiftID,
		WorkerID:       workerID,
		BusinessID:     businessID,
		Currency:       strings.ToUpper(settings.CurrencyCode),
		HourlyRate:     req.HourlyRate,
		HoursWorked:    req.HoursWorked,
		CountryCode:    strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		Status:         escrowdomain.StatusPending,
		PayoutStatus:   escrowdomain.PayoutPending,
		CustomerRef:    customerRef,
		DestinationRef: destinationRef,
	}
	platformRate := settings.PlatformFeeRate()
	workerRate := settings.WorkerFeeRate()

	if payment.CountryCode != "" {
		rate := req.HourlyRate
		effective, err := s.pricing.Resolve(ctx, pricingdomain.ResolveRequest{
			CountryCode: payment.CountryCode,
			RegionCode:  req.RegionCode,
			Tier:        req.Tier,
			HourlyRate:  &rate,
		})
		if err != nil {
			return nil, err
		}
		pricingID, err := snowflake.ParseString(effective.RegionalPricingID)
		if err == nil && pricingID != 0 {
			payment.RegionalPricingID = &pricingID
		}
		payment.RegionCode = effective.RegionCode
		payment.Currency = effective.CurrencyCode
		platformRate = effective.PlatformFeeRate
		workerRate = effective.WorkerFeeRate
	}

	breakdown, err := fee.Compute(req.HourlyRate, req.HoursWorked, platformRate, workerRate)
	if err != nil {
		return nil, err
	}
	payment.TotalAmount = breakdown.TotalAmount
	payment.PlatformFee = breakdown.PlatformFee
	payment.PlatformFeePercentage = breakdown.PlatformFeePercentage
	payment.WorkerFeeRate = breakdown.WorkerFeeRate
	payment.WorkerAmount = breakdown.WorkerAmount

	existing, err := s.repo.FindByShiftWorker(ctx, s.db, shiftID, workerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, escrowdomain.ErrDuplicatePayment
	}

	now := s.clock.Now()
	payment.ID = s.genID.Generate()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	if err := s.repo.Insert(ctx, s.db, &payment); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, escrowdomain.ErrDuplicatePayment
		}
		return nil, err
	}

	s.record(ctx, &payment, "", "", "payment.created", map[string]any{
		"total_amount": payment.TotalAmount.StringFixed(2),
		"platform_fee": payment.PlatformFee.StringFixed(2),
		"currency":     payment.Currency,
		"country_code": payment.CountryCode,
	})
	return &payment, nil
}

func (s *Service) Get(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, paymentID)
}

func (s *Service) List(ctx context.Context, req escrowdomain.ListPaymentsRequest) (escrowdomain.ListPaymentsResponse, error) {
	filter := escrowdomain.ListFilter{Disputed: req.Disputed, Limit: req.Limit()}

	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := escrowdomain.PaymentStatus(strings.ToLower(raw))
		if !status.Valid() {
			return escrowdomain.ListPaymentsResponse{}, escrowdomain.ErrInvalidStatus
		}
		filter.Status = &status
	}
	if strings.TrimSpace(req.WorkerID) != "" {
		workerID, err := parseID(req.WorkerID)
		if err != nil {
			return escrowdomain.ListPaymentsResponse{}, err
		}
		filter.WorkerID = &workerID
	}
	if strings.TrimSpace(req.BusinessID) != "" {
		businessID, err := parseID(req.BusinessID)
		if err != nil {
			return escrowdomain.ListPaymentsResponse{}, err
		}
		filter.BusinessID = &businessID
	}
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return escrowdomain.ListPaymentsResponse{}, escrowdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return escrowdomain.ListPaymentsResponse{}, escrowdomain.ErrInvalidPageToken
		}
		cursorID, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || cursorID == 0 {
			return escrowdomain.ListPaymentsResponse{}, escrowdomain.ErrInvalidPageToken
		}
		filter.Cursor = &escrowdomain.Cursor{ID: cursorID, CreatedAt: createdAt}
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return escrowdomain.ListPaymentsResponse{}, err
	}
	items, pageInfo := pagination.Trim(items, filter.Limit, func(p *escrowdomain.ShiftPayment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        p.ID.String(),
			CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	payments := make([]escrowdomain.ShiftPayment, 0, len(items))
	for _, item := range items {
		if item != nil {
			payments = append(payments, *item)
		}
	}
	return escrowdomain.ListPaymentsResponse{PageInfo: pageInfo, Payments: payments}, nil
}

func (s *Service) Capture(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "capture", func(ctx context.Context) error {
		payment, err := s.load(ctx, paymentID)
		if err != nil {
			return err
		}
		if _, err := escrowdomain.Transition(payment.Status, escrowdomain.EventCapture); err != nil {
			return err
		}

		settings := s.settings.Get()
		chargeID, callErr := s.callProcessor(ctx, processor.OpCapture, settings, func(ctx context.Context) (string, error) {
			return s.processor.Capture(ctx, processor.CaptureRequest{
				AmountMinor:    minor(payment.TotalAmount),
				Currency:       payment.Currency,
				CustomerRef:    payment.CustomerRef,
				IdempotencyKey: payment.ID.String() + "-capture",
				Metadata:       processorMetadata(payment),
			})
		})
		if callErr != nil {
			var ext *escrowdomain.ExternalServiceError
			if !errors.As(callErr, &ext) || ext.Transient {
				return callErr
			}
			failed, from, err := s.commit(ctx, paymentID, payment.Version, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
				next, err := escrowdomain.Transition(p.Status, escrowdomain.EventCaptureFailed)
				if err != nil {
					return nil, err
				}
				reason := callErr.Error()
				p.Status = next
				p.FailureReason = &reason
				p.FailedAt = &now
				return nil, nil
			})
			if err != nil {
				return err
			}
			s.record(ctx, failed, from, escrowdomain.EventCaptureFailed, "payment.capture_failed", map[string]any{
				"error": callErr.Error(),
			})
			out = failed
			return callErr
		}

		captured, from, err := s.commit(ctx, paymentID, payment.Version, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
			next, err := escrowdomain.Transition(p.Status, escrowdomain.EventCapture)
			if err != nil {
				return nil, err
			}
			p.Status = next
			p.ChargeID = &chargeID
			p.CapturedAt = &now
			return capturePosting(p, now), nil
		})
		if err != nil {
			return err
		}
		s.record(ctx, captured, from, escrowdomain.EventCapture, "payment.captured", map[string]any{
			"charge_id": chargeID,
		})
		out = captured
		return nil
	})
	return out, err
}

func (s *Service) ReleaseAfterHoldPeriod(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	holdPeriod := s.settings.Get().HoldPeriod
	if holdPeriod <= 0 {
		holdPeriod = config.DefaultHoldPeriod
	}

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "auto_release", func(ctx context.Context) error {
		released, from, err := s.commit(ctx, paymentID, -1, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
			next, err := escrowdomain.Transition(p.Status, escrowdomain.EventHoldPeriodElapsed)
			if err != nil {
				return nil, err
			}
			if p.IsDisputed || p.CapturedAt == nil || p.CapturedAt.After(now.Add(-holdPeriod)) {
				return nil, escrowdomain.ErrInvalidTransition
			}
			p.Status = next
			first := markReleased(p, now)
			if !first {
				return nil, nil
			}
			return releasePosting(p, now), nil
		})
		if err != nil {
			return err
		}
		s.record(ctx, released, from, escrowdomain.EventHoldPeriodElapsed, "payment.auto_released", nil)
		out = released
		return nil
	})
	return out, err
}

// ReleaseEscrow is the admin release. On a held payment it removes the hold.
func (s *Service) ReleaseEscrow(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "release", func(ctx context.Context) error {
		event := escrowdomain.EventRelease
		released, from, err := s.commit(ctx, paymentID, -1, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
			if p.Status == escrowdomain.StatusOnHold {
				event = escrowdomain.EventRemoveHold
				return applyRemoveHold(p, now)
			}
			next, err := escrowdomain.Transition(p.Status, escrowdomain.EventRelease)
			if err != nil {
				return nil, err
			}
			if p.IsDisputed {
				return nil, escrowdomain.ErrDisputed
			}
			p.Status = next
			if !markReleased(p, now) {
				return nil, nil
			}
			return releasePosting(p, now), nil
		})
		if err != nil {
			return err
		}
		action := "payment.released"
		if event == escrowdomain.EventRemoveHold {
			action = "payment.hold_removed"
		}
		s.record(ctx, released, from, event, action, nil)
		out = released
		return nil
	})
	return out, err
}

func (s *Service) Hold(ctx context.Context, id string, reason string) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, escrowdomain.ErrInvalidReason
	}

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "hold", func(ctx context.Context) error {
		held, from, err := s.commit(ctx, paymentID, -1, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
			next, err := escrowdomain.Transition(p.Status, escrowdomain.EventHold)
			if err != nil {
				return nil, err
			}
			if p.PayoutStatus == escrowdomain.PayoutProcessing {
				return nil, escrowdomain.ErrPayoutInProgress
			}
			// A repeated hold only replaces the reason.
			if p.Status != escrowdomain.StatusOnHold || p.HeldAt == nil {
				p.HeldAt = &now
			}
			p.Status = next
			p.HoldReason = &reason
			return nil, nil
		})
		if err != nil {
			return err
		}
		s.record(ctx, held, from, escrowdomain.EventHold, "payment.held", map[string]any{"reason": reason})
		out = held
		return nil
	})
	return out, err
}

func (s *Service) RemoveHold(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "remove_hold", func(ctx context.Context) error {
		released, from, err := s.commit(ctx, paymentID, -1, applyRemoveHold)
		if err != nil {
			return err
		}
		s.record(ctx, released, from, escrowdomain.EventRemoveHold, "payment.hold_removed", nil)
		out = released
		return nil
	})
	return out, err
}

func applyRemoveHold(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
	next, err := escrowdomain.Transition(p.Status, escrowdomain.EventRemoveHold)
	if err != nil {
		return nil, err
	}
	if p.IsDisputed {
		return nil, escrowdomain.ErrDisputed
	}
	p.Status = next
	p.HoldReason = nil
	if !markReleased(p, now) {
		return nil, nil
	}
	return releasePosting(p, now), nil
}

func (s *Service) Payout(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "payout", func(ctx context.Context) error {
		claimed, err := s.claimPayout(ctx, paymentID, func(p *escrowdomain.ShiftPayment) error {
			if p.PayoutStatus != escrowdomain.PayoutPending && p.PayoutStatus != escrowdomain.PayoutProcessing {
				return escrowdomain.ErrInvalidTransition
			}
			return nil
		})
		if err != nil {
			return err
		}
		out, err = s.transfer(ctx, claimed, false)
		return err
	})
	return out, err
}

// RetryPayout re-sends a failed transfer. Each failed retry counts towards
// MaxPayoutRetries; reaching it fails the payment for manual settlement.
func (s *Service) RetryPayout(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "retry_payout", func(ctx context.Context) error {
		claimed, err := s.claimPayout(ctx, paymentID, func(p *escrowdomain.ShiftPayment) error {
			if p.PayoutStatus != escrowdomain.PayoutFailed {
				return escrowdomain.ErrInvalidTransition
			}
			return nil
		})
		if err != nil {
			return err
		}
		out, err = s.transfer(ctx, claimed, true)
		return err
	})
	return out, err
}

// claimPayout moves payout_status to processing so no other worker sends the
// same transfer.
func (s *Service) claimPayout(ctx context.Context, paymentID snowflake.ID, check func(*escrowdomain.ShiftPayment) error) (*escrowdomain.ShiftPayment, error) {
	claimed, _, err := s.commit(ctx, paymentID, -1, func(p *escrowdomain.ShiftPayment, _ time.Time) (*ledgerdomain.Posting, error) {
		if _, err := escrowdomain.Transition(p.Status, escrowdomain.EventPayout); err != nil {
			return nil, err
		}
		if p.IsDisputed {
			return nil, escrowdomain.ErrDisputed
		}
		if err := check(p); err != nil {
			return nil, err
		}
		p.PayoutStatus = escrowdomain.PayoutProcessing
		return nil, nil
	})
	return claimed, err
}

func (s *Service) transfer(ctx context.Context, claimed *escrowdomain.ShiftPayment, retry bool) (*escrowdomain.ShiftPayment, error) {
	attempt := claimed.PayoutRetryCount
	if retry {
		attempt++
	}
	settings := s.settings.Get()

	transferID, callErr := s.callProcessor(ctx, processor.OpTransfer, settings, func(ctx context.Context) (string, error) {
		return s.processor.Transfer(ctx, processor.TransferRequest{
			AmountMinor:    minor(claimed.WorkerAmount),
			Currency:       claimed.Currency,
			DestinationRef: claimed.DestinationRef,
			IdempotencyKey: fmt.Sprintf("%s-transfer-%d", claimed.ID, attempt),
			Metadata:       processorMetadata(claimed),
		})
	})
	if callErr != nil {
		var ext *escrowdomain.ExternalServiceError
		if !errors.As(callErr, &ext) {
			// Left in processing; the payout job re-picks stale claims.
			return nil, callErr
		}
		return s.failPayout(ctx, claimed, ext, retry, settings.MaxPayoutRetries)
	}

	paid, from, err := s.commit(ctx, claimed.ID, claimed.Version, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
		next, err := escrowdomain.Transition(p.Status, escrowdomain.EventPayout)
		if err != nil {
			return nil, err
		}
		p.Status = next
		p.PayoutStatus = escrowdomain.PayoutCompleted
		p.TransferID = &transferID
		p.PaidOutAt = &now
		p.LastPayoutError = nil
		return payoutPosting(p, now), nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, paid, from, escrowdomain.EventPayout, "payment.paid_out", map[string]any{
		"transfer_id": transferID,
		"attempt":     attempt,
	})
	return paid, nil
}

func (s *Service) failPayout(ctx context.Context, claimed *escrowdomain.ShiftPayment, callErr *escrowdomain.ExternalServiceError, retry bool, maxRetries int) (*escrowdomain.ShiftPayment, error) {
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxPayoutRetries
	}
	event := escrowdomain.EventPayoutFailed

	failed, from, err := s.commit(ctx, claimed.ID, claimed.Version, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
		msg := callErr.Error()
		p.LastPayoutError = &msg
		p.PayoutStatus = escrowdomain.PayoutFailed
		if retry {
			p.PayoutRetryCount++
		}
		if callErr.Transient && p.PayoutRetryCount < maxRetries {
			return nil, nil
		}
		next, err := escrowdomain.Transition(p.Status, event)
		if err != nil {
			return nil, err
		}
		p.Status = next
		p.FailureReason = &msg
		p.FailedAt = &now
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, failed, from, event, "payment.payout_failed", map[string]any{
		"error":       callErr.Error(),
		"transient":   callErr.Transient,
		"retry_count": failed.PayoutRetryCount,
	})
	return failed, callErr
}

func (s *Service) Refund(ctx context.Context, id string, req escrowdomain.RefundRequest) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if err := validateRefundAmount(req.Amount); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, escrowdomain.ErrInvalidReason
	}
	amount := req.Amount

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "refund", func(ctx context.Context) error {
		check := func(p *escrowdomain.ShiftPayment) error {
			// an open dispute is closed through ResolveDispute only
			if p.IsDisputed {
				return escrowdomain.ErrDisputed
			}
			return nil
		}
		refunded, from, err := s.refundClaimed(ctx, paymentID, escrowdomain.EventRefund, amount, check,
			func(p *escrowdomain.ShiftPayment, refundID string, now time.Time) (*ledgerdomain.Posting, error) {
				markRefunded(p, amount, reason, refundID, now)
				return refundPosting(p, amount, now), nil
			})
		if err != nil {
			return err
		}
		s.record(ctx, refunded, from, escrowdomain.EventRefund, "payment.refunded", map[string]any{
			"refund_amount": amount.StringFixed(2),
			"reason":        reason,
		})
		out = refunded
		return nil
	})
	return out, err
}

// refundClaimed marks the payment refund_status=processing before the
// processor is called, so release and payout are refused until the refund
// is settled. A rejected refund drops the claim; any other error leaves it for
// StaleProcessingAfter so an unconfirmed refund cannot race a transfer.
func (s *Service) refundClaimed(
	ctx context.Context,
	paymentID snowflake.ID,
	event escrowdomain.Event,
	amount decimal.Decimal,
	check func(*escrowdomain.ShiftPayment) error,
	apply func(p *escrowdomain.ShiftPayment, refundID string, now time.Time) (*ledgerdomain.Posting, error),
) (*escrowdomain.ShiftPayment, escrowdomain.PaymentStatus, error) {
	claimed, _, err := s.mutate(ctx, paymentID, -1, true, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
		if p.RefundInFlight() && p.UpdatedAt.After(now.Add(-StaleProcessingAfter)) {
			return nil, escrowdomain.ErrRefundInProgress
		}
		if err := check(p); err != nil {
			return nil, err
		}
		if err := checkRefundable(p, event, amount); err != nil {
			return nil, err
		}
		processing := escrowdomain.RefundProcessing
		p.RefundStatus = &processing
		return nil, nil
	})
	if err != nil {
		return nil, "", err
	}

	refundID, err := s.refund(ctx, claimed, amount)
	if err != nil {
		var ext *escrowdomain.ExternalServiceError
		if errors.As(err, &ext) {
			s.dropRefundClaim(ctx, claimed)
		}
		return nil, "", err
	}

	return s.mutate(ctx, paymentID, claimed.Version, true, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
		next, err := escrowdomain.Transition(p.Status, event)
		if err != nil {
			return nil, err
		}
		p.Status = next
		completed := escrowdomain.RefundCompleted
		p.RefundStatus = &completed
		return apply(p, refundID, now)
	})
}

func (s *Service) dropRefundClaim(ctx context.Context, claimed *escrowdomain.ShiftPayment) {
	_, _, err := s.mutate(context.WithoutCancel(ctx), claimed.ID, claimed.Version, true, func(p *escrowdomain.ShiftPayment, _ time.Time) (*ledgerdomain.Posting, error) {
		p.RefundStatus = nil
		return nil, nil
	})
	if err != nil {
		s.log.Warn("refund claim not released",
			zap.String("payment_id", claimed.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) FileDispute(ctx context.Context, id string, req escrowdomain.FileDisputeRequest) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	party, ok := escrowdomain.ParseDisputeParty(req.FiledBy)
	if !ok {
		return nil, escrowdomain.ErrInvalidDisputeParty
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, escrowdomain.ErrInvalidReason
	}
	evidence := trimmedOrNil(req.Evidence)

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "file_dispute", func(ctx context.Context) error {
		disputed, from, err := s.commit(ctx, paymentID, -1, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
			if p.IsDisputed || p.DisputedAt != nil {
				return nil, escrowdomain.ErrAlreadyDisputed
			}
			if p.Status != escrowdomain.StatusInEscrow && p.Status != escrowdomain.StatusReleased {
				return nil, escrowdomain.ErrInvalidTransition
			}
			p.IsDisputed = true
			p.DisputedAt = &now
			p.DisputeReason = &reason
			p.DisputeEvidence = evidence
			p.DisputeFiledBy = &party
			return nil, nil
		})
		if err != nil {
			return err
		}
		s.record(ctx, disputed, from, "", "payment.dispute_filed", map[string]any{
			"filed_by": string(party),
			"reason":   reason,
		})
		out = disputed
		return nil
	})
	return out, err
}

func (s *Service) ResolveDispute(ctx context.Context, id string, req escrowdomain.ResolveDisputeRequest) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	resolution, ok := escrowdomain.ParseResolution(req.Resolution)
	if !ok {
		return nil, escrowdomain.ErrInvalidResolution
	}
	notes := strings.TrimSpace(req.ResolutionNotes)
	if notes == "" {
		return nil, escrowdomain.ErrInvalidResolutionNotes
	}
	var amount decimal.Decimal
	switch resolution {
	case escrowdomain.ResolutionRefund:
		if req.RefundAmount == nil {
			return nil, escrowdomain.ErrInvalidRefundAmount
		}
		if err := validateRefundAmount(*req.RefundAmount); err != nil {
			return nil, err
		}
		amount = *req.RefundAmount
	case escrowdomain.ResolutionRelease:
		if req.RefundAmount != nil {
			return nil, escrowdomain.ErrInvalidRefundAmount
		}
	}
	adminNotes := trimmedOrNil(req.AdminNotes)

	event := escrowdomain.EventResolveRelease
	if resolution == escrowdomain.ResolutionRefund {
		event = escrowdomain.EventResolveRefund
	}

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "resolve_dispute", func(ctx context.Context) error {
		closeDispute := func(p *escrowdomain.ShiftPayment, now time.Time) {
			p.IsDisputed = false
			p.DisputeResolvedAt = &now
			p.DisputeResolution = &resolution
			p.ResolutionNotes = &notes
			if adminNotes != nil {
				p.AdminDisputeNotes = appendNote(p.AdminDisputeNotes, *adminNotes, now)
			}
		}
		requireDispute := func(p *escrowdomain.ShiftPayment) error {
			if !p.IsDisputed {
				return escrowdomain.ErrNotDisputed
			}
			return nil
		}

		var (
			resolved *escrowdomain.ShiftPayment
			from     escrowdomain.PaymentStatus
			err      error
		)
		if resolution == escrowdomain.ResolutionRefund {
			resolved, from, err = s.refundClaimed(ctx, paymentID, event, amount, requireDispute,
				func(p *escrowdomain.ShiftPayment, refundID string, now time.Time) (*ledgerdomain.Posting, error) {
					closeDispute(p, now)
					markRefunded(p, amount, notes, refundID, now)
					return refundPosting(p, amount, now), nil
				})
		} else {
			resolved, from, err = s.commit(ctx, paymentID, -1, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
				if err := requireDispute(p); err != nil {
					return nil, err
				}
				next, err := escrowdomain.Transition(p.Status, event)
				if err != nil {
					return nil, err
				}
				p.Status = next
				closeDispute(p, now)
				p.HoldReason = nil
				if !markReleased(p, now) {
					return nil, nil
				}
				return releasePosting(p, now), nil
			})
		}
		if err != nil {
			return err
		}
		meta := map[string]any{"resolution": string(resolution)}
		if resolution == escrowdomain.ResolutionRefund {
			meta["refund_amount"] = amount.StringFixed(2)
		}
		s.record(ctx, resolved, from, event, "payment.dispute_resolved", meta)
		out = resolved
		return nil
	})
	return out, err
}

func (s *Service) AddDisputeNotes(ctx context.Context, id string, notes string) (*escrowdomain.ShiftPayment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, escrowdomain.ErrInvalidNotes
	}

	var out *escrowdomain.ShiftPayment
	err = s.withLock(ctx, paymentID, "dispute_notes", func(ctx context.Context) error {
		updated, from, err := s.commit(ctx, paymentID, -1, func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error) {
			if p.DisputedAt == nil {
				return nil, escrowdomain.ErrNotDisputed
			}
			p.AdminDisputeNotes = appendNote(p.AdminDisputeNotes, notes, now)
			return nil, nil
		})
		if err != nil {
			return err
		}
		s.record(ctx, updated, from, "", "payment.dispute_notes_added", nil)
		out = updated
		return nil
	})
	return out, err
}

func (s *Service) AuditLogs(ctx context.Context, id string, page pagination.Pagination) (auditdomain.ListAuditLogResponse, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	if _, err := s.load(ctx, paymentID); err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	return s.auditSvc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: page,
		TargetType: auditTargetType,
		TargetID:   paymentID.String(),
	})
}

func (s *Service) DueForRelease(ctx context.Context, limit int) ([]snowflake.ID, error) {
	holdPeriod := s.settings.Get().HoldPeriod
	if holdPeriod <= 0 {
		holdPeriod = config.DefaultHoldPeriod
	}
	return s.repo.ListDueForRelease(ctx, s.db, s.clock.Now().Add(-holdPeriod), limit)
}

func (s *Service) PendingPayouts(ctx context.Context, limit int) ([]snowflake.ID, error) {
	return s.repo.ListPendingPayouts(ctx, s.db, s.clock.Now().Add(-StaleProcessingAfter), limit)
}

func (s *Service) FailedPayouts(ctx context.Context, limit int) ([]snowflake.ID, error) {
	maxRetries := s.settings.Get().MaxPayoutRetries
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxPayoutRetries
	}
	return s.repo.ListFailedPayouts(ctx, s.db, maxRetries, limit)
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (*escrowdomain.ShiftPayment, error) {
	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, escrowdomain.ErrPaymentNotFound
	}
	return payment, nil
}

// commit re-reads the payment inside a transaction, lets apply mutate it and
// writes it back behind the status/version guard together with the ledger
// posting apply returns. A non-negative version must still match the row.
// Payments with a refund in flight are refused.
func (s *Service) commit(
	ctx context.Context,
	id snowflake.ID,
	version int64,
	apply func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error),
) (*escrowdomain.ShiftPayment, escrowdomain.PaymentStatus, error) {
	return s.mutate(ctx, id, version, false, apply)
}

// mutate is commit for the refund path, which alone may touch a claimed row.
func (s *Service) mutate(
	ctx context.Context,
	id snowflake.ID,
	version int64,
	refundPath bool,
	apply func(p *escrowdomain.ShiftPayment, now time.Time) (*ledgerdomain.Posting, error),
) (*escrowdomain.ShiftPayment, escrowdomain.PaymentStatus, error) {
	var (
		out  *escrowdomain.ShiftPayment
		from escrowdomain.PaymentStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return escrowdomain.ErrPaymentNotFound
		}
		if version >= 0 && payment.Version != version {
			return escrowdomain.ErrConflict
		}
		if !refundPath && payment.RefundInFlight() {
			return escrowdomain.ErrRefundInProgress
		}

		from = payment.Status
		expectedVersion := payment.Version
		now := s.clock.Now()
		posting, err := apply(payment, now)
		if err != nil {
			return err
		}
		payment.UpdatedAt = now

		ok, err := s.repo.Update(ctx, tx, payment, from, expectedVersion)
		if err != nil {
			return err
		}
		if !ok {
			return escrowdomain.ErrConflict
		}
		if posting != nil {
			if _, err := s.ledger.Post(ctx, tx, *posting); err != nil {
				return err
			}
		}
		out = payment
		return nil
	})
	if db.IsRetryableConflict(err) {
		return nil, "", fmt.Errorf("%w: %w", escrowdomain.ErrConflict, err)
	}
	if err != nil {
		return nil, "", err
	}
	return out, from, nil
}

func (s *Service) withLock(ctx context.Context, id snowflake.ID, operation string, fn func(context.Context) error) error {
	err := s.locker.With(ctx, id.String(), fn)
	if errors.Is(err, paymentlock.ErrLocked) {
		s.metrics.RecordLockContention(ctx, operation)
		return fmt.Errorf("%w: %w", escrowdomain.ErrConflict, err)
	}
	return err
}

// record writes the audit entry, metrics and log line of a committed change.
// Audit failures are logged and never undo the change.
func (s *Service) record(ctx context.Context, p *escrowdomain.ShiftPayment, from escrowdomain.PaymentStatus, event escrowdomain.Event, action string, meta map[string]any) {
	if event != "" {
		s.metrics.RecordTransition(ctx, string(from), string(p.Status), string(event))
	}

	payload := map[string]any{
		"status":        string(p.Status),
		"payout_status": string(p.PayoutStatus),
		"version":       p.Version,
	}
	if from != "" {
		payload["from"] = string(from)
	}
	if event != "" {
		payload["event"] = string(event)
	}
	for k, v := range meta {
		payload[k] = v
	}

	targetID := p.ID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, auditTargetType, &targetID, payload); err != nil {
		s.log.Warn("audit write failed",
			zap.String("payment_id", targetID),
			zap.String("action", action),
			zap.Error(err),
		)
	}

	s.log.Info(action,
		zap.String("payment_id", targetID),
		zap.String("from", string(from)),
		zap.String("to", string(p.Status)),
		zap.String("payout_status", string(p.PayoutStatus)),
		zap.Int64("version", p.Version),
	)
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, escrowdomain.ErrInvalidID
	}
	return id, nil
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func appendNote(existing *string, note string, now time.Time) *string {
	line := fmt.Sprintf("[%s] %s", now.UTC().Format(time.RFC3339), note)
	if existing != nil && strings.TrimSpace(*existing) != "" {
		line = *existing + "\n" + line
	}
	return &line
}

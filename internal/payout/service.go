// Package payout sends released worker shares and retries failed transfers.
package payout

import (
	"context"
	"errors"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/overtimestaff/escrow/internal/config"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"github.com/overtimestaff/escrow/internal/notification"
	"github.com/overtimestaff/escrow/internal/paymentlock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Escrow   escrowdomain.Service
	Notifier notification.Notifier
	Settings *config.SettingsHolder
}

type Service struct {
	log      *zap.Logger
	escrow   escrowdomain.Service
	notifier notification.Notifier
	settings *config.SettingsHolder
}

func New(p Params) *Service {
	return &Service{
		log:      p.Log.Named("payout.service"),
		escrow:   p.Escrow,
		notifier: p.Notifier,
		settings: p.Settings,
	}
}

// BatchResult tallies one pass over a payout queue. Deferred payments changed
// state or were locked by another worker and are picked up on a later pass.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
	Deferred  int
	Conflicts int
}

func (s *Service) Payout(ctx context.Context, paymentID string) (*escrowdomain.ShiftPayment, error) {
	payment, err := s.escrow.Payout(ctx, paymentID)
	s.alertOnFailure(ctx, payment)
	return payment, err
}

// Retry is valid only for a released payment whose payout failed.
func (s *Service) Retry(ctx context.Context, paymentID string) (*escrowdomain.ShiftPayment, error) {
	payment, err := s.escrow.RetryPayout(ctx, paymentID)
	s.alertOnFailure(ctx, payment)
	return payment, err
}

func (s *Service) ProcessPending(ctx context.Context, limit int) (BatchResult, error) {
	ids, err := s.escrow.PendingPayouts(ctx, limit)
	if err != nil {
		return BatchResult{}, err
	}
	return s.run(ctx, ids, s.Payout), nil
}

func (s *Service) RetryFailed(ctx context.Context, limit int) (BatchResult, error) {
	ids, err := s.escrow.FailedPayouts(ctx, limit)
	if err != nil {
		return BatchResult{}, err
	}
	return s.run(ctx, ids, s.Retry), nil
}

func (s *Service) run(ctx context.Context, ids []snowflake.ID, op func(context.Context, string) (*escrowdomain.ShiftPayment, error)) BatchResult {
	var result BatchResult
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		result.Processed++
		_, err := op(ctx, id.String())
		switch {
		case err == nil:
			result.Succeeded++
		case errors.Is(err, paymentlock.ErrLocked):
			result.Deferred++
		case errors.Is(err, escrowdomain.ErrConflict):
			result.Conflicts++
		case errors.Is(err, escrowdomain.ErrInvalidTransition),
			errors.Is(err, escrowdomain.ErrDisputed),
			errors.Is(err, escrowdomain.ErrRefundInProgress):
			result.Deferred++
		default:
			result.Failed++
			s.log.Warn("payout attempt failed",
				zap.String("payment_id", id.String()),
				zap.Error(err),
			)
		}
	}
	return result
}

// alertOnFailure raises an operator alert once a payment has been failed for
// manual settlement, and lets the worker know.
func (s *Service) alertOnFailure(ctx context.Context, payment *escrowdomain.ShiftPayment) {
	if payment == nil || payment.Status != escrowdomain.StatusFailed || !s.settings.Get().NotifyPayoutFailed {
		return
	}
	fields := map[string]string{
		"payment_id":    payment.ID.String(),
		"worker_id":     payment.WorkerID.String(),
		"worker_amount": payment.WorkerAmount.StringFixed(2) + " " + payment.Currency,
		"retry_count":   strconv.Itoa(payment.PayoutRetryCount),
	}
	if payment.LastPayoutError != nil {
		fields["error"] = *payment.LastPayoutError
	}
	s.notifier.AdminAlert(ctx, "Payout failed and needs manual settlement", fields)
	s.notifier.Notify(ctx, payment.WorkerID.String(), notification.TemplatePayoutFailed, map[string]any{
		"payment_id": payment.ID.String(),
	})
}

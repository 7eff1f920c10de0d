package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/overtimestaff/escrow/internal/authorization"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	obsmetrics "github.com/overtimestaff/escrow/internal/observability/metrics"
	"github.com/overtimestaff/escrow/internal/paymentlock"
	"github.com/overtimestaff/escrow/internal/payout"
	"go.uber.org/zap"
)

// AutoReleaseJob releases in_escrow payments whose hold period has elapsed.
// Each payment is re-checked under its row lock, so a payment that was held
// or disputed after selection is skipped.
func (s *Scheduler) AutoReleaseJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobAutoRelease, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectPayment, authorization.ActionPaymentRelease); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", JobAutoRelease, 0, err)
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		selectStart := s.clock.Now()
		ids, err := s.escrow.DueForRelease(ctx, s.cfg.BatchSize)
		schedMetrics.ObserveDBLockWait(obsmetrics.LockResourcePaymentsForRelease, s.clock.Now().Sub(selectStart))
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.release.select_failed", JobAutoRelease, 0, err)
			return errors.Join(jobErr, err)
		}
		if len(ids) == 0 {
			break
		}

		released := 0
		for _, id := range ids {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}
			payment, err := s.escrow.ReleaseAfterHoldPeriod(ctx, id.String())
			if err == nil {
				released++
				if payment != nil {
					schedMetrics.IncPaymentTransition(JobAutoRelease, string(payment.Status))
				}
				continue
			}
			if s.deferred(ctx, JobAutoRelease, id, err) {
				continue
			}
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.release.failed", JobAutoRelease, id, err)
		}
		run.AddProcessed(released)
		schedMetrics.AddBatchProcessed(JobAutoRelease, obsmetrics.LockResourcePaymentsForRelease, released)

		// a batch where nothing moved would be selected again unchanged
		if released == 0 || len(ids) < s.cfg.BatchSize {
			break
		}
	}
	return jobErr
}

// deferred reports whether err means the payment is left for a later tick:
// another worker holds it, its version moved, or its state no longer allows
// the transition.
func (s *Scheduler) deferred(ctx context.Context, job string, id snowflake.ID, err error) bool {
	schedMetrics := obsmetrics.Scheduler()
	switch {
	case errors.Is(err, paymentlock.ErrLocked):
		schedMetrics.IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonLocked)
	case errors.Is(err, escrowdomain.ErrConflict):
		schedMetrics.IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonConflict)
	case errors.Is(err, escrowdomain.ErrInvalidTransition),
		errors.Is(err, escrowdomain.ErrDisputed),
		errors.Is(err, escrowdomain.ErrRefundInProgress),
		errors.Is(err, escrowdomain.ErrPaymentNotFound):
		s.logger(ctx).Debug("scheduler.payment.skipped",
			zap.String("job", job),
			zap.String("payment_id", id.String()),
			zap.String("reason", err.Error()),
		)
	default:
		return false
	}
	return true
}

// PayoutJob pays out released payments, including ones stuck in processing.
func (s *Scheduler) PayoutJob(ctx context.Context) error {
	return s.payoutQueue(ctx, JobPayoutReleased, obsmetrics.LockResourcePaymentsForPayout, authorization.ActionPaymentPayout, true, s.payout.ProcessPending)
}

// PayoutRetryJob retries failed payouts that are still under the retry cap.
// It makes one pass per tick: a payment whose retry failed again stays in the
// queue, so draining would spend its whole retry budget within one tick.
func (s *Scheduler) PayoutRetryJob(ctx context.Context) error {
	return s.payoutQueue(ctx, JobPayoutRetry, obsmetrics.LockResourcePaymentsForRetry, authorization.ActionPaymentRetryPayout, false, s.payout.RetryFailed)
}

func (s *Scheduler) payoutQueue(
	ctx context.Context,
	job string,
	resource string,
	action string,
	drain bool,
	process func(context.Context, int) (payout.BatchResult, error),
) error {
	ctx, run, owner := s.ensureJobRun(ctx, job, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectPayment, action); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", job, 0, err)
		return err
	}

	schedMetrics := obsmetrics.Scheduler()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := process(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.payout.select_failed", job, 0, err)
			return err
		}

		run.AddProcessed(result.Succeeded)
		run.errorCount += result.Failed
		schedMetrics.AddBatchProcessed(job, resource, result.Succeeded)
		for range result.Succeeded {
			schedMetrics.IncPaymentTransition(job, string(escrowdomain.StatusPaidOut))
		}
		for range result.Deferred {
			schedMetrics.IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonLocked)
		}
		for range result.Conflicts {
			schedMetrics.IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonConflict)
		}

		// failed payouts leave the pending queue, deferred ones come back unchanged
		if !drain || result.Processed < s.cfg.BatchSize || result.Succeeded+result.Failed == 0 {
			return nil
		}
	}
}

// AgencyTierEvaluationJob re-evaluates every agency profile from its stored metrics.
func (s *Scheduler) AgencyTierEvaluationJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobAgencyTierEvaluation, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectAgencyTier, authorization.ActionAgencyTierEvaluate); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", JobAgencyTierEvaluation, 0, err)
		return err
	}

	result, err := s.agencyTier.EvaluateAll(ctx, s.cfg.BatchSize)
	run.AddProcessed(result.Evaluated)
	run.errorCount += result.Failed
	obsmetrics.Scheduler().AddBatchProcessed(JobAgencyTierEvaluation, obsmetrics.LockResourceAgencyProfiles, result.Evaluated)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.agency_tier.failed", JobAgencyTierEvaluation, 0, err)
		return err
	}
	if result.Changed > 0 {
		s.logger(ctx).Info("scheduler.agency_tier.changed",
			zap.Int("evaluated", result.Evaluated),
			zap.Int("changed", result.Changed),
			zap.Int("failed", result.Failed),
		)
	}
	return nil
}

package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/overtimestaff/escrow/internal/authorization"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded},
		{"forbidden", authorization.ErrForbidden, SchedulerJobReasonForbidden},
		{"db_lock_timeout", &pgconn.PgError{Code: "55P03"}, SchedulerJobReasonDBLockTimeout},
		{"serialization_failure", &pgconn.PgError{Code: "40001"}, SchedulerJobReasonSerializationFailure},
		{"deadlock", fmt.Errorf("release: %w", &pgconn.PgError{Code: "40P01"}), SchedulerJobReasonSerializationFailure},
		{"unique_violation", gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation},
		{"unknown", errors.New("boom"), SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
		})
	}
}

func TestClassifySchedulerErrorType(t *testing.T) {
	assert.Equal(t, SchedulerErrorTypeUnknown, ClassifySchedulerErrorType(nil))
	assert.Equal(t, SchedulerErrorTypeDB, ClassifySchedulerErrorType(&pgconn.PgError{Code: "XX000"}))
	assert.Equal(t, SchedulerErrorTypeBusinessRule, ClassifySchedulerErrorType(errors.New("invalid_transition")))
	assert.False(t, IsSchedulerErrorRetryable(gorm.ErrRecordNotFound))
	assert.True(t, IsSchedulerErrorRetryable(context.Canceled))
}

func TestSchedulerMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := ResetSchedulerMetricsForTest(reg, Config{ServiceName: "test", Environment: "test"})
	t.Cleanup(func() { ResetSchedulerMetricsForTest(prometheus.NewRegistry(), Config{}) })

	m.IncJobRun("auto_release")
	m.IncJobRun("auto_release")
	m.IncPaymentTransition("auto_release", "released")
	m.AddBatchProcessed("auto_release", "shift_payments", 3)
	m.AddBatchProcessed("auto_release", "shift_payments", 0)
	m.IncJobError("payout_retry", &pgconn.PgError{Code: "55P03"})
	m.ObserveDBLockWait(LockResourcePaymentsForRelease, 10*time.Millisecond)
	m.ObserveRunLoopLag(-time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("auto_release")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentTransitions.WithLabelValues("auto_release", "released")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.batchProcessed.WithLabelValues("auto_release", "shift_payments")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("payout_retry", SchedulerJobReasonDBLockTimeout)))

	count, err := testutil.GatherAndCount(reg, "escrow_scheduler_db_lock_wait_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.IncJobRun("x")
	m.ObserveJobDuration("x", time.Second)
	m.IncJobTimeout("x")
	m.IncJobError("x", errors.New("boom"))
	m.AddBatchProcessed("x", "y", 1)
	m.IncBatchDeferred("x", SchedulerBatchDeferredReasonLocked)
	m.ObserveRunLoopLag(time.Second)
	m.IncPaymentTransition("x", "released")
	m.ObserveDBLockWait("x", time.Second)
}

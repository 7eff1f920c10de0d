package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/overtimestaff/escrow/internal/agencytier/domain"
	"github.com/overtimestaff/escrow/internal/authorization"
	"github.com/overtimestaff/escrow/internal/clock"
	"github.com/overtimestaff/escrow/internal/config"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"github.com/overtimestaff/escrow/internal/notification"
	obsmetrics "github.com/overtimestaff/escrow/internal/observability/metrics"
	"github.com/overtimestaff/escrow/internal/paymentlock"
	"github.com/overtimestaff/escrow/internal/payout"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockEscrow struct {
	mock.Mock
	escrowdomain.Service
}

func (m *mockEscrow) DueForRelease(ctx context.Context, limit int) ([]snowflake.ID, error) {
	args := m.Called(limit)
	ids, _ := args.Get(0).([]snowflake.ID)
	return ids, args.Error(1)
}

func (m *mockEscrow) ReleaseAfterHoldPeriod(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	args := m.Called(id)
	p, _ := args.Get(0).(*escrowdomain.ShiftPayment)
	return p, args.Error(1)
}

func (m *mockEscrow) PendingPayouts(ctx context.Context, limit int) ([]snowflake.ID, error) {
	args := m.Called(limit)
	ids, _ := args.Get(0).([]snowflake.ID)
	return ids, args.Error(1)
}

func (m *mockEscrow) FailedPayouts(ctx context.Context, limit int) ([]snowflake.ID, error) {
	args := m.Called(limit)
	ids, _ := args.Get(0).([]snowflake.ID)
	return ids, args.Error(1)
}

func (m *mockEscrow) Payout(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	args := m.Called(id)
	p, _ := args.Get(0).(*escrowdomain.ShiftPayment)
	return p, args.Error(1)
}

func (m *mockEscrow) RetryPayout(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error) {
	args := m.Called(id)
	p, _ := args.Get(0).(*escrowdomain.ShiftPayment)
	return p, args.Error(1)
}

type mockTiers struct {
	mock.Mock
	tierdomain.Service
}

func (m *mockTiers) EvaluateAll(ctx context.Context, batchSize int) (tierdomain.EvaluateAllResult, error) {
	args := m.Called(batchSize)
	return args.Get(0).(tierdomain.EvaluateAllResult), args.Error(1)
}

type stubAuthz struct{ err error }

func (a stubAuthz) Authorize(ctx context.Context, role, actorID, object, action string) error {
	if role != authorization.RoleSystem {
		return authorization.ErrForbidden
	}
	return a.err
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, notification.Template, map[string]any) {}

func (nopNotifier) AdminAlert(context.Context, string, map[string]string) {}

type fixture struct {
	sched    *Scheduler
	escrow   *mockEscrow
	tiers    *mockTiers
	registry *prometheus.Registry
}

func newFixture(t *testing.T, cfg Config, authzErr error) *fixture {
	t.Helper()
	registry := prometheus.NewRegistry()
	obsmetrics.ResetSchedulerMetricsForTest(registry, obsmetrics.Config{
		ServiceName: "escrow",
		Environment: "test",
	})
	t.Cleanup(func() {
		obsmetrics.ResetSchedulerMetricsForTest(prometheus.NewRegistry(), obsmetrics.Config{})
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	esc := &mockEscrow{}
	tiers := &mockTiers{}
	payouts := payout.New(payout.Params{
		Log:      zap.NewNop(),
		Escrow:   esc,
		Notifier: nopNotifier{},
		Settings: config.NewStaticSettingsHolder(config.DefaultAdminSettings()),
	})
	sched, err := New(Params{
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		Escrow:     esc,
		Payout:     payouts,
		AgencyTier: tiers,
		AuthzSvc:   stubAuthz{err: authzErr},
		Config:     cfg,
	})
	require.NoError(t, err)
	return &fixture{sched: sched, escrow: esc, tiers: tiers, registry: registry}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	err := f.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "escrow",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "escrow_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "escrow",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "escrow_scheduler_job_errors_total", errorLabels))
}

func TestRunJobWrapsFailures(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	boom := errors.New("boom")

	err := f.sched.runJob(context.Background(), "failing_job", 1, time.Second, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
}

func TestAutoReleaseJobSkipsLockedAndDisputedPayments(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 10}, nil)
	f.escrow.On("DueForRelease", 10).Return([]snowflake.ID{1, 2, 3}, nil).Once()
	f.escrow.On("ReleaseAfterHoldPeriod", "1").
		Return(&escrowdomain.ShiftPayment{ID: 1, Status: escrowdomain.StatusReleased}, nil)
	f.escrow.On("ReleaseAfterHoldPeriod", "2").
		Return(nil, fmt.Errorf("%w: %w", escrowdomain.ErrConflict, paymentlock.ErrLocked))
	f.escrow.On("ReleaseAfterHoldPeriod", "3").Return(nil, escrowdomain.ErrDisputed)

	require.NoError(t, f.sched.AutoReleaseJob(context.Background()))
	f.escrow.AssertExpectations(t)

	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "escrow_scheduler_batch_processed_total", map[string]string{
		"service":  "escrow",
		"env":      "test",
		"job":      JobAutoRelease,
		"resource": obsmetrics.LockResourcePaymentsForRelease,
	}))
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "escrow_scheduler_batch_deferred_total", map[string]string{
		"service": "escrow",
		"env":     "test",
		"job":     JobAutoRelease,
		"reason":  obsmetrics.SchedulerBatchDeferredReasonLocked,
	}))
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "escrow_scheduler_payment_transitions_total", map[string]string{
		"service": "escrow",
		"env":     "test",
		"job":     JobAutoRelease,
		"to":      string(escrowdomain.StatusReleased),
	}))
}

func TestAutoReleaseJobStopsWhenNothingMoves(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2}, nil)
	f.escrow.On("DueForRelease", 2).Return([]snowflake.ID{7, 8}, nil).Once()
	f.escrow.On("ReleaseAfterHoldPeriod", mock.Anything).Return(nil, escrowdomain.ErrConflict)

	require.NoError(t, f.sched.AutoReleaseJob(context.Background()))
	f.escrow.AssertNumberOfCalls(t, "DueForRelease", 1)
}

func TestAutoReleaseJobDrainsFullBatches(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2}, nil)
	f.escrow.On("DueForRelease", 2).Return([]snowflake.ID{1, 2}, nil).Once()
	f.escrow.On("DueForRelease", 2).Return([]snowflake.ID{3}, nil).Once()
	f.escrow.On("ReleaseAfterHoldPeriod", mock.Anything).
		Return(&escrowdomain.ShiftPayment{Status: escrowdomain.StatusReleased}, nil)

	require.NoError(t, f.sched.AutoReleaseJob(context.Background()))
	f.escrow.AssertNumberOfCalls(t, "ReleaseAfterHoldPeriod", 3)
}

func TestAutoReleaseJobReportsUnexpectedErrors(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 10}, nil)
	boom := errors.New("ledger unbalanced")
	f.escrow.On("DueForRelease", 10).Return([]snowflake.ID{4}, nil).Once()
	f.escrow.On("ReleaseAfterHoldPeriod", "4").Return(nil, boom)

	err := f.sched.AutoReleaseJob(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestJobsRequireSystemAuthorization(t *testing.T) {
	f := newFixture(t, Config{}, authorization.ErrForbidden)

	assert.ErrorIs(t, f.sched.AutoReleaseJob(context.Background()), authorization.ErrForbidden)
	assert.ErrorIs(t, f.sched.PayoutJob(context.Background()), authorization.ErrForbidden)
	f.escrow.AssertNotCalled(t, "DueForRelease", mock.Anything)
	f.escrow.AssertNotCalled(t, "PendingPayouts", mock.Anything)
}

func TestPayoutJobCountsOutcomes(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 10}, nil)
	f.escrow.On("PendingPayouts", 10).Return([]snowflake.ID{11, 12, 13}, nil).Once()
	f.escrow.On("Payout", "11").Return(&escrowdomain.ShiftPayment{ID: 11, Status: escrowdomain.StatusPaidOut}, nil)
	f.escrow.On("Payout", "12").Return(nil, fmt.Errorf("%w: %w", escrowdomain.ErrConflict, paymentlock.ErrLocked))
	f.escrow.On("Payout", "13").Return(nil, escrowdomain.ErrConflict)

	require.NoError(t, f.sched.PayoutJob(context.Background()))

	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "escrow_scheduler_payment_transitions_total", map[string]string{
		"service": "escrow",
		"env":     "test",
		"job":     JobPayoutReleased,
		"to":      string(escrowdomain.StatusPaidOut),
	}))
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "escrow_scheduler_batch_deferred_total", map[string]string{
		"service": "escrow",
		"env":     "test",
		"job":     JobPayoutReleased,
		"reason":  obsmetrics.SchedulerBatchDeferredReasonConflict,
	}))
}

func TestPayoutRetryJobMakesOnePassPerTick(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2}, nil)
	outage := &escrowdomain.ExternalServiceError{Op: "transfer", Transient: true, Err: errors.New("upstream timeout")}
	f.escrow.On("FailedPayouts", 2).Return([]snowflake.ID{21, 22}, nil)
	f.escrow.On("RetryPayout", "21").Return(&escrowdomain.ShiftPayment{ID: 21, Status: escrowdomain.StatusReleased}, outage)
	f.escrow.On("RetryPayout", "22").Return(&escrowdomain.ShiftPayment{ID: 22, Status: escrowdomain.StatusReleased}, outage)

	require.NoError(t, f.sched.PayoutRetryJob(context.Background()))

	f.escrow.AssertNumberOfCalls(t, "FailedPayouts", 1)
	f.escrow.AssertNumberOfCalls(t, "RetryPayout", 2)
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 5, EnabledJobs: []string{"PAYOUT_RETRY"}}, nil)
	f.escrow.On("FailedPayouts", 5).Return([]snowflake.ID{}, nil).Once()

	require.NoError(t, f.sched.RunOnce(context.Background()))
	f.escrow.AssertExpectations(t)
	f.escrow.AssertNotCalled(t, "DueForRelease", mock.Anything)
	f.escrow.AssertNotCalled(t, "PendingPayouts", mock.Anything)
	f.tiers.AssertNotCalled(t, "EvaluateAll", mock.Anything)
}

func TestRunOnceRunsEveryJobAndJoinsErrors(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 5}, nil)
	boom := errors.New("db down")
	f.escrow.On("DueForRelease", 5).Return(nil, boom).Once()
	f.escrow.On("PendingPayouts", 5).Return([]snowflake.ID{}, nil).Once()
	f.escrow.On("FailedPayouts", 5).Return([]snowflake.ID{}, nil).Once()
	f.tiers.On("EvaluateAll", 5).Return(tierdomain.EvaluateAllResult{Evaluated: 3, Changed: 1}, nil).Once()

	err := f.sched.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobAutoRelease)
	f.escrow.AssertExpectations(t)
	f.tiers.AssertExpectations(t)

	assert.Equal(t, 3.0, getCounterValue(t, f.registry, "escrow_scheduler_batch_processed_total", map[string]string{
		"service":  "escrow",
		"env":      "test",
		"job":      JobAgencyTierEvaluation,
		"resource": obsmetrics.LockResourceAgencyProfiles,
	}))
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{RunInterval: time.Hour, EnabledJobs: []string{JobAgencyTierEvaluation}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.tiers.On("EvaluateAll", mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(tierdomain.EvaluateAllResult{}, nil).Once()

	done := make(chan struct{})
	go func() {
		f.sched.RunForever(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	f.tiers.AssertExpectations(t)
}

type recordingPusher struct {
	gatherers []prometheus.Gatherer
}

func (p *recordingPusher) Push(ctx context.Context, g prometheus.Gatherer) error {
	p.gatherers = append(p.gatherers, g)
	return errors.New("pushgateway down")
}

func TestRunForeverPushesMetricsAfterEachTick(t *testing.T) {
	f := newFixture(t, Config{RunInterval: time.Hour, EnabledJobs: []string{JobAgencyTierEvaluation}}, nil)
	pusher := &recordingPusher{}
	f.sched.pusher = pusher
	f.sched.gatherer = f.registry

	ctx, cancel := context.WithCancel(context.Background())
	f.tiers.On("EvaluateAll", mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(tierdomain.EvaluateAllResult{}, nil).Once()

	f.sched.RunForever(ctx)

	require.Len(t, pusher.gatherers, 1)
	assert.Same(t, f.registry, pusher.gatherers[0])
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

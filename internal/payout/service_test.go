package payout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/overtimestaff/escrow/internal/config"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"github.com/overtimestaff/escrow/internal/notification"
	"github.com/overtimestaff/escrow/internal/paymentlock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockEscrow struct {
	mock.Mock
	escrowdomain.Service
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

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, userID string, tmpl notification.Template, payload map[string]any) {
	m.Called(userID, tmpl, payload)
}

func (m *mockNotifier) AdminAlert(ctx context.Context, subject string, fields map[string]string) {
	m.Called(subject, fields)
}

func newService(settings config.AdminSettings) (*Service, *mockEscrow, *mockNotifier) {
	esc := &mockEscrow{}
	n := &mockNotifier{}
	return New(Params{
		Log:      zap.NewNop(),
		Escrow:   esc,
		Notifier: n,
		Settings: config.NewStaticSettingsHolder(settings),
	}), esc, n
}

func payment(status escrowdomain.PaymentStatus, payout escrowdomain.PayoutStatus, retries int) *escrowdomain.ShiftPayment {
	msg := "card_declined"
	return &escrowdomain.ShiftPayment{
		ID:               501,
		WorkerID:         42,
		Status:           status,
		PayoutStatus:     payout,
		PayoutRetryCount: retries,
		LastPayoutError:  &msg,
		WorkerAmount:     decimal.RequireFromString("85.00"),
		Currency:         "USD",
	}
}

func TestRetryAtCapAlertsAdminAndWorker(t *testing.T) {
	svc, esc, n := newService(config.DefaultAdminSettings())
	failed := payment(escrowdomain.StatusFailed, escrowdomain.PayoutFailed, 3)
	transferErr := &escrowdomain.ExternalServiceError{Op: "transfer", Transient: true, Err: errors.New("timeout")}
	esc.On("RetryPayout", "501").Return(failed, transferErr).Once()

	fieldsOK := mock.MatchedBy(func(fields map[string]string) bool {
		return fields["payment_id"] == "501" && fields["retry_count"] == "3" &&
			fields["worker_amount"] == "85.00 USD" && fields["error"] == "card_declined"
	})
	n.On("AdminAlert", mock.Anything, fieldsOK).Once()
	n.On("Notify", "42", notification.TemplatePayoutFailed, mock.Anything).Once()

	p, err := svc.Retry(context.Background(), "501")
	assert.True(t, escrowdomain.IsTransient(err))
	assert.Equal(t, escrowdomain.StatusFailed, p.Status)
	n.AssertExpectations(t)
}

func TestRetryBelowCapDoesNotAlert(t *testing.T) {
	svc, esc, n := newService(config.DefaultAdminSettings())
	esc.On("RetryPayout", "501").
		Return(payment(escrowdomain.StatusReleased, escrowdomain.PayoutFailed, 1), &escrowdomain.ExternalServiceError{Op: "transfer", Transient: true, Err: errors.New("timeout")}).
		Once()

	_, err := svc.Retry(context.Background(), "501")
	require.Error(t, err)
	n.AssertNotCalled(t, "AdminAlert", mock.Anything, mock.Anything)
}

func TestAlertsRespectSetting(t *testing.T) {
	settings := config.DefaultAdminSettings()
	settings.NotifyPayoutFailed = false
	svc, esc, n := newService(settings)
	esc.On("Payout", "501").Return(payment(escrowdomain.StatusFailed, escrowdomain.PayoutFailed, 0), errors.New("account_closed")).Once()

	_, _ = svc.Payout(context.Background(), "501")
	n.AssertNotCalled(t, "AdminAlert", mock.Anything, mock.Anything)
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessPendingTalliesOutcomes(t *testing.T) {
	svc, esc, _ := newService(config.DefaultAdminSettings())
	esc.On("PendingPayouts", 10).Return([]snowflake.ID{1, 2, 3, 4, 5}, nil).Once()
	completed := payment(escrowdomain.StatusPaidOut, escrowdomain.PayoutCompleted, 0)
	esc.On("Payout", "1").Return(completed, nil).Once()
	esc.On("Payout", "2").Return(nil, fmt.Errorf("%w: %w", escrowdomain.ErrConflict, paymentlock.ErrLocked)).Once()
	esc.On("Payout", "3").Return(nil, escrowdomain.ErrConflict).Once()
	esc.On("Payout", "4").Return(nil, escrowdomain.ErrDisputed).Once()
	esc.On("Payout", "5").
		Return(payment(escrowdomain.StatusReleased, escrowdomain.PayoutFailed, 0), &escrowdomain.ExternalServiceError{Op: "transfer", Transient: true, Err: errors.New("timeout")}).
		Once()

	result, err := svc.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 5, Succeeded: 1, Failed: 1, Deferred: 2, Conflicts: 1}, result)
	esc.AssertExpectations(t)
}

func TestRetryFailedStopsOnCancelledContext(t *testing.T) {
	svc, esc, _ := newService(config.DefaultAdminSettings())
	esc.On("FailedPayouts", 5).Return([]snowflake.ID{1, 2}, nil).Once()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.RetryFailed(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	esc.AssertNotCalled(t, "RetryPayout", mock.Anything)
}

func TestProcessPendingPropagatesQueryError(t *testing.T) {
	svc, esc, _ := newService(config.DefaultAdminSettings())
	esc.On("PendingPayouts", 10).Return(nil, errors.New("db down")).Once()

	_, err := svc.ProcessPending(context.Background(), 10)
	assert.EqualError(t, err, "db down")
}

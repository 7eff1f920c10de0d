package dispute

import (
	"context"
	"testing"
	"time"

	"github.com/overtimestaff/escrow/internal/config"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"github.com/overtimestaff/escrow/internal/notification"
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

func (m *mockEscrow) FileDispute(ctx context.Context, id string, req escrowdomain.FileDisputeRequest) (*escrowdomain.ShiftPayment, error) {
	args := m.Called(id, req)
	p, _ := args.Get(0).(*escrowdomain.ShiftPayment)
	return p, args.Error(1)
}

func (m *mockEscrow) ResolveDispute(ctx context.Context, id string, req escrowdomain.ResolveDisputeRequest) (*escrowdomain.ShiftPayment, error) {
	args := m.Called(id, req)
	p, _ := args.Get(0).(*escrowdomain.ShiftPayment)
	return p, args.Error(1)
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

func resolvedPayment() *escrowdomain.ShiftPayment {
	resolution := escrowdomain.ResolutionRefund
	notes := "business refunded in full"
	admin := "internal only"
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return &escrowdomain.ShiftPayment{
		ID:                77,
		WorkerID:          42,
		BusinessID:        7,
		Status:            escrowdomain.StatusRefunded,
		DisputeResolution: &resolution,
		ResolutionNotes:   &notes,
		AdminDisputeNotes: &admin,
		DisputeResolvedAt: &now,
		RefundAmount:      decimal.NewNullDecimal(decimal.NewFromInt(100)),
	}
}

func TestResolveNotifiesBothPartiesWithoutAdminNotes(t *testing.T) {
	svc, esc, n := newService(config.DefaultAdminSettings())
	amount := decimal.NewFromInt(100)
	req := escrowdomain.ResolveDisputeRequest{Resolution: "refund", ResolutionNotes: "business refunded in full", RefundAmount: &amount}
	esc.On("ResolveDispute", "77", req).Return(resolvedPayment(), nil).Once()

	payloadOK := mock.MatchedBy(func(payload map[string]any) bool {
		_, leaked := payload["admin_notes"]
		return payload["resolution_notes"] == "business refunded in full" &&
			payload["refund_amount"] == "100.00" &&
			payload["payment_id"] == "77" && !leaked
	})
	n.On("Notify", "42", notification.TemplateDisputeResolved, payloadOK).Once()
	n.On("Notify", "7", notification.TemplateDisputeResolved, payloadOK).Once()

	p, err := svc.Resolve(context.Background(), "77", req)
	require.NoError(t, err)
	assert.Equal(t, escrowdomain.StatusRefunded, p.Status)
	esc.AssertExpectations(t)
	n.AssertExpectations(t)
}

func TestResolveValidatesBeforeTouchingEscrow(t *testing.T) {
	svc, esc, n := newService(config.DefaultAdminSettings())
	amount := decimal.NewFromInt(10)

	cases := []struct {
		req  escrowdomain.ResolveDisputeRequest
		want error
	}{
		{escrowdomain.ResolveDisputeRequest{Resolution: "split", ResolutionNotes: "x"}, escrowdomain.ErrInvalidResolution},
		{escrowdomain.ResolveDisputeRequest{Resolution: "release", ResolutionNotes: " "}, escrowdomain.ErrInvalidResolutionNotes},
		{escrowdomain.ResolveDisputeRequest{Resolution: "refund", ResolutionNotes: "x"}, escrowdomain.ErrInvalidRefundAmount},
		{escrowdomain.ResolveDisputeRequest{Resolution: "release", ResolutionNotes: "x", RefundAmount: &amount}, escrowdomain.ErrInvalidRefundAmount},
	}
	for _, tc := range cases {
		_, err := svc.Resolve(context.Background(), "77", tc.req)
		assert.ErrorIs(t, err, tc.want)
	}
	esc.AssertNotCalled(t, "ResolveDispute", mock.Anything, mock.Anything)
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveSkipsNotificationsWhenDisabled(t *testing.T) {
	settings := config.DefaultAdminSettings()
	settings.NotifyDisputeResolved = false
	svc, esc, n := newService(settings)
	req := escrowdomain.ResolveDisputeRequest{Resolution: "release", ResolutionNotes: "ok"}
	esc.On("ResolveDispute", "77", req).Return(resolvedPayment(), nil).Once()

	_, err := svc.Resolve(context.Background(), "77", req)
	require.NoError(t, err)
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolvePropagatesNotDisputed(t *testing.T) {
	svc, esc, n := newService(config.DefaultAdminSettings())
	req := escrowdomain.ResolveDisputeRequest{Resolution: "release", ResolutionNotes: "ok"}
	esc.On("ResolveDispute", "77", req).Return(nil, escrowdomain.ErrNotDisputed).Once()

	_, err := svc.Resolve(context.Background(), "77", req)
	assert.ErrorIs(t, err, escrowdomain.ErrNotDisputed)
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestFileNotifiesParties(t *testing.T) {
	svc, esc, n := newService(config.DefaultAdminSettings())
	party := escrowdomain.PartyWorker
	req := escrowdomain.FileDisputeRequest{FiledBy: "worker", Reason: "no show"}
	esc.On("FileDispute", "77", req).Return(&escrowdomain.ShiftPayment{
		ID: 77, WorkerID: 42, BusinessID: 7, DisputeFiledBy: &party, TotalAmount: decimal.NewFromInt(100),
	}, nil).Once()
	n.On("Notify", mock.Anything, notification.TemplateDisputeFiled, mock.Anything).Twice()

	_, err := svc.File(context.Background(), "77", req)
	require.NoError(t, err)
	n.AssertExpectations(t)
}

func TestFileNotificationsFollowTheirOwnSetting(t *testing.T) {
	party := escrowdomain.PartyBusiness
	req := escrowdomain.FileDisputeRequest{FiledBy: "business", Reason: "late"}
	filed := &escrowdomain.ShiftPayment{
		ID: 77, WorkerID: 42, BusinessID: 7, DisputeFiledBy: &party, TotalAmount: decimal.NewFromInt(100),
	}

	settings := config.DefaultAdminSettings()
	settings.NotifyDisputeFiled = false
	svc, esc, n := newService(settings)
	esc.On("FileDispute", "77", req).Return(filed, nil).Once()
	_, err := svc.File(context.Background(), "77", req)
	require.NoError(t, err)
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)

	settings = config.DefaultAdminSettings()
	settings.NotifyDisputeResolved = false
	svc, esc, n = newService(settings)
	esc.On("FileDispute", "77", req).Return(filed, nil).Once()
	n.On("Notify", mock.Anything, notification.TemplateDisputeFiled, mock.Anything).Twice()
	_, err = svc.File(context.Background(), "77", req)
	require.NoError(t, err)
	n.AssertExpectations(t)
}

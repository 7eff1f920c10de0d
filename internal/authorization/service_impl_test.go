package authorization

import (
	"context"
	"testing"

	"github.com/overtimestaff/escrow/internal/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(dbtest.Open(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeRoles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		role   string
		object string
		action string
		allow  bool
	}{
		{RoleAdmin, ObjectPayment, ActionPaymentRefund, true},
		{RoleAdmin, ObjectDispute, ActionDisputeNotes, true},
		{RoleAdmin, ObjectAgencyTier, ActionAgencyTierAdjust, true},
		{RoleFinance, ObjectDispute, ActionDisputeResolve, true},
		{RoleFinance, ObjectPricing, ActionPricingManage, false},
		{RoleSupport, ObjectPayment, ActionPaymentHold, true},
		{RoleSupport, ObjectPayment, ActionPaymentRefund, false},
		{RoleWorker, ObjectDispute, ActionDisputeFile, true},
		{RoleWorker, ObjectPayment, ActionPaymentView, false},
		{RoleSystem, ObjectPayment, ActionPaymentRelease, true},
		{RoleSystem, ObjectDispute, ActionDisputeResolve, false},
	}
	for _, tc := range cases {
		err := svc.Authorize(ctx, tc.role, "u-1", tc.object, tc.action)
		if tc.allow {
			assert.NoError(t, err, "%s %s", tc.role, tc.action)
		} else {
			assert.ErrorIs(t, err, ErrForbidden, "%s %s", tc.role, tc.action)
		}
	}
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	assert.ErrorIs(t, svc.Authorize(ctx, " ", "", ObjectPayment, ActionPaymentView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleAdmin, "", "", ActionPaymentView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleAdmin, "", ObjectPayment, ""), ErrInvalidAction)
}

func TestNewEnforcerIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	_, err := NewEnforcer(db)
	require.NoError(t, err)
	_, err = NewEnforcer(db)
	require.NoError(t, err)
}

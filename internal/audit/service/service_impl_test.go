package service_test

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/overtimestaff/escrow/internal/audit/domain"
	"github.com/overtimestaff/escrow/internal/audit/repository"
	"github.com/overtimestaff/escrow/internal/audit/service"
	"github.com/overtimestaff/escrow/internal/clock"
	"github.com/overtimestaff/escrow/internal/dbtest"
	obscontext "github.com/overtimestaff/escrow/internal/observability/context"
	"github.com/overtimestaff/escrow/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAuditService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	return service.NewService(service.Params{
		DB:    dbtest.Open(t),
		Log:   zap.NewNop(),
		GenID: dbtest.Node(t),
		Clock: clk,
		Repo:  repository.Provide(),
	}), clk
}

func strPtr(v string) *string { return &v }

func TestAuditLogResolvesActorFromContext(t *testing.T) {
	svc, _ := newAuditService(t)
	ctx := obscontext.WithActor(context.Background(), "admin", "u-7")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	ctx = obscontext.WithIPAddress(ctx, "10.0.0.1")

	err := svc.AuditLog(ctx, "", nil, "payment.hold", "shift_payment", strPtr("99"), map[string]any{
		"reason":          "investigating",
		"destination_ref": "acct_0123456789",
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TargetType: "shift_payment", TargetID: "99"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "admin", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "u-7", *entry.ActorID)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.1", *entry.IPAddress)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Equal(t, "acct_****6789", entry.Metadata["destination_ref"])
	assert.Equal(t, "investigating", entry.Metadata["reason"])
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc, _ := newAuditService(t)
	require.NoError(t, svc.AuditLog(context.Background(), "", nil, "payment.auto_release", "shift_payment", strPtr("1"), nil))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), resp.AuditLogs[0].ActorType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestAuditLogRejectsBlankAction(t *testing.T) {
	svc, _ := newAuditService(t)
	err := svc.AuditLog(context.Background(), "system", nil, "  ", "shift_payment", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, clk := newAuditService(t)
	ctx := context.Background()
	for _, action := range []string{"payment.create", "payment.capture", "payment.release"} {
		require.NoError(t, svc.AuditLog(ctx, "system", nil, action, "shift_payment", strPtr("5"), nil))
		clk.Advance(time.Minute)
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "payment.release", first.AuditLogs[0].Action)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "payment.create", second.AuditLogs[0].Action)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "not-a-token"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := clk.Now()
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}

package service_test

import (
	"context"
	"testing"
	"time"

	tierdomain "github.com/overtimestaff/escrow/internal/agencytier/domain"
	"github.com/overtimestaff/escrow/internal/agencytier/repository"
	"github.com/overtimestaff/escrow/internal/agencytier/service"
	auditrepository "github.com/overtimestaff/escrow/internal/audit/repository"
	auditservice "github.com/overtimestaff/escrow/internal/audit/service"
	"github.com/overtimestaff/escrow/internal/clock"
	"github.com/overtimestaff/escrow/internal/dbtest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	svc   tierdomain.Service
	db    *gorm.DB
	clk   *clock.FakeClock
	tiers []*tierdomain.AgencyTier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	clk := clock.NewFakeClock(baseTime)
	log := zap.NewNop()
	svc := service.NewService(service.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide(),
		}),
	})

	f := &fixture{svc: svc, db: db, clk: clk}
	for _, req := range []tierdomain.CreateTierRequest{
		{Level: 1, Name: "Bronze", PricingTier: "bronze"},
		{Level: 2, Name: "Silver", PricingTier: "silver", MinMonthlyRevenue: dec("5000"), MinActiveWorkers: 10, MinFillRate: dec("80"), MinRating: dec("4.0")},
		{Level: 3, Name: "Gold", PricingTier: "gold", MinMonthlyRevenue: dec("20000"), MinActiveWorkers: 50, MinFillRate: dec("90"), MinRating: dec("4.5"),
			Benefits: tierdomain.Benefits{"dedicated_support": true}},
	} {
		tier, err := svc.CreateTier(context.Background(), req)
		require.NoError(t, err)
		f.tiers = append(f.tiers, tier)
	}
	return f
}

func silverMetrics() tierdomain.Metrics {
	return tierdomain.Metrics{MonthlyRevenue: dec("8000"), ActiveWorkers: 12, FillRate: dec("85"), Rating: dec("4.2")}
}

func countHistory(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM agency_tier_histories`).Scan(&n).Error)
	return n
}

func TestEvaluateAssignsInitialThenUpgrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	eval, err := f.svc.Evaluate(ctx, "900", silverMetrics())
	require.NoError(t, err)
	require.NotNil(t, eval.History)
	assert.Equal(t, tierdomain.ChangeInitial, eval.History.ChangeType)
	assert.Nil(t, eval.History.FromTierID)
	assert.Equal(t, "Silver", eval.Tier.Name)

	again, err := f.svc.Evaluate(ctx, "900", silverMetrics())
	require.NoError(t, err)
	assert.Nil(t, again.History)
	assert.Equal(t, int64(1), countHistory(t, f.db))

	f.clk.Advance(24 * time.Hour)
	gold := tierdomain.Metrics{MonthlyRevenue: dec("25000"), ActiveWorkers: 60, FillRate: dec("95"), Rating: dec("4.8")}
	up, err := f.svc.Evaluate(ctx, "900", gold)
	require.NoError(t, err)
	require.NotNil(t, up.History)
	assert.Equal(t, tierdomain.ChangeUpgrade, up.History.ChangeType)
	assert.Equal(t, f.tiers[1].ID, *up.History.FromTierID)
	assert.Equal(t, int64(2), countHistory(t, f.db))

	history, err := f.svc.History(ctx, "900")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, tierdomain.ChangeUpgrade, history[0].ChangeType)
	assert.Equal(t, 60, history[0].MetricsSnapshot.Data().ActiveWorkers)

	pricingTier, err := f.svc.PricingTierFor(ctx, "900")
	require.NoError(t, err)
	assert.Equal(t, "gold", pricingTier)
}

func TestEvaluateRequiresEveryThreshold(t *testing.T) {
	f := newFixture(t)
	m := silverMetrics()
	m.Rating = dec("3.9")

	eval, err := f.svc.Evaluate(context.Background(), "901", m)
	require.NoError(t, err)
	assert.Equal(t, "Bronze", eval.Tier.Name)
}

func TestEvaluateRejectsInvalidMetrics(t *testing.T) {
	f := newFixture(t)
	m := silverMetrics()
	m.Rating = dec("5.5")

	_, err := f.svc.Evaluate(context.Background(), "901", m)
	assert.ErrorIs(t, err, tierdomain.ErrInvalidMetrics)

	_, err = f.svc.Evaluate(context.Background(), "abc", silverMetrics())
	assert.ErrorIs(t, err, tierdomain.ErrInvalidID)
}

func TestManualAdjustRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Evaluate(ctx, "902", silverMetrics())
	require.NoError(t, err)

	_, err = f.svc.ManualAdjust(ctx, "902", tierdomain.ManualAdjustRequest{TierID: f.tiers[0].ID.String(), Reason: "  "})
	assert.ErrorIs(t, err, tierdomain.ErrInvalidReason)
	assert.True(t, tierdomain.IsValidation(err))
	assert.Equal(t, int64(1), countHistory(t, f.db))
}

func TestManualAdjustAppendsOneManualRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Evaluate(ctx, "903", silverMetrics())
	require.NoError(t, err)

	eval, err := f.svc.ManualAdjust(ctx, "903", tierdomain.ManualAdjustRequest{
		TierID: f.tiers[0].ID.String(),
		Reason: "repeated no-shows",
		Actor:  "admin-7",
	})
	require.NoError(t, err)
	assert.Equal(t, tierdomain.ChangeDowngrade, eval.History.ChangeType)
	assert.True(t, eval.History.IsManual)
	assert.Equal(t, "admin-7", *eval.History.ChangedBy)
	assert.Equal(t, int64(2), countHistory(t, f.db))

	_, err = f.svc.ManualAdjust(ctx, "903", tierdomain.ManualAdjustRequest{TierID: f.tiers[0].ID.String(), Reason: "again"})
	assert.ErrorIs(t, err, tierdomain.ErrTierUnchanged)

	view, err := f.svc.GetProfile(ctx, "903")
	require.NoError(t, err)
	assert.Equal(t, "Bronze", view.Tier.Name)

	var audits int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM audit_logs WHERE action = ?`, "agency_tier.manual_adjusted").Scan(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestManualAdjustUnknownTier(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ManualAdjust(context.Background(), "904", tierdomain.ManualAdjustRequest{TierID: "12345", Reason: "x"})
	assert.ErrorIs(t, err, tierdomain.ErrTierNotFound)
}

func TestEvaluateAllUsesStoredMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"910", "911", "912"} {
		_, err := f.svc.Evaluate(ctx, id, silverMetrics())
		require.NoError(t, err)
	}
	require.NoError(t, f.db.Exec(`UPDATE agency_profiles SET rating = ? WHERE agency_id = ?`, "3.0", 911).Error)

	result, err := f.svc.EvaluateAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, tierdomain.EvaluateAllResult{Evaluated: 3, Changed: 1}, result)

	view, err := f.svc.GetProfile(ctx, "911")
	require.NoError(t, err)
	assert.Equal(t, "Bronze", view.Tier.Name)
}

func TestPricingTierForUnknownAgency(t *testing.T) {
	f := newFixture(t)
	tier, err := f.svc.PricingTierFor(context.Background(), "999")
	require.NoError(t, err)
	assert.Empty(t, tier)

	_, err = f.svc.GetProfile(context.Background(), "999")
	assert.ErrorIs(t, err, tierdomain.ErrProfileNotFound)
}

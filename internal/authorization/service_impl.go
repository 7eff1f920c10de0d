package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/overtimestaff/escrow/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleAdmin    = "admin"
	RoleFinance  = "finance"
	RoleSupport  = "support"
	RoleSystem   = "system"
	RoleWorker   = "worker"
	RoleBusiness = "business"
)

const (
	ObjectPayment    = "payment"
	ObjectDispute    = "dispute"
	ObjectPricing    = "pricing"
	ObjectAgencyTier = "agency_tier"
	ObjectStatistics = "statistics"
	ObjectAuditLog   = "audit_log"
)

const (
	ActionPaymentView        = "payment.view"
	ActionPaymentCreate      = "payment.create"
	ActionPaymentCapture     = "payment.capture"
	ActionPaymentHold        = "payment.hold"
	ActionPaymentRelease     = "payment.release"
	ActionPaymentPayout      = "payment.payout"
	ActionPaymentRetryPayout = "payment.retry_payout"
	ActionPaymentRefund      = "payment.refund"

	ActionDisputeFile    = "dispute.file"
	ActionDisputeResolve = "dispute.resolve"
	ActionDisputeNotes   = "dispute.notes"

	ActionPricingResolve = "pricing.resolve"
	ActionPricingManage  = "pricing.manage"

	ActionAgencyTierView     = "agency_tier.view"
	ActionAgencyTierAdjust   = "agency_tier.adjust"
	ActionAgencyTierEvaluate = "agency_tier.evaluate"

	ActionStatisticsView = "statistics.view"
	ActionAuditLogView   = "audit_log.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies from the casbin_rule table and seeds the built-in roles.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role string, actorID string, object string, action string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.audit(ctx, "authorization.denied", role, actorID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.audit(ctx, "authorization.granted", role, actorID, object, action)
	}
	return nil
}

func (s *ServiceImpl) audit(ctx context.Context, auditAction, role, actorID, object, action string) {
	if s.auditSvc == nil {
		return
	}
	var id *string
	if trimmed := strings.TrimSpace(actorID); trimmed != "" {
		id = &trimmed
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, role, id, auditAction, "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
	})
}

func roleSubject(role string) string {
	return "role:" + role
}

// Money-moving grants are audited in addition to the payment's own trail.
func shouldAuditGrant(action string) bool {
	switch action {
	case ActionPaymentRefund, ActionDisputeResolve, ActionAgencyTierAdjust, ActionPricingManage:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Support triages: read, freeze and annotate.
		{roleSubject(RoleSupport), ObjectPayment, ActionPaymentView},
		{roleSubject(RoleSupport), ObjectPayment, ActionPaymentHold},
		{roleSubject(RoleSupport), ObjectDispute, ActionDisputeNotes},
		{roleSubject(RoleSupport), ObjectAuditLog, ActionAuditLogView},
		{roleSubject(RoleSupport), ObjectAgencyTier, ActionAgencyTierView},

		// Finance moves money.
		{roleSubject(RoleFinance), ObjectPayment, ActionPaymentView},
		{roleSubject(RoleFinance), ObjectPayment, ActionPaymentCreate},
		{roleSubject(RoleFinance), ObjectPayment, ActionPaymentCapture},
		{roleSubject(RoleFinance), ObjectPayment, ActionPaymentRelease},
		{roleSubject(RoleFinance), ObjectPayment, ActionPaymentPayout},
		{roleSubject(RoleFinance), ObjectPayment, ActionPaymentRetryPayout},
		{roleSubject(RoleFinance), ObjectPayment, ActionPaymentRefund},
		{roleSubject(RoleFinance), ObjectDispute, ActionDisputeResolve},
		{roleSubject(RoleFinance), ObjectStatistics, ActionStatisticsView},
		{roleSubject(RoleFinance), ObjectPricing, ActionPricingResolve},

		// Admin-only configuration.
		{roleSubject(RoleAdmin), ObjectPricing, ActionPricingManage},
		{roleSubject(RoleAdmin), ObjectAgencyTier, ActionAgencyTierAdjust},
		{roleSubject(RoleAdmin), ObjectAgencyTier, ActionAgencyTierEvaluate},

		// Parties may only raise disputes.
		{roleSubject(RoleWorker), ObjectDispute, ActionDisputeFile},
		{roleSubject(RoleBusiness), ObjectDispute, ActionDisputeFile},

		// Scheduler and upstream booking integration.
		{roleSubject(RoleSystem), ObjectPayment, ActionPaymentCreate},
		{roleSubject(RoleSystem), ObjectPayment, ActionPaymentCapture},
		{roleSubject(RoleSystem), ObjectPayment, ActionPaymentRelease},
		{roleSubject(RoleSystem), ObjectPayment, ActionPaymentPayout},
		{roleSubject(RoleSystem), ObjectPayment, ActionPaymentRetryPayout},
		{roleSubject(RoleSystem), ObjectPricing, ActionPricingResolve},
		{roleSubject(RoleSystem), ObjectAgencyTier, ActionAgencyTierEvaluate},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	groupings := [][]string{
		{roleSubject(RoleAdmin), roleSubject(RoleFinance)},
		{roleSubject(RoleAdmin), roleSubject(RoleSupport)},
	}
	for _, g := range groupings {
		if _, err := enforcer.AddGroupingPolicy(g); err != nil {
			return err
		}
	}
	return nil
}

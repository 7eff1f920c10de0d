package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/overtimestaff/escrow/internal/agencytier/domain"
	auditdomain "github.com/overtimestaff/escrow/internal/audit/domain"
	"github.com/overtimestaff/escrow/internal/clock"
	obsctx "github.com/overtimestaff/escrow/internal/observability/context"
	pricingdomain "github.com/overtimestaff/escrow/internal/regionalpricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	auditTargetType  = "agency_profile"
	defaultBatchSize = 100
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     tierdomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     tierdomain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) tierdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("agencytier.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) CreateTier(ctx context.Context, req tierdomain.CreateTierRequest) (*tierdomain.AgencyTier, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.Level < 1 || req.MinActiveWorkers < 0 || req.PriorityBookingHours < 0 ||
		req.MinMonthlyRevenue.IsNegative() || req.MinFillRate.IsNegative() ||
		req.MinRating.IsNegative() || req.CommissionRate.IsNegative() {
		return nil, tierdomain.ErrInvalidTier
	}
	var pricingTier *string
	if raw := strings.TrimSpace(req.PricingTier); raw != "" {
		parsed, ok := pricingdomain.ParseTier(raw)
		if !ok {
			return nil, tierdomain.ErrInvalidTier
		}
		value := string(parsed)
		pricingTier = &value
	}
	benefits := req.Benefits
	if benefits == nil {
		benefits = tierdomain.Benefits{}
	}

	now := s.clock.Now()
	tier := &tierdomain.AgencyTier{
		ID:                   s.genID.Generate(),
		Level:                req.Level,
		Name:                 name,
		PricingTier:          pricingTier,
		MinMonthlyRevenue:    req.MinMonthlyRevenue,
		MinActiveWorkers:     req.MinActiveWorkers,
		MinFillRate:          req.MinFillRate,
		MinRating:            req.MinRating,
		CommissionRate:       req.CommissionRate,
		PriorityBookingHours: req.PriorityBookingHours,
		Benefits:             datatypes.NewJSONType(benefits),
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.InsertTier(ctx, s.db, tier); err != nil {
		return nil, err
	}
	return tier, nil
}

func (s *Service) ListTiers(ctx context.Context) ([]tierdomain.AgencyTier, error) {
	return s.repo.ListTiers(ctx, s.db, false)
}

func (s *Service) GetProfile(ctx context.Context, agencyID string) (*tierdomain.ProfileView, error) {
	id, err := parseID(agencyID)
	if err != nil {
		return nil, err
	}
	profile, err := s.repo.FindProfile(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, tierdomain.ErrProfileNotFound
	}
	view := &tierdomain.ProfileView{Profile: *profile}
	if profile.AgencyTierID != nil {
		if view.Tier, err = s.repo.FindTier(ctx, s.db, *profile.AgencyTierID); err != nil {
			return nil, err
		}
	}
	return view, nil
}

func (s *Service) History(ctx context.Context, agencyID string) ([]tierdomain.TierHistory, error) {
	id, err := parseID(agencyID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, s.db, id)
}

func (s *Service) PricingTierFor(ctx context.Context, agencyID string) (string, error) {
	view, err := s.GetProfile(ctx, agencyID)
	if errors.Is(err, tierdomain.ErrProfileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if view.Tier == nil || view.Tier.PricingTier == nil {
		return "", nil
	}
	return *view.Tier.PricingTier, nil
}

func (s *Service) Evaluate(ctx context.Context, agencyID string, metrics tierdomain.Metrics) (*tierdomain.Evaluation, error) {
	id, err := parseID(agencyID)
	if err != nil {
		return nil, err
	}
	if !metrics.Valid() {
		return nil, tierdomain.ErrInvalidMetrics
	}
	return s.evaluate(ctx, id, &metrics)
}

func (s *Service) EvaluateAll(ctx context.Context, batchSize int) (tierdomain.EvaluateAllResult, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	var (
		result tierdomain.EvaluateAllResult
		after  snowflake.ID
	)
	for {
		ids, err := s.repo.ListProfileIDs(ctx, s.db, after, batchSize)
		if err != nil {
			return result, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			eval, err := s.evaluate(ctx, id, nil)
			if err != nil {
				result.Failed++
				s.log.Warn("agency tier evaluation failed",
					zap.String("agency_id", id.String()),
					zap.Error(err),
				)
				continue
			}
			result.Evaluated++
			if eval.History != nil {
				result.Changed++
			}
		}
		if len(ids) < batchSize {
			return result, nil
		}
		after = ids[len(ids)-1]
	}
}

// evaluate moves the agency to the highest qualifying active tier. A nil
// metrics re-uses the stored snapshot. When nothing qualifies the current
// tier is kept.
func (s *Service) evaluate(ctx context.Context, agencyID snowflake.ID, metrics *tierdomain.Metrics) (*tierdomain.Evaluation, error) {
	var out *tierdomain.Evaluation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tiers, err := s.repo.ListTiers(ctx, tx, true)
		if err != nil {
			return err
		}
		profile, created, err := s.lockProfile(ctx, tx, agencyID, metrics != nil)
		if err != nil {
			return err
		}
		if metrics != nil {
			profile.SetMetrics(*metrics)
		}

		now := s.clock.Now()
		profile.LastEvaluatedAt = &now
		profile.UpdatedAt = now

		current, err := s.currentTier(ctx, tx, profile)
		if err != nil {
			return err
		}
		out = &tierdomain.Evaluation{Tier: current}
		if target := highestQualifying(tiers, profile.Metrics()); target != nil && (current == nil || current.ID != target.ID) {
			out.History = s.changeTier(profile, current, *target, now)
			out.Tier = target
		}

		if err := s.saveProfile(ctx, tx, profile, created); err != nil {
			return err
		}
		if out.History != nil {
			if err := s.repo.InsertHistory(ctx, tx, out.History); err != nil {
				return err
			}
		}
		out.Profile = *profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.History != nil {
		s.record(ctx, out, "agency_tier.changed")
	}
	return out, nil
}

func (s *Service) ManualAdjust(ctx context.Context, agencyID string, req tierdomain.ManualAdjustRequest) (*tierdomain.Evaluation, error) {
	id, err := parseID(agencyID)
	if err != nil {
		return nil, err
	}
	tierID, err := parseID(req.TierID)
	if err != nil {
		return nil, tierdomain.ErrInvalidTier
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, tierdomain.ErrInvalidReason
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		_, actor = obsctx.ActorFromContext(ctx)
	}

	var out *tierdomain.Evaluation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target, err := s.repo.FindTier(ctx, tx, tierID)
		if err != nil {
			return err
		}
		if target == nil {
			return tierdomain.ErrTierNotFound
		}
		if !target.IsActive {
			return tierdomain.ErrTierInactive
		}
		profile, created, err := s.lockProfile(ctx, tx, id, true)
		if err != nil {
			return err
		}
		current, err := s.currentTier(ctx, tx, profile)
		if err != nil {
			return err
		}
		if current != nil && current.ID == target.ID {
			return tierdomain.ErrTierUnchanged
		}

		now := s.clock.Now()
		profile.UpdatedAt = now
		history := s.changeTier(profile, current, *target, now)
		history.IsManual = true
		history.Reason = &reason
		if actor != "" {
			history.ChangedBy = &actor
		}

		if err := s.saveProfile(ctx, tx, profile, created); err != nil {
			return err
		}
		if err := s.repo.InsertHistory(ctx, tx, history); err != nil {
			return err
		}
		out = &tierdomain.Evaluation{Profile: *profile, Tier: target, History: history}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, out, "agency_tier.manual_adjusted")
	return out, nil
}

// lockProfile loads the profile under a row lock. With create set a missing
// profile is started empty, otherwise ErrProfileNotFound is returned.
func (s *Service) lockProfile(ctx context.Context, tx *gorm.DB, agencyID snowflake.ID, create bool) (*tierdomain.AgencyProfile, bool, error) {
	profile, err := s.repo.FindProfileForUpdate(ctx, tx, agencyID)
	if err != nil {
		return nil, false, err
	}
	if profile != nil {
		return profile, false, nil
	}
	if !create {
		return nil, false, tierdomain.ErrProfileNotFound
	}
	now := s.clock.Now()
	return &tierdomain.AgencyProfile{AgencyID: agencyID, CreatedAt: now, UpdatedAt: now}, true, nil
}

func (s *Service) currentTier(ctx context.Context, tx *gorm.DB, profile *tierdomain.AgencyProfile) (*tierdomain.AgencyTier, error) {
	if profile.AgencyTierID == nil {
		return nil, nil
	}
	return s.repo.FindTier(ctx, tx, *profile.AgencyTierID)
}

func (s *Service) saveProfile(ctx context.Context, tx *gorm.DB, profile *tierdomain.AgencyProfile, created bool) error {
	if created {
		return s.repo.InsertProfile(ctx, tx, profile)
	}
	return s.repo.UpdateProfile(ctx, tx, profile)
}

func (s *Service) changeTier(profile *tierdomain.AgencyProfile, from *tierdomain.AgencyTier, to tierdomain.AgencyTier, now time.Time) *tierdomain.TierHistory {
	history := &tierdomain.TierHistory{
		ID:              s.genID.Generate(),
		AgencyID:        profile.AgencyID,
		ToTierID:        to.ID,
		ChangeType:      tierdomain.ClassifyChange(from, to),
		MetricsSnapshot: datatypes.NewJSONType(profile.Metrics()),
		CreatedAt:       now,
	}
	if from != nil {
		fromID := from.ID
		history.FromTierID = &fromID
	}
	toID := to.ID
	profile.AgencyTierID = &toID
	profile.TierAchievedAt = &now
	return history
}

func (s *Service) record(ctx context.Context, eval *tierdomain.Evaluation, action string) {
	h := eval.History
	payload := map[string]any{
		"to_tier_id":  h.ToTierID.String(),
		"change_type": string(h.ChangeType),
		"is_manual":   h.IsManual,
	}
	if h.FromTierID != nil {
		payload["from_tier_id"] = h.FromTierID.String()
	}
	if h.Reason != nil {
		payload["reason"] = *h.Reason
	}

	targetID := eval.Profile.AgencyID.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, auditTargetType, &targetID, payload); err != nil {
		s.log.Warn("audit write failed",
			zap.String("agency_id", targetID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
	s.log.Info(action,
		zap.String("agency_id", targetID),
		zap.String("change_type", string(h.ChangeType)),
		zap.Bool("is_manual", h.IsManual),
	)
}

// highestQualifying expects tiers ordered by level ascending.
func highestQualifying(tiers []tierdomain.AgencyTier, m tierdomain.Metrics) *tierdomain.AgencyTier {
	var best *tierdomain.AgencyTier
	for i := range tiers {
		if tiers[i].Qualifies(m) {
			best = &tiers[i]
		}
	}
	return best
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, tierdomain.ErrInvalidID
	}
	return id, nil
}

package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type Service interface {
	CreateTier(ctx context.Context, req CreateTierRequest) (*AgencyTier, error)
	ListTiers(ctx context.Context) ([]AgencyTier, error)

	GetProfile(ctx context.Context, agencyID string) (*ProfileView, error)
	History(ctx context.Context, agencyID string) ([]TierHistory, error)

	// Evaluate stores the metrics and moves the agency to the highest active
	// tier it qualifies for. The profile is created on first evaluation.
	Evaluate(ctx context.Context, agencyID string, metrics Metrics) (*Evaluation, error)
	// EvaluateAll re-evaluates every profile from its stored metrics.
	EvaluateAll(ctx context.Context, batchSize int) (EvaluateAllResult, error)
	ManualAdjust(ctx context.Context, agencyID string, req ManualAdjustRequest) (*Evaluation, error)

	// PricingTierFor returns the regional pricing tier of the agency's current
	// tier, or "" when it has none.
	PricingTierFor(ctx context.Context, agencyID string) (string, error)
}

type CreateTierRequest struct {
	Level                int             `json:"level"`
	Name                 string          `json:"name"`
	PricingTier          string          `json:"pricing_tier,omitempty"`
	MinMonthlyRevenue    decimal.Decimal `json:"min_monthly_revenue"`
	MinActiveWorkers     int             `json:"min_active_workers"`
	MinFillRate          decimal.Decimal `json:"min_fill_rate"`
	MinRating            decimal.Decimal `json:"min_rating"`
	CommissionRate       decimal.Decimal `json:"commission_rate"`
	PriorityBookingHours int             `json:"priority_booking_hours"`
	Benefits             Benefits        `json:"benefits,omitempty"`
}

type ManualAdjustRequest struct {
	TierID string `json:"tier_id"`
	Reason string `json:"reason"`
	Actor  string `json:"-"`
}

type ProfileView struct {
	Profile AgencyProfile `json:"profile"`
	Tier    *AgencyTier   `json:"tier,omitempty"`
}

// Evaluation is the profile after an evaluation or adjustment. History is set
// only when the tier changed.
type Evaluation struct {
	Profile AgencyProfile `json:"profile"`
	Tier    *AgencyTier   `json:"tier,omitempty"`
	History *TierHistory  `json:"history,omitempty"`
}

type EvaluateAllResult struct {
	Evaluated int `json:"evaluated"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
}

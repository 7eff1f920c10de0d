package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Benefits are feature flags granted by a tier, e.g. "dedicated_support".
type Benefits map[string]bool

type AgencyTier struct {
	ID                   snowflake.ID                 `json:"id" gorm:"primaryKey"`
	Level                int                          `json:"level" gorm:"column:level;not null"`
	Name                 string                       `json:"name" gorm:"column:name;not null"`
	PricingTier          *string                      `json:"pricing_tier,omitempty" gorm:"column:pricing_tier"`
	MinMonthlyRevenue    decimal.Decimal              `json:"min_monthly_revenue" gorm:"column:min_monthly_revenue;type:numeric;not null"`
	MinActiveWorkers     int                          `json:"min_active_workers" gorm:"column:min_active_workers;not null"`
	MinFillRate          decimal.Decimal              `json:"min_fill_rate" gorm:"column:min_fill_rate;type:numeric;not null"`
	MinRating            decimal.Decimal              `json:"min_rating" gorm:"column:min_rating;type:numeric;not null"`
	CommissionRate       decimal.Decimal              `json:"commission_rate" gorm:"column:commission_rate;type:numeric;not null"`
	PriorityBookingHours int                          `json:"priority_booking_hours" gorm:"column:priority_booking_hours;not null"`
	Benefits             datatypes.JSONType[Benefits] `json:"benefits" gorm:"column:benefits;type:jsonb"`
	IsActive             bool                         `json:"is_active" gorm:"column:is_active;not null"`
	CreatedAt            time.Time                    `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time                    `json:"updated_at" gorm:"not null"`
}

func (AgencyTier) TableName() string { return "agency_tiers" }

// Qualifies reports whether every threshold of the tier is met.
func (t AgencyTier) Qualifies(m Metrics) bool {
	return m.MonthlyRevenue.GreaterThanOrEqual(t.MinMonthlyRevenue) &&
		m.ActiveWorkers >= t.MinActiveWorkers &&
		m.FillRate.GreaterThanOrEqual(t.MinFillRate) &&
		m.Rating.GreaterThanOrEqual(t.MinRating)
}

// Metrics is the performance snapshot a tier is evaluated against. FillRate
// is a percentage and Rating is on a 0..5 scale.
type Metrics struct {
	MonthlyRevenue decimal.Decimal `json:"monthly_revenue"`
	ActiveWorkers  int             `json:"active_workers"`
	FillRate       decimal.Decimal `json:"fill_rate"`
	Rating         decimal.Decimal `json:"rating"`
}

var maxRating = decimal.NewFromInt(5)

func (m Metrics) Valid() bool {
	return !m.MonthlyRevenue.IsNegative() &&
		m.ActiveWorkers >= 0 &&
		!m.FillRate.IsNegative() && m.FillRate.LessThanOrEqual(decimal.NewFromInt(100)) &&
		!m.Rating.IsNegative() && m.Rating.LessThanOrEqual(maxRating)
}

type AgencyProfile struct {
	AgencyID        snowflake.ID    `json:"agency_id" gorm:"column:agency_id;primaryKey"`
	AgencyTierID    *snowflake.ID   `json:"agency_tier_id,omitempty" gorm:"column:agency_tier_id"`
	MonthlyRevenue  decimal.Decimal `json:"monthly_revenue" gorm:"column:monthly_revenue;type:numeric;not null"`
	ActiveWorkers   int             `json:"active_workers" gorm:"column:active_workers;not null"`
	FillRate        decimal.Decimal `json:"fill_rate" gorm:"column:fill_rate;type:numeric;not null"`
	Rating          decimal.Decimal `json:"rating" gorm:"column:rating;type:numeric;not null"`
	TierAchievedAt  *time.Time      `json:"tier_achieved_at,omitempty" gorm:"column:tier_achieved_at"`
	LastEvaluatedAt *time.Time      `json:"last_evaluated_at,omitempty" gorm:"column:last_evaluated_at"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null"`
}

func (AgencyProfile) TableName() string { return "agency_profiles" }

func (p AgencyProfile) Metrics() Metrics {
	return Metrics{
		MonthlyRevenue: p.MonthlyRevenue,
		ActiveWorkers:  p.ActiveWorkers,
		FillRate:       p.FillRate,
		Rating:         p.Rating,
	}
}

func (p *AgencyProfile) SetMetrics(m Metrics) {
	p.MonthlyRevenue = m.MonthlyRevenue
	p.ActiveWorkers = m.ActiveWorkers
	p.FillRate = m.FillRate
	p.Rating = m.Rating
}

type ChangeType string

const (
	ChangeInitial   ChangeType = "initial"
	ChangeUpgrade   ChangeType = "upgrade"
	ChangeDowngrade ChangeType = "downgrade"
)

// ClassifyChange names a move from one tier to another. A nil from is the
// agency's first tier.
func ClassifyChange(from *AgencyTier, to AgencyTier) ChangeType {
	switch {
	case from == nil:
		return ChangeInitial
	case to.Level > from.Level:
		return ChangeUpgrade
	default:
		return ChangeDowngrade
	}
}

// TierHistory rows are append-only.
type TierHistory struct {
	ID              snowflake.ID                `json:"id" gorm:"primaryKey"`
	AgencyID        snowflake.ID                `json:"agency_id" gorm:"column:agency_id;not null"`
	FromTierID      *snowflake.ID               `json:"from_tier_id,omitempty" gorm:"column:from_tier_id"`
	ToTierID        snowflake.ID                `json:"to_tier_id" gorm:"column:to_tier_id;not null"`
	ChangeType      ChangeType                  `json:"change_type" gorm:"column:change_type;not null"`
	IsManual        bool                        `json:"is_manual" gorm:"column:is_manual;not null"`
	Reason          *string                     `json:"reason,omitempty" gorm:"column:reason"`
	ChangedBy       *string                     `json:"changed_by,omitempty" gorm:"column:changed_by"`
	MetricsSnapshot datatypes.JSONType[Metrics] `json:"metrics_snapshot" gorm:"column:metrics_snapshot;type:jsonb"`
	CreatedAt       time.Time                   `json:"created_at" gorm:"not null"`
}

func (TierHistory) TableName() string { return "agency_tier_histories" }

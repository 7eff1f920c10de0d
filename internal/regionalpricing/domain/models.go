package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Tier is the closed set of agency pricing tiers that may carry fee modifiers.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

func ParseTier(raw string) (Tier, bool) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(raw))); t {
	case TierBronze, TierSilver, TierGold, TierPlatinum:
		return t, true
	default:
		return "", false
	}
}

// TierModifier holds percentage-point deltas added to the region's fee rates.
type TierModifier struct {
	PlatformFeeModifier decimal.Decimal `json:"platform_fee_modifier"`
	WorkerFeeModifier   decimal.Decimal `json:"worker_fee_modifier"`
}

type TierAdjustments map[Tier]TierModifier

type RegionalPricing struct {
	ID              snowflake.ID                        `json:"id" gorm:"primaryKey"`
	CountryCode     string                              `json:"country_code" gorm:"column:country_code;not null"`
	RegionCode      *string                             `json:"region_code,omitempty" gorm:"column:region_code"`
	CurrencyCode    string                              `json:"currency_code" gorm:"column:currency_code;not null"`
	PPPFactor       decimal.Decimal                     `json:"ppp_factor" gorm:"column:ppp_factor;type:numeric;not null"`
	MinHourlyRate   decimal.Decimal                     `json:"min_hourly_rate" gorm:"column:min_hourly_rate;type:numeric;not null"`
	MaxHourlyRate   decimal.Decimal                     `json:"max_hourly_rate" gorm:"column:max_hourly_rate;type:numeric;not null"`
	PlatformFeeRate decimal.Decimal                     `json:"platform_fee_rate" gorm:"column:platform_fee_rate;type:numeric;not null"`
	WorkerFeeRate   decimal.Decimal                     `json:"worker_fee_rate" gorm:"column:worker_fee_rate;type:numeric;not null"`
	TierAdjustments datatypes.JSONType[TierAdjustments] `json:"tier_adjustments" gorm:"column:tier_adjustments;type:jsonb"`
	IsActive        bool                                `json:"is_active" gorm:"column:is_active;not null"`
	CreatedAt       time.Time                           `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time                           `json:"updated_at" gorm:"not null"`
}

func (RegionalPricing) TableName() string { return "regional_pricings" }

type AdjustmentType string

const (
	AdjustmentSubscription AdjustmentType = "subscription"
	AdjustmentServiceFee   AdjustmentType = "service_fee"
	AdjustmentSurge        AdjustmentType = "surge"
	AdjustmentPromotional  AdjustmentType = "promotional"
	AdjustmentSeasonal     AdjustmentType = "seasonal"
	AdjustmentHoliday      AdjustmentType = "holiday"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentSubscription, AdjustmentServiceFee, AdjustmentSurge,
		AdjustmentPromotional, AdjustmentSeasonal, AdjustmentHoliday:
		return true
	default:
		return false
	}
}

type PriceAdjustment struct {
	ID                snowflake.ID    `json:"id" gorm:"primaryKey"`
	RegionalPricingID snowflake.ID    `json:"regional_pricing_id" gorm:"column:regional_pricing_id;not null;index"`
	AdjustmentType    AdjustmentType  `json:"adjustment_type" gorm:"column:adjustment_type;not null"`
	Multiplier        decimal.Decimal `json:"multiplier" gorm:"column:multiplier;type:numeric;not null"`
	FixedAdjustment   decimal.Decimal `json:"fixed_adjustment" gorm:"column:fixed_adjustment;type:numeric;not null"`
	ValidFrom         time.Time       `json:"valid_from" gorm:"column:valid_from;not null"`
	ValidUntil        *time.Time      `json:"valid_until,omitempty" gorm:"column:valid_until"`
	IsActive          bool            `json:"is_active" gorm:"column:is_active;not null"`
	CreatedAt         time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"not null"`
}

func (PriceAdjustment) TableName() string { return "price_adjustments" }

type AdjustmentStatus string

const (
	StatusScheduled AdjustmentStatus = "scheduled"
	StatusActive    AdjustmentStatus = "active"
	StatusExpired   AdjustmentStatus = "expired"
	StatusInactive  AdjustmentStatus = "inactive"
)

// AdjustmentStatusAt derives the lifecycle status of an adjustment at now.
// A disabled adjustment is Inactive regardless of its window.
func AdjustmentStatusAt(a PriceAdjustment, now time.Time) AdjustmentStatus {
	if !a.IsActive {
		return StatusInactive
	}
	if now.Before(a.ValidFrom) {
		return StatusScheduled
	}
	if a.ValidUntil != nil && a.ValidUntil.Before(now) {
		return StatusExpired
	}
	return StatusActive
}

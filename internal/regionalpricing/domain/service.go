package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Service interface {
	Resolve(ctx context.Context, req ResolveRequest) (*EffectivePricing, error)
	UpsertPricing(ctx context.Context, req UpsertPricingRequest) (*RegionalPricing, error)
	ListPricing(ctx context.Context) ([]RegionalPricing, error)
	CreateAdjustment(ctx context.Context, req CreateAdjustmentRequest) (*PriceAdjustment, error)
	SetAdjustmentActive(ctx context.Context, adjustmentID string, active bool) (*PriceAdjustment, error)
	ListAdjustments(ctx context.Context, regionalPricingID string) ([]AdjustmentView, error)
}

type ResolveRequest struct {
	CountryCode string           `json:"country_code"`
	RegionCode  string           `json:"region_code,omitempty"`
	Tier        string           `json:"tier,omitempty"`
	HourlyRate  *decimal.Decimal `json:"hourly_rate,omitempty"`
}

// EffectivePricing is a region's pricing after tier modifiers and active
// adjustments. Hourly bounds are already PPP scaled.
type EffectivePricing struct {
	RegionalPricingID  string              `json:"regional_pricing_id"`
	CountryCode        string              `json:"country_code"`
	RegionCode         *string             `json:"region_code,omitempty"`
	CurrencyCode       string              `json:"currency_code"`
	PPPFactor          decimal.Decimal     `json:"ppp_factor"`
	MinHourlyRate      decimal.Decimal     `json:"min_hourly_rate"`
	MaxHourlyRate      decimal.Decimal     `json:"max_hourly_rate"`
	PlatformFeeRate    decimal.Decimal     `json:"platform_fee_rate"`
	WorkerFeeRate      decimal.Decimal     `json:"worker_fee_rate"`
	Tier               Tier                `json:"tier,omitempty"`
	AppliedAdjustments []AppliedAdjustment `json:"applied_adjustments"`
}

type AppliedAdjustment struct {
	ID              string          `json:"id"`
	AdjustmentType  AdjustmentType  `json:"adjustment_type"`
	Multiplier      decimal.Decimal `json:"multiplier"`
	FixedAdjustment decimal.Decimal `json:"fixed_adjustment"`
}

// CheckRate reports ErrRateOutOfBounds when rate lies outside the scaled bounds.
func (p EffectivePricing) CheckRate(rate decimal.Decimal) error {
	if rate.LessThan(p.MinHourlyRate) || rate.GreaterThan(p.MaxHourlyRate) {
		return ErrRateOutOfBounds
	}
	return nil
}

type UpsertPricingRequest struct {
	CountryCode     string                  `json:"country_code"`
	RegionCode      string                  `json:"region_code,omitempty"`
	CurrencyCode    string                  `json:"currency_code"`
	PPPFactor       decimal.Decimal         `json:"ppp_factor"`
	MinHourlyRate   decimal.Decimal         `json:"min_hourly_rate"`
	MaxHourlyRate   decimal.Decimal         `json:"max_hourly_rate"`
	PlatformFeeRate decimal.Decimal         `json:"platform_fee_rate"`
	WorkerFeeRate   decimal.Decimal         `json:"worker_fee_rate"`
	TierAdjustments map[string]TierModifier `json:"tier_adjustments,omitempty"`
	IsActive        *bool                   `json:"is_active,omitempty"`
}

type CreateAdjustmentRequest struct {
	RegionalPricingID string          `json:"regional_pricing_id"`
	AdjustmentType    string          `json:"adjustment_type"`
	Multiplier        decimal.Decimal `json:"multiplier"`
	FixedAdjustment   decimal.Decimal `json:"fixed_adjustment"`
	ValidFrom         time.Time       `json:"valid_from"`
	ValidUntil        *time.Time      `json:"valid_until,omitempty"`
}

type AdjustmentView struct {
	PriceAdjustment
	Status AdjustmentStatus `json:"status"`
}

var (
	ErrRegionNotFound        = errors.New("region_not_found")
	ErrRateOutOfBounds       = errors.New("rate_out_of_bounds")
	ErrAdjustmentNotFound    = errors.New("adjustment_not_found")
	ErrInvalidCountry        = errors.New("invalid_country_code")
	ErrInvalidCurrency       = errors.New("invalid_currency_code")
	ErrInvalidTier           = errors.New("invalid_tier")
	ErrInvalidPPPFactor      = errors.New("invalid_ppp_factor")
	ErrInvalidRateBounds     = errors.New("invalid_rate_bounds")
	ErrInvalidFeeRate        = errors.New("invalid_fee_rate")
	ErrInvalidAdjustmentType = errors.New("invalid_adjustment_type")
	ErrInvalidMultiplier     = errors.New("invalid_multiplier")
	ErrInvalidValidity       = errors.New("invalid_validity_window")
	ErrInvalidID             = errors.New("invalid_id")
)

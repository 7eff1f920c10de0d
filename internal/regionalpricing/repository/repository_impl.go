package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/overtimestaff/escrow/internal/regionalpricing/domain"
	"gorm.io/gorm"
)

const pricingColumns = `id, country_code, region_code, currency_code, ppp_factor, min_hourly_rate, max_hourly_rate,
	platform_fee_rate, worker_fee_rate, tier_adjustments, is_active, created_at, updated_at`

const adjustmentColumns = `id, regional_pricing_id, adjustment_type, multiplier, fixed_adjustment,
	valid_from, valid_until, is_active, created_at, updated_at`

type repo struct{}

func Provide() pricingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *pricingdomain.RegionalPricing) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO regional_pricings (`+pricingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.CountryCode,
		p.RegionCode,
		p.CurrencyCode,
		p.PPPFactor,
		p.MinHourlyRate,
		p.MaxHourlyRate,
		p.PlatformFeeRate,
		p.WorkerFeeRate,
		p.TierAdjustments,
		p.IsActive,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, p *pricingdomain.RegionalPricing) error {
	return db.WithContext(ctx).Exec(
		`UPDATE regional_pricings
		SET currency_code = ?, ppp_factor = ?, min_hourly_rate = ?, max_hourly_rate = ?,
			platform_fee_rate = ?, worker_fee_rate = ?, tier_adjustments = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		p.CurrencyCode,
		p.PPPFactor,
		p.MinHourlyRate,
		p.MaxHourlyRate,
		p.PlatformFeeRate,
		p.WorkerFeeRate,
		p.TierAdjustments,
		p.IsActive,
		p.UpdatedAt,
		p.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*pricingdomain.RegionalPricing, error) {
	var row pricingdomain.RegionalPricing
	err := db.WithContext(ctx).Raw(
		`SELECT `+pricingColumns+` FROM regional_pricings WHERE id = ?`,
		id,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) FindByLocation(ctx context.Context, db *gorm.DB, countryCode string, regionCode *string) (*pricingdomain.RegionalPricing, error) {
	return r.findOne(ctx, db, countryCode, regionCode, false)
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, countryCode string, regionCode *string) (*pricingdomain.RegionalPricing, error) {
	return r.findOne(ctx, db, countryCode, regionCode, true)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, countryCode string, regionCode *string, activeOnly bool) (*pricingdomain.RegionalPricing, error) {
	query := `SELECT ` + pricingColumns + ` FROM regional_pricings WHERE country_code = ?`
	args := []any{countryCode}
	if regionCode == nil {
		query += ` AND region_code IS NULL`
	} else {
		query += ` AND region_code = ?`
		args = append(args, *regionCode)
	}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY id ASC LIMIT 1`

	var row pricingdomain.RegionalPricing
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]pricingdomain.RegionalPricing, error) {
	var items []pricingdomain.RegionalPricing
	err := db.WithContext(ctx).Raw(
		`SELECT ` + pricingColumns + ` FROM regional_pricings ORDER BY country_code ASC, region_code ASC, id ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertAdjustment(ctx context.Context, db *gorm.DB, adj *pricingdomain.PriceAdjustment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO price_adjustments (`+adjustmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adj.ID,
		adj.RegionalPricingID,
		adj.AdjustmentType,
		adj.Multiplier,
		adj.FixedAdjustment,
		adj.ValidFrom,
		adj.ValidUntil,
		adj.IsActive,
		adj.CreatedAt,
		adj.UpdatedAt,
	).Error
}

func (r *repo) UpdateAdjustment(ctx context.Context, db *gorm.DB, adj *pricingdomain.PriceAdjustment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE price_adjustments
		SET multiplier = ?, fixed_adjustment = ?, valid_from = ?, valid_until = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		adj.Multiplier,
		adj.FixedAdjustment,
		adj.ValidFrom,
		adj.ValidUntil,
		adj.IsActive,
		adj.UpdatedAt,
		adj.ID,
	).Error
}

func (r *repo) FindAdjustment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*pricingdomain.PriceAdjustment, error) {
	var row pricingdomain.PriceAdjustment
	err := db.WithContext(ctx).Raw(
		`SELECT `+adjustmentColumns+` FROM price_adjustments WHERE id = ?`,
		id,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) ListAdjustments(ctx context.Context, db *gorm.DB, regionalPricingID snowflake.ID) ([]pricingdomain.PriceAdjustment, error) {
	var items []pricingdomain.PriceAdjustment
	err := db.WithContext(ctx).Raw(
		`SELECT `+adjustmentColumns+` FROM price_adjustments
		WHERE regional_pricing_id = ?
		ORDER BY valid_from ASC, id ASC`,
		regionalPricingID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

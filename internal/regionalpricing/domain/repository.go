package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, pricing *RegionalPricing) error
	Update(ctx context.Context, db *gorm.DB, pricing *RegionalPricing) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RegionalPricing, error)
	// FindByLocation ignores is_active. A nil region matches the country-wide row.
	FindByLocation(ctx context.Context, db *gorm.DB, countryCode string, regionCode *string) (*RegionalPricing, error)
	FindActive(ctx context.Context, db *gorm.DB, countryCode string, regionCode *string) (*RegionalPricing, error)
	List(ctx context.Context, db *gorm.DB) ([]RegionalPricing, error)

	InsertAdjustment(ctx context.Context, db *gorm.DB, adj *PriceAdjustment) error
	UpdateAdjustment(ctx context.Context, db *gorm.DB, adj *PriceAdjustment) error
	FindAdjustment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PriceAdjustment, error)
	// ListAdjustments orders by valid_from, then insertion order.
	ListAdjustments(ctx context.Context, db *gorm.DB, regionalPricingID snowflake.ID) ([]PriceAdjustment, error)
}

package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertTier(ctx context.Context, db *gorm.DB, tier *AgencyTier) error
	FindTier(ctx context.Context, db *gorm.DB, id snowflake.ID) (*AgencyTier, error)
	// ListTiers orders by level ascending.
	ListTiers(ctx context.Context, db *gorm.DB, activeOnly bool) ([]AgencyTier, error)

	InsertProfile(ctx context.Context, db *gorm.DB, profile *AgencyProfile) error
	UpdateProfile(ctx context.Context, db *gorm.DB, profile *AgencyProfile) error
	FindProfile(ctx context.Context, db *gorm.DB, agencyID snowflake.ID) (*AgencyProfile, error)
	FindProfileForUpdate(ctx context.Context, db *gorm.DB, agencyID snowflake.ID) (*AgencyProfile, error)
	// ListProfileIDs pages agency ids in ascending order after the given id.
	ListProfileIDs(ctx context.Context, db *gorm.DB, after snowflake.ID, limit int) ([]snowflake.ID, error)

	InsertHistory(ctx context.Context, db *gorm.DB, history *TierHistory) error
	// ListHistory returns newest first.
	ListHistory(ctx context.Context, db *gorm.DB, agencyID snowflake.ID) ([]TierHistory, error)
}

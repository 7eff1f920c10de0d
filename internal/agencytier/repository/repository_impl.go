package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	tierdomain "github.com/overtimestaff/escrow/internal/agencytier/domain"
	"gorm.io/gorm"
)

const tierColumns = `id, level, name, pricing_tier, min_monthly_revenue, min_active_workers, min_fill_rate,
	min_rating, commission_rate, priority_booking_hours, benefits, is_active, created_at, updated_at`

const profileColumns = `agency_id, agency_tier_id, monthly_revenue, active_workers, fill_rate, rating,
	tier_achieved_at, last_evaluated_at, created_at, updated_at`

const historyColumns = `id, agency_id, from_tier_id, to_tier_id, change_type, is_manual, reason,
	changed_by, metrics_snapshot, created_at`

type repo struct{}

func Provide() tierdomain.Repository {
	return &repo{}
}

func (r *repo) InsertTier(ctx context.Context, db *gorm.DB, t *tierdomain.AgencyTier) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO agency_tiers (`+tierColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Level,
		t.Name,
		t.PricingTier,
		t.MinMonthlyRevenue,
		t.MinActiveWorkers,
		t.MinFillRate,
		t.MinRating,
		t.CommissionRate,
		t.PriorityBookingHours,
		t.Benefits,
		t.IsActive,
		t.CreatedAt,
		t.UpdatedAt,
	).Error
}

func (r *repo) FindTier(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tierdomain.AgencyTier, error) {
	var row tierdomain.AgencyTier
	err := db.WithContext(ctx).Raw(
		`SELECT `+tierColumns+` FROM agency_tiers WHERE id = ?`,
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

func (r *repo) ListTiers(ctx context.Context, db *gorm.DB, activeOnly bool) ([]tierdomain.AgencyTier, error) {
	query := `SELECT ` + tierColumns + ` FROM agency_tiers`
	var args []any
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY level ASC`

	var items []tierdomain.AgencyTier
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertProfile(ctx context.Context, db *gorm.DB, p *tierdomain.AgencyProfile) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO agency_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.AgencyID,
		p.AgencyTierID,
		p.MonthlyRevenue,
		p.ActiveWorkers,
		p.FillRate,
		p.Rating,
		p.TierAchievedAt,
		p.LastEvaluatedAt,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) UpdateProfile(ctx context.Context, db *gorm.DB, p *tierdomain.AgencyProfile) error {
	return db.WithContext(ctx).Exec(
		`UPDATE agency_profiles
		SET agency_tier_id = ?, monthly_revenue = ?, active_workers = ?, fill_rate = ?, rating = ?,
			tier_achieved_at = ?, last_evaluated_at = ?, updated_at = ?
		WHERE agency_id = ?`,
		p.AgencyTierID,
		p.MonthlyRevenue,
		p.ActiveWorkers,
		p.FillRate,
		p.Rating,
		p.TierAchievedAt,
		p.LastEvaluatedAt,
		p.UpdatedAt,
		p.AgencyID,
	).Error
}

func (r *repo) FindProfile(ctx context.Context, db *gorm.DB, agencyID snowflake.ID) (*tierdomain.AgencyProfile, error) {
	return r.findProfile(ctx, db, `SELECT `+profileColumns+` FROM agency_profiles WHERE agency_id = ?`, agencyID)
}

func (r *repo) FindProfileForUpdate(ctx context.Context, db *gorm.DB, agencyID snowflake.ID) (*tierdomain.AgencyProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM agency_profiles WHERE agency_id = ?`
	if db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}
	return r.findProfile(ctx, db, query, agencyID)
}

func (r *repo) findProfile(ctx context.Context, db *gorm.DB, query string, agencyID snowflake.ID) (*tierdomain.AgencyProfile, error) {
	var row tierdomain.AgencyProfile
	if err := db.WithContext(ctx).Raw(query, agencyID).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.AgencyID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) ListProfileIDs(ctx context.Context, db *gorm.DB, after snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT agency_id FROM agency_profiles WHERE agency_id > ? ORDER BY agency_id ASC LIMIT ?`,
		after, limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, h *tierdomain.TierHistory) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO agency_tier_histories (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID,
		h.AgencyID,
		h.FromTierID,
		h.ToTierID,
		h.ChangeType,
		h.IsManual,
		h.Reason,
		h.ChangedBy,
		h.MetricsSnapshot,
		h.CreatedAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, agencyID snowflake.ID) ([]tierdomain.TierHistory, error) {
	var items []tierdomain.TierHistory
	err := db.WithContext(ctx).Raw(
		`SELECT `+historyColumns+` FROM agency_tier_histories WHERE agency_id = ? ORDER BY created_at DESC, id DESC`,
		agencyID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

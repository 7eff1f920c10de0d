package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/overtimestaff/escrow/internal/cache"
	"github.com/overtimestaff/escrow/internal/clock"
	"github.com/overtimestaff/escrow/internal/money"
	pricingdomain "github.com/overtimestaff/escrow/internal/regionalpricing/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  pricingdomain.Repository
	Cache cache.PricingCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  pricingdomain.Repository
	cache cache.PricingCache
}

func New(p Params) pricingdomain.Service {
	c := p.Cache
	if c == nil {
		c = cache.NewPricingCache()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("regionalpricing.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		cache: c,
	}
}

func (s *Service) Resolve(ctx context.Context, req pricingdomain.ResolveRequest) (*pricingdomain.EffectivePricing, error) {
	country, err := normalizeCountry(req.CountryCode)
	if err != nil {
		return nil, err
	}
	region := strings.ToUpper(strings.TrimSpace(req.RegionCode))

	var tier pricingdomain.Tier
	if strings.TrimSpace(req.Tier) != "" {
		parsed, ok := pricingdomain.ParseTier(req.Tier)
		if !ok {
			return nil, pricingdomain.ErrInvalidTier
		}
		tier = parsed
	}

	if cached, ok := s.cache.Get(country, region, string(tier)); ok {
		return checkRate(cached, req.HourlyRate)
	}

	row, err := s.findActive(ctx, country, region)
	if err != nil {
		return nil, err
	}

	adjustments, err := s.repo.ListAdjustments(ctx, s.db, row.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	effective := Effective(*row, tier, adjustments, now)
	s.cache.Set(country, region, string(tier), effective, untilNextChange(adjustments, now))

	return checkRate(effective, req.HourlyRate)
}

// untilNextChange is the time left before an enabled adjustment starts or
// expires. Zero means no window edge lies ahead. valid_until is inclusive, so
// the change lands just after it.
func untilNextChange(adjustments []pricingdomain.PriceAdjustment, now time.Time) time.Duration {
	var next time.Time
	consider := func(edge time.Time) {
		if edge.After(now) && (next.IsZero() || edge.Before(next)) {
			next = edge
		}
	}
	for _, a := range adjustments {
		if !a.IsActive {
			continue
		}
		consider(a.ValidFrom)
		if a.ValidUntil != nil {
			consider(a.ValidUntil.Add(time.Nanosecond))
		}
	}
	if next.IsZero() {
		return 0
	}
	return next.Sub(now)
}

// findActive prefers the region-specific row and falls back to the country-wide one.
func (s *Service) findActive(ctx context.Context, country, region string) (*pricingdomain.RegionalPricing, error) {
	if region != "" {
		row, err := s.repo.FindActive(ctx, s.db, country, &region)
		if err != nil {
			return nil, err
		}
		if row != nil {
			return row, nil
		}
	}
	row, err := s.repo.FindActive(ctx, s.db, country, nil)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, pricingdomain.ErrRegionNotFound
	}
	return row, nil
}

func checkRate(p pricingdomain.EffectivePricing, rate *decimal.Decimal) (*pricingdomain.EffectivePricing, error) {
	if rate != nil {
		if err := p.CheckRate(*rate); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// Effective computes a region's pricing at now. Tier modifiers are added to
// both fee rates first, then every active adjustment is folded onto the
// platform fee rate in valid_from order as rate*multiplier + fixed.
func Effective(row pricingdomain.RegionalPricing, tier pricingdomain.Tier, adjustments []pricingdomain.PriceAdjustment, now time.Time) pricingdomain.EffectivePricing {
	platform := row.PlatformFeeRate
	worker := row.WorkerFeeRate

	if tier != "" {
		if mod, ok := row.TierAdjustments.Data()[tier]; ok {
			platform = clampRate(platform.Add(mod.PlatformFeeModifier))
			worker = clampRate(worker.Add(mod.WorkerFeeModifier))
		}
	}

	ordered := make([]pricingdomain.PriceAdjustment, len(adjustments))
	copy(ordered, adjustments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ValidFrom.Before(ordered[j].ValidFrom)
	})

	applied := make([]pricingdomain.AppliedAdjustment, 0, len(ordered))
	for _, adj := range ordered {
		if pricingdomain.AdjustmentStatusAt(adj, now) != pricingdomain.StatusActive {
			continue
		}
		platform = platform.Mul(adj.Multiplier).Add(adj.FixedAdjustment)
		applied = append(applied, pricingdomain.AppliedAdjustment{
			ID:              adj.ID.String(),
			AdjustmentType:  adj.AdjustmentType,
			Multiplier:      adj.Multiplier,
			FixedAdjustment: adj.FixedAdjustment,
		})
	}

	return pricingdomain.EffectivePricing{
		RegionalPricingID:  row.ID.String(),
		CountryCode:        row.CountryCode,
		RegionCode:         row.RegionCode,
		CurrencyCode:       row.CurrencyCode,
		PPPFactor:          row.PPPFactor,
		MinHourlyRate:      money.Round2(row.MinHourlyRate.Mul(row.PPPFactor)),
		MaxHourlyRate:      money.Round2(row.MaxHourlyRate.Mul(row.PPPFactor)),
		PlatformFeeRate:    money.Round2(clampRate(platform)),
		WorkerFeeRate:      money.Round2(worker),
		Tier:               tier,
		AppliedAdjustments: applied,
	}
}

func clampRate(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(hundred) {
		return hundred
	}
	return v
}

func (s *Service) UpsertPricing(ctx context.Context, req pricingdomain.UpsertPricingRequest) (*pricingdomain.RegionalPricing, error) {
	country, err := normalizeCountry(req.CountryCode)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.CurrencyCode))
	if len(currency) != 3 {
		return nil, pricingdomain.ErrInvalidCurrency
	}
	if !req.PPPFactor.IsPositive() {
		return nil, pricingdomain.ErrInvalidPPPFactor
	}
	if req.MinHourlyRate.IsNegative() || req.MinHourlyRate.GreaterThan(req.MaxHourlyRate) {
		return nil, pricingdomain.ErrInvalidRateBounds
	}
	if !validRate(req.PlatformFeeRate) || !validRate(req.WorkerFeeRate) {
		return nil, pricingdomain.ErrInvalidFeeRate
	}

	tiers := pricingdomain.TierAdjustments{}
	for name, mod := range req.TierAdjustments {
		tier, ok := pricingdomain.ParseTier(name)
		if !ok {
			return nil, pricingdomain.ErrInvalidTier
		}
		tiers[tier] = mod
	}

	var region *string
	if r := strings.ToUpper(strings.TrimSpace(req.RegionCode)); r != "" {
		region = &r
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := s.clock.Now()
	var out *pricingdomain.RegionalPricing
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByLocation(ctx, tx, country, region)
		if err != nil {
			return err
		}

		row := existing
		if row == nil {
			row = &pricingdomain.RegionalPricing{
				ID:          s.genID.Generate(),
				CountryCode: country,
				RegionCode:  region,
				CreatedAt:   now,
			}
		}
		row.CurrencyCode = currency
		row.PPPFactor = req.PPPFactor
		row.MinHourlyRate = req.MinHourlyRate
		row.MaxHourlyRate = req.MaxHourlyRate
		row.PlatformFeeRate = req.PlatformFeeRate
		row.WorkerFeeRate = req.WorkerFeeRate
		row.TierAdjustments = datatypes.NewJSONType(tiers)
		row.IsActive = active
		row.UpdatedAt = now

		if existing == nil {
			err = s.repo.Insert(ctx, tx, row)
		} else {
			err = s.repo.Update(ctx, tx, row)
		}
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate()
	s.log.Info("regional pricing saved",
		zap.String("country_code", country),
		zap.Stringp("region_code", region),
		zap.String("regional_pricing_id", out.ID.String()),
	)
	return out, nil
}

func (s *Service) ListPricing(ctx context.Context) ([]pricingdomain.RegionalPricing, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) CreateAdjustment(ctx context.Context, req pricingdomain.CreateAdjustmentRequest) (*pricingdomain.PriceAdjustment, error) {
	pricingID, err := parseID(req.RegionalPricingID)
	if err != nil {
		return nil, err
	}
	adjType := pricingdomain.AdjustmentType(strings.ToLower(strings.TrimSpace(req.AdjustmentType)))
	if !adjType.Valid() {
		return nil, pricingdomain.ErrInvalidAdjustmentType
	}
	if !req.Multiplier.IsPositive() {
		return nil, pricingdomain.ErrInvalidMultiplier
	}
	if req.ValidFrom.IsZero() {
		return nil, pricingdomain.ErrInvalidValidity
	}
	validFrom := req.ValidFrom.UTC()
	var validUntil *time.Time
	if req.ValidUntil != nil {
		until := req.ValidUntil.UTC()
		if !until.After(validFrom) {
			return nil, pricingdomain.ErrInvalidValidity
		}
		validUntil = &until
	}

	row, err := s.repo.FindByID(ctx, s.db, pricingID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, pricingdomain.ErrRegionNotFound
	}

	now := s.clock.Now()
	adj := &pricingdomain.PriceAdjustment{
		ID:                s.genID.Generate(),
		RegionalPricingID: row.ID,
		AdjustmentType:    adjType,
		Multiplier:        req.Multiplier,
		FixedAdjustment:   req.FixedAdjustment,
		ValidFrom:         validFrom,
		ValidUntil:        validUntil,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.InsertAdjustment(ctx, s.db, adj); err != nil {
		return nil, err
	}

	s.cache.Invalidate()
	return adj, nil
}

func (s *Service) SetAdjustmentActive(ctx context.Context, adjustmentID string, active bool) (*pricingdomain.PriceAdjustment, error) {
	id, err := parseID(adjustmentID)
	if err != nil {
		return nil, err
	}
	adj, err := s.repo.FindAdjustment(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if adj == nil {
		return nil, pricingdomain.ErrAdjustmentNotFound
	}
	adj.IsActive = active
	adj.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateAdjustment(ctx, s.db, adj); err != nil {
		return nil, err
	}

	s.cache.Invalidate()
	return adj, nil
}

func (s *Service) ListAdjustments(ctx context.Context, regionalPricingID string) ([]pricingdomain.AdjustmentView, error) {
	id, err := parseID(regionalPricingID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListAdjustments(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]pricingdomain.AdjustmentView, 0, len(items))
	for _, item := range items {
		out = append(out, pricingdomain.AdjustmentView{
			PriceAdjustment: item,
			Status:          pricingdomain.AdjustmentStatusAt(item, now),
		})
	}
	return out, nil
}

func normalizeCountry(raw string) (string, error) {
	country := strings.ToUpper(strings.TrimSpace(raw))
	if len(country) != 2 {
		return "", pricingdomain.ErrInvalidCountry
	}
	return country, nil
}

func validRate(v decimal.Decimal) bool {
	return !v.IsNegative() && !v.GreaterThan(hundred)
}

func parseID(value string) (snowflake.ID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, pricingdomain.ErrInvalidID
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, pricingdomain.ErrInvalidID
	}
	return snowflake.ID(id), nil
}

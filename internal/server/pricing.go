package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	pricingdomain "github.com/overtimestaff/escrow/internal/regionalpricing/domain"
	"github.com/shopspring/decimal"
)

type resolvePricingRequest struct {
	CountryCode string           `json:"country_code"`
	RegionCode  string           `json:"region_code"`
	Tier        string           `json:"tier"`
	AgencyID    string           `json:"agency_id"`
	HourlyRate  *decimal.Decimal `json:"hourly_rate"`
}

func (s *Server) ResolvePricing(c *gin.Context) {
	var req resolvePricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tier, err := s.pricingTier(c, req.Tier, req.AgencyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pricing, err := s.pricingSvc.Resolve(c.Request.Context(), pricingdomain.ResolveRequest{
		CountryCode: strings.TrimSpace(req.CountryCode),
		RegionCode:  strings.TrimSpace(req.RegionCode),
		Tier:        tier,
		HourlyRate:  req.HourlyRate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, pricing)
}

// pricingTier prefers an explicit tier and falls back to the agency's current one.
func (s *Server) pricingTier(c *gin.Context, tier, agencyID string) (string, error) {
	if tier = strings.TrimSpace(tier); tier != "" {
		return tier, nil
	}
	if agencyID = strings.TrimSpace(agencyID); agencyID == "" {
		return "", nil
	}
	return s.agencyTierSvc.PricingTierFor(c.Request.Context(), agencyID)
}

func (s *Server) ListRegionalPricing(c *gin.Context) {
	rows, err := s.pricingSvc.ListPricing(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, rows)
}

func (s *Server) UpsertRegionalPricing(c *gin.Context) {
	var req pricingdomain.UpsertPricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	row, err := s.pricingSvc.UpsertPricing(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, row)
}

func (s *Server) ListPriceAdjustments(c *gin.Context) {
	rows, err := s.pricingSvc.ListAdjustments(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, rows)
}

func (s *Server) CreatePriceAdjustment(c *gin.Context) {
	var req pricingdomain.CreateAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	adj, err := s.pricingSvc.CreateAdjustment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, adj)
}

func (s *Server) ActivatePriceAdjustment(c *gin.Context) {
	s.setAdjustmentActive(c, true)
}

func (s *Server) DeactivatePriceAdjustment(c *gin.Context) {
	s.setAdjustmentActive(c, false)
}

func (s *Server) setAdjustmentActive(c *gin.Context, active bool) {
	adj, err := s.pricingSvc.SetAdjustmentActive(c.Request.Context(), c.Param("id"), active)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, adj)
}

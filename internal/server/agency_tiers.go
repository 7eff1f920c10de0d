package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	tierdomain "github.com/overtimestaff/escrow/internal/agencytier/domain"
)

func (s *Server) ListAgencyTiers(c *gin.Context) {
	tiers, err := s.agencyTierSvc.ListTiers(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, tiers)
}

func (s *Server) CreateAgencyTier(c *gin.Context) {
	var req tierdomain.CreateTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tier, err := s.agencyTierSvc.CreateTier(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusCreated, tier)
}

func (s *Server) GetAgencyTier(c *gin.Context) {
	view, err := s.agencyTierSvc.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, view)
}

// AdjustAgencyTier is the manual override. The acting admin is recorded on
// the history row.
func (s *Server) AdjustAgencyTier(c *gin.Context) {
	var req tierdomain.ManualAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if actor, ok := actorFromContext(c); ok {
		req.Actor = actor.ID
	}

	eval, err := s.agencyTierSvc.ManualAdjust(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, eval)
}

func (s *Server) EvaluateAgencyTier(c *gin.Context) {
	var metrics tierdomain.Metrics
	if err := c.ShouldBindJSON(&metrics); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	eval, err := s.agencyTierSvc.Evaluate(c.Request.Context(), c.Param("id"), metrics)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, eval)
}

func (s *Server) ListAgencyTierHistory(c *gin.Context) {
	history, err := s.agencyTierSvc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, history)
}

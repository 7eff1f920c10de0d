package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/overtimestaff/escrow/internal/authorization"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
)

func (s *Server) FileDispute(c *gin.Context) {
	var req escrowdomain.FileDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	// a party can only file on its own behalf
	if actor, ok := actorFromContext(c); ok {
		switch actor.Role {
		case authorization.RoleWorker, authorization.RoleBusiness:
			req.FiledBy = actor.Role
		}
	}

	payment, err := s.disputeSvc.File(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, payment)
}

func (s *Server) ResolveDispute(c *gin.Context) {
	var req escrowdomain.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.disputeSvc.Resolve(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, payment)
}

type disputeNotesRequest struct {
	AdminNotes string `json:"admin_notes"`
}

func (s *Server) AddDisputeNotes(c *gin.Context) {
	var req disputeNotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.disputeSvc.AddNotes(c.Request.Context(), c.Param("id"), req.AdminNotes)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, payment)
}

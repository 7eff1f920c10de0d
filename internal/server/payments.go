package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	"github.com/overtimestaff/escrow/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

type createPaymentRequest struct {
	ShiftID        string          `json:"shift_id"`
	WorkerID       string          `json:"worker_id"`
	BusinessID     string          `json:"business_id"`
	HourlyRate     decimal.Decimal `json:"hourly_rate"`
	HoursWorked    decimal.Decimal `json:"hours_worked"`
	CountryCode    string          `json:"country_code"`
	RegionCode     string          `json:"region_code"`
	Tier           string          `json:"tier"`
	AgencyID       string          `json:"agency_id"`
	CustomerRef    string          `json:"customer_ref"`
	DestinationRef string          `json:"destination_ref"`
}

func (s *Server) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	tier, err := s.pricingTier(c, req.Tier, req.AgencyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.escrowSvc.Create(ctx, escrowdomain.CreatePaymentRequest{
		ShiftID:        strings.TrimSpace(req.ShiftID),
		WorkerID:       strings.TrimSpace(req.WorkerID),
		BusinessID:     strings.TrimSpace(req.BusinessID),
		HourlyRate:     req.HourlyRate,
		HoursWorked:    req.HoursWorked,
		CountryCode:    strings.TrimSpace(req.CountryCode),
		RegionCode:     strings.TrimSpace(req.RegionCode),
		Tier:           tier,
		CustomerRef:    strings.TrimSpace(req.CustomerRef),
		DestinationRef: strings.TrimSpace(req.DestinationRef),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusCreated, payment)
}

func (s *Server) ListPayments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status     string `form:"status"`
		WorkerID   string `form:"worker_id"`
		BusinessID string `form:"business_id"`
		Disputed   string `form:"disputed"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	disputed, err := parseOptionalBool(query.Disputed)
	if err != nil {
		AbortWithError(c, newValidationError("disputed", "invalid_disputed", "invalid disputed"))
		return
	}

	resp, err := s.escrowSvc.List(c.Request.Context(), escrowdomain.ListPaymentsRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Status:     query.Status,
		WorkerID:   query.WorkerID,
		BusinessID: query.BusinessID,
		Disputed:   disputed,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp.Payments, "page_info": resp.PageInfo})
}

func (s *Server) GetPayment(c *gin.Context) {
	payment, err := s.escrowSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, payment)
}

func (s *Server) CapturePayment(c *gin.Context) {
	s.paymentAction(c, s.escrowSvc.Capture)
}

type holdRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) HoldPayment(c *gin.Context) {
	var req holdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.escrowSvc.Hold(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, payment)
}

// ReleaseEscrow releases an in_escrow payment or lifts the hold on an on_hold one.
func (s *Server) ReleaseEscrow(c *gin.Context) {
	s.paymentAction(c, s.escrowSvc.ReleaseEscrow)
}

func (s *Server) PayoutPayment(c *gin.Context) {
	s.paymentAction(c, s.payoutSvc.Payout)
}

func (s *Server) RetryPayout(c *gin.Context) {
	s.paymentAction(c, s.payoutSvc.Retry)
}

func (s *Server) RefundPayment(c *gin.Context) {
	var req escrowdomain.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.escrowSvc.Refund(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, payment)
}

func (s *Server) ListPaymentAuditLogs(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.escrowSvc.AuditLogs(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp.AuditLogs, "page_info": resp.PageInfo})
}

// paymentAction runs a body-less transition on the payment named in the path.
func (s *Server) paymentAction(c *gin.Context, action func(ctx context.Context, id string) (*escrowdomain.ShiftPayment, error)) {
	payment, err := action(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, payment)
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	statsdomain "github.com/overtimestaff/escrow/internal/statistics/domain"
)

func (s *Server) PaymentStatistics(c *gin.Context) {
	var query struct {
		From     string `form:"from"`
		To       string `form:"to"`
		Bucket   string `form:"bucket"`
		Top      int    `form:"top_n"`
		Currency string `form:"currency"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	req := statsdomain.SummaryRequest{
		Bucket:   statsdomain.Bucket(strings.ToLower(strings.TrimSpace(query.Bucket))),
		TopN:     query.Top,
		Currency: query.Currency,
	}
	if from != nil {
		req.From = *from
	}
	if to != nil {
		req.To = *to
	}

	summary, err := s.statisticsSvc.Summary(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, summary)
}

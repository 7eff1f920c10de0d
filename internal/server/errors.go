package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tierdomain "github.com/overtimestaff/escrow/internal/agencytier/domain"
	auditdomain "github.com/overtimestaff/escrow/internal/audit/domain"
	"github.com/overtimestaff/escrow/internal/authorization"
	escrowdomain "github.com/overtimestaff/escrow/internal/escrow/domain"
	pricingdomain "github.com/overtimestaff/escrow/internal/regionalpricing/domain"
	statsdomain "github.com/overtimestaff/escrow/internal/statistics/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Success bool         `json:"success"`
	Error   errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// stateConflicts leave the payment untouched because its current state does
// not allow the request. The code is reported as the error type.
var stateConflicts = []error{
	escrowdomain.ErrInvalidTransition,
	escrowdomain.ErrNotDisputed,
	escrowdomain.ErrAlreadyDisputed,
	escrowdomain.ErrPayoutInProgress,
	escrowdomain.ErrRefundInProgress,
	escrowdomain.ErrMissingCharge,
	escrowdomain.ErrDuplicatePayment,
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if code, ok := stateConflictCode(err); ok {
		return http.StatusConflict, errorPayload{
			Type:    code,
			Message: "payment state does not allow this operation",
		}
	}

	var ext *escrowdomain.ExternalServiceError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests, retry later",
		}
	case errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, escrowdomain.ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "payment was changed concurrently, retry the request",
		}
	case errors.As(err, &ext):
		message := "payment processor rejected the request"
		if ext.Transient {
			message = "payment processor unavailable"
		}
		return http.StatusBadGateway, errorPayload{
			Type:    "external_service",
			Message: message,
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the response type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case escrowdomain.IsValidation(err),
		tierdomain.IsValidation(err),
		isPricingValidationError(err),
		errors.Is(err, statsdomain.ErrInvalidTimeRange),
		errors.Is(err, statsdomain.ErrInvalidBucket),
		errors.Is(err, statsdomain.ErrInvalidCurrency),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isPricingValidationError(err error) bool {
	for _, target := range []error{
		pricingdomain.ErrRateOutOfBounds,
		pricingdomain.ErrInvalidCountry,
		pricingdomain.ErrInvalidCurrency,
		pricingdomain.ErrInvalidTier,
		pricingdomain.ErrInvalidPPPFactor,
		pricingdomain.ErrInvalidRateBounds,
		pricingdomain.ErrInvalidFeeRate,
		pricingdomain.ErrInvalidAdjustmentType,
		pricingdomain.ErrInvalidMultiplier,
		pricingdomain.ErrInvalidValidity,
		pricingdomain.ErrInvalidID,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, escrowdomain.ErrPaymentNotFound),
		errors.Is(err, pricingdomain.ErrRegionNotFound),
		errors.Is(err, pricingdomain.ErrAdjustmentNotFound),
		errors.Is(err, tierdomain.ErrTierNotFound),
		errors.Is(err, tierdomain.ErrProfileNotFound):
		return true
	default:
		return false
	}
}

func stateConflictCode(err error) (string, bool) {
	for _, target := range stateConflicts {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}
	return "", false
}

// validationErrorCode is the innermost sentinel code, so wrapped errors do not
// leak their context into the response.
func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	switch code {
	case "refund_exceeds_total":
		return "refund_amount"
	case "rate_out_of_bounds":
		return "hourly_rate"
	case "payment_disputed":
		return "status"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "refund_exceeds_total":
		return "refund amount exceeds the payment total"
	case "rate_out_of_bounds":
		return "hourly rate is outside the regional bounds"
	case "payment_disputed":
		return "payment has an open dispute"
	case "tier_unchanged":
		return "agency is already on this tier"
	default:
		return "invalid value"
	}
}

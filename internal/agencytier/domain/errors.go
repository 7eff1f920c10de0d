package domain

import "errors"

var (
	ErrInvalidID       = errors.New("invalid_id")
	ErrInvalidMetrics  = errors.New("invalid_metrics")
	ErrInvalidReason   = errors.New("invalid_reason")
	ErrInvalidTier     = errors.New("invalid_tier")
	ErrTierNotFound    = errors.New("tier_not_found")
	ErrTierInactive    = errors.New("tier_inactive")
	ErrTierUnchanged   = errors.New("tier_unchanged")
	ErrProfileNotFound = errors.New("agency_profile_not_found")
)

var validationErrors = []error{
	ErrInvalidID,
	ErrInvalidMetrics,
	ErrInvalidReason,
	ErrInvalidTier,
	ErrTierInactive,
	ErrTierUnchanged,
}

func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

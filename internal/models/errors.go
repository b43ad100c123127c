package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrSignatureInvalid      = errors.New("signature invalid")
	ErrAlreadyCheckedIn      = errors.New("already checked in")
	ErrBookingNotPayable     = errors.New("booking is not paid")
	ErrBookingConflict       = errors.New("booking state conflict")
	ErrBookingNotCancellable = errors.New("booking cannot be cancelled")
	ErrQRExpired             = errors.New("qr payload expired")
	ErrForbidden             = errors.New("forbidden")
)

// ValidationError rejects a malformed or ineligible request before any side
// effect happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Coupon rejection reasons
const (
	CouponReasonNotFound         = "NOT_FOUND"
	CouponReasonInactive         = "INACTIVE"
	CouponReasonNotStarted       = "NOT_STARTED"
	CouponReasonExpired          = "EXPIRED"
	CouponReasonBelowMinimum     = "BELOW_MINIMUM"
	CouponReasonUsageExhausted   = "USAGE_EXHAUSTED"
	CouponReasonUserLimitReached = "USER_LIMIT_REACHED"
	CouponReasonEventMismatch    = "EVENT_NOT_ELIGIBLE"
)

// CouponError explains why a coupon cannot be applied.
type CouponError struct {
	Code   string
	Reason string
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %q invalid: %s", e.Code, e.Reason)
}

package api

import (
	"errors"
	"net/http"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, Body{Success: false, Error: msg, Code: code})
}

// errorStatus maps a service error to its HTTP status and machine code.
func errorStatus(err error) (int, string) {
	var verr *models.ValidationError
	var cerr *models.CouponError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.As(err, &cerr):
		return http.StatusUnprocessableEntity, "COUPON_" + cerr.Reason
	case errors.Is(err, models.ErrSignatureInvalid):
		return http.StatusBadRequest, "SIGNATURE_INVALID"
	case errors.Is(err, models.ErrQRExpired):
		return http.StatusBadRequest, "QR_EXPIRED"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, models.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, models.ErrBookingConflict):
		return http.StatusConflict, "BOOKING_CONFLICT"
	case errors.Is(err, models.ErrAlreadyCheckedIn):
		return http.StatusConflict, "ALREADY_CHECKED_IN"
	case errors.Is(err, models.ErrBookingNotCancellable):
		return http.StatusConflict, "NOT_CANCELLABLE"
	case errors.Is(err, models.ErrBookingNotPayable):
		return http.StatusUnprocessableEntity, "NOT_PAID"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// writeError renders err in the envelope. Internal errors are logged and
// hidden from the caller.
func writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		msg = "internal error"
	}
	fail(c, status, code, msg)
}

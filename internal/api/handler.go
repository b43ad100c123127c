package api

import (
	"context"
	"net/http"
	"time"

	"ticket-service/internal/auth"
	"ticket-service/internal/models"
	"ticket-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency the readiness check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *zap.Logger
	// Ready maps dependency names to their pingers.
	Ready map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	bookings *service.BookingService
	coupons  *service.CouponService
	checkins *service.CheckinService
	jwt      *auth.JWTService
	opts     Options
}

// NewHandler creates a new HTTP handler
func NewHandler(
	bookings *service.BookingService,
	coupons *service.CouponService,
	checkins *service.CheckinService,
	jwt *auth.JWTService,
	opts Options,
) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		bookings: bookings,
		coupons:  coupons,
		checkins: checkins,
		jwt:      jwt,
		opts:     opts,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.opts.Logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := RateLimit(h.opts.RateLimitRPS, h.opts.RateLimitBurst)
	authed := JWT(h.jwt)
	staff := RequireRole(auth.RoleStaff, auth.RoleOrganizer)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/bookings", authed, h.createBooking)
		v1.GET("/bookings/:id", authed, h.getBooking)
		v1.POST("/bookings/:id/cancel", authed, h.cancelBooking)

		v1.POST("/payments/confirm", limited, h.confirmPayment)

		v1.POST("/coupons/validate", authed, h.validateCoupon)

		v1.POST("/checkins", limited, authed, staff, h.checkin)
		v1.GET("/events/:id/checkins/stats", authed, staff, h.checkinStats)
		v1.GET("/events/:id/checkins/stream", authed, staff, h.checkinStream)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.opts.Ready))
	ready := true
	for name, p := range h.opts.Ready {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// createBooking handles booking creation
func (h *Handler) createBooking(c *gin.Context) {
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body: "+err.Error())
		return
	}

	resp, err := h.bookings.Create(c.Request.Context(), userID(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	created(c, resp)
}

// getBooking returns a booking to its owner
func (h *Handler) getBooking(c *gin.Context) {
	b, err := h.bookings.Get(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, b)
}

// cancelBooking cancels a paid booking for its owner
func (h *Handler) cancelBooking(c *gin.Context) {
	b, err := h.bookings.Cancel(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, gin.H{
		"bookingId":     b.ID,
		"status":        b.Status,
		"refundAmount":  b.RefundAmount,
		"paymentStatus": b.Payment.Status,
	})
}

// confirmPayment handles the gateway checkout callback. It is authenticated
// by the payment signature, not by a user token.
func (h *Handler) confirmPayment(c *gin.Context) {
	var req service.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body: "+err.Error())
		return
	}

	b, err := h.bookings.Confirm(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, gin.H{
		"bookingId": b.ID,
		"status":    b.Status,
		"paymentId": b.Payment.PaymentID,
	})
}

// validateCoupon previews a coupon discount
func (h *Handler) validateCoupon(c *gin.Context) {
	var req service.ValidateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body: "+err.Error())
		return
	}

	resp, err := h.coupons.Validate(c.Request.Context(), userID(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, resp)
}

type checkinRequest struct {
	BookingID  string            `json:"bookingId"`
	QR         string            `json:"qr"`
	EventID    string            `json:"eventId"`
	DeviceInfo models.DeviceInfo `json:"deviceInfo"`
}

// checkin scans a booking id or a signed QR payload at the door
func (h *Handler) checkin(c *gin.Context) {
	var req checkinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body: "+err.Error())
		return
	}
	if req.BookingID == "" && req.QR == "" {
		fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "bookingId or qr is required")
		return
	}

	device := req.DeviceInfo
	if device.UserAgent == "" {
		device.UserAgent = c.Request.UserAgent()
	}
	if device.IP == "" {
		device.IP = c.ClientIP()
	}

	var rec *models.CheckinRecord
	var err error
	if req.QR != "" {
		rec, err = h.checkins.ScanQR(c.Request.Context(), req.QR, req.EventID, userID(c), device)
	} else {
		rec, err = h.checkins.Scan(c.Request.Context(), service.ScanRequest{
			BookingID: req.BookingID,
			EventID:   req.EventID,
			ScannedBy: userID(c),
			Device:    device,
		})
	}
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, gin.H{"ok": true, "record": rec})
}

// checkinStats returns entry counts for an event
func (h *Handler) checkinStats(c *gin.Context) {
	stats, err := h.checkins.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, stats)
}

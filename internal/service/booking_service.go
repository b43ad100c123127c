package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"ticket-service/internal/delivery"
	"ticket-service/internal/models"
	"ticket-service/internal/payment"
	"ticket-service/internal/pricing"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BookingService drives a booking from cart to paid ticket and owns every
// transaction boundary on the way.
type BookingService struct {
	repo     store.Repository
	gateway  payment.Gateway
	coupons  *CouponService
	events   EventPublisher
	queue    DeliveryQueue
	logger   *zap.Logger
	holdTTL  time.Duration
	currency string
	now      func() time.Time
}

// BookingOptions tunes a BookingService.
type BookingOptions struct {
	HoldTTL  time.Duration
	Currency string
}

// NewBookingService creates a new booking service
func NewBookingService(
	repo store.Repository,
	gateway payment.Gateway,
	coupons *CouponService,
	events EventPublisher,
	queue DeliveryQueue,
	opts BookingOptions,
) *BookingService {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = 15 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &BookingService{
		repo:     repo,
		gateway:  gateway,
		coupons:  coupons,
		events:   events,
		queue:    queue,
		logger:   util.GetLogger(),
		holdTTL:  opts.HoldTTL,
		currency: opts.Currency,
		now:      time.Now,
	}
}

// CartItem is one requested ticket line.
type CartItem struct {
	TicketTypeID string `json:"ticketTypeId" binding:"required"`
	Quantity     int    `json:"quantity"`
}

// CreateBookingRequest represents a request to create a booking
type CreateBookingRequest struct {
	EventID    string     `json:"eventId" binding:"required"`
	Items      []CartItem `json:"items" binding:"required"`
	CouponCode string     `json:"couponCode,omitempty"`
}

// CreateBookingResponse carries what the client needs to open checkout.
type CreateBookingResponse struct {
	BookingID     string          `json:"bookingId"`
	OrderID       string          `json:"orderId"`
	Gateway       string          `json:"gateway"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Amount        decimal.Decimal `json:"amount"`
	AmountMinor   int64           `json:"amountMinor"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	HoldExpiresAt time.Time       `json:"holdExpiresAt"`
}

// ConfirmPaymentRequest is the gateway checkout callback.
type ConfirmPaymentRequest struct {
	OrderID   string `json:"orderId" binding:"required"`
	PaymentID string `json:"paymentId" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// newBookingID returns BK-<base36 unix ms>-<6 random hex chars>.
func newBookingID(now time.Time) string {
	return fmt.Sprintf("BK-%s-%s",
		strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)),
		strings.ToUpper(uuid.New().String()[:6]))
}

// mergeCart folds repeated ticket types into one line, keeping first-seen
// order.
func mergeCart(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, models.NewValidationError("items", "cart is empty")
	}

	merged := make([]CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		if it.TicketTypeID == "" {
			return nil, models.NewValidationError("items", "ticket type is required")
		}
		if it.Quantity <= 0 {
			return nil, models.NewValidationError("items", "quantity for %s must be positive", it.TicketTypeID)
		}
		if i, ok := index[it.TicketTypeID]; ok {
			merged[i].Quantity += it.Quantity
			continue
		}
		index[it.TicketTypeID] = len(merged)
		merged = append(merged, it)
	}
	return merged, nil
}

// lockOrder returns items sorted by ticket type so that concurrent holds
// lock inventory rows in the same order.
func lockOrder(items []models.BookingItem) []models.BookingItem {
	out := append([]models.BookingItem(nil), items...)
	sort.Slice(out, func(i, j int) bool { return out[i].TicketTypeID < out[j].TicketTypeID })
	return out
}

// checkPerUserLimits re-reads, inside the hold transaction, everything the
// purchaser holds or owns, the new booking included.
func checkPerUserLimits(ctx context.Context, tx store.Tx, b *models.Booking, types map[string]*models.TicketType, now time.Time) error {
	ids := make([]string, len(b.Items))
	for i, it := range b.Items {
		ids[i] = it.TicketTypeID
	}
	held, err := tx.HeldQuantities(ctx, b.UserID, ids, now)
	if err != nil {
		return fmt.Errorf("failed to load purchase history: %w", err)
	}
	for _, it := range b.Items {
		tt := types[it.TicketTypeID]
		if tt.PerUserLimit > 0 && held[tt.ID] > tt.PerUserLimit {
			return models.NewValidationError("items",
				"ticket type %s allows %d per purchaser, already holding %d",
				tt.ID, tt.PerUserLimit, held[tt.ID]-it.Quantity)
		}
	}
	return nil
}

// loadCart resolves cart lines against the catalog and checks that every
// type belongs to eventID.
func loadCart(ctx context.Context, repo store.Repository, eventID string, items []CartItem) (map[string]*models.TicketType, error) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.TicketTypeID
	}

	types, err := repo.GetTicketTypes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket types: %w", err)
	}

	byID := make(map[string]*models.TicketType, len(types))
	for i := range types {
		byID[types[i].ID] = &types[i]
	}

	for _, it := range items {
		tt, ok := byID[it.TicketTypeID]
		if !ok {
			return nil, models.NewValidationError("items", "ticket type %s does not exist", it.TicketTypeID)
		}
		if tt.EventID != eventID {
			return nil, models.NewValidationError("items", "ticket type %s is not sold for event %s", tt.ID, eventID)
		}
	}
	return byID, nil
}

// Create validates and prices a cart, opens a gateway order and places a
// soft hold on the inventory together with the PENDING booking.
func (s *BookingService) Create(ctx context.Context, userID string, req *CreateBookingRequest) (resp *CreateBookingResponse, err error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Create")
	defer func() { util.EndSpan(span, err) }()

	if userID == "" {
		return nil, models.NewValidationError("userId", "caller identity is required")
	}
	if req.EventID == "" {
		return nil, models.NewValidationError("eventId", "is required")
	}

	items, err := mergeCart(req.Items)
	if err != nil {
		util.BookingsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	if _, err := s.repo.GetEvent(ctx, req.EventID); err != nil {
		return nil, err
	}

	now := s.now()
	types, err := loadCart(ctx, s.repo, req.EventID, items)
	if err != nil {
		util.BookingsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.TicketTypeID
	}
	held, err := s.repo.HeldQuantities(ctx, userID, ids, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase history: %w", err)
	}

	lines := make([]pricing.LineItem, 0, len(items))
	bookingItems := make([]models.BookingItem, 0, len(items))
	for _, it := range items {
		tt := types[it.TicketTypeID]
		if !tt.OnSale(now) {
			util.BookingsFailedTotal.WithLabelValues("not_on_sale").Inc()
			return nil, models.NewValidationError("items", "ticket type %s is not on sale", tt.ID)
		}
		if tt.PerUserLimit > 0 && held[tt.ID]+it.Quantity > tt.PerUserLimit {
			util.BookingsFailedTotal.WithLabelValues("per_user_limit").Inc()
			return nil, models.NewValidationError("items",
				"ticket type %s allows %d per purchaser, already holding %d", tt.ID, tt.PerUserLimit, held[tt.ID])
		}
		lines = append(lines, pricing.LineItem{UnitPrice: tt.Price, Quantity: it.Quantity})
		bookingItems = append(bookingItems, models.BookingItem{
			TicketTypeID: tt.ID,
			Quantity:     it.Quantity,
			UnitPrice:    tt.Price,
		})
	}

	var coupon *models.Coupon
	if req.CouponCode != "" {
		coupon, err = s.coupons.Resolve(ctx, req.CouponCode, req.EventID, userID, pricing.Subtotal(lines), now)
		if err != nil {
			util.BookingsFailedTotal.WithLabelValues("coupon").Inc()
			return nil, err
		}
	}

	quote := pricing.Price(lines, coupon, now)
	total := quote.Total()
	bookingID := newBookingID(now)

	start := time.Now()
	order, err := s.gateway.CreateOrder(ctx, payment.ToMinor(total), s.currency, bookingID)
	util.GatewayLatency.WithLabelValues("create_order").Observe(time.Since(start).Seconds())
	if err != nil {
		util.BookingsFailedTotal.WithLabelValues("gateway").Inc()
		return nil, fmt.Errorf("failed to create payment order: %w", err)
	}

	booking := &models.Booking{
		ID:         bookingID,
		UserID:     userID,
		EventID:    req.EventID,
		Items:      bookingItems,
		CouponCode: req.CouponCode,
		Subtotal:   quote.Subtotal,
		Discount:   quote.Discount,
		Total:      total,
		Currency:   s.currency,
		Payment: models.PaymentInfo{
			Gateway: s.gateway.Name(),
			OrderID: order.ID,
			Status:  models.PaymentStatusPending,
		},
		Status:        models.BookingStatusPending,
		HoldExpiresAt: now.Add(s.holdTTL),
		RefundAmount:  decimal.Zero,
	}
	reserveStart := time.Now()
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertBooking(ctx, booking); err != nil {
			return err
		}
		for _, it := range lockOrder(booking.Items) {
			if err := tx.Reserve(ctx, it.TicketTypeID, it.Quantity); err != nil {
				return err
			}
		}
		// the reserve above locks each ticket type row, so concurrent holds
		// on the same types are committed by now and visible here
		return checkPerUserLimits(ctx, tx, booking, types, now)
	})
	util.InventoryReserveLatency.Observe(time.Since(reserveStart).Seconds())
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			util.BookingsFailedTotal.WithLabelValues("per_user_limit").Inc()
			return nil, err
		}
		if errors.Is(err, models.ErrInsufficientStock) {
			util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.InventoryReservationsFailed.WithLabelValues("error").Inc()
		}
		util.BookingsFailedTotal.WithLabelValues("reservation_failed").Inc()
		return nil, err
	}

	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Booking created",
		zap.String("booking_id", booking.ID),
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.String("total", total.StringFixed(2)))

	if err := s.events.PublishBookingEvent(ctx, models.NewBookingEvent(models.EventTypeBookingCreated, booking)); err != nil {
		s.logger.Error("Failed to publish BookingCreated event", zap.Error(err))
	}

	return &CreateBookingResponse{
		BookingID:     booking.ID,
		OrderID:       order.ID,
		Gateway:       booking.Payment.Gateway,
		Subtotal:      booking.Subtotal,
		Discount:      booking.Discount,
		Amount:        total,
		AmountMinor:   payment.ToMinor(total),
		Currency:      booking.Currency,
		Status:        booking.Status,
		HoldExpiresAt: booking.HoldExpiresAt,
	}, nil
}

// Confirm verifies a checkout callback and commits the booking. Replaying a
// confirmation that already succeeded returns the paid booking unchanged.
func (s *BookingService) Confirm(ctx context.Context, req *ConfirmPaymentRequest) (result *models.Booking, err error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Confirm")
	defer func() { util.EndSpan(span, err) }()

	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return nil, models.NewValidationError("payment", "orderId, paymentId and signature are required")
	}

	if !s.gateway.VerifySignature(req.OrderID, req.PaymentID, req.Signature) {
		util.SignatureFailuresTotal.WithLabelValues("payment").Inc()
		s.logger.Warn("Payment signature mismatch",
			zap.String("order_id", req.OrderID),
			zap.String("payment_id", req.PaymentID))
		return nil, models.ErrSignatureInvalid
	}

	booking, err := s.repo.GetBookingByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	var replay bool
	// set when the payment is genuine but the booking can no longer be
	// honoured: seats are gone or the coupon cap was reached meanwhile
	var orphanErr error

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		cur, err := tx.GetBookingForUpdate(ctx, booking.ID)
		if err != nil {
			return err
		}

		switch cur.Status {
		case models.BookingStatusPaid:
			if cur.Payment.PaymentID == req.PaymentID {
				replay = true
				result = cur
				return nil
			}
			return fmt.Errorf("booking %s already paid by another payment: %w", cur.ID, models.ErrBookingConflict)
		case models.BookingStatusPending, models.BookingStatusExpired:
		default:
			return fmt.Errorf("booking %s is %s: %w", cur.ID, cur.Status, models.ErrBookingConflict)
		}

		// only the reaper releases holds, so a PENDING booking still owns its
		// seats even past HoldExpiresAt
		if cur.Status == models.BookingStatusExpired {
			for _, it := range cur.Items {
				if err := tx.Reserve(ctx, it.TicketTypeID, it.Quantity); err != nil {
					if errors.Is(err, models.ErrInsufficientStock) {
						util.InventoryReservationsFailed.WithLabelValues("confirm_rereserve").Inc()
						orphanErr = err
					}
					return err
				}
			}
		}

		cur.Status = models.BookingStatusPaid
		cur.Payment.Status = models.PaymentStatusPaid
		cur.Payment.PaymentID = req.PaymentID
		cur.Payment.Signature = req.Signature

		if cur.CouponCode != "" {
			if err := tx.RecordCouponRedemption(ctx, cur.CouponCode, cur.UserID, cur.ID); err != nil {
				var couponErr *models.CouponError
				if errors.As(err, &couponErr) {
					orphanErr = err
				}
				return err
			}
		}
		if err := tx.UpdateBooking(ctx, cur); err != nil {
			return err
		}
		result = cur
		return nil
	})

	if orphanErr != nil {
		return nil, s.orphanPayment(ctx, booking.ID, req, orphanErr)
	}
	if err != nil {
		if errors.Is(err, models.ErrBookingConflict) {
			util.BookingsFailedTotal.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}
	if replay {
		s.logger.Info("Duplicate payment confirmation", zap.String("booking_id", result.ID))
		return result, nil
	}

	util.BookingsPaidTotal.Inc()
	s.logger.Info("Booking paid",
		zap.String("booking_id", result.ID),
		zap.String("payment_id", req.PaymentID))

	if err := s.events.PublishBookingEvent(ctx, models.NewBookingEvent(models.EventTypeBookingPaid, result)); err != nil {
		s.logger.Error("Failed to publish BookingPaid event", zap.Error(err))
	}
	if err := s.queue.Enqueue(ctx, delivery.Job{Type: delivery.JobTicket, BookingID: result.ID}); err != nil {
		util.DeliveryJobsTotal.WithLabelValues(delivery.JobTicket, "enqueue_failed").Inc()
		s.logger.Error("Failed to enqueue ticket delivery",
			zap.String("booking_id", result.ID),
			zap.Error(err))
	}

	return result, nil
}

// orphanPayment records a verified payment whose booking could not be
// committed: the booking fails, a hold it still owns is released and the
// money is queued for a full refund. The returned error carries cause.
func (s *BookingService) orphanPayment(ctx context.Context, bookingID string, req *ConfirmPaymentRequest, cause error) error {
	var failed *models.Booking
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		cur, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if cur.Status != models.BookingStatusPending && cur.Status != models.BookingStatusExpired {
			return nil
		}
		if cur.Status == models.BookingStatusPending {
			for _, it := range cur.Items {
				if err := tx.Release(ctx, it.TicketTypeID, it.Quantity); err != nil {
					return err
				}
			}
		}
		cur.Status = models.BookingStatusFailed
		cur.Payment.Status = models.PaymentStatusRefundPending
		cur.Payment.PaymentID = req.PaymentID
		cur.Payment.Signature = req.Signature
		if err := tx.UpdateBooking(ctx, cur); err != nil {
			return err
		}
		failed = cur
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to mark orphaned payment",
			zap.String("booking_id", bookingID),
			zap.String("payment_id", req.PaymentID),
			zap.Error(err))
		return fmt.Errorf("booking %s: %w", bookingID, cause)
	}

	if failed != nil {
		util.BookingsFailedTotal.WithLabelValues("orphaned_payment").Inc()
		s.logger.Warn("Payment orphaned, refund queued",
			zap.String("booking_id", bookingID),
			zap.String("payment_id", req.PaymentID),
			zap.NamedError("cause", cause))

		event := &models.PaymentOrphanedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypePaymentOrphaned),
			BookingID: failed.ID,
			OrderID:   failed.Payment.OrderID,
			PaymentID: req.PaymentID,
			Amount:    failed.Total,
			Reason:    cause.Error(),
		}
		if err := s.events.PublishPaymentOrphaned(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentOrphaned event",
				zap.String("booking_id", bookingID),
				zap.Error(err))
		}
	}

	return cause
}

// Cancel cancels a paid booking for its owner, returns the seats and refunds
// according to the refund policy.
func (s *BookingService) Cancel(ctx context.Context, bookingID, userID string) (result *models.Booking, err error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Cancel")
	defer func() { util.EndSpan(span, err) }()

	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, models.ErrForbidden
	}

	event, err := s.repo.GetEvent(ctx, booking.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}

	now := s.now()
	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		cur, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if cur.Status != models.BookingStatusPaid {
			return fmt.Errorf("booking %s is %s: %w", cur.ID, cur.Status, models.ErrBookingNotCancellable)
		}
		if cur.CheckedIn {
			return fmt.Errorf("booking %s already used for entry: %w", cur.ID, models.ErrBookingNotCancellable)
		}

		for _, it := range cur.Items {
			if err := tx.Release(ctx, it.TicketTypeID, it.Quantity); err != nil {
				return err
			}
		}

		refund := pricing.RefundAmount(cur.Total, now, event.StartsAt)
		cur.RefundAmount = refund
		if refund.IsPositive() {
			cur.Status = models.BookingStatusRefunded
			cur.Payment.Status = models.PaymentStatusRefundPending
		} else {
			cur.Status = models.BookingStatusCancelled
		}
		if err := tx.UpdateBooking(ctx, cur); err != nil {
			return err
		}
		result = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.BookingsRefundedTotal.WithLabelValues(result.Status).Inc()
	s.logger.Info("Booking cancelled",
		zap.String("booking_id", result.ID),
		zap.String("status", result.Status),
		zap.String("refund", result.RefundAmount.StringFixed(2)))

	eventType := models.EventTypeBookingCancelled
	if result.Status == models.BookingStatusRefunded {
		eventType = models.EventTypeBookingRefunded
		s.refundNow(ctx, result)
	}

	// published after the refund attempt so the compensator sees its outcome
	if err := s.events.PublishBookingEvent(ctx, models.NewBookingEvent(eventType, result)); err != nil {
		s.logger.Error("Failed to publish cancellation event", zap.Error(err))
	}
	return result, nil
}

// refundNow makes one refund attempt. On failure the payment stays
// REFUND_PENDING for the compensator.
func (s *BookingService) refundNow(ctx context.Context, b *models.Booking) {
	start := time.Now()
	refundID, err := s.gateway.Refund(ctx, b.Payment.PaymentID, payment.ToMinor(b.RefundAmount))
	util.GatewayLatency.WithLabelValues("refund").Observe(time.Since(start).Seconds())
	if err != nil {
		util.PaymentRefundsTotal.WithLabelValues("deferred").Inc()
		s.logger.Warn("Refund failed, left for compensation",
			zap.String("booking_id", b.ID),
			zap.Error(err))
		return
	}

	if err := s.repo.SetPaymentStatus(ctx, b.ID, models.PaymentStatusRefunded); err != nil {
		s.logger.Error("Refund issued but status not saved",
			zap.String("booking_id", b.ID),
			zap.String("refund_id", refundID),
			zap.Error(err))
		return
	}
	b.Payment.Status = models.PaymentStatusRefunded
	util.PaymentRefundsTotal.WithLabelValues("success").Inc()
}

// Get returns a booking to its owner.
func (s *BookingService) Get(ctx context.Context, bookingID, userID string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Get")
	defer span.End()

	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, models.ErrForbidden
	}
	return booking, nil
}

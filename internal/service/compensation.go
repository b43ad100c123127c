package service

import (
	"context"
	"fmt"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/notify"
	"ticket-service/internal/payment"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compensator settles money for bookings that ended without seats: orphaned
// payments and cancellations whose inline refund did not go through. A refund
// that keeps failing stays REFUND_PENDING and is re-driven by RefundSweep.
type Compensator struct {
	repo     store.Repository
	gateway  payment.Gateway
	ops      notify.OpsNotifier
	logger   *zap.Logger
	attempts int
	backoff  time.Duration
}

// NewCompensator creates a new compensator
func NewCompensator(repo store.Repository, gateway payment.Gateway, ops notify.OpsNotifier) *Compensator {
	return &Compensator{
		repo:     repo,
		gateway:  gateway,
		ops:      ops,
		logger:   util.GetLogger(),
		attempts: 3,
		backoff:  time.Second,
	}
}

// HandlePaymentOrphaned refunds a verified payment whose booking failed.
func (c *Compensator) HandlePaymentOrphaned(ctx context.Context, event *models.PaymentOrphanedEvent) error {
	ctx, span := util.StartSpan(ctx, "Compensator.HandlePaymentOrphaned")
	defer span.End()

	c.logger.Warn("Handling orphaned payment",
		zap.String("booking_id", event.BookingID),
		zap.String("payment_id", event.PaymentID),
		zap.String("reason", event.Reason))

	return c.settle(ctx, event.BaseEvent, event.BookingID, true)
}

// HandleBookingRefunded finishes a cancellation refund that is still pending.
func (c *Compensator) HandleBookingRefunded(ctx context.Context, event *models.BookingEvent) error {
	ctx, span := util.StartSpan(ctx, "Compensator.HandleBookingRefunded")
	defer span.End()

	return c.settle(ctx, event.BaseEvent, event.BookingID, false)
}

func (c *Compensator) settle(ctx context.Context, event models.BaseEvent, bookingID string, orphaned bool) error {
	processed, err := c.repo.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		c.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	b, err := c.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("failed to load booking: %w", err)
	}

	if b.Payment.Status == models.PaymentStatusRefundPending {
		amount := b.RefundAmount
		if orphaned {
			amount = b.Total
		}

		refundID, err := c.refundWithRetry(ctx, b, amount)
		if err != nil {
			util.PaymentRefundsTotal.WithLabelValues("failed").Inc()
			c.logger.Error("Refund failed, left for the refund sweep",
				zap.String("booking_id", b.ID),
				zap.String("payment_id", b.Payment.PaymentID),
				zap.Error(err))
			c.alert(ctx, fmt.Sprintf("Refund FAILED for booking %s (payment %s, %s %s): %v",
				b.ID, b.Payment.PaymentID, amount.StringFixed(2), b.Currency, err))
			return nil
		}

		if err := c.repo.SetPaymentStatus(ctx, b.ID, models.PaymentStatusRefunded); err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}
		util.PaymentRefundsTotal.WithLabelValues("success").Inc()
		c.logger.Info("Refund issued",
			zap.String("booking_id", b.ID),
			zap.String("refund_id", refundID),
			zap.String("amount", amount.StringFixed(2)))

		if orphaned {
			c.alert(ctx, fmt.Sprintf("Orphaned payment %s for booking %s refunded (%s %s)",
				b.Payment.PaymentID, b.ID, amount.StringFixed(2), b.Currency))
		}
	}

	if err := c.repo.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		c.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

func (c *Compensator) refundWithRetry(ctx context.Context, b *models.Booking, amount decimal.Decimal) (string, error) {
	var lastErr error
	wait := c.backoff
	for attempt := 1; attempt <= c.attempts; attempt++ {
		start := time.Now()
		refundID, err := c.gateway.Refund(ctx, b.Payment.PaymentID, payment.ToMinor(amount))
		util.GatewayLatency.WithLabelValues("refund").Observe(time.Since(start).Seconds())
		if err == nil {
			return refundID, nil
		}
		lastErr = err
		c.logger.Warn("Refund attempt failed",
			zap.String("booking_id", b.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return "", fmt.Errorf("refund failed after %d attempts: %w", c.attempts, lastErr)
}

func (c *Compensator) alert(ctx context.Context, text string) {
	if c.ops == nil {
		return
	}
	if err := c.ops.Notify(ctx, text); err != nil {
		c.logger.Error("Failed to send ops alert", zap.Error(err))
	}
}

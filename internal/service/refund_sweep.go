package service

import (
	"context"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

const refundSweepLock = "sweep:refunds"

// RefundSweep re-drives refunds that are still owed. It republishes the
// compensation event for every booking left in REFUND_PENDING longer than
// grace, so the Compensator retries until the gateway accepts the refund.
type RefundSweep struct {
	repo   store.Repository
	events EventPublisher
	locker Locker
	grace  time.Duration
	batch  int
	logger *zap.Logger
	now    func() time.Time
}

// NewRefundSweep creates a sweep. grace keeps it away from refunds that are
// still being handled inline or by the consumer.
func NewRefundSweep(repo store.Repository, events EventPublisher, locker Locker, grace time.Duration, batch int) *RefundSweep {
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &RefundSweep{
		repo:   repo,
		events: events,
		locker: locker,
		grace:  grace,
		batch:  batch,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Sweep republishes one batch and reports how many events went out.
func (r *RefundSweep) Sweep(ctx context.Context) (int, error) {
	var sent int
	_, err := withLock(ctx, r.locker, refundSweepLock, r.grace, func() error {
		n, err := r.sweep(ctx)
		sent = n
		return err
	})
	return sent, err
}

func (r *RefundSweep) sweep(ctx context.Context) (int, error) {
	owed, err := r.repo.ListRefundPending(ctx, r.now().Add(-r.grace), r.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range owed {
		b := &owed[i]
		if err := r.republish(ctx, b); err != nil {
			r.logger.Error("Failed to republish refund", zap.String("booking_id", b.ID), zap.Error(err))
			continue
		}
		sent++
	}

	if sent > 0 {
		r.logger.Warn("Refunds still owed, compensation retried", zap.Int("count", sent))
	}
	return sent, nil
}

func (r *RefundSweep) republish(ctx context.Context, b *models.Booking) error {
	if b.Status == models.BookingStatusFailed {
		return r.events.PublishPaymentOrphaned(ctx, &models.PaymentOrphanedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypePaymentOrphaned),
			BookingID: b.ID,
			OrderID:   b.Payment.OrderID,
			PaymentID: b.Payment.PaymentID,
			Amount:    b.Total,
			Reason:    "refund retry",
		})
	}
	return r.events.PublishBookingEvent(ctx, models.NewBookingEvent(models.EventTypeBookingRefunded, b))
}

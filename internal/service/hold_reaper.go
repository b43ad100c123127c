package service

import (
	"context"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

const holdSweepLock = "sweep:holds"

// HoldReaper returns the seats of abandoned PENDING bookings to inventory.
type HoldReaper struct {
	repo    store.Repository
	events  EventPublisher
	locker  Locker
	batch   int
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewHoldReaper creates a reaper. locker may be nil for single-instance
// deployments.
func NewHoldReaper(repo store.Repository, events EventPublisher, locker Locker, batch int, lockTTL time.Duration) *HoldReaper {
	if batch <= 0 {
		batch = 100
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &HoldReaper{
		repo:    repo,
		events:  events,
		locker:  locker,
		batch:   batch,
		lockTTL: lockTTL,
		logger:  util.GetLogger(),
		now:     time.Now,
	}
}

// Sweep expires one batch of lapsed holds and reports how many were
// released. It does nothing while another instance holds the sweep lock.
func (r *HoldReaper) Sweep(ctx context.Context) (int, error) {
	var expired int
	ran, err := withLock(ctx, r.locker, holdSweepLock, r.lockTTL, func() error {
		n, err := r.sweep(ctx)
		expired = n
		return err
	})
	if err != nil {
		return expired, err
	}
	if !ran {
		r.logger.Debug("Hold sweep skipped, lock held elsewhere")
	}
	return expired, nil
}

func (r *HoldReaper) sweep(ctx context.Context) (int, error) {
	now := r.now()

	var ids []string
	err := r.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.ListExpiredHolds(ctx, now, r.batch)
		return err
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		b, err := r.expire(ctx, id, now)
		if err != nil {
			r.logger.Error("Failed to expire hold", zap.String("booking_id", id), zap.Error(err))
			continue
		}
		if b == nil {
			continue
		}

		expired++
		util.HoldsExpiredTotal.Inc()
		if err := r.events.PublishBookingEvent(ctx, models.NewBookingEvent(models.EventTypeBookingExpired, b)); err != nil {
			r.logger.Error("Failed to publish BookingExpired event", zap.String("booking_id", id), zap.Error(err))
		}
	}

	if expired > 0 {
		r.logger.Info("Expired soft holds", zap.Int("count", expired))
	}
	return expired, nil
}

// expire releases one booking's hold. It returns nil when the booking was
// confirmed or reaped between listing and locking.
func (r *HoldReaper) expire(ctx context.Context, id string, now time.Time) (*models.Booking, error) {
	var expired *models.Booking
	err := r.repo.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != models.BookingStatusPending || b.HoldExpiresAt.After(now) {
			return nil
		}

		for _, it := range b.Items {
			if err := tx.Release(ctx, it.TicketTypeID, it.Quantity); err != nil {
				return err
			}
		}
		b.Status = models.BookingStatusExpired
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		expired = b
		return nil
	})
	return expired, err
}

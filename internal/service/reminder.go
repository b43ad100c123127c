package service

import (
	"context"
	"time"

	"ticket-service/internal/delivery"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

const reminderSweepLock = "sweep:reminders"

// ReminderSweep queues reminders for paid bookings whose event is close.
type ReminderSweep struct {
	repo    store.Repository
	queue   DeliveryQueue
	locker  Locker
	lead    time.Duration
	batch   int
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewReminderSweep creates a reminder sweep. locker may be nil.
func NewReminderSweep(repo store.Repository, queue DeliveryQueue, locker Locker, lead time.Duration, batch int) *ReminderSweep {
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	if batch <= 0 {
		batch = 100
	}
	return &ReminderSweep{
		repo:    repo,
		queue:   queue,
		locker:  locker,
		lead:    lead,
		batch:   batch,
		lockTTL: time.Minute,
		logger:  util.GetLogger(),
		now:     time.Now,
	}
}

// Sweep enqueues one batch of reminders and reports how many were queued.
func (r *ReminderSweep) Sweep(ctx context.Context) (int, error) {
	var queued int
	_, err := withLock(ctx, r.locker, reminderSweepLock, r.lockTTL, func() error {
		due, err := r.repo.ListReminderDue(ctx, r.now(), r.lead, r.batch)
		if err != nil {
			return err
		}

		for _, b := range due {
			job := delivery.Job{Type: delivery.JobReminder, BookingID: b.ID, EnqueuedAt: r.now()}
			if err := r.queue.Enqueue(ctx, job); err != nil {
				util.DeliveryJobsTotal.WithLabelValues(delivery.JobReminder, "enqueue_failed").Inc()
				r.logger.Error("Failed to enqueue reminder", zap.String("booking_id", b.ID), zap.Error(err))
				continue
			}
			if err := r.repo.MarkReminderSent(ctx, b.ID); err != nil {
				r.logger.Error("Failed to mark reminder sent", zap.String("booking_id", b.ID), zap.Error(err))
				continue
			}
			queued++
		}
		return nil
	})
	if queued > 0 {
		r.logger.Info("Reminders queued", zap.Int("count", queued))
	}
	return queued, err
}

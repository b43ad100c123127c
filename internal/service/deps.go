package service

import (
	"context"
	"time"

	"ticket-service/internal/delivery"
	"ticket-service/internal/models"
)

// EventPublisher publishes domain events. broker.EventPublisher implements it.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, event *models.BookingEvent) error
	PublishPaymentOrphaned(ctx context.Context, event *models.PaymentOrphanedEvent) error
	PublishCheckedIn(ctx context.Context, event *models.CheckedInEvent) error
}

// DeliveryQueue accepts delivery jobs. delivery.Publisher implements it.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, job delivery.Job) error
}

// Locker de-duplicates periodic sweeps across instances. An empty token
// means another instance holds the lock.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Claimer marks a piece of work as done once.
type Claimer interface {
	ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ForgetClaim(ctx context.Context, key string) error
}

// LiveCheckins is the realtime check-in feed backed by Redis.
type LiveCheckins interface {
	RecordCheckin(ctx context.Context, eventID string, payload []byte, at time.Time) (int64, error)
	CheckinStats(ctx context.Context, eventID string) (int64, time.Time, error)
	SubscribeCheckins(ctx context.Context, eventID string, handler func(payload []byte)) (func(), error)
}

// PassStore stores pass documents and returns a download URL.
type PassStore interface {
	PutPass(ctx context.Context, eventID, bookingID string, body []byte) (string, error)
}

// withLock runs fn only if lock key could be taken. A nil locker always runs.
func withLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func() error) (bool, error) {
	if locker == nil {
		return true, fn()
	}

	token, err := locker.AcquireLock(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	if token == "" {
		return false, nil
	}
	defer func() {
		_ = locker.ReleaseLock(context.Background(), key, token)
	}()

	return true, fn()
}

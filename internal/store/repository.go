package store

import (
	"context"
	"time"

	"ticket-service/internal/models"
)

// InventoryStore holds the two atomic inventory primitives. Reserve fails
// with models.ErrInsufficientStock instead of ever driving remaining below
// zero; Release never raises remaining above the ticket type's maximum.
type InventoryStore interface {
	Reserve(ctx context.Context, ticketTypeID string, qty int) error
	Release(ctx context.Context, ticketTypeID string, qty int) error
}

// Tx is the set of operations available inside one all-or-nothing unit of
// work.
type Tx interface {
	InventoryStore

	InsertBooking(ctx context.Context, b *models.Booking) error
	// GetBookingForUpdate loads a booking and locks it until the transaction
	// ends.
	GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, b *models.Booking) error
	// ListExpiredHolds returns ids of PENDING bookings whose hold lapsed at or
	// before now, skipping rows locked by another sweeper.
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error)

	// HeldQuantities reads through the transaction; see Repository.
	HeldQuantities(ctx context.Context, userID string, ticketTypeIDs []string, now time.Time) (map[string]int, error)

	// RecordCouponRedemption counts one use of code by the booking. It fails
	// with a models.CouponError when the usage or per-user cap is reached.
	RecordCouponRedemption(ctx context.Context, code, userID, bookingID string) error

	// InsertCheckin fails with models.ErrAlreadyCheckedIn when the booking
	// already has a record.
	InsertCheckin(ctx context.Context, rec *models.CheckinRecord) error
}

// Repository is the storage surface used by the services.
type Repository interface {
	InventoryStore

	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetTicketType(ctx context.Context, id string) (*models.TicketType, error)
	GetTicketTypes(ctx context.Context, ids []string) ([]models.TicketType, error)

	GetCoupon(ctx context.Context, code string) (*models.Coupon, error)
	CountCouponRedemptions(ctx context.Context, code, userID string) (int, error)

	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByOrderID(ctx context.Context, orderID string) (*models.Booking, error)
	// HeldQuantities sums, per ticket type, what userID already holds or owns:
	// PAID bookings plus PENDING bookings whose hold is live at now.
	HeldQuantities(ctx context.Context, userID string, ticketTypeIDs []string, now time.Time) (map[string]int, error)
	ListReminderDue(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]models.Booking, error)
	MarkReminderSent(ctx context.Context, bookingID string) error
	UpdateDelivery(ctx context.Context, bookingID string, d models.DeliveryInfo) error
	SetPaymentStatus(ctx context.Context, bookingID, status string) error
	// ListRefundPending lists bookings whose refund is still owed and that
	// have not changed since cutoff.
	ListRefundPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)

	GetCheckin(ctx context.Context, bookingID string) (*models.CheckinRecord, error)
	CountCheckins(ctx context.Context, eventID string) (int, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error

	Ping(ctx context.Context) error
	Close() error
}

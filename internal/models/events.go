package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeBookingCreated   = "BOOKING_CREATED"
	EventTypeBookingPaid      = "BOOKING_PAID"
	EventTypeBookingRefunded  = "BOOKING_REFUNDED"
	EventTypeBookingCancelled = "BOOKING_CANCELLED"
	EventTypeBookingExpired   = "BOOKING_EXPIRED"
	EventTypePaymentOrphaned  = "PAYMENT_ORPHANED"
	EventTypeCheckedIn        = "CHECKED_IN"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event envelope.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// Type returns the event type, used as the Kafka type header.
func (e BaseEvent) Type() string { return e.EventType }

// BookingEvent covers the booking lifecycle transitions.
type BookingEvent struct {
	BaseEvent
	BookingID    string          `json:"booking_id"`
	UserID       string          `json:"user_id"`
	EventRef     string          `json:"event_ref"`
	Status       string          `json:"status"`
	Total        decimal.Decimal `json:"total"`
	RefundAmount decimal.Decimal `json:"refund_amount,omitempty"`
	OrderID      string          `json:"order_id"`
	PaymentID    string          `json:"payment_id,omitempty"`
	Items        []BookingItem   `json:"items"`
}

// NewBookingEvent builds a lifecycle event from the booking's current state.
func NewBookingEvent(eventType string, b *Booking) *BookingEvent {
	return &BookingEvent{
		BaseEvent:    NewBaseEvent(eventType),
		BookingID:    b.ID,
		UserID:       b.UserID,
		EventRef:     b.EventID,
		Status:       b.Status,
		Total:        b.Total,
		RefundAmount: b.RefundAmount,
		OrderID:      b.Payment.OrderID,
		PaymentID:    b.Payment.PaymentID,
		Items:        b.Items,
	}
}

// PaymentOrphanedEvent is published when a verified payment could not be
// matched with inventory and must be refunded.
type PaymentOrphanedEvent struct {
	BaseEvent
	BookingID string          `json:"booking_id"`
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

// CheckedInEvent is published after a successful scan.
type CheckedInEvent struct {
	BaseEvent
	Record CheckinRecord `json:"record"`
}

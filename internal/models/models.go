package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is the read-only slice of the catalog the booking engine needs.
type Event struct {
	ID       string    `db:"id" json:"id"`
	Name     string    `db:"name" json:"name"`
	Venue    string    `db:"venue" json:"venue"`
	StartsAt time.Time `db:"starts_at" json:"starts_at"`
	EndsAt   time.Time `db:"ends_at" json:"ends_at"`
}

// TicketType is a priced, capacity-limited tier of admission for one event.
// Remaining is only ever changed through InventoryStore primitives.
type TicketType struct {
	ID           string          `db:"id" json:"id"`
	EventID      string          `db:"event_id" json:"event_id"`
	Name         string          `db:"name" json:"name"`
	Price        decimal.Decimal `db:"price" json:"price"`
	SaleStart    time.Time       `db:"sale_start" json:"sale_start"`
	SaleEnd      time.Time       `db:"sale_end" json:"sale_end"`
	MaxQuantity  int             `db:"max_quantity" json:"max_quantity"`
	Remaining    int             `db:"remaining" json:"remaining"`
	PerUserLimit int             `db:"per_user_limit" json:"per_user_limit"`
}

// OnSale reports whether now falls in [SaleStart, SaleEnd).
func (t *TicketType) OnSale(now time.Time) bool {
	return !now.Before(t.SaleStart) && now.Before(t.SaleEnd)
}

// Coupon kinds
const (
	CouponPercent   = "PERCENT"
	CouponFixed     = "FIXED"
	CouponEarlyBird = "EARLY_BIRD"
	CouponGroup     = "GROUP"
	CouponBOGO      = "BOGO"
)

// Coupon is a discount rule. For GROUP coupons Value holds the group size N
// ("buy N-1 get 1 free").
type Coupon struct {
	Code           string           `json:"code"`
	Kind           string           `json:"kind"`
	Value          decimal.Decimal  `json:"value"`
	MinOrderAmount *decimal.Decimal `json:"min_order_amount,omitempty"`
	MaxDiscount    *decimal.Decimal `json:"max_discount,omitempty"`
	ValidFrom      time.Time        `json:"valid_from"`
	ValidUntil     time.Time        `json:"valid_until"`
	UsageLimit     *int             `json:"usage_limit,omitempty"`
	PerUserLimit   *int             `json:"per_user_limit,omitempty"`
	EventIDs       []string         `json:"event_ids,omitempty"`
	Active         bool             `json:"active"`
	UsedCount      int              `json:"used_count"`
}

// ValidAt reports whether now falls in [ValidFrom, ValidUntil).
func (c *Coupon) ValidAt(now time.Time) bool {
	return !now.Before(c.ValidFrom) && now.Before(c.ValidUntil)
}

// AppliesToEvent reports whether the coupon is scoped to eventID. An empty
// scope list means every event.
func (c *Coupon) AppliesToEvent(eventID string) bool {
	if len(c.EventIDs) == 0 {
		return true
	}
	for _, id := range c.EventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// Booking statuses
const (
	BookingStatusPending   = "PENDING"
	BookingStatusExpired   = "EXPIRED"
	BookingStatusPaid      = "PAID"
	BookingStatusRefunded  = "REFUNDED"
	BookingStatusCancelled = "CANCELLED"
	BookingStatusFailed    = "FAILED"
)

// Payment statuses
const (
	PaymentStatusPending       = "PENDING"
	PaymentStatusPaid          = "PAID"
	PaymentStatusRefundPending = "REFUND_PENDING"
	PaymentStatusRefunded      = "REFUNDED"
)

// BookingItem is one cart line. UnitPrice is captured when the booking is
// created and never recomputed.
type BookingItem struct {
	TicketTypeID string          `db:"ticket_type_id" json:"ticket_type_id"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// PaymentInfo is the gateway sub-record of a booking.
type PaymentInfo struct {
	Gateway   string `json:"gateway"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id,omitempty"`
	Signature string `json:"-"`
	Status    string `json:"status"`
}

// DeliveryInfo records best-effort delivery outcomes.
type DeliveryInfo struct {
	EmailSent    bool   `json:"email_sent"`
	WhatsAppSent bool   `json:"whatsapp_sent"`
	PassURL      string `json:"pass_url,omitempty"`
}

// Booking is the purchase aggregate spanning cart, payment and entry status.
type Booking struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	EventID       string          `json:"event_id"`
	Items         []BookingItem   `json:"items"`
	CouponCode    string          `json:"coupon_code,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	Payment       PaymentInfo     `json:"payment"`
	Status        string          `json:"status"`
	HoldExpiresAt time.Time       `json:"hold_expires_at"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	Delivery      DeliveryInfo    `json:"delivery"`
	ReminderSent  bool            `json:"reminder_sent"`
	CheckedIn     bool            `json:"checked_in"`
	CheckedInAt   *time.Time      `json:"checked_in_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// HoldActive reports whether the soft inventory hold is still live at now.
func (b *Booking) HoldActive(now time.Time) bool {
	return b.Status == BookingStatusPending && now.Before(b.HoldExpiresAt)
}

// TotalQuantity sums the quantities of every line.
func (b *Booking) TotalQuantity() int {
	n := 0
	for _, it := range b.Items {
		n += it.Quantity
	}
	return n
}

// DeviceInfo describes the scanning device.
type DeviceInfo struct {
	UserAgent string `json:"user_agent"`
	IP        string `json:"ip"`
}

// CheckinRecord is one successful entry scan. BookingID is unique.
type CheckinRecord struct {
	ID        string     `db:"id" json:"id"`
	BookingID string     `db:"booking_id" json:"booking_id"`
	EventID   string     `db:"event_id" json:"event_id"`
	ScannedBy string     `db:"scanned_by" json:"scanned_by"`
	ScannedAt time.Time  `db:"scanned_at" json:"scanned_at"`
	Device    DeviceInfo `db:"-" json:"device"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

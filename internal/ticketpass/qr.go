// Package ticketpass issues and verifies the signed QR payload printed on a
// ticket, and builds the pass document delivered to the attendee.
package ticketpass

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ticket-service/internal/models"

	"github.com/shopspring/decimal"
)

// Payload is the JSON object encoded in the QR code.
type Payload struct {
	BookingID string `json:"bookingId"`
	EventID   string `json:"eventId"`
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
}

// Signer issues and verifies QR payloads.
type Signer struct {
	secret []byte
	maxAge time.Duration
}

// NewSigner creates a signer. Payloads older than maxAge are rejected.
func NewSigner(secret string, maxAge time.Duration) *Signer {
	return &Signer{secret: []byte(secret), maxAge: maxAge}
}

func (s *Signer) hash(bookingID, eventID string, ts int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(bookingID + ":" + eventID + ":" + strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue signs a payload stamped at now.
func (s *Signer) Issue(bookingID, eventID string, now time.Time) Payload {
	ts := now.UnixMilli()
	return Payload{
		BookingID: bookingID,
		EventID:   eventID,
		Timestamp: ts,
		Hash:      s.hash(bookingID, eventID, ts),
	}
}

// Encode renders the payload as the string stored in the QR image.
func (s *Signer) Encode(p Payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify parses raw and checks its hash and age at now.
func (s *Signer) Verify(raw string, now time.Time) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, models.NewValidationError("qr", "malformed payload")
	}
	if p.BookingID == "" || p.EventID == "" || p.Timestamp == 0 {
		return nil, models.NewValidationError("qr", "incomplete payload")
	}

	expected := s.hash(p.BookingID, p.EventID, p.Timestamp)
	if !hmac.Equal([]byte(expected), []byte(p.Hash)) {
		return nil, models.ErrSignatureInvalid
	}

	issued := time.UnixMilli(p.Timestamp)
	if s.maxAge > 0 && now.Sub(issued) > s.maxAge {
		return nil, fmt.Errorf("issued %s: %w", issued.UTC().Format(time.RFC3339), models.ErrQRExpired)
	}
	return &p, nil
}

// PassItem is one ticket line on the pass.
type PassItem struct {
	TicketTypeID string          `json:"ticketTypeId"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
}

// Pass is the document delivered to the attendee and stored in object storage.
type Pass struct {
	BookingID  string          `json:"bookingId"`
	EventID    string          `json:"eventId"`
	EventName  string          `json:"eventName"`
	Venue      string          `json:"venue"`
	StartsAt   time.Time       `json:"startsAt"`
	Items      []PassItem      `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	QR         string          `json:"qr"`
	IssuedAt   time.Time       `json:"issuedAt"`
	CouponCode string          `json:"couponCode,omitempty"`
}

// BuildPass assembles a pass for a paid booking.
func BuildPass(b *models.Booking, ev *models.Event, qr string, now time.Time) *Pass {
	items := make([]PassItem, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, PassItem{TicketTypeID: it.TicketTypeID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return &Pass{
		BookingID:  b.ID,
		EventID:    b.EventID,
		EventName:  ev.Name,
		Venue:      ev.Venue,
		StartsAt:   ev.StartsAt,
		Items:      items,
		Total:      b.Total,
		Currency:   b.Currency,
		QR:         qr,
		IssuedAt:   now,
		CouponCode: b.CouponCode,
	}
}

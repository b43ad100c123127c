package ticketpass

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ticket-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	s := NewSigner("qr-secret", 24*time.Hour)
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

	p := s.Issue("BK-1", "EV-1", now)
	raw, err := s.Encode(p)
	require.NoError(t, err)

	got, err := s.Verify(raw, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "BK-1", got.BookingID)
	assert.Equal(t, "EV-1", got.EventID)
	assert.Equal(t, now.UnixMilli(), got.Timestamp)
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := NewSigner("qr-secret", 24*time.Hour)
	now := time.Now()

	p := s.Issue("BK-1", "EV-1", now)
	p.BookingID = "BK-2"
	raw, _ := json.Marshal(p)

	_, err := s.Verify(string(raw), now)
	assert.ErrorIs(t, err, models.ErrSignatureInvalid)

	other := NewSigner("different", 24*time.Hour)
	raw2, _ := other.Encode(other.Issue("BK-1", "EV-1", now))
	_, err = s.Verify(raw2, now)
	assert.ErrorIs(t, err, models.ErrSignatureInvalid)
}

func TestVerifyExpiry(t *testing.T) {
	s := NewSigner("qr-secret", 24*time.Hour)
	issued := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	raw, _ := s.Encode(s.Issue("BK-1", "EV-1", issued))

	_, err := s.Verify(raw, issued.Add(24*time.Hour))
	assert.NoError(t, err)

	_, err = s.Verify(raw, issued.Add(24*time.Hour+time.Second))
	assert.ErrorIs(t, err, models.ErrQRExpired)
}

func TestVerifyMalformed(t *testing.T) {
	s := NewSigner("qr-secret", time.Hour)

	for _, raw := range []string{"", "not json", `{"bookingId":"BK-1"}`} {
		_, err := s.Verify(raw, time.Now())
		var vErr *models.ValidationError
		assert.True(t, errors.As(err, &vErr), "input %q", raw)
	}
}

func TestBuildPass(t *testing.T) {
	now := time.Now()
	b := &models.Booking{
		ID:       "BK-1",
		EventID:  "EV-1",
		Total:    decimal.NewFromInt(900),
		Currency: "INR",
		Items: []models.BookingItem{
			{TicketTypeID: "TT-1", Quantity: 3, UnitPrice: decimal.NewFromInt(300)},
		},
	}
	ev := &models.Event{ID: "EV-1", Name: "Launch Night", Venue: "Hall A", StartsAt: now.Add(48 * time.Hour)}

	pass := BuildPass(b, ev, "qr-data", now)
	assert.Equal(t, "Launch Night", pass.EventName)
	assert.Equal(t, "qr-data", pass.QR)
	require.Len(t, pass.Items, 1)
	assert.Equal(t, 3, pass.Items[0].Quantity)
	assert.True(t, pass.Total.Equal(decimal.NewFromInt(900)))
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func insertCheckin(ctx context.Context, db sqlx.ExtContext, rec *models.CheckinRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO checkins (id, booking_id, event_id, scanned_by, scanned_at, device_user_agent, device_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.BookingID, rec.EventID, rec.ScannedBy, rec.ScannedAt, rec.Device.UserAgent, rec.Device.IP)
	if isUniqueViolation(err) {
		return fmt.Errorf("booking %s: %w", rec.BookingID, models.ErrAlreadyCheckedIn)
	}
	if err != nil {
		return fmt.Errorf("failed to insert checkin: %w", err)
	}
	return nil
}

// GetCheckin retrieves the check-in record of a booking
func (s *Store) GetCheckin(ctx context.Context, bookingID string) (*models.CheckinRecord, error) {
	var row struct {
		models.CheckinRecord
		UserAgent string `db:"device_user_agent"`
		IP        string `db:"device_ip"`
	}
	err := s.db.GetContext(ctx, &row, "SELECT * FROM checkins WHERE booking_id = $1", bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkin for %s: %w", bookingID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rec := row.CheckinRecord
	rec.Device = models.DeviceInfo{UserAgent: row.UserAgent, IP: row.IP}
	return &rec, nil
}

// CountCheckins counts the entries recorded for an event.
func (s *Store) CountCheckins(ctx context.Context, eventID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM checkins WHERE event_id = $1", eventID)
	return n, err
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type bookingRow struct {
	ID               string          `db:"id"`
	UserID           string          `db:"user_id"`
	EventID          string          `db:"event_id"`
	CouponCode       string          `db:"coupon_code"`
	Subtotal         decimal.Decimal `db:"subtotal"`
	Discount         decimal.Decimal `db:"discount"`
	Total            decimal.Decimal `db:"total"`
	Currency         string          `db:"currency"`
	PaymentGateway   string          `db:"payment_gateway"`
	OrderID          string          `db:"order_id"`
	PaymentID        string          `db:"payment_id"`
	PaymentSignature string          `db:"payment_signature"`
	PaymentStatus    string          `db:"payment_status"`
	Status           string          `db:"status"`
	HoldExpiresAt    time.Time       `db:"hold_expires_at"`
	RefundAmount     decimal.Decimal `db:"refund_amount"`
	EmailSent        bool            `db:"email_sent"`
	WhatsAppSent     bool            `db:"whatsapp_sent"`
	PassURL          string          `db:"pass_url"`
	ReminderSent     bool            `db:"reminder_sent"`
	CheckedIn        bool            `db:"checked_in"`
	CheckedInAt      *time.Time      `db:"checked_in_at"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

func (r *bookingRow) toModel(items []models.BookingItem) *models.Booking {
	return &models.Booking{
		ID:         r.ID,
		UserID:     r.UserID,
		EventID:    r.EventID,
		Items:      items,
		CouponCode: r.CouponCode,
		Subtotal:   r.Subtotal,
		Discount:   r.Discount,
		Total:      r.Total,
		Currency:   r.Currency,
		Payment: models.PaymentInfo{
			Gateway:   r.PaymentGateway,
			OrderID:   r.OrderID,
			PaymentID: r.PaymentID,
			Signature: r.PaymentSignature,
			Status:    r.PaymentStatus,
		},
		Status:        r.Status,
		HoldExpiresAt: r.HoldExpiresAt,
		RefundAmount:  r.RefundAmount,
		Delivery: models.DeliveryInfo{
			EmailSent:    r.EmailSent,
			WhatsAppSent: r.WhatsAppSent,
			PassURL:      r.PassURL,
		},
		ReminderSent: r.ReminderSent,
		CheckedIn:    r.CheckedIn,
		CheckedInAt:  r.CheckedInAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func getBooking(ctx context.Context, db sqlx.ExtContext, query string, args ...interface{}) (*models.Booking, error) {
	var row bookingRow
	err := sqlx.GetContext(ctx, db, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var items []models.BookingItem
	err = sqlx.SelectContext(ctx, db, &items,
		"SELECT ticket_type_id, quantity, unit_price FROM booking_items WHERE booking_id = $1 ORDER BY position",
		row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking items: %w", err)
	}
	return row.toModel(items), nil
}

func insertBooking(ctx context.Context, db sqlx.ExtContext, b *models.Booking) error {
	query := `
		INSERT INTO bookings (
			id, user_id, event_id, coupon_code, subtotal, discount, total, currency,
			payment_gateway, order_id, payment_status, status, hold_expires_at, refund_amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	err := db.QueryRowxContext(ctx, query,
		b.ID, b.UserID, b.EventID, b.CouponCode, b.Subtotal, b.Discount, b.Total, b.Currency,
		b.Payment.Gateway, b.Payment.OrderID, b.Payment.Status, b.Status, b.HoldExpiresAt, b.RefundAmount,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	for i, it := range b.Items {
		_, err := db.ExecContext(ctx, `
			INSERT INTO booking_items (booking_id, position, ticket_type_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			b.ID, i, it.TicketTypeID, it.Quantity, it.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert booking item: %w", err)
		}
	}
	return nil
}

func updateBooking(ctx context.Context, db sqlx.ExtContext, b *models.Booking) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET
			status = $1, payment_status = $2, payment_id = $3, payment_signature = $4,
			hold_expires_at = $5, refund_amount = $6, checked_in = $7, checked_in_at = $8,
			updated_at = NOW()
		WHERE id = $9`,
		b.Status, b.Payment.Status, b.Payment.PaymentID, b.Payment.Signature,
		b.HoldExpiresAt, b.RefundAmount, b.CheckedIn, b.CheckedInAt, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, models.ErrNotFound)
	}
	return nil
}

// GetBooking retrieves a booking by ID
func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, s.db, "SELECT * FROM bookings WHERE id = $1", id)
}

// GetBookingByOrderID retrieves a booking by its gateway order id
func (s *Store) GetBookingByOrderID(ctx context.Context, orderID string) (*models.Booking, error) {
	return getBooking(ctx, s.db, "SELECT * FROM bookings WHERE order_id = $1", orderID)
}

// HeldQuantities sums the user's live holds and paid tickets per ticket type.
func (s *Store) HeldQuantities(ctx context.Context, userID string, ticketTypeIDs []string, now time.Time) (map[string]int, error) {
	return heldQuantities(ctx, s.db, userID, ticketTypeIDs, now)
}

func heldQuantities(ctx context.Context, db sqlx.ExtContext, userID string, ticketTypeIDs []string, now time.Time) (map[string]int, error) {
	out := make(map[string]int, len(ticketTypeIDs))
	if len(ticketTypeIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT bi.ticket_type_id, COALESCE(SUM(bi.quantity), 0) AS quantity
		FROM booking_items bi
		JOIN bookings b ON b.id = bi.booking_id
		WHERE b.user_id = ?
		  AND bi.ticket_type_id IN (?)
		  AND (b.status = ? OR (b.status = ? AND b.hold_expires_at > ?))
		GROUP BY bi.ticket_type_id`,
		userID, ticketTypeIDs, models.BookingStatusPaid, models.BookingStatusPending, now)
	if err != nil {
		return nil, err
	}
	query = db.Rebind(query)

	var rows []struct {
		TicketTypeID string `db:"ticket_type_id"`
		Quantity     int    `db:"quantity"`
	}
	if err := sqlx.SelectContext(ctx, db, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.TicketTypeID] = r.Quantity
	}
	return out, nil
}

// ListReminderDue lists paid bookings whose event starts within lead of now
// and that have not been reminded yet.
func (s *Store) ListReminderDue(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]models.Booking, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT b.id FROM bookings b
		JOIN events e ON e.id = b.event_id
		WHERE b.status = $1 AND NOT b.reminder_sent
		  AND e.starts_at > $2 AND e.starts_at <= $3
		ORDER BY e.starts_at
		LIMIT $4`,
		models.BookingStatusPaid, now, now.Add(lead), limit)
	if err != nil {
		return nil, err
	}

	bookings := make([]models.Booking, 0, len(ids))
	for _, id := range ids {
		b, err := s.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, nil
}

// MarkReminderSent flags a booking as reminded.
func (s *Store) MarkReminderSent(ctx context.Context, bookingID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE bookings SET reminder_sent = TRUE, updated_at = NOW() WHERE id = $1", bookingID)
	return err
}

// ListRefundPending lists bookings still waiting for a refund, oldest first.
func (s *Store) ListRefundPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM bookings
		WHERE payment_status = $1 AND updated_at <= $2
		ORDER BY updated_at
		LIMIT $3`,
		models.PaymentStatusRefundPending, cutoff, limit)
	if err != nil {
		return nil, err
	}

	bookings := make([]models.Booking, 0, len(ids))
	for _, id := range ids {
		b, err := s.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, nil
}

// UpdateDelivery stores the delivery outcome flags.
func (s *Store) UpdateDelivery(ctx context.Context, bookingID string, d models.DeliveryInfo) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET email_sent = $1, whatsapp_sent = $2, pass_url = $3, updated_at = NOW()
		WHERE id = $4`,
		d.EmailSent, d.WhatsAppSent, d.PassURL, bookingID)
	return err
}

// SetPaymentStatus updates only the payment sub-record status.
func (s *Store) SetPaymentStatus(ctx context.Context, bookingID, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE bookings SET payment_status = $1, updated_at = NOW() WHERE id = $2", status, bookingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, models.ErrNotFound)
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// GetEvent retrieves an event by ID
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var ev models.Event
	err := s.db.GetContext(ctx, &ev, "SELECT id, name, venue, starts_at, ends_at FROM events WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetTicketType retrieves a ticket type by ID
func (s *Store) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	var tt models.TicketType
	err := s.db.GetContext(ctx, &tt, "SELECT * FROM ticket_types WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket type %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &tt, nil
}

// GetTicketTypes retrieves the ticket types that exist among ids.
func (s *Store) GetTicketTypes(ctx context.Context, ids []string) ([]models.TicketType, error) {
	if len(ids) == 0 {
		return []models.TicketType{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM ticket_types WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var types []models.TicketType
	err = s.db.SelectContext(ctx, &types, query, args...)
	return types, err
}

type couponRow struct {
	Code           string              `db:"code"`
	Kind           string              `db:"kind"`
	Value          decimal.Decimal     `db:"value"`
	MinOrderAmount decimal.NullDecimal `db:"min_order_amount"`
	MaxDiscount    decimal.NullDecimal `db:"max_discount"`
	ValidFrom      time.Time           `db:"valid_from"`
	ValidUntil     time.Time           `db:"valid_until"`
	UsageLimit     sql.NullInt64       `db:"usage_limit"`
	PerUserLimit   sql.NullInt64       `db:"per_user_limit"`
	EventIDs       pq.StringArray      `db:"event_ids"`
	Active         bool                `db:"active"`
	UsedCount      int                 `db:"used_count"`
}

func (r *couponRow) toModel() *models.Coupon {
	c := &models.Coupon{
		Code:       r.Code,
		Kind:       r.Kind,
		Value:      r.Value,
		ValidFrom:  r.ValidFrom,
		ValidUntil: r.ValidUntil,
		EventIDs:   []string(r.EventIDs),
		Active:     r.Active,
		UsedCount:  r.UsedCount,
	}
	if r.MinOrderAmount.Valid {
		v := r.MinOrderAmount.Decimal
		c.MinOrderAmount = &v
	}
	if r.MaxDiscount.Valid {
		v := r.MaxDiscount.Decimal
		c.MaxDiscount = &v
	}
	if r.UsageLimit.Valid {
		v := int(r.UsageLimit.Int64)
		c.UsageLimit = &v
	}
	if r.PerUserLimit.Valid {
		v := int(r.PerUserLimit.Int64)
		c.PerUserLimit = &v
	}
	return c
}

// GetCoupon retrieves a coupon by code
func (s *Store) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	var row couponRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM coupons WHERE code = $1", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("coupon %s: %w", code, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// CountCouponRedemptions counts confirmed uses of code by userID.
func (s *Store) CountCouponRedemptions(ctx context.Context, code, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM coupon_redemptions WHERE code = $1 AND user_id = $2", code, userID)
	return n, err
}

// recordRedemption counts one confirmed use of a coupon. The coupon row is
// locked first so the global and per-user caps hold across concurrent
// confirmations. The booking id is the primary key, so a replay inside the
// same booking is a no-op.
func recordRedemption(ctx context.Context, db sqlx.ExtContext, code, userID, bookingID string) error {
	var limits struct {
		UsageLimit   sql.NullInt64 `db:"usage_limit"`
		PerUserLimit sql.NullInt64 `db:"per_user_limit"`
	}
	err := sqlx.GetContext(ctx, db, &limits,
		"SELECT usage_limit, per_user_limit FROM coupons WHERE code = $1 FOR UPDATE", code)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("coupon %s: %w", code, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock coupon: %w", err)
	}

	var exists bool
	err = sqlx.GetContext(ctx, db, &exists,
		"SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE booking_id = $1)", bookingID)
	if err != nil {
		return fmt.Errorf("failed to check redemption: %w", err)
	}
	if exists {
		return nil
	}

	if limits.PerUserLimit.Valid {
		var used int64
		err = sqlx.GetContext(ctx, db, &used,
			"SELECT COUNT(*) FROM coupon_redemptions WHERE code = $1 AND user_id = $2", code, userID)
		if err != nil {
			return fmt.Errorf("failed to count redemptions: %w", err)
		}
		if used >= limits.PerUserLimit.Int64 {
			return &models.CouponError{Code: code, Reason: models.CouponReasonUserLimitReached}
		}
	}

	res, err := db.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1
		WHERE code = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`,
		code)
	if err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return &models.CouponError{Code: code, Reason: models.CouponReasonUsageExhausted}
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO coupon_redemptions (booking_id, code, user_id) VALUES ($1, $2, $3)",
		bookingID, code, userID)
	if err != nil {
		return fmt.Errorf("failed to record redemption: %w", err)
	}
	return nil
}

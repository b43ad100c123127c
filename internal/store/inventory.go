package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// Reserve atomically takes qty seats from a ticket type.
func (s *Store) Reserve(ctx context.Context, ticketTypeID string, qty int) error {
	return reserve(ctx, s.db, ticketTypeID, qty)
}

// Release returns qty seats to a ticket type, capped at its maximum.
func (s *Store) Release(ctx context.Context, ticketTypeID string, qty int) error {
	return release(ctx, s.db, ticketTypeID, qty)
}

// reserve is a single conditional decrement: the WHERE clause is the stock
// check, so two concurrent callers can never both pass it for the last seat.
func reserve(ctx context.Context, db sqlx.ExtContext, ticketTypeID string, qty int) error {
	if qty <= 0 {
		return models.NewValidationError("quantity", "must be positive, got %d", qty)
	}

	res, err := db.ExecContext(ctx,
		"UPDATE ticket_types SET remaining = remaining - $1 WHERE id = $2 AND remaining >= $1",
		qty, ticketTypeID)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if err := ticketTypeExists(ctx, db, ticketTypeID); err != nil {
			return err
		}
		return fmt.Errorf("ticket type %s: %w", ticketTypeID, models.ErrInsufficientStock)
	}
	return nil
}

func release(ctx context.Context, db sqlx.ExtContext, ticketTypeID string, qty int) error {
	if qty <= 0 {
		return models.NewValidationError("quantity", "must be positive, got %d", qty)
	}

	res, err := db.ExecContext(ctx,
		"UPDATE ticket_types SET remaining = LEAST(max_quantity, remaining + $1) WHERE id = $2",
		qty, ticketTypeID)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ticket type %s: %w", ticketTypeID, models.ErrNotFound)
	}
	return nil
}

func ticketTypeExists(ctx context.Context, db sqlx.ExtContext, id string) error {
	var one int
	err := sqlx.GetContext(ctx, db, &one, "SELECT 1 FROM ticket_types WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ticket type %s: %w", id, models.ErrNotFound)
	}
	return err
}

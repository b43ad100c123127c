package store

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the Postgres-backed Repository.
type Store struct {
	db *sqlx.DB
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string, maxConns, idleConns int) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	if idleConns <= 0 || idleConns > maxConns {
		idleConns = 5
	}
	db.SetMaxIdleConns(idleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate runs the embedded SQL migrations in file name order.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a transaction. The transaction commits only if fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// pgTx implements Tx on top of a sqlx transaction.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) Reserve(ctx context.Context, ticketTypeID string, qty int) error {
	return reserve(ctx, t.tx, ticketTypeID, qty)
}

func (t *pgTx) Release(ctx context.Context, ticketTypeID string, qty int) error {
	return release(ctx, t.tx, ticketTypeID, qty)
}

func (t *pgTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	return insertBooking(ctx, t.tx, b)
}

func (t *pgTx) GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, t.tx, "SELECT * FROM bookings WHERE id = $1 FOR UPDATE", id)
}

func (t *pgTx) UpdateBooking(ctx context.Context, b *models.Booking) error {
	return updateBooking(ctx, t.tx, b)
}

func (t *pgTx) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT id FROM bookings
		WHERE status = $1 AND hold_expires_at <= $2
		ORDER BY hold_expires_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		models.BookingStatusPending, now, limit)
	return ids, err
}

func (t *pgTx) HeldQuantities(ctx context.Context, userID string, ticketTypeIDs []string, now time.Time) (map[string]int, error) {
	return heldQuantities(ctx, t.tx, userID, ticketTypeIDs, now)
}

func (t *pgTx) RecordCouponRedemption(ctx context.Context, code, userID, bookingID string) error {
	return recordRedemption(ctx, t.tx, code, userID, bookingID)
}

func (t *pgTx) InsertCheckin(ctx context.Context, rec *models.CheckinRecord) error {
	return insertCheckin(ctx, t.tx, rec)
}

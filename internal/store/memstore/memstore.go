// Package memstore is an in-process store.Repository used by tests and by
// STORE_DRIVER=memory. A transaction holds the store mutex for its whole
// duration and restores a snapshot when it fails.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/store"
)

type redemption struct {
	code   string
	userID string
}

type state struct {
	events      map[string]models.Event
	ticketTypes map[string]models.TicketType
	coupons     map[string]models.Coupon
	bookings    map[string]models.Booking
	orderIndex  map[string]string
	redemptions map[string]redemption
	checkins    map[string]models.CheckinRecord
	processed   map[string]string
}

func newState() state {
	return state{
		events:      make(map[string]models.Event),
		ticketTypes: make(map[string]models.TicketType),
		coupons:     make(map[string]models.Coupon),
		bookings:    make(map[string]models.Booking),
		orderIndex:  make(map[string]string),
		redemptions: make(map[string]redemption),
		checkins:    make(map[string]models.CheckinRecord),
		processed:   make(map[string]string),
	}
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.ticketTypes {
		c.ticketTypes[k] = v
	}
	for k, v := range s.coupons {
		c.coupons[k] = copyCoupon(v)
	}
	for k, v := range s.bookings {
		c.bookings[k] = copyBooking(v)
	}
	for k, v := range s.orderIndex {
		c.orderIndex[k] = v
	}
	for k, v := range s.redemptions {
		c.redemptions[k] = v
	}
	for k, v := range s.checkins {
		c.checkins[k] = v
	}
	for k, v := range s.processed {
		c.processed[k] = v
	}
	return c
}

func copyBooking(b models.Booking) models.Booking {
	b.Items = append([]models.BookingItem(nil), b.Items...)
	if b.CheckedInAt != nil {
		at := *b.CheckedInAt
		b.CheckedInAt = &at
	}
	return b
}

func copyCoupon(c models.Coupon) models.Coupon {
	c.EventIDs = append([]string(nil), c.EventIDs...)
	return c
}

// Store is a mutex-guarded in-memory Repository.
type Store struct {
	mu sync.Mutex
	st state
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// AddEvent seeds an event.
func (s *Store) AddEvent(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.events[ev.ID] = ev
}

// AddTicketType seeds a ticket type. A zero Remaining starts it at MaxQuantity.
func (s *Store) AddTicketType(tt models.TicketType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tt.Remaining == 0 {
		tt.Remaining = tt.MaxQuantity
	}
	s.st.ticketTypes[tt.ID] = tt
}

// AddCoupon seeds a coupon.
func (s *Store) AddCoupon(c models.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.coupons[c.Code] = copyCoupon(c)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memTx{st: &s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) Reserve(ctx context.Context, ticketTypeID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.reserve(ticketTypeID, qty)
}

func (s *Store) Release(ctx context.Context, ticketTypeID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.release(ticketTypeID, qty)
}

func (st *state) reserve(id string, qty int) error {
	if qty <= 0 {
		return models.NewValidationError("quantity", "must be positive, got %d", qty)
	}
	tt, ok := st.ticketTypes[id]
	if !ok {
		return fmt.Errorf("ticket type %s: %w", id, models.ErrNotFound)
	}
	if tt.Remaining < qty {
		return fmt.Errorf("ticket type %s: %w", id, models.ErrInsufficientStock)
	}
	tt.Remaining -= qty
	st.ticketTypes[id] = tt
	return nil
}

func (st *state) release(id string, qty int) error {
	if qty <= 0 {
		return models.NewValidationError("quantity", "must be positive, got %d", qty)
	}
	tt, ok := st.ticketTypes[id]
	if !ok {
		return fmt.Errorf("ticket type %s: %w", id, models.ErrNotFound)
	}
	tt.Remaining += qty
	if tt.Remaining > tt.MaxQuantity {
		tt.Remaining = tt.MaxQuantity
	}
	st.ticketTypes[id] = tt
	return nil
}

func (st *state) booking(id string) (*models.Booking, error) {
	b, ok := st.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking: %w", models.ErrNotFound)
	}
	c := copyBooking(b)
	return &c, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.st.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	return &ev, nil
}

func (s *Store) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tt, ok := s.st.ticketTypes[id]
	if !ok {
		return nil, fmt.Errorf("ticket type %s: %w", id, models.ErrNotFound)
	}
	return &tt, nil
}

func (s *Store) GetTicketTypes(ctx context.Context, ids []string) ([]models.TicketType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TicketType, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if tt, ok := s.st.ticketTypes[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, tt)
		}
	}
	return out, nil
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.coupons[code]
	if !ok {
		return nil, fmt.Errorf("coupon %s: %w", code, models.ErrNotFound)
	}
	c = copyCoupon(c)
	return &c, nil
}

func (s *Store) CountCouponRedemptions(ctx context.Context, code, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.st.redemptions {
		if r.code == code && r.userID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.booking(id)
}

func (s *Store) GetBookingByOrderID(ctx context.Context, orderID string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.st.orderIndex[orderID]
	if !ok {
		return nil, fmt.Errorf("booking: %w", models.ErrNotFound)
	}
	return s.st.booking(id)
}

func (s *Store) HeldQuantities(ctx context.Context, userID string, ticketTypeIDs []string, now time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.heldQuantities(userID, ticketTypeIDs, now), nil
}

func (st *state) heldQuantities(userID string, ticketTypeIDs []string, now time.Time) map[string]int {
	wanted := make(map[string]bool, len(ticketTypeIDs))
	for _, id := range ticketTypeIDs {
		wanted[id] = true
	}

	out := make(map[string]int)
	for _, b := range st.bookings {
		if b.UserID != userID {
			continue
		}
		if b.Status != models.BookingStatusPaid && !b.HoldActive(now) {
			continue
		}
		for _, it := range b.Items {
			if wanted[it.TicketTypeID] {
				out[it.TicketTypeID] += it.Quantity
			}
		}
	}
	return out
}

func (s *Store) ListReminderDue(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.Booking
	for _, b := range s.st.bookings {
		if b.Status != models.BookingStatusPaid || b.ReminderSent {
			continue
		}
		ev, ok := s.st.events[b.EventID]
		if !ok || !ev.StartsAt.After(now) || ev.StartsAt.After(now.Add(lead)) {
			continue
		}
		due = append(due, copyBooking(b))
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) ListRefundPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Booking
	for _, b := range s.st.bookings {
		if b.Payment.Status != models.PaymentStatusRefundPending || b.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, copyBooking(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, bookingID string) error {
	return s.mutateBooking(bookingID, func(b *models.Booking) { b.ReminderSent = true })
}

func (s *Store) UpdateDelivery(ctx context.Context, bookingID string, d models.DeliveryInfo) error {
	return s.mutateBooking(bookingID, func(b *models.Booking) { b.Delivery = d })
}

func (s *Store) SetPaymentStatus(ctx context.Context, bookingID, status string) error {
	return s.mutateBooking(bookingID, func(b *models.Booking) { b.Payment.Status = status })
}

func (s *Store) mutateBooking(id string, fn func(b *models.Booking)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.bookings[id]
	if !ok {
		return fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	fn(&b)
	b.UpdatedAt = time.Now()
	s.st.bookings[id] = b
	return nil
}

func (s *Store) GetCheckin(ctx context.Context, bookingID string) (*models.CheckinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.checkins[bookingID]
	if !ok {
		return nil, fmt.Errorf("checkin for %s: %w", bookingID, models.ErrNotFound)
	}
	return &rec, nil
}

func (s *Store) CountCheckins(ctx context.Context, eventID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.st.checkins {
		if rec.EventID == eventID {
			n++
		}
	}
	return n, nil
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.processed[eventID]; !ok {
		s.st.processed[eventID] = eventType
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// memTx operates on the live state; the caller holds the store mutex.
type memTx struct {
	st *state
}

func (t *memTx) Reserve(ctx context.Context, ticketTypeID string, qty int) error {
	return t.st.reserve(ticketTypeID, qty)
}

func (t *memTx) Release(ctx context.Context, ticketTypeID string, qty int) error {
	return t.st.release(ticketTypeID, qty)
}

func (t *memTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	if _, ok := t.st.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s already exists", b.ID)
	}
	if _, ok := t.st.orderIndex[b.Payment.OrderID]; ok {
		return fmt.Errorf("order %s already bound to a booking", b.Payment.OrderID)
	}
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	t.st.bookings[b.ID] = copyBooking(*b)
	t.st.orderIndex[b.Payment.OrderID] = b.ID
	return nil
}

func (t *memTx) GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	return t.st.booking(id)
}

func (t *memTx) UpdateBooking(ctx context.Context, b *models.Booking) error {
	cur, ok := t.st.bookings[b.ID]
	if !ok {
		return fmt.Errorf("booking %s: %w", b.ID, models.ErrNotFound)
	}
	cur.Status = b.Status
	cur.Payment.Status = b.Payment.Status
	cur.Payment.PaymentID = b.Payment.PaymentID
	cur.Payment.Signature = b.Payment.Signature
	cur.HoldExpiresAt = b.HoldExpiresAt
	cur.RefundAmount = b.RefundAmount
	cur.CheckedIn = b.CheckedIn
	cur.CheckedInAt = b.CheckedInAt
	cur.UpdatedAt = time.Now()
	t.st.bookings[b.ID] = copyBooking(cur)
	return nil
}

func (t *memTx) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	for id, b := range t.st.bookings {
		if b.Status == models.BookingStatusPending && !b.HoldExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return t.st.bookings[ids[i]].HoldExpiresAt.Before(t.st.bookings[ids[j]].HoldExpiresAt)
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (t *memTx) HeldQuantities(ctx context.Context, userID string, ticketTypeIDs []string, now time.Time) (map[string]int, error) {
	return t.st.heldQuantities(userID, ticketTypeIDs, now), nil
}

func (t *memTx) RecordCouponRedemption(ctx context.Context, code, userID, bookingID string) error {
	if _, ok := t.st.redemptions[bookingID]; ok {
		return nil
	}
	c, ok := t.st.coupons[code]
	if !ok {
		return fmt.Errorf("coupon %s: %w", code, models.ErrNotFound)
	}
	if c.PerUserLimit != nil {
		used := 0
		for _, r := range t.st.redemptions {
			if r.code == code && r.userID == userID {
				used++
			}
		}
		if used >= *c.PerUserLimit {
			return &models.CouponError{Code: code, Reason: models.CouponReasonUserLimitReached}
		}
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return &models.CouponError{Code: code, Reason: models.CouponReasonUsageExhausted}
	}
	t.st.redemptions[bookingID] = redemption{code: code, userID: userID}
	c.UsedCount++
	t.st.coupons[code] = c
	return nil
}

func (t *memTx) InsertCheckin(ctx context.Context, rec *models.CheckinRecord) error {
	if _, ok := t.st.checkins[rec.BookingID]; ok {
		return fmt.Errorf("booking %s: %w", rec.BookingID, models.ErrAlreadyCheckedIn)
	}
	t.st.checkins[rec.BookingID] = *rec
	return nil
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"ticket-service/internal/delivery"
	"ticket-service/internal/models"
	"ticket-service/internal/notify"
	"ticket-service/internal/payment"
	"ticket-service/internal/store/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const gatewaySecret = "test-gateway-secret"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu        sync.Mutex
	bookings  []*models.BookingEvent
	orphaned  []*models.PaymentOrphanedEvent
	checkedIn []*models.CheckedInEvent
}

func (p *recordingPublisher) PublishBookingEvent(ctx context.Context, event *models.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookings = append(p.bookings, event)
	return nil
}

func (p *recordingPublisher) PublishPaymentOrphaned(ctx context.Context, event *models.PaymentOrphanedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orphaned = append(p.orphaned, event)
	return nil
}

func (p *recordingPublisher) PublishCheckedIn(ctx context.Context, event *models.CheckedInEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkedIn = append(p.checkedIn, event)
	return nil
}

func (p *recordingPublisher) bookingTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, e := range p.bookings {
		types = append(types, e.EventType)
	}
	return types
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []delivery.Job
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, job delivery.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Jobs() []delivery.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]delivery.Job(nil), q.jobs...)
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released int
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return "", nil
	}
	l.held[key] = true
	return "token-" + key, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.released++
	return nil
}

type fakeClaims struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func (c *fakeClaims) ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed == nil {
		c.claimed = map[string]bool{}
	}
	if c.claimed[key] {
		return false, nil
	}
	c.claimed[key] = true
	return true, nil
}

func (c *fakeClaims) ForgetClaim(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claimed, key)
	return nil
}

type fakeSender struct {
	mu       sync.Mutex
	emails   []notify.Message
	whatsapp []notify.Message
	emailErr error
}

func (s *fakeSender) SendEmail(ctx context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emailErr != nil {
		return s.emailErr
	}
	s.emails = append(s.emails, msg)
	return nil
}

func (s *fakeSender) SendWhatsApp(ctx context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whatsapp = append(s.whatsapp, msg)
	return nil
}

type fakeOps struct {
	mu     sync.Mutex
	alerts []string
}

func (o *fakeOps) Notify(ctx context.Context, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts = append(o.alerts, text)
	return nil
}

func (o *fakeOps) Alerts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.alerts...)
}

type fakePasses struct {
	mu   sync.Mutex
	keys []string
	body map[string][]byte
}

func (p *fakePasses) PutPass(ctx context.Context, eventID, bookingID string, body []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.body == nil {
		p.body = map[string][]byte{}
	}
	key := eventID + "/" + bookingID
	p.keys = append(p.keys, key)
	p.body[key] = body
	return "https://passes.example.test/" + key, nil
}

// fixture is a booking engine wired to in-memory storage with one event
// starting 72h after t0.
type fixture struct {
	repo    *memstore.Store
	gateway *payment.MockGateway
	events  *recordingPublisher
	queue   *recordingQueue
	clock   *clock
	coupons *CouponService
	booking *BookingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := memstore.New()
	repo.AddEvent(models.Event{
		ID:       "EV-1",
		Name:     "Indie Night",
		Venue:    "Hall 3",
		StartsAt: t0.Add(72 * time.Hour),
		EndsAt:   t0.Add(76 * time.Hour),
	})
	repo.AddEvent(models.Event{ID: "EV-2", Name: "Other", StartsAt: t0.Add(96 * time.Hour)})

	saleStart, saleEnd := t0.Add(-24*time.Hour), t0.Add(48*time.Hour)
	repo.AddTicketType(models.TicketType{
		ID: "GA", EventID: "EV-1", Name: "General", Price: decimal.NewFromInt(100),
		SaleStart: saleStart, SaleEnd: saleEnd, MaxQuantity: 10,
	})
	repo.AddTicketType(models.TicketType{
		ID: "VIP", EventID: "EV-1", Name: "VIP", Price: decimal.NewFromInt(250),
		SaleStart: saleStart, SaleEnd: saleEnd, MaxQuantity: 5, PerUserLimit: 2,
	})
	repo.AddTicketType(models.TicketType{
		ID: "LAST", EventID: "EV-1", Name: "Last seat", Price: decimal.NewFromInt(50),
		SaleStart: saleStart, SaleEnd: saleEnd, MaxQuantity: 1,
	})
	repo.AddTicketType(models.TicketType{
		ID: "LATER", EventID: "EV-1", Name: "Door", Price: decimal.NewFromInt(120),
		SaleStart: t0.Add(time.Hour), SaleEnd: saleEnd, MaxQuantity: 10,
	})
	repo.AddTicketType(models.TicketType{
		ID: "OTHER", EventID: "EV-2", Name: "Other GA", Price: decimal.NewFromInt(80),
		SaleStart: saleStart, SaleEnd: saleEnd, MaxQuantity: 10,
	})

	f := &fixture{
		repo:    repo,
		gateway: payment.NewMockGateway(gatewaySecret),
		events:  &recordingPublisher{},
		queue:   &recordingQueue{},
		clock:   &clock{now: t0},
	}
	f.coupons = NewCouponService(repo)
	f.coupons.now = f.clock.Now
	f.booking = NewBookingService(repo, f.gateway, f.coupons, f.events, f.queue, BookingOptions{
		HoldTTL:  15 * time.Minute,
		Currency: "INR",
	})
	f.booking.now = f.clock.Now
	return f
}

func (f *fixture) remaining(t *testing.T, id string) int {
	t.Helper()
	tt, err := f.repo.GetTicketType(context.Background(), id)
	require.NoError(t, err)
	return tt.Remaining
}

func (f *fixture) create(t *testing.T, userID string, items ...CartItem) *CreateBookingResponse {
	t.Helper()
	resp, err := f.booking.Create(context.Background(), userID, &CreateBookingRequest{EventID: "EV-1", Items: items})
	require.NoError(t, err)
	return resp
}

func (f *fixture) confirmRequest(orderID, paymentID string) *ConfirmPaymentRequest {
	return &ConfirmPaymentRequest{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: f.gateway.SignPayment(orderID, paymentID),
	}
}

// paid creates and confirms a booking for userID.
func (f *fixture) paid(t *testing.T, userID string, items ...CartItem) *models.Booking {
	t.Helper()
	resp := f.create(t, userID, items...)
	b, err := f.booking.Confirm(context.Background(), f.confirmRequest(resp.OrderID, "pay_"+resp.BookingID))
	require.NoError(t, err)
	return b
}

func (f *fixture) reaper() *HoldReaper {
	r := NewHoldReaper(f.repo, f.events, nil, 100, time.Minute)
	r.now = f.clock.Now
	return r
}

func intPtr(v int) *int { return &v }

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

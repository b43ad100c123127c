package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"ticket-service/internal/delivery"
	"ticket-service/internal/models"
	"ticket-service/internal/notify"
	"ticket-service/internal/ticketpass"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoldReaperExpiresLapsedHolds(t *testing.T) {
	f := newFixture(t)
	stale := f.create(t, "user-1", CartItem{TicketTypeID: "GA", Quantity: 3})
	f.clock.Set(t0.Add(10 * time.Minute))
	fresh := f.create(t, "user-2", CartItem{TicketTypeID: "GA", Quantity: 1})
	paid := f.paid(t, "user-3", CartItem{TicketTypeID: "VIP", Quantity: 1})

	f.clock.Set(t0.Add(16 * time.Minute))
	n, err := f.reaper().Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := f.repo.GetBooking(context.Background(), stale.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusExpired, b.Status)

	b, err = f.repo.GetBooking(context.Background(), fresh.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, b.Status)

	b, err = f.repo.GetBooking(context.Background(), paid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPaid, b.Status)

	assert.Equal(t, 9, f.remaining(t, "GA"))
	assert.Equal(t, 4, f.remaining(t, "VIP"))
	assert.Contains(t, f.events.bookingTypes(), models.EventTypeBookingExpired)

	// nothing left to reap
	n, err = f.reaper().Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 9, f.remaining(t, "GA"))
}

func TestHoldReaperSkipsWhileLockHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	f.create(t, "user-1", CartItem{TicketTypeID: "GA", Quantity: 2})
	f.clock.Set(t0.Add(time.Hour))

	locker := &fakeLocker{held: map[string]bool{holdSweepLock: true}}
	r := NewHoldReaper(f.repo, f.events, locker, 10, time.Minute)
	r.now = f.clock.Now

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 8, f.remaining(t, "GA"))

	delete(locker.held, holdSweepLock)
	n, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 10, f.remaining(t, "GA"))
	assert.Equal(t, 1, locker.released)
}

func newCompensator(f *fixture, ops notify.OpsNotifier) *Compensator {
	c := NewCompensator(f.repo, f.gateway, ops)
	c.backoff = time.Millisecond
	return c
}

func orphanedBooking(t *testing.T, f *fixture) *models.PaymentOrphanedEvent {
	t.Helper()
	late := f.create(t, "user-1", CartItem{TicketTypeID: "LAST", Quantity: 1})
	f.clock.Set(t0.Add(time.Hour))
	_, err := f.reaper().Sweep(context.Background())
	require.NoError(t, err)
	f.create(t, "user-2", CartItem{TicketTypeID: "LAST", Quantity: 1})

	_, err = f.booking.Confirm(context.Background(), f.confirmRequest(late.OrderID, "pay_late"))
	require.ErrorIs(t, err, models.ErrInsufficientStock)
	require.Len(t, f.events.orphaned, 1)
	return f.events.orphaned[0]
}

func TestCompensatorRefundsOrphanedPayment(t *testing.T) {
	f := newFixture(t)
	ops := &fakeOps{}
	c := newCompensator(f, ops)
	event := orphanedBooking(t, f)

	require.NoError(t, c.HandlePaymentOrphaned(context.Background(), event))

	refunds := f.gateway.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, "pay_late", refunds[0].PaymentID)
	assert.Equal(t, int64(5000), refunds[0].AmountMinor)

	b, err := f.repo.GetBooking(context.Background(), event.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, b.Payment.Status)
	require.Len(t, ops.Alerts(), 1)

	// redelivery is a no-op
	require.NoError(t, c.HandlePaymentOrphaned(context.Background(), event))
	assert.Len(t, f.gateway.Refunds(), 1)
}

func TestCompensatorAlertsWhenRefundKeepsFailing(t *testing.T) {
	f := newFixture(t)
	ops := &fakeOps{}
	c := newCompensator(f, ops)
	event := orphanedBooking(t, f)
	f.gateway.FailRefunds(errors.New("gateway 503"))

	require.NoError(t, c.HandlePaymentOrphaned(context.Background(), event))

	b, err := f.repo.GetBooking(context.Background(), event.BookingID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefundPending, b.Payment.Status)
	alerts := ops.Alerts()
	require.Len(t, alerts, 1)
	assert.True(t, strings.Contains(alerts[0], "FAILED"))

	// not marked processed, so a later delivery can still settle it
	processed, err := f.repo.IsEventProcessed(context.Background(), event.EventID)
	require.NoError(t, err)
	assert.False(t, processed)

	f.gateway.FailRefunds(nil)
	require.NoError(t, c.HandlePaymentOrphaned(context.Background(), event))
	assert.Len(t, f.gateway.Refunds(), 1)
}

func TestCompensatorFinishesPendingCancellationRefund(t *testing.T) {
	f := newFixture(t)
	c := newCompensator(f, &fakeOps{})
	b := f.paid(t, "user-1", CartItem{TicketTypeID: "GA", Quantity: 2})

	f.gateway.FailRefunds(errors.New("timeout"))
	f.clock.Set(t0.Add(42 * time.Hour))
	cancelled, err := f.booking.Cancel(context.Background(), b.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusRefundPending, cancelled.Payment.Status)
	f.gateway.FailRefunds(nil)

	event := models.NewBookingEvent(models.EventTypeBookingRefunded, cancelled)
	require.NoError(t, c.HandleBookingRefunded(context.Background(), event))

	refunds := f.gateway.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(10000), refunds[0].AmountMinor)

	stored, err := f.repo.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, stored.Payment.Status)
}

func TestCompensatorSkipsAlreadyRefundedCancellation(t *testing.T) {
	f := newFixture(t)
	c := newCompensator(f, nil)
	b := f.paid(t, "user-1", CartItem{TicketTypeID: "GA", Quantity: 1})

	cancelled, err := f.booking.Cancel(context.Background(), b.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusRefunded, cancelled.Payment.Status)

	event := models.NewBookingEvent(models.EventTypeBookingRefunded, cancelled)
	require.NoError(t, c.HandleBookingRefunded(context.Background(), event))
	assert.Len(t, f.gateway.Refunds(), 1)
}

func newRefundSweep(f *fixture, now time.Time) *RefundSweep {
	r := NewRefundSweep(f.repo, f.events, nil, 10*time.Minute, 100)
	r.now = func() time.Time { return now }
	return r
}

func TestRefundSweepRedrivesFailedOrphanRefund(t *testing.T) {
	f := newFixture(t)
	c := newCompensator(f, &fakeOps{})
	event := orphanedBooking(t, f)
	f.gateway.FailRefunds(errors.New("gateway 503"))
	require.NoError(t, c.HandlePaymentOrphaned(context.Background(), event))

	// within the grace period nothing is republished
	n, err := newRefundSweep(f, time.Now()).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	later := time.Now().Add(time.Hour)
	n, err = newRefundSweep(f, later).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.events.orphaned, 2)
	retry := f.events.orphaned[1]
	assert.Equal(t, event.BookingID, retry.BookingID)
	assert.NotEqual(t, event.EventID, retry.EventID)

	f.gateway.FailRefunds(nil)
	require.NoError(t, c.HandlePaymentOrphaned(context.Background(), retry))
	assert.Len(t, f.gateway.Refunds(), 1)

	n, err = newRefundSweep(f, later).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRefundSweepRedrivesPendingCancellation(t *testing.T) {
	f := newFixture(t)
	b := f.paid(t, "user-1", CartItem{TicketTypeID: "GA", Quantity: 1})

	f.gateway.FailRefunds(errors.New("timeout"))
	_, err := f.booking.Cancel(context.Background(), b.ID, "user-1")
	require.NoError(t, err)

	n, err := newRefundSweep(f, time.Now().Add(time.Hour)).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	types := f.events.bookingTypes()
	assert.Equal(t, models.EventTypeBookingRefunded, types[len(types)-1])
	assert.Empty(t, f.events.orphaned)
}

func newDeliveryService(f *fixture, sender *fakeSender, passes PassStore, claims Claimer) (*DeliveryService, *ticketpass.Signer) {
	signer := ticketpass.NewSigner("qr-secret", 24*time.Hour)
	d := NewDeliveryService(f.repo, signer, passes, sender, sender, claims)
	d.now = f.clock.Now
	return d, signer
}

func TestDeliverySendsTicketWithPass(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{}
	passes := &fakePasses{}
	d, signer := newDeliveryService(f, sender, passes, &fakeClaims{})
	b := f.paid(t, "user-1", CartItem{TicketTypeID: "GA", Quantity: 2})

	job := delivery.Job{Type: delivery.JobTicket, BookingID: b.ID}
	require.NoError(t, d.Process(context.Background(), job))

	require.Len(t, passes.keys, 1)
	assert.Equal(t, "EV-1/"+b.ID, passes.keys[0])

	var pass ticketpass.Pass
	require.NoError(t, json.Unmarshal(passes.body[passes.keys[0]], &pass))
	assert.Equal(t, "Indie Night", pass.EventName)
	payload, err := signer.Verify(pass.QR, t0)
	require.NoError(t, err)
	assert.Equal(t, b.ID, payload.BookingID)

	require.Len(t, sender.emails, 1)
	require.Len(t, sender.whatsapp, 1)
	assert.Equal(t, "user-1", sender.emails[0].UserID)
	assert.Contains(t, sender.emails[0].LinkURL, b.ID)

	stored, err := f.repo.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, stored.Delivery.EmailSent)
	assert.True(t, stored.Delivery.WhatsAppSent)
	assert.NotEmpty(t, stored.Delivery.PassURL)

	// duplicate job is skipped
	require.NoError(t, d.Process(context.Background(), job))
	assert.Len(t, sender.emails, 1)
}

func TestDeliveryRecordsPartialFailure(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{emailErr: errors.New("smtp refused")}
	claims := &fakeClaims{}
	d, _ := newDeliveryService(f, sender, nil, claims)
	b := f.paid(t, "user-1", CartItem{TicketTypeID: "GA", Quantity: 1})

	job := delivery.Job{Type: delivery.JobTicket, BookingID: b.ID}
	err := d.Process(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp refused")

	stored, err := f.repo.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.False(t, stored.Delivery.EmailSent)
	assert.True(t, stored.Delivery.WhatsAppSent)
	assert.Empty(t, stored.Delivery.PassURL)

	// the claim is released so a retry can run
	assert.Empty(t, claims.claimed)
}

func TestDeliverySkipsUnpaidAndRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{}
	d, _ := newDeliveryService(f, sender, nil, nil)
	pending := f.create(t, "user-1", CartItem{TicketTypeID: "GA", Quantity: 1})

	require.NoError(t, d.Process(context.Background(), delivery.Job{Type: delivery.JobTicket, BookingID: pending.BookingID}))
	assert.Empty(t, sender.emails)

	assert.Error(t, d.Process(context.Background(), delivery.Job{Type: "FAX", BookingID: pending.BookingID}))
}

func TestReminderSweepQueuesOnce(t *testing.T) {
	f := newFixture(t)
	early := f.paid(t, "user-1", CartItem{TicketTypeID: "GA", Quantity: 1})
	f.create(t, "user-2", CartItem{TicketTypeID: "GA", Quantity: 1})

	queue := &recordingQueue{}
	r := NewReminderSweep(f.repo, queue, &fakeLocker{}, 24*time.Hour, 10)
	r.now = f.clock.Now

	// event is 72h away, outside the lead window
	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Set(t0.Add(60 * time.Hour))
	n, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs := queue.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, delivery.JobReminder, jobs[0].Type)
	assert.Equal(t, early.ID, jobs[0].BookingID)

	n, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReminderSweepLeavesBookingOnEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	b := f.paid(t, "user-1", CartItem{TicketTypeID: "GA", Quantity: 1})
	f.clock.Set(t0.Add(60 * time.Hour))

	queue := &recordingQueue{err: errors.New("broker unavailable")}
	r := NewReminderSweep(f.repo, queue, nil, 24*time.Hour, 10)
	r.now = f.clock.Now

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := f.repo.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.False(t, stored.ReminderSent)
}

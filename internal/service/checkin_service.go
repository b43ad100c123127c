package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/ticketpass"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const broadcastTimeout = 2 * time.Second

// CheckinService records entry scans. The database is the ledger; Redis and
// Kafka only get a best-effort copy after commit.
type CheckinService struct {
	repo   store.Repository
	signer *ticketpass.Signer
	live   LiveCheckins
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewCheckinService creates a new check-in service. live may be nil.
func NewCheckinService(repo store.Repository, signer *ticketpass.Signer, live LiveCheckins, events EventPublisher) *CheckinService {
	return &CheckinService{
		repo:   repo,
		signer: signer,
		live:   live,
		events: events,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// ScanRequest is one entry scan.
type ScanRequest struct {
	BookingID string
	EventID   string
	ScannedBy string
	Device    models.DeviceInfo
}

// CheckinStats summarises entry for one event.
type CheckinStats struct {
	EventID    string     `json:"eventId"`
	CheckedIn  int        `json:"checkedIn"`
	LiveCount  int64      `json:"liveCount"`
	LastScanAt *time.Time `json:"lastScanAt,omitempty"`
}

// Scan admits a paid booking exactly once.
func (s *CheckinService) Scan(ctx context.Context, req ScanRequest) (rec *models.CheckinRecord, err error) {
	ctx, span := util.StartSpan(ctx, "CheckinService.Scan",
		attribute.String("booking.id", req.BookingID),
		attribute.String("event.id", req.EventID))
	defer func() { util.EndSpan(span, err) }()

	if req.BookingID == "" {
		return nil, models.NewValidationError("bookingId", "is required")
	}

	rec = &models.CheckinRecord{
		ID:        uuid.New().String(),
		BookingID: req.BookingID,
		ScannedBy: req.ScannedBy,
		ScannedAt: s.now(),
		Device:    req.Device,
	}

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.GetBookingForUpdate(ctx, req.BookingID)
		if err != nil {
			return err
		}
		if b.Status != models.BookingStatusPaid {
			return fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, models.ErrBookingNotPayable)
		}
		if req.EventID != "" && req.EventID != b.EventID {
			return models.NewValidationError("eventId", "booking %s is for another event", b.ID)
		}

		rec.EventID = b.EventID
		if err := tx.InsertCheckin(ctx, rec); err != nil {
			return err
		}

		b.CheckedIn = true
		at := rec.ScannedAt
		b.CheckedInAt = &at
		return tx.UpdateBooking(ctx, b)
	})
	if err != nil {
		util.CheckinsTotal.WithLabelValues(scanResult(err)).Inc()
		return nil, err
	}

	util.CheckinsTotal.WithLabelValues("admitted").Inc()
	s.logger.Info("Checked in",
		zap.String("booking_id", rec.BookingID),
		zap.String("event_id", rec.EventID),
		zap.String("scanned_by", rec.ScannedBy))

	s.broadcast(ctx, rec)
	return rec, nil
}

// ScanQR verifies a signed QR payload and scans the booking it names.
func (s *CheckinService) ScanQR(ctx context.Context, raw, eventID, scannedBy string, device models.DeviceInfo) (*models.CheckinRecord, error) {
	payload, err := s.signer.Verify(raw, s.now())
	if err != nil {
		if errors.Is(err, models.ErrSignatureInvalid) {
			util.SignatureFailuresTotal.WithLabelValues("qr").Inc()
		}
		util.CheckinsTotal.WithLabelValues(scanResult(err)).Inc()
		return nil, err
	}
	if eventID != "" && payload.EventID != eventID {
		util.CheckinsTotal.WithLabelValues("invalid").Inc()
		return nil, models.NewValidationError("eventId", "pass is for another event")
	}

	return s.Scan(ctx, ScanRequest{
		BookingID: payload.BookingID,
		EventID:   payload.EventID,
		ScannedBy: scannedBy,
		Device:    device,
	})
}

func scanResult(err error) string {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, models.ErrAlreadyCheckedIn):
		return "duplicate"
	case errors.Is(err, models.ErrBookingNotPayable):
		return "not_paid"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, models.ErrQRExpired):
		return "expired"
	case errors.As(err, &verr):
		return "invalid"
	default:
		return "error"
	}
}

// broadcast fans the record out to live dashboards. It never fails the scan.
func (s *CheckinService) broadcast(ctx context.Context, rec *models.CheckinRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), broadcastTimeout)
	defer cancel()

	if s.live != nil {
		payload, err := json.Marshal(rec)
		if err == nil {
			_, err = s.live.RecordCheckin(ctx, rec.EventID, payload, rec.ScannedAt)
		}
		if err != nil {
			s.logger.Warn("Failed to broadcast check-in",
				zap.String("booking_id", rec.BookingID),
				zap.Error(err))
		}
	}

	event := &models.CheckedInEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeCheckedIn),
		Record:    *rec,
	}
	if err := s.events.PublishCheckedIn(ctx, event); err != nil {
		s.logger.Warn("Failed to publish CheckedIn event",
			zap.String("booking_id", rec.BookingID),
			zap.Error(err))
	}
}

// Stats returns the ledger count for eventID, enriched with the live counter
// when Redis is available.
func (s *CheckinService) Stats(ctx context.Context, eventID string) (*CheckinStats, error) {
	if _, err := s.repo.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}

	count, err := s.repo.CountCheckins(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to count checkins: %w", err)
	}

	stats := &CheckinStats{EventID: eventID, CheckedIn: count}
	if s.live == nil {
		return stats, nil
	}

	live, last, err := s.live.CheckinStats(ctx, eventID)
	if err != nil {
		s.logger.Warn("Live check-in stats unavailable", zap.String("event_id", eventID), zap.Error(err))
		return stats, nil
	}
	stats.LiveCount = live
	if !last.IsZero() {
		stats.LastScanAt = &last
	}
	return stats, nil
}

// Subscribe streams check-in payloads for eventID into a channel of the
// given buffer size. Payloads are dropped while the buffer is full. The
// channel is never closed; callers stop reading once they call the returned
// func.
func (s *CheckinService) Subscribe(ctx context.Context, eventID string, buffer int) (<-chan []byte, func(), error) {
	if s.live == nil {
		return nil, nil, errors.New("live check-in feed is not configured")
	}
	if buffer <= 0 {
		buffer = 16
	}

	ch := make(chan []byte, buffer)
	done := make(chan struct{})
	unsubscribe, err := s.live.SubscribeCheckins(ctx, eventID, func(payload []byte) {
		select {
		case <-done:
		case ch <- payload:
		default:
		}
	})
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			unsubscribe()
		})
	}
	return ch, stop, nil
}

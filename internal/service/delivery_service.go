package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/delivery"
	"ticket-service/internal/models"
	"ticket-service/internal/notify"
	"ticket-service/internal/store"
	"ticket-service/internal/ticketpass"
	"ticket-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const deliveryClaimTTL = 24 * time.Hour

// DeliveryService turns delivery jobs into passes and attendee messages.
type DeliveryService struct {
	repo     store.Repository
	signer   *ticketpass.Signer
	passes   PassStore
	email    notify.EmailSender
	whatsapp notify.WhatsAppSender
	claims   Claimer
	logger   *zap.Logger
	now      func() time.Time
}

// NewDeliveryService creates a delivery service. passes and claims may be
// nil.
func NewDeliveryService(
	repo store.Repository,
	signer *ticketpass.Signer,
	passes PassStore,
	email notify.EmailSender,
	whatsapp notify.WhatsAppSender,
	claims Claimer,
) *DeliveryService {
	return &DeliveryService{
		repo:     repo,
		signer:   signer,
		passes:   passes,
		email:    email,
		whatsapp: whatsapp,
		claims:   claims,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

func claimKey(job delivery.Job) string {
	return fmt.Sprintf("delivery:%s:%s", job.Type, job.BookingID)
}

// Process handles one job. Duplicate deliveries of the same job are skipped.
func (d *DeliveryService) Process(ctx context.Context, job delivery.Job) (err error) {
	ctx, span := util.StartSpan(ctx, "DeliveryService.Process",
		attribute.String("job.type", job.Type),
		attribute.String("booking.id", job.BookingID))
	defer func() { util.EndSpan(span, err) }()

	if job.Type != delivery.JobTicket && job.Type != delivery.JobReminder {
		util.DeliveryJobsTotal.WithLabelValues(job.Type, "invalid").Inc()
		return fmt.Errorf("unknown delivery job type %q", job.Type)
	}

	if d.claims != nil {
		ok, err := d.claims.ClaimOnce(ctx, claimKey(job), deliveryClaimTTL)
		if err != nil {
			d.logger.Warn("Delivery claim unavailable, processing anyway", zap.Error(err))
		} else if !ok {
			util.DeliveryJobsTotal.WithLabelValues(job.Type, "duplicate").Inc()
			return nil
		}
	}

	err = d.deliver(ctx, job)
	if err != nil {
		util.DeliveryJobsTotal.WithLabelValues(job.Type, "failed").Inc()
		if d.claims != nil {
			if ferr := d.claims.ForgetClaim(ctx, claimKey(job)); ferr != nil {
				d.logger.Warn("Failed to release delivery claim", zap.Error(ferr))
			}
		}
		return err
	}

	util.DeliveryJobsTotal.WithLabelValues(job.Type, "sent").Inc()
	return nil
}

func (d *DeliveryService) deliver(ctx context.Context, job delivery.Job) error {
	b, err := d.repo.GetBooking(ctx, job.BookingID)
	if err != nil {
		return err
	}
	if b.Status != models.BookingStatusPaid {
		d.logger.Info("Skipping delivery for unpaid booking",
			zap.String("booking_id", b.ID),
			zap.String("status", b.Status))
		return nil
	}

	ev, err := d.repo.GetEvent(ctx, b.EventID)
	if err != nil {
		return fmt.Errorf("failed to load event: %w", err)
	}

	now := d.now()
	qr, err := d.signer.Encode(d.signer.Issue(b.ID, b.EventID, now))
	if err != nil {
		return fmt.Errorf("failed to encode qr: %w", err)
	}

	info := b.Delivery
	if d.passes != nil {
		body, err := json.Marshal(ticketpass.BuildPass(b, ev, qr, now))
		if err != nil {
			return fmt.Errorf("failed to encode pass: %w", err)
		}
		url, err := d.passes.PutPass(ctx, b.EventID, b.ID, body)
		if err != nil {
			d.logger.Error("Failed to store pass", zap.String("booking_id", b.ID), zap.Error(err))
		} else {
			info.PassURL = url
		}
	}

	msg := notify.Message{UserID: b.UserID, LinkURL: info.PassURL}
	if job.Type == delivery.JobReminder {
		msg.Subject = fmt.Sprintf("Reminder: %s starts %s", ev.Name, ev.StartsAt.Format(time.RFC1123))
		msg.Body = fmt.Sprintf("%s at %s. Booking %s.", ev.Name, ev.Venue, b.ID)
	} else {
		msg.Subject = fmt.Sprintf("Your tickets for %s", ev.Name)
		msg.Body = fmt.Sprintf("Booking %s: %d ticket(s), %s %s. Show the QR code at the entrance.",
			b.ID, b.TotalQuantity(), b.Total.StringFixed(2), b.Currency)
		if info.PassURL == "" {
			msg.Body += "\n" + qr
		}
	}

	var errs []error
	if err := d.email.SendEmail(ctx, msg); err != nil {
		errs = append(errs, fmt.Errorf("email: %w", err))
		info.EmailSent = false
	} else {
		info.EmailSent = true
	}
	if err := d.whatsapp.SendWhatsApp(ctx, msg); err != nil {
		errs = append(errs, fmt.Errorf("whatsapp: %w", err))
		info.WhatsAppSent = false
	} else {
		info.WhatsAppSent = true
	}

	if err := d.repo.UpdateDelivery(ctx, b.ID, info); err != nil {
		errs = append(errs, fmt.Errorf("update delivery: %w", err))
	}

	if len(errs) > 0 {
		d.logger.Warn("Delivery incomplete",
			zap.String("booking_id", b.ID),
			zap.String("type", job.Type),
			zap.Bool("email_sent", info.EmailSent),
			zap.Bool("whatsapp_sent", info.WhatsAppSent),
			zap.Error(errors.Join(errs...)))
		return errors.Join(errs...)
	}

	d.logger.Info("Delivery sent", zap.String("booking_id", b.ID), zap.String("type", job.Type))
	return nil
}

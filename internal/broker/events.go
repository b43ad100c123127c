package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the producer side used by EventPublisher.
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Events of one booking share a key so they land on one partition in order.
func bookingKey(bookingID string) string {
	return fmt.Sprintf("booking-%s", bookingID)
}

// PublishBookingEvent publishes a booking lifecycle event
func (ep *EventPublisher) PublishBookingEvent(ctx context.Context, event *models.BookingEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishPaymentOrphaned publishes PaymentOrphaned event
func (ep *EventPublisher) PublishPaymentOrphaned(ctx context.Context, event *models.PaymentOrphanedEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishCheckedIn publishes CheckedIn event
func (ep *EventPublisher) PublishCheckedIn(ctx context.Context, event *models.CheckedInEvent) error {
	return ep.producer.PublishEvent(ctx, bookingKey(event.Record.BookingID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	logger            *zap.Logger
	onPaymentOrphaned func(context.Context, *models.PaymentOrphanedEvent) error
	onBookingRefunded func(context.Context, *models.BookingEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentOrphaned registers a handler for PaymentOrphaned events
func (eh *EventHandler) OnPaymentOrphaned(handler func(context.Context, *models.PaymentOrphanedEvent) error) {
	eh.onPaymentOrphaned = handler
}

// OnBookingRefunded registers a handler for BookingRefunded events
func (eh *EventHandler) OnBookingRefunded(handler func(context.Context, *models.BookingEvent) error) {
	eh.onBookingRefunded = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	if typ, ok := headerType(msg); ok && !eh.routes(typ) {
		return nil
	}

	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentOrphaned:
		if eh.onPaymentOrphaned != nil {
			var event models.PaymentOrphanedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentOrphaned event: %w", err)
			}
			return eh.onPaymentOrphaned(ctx, &event)
		}

	case models.EventTypeBookingRefunded:
		if eh.onBookingRefunded != nil {
			var event models.BookingEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BookingRefunded event: %w", err)
			}
			return eh.onBookingRefunded(ctx, &event)
		}

	default:
		// other lifecycle events are for downstream consumers
	}

	return nil
}

func (eh *EventHandler) routes(eventType string) bool {
	switch eventType {
	case models.EventTypePaymentOrphaned:
		return eh.onPaymentOrphaned != nil
	case models.EventTypeBookingRefunded:
		return eh.onBookingRefunded != nil
	}
	return false
}

func headerType(msg kafka.Message) (string, bool) {
	for _, h := range msg.Headers {
		if h.Key == HeaderEventType {
			return string(h.Value), true
		}
	}
	return "", false
}

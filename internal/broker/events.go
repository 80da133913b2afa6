package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes a keyed message to a topic.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing booking domain events
type EventPublisher struct {
	producer Publisher
	logger   *zap.Logger
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer, logger: util.GetLogger()}
}

// NewBookingEvent snapshots b as an event of eventType.
func NewBookingEvent(eventType string, b *models.Booking, reason string) *models.BookingEvent {
	ev := &models.BookingEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		BookingID:        b.ID,
		Reference:        b.Reference,
		ScheduledEventID: b.ScheduledEventID,
		Status:           b.Status,
		PaymentStatus:    b.PaymentStatus,
		Quantity:         b.Quantity,
		Total:            b.Total,
		Currency:         b.Currency,
		Reason:           reason,
	}
	if b.PaymentIntentID != nil {
		ev.PaymentIntentID = *b.PaymentIntentID
	}
	return ev
}

// PublishBookingEvent publishes a lifecycle event keyed by booking so the
// events of one booking stay ordered.
func (ep *EventPublisher) PublishBookingEvent(ctx context.Context, eventType string, b *models.Booking, reason string) error {
	event := NewBookingEvent(eventType, b, reason)
	key := fmt.Sprintf("booking-%d", b.ID)
	if err := ep.producer.PublishEvent(ctx, key, event); err != nil {
		util.DomainEventsFailedTotal.WithLabelValues(eventType).Inc()
		return err
	}
	return nil
}

// EventHandler routes booking events from the topic to registered handlers.
type EventHandler struct {
	handlers map[string]func(context.Context, *models.BookingEvent) error
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{
		handlers: make(map[string]func(context.Context, *models.BookingEvent) error),
		logger:   util.GetLogger(),
	}
}

// On registers handler for eventType.
func (eh *EventHandler) On(eventType string, handler func(context.Context, *models.BookingEvent) error) {
	eh.handlers[eventType] = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.BookingEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal booking event: %w", err)
	}

	handler, ok := eh.handlers[event.EventType]
	if !ok {
		eh.logger.Debug("Unhandled event type", zap.String("event_type", event.EventType))
		return nil
	}

	eh.logger.Info("Handling event",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.String("reference", event.Reference))
	return handler(ctx, &event)
}

package service

import (
	"context"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/notify"

	"go.uber.org/zap"
)

// Options carries the business settings shared by the services.
type Options struct {
	// Currency is the single currency this deployment charges in.
	Currency       string
	BaseURL        string
	IdempotencyTTL time.Duration
	IntentLockTTL  time.Duration
	// EffectTimeout bounds post-commit work such as publishing events and
	// queueing notifications.
	EffectTimeout time.Duration
	ReminderLead  time.Duration
	ReminderBatch int
}

func (o Options) withDefaults() Options {
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = 24 * time.Hour
	}
	if o.IntentLockTTL <= 0 {
		o.IntentLockTTL = 30 * time.Second
	}
	if o.EffectTimeout <= 0 {
		o.EffectTimeout = 5 * time.Second
	}
	if o.ReminderLead <= 0 {
		o.ReminderLead = 48 * time.Hour
	}
	if o.ReminderBatch <= 0 {
		o.ReminderBatch = 100
	}
	return o
}

// sideEffects runs the best-effort work that follows a committed state
// change. Failures are logged, never returned.
type sideEffects struct {
	publisher EventPublisher
	notifier  notify.Dispatcher
	baseURL   string
	timeout   time.Duration
	logger    *zap.Logger
}

func (e *sideEffects) publish(ctx context.Context, eventType string, b *models.Booking, reason string) {
	if e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	if err := e.publisher.PublishBookingEvent(ctx, eventType, b, reason); err != nil {
		e.logger.Error("Failed to publish booking event",
			zap.String("event_type", eventType),
			zap.String("reference", b.Reference),
			zap.Error(err))
	}
}

func (e *sideEffects) notify(ctx context.Context, kind notify.Kind, b *models.Booking, failure string) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	n := notify.ForBooking(kind, b, e.baseURL)
	n.FailureMessage = failure
	e.notifier.Dispatch(ctx, n)
}

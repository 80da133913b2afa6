package service

import (
	"context"
	"errors"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/payment"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Webhook outcomes, also used as metric labels.
const (
	WebhookApplied        = "applied"
	WebhookDuplicate      = "duplicate"
	WebhookIgnored        = "ignored"
	WebhookNoOp           = "noop"
	WebhookStaleIntent    = "stale_intent"
	WebhookUnknownBooking = "unknown_booking"
)

// WebhookResult describes what a delivery did.
type WebhookResult struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// WebhookService applies verified payment provider events to bookings
// exactly once per external event id.
type WebhookService struct {
	db       store.Database
	provider payment.Provider
	ledger   *SeatLedger
	fx       *sideEffects
	now      func() time.Time
	logger   *zap.Logger
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	db store.Database,
	provider payment.Provider,
	ledger *SeatLedger,
	publisher EventPublisher,
	notifier notify.Dispatcher,
	opts Options,
) *WebhookService {
	opts = opts.withDefaults()
	logger := util.GetLogger()
	return &WebhookService{
		db:       db,
		provider: provider,
		ledger:   ledger,
		fx: &sideEffects{
			publisher: publisher,
			notifier:  notifier,
			baseURL:   opts.BaseURL,
			timeout:   opts.EffectTimeout,
			logger:    logger,
		},
		now:    time.Now,
		logger: logger,
	}
}

// followUp is the post-commit work of one applied event.
type followUp struct {
	booking   *models.Booking
	eventType string
	reason    string
	kind      notify.Kind
	failure   string
}

// Handle verifies and applies one delivery. The event id is recorded in the
// same transaction as its effect, so a redelivery after commit is a no-op
// and a failure before commit leaves nothing behind. The provider, not the
// HTTP client, owns the request, so client cancellation is ignored.
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := util.StartSpan(ctx, "WebhookService.Handle")
	defer span.End()

	ev, err := s.provider.VerifyWebhook(body, signature)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		s.logger.Warn("Rejected webhook", zap.Error(err))
		return nil, err
	}

	result := &WebhookResult{EventID: ev.ID}
	var follow *followUp
	err = s.db.InTx(ctx, func(tx store.Repository) error {
		follow = nil
		inserted, err := tx.RecordWebhookEvent(ctx, &models.ProcessedWebhookEvent{
			ExternalEventID: ev.ID,
			EventType:       ev.ProviderType,
			ReceivedAt:      s.now().UTC(),
			Payload:         ev.Raw,
		})
		if err != nil {
			return err
		}
		if !inserted {
			result.Outcome = WebhookDuplicate
			return nil
		}
		if ev.Type == payment.EventIgnored {
			result.Outcome = WebhookIgnored
			return nil
		}

		result.Outcome, follow, err = s.apply(ctx, tx, ev)
		return err
	})
	if err != nil {
		util.SpanError(span, err)
		util.WebhookEventsTotal.WithLabelValues(string(ev.Type), "error").Inc()
		s.logger.Error("Failed to apply webhook",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.ProviderType),
			zap.Error(err))
		return nil, err
	}

	util.WebhookEventsTotal.WithLabelValues(string(ev.Type), result.Outcome).Inc()
	s.logger.Info("Webhook processed",
		zap.String("event_id", ev.ID),
		zap.String("type", ev.ProviderType),
		zap.String("intent_id", ev.IntentID),
		zap.String("outcome", result.Outcome))

	if follow != nil {
		s.runFollowUp(ctx, follow)
	}
	return result, nil
}

func (s *WebhookService) apply(ctx context.Context, tx store.Repository, ev *payment.WebhookEvent) (string, *followUp, error) {
	b, err := s.findBooking(ctx, tx, ev)
	if errors.Is(err, apperr.ErrBookingNotFound) {
		s.logger.Warn("Webhook for unknown booking",
			zap.String("event_id", ev.ID),
			zap.String("intent_id", ev.IntentID),
			zap.String("reference", ev.BookingReference))
		return WebhookUnknownBooking, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	now := s.now().UTC()
	trigger := models.TriggerPaymentSucceeded
	attempt := models.AttemptStatusSucceeded
	switch ev.Type {
	case payment.EventPaymentFailed:
		trigger, attempt = models.TriggerPaymentFailed, models.AttemptStatusFailed
	case payment.EventPaymentCanceled:
		trigger, attempt = models.TriggerPaymentFailed, models.AttemptStatusCancelled
	}

	if _, err := tx.SettlePaymentAttempt(ctx, ev.IntentID, attempt, ev.FailureMessage, now); err != nil {
		return "", nil, err
	}

	if trigger == models.TriggerPaymentSucceeded && !ev.Amount.Equal(b.Total) {
		s.logger.Warn("Paid amount differs from booking total",
			zap.String("reference", b.Reference),
			zap.String("paid", ev.Amount.StringFixed(2)),
			zap.String("total", b.Total.StringFixed(2)))
	}

	for i := 0; i < maxTransitionRetries; i++ {
		// A failure of a superseded intent says nothing about the current one.
		if trigger == models.TriggerPaymentFailed && !isCurrentIntent(b, ev.IntentID) {
			return WebhookStaleIntent, nil, nil
		}

		from := b.State()
		to, outcome := models.Next(from, trigger)
		if outcome != models.Apply {
			return WebhookNoOp, nil, nil
		}

		tr := store.BookingTransition{BookingID: b.ID, From: from, To: to}
		if to.Status == models.BookingStatusConfirmed {
			tr.ConfirmedAt = &now
		}
		tr.RefundReview = models.NeedsRefundReview(from, trigger)

		ok, err := tx.TransitionBooking(ctx, tr)
		if err != nil {
			return "", nil, err
		}
		if !ok {
			if b, err = tx.GetBookingByID(ctx, b.ID); err != nil {
				return "", nil, err
			}
			continue
		}

		if models.ReleasesSeats(from, to) {
			if err := s.ledger.Release(ctx, tx, b.ScheduledEventID, b.Quantity); err != nil {
				return "", nil, err
			}
		}

		updated, err := tx.GetBookingByID(ctx, b.ID)
		if err != nil {
			return "", nil, err
		}
		return WebhookApplied, followUpFor(updated, tr, ev), nil
	}
	return WebhookNoOp, nil, nil
}

// findBooking resolves the booking an event belongs to: by current intent,
// then by any recorded attempt, then by the metadata booking id.
func (s *WebhookService) findBooking(ctx context.Context, tx store.Repository, ev *payment.WebhookEvent) (*models.Booking, error) {
	b, err := tx.GetBookingByIntentID(ctx, ev.IntentID)
	if !errors.Is(err, apperr.ErrBookingNotFound) {
		return b, err
	}

	attempt, err := tx.GetPaymentAttempt(ctx, ev.IntentID)
	if err != nil {
		return nil, err
	}
	if attempt != nil {
		return tx.GetBookingByID(ctx, attempt.BookingID)
	}

	if ev.BookingID != 0 {
		b, err := tx.GetBookingByID(ctx, ev.BookingID)
		if err == nil && ev.BookingReference != "" && b.Reference != ev.BookingReference {
			return nil, apperr.ErrBookingNotFound
		}
		return b, err
	}
	return nil, apperr.ErrBookingNotFound
}

func isCurrentIntent(b *models.Booking, intentID string) bool {
	return b.PaymentIntentID != nil && *b.PaymentIntentID == intentID
}

func followUpFor(b *models.Booking, tr store.BookingTransition, ev *payment.WebhookEvent) *followUp {
	switch {
	case tr.RefundReview:
		return &followUp{booking: b, eventType: models.EventTypeRefundReviewRequired, reason: "paid_after_cancel"}
	case tr.To.Status == models.BookingStatusConfirmed:
		return &followUp{booking: b, eventType: models.EventTypeBookingConfirmed, kind: notify.KindConfirmation}
	case tr.To.Payment == models.PaymentStatusFailed:
		return &followUp{
			booking:   b,
			eventType: models.EventTypePaymentFailed,
			reason:    string(ev.Type),
			kind:      notify.KindPaymentFailed,
			failure:   ev.FailureMessage,
		}
	}
	return nil
}

func (s *WebhookService) runFollowUp(ctx context.Context, f *followUp) {
	switch f.eventType {
	case models.EventTypeBookingConfirmed:
		util.BookingsConfirmedTotal.Inc()
	case models.EventTypeRefundReviewRequired:
		util.RefundReviewTotal.Inc()
		s.logger.Warn("Payment received for cancelled booking, refund review required",
			zap.String("reference", f.booking.Reference),
			zap.String("total", f.booking.Total.StringFixed(2)))
	}

	s.fx.publish(ctx, f.eventType, f.booking, f.reason)
	if f.kind != "" {
		s.fx.notify(ctx, f.kind, f.booking, f.failure)
	}
}

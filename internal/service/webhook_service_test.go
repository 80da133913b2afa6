package service

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

// intentEvent builds a provider event body for a payment intent of b.
func intentEvent(id, eventType, intentID string, b *models.Booking, amountCents int64) []byte {
	obj := map[string]interface{}{
		"id":       intentID,
		"object":   "payment_intent",
		"amount":   amountCents,
		"currency": "eur",
		"status":   "succeeded",
		"metadata": payment.BookingMetadata(b.ID, b.Reference),
	}
	if eventType == "payment_intent.payment_failed" {
		obj["status"] = "requires_payment_method"
		obj["last_payment_error"] = map[string]interface{}{"message": "Your card was declined."}
	}
	body, _ := json.Marshal(map[string]interface{}{
		"id":   id,
		"type": eventType,
		"data": map[string]interface{}{"object": obj},
	})
	return body
}

// pendingWithIntent books one seat and creates its payment intent.
func pendingWithIntent(t *testing.T, h *harness, eventID int64) (*models.Booking, string) {
	t.Helper()
	b := h.book(t, eventID, 1)
	resp, err := h.payments.CreateIntent(context.Background(), b.Reference)
	require.NoError(t, err)
	return b, resp.PaymentIntentID
}

func TestWebhook_PaymentSucceeded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, intent := pendingWithIntent(t, h, h.addEvent(10))

	res, err := h.webhooks.Handle(ctx, intentEvent("evt_1", "payment_intent.succeeded", intent, b, 10000), "valid")
	require.NoError(t, err)
	assert.Equal(t, &WebhookResult{EventID: "evt_1", Outcome: WebhookApplied}, res)

	stored := h.db.booking(b.ID)
	assert.Equal(t, models.BookingStatusConfirmed, stored.Status)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.NotNil(t, stored.ConfirmedAt)
	assert.Equal(t, 9, h.db.event(b.ScheduledEventID).AvailableSpots)

	attempt, err := h.db.GetPaymentAttempt(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusSucceeded, attempt.Status)

	assert.Equal(t, []string{models.EventTypeBookingCreated, models.EventTypeBookingConfirmed}, h.events.types())
	assert.Equal(t, []notify.Kind{notify.KindConfirmation}, h.notes.kinds())
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, intent := pendingWithIntent(t, h, h.addEvent(10))
	body := intentEvent("evt_dup", "payment_intent.succeeded", intent, b, 10000)

	_, err := h.webhooks.Handle(ctx, body, "valid")
	require.NoError(t, err)
	res, err := h.webhooks.Handle(ctx, body, "valid")
	require.NoError(t, err)

	assert.Equal(t, WebhookDuplicate, res.Outcome)
	assert.Equal(t, 1, h.db.webhookCount())
	assert.Len(t, h.notes.kinds(), 1, "one confirmation email")
}

func TestWebhook_InvalidSignature(t *testing.T) {
	h := newHarness(t)
	b, intent := pendingWithIntent(t, h, h.addEvent(10))

	_, err := h.webhooks.Handle(context.Background(), intentEvent("evt_1", "payment_intent.succeeded", intent, b, 10000), "forged")
	assert.ErrorIs(t, err, apperr.ErrSignatureInvalid)
	assert.Equal(t, apperr.KindSignatureInvalid, apperr.KindOf(err))
	assert.Zero(t, h.db.webhookCount())
	assert.Equal(t, models.BookingStatusPending, h.db.booking(b.ID).Status)
}

func TestWebhook_PaymentFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, intent := pendingWithIntent(t, h, h.addEvent(10))

	res, err := h.webhooks.Handle(ctx, intentEvent("evt_f", "payment_intent.payment_failed", intent, b, 10000), "valid")
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, res.Outcome)

	stored := h.db.booking(b.ID)
	assert.Equal(t, models.BookingStatusPending, stored.Status)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	assert.Equal(t, 9, h.db.event(b.ScheduledEventID).AvailableSpots, "seats stay held")

	require.Equal(t, []notify.Kind{notify.KindPaymentFailed}, h.notes.kinds())
	assert.Equal(t, "Your card was declined.", h.notes.sent[0].FailureMessage)

	attempt, err := h.db.GetPaymentAttempt(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusFailed, attempt.Status)
	assert.Equal(t, "Your card was declined.", attempt.FailureMessage)
}

func TestWebhook_SucceededAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, intent := pendingWithIntent(t, h, h.addEvent(10))

	_, err := h.webhooks.Handle(ctx, intentEvent("evt_1", "payment_intent.payment_failed", intent, b, 10000), "valid")
	require.NoError(t, err)
	_, err = h.webhooks.Handle(ctx, intentEvent("evt_2", "payment_intent.succeeded", intent, b, 10000), "valid")
	require.NoError(t, err)

	stored := h.db.booking(b.ID)
	assert.Equal(t, models.BookingStatusConfirmed, stored.Status)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
}

func TestWebhook_PaidAfterCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, intent := pendingWithIntent(t, h, h.addEvent(10))

	_, err := h.bookings.Cancel(ctx, b.Reference)
	require.NoError(t, err)
	require.Equal(t, 10, h.db.event(b.ScheduledEventID).AvailableSpots)

	res, err := h.webhooks.Handle(ctx, intentEvent("evt_late", "payment_intent.succeeded", intent, b, 10000), "valid")
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, res.Outcome)

	stored := h.db.booking(b.ID)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.True(t, stored.RefundReview)
	assert.Equal(t, 10, h.db.event(b.ScheduledEventID).AvailableSpots, "no seats retaken")
	assert.Contains(t, h.events.types(), models.EventTypeRefundReviewRequired)
	assert.Equal(t, []notify.Kind{notify.KindCancellation}, h.notes.kinds())
}

func TestWebhook_CancelledAndFailedIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, intent := pendingWithIntent(t, h, h.addEvent(10))
	_, err := h.bookings.Cancel(ctx, b.Reference)
	require.NoError(t, err)

	res, err := h.webhooks.Handle(ctx, intentEvent("evt_x", "payment_intent.payment_failed", intent, b, 10000), "valid")
	require.NoError(t, err)
	assert.Equal(t, WebhookNoOp, res.Outcome)
	assert.Equal(t, models.PaymentStatusPending, h.db.booking(b.ID).PaymentStatus)
}

func TestWebhook_UnknownBooking(t *testing.T) {
	h := newHarness(t)
	ghost := &models.Booking{ID: 404, Reference: "MC2026-GHOST0"}

	res, err := h.webhooks.Handle(context.Background(), intentEvent("evt_u", "payment_intent.succeeded", "pi_unknown", ghost, 100), "valid")
	require.NoError(t, err)
	assert.Equal(t, WebhookUnknownBooking, res.Outcome)
	assert.Equal(t, 1, h.db.webhookCount(), "recorded so redelivery is a duplicate")
}

func TestWebhook_FindsBookingByMetadata(t *testing.T) {
	h := newHarness(t)
	b := h.book(t, h.addEvent(10), 1)

	res, err := h.webhooks.Handle(context.Background(), intentEvent("evt_m", "payment_intent.succeeded", "pi_dashboard", b, 10000), "valid")
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, res.Outcome)
	assert.Equal(t, models.BookingStatusConfirmed, h.db.booking(b.ID).Status)
}

func TestWebhook_StaleIntentFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, first := pendingWithIntent(t, h, h.addEvent(10))

	_, err := h.webhooks.Handle(ctx, intentEvent("evt_1", "payment_intent.payment_failed", first, b, 10000), "valid")
	require.NoError(t, err)
	resp, err := h.payments.CreateIntent(ctx, b.Reference)
	require.NoError(t, err)
	require.NotEqual(t, first, resp.PaymentIntentID)

	res, err := h.webhooks.Handle(ctx, intentEvent("evt_2", "payment_intent.canceled", first, b, 10000), "valid")
	require.NoError(t, err)
	assert.Equal(t, WebhookStaleIntent, res.Outcome)
	assert.Equal(t, models.PaymentStatusPending, h.db.booking(b.ID).PaymentStatus)

	// A late success on the old intent still confirms.
	res, err = h.webhooks.Handle(ctx, intentEvent("evt_3", "payment_intent.succeeded", first, b, 10000), "valid")
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, res.Outcome)
	assert.Equal(t, models.BookingStatusConfirmed, h.db.booking(b.ID).Status)
}

func TestWebhook_IntentCanceled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b, intent := pendingWithIntent(t, h, h.addEvent(10))

	res, err := h.webhooks.Handle(ctx, intentEvent("evt_c", "payment_intent.canceled", intent, b, 10000), "valid")
	require.NoError(t, err)
	assert.Equal(t, WebhookApplied, res.Outcome)
	assert.Equal(t, models.PaymentStatusFailed, h.db.booking(b.ID).PaymentStatus)

	attempt, err := h.db.GetPaymentAttempt(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusCancelled, attempt.Status)
}

func TestWebhook_IgnoredEventType(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"id":"evt_i","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)

	res, err := h.webhooks.Handle(context.Background(), body, "valid")
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Outcome)
	assert.Equal(t, 1, h.db.webhookCount())
}

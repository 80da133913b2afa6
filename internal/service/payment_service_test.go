package service

import (
	"context"
	"testing"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.book(t, h.addEvent(10), 4)

	resp, err := h.payments.CreateIntent(ctx, b.Reference)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", resp.PaymentIntentID)
	assert.Equal(t, "pi_1_secret", resp.ClientSecret)
	assert.Equal(t, "360.00", resp.Amount.StringFixed(2))
	assert.Equal(t, "EUR", resp.Currency)
	assert.False(t, resp.Reused)

	require.Equal(t, 1, h.provider.createdCount())
	req := h.provider.created[0]
	assert.Equal(t, b.Reference, req.Metadata[payment.MetaBookingReference])
	assert.Equal(t, "booking-"+itoa(b.ID)+"-after-none", req.IdempotencyKey)

	stored := h.db.booking(b.ID)
	require.NotNil(t, stored.PaymentIntentID)
	assert.Equal(t, "pi_1", *stored.PaymentIntentID)

	attempt, err := h.db.GetPaymentAttempt(ctx, "pi_1")
	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, models.AttemptStatusRequiresPayment, attempt.Status)
	assert.Empty(t, h.locker.held, "lock released")
}

func TestCreateIntent_ReusesOpenIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.book(t, h.addEvent(10), 1)

	first, err := h.payments.CreateIntent(ctx, b.Reference)
	require.NoError(t, err)
	second, err := h.payments.CreateIntent(ctx, b.Reference)
	require.NoError(t, err)

	assert.Equal(t, first.PaymentIntentID, second.PaymentIntentID)
	assert.Equal(t, first.ClientSecret, second.ClientSecret)
	assert.True(t, second.Reused)
	assert.Equal(t, 1, h.provider.createdCount())
}

func TestCreateIntent_RetryAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.book(t, h.addEvent(10), 1)

	_, err := h.payments.CreateIntent(ctx, b.Reference)
	require.NoError(t, err)
	_, err = h.webhooks.Handle(ctx, intentEvent("evt_1", "payment_intent.payment_failed", "pi_1", b, 10000), "valid")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusFailed, h.db.booking(b.ID).PaymentStatus)

	resp, err := h.payments.CreateIntent(ctx, b.Reference)
	require.NoError(t, err)
	assert.Equal(t, "pi_2", resp.PaymentIntentID)
	assert.False(t, resp.Reused)
	assert.Equal(t, "booking-"+itoa(b.ID)+"-after-pi_1", h.provider.created[1].IdempotencyKey)

	stored := h.db.booking(b.ID)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
	assert.Equal(t, "pi_2", *stored.PaymentIntentID)
}

func TestCreateIntent_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	eventID := h.addEvent(10)

	paid := h.book(t, eventID, 1)
	h.db.update(paid.ID, func(b *models.Booking) {
		b.Status, b.PaymentStatus = models.BookingStatusConfirmed, models.PaymentStatusPaid
	})
	_, err := h.payments.CreateIntent(ctx, paid.Reference)
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	cancelled := h.book(t, eventID, 1)
	_, err = h.bookings.Cancel(ctx, cancelled.Reference)
	require.NoError(t, err)
	_, err = h.payments.CreateIntent(ctx, cancelled.Reference)
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	foreign := h.book(t, eventID, 1)
	h.db.update(foreign.ID, func(b *models.Booking) { b.Currency = "USD" })
	_, err = h.payments.CreateIntent(ctx, foreign.Reference)
	assert.ErrorIs(t, err, apperr.ErrCurrencyMismatch)

	_, err = h.payments.CreateIntent(ctx, "MC2026-ZZZZZZ")
	assert.ErrorIs(t, err, apperr.ErrBookingNotFound)

	assert.Zero(t, h.provider.createdCount())
}

func TestCreateIntent_LockBusy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.book(t, h.addEvent(10), 1)

	_, ok, err := h.locker.AcquireLock(ctx, "intent:"+itoa(b.ID), 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.payments.CreateIntent(ctx, b.Reference)
	assert.ErrorIs(t, err, apperr.ErrIntentBusy)
	assert.Zero(t, h.provider.createdCount())
}

func TestCreateIntent_ProviderUnavailable(t *testing.T) {
	h := newHarness(t)
	b := h.book(t, h.addEvent(10), 1)
	h.provider.createErr = apperr.ErrProviderUnavailable

	_, err := h.payments.CreateIntent(context.Background(), b.Reference)
	assert.ErrorIs(t, err, apperr.ErrProviderUnavailable)

	stored := h.db.booking(b.ID)
	assert.Nil(t, stored.PaymentIntentID)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
}

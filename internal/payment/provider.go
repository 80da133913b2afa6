// Package payment adapts the external payment provider: intent creation and
// retrieval, and verification and decoding of signed webhook events.
package payment

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
)

// EventType is the provider-neutral kind of a webhook event.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
	EventPaymentCanceled  EventType = "payment_canceled"
	EventIgnored          EventType = "ignored"
)

// Metadata keys attached to every intent.
const (
	MetaBookingID        = "booking_id"
	MetaBookingReference = "booking_reference"
)

// Intent is a payment intent as seen by the booking core.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       decimal.Decimal
	Currency     string
	Metadata     map[string]string
}

// CreateIntentRequest describes an intent to create.
type CreateIntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// WebhookEvent is a verified, decoded provider event.
type WebhookEvent struct {
	ID               string
	Type             EventType
	ProviderType     string
	IntentID         string
	Status           string
	Amount           decimal.Decimal
	Currency         string
	BookingID        int64
	BookingReference string
	FailureMessage   string
	Raw              []byte
}

// Provider is the payment provider contract consumed by the services.
type Provider interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	VerifyWebhook(body []byte, signatureHeader string) (*WebhookEvent, error)
}

// BookingMetadata builds the metadata attached to a booking's intents.
func BookingMetadata(bookingID int64, reference string) map[string]string {
	return map[string]string{
		MetaBookingID:        strconv.FormatInt(bookingID, 10),
		MetaBookingReference: reference,
	}
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeBookingCreated       = "BOOKING_CREATED"
	EventTypeBookingConfirmed     = "BOOKING_CONFIRMED"
	EventTypeBookingCancelled     = "BOOKING_CANCELLED"
	EventTypePaymentFailed        = "PAYMENT_FAILED"
	EventTypeRefundReviewRequired = "REFUND_REVIEW_REQUIRED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Type is carried as a message header so consumers can filter without
// decoding the body.
func (e BaseEvent) Type() string { return e.EventType }

// BookingEvent is published whenever a booking changes lifecycle state.
type BookingEvent struct {
	BaseEvent
	BookingID        int64           `json:"booking_id"`
	Reference        string          `json:"reference"`
	ScheduledEventID int64           `json:"scheduled_event_id"`
	Status           BookingStatus   `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	Quantity         int             `json:"quantity"`
	Total            decimal.Decimal `json:"total"`
	Currency         string          `json:"currency"`
	PaymentIntentID  string          `json:"payment_intent_id,omitempty"`
	Reason           string          `json:"reason,omitempty"`
}

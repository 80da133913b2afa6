package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventStatus is the lifecycle state of a scheduled event.
type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusSoldOut   EventStatus = "sold_out"
	EventStatusCancelled EventStatus = "cancelled"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusDraft, EventStatusPublished, EventStatusSoldOut, EventStatusCancelled:
		return true
	}
	return false
}

// BookingStatus is the reservation side of a booking's state.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusRefunded  BookingStatus = "refunded"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusRefunded:
		return true
	}
	return false
}

// HoldsSeats reports whether a booking in this status counts against capacity.
func (s BookingStatus) HoldsSeats() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// PaymentStatus is the payment side of a booking's state.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// TicketKind is the pricing bucket of a booking.
type TicketKind string

const (
	TicketKindRegular   TicketKind = "regular"
	TicketKindEarlyBird TicketKind = "early_bird"
	TicketKindGroup     TicketKind = "group"
)

func (k TicketKind) Valid() bool {
	switch k {
	case TicketKindRegular, TicketKindEarlyBird, TicketKindGroup:
		return true
	}
	return false
}

// AttemptStatus is the status of a single payment intent.
type AttemptStatus string

const (
	AttemptStatusRequiresPayment AttemptStatus = "requires_payment"
	AttemptStatusSucceeded       AttemptStatus = "succeeded"
	AttemptStatusFailed          AttemptStatus = "failed"
	AttemptStatusCancelled       AttemptStatus = "cancelled"
)

// ScheduledEvent is a dated masterclass occurrence that sells seats.
// AvailableSpots is the seat ledger's authoritative counter.
type ScheduledEvent struct {
	ID                   int64               `db:"id" json:"id"`
	Slug                 string              `db:"slug" json:"slug"`
	Title                string              `db:"title" json:"title"`
	City                 string              `db:"city" json:"city"`
	Venue                string              `db:"venue" json:"venue"`
	StartDate            time.Time           `db:"start_date" json:"start_date"`
	EndDate              time.Time           `db:"end_date" json:"end_date"`
	TotalCapacity        int                 `db:"total_capacity" json:"total_capacity"`
	AvailableSpots       int                 `db:"available_spots" json:"available_spots"`
	Status               EventStatus         `db:"status" json:"status"`
	RegularPrice         decimal.Decimal     `db:"regular_price" json:"regular_price"`
	EarlyBirdPrice       decimal.NullDecimal `db:"early_bird_price" json:"early_bird_price"`
	EarlyBirdDeadline    *time.Time          `db:"early_bird_deadline" json:"early_bird_deadline,omitempty"`
	GroupDiscountPercent decimal.Decimal     `db:"group_discount_percent" json:"group_discount_percent"`
	GroupMinimum         int                 `db:"group_minimum" json:"group_minimum"`
	Currency             string              `db:"currency" json:"currency"`
	CreatedAt            time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time           `db:"updated_at" json:"updated_at"`
}

// Booking is one customer's reservation of seats at a scheduled event.
type Booking struct {
	ID               int64           `db:"id" json:"id"`
	Reference        string          `db:"reference" json:"reference"`
	ScheduledEventID int64           `db:"scheduled_event_id" json:"scheduled_event_id"`
	Status           BookingStatus   `db:"status" json:"status"`
	PaymentStatus    PaymentStatus   `db:"payment_status" json:"payment_status"`
	TicketKind       TicketKind      `db:"ticket_kind" json:"ticket_kind"`
	Quantity         int             `db:"quantity" json:"quantity"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal         decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount         decimal.Decimal `db:"discount" json:"discount"`
	Total            decimal.Decimal `db:"total" json:"total"`
	Currency         string          `db:"currency" json:"currency"`
	ContactName      string          `db:"contact_name" json:"contact_name"`
	ContactEmail     string          `db:"contact_email" json:"contact_email"`
	ContactPhone     string          `db:"contact_phone" json:"contact_phone,omitempty"`
	Company          string          `db:"company" json:"company,omitempty"`
	Locale           string          `db:"locale" json:"locale"`
	PaymentIntentID  *string         `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	RefundReview     bool            `db:"refund_review" json:"refund_review"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	ConfirmedAt      *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CancelledAt      *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	ReminderSentAt   *time.Time      `db:"reminder_sent_at" json:"-"`

	Attendees []Attendee      `db:"-" json:"attendees"`
	Event     *ScheduledEvent `db:"-" json:"event,omitempty"`
}

// State returns the joint (status, payment) state used by the state machine.
func (b *Booking) State() BookingState {
	return BookingState{Status: b.Status, Payment: b.PaymentStatus}
}

// SeatContribution is the number of seats this booking holds in the ledger.
func (b *Booking) SeatContribution() int {
	if b.Status.HoldsSeats() {
		return b.Quantity
	}
	return 0
}

// Attendee is a person occupying one seat of a booking.
type Attendee struct {
	ID        int64     `db:"id" json:"id"`
	BookingID int64     `db:"booking_id" json:"-"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Email     string    `db:"email" json:"email"`
	JobTitle  string    `db:"job_title" json:"job_title,omitempty"`
	Dietary   string    `db:"dietary" json:"dietary,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}

// PaymentAttempt records one payment intent requested for a booking.
type PaymentAttempt struct {
	ID               int64           `db:"id" json:"id"`
	BookingID        int64           `db:"booking_id" json:"booking_id"`
	ExternalIntentID string          `db:"external_intent_id" json:"external_intent_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	Status           AttemptStatus   `db:"status" json:"status"`
	FailureMessage   string          `db:"failure_message" json:"failure_message,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	SettledAt        *time.Time      `db:"settled_at" json:"settled_at,omitempty"`
}

// ProcessedWebhookEvent is the append-only record of a handled provider event.
type ProcessedWebhookEvent struct {
	ExternalEventID string    `db:"external_event_id"`
	EventType       string    `db:"event_type"`
	ReceivedAt      time.Time `db:"received_at"`
	Payload         []byte    `db:"payload"`
}

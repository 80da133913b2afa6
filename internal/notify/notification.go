// Package notify renders and delivers booking emails. Delivery is
// asynchronous and best effort: callers never see a send failure.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"booking-service/internal/models"

	"github.com/shopspring/decimal"
)

// Kind selects the template of a notification.
type Kind string

const (
	KindConfirmation  Kind = "confirmation"
	KindPaymentFailed Kind = "payment_failed"
	KindReminder      Kind = "reminder"
	KindCancellation  Kind = "cancellation"
	// KindRefundReview alerts an operator, not the customer.
	KindRefundReview Kind = "refund_review"
)

// Kinds lists every notification kind with a template.
var Kinds = []Kind{KindConfirmation, KindPaymentFailed, KindReminder, KindCancellation, KindRefundReview}

const defaultLocale = "en"

// Notification is the data handed to a template. It is also the message
// format on the notification topic.
type Notification struct {
	Kind             Kind            `json:"kind"`
	To               string          `json:"to"`
	Name             string          `json:"name"`
	Locale           string          `json:"locale"`
	BookingReference string          `json:"booking_reference"`
	BookingURL       string          `json:"booking_url"`
	EventTitle       string          `json:"event_title"`
	City             string          `json:"city"`
	Venue            string          `json:"venue"`
	StartDate        time.Time       `json:"start_date"`
	Quantity         int             `json:"quantity"`
	Total            decimal.Decimal `json:"total"`
	Currency         string          `json:"currency"`
	FailureMessage   string          `json:"failure_message,omitempty"`
}

func (n Notification) Type() string { return string(n.Kind) }

// Dispatcher accepts notifications for delivery. Dispatch never blocks on the
// mail transport and never fails the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

// ForBooking builds a notification of kind from a booking snapshot. The
// booking's Event must be loaded for event details to appear.
func ForBooking(kind Kind, b *models.Booking, baseURL string) Notification {
	n := Notification{
		Kind:             kind,
		To:               b.ContactEmail,
		Name:             b.ContactName,
		Locale:           b.Locale,
		BookingReference: b.Reference,
		BookingURL:       fmt.Sprintf("%s/bookings/%s", strings.TrimRight(baseURL, "/"), b.Reference),
		Quantity:         b.Quantity,
		Total:            b.Total,
		Currency:         b.Currency,
	}
	if ev := b.Event; ev != nil {
		n.EventTitle = ev.Title
		n.City = ev.City
		n.Venue = ev.Venue
		n.StartDate = ev.StartDate
	}
	return n
}

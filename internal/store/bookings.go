package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
)

const bookingColumns = `id, reference, scheduled_event_id, status, payment_status, ticket_kind, quantity,
	unit_price, subtotal, discount, total, currency, contact_name, contact_email, contact_phone, company,
	locale, payment_intent_id, refund_review, created_at, updated_at, confirmed_at, cancelled_at,
	reminder_sent_at`

// BookingTransition is a predicated status update: it only applies when the
// row is still in From.
type BookingTransition struct {
	BookingID    int64
	From         models.BookingState
	To           models.BookingState
	ConfirmedAt  *time.Time
	CancelledAt  *time.Time
	RefundReview bool
}

// IntentUpdate stores a new payment intent on a booking, guarded by the
// booking's current payment status and previous intent id.
type IntentUpdate struct {
	BookingID      int64
	FromPayment    models.PaymentStatus
	PreviousIntent *string
	IntentID       string
}

// CreateBooking inserts a booking. A clash on the reference returns
// apperr.ErrReferenceTaken so the caller can retry with a new one. The clash
// is resolved with ON CONFLICT so a surrounding transaction stays usable.
func (q *Queries) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (reference, scheduled_event_id, status, payment_status, ticket_kind, quantity,
			unit_price, subtotal, discount, total, currency, contact_name, contact_email, contact_phone,
			company, locale)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (reference) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := q.q.GetContext(ctx, b, query,
		b.Reference, b.ScheduledEventID, b.Status, b.PaymentStatus, b.TicketKind, b.Quantity,
		b.UnitPrice, b.Subtotal, b.Discount, b.Total, b.Currency, b.ContactName, b.ContactEmail,
		b.ContactPhone, b.Company, b.Locale)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err, "bookings_reference_key") {
		return apperr.ErrReferenceTaken
	}
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// CreateAttendees inserts the attendees of a booking and fills their ids.
func (q *Queries) CreateAttendees(ctx context.Context, bookingID int64, attendees []models.Attendee) error {
	query := `
		INSERT INTO attendees (booking_id, first_name, last_name, email, job_title, dietary)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	for i := range attendees {
		a := &attendees[i]
		a.BookingID = bookingID
		if err := q.q.GetContext(ctx, a, query,
			bookingID, a.FirstName, a.LastName, a.Email, a.JobTitle, a.Dietary); err != nil {
			return fmt.Errorf("insert attendee: %w", err)
		}
	}
	return nil
}

// GetBookingByID retrieves a booking with its attendees and event.
func (q *Queries) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	return q.getBooking(ctx, "id = $1", id)
}

// GetBookingByReference retrieves a booking by its public reference.
func (q *Queries) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	return q.getBooking(ctx, "reference = $1", reference)
}

// GetBookingByIntentID retrieves the booking that owns a payment intent.
func (q *Queries) GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	return q.getBooking(ctx, "payment_intent_id = $1", intentID)
}

func (q *Queries) getBooking(ctx context.Context, where string, arg interface{}) (*models.Booking, error) {
	var b models.Booking
	err := q.q.GetContext(ctx, &b, "SELECT "+bookingColumns+" FROM bookings WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}

	b.Attendees = []models.Attendee{}
	err = q.q.SelectContext(ctx, &b.Attendees,
		`SELECT id, booking_id, first_name, last_name, email, job_title, dietary, created_at
		 FROM attendees WHERE booking_id = $1 ORDER BY id`, b.ID)
	if err != nil {
		return nil, fmt.Errorf("get attendees: %w", err)
	}

	b.Event, err = q.GetScheduledEvent(ctx, b.ScheduledEventID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// TransitionBooking applies t only if the booking is still in t.From. It
// reports whether a row changed; false means another writer got there first.
func (q *Queries) TransitionBooking(ctx context.Context, t BookingTransition) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $4, payment_status = $5,
			confirmed_at = COALESCE($6, confirmed_at),
			cancelled_at = COALESCE($7, cancelled_at),
			refund_review = refund_review OR $8,
			updated_at = NOW()
		WHERE id = $1 AND status = $2 AND payment_status = $3`

	res, err := q.q.ExecContext(ctx, query,
		t.BookingID, t.From.Status, t.From.Payment, t.To.Status, t.To.Payment,
		t.ConfirmedAt, t.CancelledAt, t.RefundReview)
	if err != nil {
		return false, fmt.Errorf("transition booking %d: %w", t.BookingID, err)
	}
	return rowsAffected(res)
}

// SetPaymentIntent attaches a new intent to a pending booking and resets its
// payment status to pending.
func (q *Queries) SetPaymentIntent(ctx context.Context, u IntentUpdate) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_intent_id = $2, payment_status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND payment_status = $3
			AND payment_intent_id IS NOT DISTINCT FROM $4`

	res, err := q.q.ExecContext(ctx, query, u.BookingID, u.IntentID, u.FromPayment, u.PreviousIntent)
	if err != nil {
		return false, fmt.Errorf("set payment intent: %w", err)
	}
	return rowsAffected(res)
}

// ListReminderCandidates returns confirmed bookings for events starting in
// [from, to) that have not been reminded yet.
func (q *Queries) ListReminderCandidates(ctx context.Context, from, to time.Time, limit int) ([]models.Booking, error) {
	query := `
		SELECT b.id, b.reference, b.scheduled_event_id, b.status, b.payment_status, b.ticket_kind,
			b.quantity, b.unit_price, b.subtotal, b.discount, b.total, b.currency, b.contact_name,
			b.contact_email, b.contact_phone, b.company, b.locale, b.payment_intent_id, b.refund_review,
			b.created_at, b.updated_at, b.confirmed_at, b.cancelled_at, b.reminder_sent_at
		FROM bookings b
		JOIN scheduled_events e ON e.id = b.scheduled_event_id
		WHERE b.status = 'confirmed' AND b.reminder_sent_at IS NULL
			AND e.start_date >= $1 AND e.start_date < $2
		ORDER BY e.start_date
		LIMIT $3`

	var bookings []models.Booking
	if err := q.q.SelectContext(ctx, &bookings, query, from, to, limit); err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	return bookings, nil
}

// MarkReminderSent claims a booking for its reminder. Only one caller wins.
func (q *Queries) MarkReminderSent(ctx context.Context, bookingID int64, at time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		"UPDATE bookings SET reminder_sent_at = $2 WHERE id = $1 AND reminder_sent_at IS NULL",
		bookingID, at)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return rowsAffected(res)
}

// ListRefundReview returns cancelled bookings that received a payment.
func (q *Queries) ListRefundReview(ctx context.Context) ([]models.Booking, error) {
	var bookings []models.Booking
	err := q.q.SelectContext(ctx, &bookings,
		"SELECT "+bookingColumns+" FROM bookings WHERE refund_review ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list refund review: %w", err)
	}
	return bookings, nil
}

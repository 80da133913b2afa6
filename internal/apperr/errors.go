// Package apperr defines the error taxonomy shared by the store, service and
// HTTP layers. Business errors are created where they are detected and travel
// up unchanged; the HTTP layer maps their Kind to a status code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the HTTP surface.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindProviderUnavailable
	KindSignatureInvalid
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindSignatureInvalid:
		return "signature_invalid"
	default:
		return "internal"
	}
}

// Error is a classified application error.
type Error struct {
	Kind   Kind
	Reason string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind and reason so that wrapped copies
// created with Wrap still satisfy errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// New creates a classified error.
func New(kind Kind, reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: msg}
}

// Wrap attaches a cause to a copy of a sentinel.
func Wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Reason: sentinel.Reason, Msg: sentinel.Msg, Err: err}
}

// Validation builds a validation error with a custom message.
func Validation(reason, format string, args ...interface{}) *Error {
	return New(KindValidation, reason, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of err, or KindInternal if it is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the machine-readable reason of err, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Business errors.
var (
	ErrInvalidQuantity    = New(KindValidation, "invalid_quantity", "quantity must be at least 1")
	ErrInvalidTicketKind  = New(KindValidation, "invalid_ticket_kind", "unknown ticket kind")
	ErrEventNotFound      = New(KindNotFound, "event_not_found", "scheduled event not found")
	ErrUnknownEvent       = New(KindValidation, "unknown_event", "scheduled event does not exist")
	ErrTooManyAttendees   = New(KindValidation, "too_many_attendees", "more attendees than booked seats")
	ErrNotPublished       = New(KindValidation, "not_published", "scheduled event is not open for booking")
	ErrSoldOut            = New(KindConflict, "sold_out", "not enough seats available")
	ErrBookingNotFound    = New(KindNotFound, "booking_not_found", "booking not found")
	ErrIllegalTransition  = New(KindValidation, "illegal_transition", "booking cannot transition from its current state")
	ErrReferenceExhausted = New(KindConflict, "reference_exhausted", "could not allocate a unique booking reference")
	ErrReferenceTaken     = New(KindConflict, "reference_taken", "booking reference already exists")
	ErrCurrencyMismatch   = New(KindValidation, "currency_mismatch", "event currency does not match the deployment currency")
	ErrIntentBusy         = New(KindConflict, "intent_in_progress", "a payment intent is already being created for this booking")
	ErrRequestInFlight    = New(KindConflict, "request_in_progress", "a request with this idempotency key is still in progress")

	ErrProviderUnavailable = New(KindProviderUnavailable, "provider_unavailable", "payment provider unavailable")
	ErrProviderRejected    = New(KindValidation, "provider_rejected", "payment provider rejected the request")
	ErrSignatureInvalid    = New(KindSignatureInvalid, "signature_invalid", "webhook signature verification failed")
	ErrPayloadInvalid      = New(KindSignatureInvalid, "payload_invalid", "webhook payload could not be decoded")
)

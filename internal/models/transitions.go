package models

// BookingState is the joint booking/payment status pair.
type BookingState struct {
	Status  BookingStatus
	Payment PaymentStatus
}

// Trigger is an input to the booking state machine.
type Trigger string

const (
	TriggerCreateIntent     Trigger = "create_intent"
	TriggerPaymentSucceeded Trigger = "payment_succeeded"
	TriggerPaymentFailed    Trigger = "payment_failed"
	TriggerCancel           Trigger = "cancel"
)

// Outcome tells the caller what to do with a trigger.
type Outcome int

const (
	// Apply means the transition must be committed with a predicate on the
	// from-state.
	Apply Outcome = iota
	// NoOp means the booking is already where the trigger would take it, or
	// the trigger is ignored in this state.
	NoOp
	// Illegal means the trigger is rejected in this state.
	Illegal
)

// Next resolves a trigger against a state. When the outcome is Apply the
// returned state is the target; otherwise it equals from.
func Next(from BookingState, t Trigger) (BookingState, Outcome) {
	switch from.Status {
	case BookingStatusPending:
		return nextPending(from, t)
	case BookingStatusConfirmed:
		return nextConfirmed(from, t)
	case BookingStatusCancelled:
		return nextCancelled(from, t)
	case BookingStatusRefunded:
		if t == TriggerCreateIntent || t == TriggerCancel {
			return from, Illegal
		}
		return from, NoOp
	}
	return from, Illegal
}

func nextPending(from BookingState, t Trigger) (BookingState, Outcome) {
	switch t {
	case TriggerCreateIntent:
		switch from.Payment {
		case PaymentStatusPending:
			return from, NoOp
		case PaymentStatusFailed:
			return BookingState{Status: BookingStatusPending, Payment: PaymentStatusPending}, Apply
		}
		return from, Illegal
	case TriggerPaymentSucceeded:
		// A failed intent may still succeed later on a new payment method.
		if from.Payment == PaymentStatusPending || from.Payment == PaymentStatusFailed {
			return BookingState{Status: BookingStatusConfirmed, Payment: PaymentStatusPaid}, Apply
		}
		return from, NoOp
	case TriggerPaymentFailed:
		if from.Payment == PaymentStatusPending {
			return BookingState{Status: BookingStatusPending, Payment: PaymentStatusFailed}, Apply
		}
		return from, NoOp
	case TriggerCancel:
		return BookingState{Status: BookingStatusCancelled, Payment: from.Payment}, Apply
	}
	return from, Illegal
}

func nextConfirmed(from BookingState, t Trigger) (BookingState, Outcome) {
	switch t {
	case TriggerCancel:
		return BookingState{Status: BookingStatusCancelled, Payment: from.Payment}, Apply
	case TriggerCreateIntent:
		return from, Illegal
	}
	return from, NoOp
}

func nextCancelled(from BookingState, t Trigger) (BookingState, Outcome) {
	switch t {
	case TriggerCreateIntent:
		return from, Illegal
	case TriggerPaymentSucceeded:
		// The cancel won the race; record the money and leave the booking
		// cancelled for an operator to refund.
		if from.Payment == PaymentStatusPending || from.Payment == PaymentStatusFailed {
			return BookingState{Status: BookingStatusCancelled, Payment: PaymentStatusPaid}, Apply
		}
	}
	return from, NoOp
}

// NeedsRefundReview reports whether applying t on from leaves money on a
// cancelled booking.
func NeedsRefundReview(from BookingState, t Trigger) bool {
	return from.Status == BookingStatusCancelled && t == TriggerPaymentSucceeded &&
		(from.Payment == PaymentStatusPending || from.Payment == PaymentStatusFailed)
}

// ReleasesSeats reports whether moving from -> to gives seats back.
func ReleasesSeats(from, to BookingState) bool {
	return from.Status.HoldsSeats() && !to.Status.HoldsSeats()
}

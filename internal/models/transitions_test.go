package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextTransitionTable(t *testing.T) {
	pp := BookingState{BookingStatusPending, PaymentStatusPending}
	pf := BookingState{BookingStatusPending, PaymentStatusFailed}
	cp := BookingState{BookingStatusConfirmed, PaymentStatusPaid}
	xp := BookingState{BookingStatusCancelled, PaymentStatusPending}
	xpaid := BookingState{BookingStatusCancelled, PaymentStatusPaid}
	rr := BookingState{BookingStatusRefunded, PaymentStatusRefunded}

	tests := []struct {
		name    string
		from    BookingState
		trigger Trigger
		to      BookingState
		outcome Outcome
	}{
		{"intent on pending keeps state", pp, TriggerCreateIntent, pp, NoOp},
		{"intent retry after failure", pf, TriggerCreateIntent, pp, Apply},
		{"success confirms", pp, TriggerPaymentSucceeded, cp, Apply},
		{"failure marks failed", pp, TriggerPaymentFailed, pf, Apply},
		{"repeated failure is noop", pf, TriggerPaymentFailed, pf, NoOp},
		{"cancel pending", pp, TriggerCancel, xp, Apply},
		{"cancel failed keeps payment", pf, TriggerCancel, BookingState{BookingStatusCancelled, PaymentStatusFailed}, Apply},
		{"cancel confirmed keeps paid", cp, TriggerCancel, xpaid, Apply},
		{"cancel cancelled is noop", xp, TriggerCancel, xp, NoOp},
		{"intent on paid is illegal", cp, TriggerCreateIntent, cp, Illegal},
		{"intent on cancelled is illegal", xp, TriggerCreateIntent, xp, Illegal},
		{"late success on cancelled", xp, TriggerPaymentSucceeded, xpaid, Apply},
		{"failure on cancelled is noop", xp, TriggerPaymentFailed, xp, NoOp},
		{"success on confirmed is noop", cp, TriggerPaymentSucceeded, cp, NoOp},
		{"failure never regresses confirmed", cp, TriggerPaymentFailed, cp, NoOp},
		{"cancel refunded is illegal", rr, TriggerCancel, rr, Illegal},
		{"success on refunded is noop", rr, TriggerPaymentSucceeded, rr, NoOp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to, outcome := Next(tt.from, tt.trigger)
			assert.Equal(t, tt.outcome, outcome)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestRefundReviewAndSeatRelease(t *testing.T) {
	xp := BookingState{BookingStatusCancelled, PaymentStatusPending}
	cp := BookingState{BookingStatusConfirmed, PaymentStatusPaid}

	assert.True(t, NeedsRefundReview(xp, TriggerPaymentSucceeded))
	assert.False(t, NeedsRefundReview(cp, TriggerPaymentSucceeded))

	to, _ := Next(cp, TriggerCancel)
	assert.True(t, ReleasesSeats(cp, to))
	assert.False(t, ReleasesSeats(xp, xp))
}

func TestSeatContribution(t *testing.T) {
	b := &Booking{Status: BookingStatusPending, Quantity: 3}
	assert.Equal(t, 3, b.SeatContribution())
	b.Status = BookingStatusCancelled
	assert.Equal(t, 0, b.SeatContribution())
}

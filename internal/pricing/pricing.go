// Package pricing maps an event, a requested ticket kind and a quantity to a
// quote. All arithmetic is fixed-point; amounts are rounded half-to-even to
// two decimal places.
package pricing

import (
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places kept on money amounts.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Quote is the priced result for a booking request.
type Quote struct {
	Kind      models.TicketKind `json:"ticket_kind"`
	UnitPrice decimal.Decimal   `json:"unit_price"`
	Quantity  int               `json:"quantity"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
	Discount  decimal.Decimal   `json:"discount"`
	Total     decimal.Decimal   `json:"total"`
}

// Calculate prices qty seats of ev. An empty requested kind means regular.
func Calculate(ev *models.ScheduledEvent, requested models.TicketKind, qty int, today time.Time) (Quote, error) {
	if qty <= 0 {
		return Quote{}, apperr.ErrInvalidQuantity
	}
	if requested == "" {
		requested = models.TicketKindRegular
	}
	if !requested.Valid() {
		return Quote{}, apperr.ErrInvalidTicketKind
	}

	kind := ResolveKind(ev, requested, qty, today)

	unit := ev.RegularPrice
	if kind == models.TicketKindEarlyBird {
		unit = ev.EarlyBirdPrice.Decimal
	}
	unit = unit.RoundBank(Scale)

	subtotal := unit.Mul(decimal.NewFromInt(int64(qty)))
	discount := decimal.Zero
	if kind == models.TicketKindGroup {
		discount = subtotal.Mul(ev.GroupDiscountPercent).Div(hundred).RoundBank(Scale)
	}
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
		discount = subtotal
	}

	return Quote{
		Kind:      kind,
		UnitPrice: unit,
		Quantity:  qty,
		Subtotal:  subtotal,
		Discount:  discount,
		Total:     total,
	}, nil
}

// ResolveKind picks the effective ticket kind. Early bird beats group when
// both apply to a regular request.
func ResolveKind(ev *models.ScheduledEvent, requested models.TicketKind, qty int, today time.Time) models.TicketKind {
	kind := requested
	groupEligible := ev.GroupMinimum > 0 && qty >= ev.GroupMinimum

	switch kind {
	case models.TicketKindGroup:
		if !groupEligible {
			kind = models.TicketKindRegular
		}
	case models.TicketKindEarlyBird:
		if !EarlyBirdOpen(ev, today) {
			kind = models.TicketKindRegular
		}
	}
	if kind == models.TicketKindRegular && EarlyBirdOpen(ev, today) {
		kind = models.TicketKindEarlyBird
	}
	if groupEligible && kind != models.TicketKindEarlyBird {
		kind = models.TicketKindGroup
	}
	return kind
}

// EarlyBirdOpen reports whether the early-bird price applies on today. The
// deadline day itself is included; dates are compared in UTC.
func EarlyBirdOpen(ev *models.ScheduledEvent, today time.Time) bool {
	if !ev.EarlyBirdPrice.Valid || ev.EarlyBirdDeadline == nil {
		return false
	}
	return !dateOf(today).After(dateOf(*ev.EarlyBirdDeadline))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MinorUnits converts an amount to integer minor units (cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(Scale).Round(0).IntPart()
}

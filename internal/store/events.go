package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
)

const eventColumns = `id, slug, title, city, venue, start_date, end_date, total_capacity, available_spots,
	status, regular_price, early_bird_price, early_bird_deadline, group_discount_percent, group_minimum,
	currency, created_at, updated_at`

// CreateScheduledEvent inserts an event with all seats available.
func (q *Queries) CreateScheduledEvent(ctx context.Context, ev *models.ScheduledEvent) error {
	query := `
		INSERT INTO scheduled_events (slug, title, city, venue, start_date, end_date, total_capacity,
			available_spots, status, regular_price, early_bird_price, early_bird_deadline,
			group_discount_percent, group_minimum, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, available_spots, created_at, updated_at`

	err := q.q.GetContext(ctx, ev, query,
		ev.Slug, ev.Title, ev.City, ev.Venue, ev.StartDate, ev.EndDate, ev.TotalCapacity,
		ev.Status, ev.RegularPrice, ev.EarlyBirdPrice, ev.EarlyBirdDeadline,
		ev.GroupDiscountPercent, ev.GroupMinimum, ev.Currency)
	if err != nil {
		return fmt.Errorf("insert scheduled event: %w", err)
	}
	return nil
}

// GetScheduledEvent retrieves an event by ID
func (q *Queries) GetScheduledEvent(ctx context.Context, id int64) (*models.ScheduledEvent, error) {
	var ev models.ScheduledEvent
	err := q.q.GetContext(ctx, &ev, "SELECT "+eventColumns+" FROM scheduled_events WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled event %d: %w", id, err)
	}
	return &ev, nil
}

// GetScheduledEventBySlug retrieves an event by slug
func (q *Queries) GetScheduledEventBySlug(ctx context.Context, slug string) (*models.ScheduledEvent, error) {
	var ev models.ScheduledEvent
	err := q.q.GetContext(ctx, &ev, "SELECT "+eventColumns+" FROM scheduled_events WHERE slug = $1", slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled event %q: %w", slug, err)
	}
	return &ev, nil
}

// ReserveSeats takes n seats with a conditional decrement. The row lock taken
// by the UPDATE serializes concurrent reservations for the same event; the
// predicate is re-checked after the lock is acquired, so a zero-row result
// means the seats were not there at commit order.
func (q *Queries) ReserveSeats(ctx context.Context, eventID int64, n int) (int, error) {
	if n <= 0 {
		return 0, apperr.ErrInvalidQuantity
	}

	query := `
		UPDATE scheduled_events
		SET available_spots = available_spots - $2,
			status = CASE WHEN available_spots - $2 = 0 THEN 'sold_out' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'published' AND available_spots >= $2
		RETURNING available_spots`

	var remaining int
	err := q.q.GetContext(ctx, &remaining, query, eventID, n)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("reserve seats: %w", err)
	}

	var row struct {
		Status         models.EventStatus `db:"status"`
		AvailableSpots int                `db:"available_spots"`
	}
	err = q.q.GetContext(ctx, &row,
		"SELECT status, available_spots FROM scheduled_events WHERE id = $1", eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.ErrEventNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("inspect scheduled event: %w", err)
	}
	switch row.Status {
	case models.EventStatusPublished, models.EventStatusSoldOut:
		return row.AvailableSpots, apperr.ErrSoldOut
	default:
		return row.AvailableSpots, apperr.ErrNotPublished
	}
}

// ReleaseSeats gives n seats back, clamped at total capacity, and reopens a
// sold-out event.
func (q *Queries) ReleaseSeats(ctx context.Context, eventID int64, n int) (int, error) {
	if n <= 0 {
		return 0, apperr.ErrInvalidQuantity
	}

	query := `
		UPDATE scheduled_events
		SET available_spots = LEAST(total_capacity, available_spots + $2),
			status = CASE WHEN status = 'sold_out' THEN 'published' ELSE status END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING available_spots`

	var available int
	err := q.q.GetContext(ctx, &available, query, eventID, n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.ErrEventNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("release seats: %w", err)
	}
	return available, nil
}

// AvailableSpots reads the current seat counter.
func (q *Queries) AvailableSpots(ctx context.Context, eventID int64) (int, error) {
	var available int
	err := q.q.GetContext(ctx, &available,
		"SELECT available_spots FROM scheduled_events WHERE id = $1", eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.ErrEventNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read available spots: %w", err)
	}
	return available, nil
}

// HeldSeats sums the quantity of bookings that still hold seats.
func (q *Queries) HeldSeats(ctx context.Context, eventID int64) (int, error) {
	var held int
	err := q.q.GetContext(ctx, &held,
		`SELECT COALESCE(SUM(quantity), 0) FROM bookings
		 WHERE scheduled_event_id = $1 AND status IN ('pending', 'confirmed')`, eventID)
	if err != nil {
		return 0, fmt.Errorf("sum held seats: %w", err)
	}
	return held, nil
}

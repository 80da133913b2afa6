package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"
)

// CreatePaymentAttempt records a newly created payment intent.
func (q *Queries) CreatePaymentAttempt(ctx context.Context, a *models.PaymentAttempt) error {
	query := `
		INSERT INTO payment_attempts (booking_id, external_intent_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_intent_id) DO UPDATE SET external_intent_id = EXCLUDED.external_intent_id
		RETURNING id, created_at`

	if err := q.q.GetContext(ctx, a, query,
		a.BookingID, a.ExternalIntentID, a.Amount, a.Currency, a.Status); err != nil {
		return fmt.Errorf("insert payment attempt: %w", err)
	}
	return nil
}

// GetPaymentAttempt retrieves the attempt for an external intent id. It
// returns nil without error when no attempt exists.
func (q *Queries) GetPaymentAttempt(ctx context.Context, intentID string) (*models.PaymentAttempt, error) {
	var a models.PaymentAttempt
	err := q.q.GetContext(ctx, &a,
		`SELECT id, booking_id, external_intent_id, amount, currency, status, failure_message,
			created_at, settled_at
		 FROM payment_attempts WHERE external_intent_id = $1`, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment attempt: %w", err)
	}
	return &a, nil
}

// SettlePaymentAttempt records the provider's verdict on an attempt. A
// succeeded attempt is final.
func (q *Queries) SettlePaymentAttempt(ctx context.Context, intentID string, status models.AttemptStatus, failure string, at time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE payment_attempts
		 SET status = $2, failure_message = $3, settled_at = $4
		 WHERE external_intent_id = $1 AND status <> 'succeeded'`,
		intentID, status, failure, at)
	if err != nil {
		return false, fmt.Errorf("settle payment attempt: %w", err)
	}
	return rowsAffected(res)
}

package store

import (
	"context"
	"fmt"

	"booking-service/internal/models"
)

// RecordWebhookEvent inserts the external event id. It returns false when the
// id was already recorded, which is the duplicate-delivery signal. Callers run
// it in the same transaction as the event's effect.
func (q *Queries) RecordWebhookEvent(ctx context.Context, ev *models.ProcessedWebhookEvent) (bool, error) {
	payload := string(ev.Payload)
	if payload == "" {
		payload = "{}"
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO processed_webhook_events (external_event_id, event_type, received_at, payload)
		 VALUES ($1, $2, $3, $4::jsonb)
		 ON CONFLICT (external_event_id) DO NOTHING`,
		ev.ExternalEventID, ev.EventType, ev.ReceivedAt, payload)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return rowsAffected(res)
}

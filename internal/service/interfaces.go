package service

import (
	"context"
	"time"

	"booking-service/internal/models"
)

// Locker is a short-lived distributed mutex. The token returned by
// AcquireLock must be handed back to ReleaseLock.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// IdempotencyStore remembers the outcome of create requests by client key.
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	CompleteIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// EventPublisher emits booking lifecycle events.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, eventType string, b *models.Booking, reason string) error
}

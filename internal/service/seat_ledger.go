package service

import (
	"context"
	"errors"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// SeatLedger owns the available_spots counter of scheduled events. Reserve
// and Release run on the caller's transaction so the seat change commits or
// rolls back together with the booking row.
type SeatLedger struct {
	db     store.Repository
	logger *zap.Logger
}

// NewSeatLedger creates a seat ledger reading through db.
func NewSeatLedger(db store.Repository) *SeatLedger {
	return &SeatLedger{
		db:     db,
		logger: util.GetLogger(),
	}
}

// Reserve takes n seats of eventID inside tx.
func (l *SeatLedger) Reserve(ctx context.Context, tx store.Repository, eventID int64, n int) error {
	ctx, span := util.StartSpan(ctx, "SeatLedger.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SeatReserveLatency.Observe(time.Since(start).Seconds())
	}()

	remaining, err := tx.ReserveSeats(ctx, eventID, n)
	if err != nil {
		util.SpanError(span, err)
		util.SeatReservationsFailed.WithLabelValues(reasonLabel(err)).Inc()
		if errors.Is(err, apperr.ErrSoldOut) {
			l.logger.Info("Not enough seats",
				zap.Int64("event_id", eventID),
				zap.Int("requested", n),
				zap.Int("available", remaining))
		}
		return err
	}

	l.logger.Debug("Seats reserved",
		zap.Int64("event_id", eventID),
		zap.Int("seats", n),
		zap.Int("remaining", remaining))
	return nil
}

// Release gives n seats of eventID back inside tx.
func (l *SeatLedger) Release(ctx context.Context, tx store.Repository, eventID int64, n int) error {
	ctx, span := util.StartSpan(ctx, "SeatLedger.Release")
	defer span.End()

	available, err := tx.ReleaseSeats(ctx, eventID, n)
	if err != nil {
		util.SpanError(span, err)
		return err
	}

	util.SeatsReleasedTotal.Add(float64(n))
	l.logger.Debug("Seats released",
		zap.Int64("event_id", eventID),
		zap.Int("seats", n),
		zap.Int("available", available))
	return nil
}

// Current returns the committed number of available seats. Nothing is cached.
func (l *SeatLedger) Current(ctx context.Context, eventID int64) (int, error) {
	return l.db.AvailableSpots(ctx, eventID)
}

func reasonLabel(err error) string {
	if r := apperr.ReasonOf(err); r != "" {
		return r
	}
	return "error"
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/payment"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// errIntentRace is returned inside the intent transaction when another
// request stored an intent first.
var errIntentRace = errors.New("payment intent stored concurrently")

// PaymentService creates payment intents for bookings.
type PaymentService struct {
	db       store.Database
	provider payment.Provider
	locker   Locker
	opts     Options
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service. locker may be nil; the
// database predicate on the previous intent still prevents double writes.
func NewPaymentService(db store.Database, provider payment.Provider, locker Locker, opts Options) *PaymentService {
	return &PaymentService{
		db:       db,
		provider: provider,
		locker:   locker,
		opts:     opts.withDefaults(),
		logger:   util.GetLogger(),
	}
}

// IntentResponse is what the client needs to confirm a payment.
type IntentResponse struct {
	PaymentIntentID string          `json:"payment_intent_id"`
	ClientSecret    string          `json:"client_secret"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Reused          bool            `json:"-"`
}

// CreateIntent returns the booking's open payment intent, or creates one
// when the booking has none or its last payment failed.
func (s *PaymentService) CreateIntent(ctx context.Context, ref string) (*IntentResponse, error) {
	ctx, span := util.StartBookingSpan(ctx, "PaymentService.CreateIntent", ref)
	defer span.End()

	resp, err := s.createIntent(ctx, ref)
	if err != nil {
		util.SpanError(span, err)
		util.PaymentIntentsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if resp.Reused {
		util.PaymentIntentsTotal.WithLabelValues("reused").Inc()
	} else {
		util.PaymentIntentsTotal.WithLabelValues("created").Inc()
	}
	return resp, nil
}

func (s *PaymentService) createIntent(ctx context.Context, ref string) (*IntentResponse, error) {
	b, err := s.db.GetBookingByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.checkIntentAllowed(b); err != nil {
		return nil, err
	}
	if hasOpenIntent(b) {
		return s.reuse(ctx, b)
	}

	if s.locker != nil {
		lockKey := fmt.Sprintf("intent:%d", b.ID)
		token, ok, err := s.locker.AcquireLock(ctx, lockKey, s.opts.IntentLockTTL)
		switch {
		case err != nil:
			s.logger.Warn("Intent lock unavailable, relying on database guard",
				zap.String("reference", b.Reference),
				zap.Error(err))
		case !ok:
			return nil, apperr.ErrIntentBusy
		default:
			defer func() {
				if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
					s.logger.Warn("Failed to release intent lock", zap.Error(err))
				}
			}()
		}

		// Another request may have finished while this one waited.
		if b, err = s.db.GetBookingByID(ctx, b.ID); err != nil {
			return nil, err
		}
		if err := s.checkIntentAllowed(b); err != nil {
			return nil, err
		}
		if hasOpenIntent(b) {
			return s.reuse(ctx, b)
		}
	}

	previous := "none"
	if b.PaymentIntentID != nil {
		previous = *b.PaymentIntentID
	}

	start := time.Now()
	intent, err := s.provider.CreateIntent(ctx, payment.CreateIntentRequest{
		Amount:         b.Total,
		Currency:       b.Currency,
		Metadata:       payment.BookingMetadata(b.ID, b.Reference),
		IdempotencyKey: fmt.Sprintf("booking-%d-after-%s", b.ID, previous),
	})
	util.PaymentProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("Failed to create payment intent",
			zap.String("reference", b.Reference),
			zap.Error(err))
		return nil, err
	}

	err = s.db.InTx(ctx, func(tx store.Repository) error {
		ok, err := tx.SetPaymentIntent(ctx, store.IntentUpdate{
			BookingID:      b.ID,
			FromPayment:    b.PaymentStatus,
			PreviousIntent: b.PaymentIntentID,
			IntentID:       intent.ID,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errIntentRace
		}
		return tx.CreatePaymentAttempt(ctx, &models.PaymentAttempt{
			BookingID:        b.ID,
			ExternalIntentID: intent.ID,
			Amount:           b.Total,
			Currency:         b.Currency,
			Status:           models.AttemptStatusRequiresPayment,
		})
	})
	if errors.Is(err, errIntentRace) {
		current, err := s.db.GetBookingByID(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		if err := s.checkIntentAllowed(current); err != nil {
			return nil, err
		}
		if hasOpenIntent(current) {
			return s.reuse(ctx, current)
		}
		return nil, apperr.ErrIntentBusy
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment intent created",
		zap.String("reference", b.Reference),
		zap.String("intent_id", intent.ID),
		zap.String("amount", b.Total.StringFixed(2)))

	return &IntentResponse{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          b.Total,
		Currency:        b.Currency,
	}, nil
}

func (s *PaymentService) checkIntentAllowed(b *models.Booking) error {
	if _, outcome := models.Next(b.State(), models.TriggerCreateIntent); outcome == models.Illegal {
		return apperr.ErrIllegalTransition
	}
	if s.opts.Currency != "" && !strings.EqualFold(b.Currency, s.opts.Currency) {
		return apperr.ErrCurrencyMismatch
	}
	return nil
}

// hasOpenIntent reports whether b is waiting on an intent that can still be
// paid.
func hasOpenIntent(b *models.Booking) bool {
	return b.Status == models.BookingStatusPending &&
		b.PaymentStatus == models.PaymentStatusPending &&
		b.PaymentIntentID != nil
}

func (s *PaymentService) reuse(ctx context.Context, b *models.Booking) (*IntentResponse, error) {
	start := time.Now()
	intent, err := s.provider.RetrieveIntent(ctx, *b.PaymentIntentID)
	util.PaymentProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return &IntentResponse{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          b.Total,
		Currency:        b.Currency,
		Reused:          true,
	}, nil
}

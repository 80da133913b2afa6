package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/pricing"
	"booking-service/internal/redisclient"
	"booking-service/internal/reference"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// maxTransitionRetries bounds how often a predicated update is re-evaluated
// after losing a race with a concurrent writer.
const maxTransitionRetries = 3

// BookingService handles booking creation, lookup and cancellation.
type BookingService struct {
	db     store.Database
	ledger *SeatLedger
	refs   *reference.Generator
	idem   IdempotencyStore
	fx     *sideEffects
	opts   Options
	now    func() time.Time
	logger *zap.Logger
}

// NewBookingService creates a new booking service. idem may be nil, in which
// case Idempotency-Key headers are ignored.
func NewBookingService(
	db store.Database,
	ledger *SeatLedger,
	refs *reference.Generator,
	idem IdempotencyStore,
	publisher EventPublisher,
	notifier notify.Dispatcher,
	opts Options,
) *BookingService {
	opts = opts.withDefaults()
	logger := util.GetLogger()
	return &BookingService{
		db:     db,
		ledger: ledger,
		refs:   refs,
		idem:   idem,
		fx: &sideEffects{
			publisher: publisher,
			notifier:  notifier,
			baseURL:   opts.BaseURL,
			timeout:   opts.EffectTimeout,
			logger:    logger,
		},
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

// AttendeeRequest is one named attendee of a booking.
type AttendeeRequest struct {
	FirstName string `json:"first_name" binding:"required,max=100"`
	LastName  string `json:"last_name" binding:"required,max=100"`
	Email     string `json:"email" binding:"required,email"`
	JobTitle  string `json:"job_title" binding:"omitempty,max=200"`
	Dietary   string `json:"dietary" binding:"omitempty,max=200"`
}

// CreateBookingRequest represents a request to book seats
type CreateBookingRequest struct {
	ScheduledEventID int64             `json:"scheduled_event_id" binding:"required,min=1"`
	TicketKind       models.TicketKind `json:"ticket_kind" binding:"omitempty,ticketkind"`
	Quantity         int               `json:"quantity" binding:"required"`
	ContactName      string            `json:"contact_name" binding:"required,max=200"`
	ContactEmail     string            `json:"contact_email" binding:"required,email"`
	ContactPhone     string            `json:"contact_phone" binding:"omitempty,max=50"`
	Company          string            `json:"company" binding:"omitempty,max=200"`
	Locale           string            `json:"locale" binding:"omitempty,max=10"`
	Attendees        []AttendeeRequest `json:"attendees" binding:"omitempty,dive"`
	IdempotencyKey   string            `json:"-"`
}

// CreateBooking prices the request, takes the seats and stores a pending,
// unpaid booking, all in one transaction.
func (s *BookingService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CreateBooking")
	defer span.End()

	if err := validateCreate(req); err != nil {
		util.BookingsFailedTotal.WithLabelValues(reasonLabel(err)).Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		existing, claimed, err := s.claimKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("Duplicate booking request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("reference", existing.Reference))
			return existing, nil
		}
		if claimed {
			b, err := s.createBooking(ctx, req)
			s.settleKey(ctx, req.IdempotencyKey, b, err)
			util.SpanError(span, err)
			return b, err
		}
	}

	b, err := s.createBooking(ctx, req)
	util.SpanError(span, err)
	return b, err
}

func (s *BookingService) createBooking(ctx context.Context, req *CreateBookingRequest) (*models.Booking, error) {
	var booking *models.Booking
	err := s.db.InTx(ctx, func(tx store.Repository) error {
		ev, err := tx.GetScheduledEvent(ctx, req.ScheduledEventID)
		if err != nil {
			return err
		}
		switch ev.Status {
		case models.EventStatusPublished:
		case models.EventStatusSoldOut:
			return apperr.ErrSoldOut
		default:
			return apperr.ErrNotPublished
		}

		quote, err := pricing.Calculate(ev, req.TicketKind, req.Quantity, s.now())
		if err != nil {
			return err
		}

		if err := s.ledger.Reserve(ctx, tx, ev.ID, req.Quantity); err != nil {
			return err
		}

		b := &models.Booking{
			ScheduledEventID: ev.ID,
			Status:           models.BookingStatusPending,
			PaymentStatus:    models.PaymentStatusPending,
			TicketKind:       quote.Kind,
			Quantity:         quote.Quantity,
			UnitPrice:        quote.UnitPrice,
			Subtotal:         quote.Subtotal,
			Discount:         quote.Discount,
			Total:            quote.Total,
			Currency:         ev.Currency,
			ContactName:      strings.TrimSpace(req.ContactName),
			ContactEmail:     strings.TrimSpace(req.ContactEmail),
			ContactPhone:     req.ContactPhone,
			Company:          req.Company,
			Locale:           req.Locale,
		}
		if b.Locale == "" {
			b.Locale = "en"
		}
		if err := s.insertWithReference(ctx, tx, b); err != nil {
			return err
		}

		b.Attendees = attendeesFor(req, b)
		if err := tx.CreateAttendees(ctx, b.ID, b.Attendees); err != nil {
			return err
		}

		ev.AvailableSpots -= b.Quantity
		if ev.AvailableSpots == 0 {
			ev.Status = models.EventStatusSoldOut
		}
		b.Event = ev
		booking = b
		return nil
	})
	if errors.Is(err, apperr.ErrEventNotFound) {
		err = apperr.ErrUnknownEvent
	}
	if err != nil {
		util.BookingsFailedTotal.WithLabelValues(reasonLabel(err)).Inc()
		return nil, err
	}

	util.BookingsCreatedTotal.WithLabelValues(string(booking.TicketKind)).Inc()
	s.logger.Info("Booking created",
		zap.String("reference", booking.Reference),
		zap.Int64("event_id", booking.ScheduledEventID),
		zap.Int("quantity", booking.Quantity),
		zap.String("total", booking.Total.StringFixed(2)))

	s.fx.publish(ctx, models.EventTypeBookingCreated, booking, "")
	return booking, nil
}

// insertWithReference stores b under a fresh reference, retrying on clashes.
func (s *BookingService) insertWithReference(ctx context.Context, tx store.Repository, b *models.Booking) error {
	for attempt := 1; attempt <= reference.MaxAttempts; attempt++ {
		ref, err := s.refs.Next()
		if err != nil {
			return fmt.Errorf("generate reference: %w", err)
		}
		b.Reference = ref

		err = tx.CreateBooking(ctx, b)
		if errors.Is(err, apperr.ErrReferenceTaken) {
			s.logger.Warn("Booking reference clash, retrying",
				zap.String("reference", ref),
				zap.Int("attempt", attempt))
			continue
		}
		return err
	}
	return apperr.ErrReferenceExhausted
}

func validateCreate(req *CreateBookingRequest) error {
	if req.Quantity <= 0 {
		return apperr.ErrInvalidQuantity
	}
	if req.TicketKind != "" && !req.TicketKind.Valid() {
		return apperr.ErrInvalidTicketKind
	}
	if len(req.Attendees) > req.Quantity {
		return apperr.ErrTooManyAttendees
	}
	return nil
}

// attendeesFor returns the requested attendees, or the contact person when
// none were named.
func attendeesFor(req *CreateBookingRequest, b *models.Booking) []models.Attendee {
	if len(req.Attendees) == 0 {
		first, last, _ := strings.Cut(b.ContactName, " ")
		return []models.Attendee{{
			FirstName: first,
			LastName:  strings.TrimSpace(last),
			Email:     b.ContactEmail,
		}}
	}

	out := make([]models.Attendee, 0, len(req.Attendees))
	for _, a := range req.Attendees {
		out = append(out, models.Attendee{
			FirstName: strings.TrimSpace(a.FirstName),
			LastName:  strings.TrimSpace(a.LastName),
			Email:     strings.TrimSpace(a.Email),
			JobTitle:  a.JobTitle,
			Dietary:   a.Dietary,
		})
	}
	return out
}

// claimKey reserves an idempotency key. It returns the booking created by an
// earlier request with the same key, or claimed=true when this request owns
// the key. An unreachable idempotency store degrades to no deduplication.
func (s *BookingService) claimKey(ctx context.Context, key string) (*models.Booking, bool, error) {
	ok, err := s.idem.ClaimIdempotencyKey(ctx, key, s.opts.IdempotencyTTL)
	if err != nil {
		s.logger.Warn("Idempotency store unavailable", zap.Error(err))
		return nil, false, nil
	}
	if ok {
		return nil, true, nil
	}

	ref, found, err := s.idem.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency store unavailable", zap.Error(err))
		return nil, false, nil
	}
	if !found || ref == redisclient.InFlight {
		return nil, false, apperr.ErrRequestInFlight
	}

	b, err := s.db.GetBookingByReference(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	return b, false, nil
}

// settleKey records the outcome of a claimed key. Failed requests free the
// key so the client can retry.
func (s *BookingService) settleKey(ctx context.Context, key string, b *models.Booking, err error) {
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		if relErr := s.idem.ReleaseIdempotencyKey(ctx, key); relErr != nil {
			s.logger.Warn("Failed to release idempotency key", zap.Error(relErr))
		}
		return
	}
	if err := s.idem.CompleteIdempotencyKey(ctx, key, b.Reference, s.opts.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotency key", zap.Error(err))
	}
}

// GetByReference retrieves a booking with its attendees and event.
func (s *BookingService) GetByReference(ctx context.Context, ref string) (*models.Booking, error) {
	ctx, span := util.StartBookingSpan(ctx, "BookingService.GetByReference", ref)
	defer span.End()

	return s.db.GetBookingByReference(ctx, ref)
}

// GetEvent retrieves a scheduled event with its live seat count.
func (s *BookingService) GetEvent(ctx context.Context, id int64) (*models.ScheduledEvent, error) {
	return s.db.GetScheduledEvent(ctx, id)
}

// Cancel cancels a booking and gives its seats back. Cancelling a cancelled
// booking returns it unchanged.
func (s *BookingService) Cancel(ctx context.Context, ref string) (*models.Booking, error) {
	ctx, span := util.StartBookingSpan(ctx, "BookingService.Cancel", ref)
	defer span.End()

	var (
		result  *models.Booking
		changed bool
	)
	err := s.db.InTx(ctx, func(tx store.Repository) error {
		b, err := tx.GetBookingByReference(ctx, ref)
		if err != nil {
			return err
		}

		for attempt := 0; attempt < maxTransitionRetries; attempt++ {
			from := b.State()
			to, outcome := models.Next(from, models.TriggerCancel)
			switch outcome {
			case models.Illegal:
				return apperr.ErrIllegalTransition
			case models.NoOp:
				result = b
				return nil
			}

			now := s.now().UTC()
			ok, err := tx.TransitionBooking(ctx, store.BookingTransition{
				BookingID:   b.ID,
				From:        from,
				To:          to,
				CancelledAt: &now,
			})
			if err != nil {
				return err
			}
			if ok {
				if models.ReleasesSeats(from, to) {
					if err := s.ledger.Release(ctx, tx, b.ScheduledEventID, b.Quantity); err != nil {
						return err
					}
				}
				changed = true
				result, err = tx.GetBookingByID(ctx, b.ID)
				return err
			}

			if b, err = tx.GetBookingByID(ctx, b.ID); err != nil {
				return err
			}
		}
		result = b
		return nil
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	if changed {
		util.BookingsCancelledTotal.Inc()
		s.logger.Info("Booking cancelled",
			zap.String("reference", result.Reference),
			zap.String("payment_status", string(result.PaymentStatus)))
		s.fx.publish(ctx, models.EventTypeBookingCancelled, result, "client_cancel")
		s.fx.notify(ctx, notify.KindCancellation, result, "")
	}
	return result, nil
}

// SendReminders dispatches a reminder for every confirmed booking whose event
// starts within the reminder lead time. Each booking is claimed with a
// predicated update, so concurrent runs never remind twice.
func (s *BookingService) SendReminders(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.SendReminders")
	defer span.End()

	now := s.now().UTC()
	candidates, err := s.db.ListReminderCandidates(ctx, now, now.Add(s.opts.ReminderLead), s.opts.ReminderBatch)
	if err != nil {
		util.SpanError(span, err)
		return 0, err
	}

	sent := 0
	for i := range candidates {
		c := &candidates[i]
		ok, err := s.db.MarkReminderSent(ctx, c.ID, now)
		if err != nil {
			return sent, err
		}
		if !ok {
			continue
		}

		b, err := s.db.GetBookingByID(ctx, c.ID)
		if err != nil {
			s.logger.Error("Failed to load booking for reminder",
				zap.String("reference", c.Reference),
				zap.Error(err))
			continue
		}
		s.fx.notify(ctx, notify.KindReminder, b, "")
		util.RemindersSentTotal.Inc()
		sent++
	}
	return sent, nil
}

// ListRefundReview returns cancelled bookings that were paid and need an
// operator to refund them.
func (s *BookingService) ListRefundReview(ctx context.Context) ([]models.Booking, error) {
	return s.db.ListRefundReview(ctx)
}

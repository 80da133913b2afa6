package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repository is the set of queries available inside and outside a transaction.
type Repository interface {
	CreateScheduledEvent(ctx context.Context, ev *models.ScheduledEvent) error
	GetScheduledEvent(ctx context.Context, id int64) (*models.ScheduledEvent, error)
	GetScheduledEventBySlug(ctx context.Context, slug string) (*models.ScheduledEvent, error)
	ReserveSeats(ctx context.Context, eventID int64, n int) (int, error)
	ReleaseSeats(ctx context.Context, eventID int64, n int) (int, error)
	AvailableSpots(ctx context.Context, eventID int64) (int, error)
	HeldSeats(ctx context.Context, eventID int64) (int, error)

	CreateBooking(ctx context.Context, b *models.Booking) error
	CreateAttendees(ctx context.Context, bookingID int64, attendees []models.Attendee) error
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error)
	TransitionBooking(ctx context.Context, t BookingTransition) (bool, error)
	SetPaymentIntent(ctx context.Context, u IntentUpdate) (bool, error)
	ListReminderCandidates(ctx context.Context, from, to time.Time, limit int) ([]models.Booking, error)
	MarkReminderSent(ctx context.Context, bookingID int64, at time.Time) (bool, error)
	ListRefundReview(ctx context.Context) ([]models.Booking, error)

	CreatePaymentAttempt(ctx context.Context, a *models.PaymentAttempt) error
	GetPaymentAttempt(ctx context.Context, intentID string) (*models.PaymentAttempt, error)
	SettlePaymentAttempt(ctx context.Context, intentID string, status models.AttemptStatus, failure string, at time.Time) (bool, error)

	RecordWebhookEvent(ctx context.Context, ev *models.ProcessedWebhookEvent) (bool, error)
}

// Database is a Repository that can also open transactions.
type Database interface {
	Repository
	InTx(ctx context.Context, fn func(Repository) error) error
}

// Queries implements Repository on top of a connection or a transaction.
type Queries struct {
	q querier
}

type Store struct {
	db *sqlx.DB
	*Queries
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, Queries: &Queries{q: db}}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InTx runs fn inside a read-committed transaction. Row-level predicates in
// the queries provide the ordering guarantees; fn's error rolls back.
func (s *Store) InTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == uniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

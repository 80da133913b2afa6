package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/notify"
	"booking-service/internal/util"

	"github.com/go-co-op/gocron/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Enqueuer accepts notifications for delivery, waiting for queue room.
type Enqueuer interface {
	Enqueue(ctx context.Context, n notify.Notification) error
}

// NotificationWorker drains the notification topic into the delivery pool.
type NotificationWorker struct {
	consumer *broker.Consumer
	queue    Enqueuer
	logger   *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, queue Enqueuer) *NotificationWorker {
	return &NotificationWorker{
		consumer: consumer,
		queue:    queue,
		logger:   util.GetLogger(),
	}
}

// Start consumes until ctx is cancelled.
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// HandleMessage decodes one notification and queues it.
func (w *NotificationWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var n notify.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	if n.Kind == "" || n.To == "" {
		w.logger.Warn("Skipping incomplete notification",
			zap.String("kind", string(n.Kind)),
			zap.String("reference", n.BookingReference))
		return nil
	}
	return w.queue.Enqueue(ctx, n)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// BookingLoader reads a booking with its event.
type BookingLoader interface {
	GetByReference(ctx context.Context, ref string) (*models.Booking, error)
}

// BookingEventWorker reacts to booking lifecycle events. Today it alerts an
// operator when a cancelled booking was paid.
type BookingEventWorker struct {
	consumer      *broker.Consumer
	eventHandler  *broker.EventHandler
	bookings      BookingLoader
	notifier      notify.Dispatcher
	operatorEmail string
	baseURL       string
	logger        *zap.Logger
}

// NewBookingEventWorker creates a new booking event worker
func NewBookingEventWorker(
	consumer *broker.Consumer,
	bookings BookingLoader,
	notifier notify.Dispatcher,
	operatorEmail string,
	baseURL string,
) *BookingEventWorker {
	w := &BookingEventWorker{
		consumer:      consumer,
		eventHandler:  broker.NewEventHandler(),
		bookings:      bookings,
		notifier:      notifier,
		operatorEmail: operatorEmail,
		baseURL:       baseURL,
		logger:        util.GetLogger(),
	}
	w.eventHandler.On(models.EventTypeRefundReviewRequired, w.handleRefundReview)
	return w
}

// Start consumes until ctx is cancelled.
func (w *BookingEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting booking event worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// HandleMessage routes one booking event.
func (w *BookingEventWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

func (w *BookingEventWorker) handleRefundReview(ctx context.Context, ev *models.BookingEvent) error {
	if w.operatorEmail == "" {
		w.logger.Warn("Refund review required, no operator email configured",
			zap.String("reference", ev.Reference),
			zap.String("total", ev.Total.StringFixed(2)))
		return nil
	}

	b, err := w.bookings.GetByReference(ctx, ev.Reference)
	if err != nil {
		return fmt.Errorf("load booking %s: %w", ev.Reference, err)
	}

	n := notify.ForBooking(notify.KindRefundReview, b, w.baseURL)
	n.To = w.operatorEmail
	n.Locale = "en"
	w.notifier.Dispatch(ctx, n)
	return nil
}

// Stop stops the worker
func (w *BookingEventWorker) Stop() error {
	w.logger.Info("Stopping booking event worker")
	return w.consumer.Close()
}

// ReminderSender sends the reminders that are due and reports how many.
type ReminderSender interface {
	SendReminders(ctx context.Context) (int, error)
}

// ReminderJob runs the reminder sweep on a fixed interval.
type ReminderJob struct {
	scheduler gocron.Scheduler
	sender    ReminderSender
	interval  time.Duration
	logger    *zap.Logger
}

// NewReminderJob creates the job's scheduler. Call Start to run it.
func NewReminderJob(sender ReminderSender, interval time.Duration) (*ReminderJob, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &ReminderJob{
		scheduler: scheduler,
		sender:    sender,
		interval:  interval,
		logger:    util.GetLogger(),
	}, nil
}

// Start schedules the sweep. Runs never overlap; a slow run delays the next.
func (j *ReminderJob) Start(ctx context.Context) error {
	job, err := j.scheduler.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(func() { j.RunOnce(ctx) }),
		gocron.WithName("booking-reminders"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	j.scheduler.Start()
	j.logger.Info("Reminder job scheduled",
		zap.String("job_id", job.ID().String()),
		zap.Duration("interval", j.interval))
	return nil
}

// RunOnce performs one sweep.
func (j *ReminderJob) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sent, err := j.sender.SendReminders(ctx)
	if err != nil {
		j.logger.Error("Reminder sweep failed", zap.Int("sent", sent), zap.Error(err))
		return
	}
	if sent > 0 {
		j.logger.Info("Reminders sent", zap.Int("count", sent))
	}
}

// Stop shuts the scheduler down, waiting for a running sweep.
func (j *ReminderJob) Stop() error {
	j.logger.Info("Stopping reminder job")
	return j.scheduler.Shutdown()
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booking-service/config"
	"booking-service/internal/api"
	"booking-service/internal/broker"
	"booking-service/internal/notify"
	"booking-service/internal/payment"
	"booking-service/internal/redisclient"
	"booking-service/internal/reference"
	"booking-service/internal/service"
	"booking-service/internal/store"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking service")

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	eventsProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer eventsProducer.Close()
	eventPublisher := broker.NewEventPublisher(eventsProducer)
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

	renderer, err := notify.NewRenderer()
	if err != nil {
		logger.Fatal("Failed to load email templates", zap.Error(err))
	}
	sender, err := newSender(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize mail transport", zap.Error(err))
	}
	pool := notify.NewPool(renderer, sender, notify.PoolConfig{
		Workers:     cfg.Business.NotifyWorkers,
		QueueSize:   cfg.Business.NotifyQueueSize,
		MaxAttempts: 3,
		Backoff:     time.Second,
		SendTimeout: 30 * time.Second,
	})
	pool.Start()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var notifier notify.Dispatcher = pool
	var notificationWorker *worker.NotificationWorker
	if cfg.Business.NotifyViaKafka {
		notifyProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		defer notifyProducer.Close()
		notifier = notify.NewQueueDispatcher(notifyProducer, pool)

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup+"-notifications")
		notificationWorker = worker.NewNotificationWorker(consumer, pool)
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	}

	provider := payment.NewStripeClient(payment.Config{
		SecretKey:      cfg.Payment.StripeSecretKey,
		WebhookSecret:  cfg.Payment.StripeWebhookSecret,
		ConnectTimeout: cfg.Payment.ConnectTimeout,
		ReadTimeout:    cfg.Payment.ReadTimeout,
	})

	opts := service.Options{
		Currency:      cfg.Business.Currency,
		BaseURL:       cfg.Business.FrontendBaseURL,
		EffectTimeout: cfg.Business.WebhookEffectTimeout,
		ReminderLead:  cfg.Business.ReminderLead,
	}
	ledger := service.NewSeatLedger(db)
	bookingService := service.NewBookingService(db, ledger, reference.NewGenerator(cfg.Business.ReferencePrefix),
		redisClient, eventPublisher, notifier, opts)
	paymentService := service.NewPaymentService(db, provider, redisClient, opts)
	webhookService := service.NewWebhookService(db, provider, ledger, eventPublisher, notifier, opts)

	eventConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	eventWorker := worker.NewBookingEventWorker(eventConsumer, bookingService, notifier,
		cfg.Mail.OperatorEmail, cfg.Business.FrontendBaseURL)
	go func() {
		if err := eventWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Booking event worker error", zap.Error(err))
		}
	}()

	reminders, err := worker.NewReminderJob(bookingService, cfg.Business.ReminderInterval)
	if err != nil {
		logger.Fatal("Failed to create reminder job", zap.Error(err))
	}
	if err := reminders.Start(workerCtx); err != nil {
		logger.Fatal("Failed to start reminder job", zap.Error(err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if cfg.IsProduction() {
		router.Use(api.CORS(cfg.Business.FrontendBaseURL))
	} else {
		router.Use(api.CORS())
	}
	handler := api.NewHandler(bookingService, paymentService, webhookService, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := reminders.Stop(); err != nil {
		logger.Warn("Reminder job shutdown", zap.Error(err))
	}
	eventWorker.Stop()
	if notificationWorker != nil {
		notificationWorker.Stop()
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Warn("Notification queue not drained", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newSender picks the mail transport. With email disabled messages are only
// logged.
func newSender(cfg *config.Config, logger *zap.Logger) (notify.Sender, error) {
	if !cfg.Business.EnableEmail {
		logger.Info("Email disabled, notifications will be logged")
		return notify.NewLogSender(logger), nil
	}

	switch cfg.Mail.Transport {
	case "ses":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return notify.NewSESSender(ctx, cfg.Mail.AWSRegion, cfg.Mail.From, cfg.Mail.FromName)
	default:
		return notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
			FromName: cfg.Mail.FromName,
			Timeout:  30 * time.Second,
		})
	}
}

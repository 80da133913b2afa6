package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/payment"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxWebhookBody caps provider payloads; Stripe events are far smaller.
const maxWebhookBody = 1 << 20

// BookingAPI is the booking side of the service layer.
type BookingAPI interface {
	CreateBooking(ctx context.Context, req *service.CreateBookingRequest) (*models.Booking, error)
	GetByReference(ctx context.Context, ref string) (*models.Booking, error)
	Cancel(ctx context.Context, ref string) (*models.Booking, error)
	GetEvent(ctx context.Context, id int64) (*models.ScheduledEvent, error)
}

// PaymentAPI creates payment intents.
type PaymentAPI interface {
	CreateIntent(ctx context.Context, ref string) (*service.IntentResponse, error)
}

// WebhookAPI applies provider webhooks.
type WebhookAPI interface {
	Handle(ctx context.Context, body []byte, signature string) (*service.WebhookResult, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	bookings  BookingAPI
	payments  PaymentAPI
	webhooks  WebhookAPI
	readiness map[string]Pinger
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler. readiness names the dependencies
// /ready pings.
func NewHandler(bookings BookingAPI, payments PaymentAPI, webhooks WebhookAPI, readiness map[string]Pinger) *Handler {
	registerValidators()
	return &Handler{
		bookings:  bookings,
		payments:  payments,
		webhooks:  webhooks,
		readiness: readiness,
		logger:    util.GetLogger(),
	}
}

var registerOnce sync.Once

func registerValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("ticketkind", func(fl validator.FieldLevel) bool {
				return models.TicketKind(fl.Field().String()).Valid()
			})
		}
	})
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/bookings", h.createBooking)
		v1.GET("/bookings/:reference", h.getBooking)
		v1.POST("/bookings/:reference/cancel", h.cancelBooking)
		v1.POST("/bookings/:reference/payment-intent", h.createPaymentIntent)
		v1.GET("/events/:id", h.getEvent)
		v1.POST("/webhooks/payment", h.paymentWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency and reports 503 if any is down.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, dep := range h.readiness {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// createBooking handles booking creation
func (h *Handler) createBooking(c *gin.Context) {
	var req service.CreateBookingRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeBindError(c, err)
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	booking, err := h.bookings.CreateBooking(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// getBooking handles get booking by reference
func (h *Handler) getBooking(c *gin.Context) {
	booking, err := h.bookings.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) cancelBooking(c *gin.Context) {
	booking, err := h.bookings.Cancel(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *Handler) createPaymentIntent(c *gin.Context) {
	resp, err := h.payments.CreateIntent(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.writeError(c, apperr.ErrEventNotFound)
		return
	}

	ev, err := h.bookings.GetEvent(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// paymentWebhook verifies against the raw body, so it must not be bound.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.writeError(c, apperr.Wrap(apperr.ErrPayloadInvalid, err))
		return
	}

	result, err := h.webhooks.Handle(c.Request.Context(), body, c.GetHeader(payment.SignatureHeader))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindSignatureInvalid:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "reason", "message"}. Internal errors
// hide the cause behind an error_id that is logged with it.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	if kind == apperr.KindInternal {
		errorID := uuid.New().String()
		h.logger.Error("Request failed",
			zap.String("error_id", errorID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{
			"error":    kind.String(),
			"reason":   "internal",
			"message":  "internal server error",
			"error_id": errorID,
		})
		return
	}

	var appErr *apperr.Error
	message := err.Error()
	if errors.As(err, &appErr) {
		message = appErr.Msg
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   kind.String(),
		"reason":  apperr.ReasonOf(err),
		"message": message,
	})
}

// writeBindError reports request binding failures field by field.
func (h *Handler) writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   apperr.KindValidation.String(),
			"reason":  "invalid_body",
			"message": err.Error(),
		})
		return
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   apperr.KindValidation.String(),
		"reason":  "invalid_request",
		"message": "request validation failed",
		"fields":  fields,
	})
}

// CORS lets the booking frontend call the API from the browser. An empty
// origin list allows any origin, which is only meant for local development.
func CORS(origins ...string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	cc := cors.DefaultConfig()
	cc.AllowOrigins = origins
	cc.AllowHeaders = append(cc.AllowHeaders, "Idempotency-Key")
	cc.MaxAge = 12 * time.Hour
	return cors.New(cc)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

package payment

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
)

// SignatureHeader is the header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

// Config holds the Stripe credentials and network limits.
type Config struct {
	SecretKey      string
	WebhookSecret  string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// BackendURL overrides the API base URL; empty uses Stripe's.
	BackendURL string
}

// StripeClient implements Provider on the Stripe API.
type StripeClient struct {
	client        *stripe.Client
	webhookSecret string
	tolerance     time.Duration
}

// NewStripeClient creates a Stripe client whose HTTP calls are bounded by
// the configured connect and read timeouts. Retries are left to callers.
func NewStripeClient(cfg Config) *StripeClient {
	httpClient := &http.Client{
		Timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ReadTimeout,
			MaxIdleConnsPerHost:   10,
		},
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripe.String(cfg.BackendURL)
	}

	return &StripeClient{
		client:        stripe.NewClient(cfg.SecretKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendCfg))),
		webhookSecret: cfg.WebhookSecret,
		tolerance:     webhook.DefaultTolerance,
	}
}

// CreateIntent creates a payment intent for amount in currency.
func (s *StripeClient) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(pricing.MinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Metadata = req.Metadata
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := s.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	return toIntent(pi), nil
}

// RetrieveIntent fetches an existing payment intent.
func (s *StripeClient) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	pi, err := s.client.V1PaymentIntents.Retrieve(ctx, intentID, nil)
	if err != nil {
		return nil, classify(err)
	}
	return toIntent(pi), nil
}

// VerifyWebhook checks the signature header against the raw body and decodes
// the event. Nothing is trusted before the signature matches.
func (s *StripeClient) VerifyWebhook(body []byte, signatureHeader string) (*WebhookEvent, error) {
	if err := webhook.ValidatePayloadWithTolerance(body, signatureHeader, s.webhookSecret, s.tolerance); err != nil {
		return nil, apperr.Wrap(apperr.ErrSignatureInvalid, err)
	}
	return DecodeEvent(body)
}

// DecodeEvent maps a Stripe event body onto a WebhookEvent.
func DecodeEvent(body []byte) (*WebhookEvent, error) {
	if !gjson.ValidBytes(body) {
		return nil, apperr.ErrPayloadInvalid
	}
	root := gjson.ParseBytes(body)

	ev := &WebhookEvent{
		ID:           root.Get("id").String(),
		ProviderType: root.Get("type").String(),
		Raw:          body,
	}
	if ev.ID == "" || ev.ProviderType == "" {
		return nil, apperr.ErrPayloadInvalid
	}

	switch stripe.EventType(ev.ProviderType) {
	case stripe.EventTypePaymentIntentSucceeded:
		ev.Type = EventPaymentSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		ev.Type = EventPaymentFailed
	case stripe.EventTypePaymentIntentCanceled:
		ev.Type = EventPaymentCanceled
	default:
		ev.Type = EventIgnored
		return ev, nil
	}

	obj := root.Get("data.object")
	ev.IntentID = obj.Get("id").String()
	if ev.IntentID == "" || obj.Get("object").String() != "payment_intent" {
		return nil, apperr.ErrPayloadInvalid
	}
	ev.Status = obj.Get("status").String()
	ev.Amount = decimal.New(obj.Get("amount").Int(), -pricing.Scale)
	ev.Currency = strings.ToUpper(obj.Get("currency").String())
	ev.BookingReference = obj.Get("metadata." + MetaBookingReference).String()
	if id := obj.Get("metadata." + MetaBookingID).String(); id != "" {
		ev.BookingID, _ = strconv.ParseInt(id, 10, 64)
	}
	ev.FailureMessage = obj.Get("last_payment_error.message").String()
	return ev, nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       decimal.New(pi.Amount, -pricing.Scale),
		Currency:     strings.ToUpper(string(pi.Currency)),
		Metadata:     pi.Metadata,
	}
}

// classify turns provider errors into the core taxonomy: outages and rate
// limits are ProviderUnavailable, other API errors are rejections.
func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode >= http.StatusInternalServerError || se.HTTPStatusCode == http.StatusTooManyRequests {
			return apperr.Wrap(apperr.ErrProviderUnavailable, err)
		}
		return apperr.Wrap(apperr.ErrProviderRejected, err)
	}
	return apperr.Wrap(apperr.ErrProviderUnavailable, err)
}

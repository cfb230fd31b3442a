package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/restaurant-ordering/api/internal/payments"
	"github.com/restaurant-ordering/api/internal/platform/httpx"
	"github.com/restaurant-ordering/api/internal/services"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodySize    = 256 * 1024
)

// PaymentEventVerifier authenticates a raw provider payload.
type PaymentEventVerifier interface {
	Verify(ctx context.Context, payload []byte, signature string) (payments.Event, error)
}

// WebhookHandlers receives payment provider callbacks.
type WebhookHandlers struct {
	stripe     PaymentEventVerifier
	activation services.PaymentActivationService
	limiter    rateLimiter
	window     time.Duration
}

// WebhookHandlersOption customises WebhookHandlers.
type WebhookHandlersOption func(*WebhookHandlers)

// WithWebhookRateLimit caps deliveries per remote address within window.
func WithWebhookRateLimit(limit int, window time.Duration, clock func() time.Time) WebhookHandlersOption {
	return func(h *WebhookHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, clock)
		h.window = window
	}
}

// NewWebhookHandlers constructs webhook handlers. Both collaborators are required for the Stripe
// route to accept events.
func NewWebhookHandlers(stripe PaymentEventVerifier, activation services.PaymentActivationService, opts ...WebhookHandlersOption) *WebhookHandlers {
	h := &WebhookHandlers{stripe: stripe, activation: activation}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints. They authenticate by signature, not bearer token.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(throttle(h.limiter, h.window)).Post("/stripe", h.handleStripe)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stripe == nil || h.activation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "stripe webhook not configured", http.StatusServiceUnavailable))
		return
	}

	payload, err := httpx.ReadBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	event, err := h.stripe.Verify(ctx, payload, r.Header.Get(stripeSignatureHeader))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
		return
	case errors.Is(err, payments.ErrMalformedEvent):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "unable to process webhook", http.StatusInternalServerError))
		return
	}

	if !event.Confirmed() {
		httpx.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	result, err := h.activation.HandlePaymentConfirmation(ctx, services.PaymentConfirmationCommand{
		Provider:  event.Provider,
		EventID:   event.ID,
		EventType: event.Type,
		PaymentID: paymentID(event),
		Metadata:  event.Metadata,
	})
	if err != nil {
		rules := append([]httpx.ErrorRule{
			{Target: services.ErrPaymentInvalidMetadata, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
		}, orderErrorRules...)
		httpx.WriteError(ctx, w, httpx.MapError(err, errUnexpected, rules...))
		return
	}

	resp := webhookResponse{Received: true, Outcome: string(result.Outcome)}
	if result.Order != nil {
		resp.OrderID = result.Order.ID
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func paymentID(event payments.Event) string {
	if id := strings.TrimSpace(event.PaymentIntentID); id != "" {
		return id
	}
	return strings.TrimSpace(event.ObjectID)
}

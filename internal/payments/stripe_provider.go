package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe webhook processing.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeWebhookConfig configures the StripeWebhookVerifier.
type StripeWebhookConfig struct {
	Secret    string
	Tolerance time.Duration
	// APIKey enables fetching payment intent metadata when a checkout session carries none.
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger

	intents stripePaymentIntentAPI
}

// StripeWebhookVerifier checks Stripe-Signature headers and decodes payment events.
type StripeWebhookVerifier struct {
	secret    string
	tolerance time.Duration
	intents   stripePaymentIntentAPI
	logger    StripeLogger
}

// NewStripeWebhookVerifier constructs a verifier from the webhook signing secret.
func NewStripeWebhookVerifier(cfg StripeWebhookConfig) (*StripeWebhookVerifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	intents := cfg.intents
	if intents == nil {
		if apiKey := strings.TrimSpace(cfg.APIKey); apiKey != "" {
			intents = client.New(apiKey, cfg.Backends).PaymentIntents
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeWebhookVerifier{
		secret:    secret,
		tolerance: tolerance,
		intents:   intents,
		logger:    logger,
	}, nil
}

// Verify authenticates payload against the Stripe-Signature header and extracts the payment
// metadata of confirming events. Other event types are returned without metadata.
func (v *StripeWebhookVerifier) Verify(ctx context.Context, payload []byte, signature string) (Event, error) {
	if v == nil {
		return Event{}, errors.New("stripe: verifier is nil")
	}
	if strings.TrimSpace(signature) == "" {
		return Event{}, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	event := Event{
		Provider: ProviderStripe,
		ID:       evt.ID,
		Type:     string(evt.Type),
	}
	if !event.Confirmed() {
		return event, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return Event{}, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, evt.ID)
	}

	switch event.Type {
	case EventPaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return Event{}, fmt.Errorf("%w: payment intent: %v", ErrMalformedEvent, err)
		}
		event.ObjectID = intent.ID
		event.PaymentIntentID = intent.ID
		event.Metadata = cloneMetadata(intent.Metadata)
	case EventCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return Event{}, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
		}
		event.ObjectID = session.ID
		if session.PaymentIntent != nil {
			event.PaymentIntentID = session.PaymentIntent.ID
		}
		event.Metadata = cloneMetadata(session.Metadata)
		if len(event.Metadata) == 0 && session.PaymentIntent != nil {
			event.Metadata = v.intentMetadata(ctx, session.PaymentIntent.ID)
		}
	}

	v.logger(ctx, "payments.stripe.webhook.verified", map[string]any{
		"eventId":  event.ID,
		"type":     event.Type,
		"objectId": event.ObjectID,
		"intentId": event.PaymentIntentID,
	})
	return event, nil
}

// intentMetadata falls back to the payment intent, where checkout copies its metadata.
func (v *StripeWebhookVerifier) intentMetadata(ctx context.Context, intentID string) map[string]string {
	if v.intents == nil || strings.TrimSpace(intentID) == "" {
		return map[string]string{}
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := v.intents.Get(intentID, params)
	if err != nil {
		v.logger(ctx, "payments.stripe.intent.lookup.failed", map[string]any{
			"paymentIntent": intentID,
			"error":         err.Error(),
		})
		return map[string]string{}
	}
	return cloneMetadata(intent.Metadata)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

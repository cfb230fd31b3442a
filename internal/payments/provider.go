package payments

import (
	"errors"

	"github.com/restaurant-ordering/api/internal/platform/textutil"
)

// ProviderStripe identifies Stripe as the source of a payment event.
const ProviderStripe = "stripe"

// Event types that confirm a payment.
const (
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventCheckoutSessionCompleted = "checkout.session.completed"
)

var (
	// ErrInvalidSignature is returned when a webhook signature is missing, stale or wrong.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedEvent is returned when a signed payload cannot be decoded.
	ErrMalformedEvent = errors.New("payments: malformed event")
)

// Event is a verified payment provider event reduced to what order activation needs.
type Event struct {
	Provider string
	ID       string
	Type     string
	// ObjectID is the id of the payment intent or checkout session the event describes.
	ObjectID string
	// PaymentIntentID is shared by the intent and checkout session events of one payment.
	PaymentIntentID string
	Metadata        map[string]string
}

// Confirmed reports whether the event type confirms a payment.
func (e Event) Confirmed() bool {
	return e.Type == EventPaymentIntentSucceeded || e.Type == EventCheckoutSessionCompleted
}

// cloneMetadata copies provider metadata with trimmed keys and values. The result is never nil.
func cloneMetadata(metadata map[string]string) map[string]string {
	normalized := textutil.NormalizeStringMap(metadata)
	if normalized == nil {
		return map[string]string{}
	}
	return normalized
}

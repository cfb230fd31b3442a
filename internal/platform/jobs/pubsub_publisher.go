package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/restaurant-ordering/api/internal/services"
)

const (
	metricNamespace      = "github.com/restaurant-ordering/api/internal/platform/jobs"
	breakerName          = "order-events"
	defaultFailureRatio  = 0.6
	defaultMinRequests   = 5
	defaultOpenTimeout   = 30 * time.Second
	defaultPublishBudget = 5 * time.Second
)

// ErrPublisherUnavailable is returned while the circuit breaker is open.
var ErrPublisherUnavailable = errors.New("order event publisher: temporarily unavailable")

type orderEventPayload struct {
	EventID       string         `json:"eventId"`
	Type          string         `json:"type"`
	OrderID       string         `json:"orderId"`
	UserID        string         `json:"userId,omitempty"`
	PreviousState string         `json:"previousState,omitempty"`
	CurrentState  string         `json:"currentState,omitempty"`
	ActorID       string         `json:"actorId,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// PublisherOption customises the Pub/Sub order event publisher.
type PublisherOption func(*PubSubOrderEventPublisher)

// WithLogger sets the logger used for breaker state changes.
func WithLogger(logger *zap.Logger) PublisherOption {
	return func(p *PubSubOrderEventPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMeter overrides the meter used for publish counters.
func WithMeter(m metric.Meter) PublisherOption {
	return func(p *PubSubOrderEventPublisher) {
		if m != nil {
			p.meter = m
		}
	}
}

// WithBreakerTimeout sets how long the breaker stays open before probing again.
func WithBreakerTimeout(d time.Duration) PublisherOption {
	return func(p *PubSubOrderEventPublisher) {
		if d > 0 {
			p.openTimeout = d
		}
	}
}

// WithPublishTimeout bounds how long a single publish waits for the server ack.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *PubSubOrderEventPublisher) {
		if d > 0 {
			p.publishTimeout = d
		}
	}
}

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic behind a circuit breaker.
type PubSubOrderEventPublisher struct {
	topic          *pubsub.Topic
	marshal        func(any) ([]byte, error)
	newID          func() string
	logger         *zap.Logger
	meter          metric.Meter
	published      metric.Int64Counter
	openTimeout    time.Duration
	publishTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker[string]
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic, opts ...PublisherOption) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	p := &PubSubOrderEventPublisher{
		topic:          topic,
		marshal:        json.Marshal,
		newID:          uuid.NewString,
		logger:         zap.NewNop(),
		openTimeout:    defaultOpenTimeout,
		publishTimeout: defaultPublishBudget,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.meter == nil {
		p.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	counter, err := p.meter.Int64Counter(
		"orders.events.published",
		metric.WithDescription("Order events handed to Pub/Sub, by type and outcome"),
	)
	if err != nil {
		p.logger.Warn("jobs: unable to register publish counter", zap.Error(err))
	}
	p.published = counter

	logger := p.logger
	p.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     p.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < defaultMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= defaultFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return p, nil
}

// PublishOrderEvent implements services.OrderEventPublisher. The returned error is informational;
// callers treat events as best effort.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	payload := orderEventPayload{
		EventID:       p.newID(),
		Type:          strings.TrimSpace(event.Type),
		OrderID:       strings.TrimSpace(event.OrderID),
		UserID:        strings.TrimSpace(event.UserID),
		PreviousState: event.PreviousState,
		CurrentState:  event.CurrentState,
		ActorID:       strings.TrimSpace(event.ActorID),
		OccurredAt:    event.OccurredAt.UTC(),
		Metadata:      event.Metadata,
	}
	if payload.Type == "" || payload.OrderID == "" {
		return errors.New("pubsub order event publisher: type and order id are required")
	}

	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{
		"eventId": payload.EventID,
		"type":    payload.Type,
		"orderId": payload.OrderID,
	}
	setAttr(attrs, "userId", payload.UserID)
	setAttr(attrs, "state", payload.CurrentState)

	_, err = p.breaker.Execute(func() (string, error) {
		publishCtx, cancel := context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
		result := p.topic.Publish(publishCtx, &pubsub.Message{
			Data:        data,
			Attributes:  attrs,
			OrderingKey: orderingKey(p.topic, payload.OrderID),
		})
		return result.Get(publishCtx)
	})

	outcome := "published"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "rejected"
		err = fmt.Errorf("%w: %v", ErrPublisherUnavailable, err)
	case err != nil:
		outcome = "failed"
		err = fmt.Errorf("publish order event: %w", err)
	}
	p.record(ctx, payload.Type, outcome)
	return err
}

func (p *PubSubOrderEventPublisher) record(ctx context.Context, eventType, outcome string) {
	if p.published == nil {
		return
	}
	p.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	))
}

// orderingKey keeps events for the same order in sequence when the topic has ordering enabled.
func orderingKey(topic *pubsub.Topic, orderID string) string {
	if topic.EnableMessageOrdering {
		return orderID
	}
	return ""
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

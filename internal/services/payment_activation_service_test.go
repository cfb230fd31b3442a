package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	domain "github.com/restaurant-ordering/api/internal/domain"
)

type stubPaymentOrders struct {
	OrderService
	activateFn func(context.Context, string) (Order, error)
	createFn   func(context.Context, CreateOrderCommand) (Order, error)
}

func (s *stubPaymentOrders) ActivateOrder(ctx context.Context, orderID string) (Order, error) {
	if s.activateFn != nil {
		return s.activateFn(ctx, orderID)
	}
	return Order{}, errors.New("unexpected activate")
}

func (s *stubPaymentOrders) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return Order{}, errors.New("unexpected create")
}

func TestPaymentActivationActivatesExistingOrder(t *testing.T) {
	var activated string
	orders := &stubPaymentOrders{activateFn: func(_ context.Context, orderID string) (Order, error) {
		activated = orderID
		return Order{ID: orderID, IsActive: true}, nil
	}}
	svc, err := NewPaymentActivationService(PaymentActivationServiceDeps{Orders: orders})
	if err != nil {
		t.Fatalf("new payment activation service: %v", err)
	}

	result, err := svc.HandlePaymentConfirmation(context.Background(), PaymentConfirmationCommand{
		Provider:  "stripe",
		EventID:   "evt_1",
		EventType: "payment_intent.succeeded",
		Metadata:  map[string]string{"orderId": " ord_1 ", "productIds": "P1"},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if activated != "ord_1" || result.Outcome != PaymentActivationActivated || result.Order == nil {
		t.Fatalf("unexpected result %+v (activated %q)", result, activated)
	}
}

func TestPaymentActivationCreatesActiveOrder(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want []string
	}{
		"json array": {raw: `["P1","P2"]`, want: []string{"P1", "P2"}},
		"csv":        {raw: "P1,P2", want: []string{"P1", "P2"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var captured CreateOrderCommand
			orders := &stubPaymentOrders{createFn: func(_ context.Context, cmd CreateOrderCommand) (Order, error) {
				captured = cmd
				return Order{ID: "ord_new", IsActive: cmd.Active}, nil
			}}
			svc, err := NewPaymentActivationService(PaymentActivationServiceDeps{Orders: orders})
			if err != nil {
				t.Fatalf("new payment activation service: %v", err)
			}

			result, err := svc.HandlePaymentConfirmation(context.Background(), PaymentConfirmationCommand{
				Metadata: map[string]string{
					"userId":     "user-1",
					"email":      "user@example.com",
					"address":    "12 Main Street",
					"productIds": tc.raw,
				},
			})
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if result.Outcome != PaymentActivationCreated || result.Order == nil || !result.Order.IsActive {
				t.Fatalf("unexpected result %+v", result)
			}
			if !captured.Active || captured.Principal == nil || captured.Principal.ID != "user-1" || !captured.Principal.HasRole(domain.RoleCustomer) {
				t.Fatalf("unexpected create command %+v", captured)
			}
			if !slices.Equal(captured.ProductIDs, tc.want) {
				t.Fatalf("expected products %v, got %v", tc.want, captured.ProductIDs)
			}
		})
	}
}

func TestPaymentActivationIgnoresIncompleteMetadata(t *testing.T) {
	svc, err := NewPaymentActivationService(PaymentActivationServiceDeps{Orders: &stubPaymentOrders{}})
	if err != nil {
		t.Fatalf("new payment activation service: %v", err)
	}
	for _, metadata := range []map[string]string{nil, {"userId": "user-1"}, {"userId": "user-1", "productIds": "P1"}} {
		result, err := svc.HandlePaymentConfirmation(context.Background(), PaymentConfirmationCommand{Metadata: metadata})
		if err != nil {
			t.Fatalf("handle %v: %v", metadata, err)
		}
		if result.Outcome != PaymentActivationIgnored {
			t.Fatalf("expected ignored for %v, got %s", metadata, result.Outcome)
		}
	}
}

func TestPaymentActivationPropagatesErrors(t *testing.T) {
	var logged []string
	orders := &stubPaymentOrders{activateFn: func(context.Context, string) (Order, error) {
		return Order{}, ErrOrderNotFound
	}}
	svc, err := NewPaymentActivationService(PaymentActivationServiceDeps{
		Orders: orders,
		Logger: func(_ context.Context, event string, _ map[string]any) { logged = append(logged, event) },
	})
	if err != nil {
		t.Fatalf("new payment activation service: %v", err)
	}

	_, err = svc.HandlePaymentConfirmation(context.Background(), PaymentConfirmationCommand{Metadata: map[string]string{"orderId": "ord_missing"}})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !slices.Equal(logged, []string{"payment.activate.failed"}) {
		t.Fatalf("unexpected log events %v", logged)
	}

	_, err = svc.HandlePaymentConfirmation(context.Background(), PaymentConfirmationCommand{Metadata: map[string]string{
		"userId": "user-1", "address": "x", "productIds": `["P1"`,
	}})
	if !errors.Is(err, ErrPaymentInvalidMetadata) {
		t.Fatalf("expected invalid metadata, got %v", err)
	}
}

func TestPaymentActivationRedeliveryPlacesOneOrder(t *testing.T) {
	store := newMemoryStore(testProduct("P1", "12.50"))
	catalog, err := NewCatalogService(CatalogServiceDeps{Products: store.productRepo()})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	generated := 0
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:        store.orderRepo(),
		OrderProducts: store.orderProductRepo(),
		Products:      store.productRepo(),
		Users:         store.userRepo(),
		Catalog:       catalog,
		Clock:         func() time.Time { return testNow },
		IDGenerator: func() string {
			generated++
			return fmt.Sprintf("GEN%03d", generated)
		},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	var logged []string
	svc, err := NewPaymentActivationService(PaymentActivationServiceDeps{
		Orders: orders,
		Logger: func(_ context.Context, event string, _ map[string]any) { logged = append(logged, event) },
	})
	if err != nil {
		t.Fatalf("new payment activation service: %v", err)
	}

	metadata := map[string]string{"userId": "user-1", "address": "12 Main Street", "productIds": `["P1"]`}
	deliveries := []PaymentConfirmationCommand{
		{Provider: "stripe", EventID: "evt_1", EventType: "checkout.session.completed", PaymentID: "pi_1", Metadata: metadata},
		{Provider: "stripe", EventID: "evt_1", EventType: "checkout.session.completed", PaymentID: "pi_1", Metadata: metadata},
		{Provider: "stripe", EventID: "evt_2", EventType: "payment_intent.succeeded", PaymentID: "pi_1", Metadata: metadata},
	}
	var ids []string
	for i, cmd := range deliveries {
		result, err := svc.HandlePaymentConfirmation(context.Background(), cmd)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if result.Outcome != PaymentActivationCreated || result.Order == nil || !result.Order.IsActive {
			t.Fatalf("delivery %d: unexpected result %+v", i, result)
		}
		ids = append(ids, result.Order.ID)
	}

	if len(store.orders) != 1 {
		t.Fatalf("expected one stored order, got %d", len(store.orders))
	}
	if ids[0] != ids[1] || ids[0] != ids[2] {
		t.Fatalf("expected every delivery to report the same order, got %v", ids)
	}
	if !strings.HasPrefix(ids[0], orderIDPrefix) {
		t.Fatalf("expected order id prefix, got %q", ids[0])
	}
	if got := len(store.associations[ids[0]]); got != 1 {
		t.Fatalf("expected one product association, got %d", got)
	}
	if !slices.Equal(logged, []string{"payment.order.created", "payment.order.duplicate", "payment.order.duplicate"}) {
		t.Fatalf("unexpected log events %v", logged)
	}

	other, err := svc.HandlePaymentConfirmation(context.Background(), PaymentConfirmationCommand{
		Provider: "stripe", EventID: "evt_3", PaymentID: "pi_2", Metadata: metadata,
	})
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if other.Order == nil || other.Order.ID == ids[0] || len(store.orders) != 2 {
		t.Fatalf("expected a distinct payment to place its own order, got %+v", other.Order)
	}
}

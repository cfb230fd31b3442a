package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/idempotency"
	"github.com/restaurant-ordering/api/internal/platform/pagination"
	"github.com/restaurant-ordering/api/internal/services"
)

func newOrderRouter(svc services.OrderService, opts ...OrderHandlersOption) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, svc, opts...).Routes)
	return router
}

func sampleOrder() services.Order {
	created := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:         "ord_1",
		Total:      decimal.RequireFromString("15"),
		Date:       created,
		UserID:     "user-1",
		User:       &services.User{ID: "user-1", Email: "ana@example.com"},
		State:      domain.OrderStatePending,
		Address:    "1 Main St",
		ProductIDs: []string{"P1", "P2"},
		Products: []services.Product{
			{ID: "P1", Name: "Margherita", Price: decimal.RequireFromString("10"), IsActive: true},
			{ID: "P2", Name: "Cola", Price: decimal.RequireFromString("5"), IsActive: true},
		},
		Toppings: []services.Topping{{ProductID: "P1", Topping: "basil", Price: decimal.RequireFromString("0.5"), Quantity: 1}},
		Items:    []services.LineItem{{ProductID: "P2", Quantity: 2}},
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc)

	body := `{"productIds":["P1","P1","P2"],"address":"1 Main St","state":"Preparing","toppings":[{"productId":"P1","topping":"basil","price":"0.50","quantity":1}],"items":[{"productId":"P2","quantity":2}]}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), "user-1", domain.RoleCustomer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Principal == nil || captured.Principal.ID != "user-1" {
		t.Fatalf("expected principal user-1, got %#v", captured.Principal)
	}
	if len(captured.ProductIDs) != 3 || captured.State != domain.OrderStatePreparing {
		t.Fatalf("unexpected command %#v", captured)
	}
	if len(captured.Toppings) != 1 || !captured.Toppings[0].Price.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected topping to be forwarded, got %#v", captured.Toppings)
	}
	if captured.Active {
		t.Fatalf("orders placed over HTTP must start inactive")
	}

	var resp orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != "15.00" || resp.Date != "2023-05-01T12:00:00Z" {
		t.Fatalf("unexpected total/date %q %q", resp.Total, resp.Date)
	}
	if resp.Owner == nil || resp.Owner.ID != "user-1" {
		t.Fatalf("expected owner in payload, got %#v", resp.Owner)
	}
	if len(resp.Products) != 2 || resp.Products[0].Price != "10.00" {
		t.Fatalf("unexpected products %#v", resp.Products)
	}
	if len(resp.Toppings) != 1 || resp.Toppings[0].Price != "0.50" || len(resp.Items) != 1 {
		t.Fatalf("unexpected pass-through lines %#v %#v", resp.Toppings, resp.Items)
	}
}

func TestOrderHandlersCreateOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		auth   bool
		status int
		code   string
	}{
		{name: "unauthenticated", body: `{"productIds":["P1"],"address":"a"}`, status: http.StatusUnauthorized, code: "unauthenticated"},
		{name: "unknown state", body: `{"productIds":["P1"],"address":"a","state":"shipped"}`, auth: true, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "caller supplied total", body: `{"productIds":["P1"],"address":"a","total":99}`, auth: true, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "empty body", body: ``, auth: true, status: http.StatusBadRequest, code: "invalid_request"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newOrderRouter(&stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
					t.Fatalf("service must not be called")
					return services.Order{}, nil
				},
			})
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tc.body))
			if tc.auth {
				req = withIdentity(req, "user-1", domain.RoleCustomer)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if body := decodeBody(t, rr); body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestOrderHandlersServiceErrorMapping(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		code    string
		message string
	}{
		{err: fmt.Errorf("%w: productIds must not be empty", services.ErrOrderInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		{err: fmt.Errorf("%w: P9", services.ErrProductNotFound), status: http.StatusNotFound, code: "product_not_found"},
		{err: fmt.Errorf("%w: ord_1", services.ErrOrderNotFound), status: http.StatusNotFound, code: "order_not_found", message: "order not found"},
		{err: fmt.Errorf("%w: not the order owner", services.ErrOrderForbidden), status: http.StatusForbidden, code: "forbidden"},
		{err: fmt.Errorf("%w: onTheWay", services.ErrOrderNotCancellable), status: http.StatusConflict, code: "order_not_cancellable"},
		{err: fmt.Errorf("%w: ready -> pending", services.ErrOrderInvalidState), status: http.StatusConflict, code: "order_invalid_state"},
		{err: fmt.Errorf("%w: order_product_pkey", services.ErrOrderConflict), status: http.StatusConflict, code: "order_conflict"},
		{err: fmt.Errorf("%w: dial tcp", services.ErrOrderUnavailable), status: http.StatusServiceUnavailable, code: "order_store_unavailable", message: "order store unavailable"},
		{err: fmt.Errorf("%w: pq: relation missing", services.ErrOrderPersistence), status: http.StatusInternalServerError, code: "order_error", message: "unexpected error"},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			router := newOrderRouter(&stubOrderService{
				findOneFn: func(context.Context, string, *services.Principal) (services.Order, error) {
					return services.Order{}, tc.err
				},
			})
			req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil), "user-2", domain.RoleCustomer)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			if tc.message != "" && body["message"] != tc.message {
				t.Fatalf("expected message %q, got %v", tc.message, body["message"])
			}
		})
	}
}

func TestOrderHandlersListOrdersRequiresStaff(t *testing.T) {
	var captured services.OffsetPagination
	svc := &stubOrderService{
		findAllFn: func(_ context.Context, pager services.OffsetPagination) (domain.OffsetPage[services.Order], error) {
			captured = pager
			return domain.OffsetPage[services.Order]{Items: []services.Order{sampleOrder()}, Total: 11, Limit: pager.Limit, Offset: pager.Offset}, nil
		},
	}
	router := newOrderRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders", nil), "user-1", domain.RoleCustomer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", rr.Code)
	}

	req = withIdentity(httptest.NewRequest(http.MethodGet, "/orders?limit=5&offset=10", nil), "courier-1", domain.RoleDelivery)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for delivery, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Limit != 5 || captured.Offset != 10 {
		t.Fatalf("unexpected pagination %+v", captured)
	}

	var resp pagination.Response[orderPayload]
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Meta.Total != 11 || resp.Meta.CurrentPage != 3 || resp.Meta.TotalPages != 3 {
		t.Fatalf("unexpected page %+v", resp.Meta)
	}
}

func TestOrderHandlersListOrdersRejectsBadPaging(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders?limit=abc", nil), "admin-1", domain.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListMyOrdersDispatchesOnRole(t *testing.T) {
	var byUser, all int
	svc := &stubOrderService{
		findByUserFn: func(_ context.Context, userID string, _ services.OffsetPagination) (domain.OffsetPage[services.Order], error) {
			if userID != "user-1" {
				t.Fatalf("expected own user id, got %s", userID)
			}
			byUser++
			return domain.OffsetPage[services.Order]{Limit: 10}, nil
		},
		findAllFn: func(context.Context, services.OffsetPagination) (domain.OffsetPage[services.Order], error) {
			all++
			return domain.OffsetPage[services.Order]{Limit: 10}, nil
		},
	}
	router := newOrderRouter(svc)

	for _, tc := range []struct {
		uid   string
		roles []string
	}{
		{uid: "user-1", roles: []string{domain.RoleCustomer}},
		{uid: "admin-1", roles: []string{domain.RoleCustomer, domain.RoleAdmin}},
		{uid: "courier-1", roles: []string{domain.RoleDelivery}},
	} {
		req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders/me", nil), tc.uid, tc.roles...)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.uid, rr.Code)
		}
	}
	if byUser != 1 || all != 2 {
		t.Fatalf("expected 1 owner listing and 2 full listings, got %d and %d", byUser, all)
	}
}

func TestOrderHandlersUpdateOrder(t *testing.T) {
	var captured services.UpdateOrderCommand
	svc := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.State = *cmd.Patch.State
			return order, nil
		},
	}
	router := newOrderRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodPatch, "/orders/ord_1", strings.NewReader(`{"state":"onTheWay"}`)), "courier-1", domain.RoleDelivery)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Principal.ID != "courier-1" {
		t.Fatalf("unexpected command %#v", captured)
	}
	fields := captured.Patch.Fields()
	if !fields.OnlyState() || *captured.Patch.State != domain.OrderStateOnTheWay {
		t.Fatalf("expected state-only patch, got %#v", fields)
	}
	if body := decodeBody(t, rr); body["state"] != "onTheWay" {
		t.Fatalf("expected state in response, got %v", body["state"])
	}
}

func TestOrderHandlersUpdateOrderRejectsEmptyPatch(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := withIdentity(httptest.NewRequest(http.MethodPatch, "/orders/ord_1", strings.NewReader(`{}`)), "user-1", domain.RoleCustomer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersUpdateOrderProductSet(t *testing.T) {
	var captured services.OrderPatch
	svc := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
			captured = cmd.Patch
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodPatch, "/orders/ord_1", strings.NewReader(`{"productIds":["P2"],"items":[]}`)), "user-1", domain.RoleCustomer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.ProductIDs == nil || len(*captured.ProductIDs) != 1 {
		t.Fatalf("expected product ids in patch, got %#v", captured.ProductIDs)
	}
	if captured.Items == nil || len(*captured.Items) != 0 {
		t.Fatalf("expected explicit empty items, got %#v", captured.Items)
	}
	if captured.State != nil || captured.Address != nil || captured.Toppings != nil {
		t.Fatalf("unexpected fields in patch %#v", captured)
	}
}

func TestOrderHandlersAdvanceOrder(t *testing.T) {
	svc := &stubOrderService{
		advanceFn: func(_ context.Context, cmd services.AdvanceOrderCommand) (services.Order, error) {
			order := sampleOrder()
			order.State = domain.OrderStatePreparing
			return order, nil
		},
	}
	router := newOrderRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1:advance", nil), "user-1", domain.RoleCustomer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", rr.Code)
	}

	req = withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1:advance", nil), "courier-1", domain.RoleDelivery)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["state"] != "preparing" {
		t.Fatalf("expected preparing, got %v", body["state"])
	}
}

func TestOrderHandlersRemoveOrder(t *testing.T) {
	svc := &stubOrderService{
		removeFn: func(_ context.Context, cmd services.RemoveOrderCommand) (services.RemoveOrderResult, error) {
			if cmd.OrderID == "ord_late" {
				return services.RemoveOrderResult{}, fmt.Errorf("%w: order is onTheWay", services.ErrOrderNotCancellable)
			}
			return services.RemoveOrderResult{
				OrderID: cmd.OrderID,
				Message: "Order with ID " + cmd.OrderID + " has been cancelled successfully",
			}, nil
		},
	}
	router := newOrderRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodDelete, "/orders/ord_1", nil), "user-1", domain.RoleCustomer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["message"] != "Order with ID ord_1 has been cancelled successfully" {
		t.Fatalf("unexpected message %v", body["message"])
	}

	req = withIdentity(httptest.NewRequest(http.MethodDelete, "/orders/ord_late", nil), "user-1", domain.RoleCustomer)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestOrderHandlersEraseOrder(t *testing.T) {
	erased := ""
	svc := &stubOrderService{
		eraseFn: func(_ context.Context, cmd services.RemoveOrderCommand) error {
			erased = cmd.OrderID
			return nil
		},
	}
	router := newOrderRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodDelete, "/orders/admin/ord_1", nil), "courier-1", domain.RoleDelivery)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for delivery, got %d", rr.Code)
	}

	req = withIdentity(httptest.NewRequest(http.MethodDelete, "/orders/admin/ord_1", nil), "admin-1", domain.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if erased != "ord_1" {
		t.Fatalf("expected ord_1 erased, got %q", erased)
	}
}

func TestOrderHandlersCreateOrderReplaysIdempotentRequest(t *testing.T) {
	calls := 0
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			calls++
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc, WithOrderIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"productIds":["P1"],"address":"1 Main St"}`))
		req.Header.Set("Idempotency-Key", "create-1")
		req = withIdentity(req, "user-1", domain.RoleCustomer)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	second := send()
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected a single create, got %d", calls)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header on second response")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical bodies")
	}
}

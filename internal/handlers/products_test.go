package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/pagination"
	"github.com/restaurant-ordering/api/internal/services"
)

func newProductRouter(svc services.CatalogService) chi.Router {
	router := chi.NewRouter()
	router.Route("/products", NewProductHandlers(nil, svc).Routes)
	return router
}

func TestProductHandlersListActiveOnly(t *testing.T) {
	var captured services.ProductListFilter
	svc := &stubCatalogService{
		listFn: func(_ context.Context, filter services.ProductListFilter) (domain.OffsetPage[services.Product], error) {
			captured = filter
			return domain.OffsetPage[services.Product]{
				Items: []services.Product{{ID: "P1", Name: "Margherita", Price: decimal.RequireFromString("9.5"), IsActive: true}},
				Total: 1,
				Limit: filter.Pagination.Limit,
			}, nil
		},
	}
	router := newProductRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/products?category=pizza", nil), "user-1", domain.RoleCustomer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.IncludeInactive || captured.Category != "pizza" || captured.Pagination.Limit != domain.DefaultPageLimit {
		t.Fatalf("unexpected filter %+v", captured)
	}
	var resp pagination.Response[productPayload]
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Price != "9.50" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestProductHandlersAdminRoutesRequireAdmin(t *testing.T) {
	svc := &stubCatalogService{
		listFn: func(_ context.Context, filter services.ProductListFilter) (domain.OffsetPage[services.Product], error) {
			if !filter.IncludeInactive {
				t.Fatalf("admin listing must include inactive products")
			}
			return domain.OffsetPage[services.Product]{Limit: 10}, nil
		},
		deactivateFn: func(_ context.Context, id string) (services.Product, error) {
			return services.Product{ID: id, Name: "Cola", IsActive: false}, nil
		},
	}
	router := newProductRouter(svc)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/products/admin"},
		{http.MethodDelete, "/products/P1"},
		{http.MethodPost, "/products"},
	} {
		req := withIdentity(httptest.NewRequest(tc.method, tc.path, nil), "user-1", domain.RoleCustomer)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", tc.method, tc.path, rr.Code)
		}
	}

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/products/admin", nil), "admin-1", domain.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req = withIdentity(httptest.NewRequest(http.MethodDelete, "/products/P1", nil), "admin-1", domain.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["isActive"] != false {
		t.Fatalf("expected deactivated product, got %v", body)
	}
}

func TestProductHandlersGetProductHidesInactiveFromCustomers(t *testing.T) {
	svc := &stubCatalogService{
		getFn: func(_ context.Context, id string, includeInactive bool) (services.Product, error) {
			if !includeInactive {
				return services.Product{}, fmt.Errorf("%w: %s", services.ErrProductNotFound, id)
			}
			return services.Product{ID: id, Name: "Old special"}, nil
		},
	}
	router := newProductRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/products/P9", nil), "user-1", domain.RoleCustomer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "product_not_found" {
		t.Fatalf("unexpected error %v", body["error"])
	}

	req = withIdentity(httptest.NewRequest(http.MethodGet, "/products/P9", nil), "admin-1", domain.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rr.Code)
	}
}

func TestProductHandlersCreateAndUpdate(t *testing.T) {
	var created, updated services.UpsertProductCommand
	svc := &stubCatalogService{
		createFn: func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			created = cmd
			return services.Product{ID: "prd_1", Name: *cmd.Name, Price: *cmd.Price, IsActive: true}, nil
		},
		updateFn: func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			updated = cmd
			if cmd.Price != nil && cmd.Price.IsNegative() {
				return services.Product{}, fmt.Errorf("%w: price must not be negative", services.ErrCatalogInvalidInput)
			}
			return services.Product{ID: cmd.ProductID, Name: "Cola", IsActive: true}, nil
		},
	}
	router := newProductRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"name":"Margherita","price":"10.00","category":"pizza"}`)), "admin-1", domain.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if created.Name == nil || *created.Name != "Margherita" || created.Category == nil || created.Description != nil {
		t.Fatalf("unexpected create command %+v", created)
	}

	req = withIdentity(httptest.NewRequest(http.MethodPatch, "/products/P2", strings.NewReader(`{"price":-1}`)), "admin-1", domain.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if updated.ProductID != "P2" {
		t.Fatalf("expected path id to be used, got %q", updated.ProductID)
	}

	req = withIdentity(httptest.NewRequest(http.MethodPatch, "/products/P2", strings.NewReader(`{"id":"P3"}`)), "admin-1", domain.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected id change to be rejected, got %d", rr.Code)
	}
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/auth"
	"github.com/restaurant-ordering/api/internal/platform/httpx"
	"github.com/restaurant-ordering/api/internal/services"
)

var errUnexpected = httpx.NewError("order_error", "unexpected error", http.StatusInternalServerError)

// orderErrorRules maps order service sentinels onto the API envelope. Internal failures fall
// through to errUnexpected so driver details never reach callers.
var orderErrorRules = []httpx.ErrorRule{
	{Target: services.ErrOrderInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrProductNotFound, Code: "product_not_found", Status: http.StatusNotFound, Expose: true},
	{Target: services.ErrOrderNotFound, Code: "order_not_found", Status: http.StatusNotFound, Message: "order not found"},
	{Target: services.ErrOrderForbidden, Code: "forbidden", Status: http.StatusForbidden, Expose: true},
	{Target: services.ErrOrderNotCancellable, Code: "order_not_cancellable", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrOrderInvalidState, Code: "order_invalid_state", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrOrderConflict, Code: "order_conflict", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrOrderUnavailable, Code: "order_store_unavailable", Status: http.StatusServiceUnavailable, Message: "order store unavailable"},
	{Target: services.ErrCatalogUnavailable, Code: "catalog_unavailable", Status: http.StatusServiceUnavailable, Message: "product catalog unavailable"},
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	httpx.WriteError(ctx, w, httpx.MapError(err, errUnexpected, orderErrorRules...))
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// principalFromRequest returns the authenticated caller or writes 401.
func principalFromRequest(w http.ResponseWriter, r *http.Request) (*domain.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return principal, true
}

// requireRoles admits callers holding any of roles. Authentication itself is handled by the
// Firebase middleware mounted on the route group.
func requireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalFromRequest(w, r)
			if !ok {
				return
			}
			for _, role := range roles {
				if principal.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
		})
	}
}

func formatMoney(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

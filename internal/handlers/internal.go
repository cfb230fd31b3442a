package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/restaurant-ordering/api/internal/platform/httpx"
	"github.com/restaurant-ordering/api/internal/services"
)

// InternalHandlers serves service-to-service triggers. Authentication is applied by the router
// through its internal middleware chain.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}:activate", h.activateOrder)
}

func (h *InternalHandlers) activateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.ActivateOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

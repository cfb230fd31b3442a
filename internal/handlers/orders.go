package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/auth"
	"github.com/restaurant-ordering/api/internal/platform/httpx"
	"github.com/restaurant-ordering/api/internal/platform/pagination"
	"github.com/restaurant-ordering/api/internal/services"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers exposes the order lifecycle to authenticated callers.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
	paging      pagination.Options
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency installs the middleware guarding order creation against retries.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithOrderPagination overrides the limit/offset parsing options of list routes.
func WithOrderPagination(opts pagination.Options) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.paging = opts
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}

	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)

	paged := pagination.Middleware(h.paging)
	r.With(requireRoles(domain.RoleAdmin, domain.RoleDelivery), paged).Get("/", h.listOrders)
	r.With(paged).Get("/me", h.listMyOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.updateOrder)
	r.With(requireRoles(domain.RoleAdmin, domain.RoleDelivery)).Post("/{orderID}:advance", h.advanceOrder)
	r.Delete("/{orderID}", h.removeOrder)
	r.With(requireRoles(domain.RoleAdmin, domain.RoleCustomer)).Delete("/admin/{orderID}", h.eraseOrder)
}

type orderToppingRequest struct {
	ProductID string          `json:"productId"`
	Topping   string          `json:"topping"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type lineItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	ProductIDs []string              `json:"productIds"`
	Address    string                `json:"address"`
	State      string                `json:"state"`
	Toppings   []orderToppingRequest `json:"toppings"`
	Items      []lineItemRequest     `json:"items"`
}

type updateOrderRequest struct {
	ProductIDs *[]string              `json:"productIds"`
	Address    *string                `json:"address"`
	State      *string                `json:"state"`
	Toppings   *[]orderToppingRequest `json:"toppings"`
	Items      *[]lineItemRequest     `json:"items"`
}

type ownerPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type orderToppingPayload struct {
	ProductID string `json:"productId"`
	Topping   string `json:"topping,omitempty"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
}

type lineItemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type orderPayload struct {
	ID        string                `json:"id"`
	Total     string                `json:"total"`
	Date      string                `json:"date"`
	State     string                `json:"state"`
	Address   string                `json:"address"`
	IsActive  bool                  `json:"isActive"`
	UserID    string                `json:"userId"`
	Owner     *ownerPayload         `json:"owner,omitempty"`
	Products  []productPayload      `json:"products"`
	Toppings  []orderToppingPayload `json:"toppings"`
	Items     []lineItemPayload     `json:"items"`
	UpdatedAt string                `json:"updatedAt,omitempty"`
}

type removeOrderResponse struct {
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	cmd := services.CreateOrderCommand{
		ProductIDs: req.ProductIDs,
		Address:    req.Address,
		Toppings:   toToppings(req.Toppings),
		Items:      toLineItems(req.Items),
		Principal:  principal,
	}
	if raw := strings.TrimSpace(req.State); raw != "" {
		state, ok := domain.ParseOrderState(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "state is not a valid order state", http.StatusBadRequest))
			return
		}
		cmd.State = state
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	page, err := h.orders.FindAll(ctx, pagination.FromContext(ctx))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagination.NewResponse(page, buildOrderPayload))
}

// listMyOrders returns the caller's own orders when customer is their only role. Staff see every
// order through the same route.
func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	pager := pagination.FromContext(ctx)
	var (
		page domain.OffsetPage[services.Order]
		err  error
	)
	if principal.CustomerOnly() {
		page, err = h.orders.FindByUser(ctx, principal.ID, pager)
	} else {
		page, err = h.orders.FindAll(ctx, pager)
	}
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagination.NewResponse(page, buildOrderPayload))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.FindOne(ctx, orderID, principal)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req updateOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	patch := services.OrderPatch{
		Address:    req.Address,
		ProductIDs: req.ProductIDs,
	}
	if req.State != nil {
		state, ok := domain.ParseOrderState(*req.State)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "state is not a valid order state", http.StatusBadRequest))
			return
		}
		patch.State = &state
	}
	if req.Toppings != nil {
		toppings := toToppings(*req.Toppings)
		patch.Toppings = &toppings
	}
	if req.Items != nil {
		items := toLineItems(*req.Items)
		patch.Items = &items
	}
	if patch.Fields().Empty() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one field must be provided", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Update(ctx, services.UpdateOrderCommand{
		OrderID:   orderID,
		Patch:     patch,
		Principal: principal,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) advanceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Advance(ctx, services.AdvanceOrderCommand{OrderID: orderID, Principal: principal})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) removeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	result, err := h.orders.Remove(ctx, services.RemoveOrderCommand{OrderID: orderID, Principal: principal})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, removeOrderResponse{OrderID: result.OrderID, Message: result.Message})
}

func (h *OrderHandlers) eraseOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	if err := h.orders.Erase(ctx, services.RemoveOrderCommand{OrderID: orderID, Principal: principal}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func toToppings(in []orderToppingRequest) []services.Topping {
	if in == nil {
		return nil
	}
	out := make([]services.Topping, 0, len(in))
	for _, t := range in {
		out = append(out, services.Topping{
			ProductID: strings.TrimSpace(t.ProductID),
			Topping:   strings.TrimSpace(t.Topping),
			Price:     t.Price,
			Quantity:  t.Quantity,
		})
	}
	return out
}

func toLineItems(in []lineItemRequest) []services.LineItem {
	if in == nil {
		return nil
	}
	out := make([]services.LineItem, 0, len(in))
	for _, item := range in {
		out = append(out, services.LineItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	return out
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:        order.ID,
		Total:     formatMoney(order.Total),
		Date:      formatTime(order.Date),
		State:     string(order.State),
		Address:   order.Address,
		IsActive:  order.IsActive,
		UserID:    order.UserID,
		Products:  make([]productPayload, 0, len(order.Products)),
		Toppings:  make([]orderToppingPayload, 0, len(order.Toppings)),
		Items:     make([]lineItemPayload, 0, len(order.Items)),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	if order.User != nil {
		payload.Owner = &ownerPayload{
			ID:          order.User.ID,
			Email:       order.User.Email,
			DisplayName: order.User.DisplayName,
		}
	}
	for _, product := range order.Products {
		payload.Products = append(payload.Products, buildProductPayload(product))
	}
	for _, t := range order.Toppings {
		payload.Toppings = append(payload.Toppings, orderToppingPayload{
			ProductID: t.ProductID,
			Topping:   t.Topping,
			Price:     formatMoney(t.Price),
			Quantity:  t.Quantity,
		})
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, lineItemPayload{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return payload
}

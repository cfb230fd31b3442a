package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/auth"
	"github.com/restaurant-ordering/api/internal/platform/httpx"
	"github.com/restaurant-ordering/api/internal/platform/pagination"
	"github.com/restaurant-ordering/api/internal/services"
)

const maxToppingBodySize = 8 * 1024

var toppingErrorRules = []httpx.ErrorRule{
	{Target: services.ErrToppingInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrToppingNotFound, Code: "topping_not_found", Status: http.StatusNotFound, Message: "topping not found"},
	{Target: services.ErrProductToppingNotFound, Code: "product_topping_not_found", Status: http.StatusNotFound, Message: "product topping not found"},
	{Target: services.ErrProductNotFound, Code: "product_not_found", Status: http.StatusNotFound, Message: "product not found"},
	{Target: services.ErrToppingConflict, Code: "topping_conflict", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrToppingUnavailable, Code: "topping_store_unavailable", Status: http.StatusServiceUnavailable, Message: "topping catalog unavailable"},
}

// ToppingHandlers serves the topping catalog and the toppings offered on each product.
type ToppingHandlers struct {
	authn    *auth.Authenticator
	toppings services.ToppingService
}

// NewToppingHandlers constructs topping handlers.
func NewToppingHandlers(authn *auth.Authenticator, toppings services.ToppingService) *ToppingHandlers {
	return &ToppingHandlers{authn: authn, toppings: toppings}
}

// Routes registers the /toppings endpoints.
func (h *ToppingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	paged := pagination.Middleware(pagination.Options{})
	admin := requireRoles(domain.RoleAdmin)

	r.With(paged).Get("/", h.listToppings)
	r.With(admin, paged).Get("/admin", h.listAllToppings)
	r.With(admin).Post("/", h.createTopping)
	r.With(admin).Post("/add-topping", h.attachTopping)
	r.With(admin).Delete("/remove-topping/{linkID}", h.detachTopping)
	r.Get("/by-product/{productID}", h.listProductToppings)
	r.Get("/{name}", h.getTopping)
	r.With(admin).Patch("/{name}", h.updateTopping)
	r.With(admin).Delete("/{name}", h.deactivateTopping)
}

type toppingPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	MaximumAmount int    `json:"maximumAmount"`
	IsActive      bool   `json:"isActive"`
	CreatedAt     string `json:"createdAt,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

type productToppingPayload struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	ToppingID string          `json:"toppingId"`
	Quantity  int             `json:"quantity"`
	CreatedAt string          `json:"createdAt,omitempty"`
	Topping   *toppingPayload `json:"topping,omitempty"`
}

type toppingRequest struct {
	Name          *string          `json:"name"`
	Price         *decimal.Decimal `json:"price"`
	MaximumAmount *int             `json:"maximumAmount"`
	IsActive      *bool            `json:"isActive"`
}

type attachToppingRequest struct {
	ProductID string `json:"productId"`
	ToppingID string `json:"toppingId"`
	Quantity  int    `json:"quantity"`
}

func (h *ToppingHandlers) listToppings(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

func (h *ToppingHandlers) listAllToppings(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *ToppingHandlers) list(w http.ResponseWriter, r *http.Request, includeInactive bool) {
	ctx := r.Context()
	if h.toppings == nil {
		writeUnavailable(ctx, w, "topping")
		return
	}
	page, err := h.toppings.ListToppings(ctx, services.ToppingListFilter{
		IncludeInactive: includeInactive,
		Pagination:      pagination.FromContext(ctx),
	})
	if err != nil {
		writeToppingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagination.NewResponse(page, buildToppingPayload))
}

func (h *ToppingHandlers) getTopping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.toppings == nil {
		writeUnavailable(ctx, w, "topping")
		return
	}
	topping, err := h.toppings.GetTopping(ctx, chi.URLParam(r, "name"))
	if err != nil {
		writeToppingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildToppingPayload(topping))
}

func (h *ToppingHandlers) createTopping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.toppings == nil {
		writeUnavailable(ctx, w, "topping")
		return
	}
	var req toppingRequest
	if err := httpx.DecodeJSON(r, maxToppingBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	cmd := req.command()
	if req.Name != nil {
		cmd.Name = *req.Name
	}
	cmd.NewName = nil
	topping, err := h.toppings.CreateTopping(ctx, cmd)
	if err != nil {
		writeToppingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildToppingPayload(topping))
}

func (h *ToppingHandlers) updateTopping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.toppings == nil {
		writeUnavailable(ctx, w, "topping")
		return
	}
	var req toppingRequest
	if err := httpx.DecodeJSON(r, maxToppingBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	cmd := req.command()
	cmd.Name = chi.URLParam(r, "name")
	topping, err := h.toppings.UpdateTopping(ctx, cmd)
	if err != nil {
		writeToppingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildToppingPayload(topping))
}

func (h *ToppingHandlers) deactivateTopping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.toppings == nil {
		writeUnavailable(ctx, w, "topping")
		return
	}
	topping, err := h.toppings.DeactivateTopping(ctx, chi.URLParam(r, "name"))
	if err != nil {
		writeToppingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildToppingPayload(topping))
}

func (h *ToppingHandlers) attachTopping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.toppings == nil {
		writeUnavailable(ctx, w, "topping")
		return
	}
	var req attachToppingRequest
	if err := httpx.DecodeJSON(r, maxToppingBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	link, err := h.toppings.AttachTopping(ctx, services.AttachToppingCommand{
		ProductID: req.ProductID,
		ToppingID: req.ToppingID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeToppingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildProductToppingPayload(link))
}

func (h *ToppingHandlers) detachTopping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.toppings == nil {
		writeUnavailable(ctx, w, "topping")
		return
	}
	if err := h.toppings.DetachTopping(ctx, chi.URLParam(r, "linkID")); err != nil {
		writeToppingError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ToppingHandlers) listProductToppings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.toppings == nil {
		writeUnavailable(ctx, w, "topping")
		return
	}
	links, err := h.toppings.ListProductToppings(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeToppingError(ctx, w, err)
		return
	}
	items := make([]productToppingPayload, 0, len(links))
	for _, link := range links {
		items = append(items, buildProductToppingPayload(link))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (req toppingRequest) command() services.UpsertToppingCommand {
	return services.UpsertToppingCommand{
		NewName:       req.Name,
		Price:         req.Price,
		MaximumAmount: req.MaximumAmount,
		IsActive:      req.IsActive,
	}
}

func writeToppingError(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, httpx.MapError(err,
		httpx.NewError("topping_error", "unexpected error", http.StatusInternalServerError),
		toppingErrorRules...))
}

func buildToppingPayload(topping services.MenuTopping) toppingPayload {
	return toppingPayload{
		ID:            topping.ID,
		Name:          topping.Name,
		Price:         formatMoney(topping.Price),
		MaximumAmount: topping.MaximumAmount,
		IsActive:      topping.IsActive,
		CreatedAt:     formatTime(topping.CreatedAt),
		UpdatedAt:     formatTime(topping.UpdatedAt),
	}
}

func buildProductToppingPayload(link services.ProductTopping) productToppingPayload {
	payload := productToppingPayload{
		ID:        link.ID,
		ProductID: link.ProductID,
		ToppingID: link.ToppingID,
		Quantity:  link.Quantity,
		CreatedAt: formatTime(link.CreatedAt),
	}
	if link.Topping != nil {
		topping := buildToppingPayload(*link.Topping)
		payload.Topping = &topping
	}
	return payload
}

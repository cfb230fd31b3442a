package handlers

import (
	"context"
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

const maxProductBodySize = 16 * 1024

var catalogErrorRules = []httpx.ErrorRule{
	{Target: services.ErrCatalogInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
	{Target: services.ErrProductNotFound, Code: "product_not_found", Status: http.StatusNotFound, Message: "product not found"},
	{Target: services.ErrCatalogConflict, Code: "product_conflict", Status: http.StatusConflict, Expose: true},
	{Target: services.ErrCatalogUnavailable, Code: "catalog_unavailable", Status: http.StatusServiceUnavailable, Message: "product catalog unavailable"},
}

// ProductHandlers serves the menu to authenticated callers and its maintenance to admins.
type ProductHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewProductHandlers constructs product handlers.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{authn: authn, catalog: catalog}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	paged := pagination.Middleware(pagination.Options{})
	admin := requireRoles(domain.RoleAdmin)

	r.With(paged).Get("/", h.listProducts)
	r.With(admin, paged).Get("/admin", h.listAllProducts)
	r.Get("/{productID}", h.getProduct)
	r.With(admin).Post("/", h.createProduct)
	r.With(admin).Patch("/{productID}", h.updateProduct)
	r.With(admin).Delete("/{productID}", h.deactivateProduct)
}

type productPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Price       string `json:"price"`
	IsActive    bool   `json:"isActive"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

type productRequest struct {
	ID          *string          `json:"id"`
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Price       *decimal.Decimal `json:"price"`
	IsActive    *bool            `json:"isActive"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

func (h *ProductHandlers) listAllProducts(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *ProductHandlers) list(w http.ResponseWriter, r *http.Request, includeInactive bool) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	page, err := h.catalog.ListProducts(ctx, services.ProductListFilter{
		IncludeInactive: includeInactive,
		Category:        strings.TrimSpace(r.URL.Query().Get("category")),
		Pagination:      pagination.FromContext(ctx),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagination.NewResponse(page, buildProductPayload))
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"), principal.IsAdmin())
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, maxProductBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	cmd := req.command()
	if req.ID != nil {
		cmd.ProductID = *req.ID
	}
	product, err := h.catalog.CreateProduct(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildProductPayload(product))
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, maxProductBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if req.ID != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id cannot be changed", http.StatusBadRequest))
		return
	}
	cmd := req.command()
	cmd.ProductID = chi.URLParam(r, "productID")
	product, err := h.catalog.UpdateProduct(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog")
		return
	}
	product, err := h.catalog.DeactivateProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product))
}

func (req productRequest) command() services.UpsertProductCommand {
	return services.UpsertProductCommand{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		IsActive:    req.IsActive,
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, httpx.MapError(err,
		httpx.NewError("catalog_error", "unexpected error", http.StatusInternalServerError),
		catalogErrorRules...))
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:          product.ID,
		Name:        product.Name,
		Description: product.Description,
		Category:    product.Category,
		Price:       formatMoney(product.Price),
		IsActive:    product.IsActive,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
}

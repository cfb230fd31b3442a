package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/textutil"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const (
	productIDPrefix         = "prd_"
	maxProductNameLength    = 120
	maxProductDescLength    = 2000
	maxProductCategoryLen   = 60
	productPriceScaleDigits = 2
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog operation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrProductNotFound indicates a product is unknown, or inactive where only active products qualify.
	ErrProductNotFound = errors.New("catalog service: product not found")
	// ErrCatalogConflict indicates a product id collision.
	ErrCatalogConflict = errors.New("catalog service: conflict")
	// ErrCatalogUnavailable indicates the product store could not be reached.
	ErrCatalogUnavailable = errors.New("catalog service: store unavailable")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type catalogService struct {
	repo  repositories.ProductRepository
	clock func() time.Time
	newID func() string
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, fmt.Errorf("catalog service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &catalogService{
		repo:  deps.Products,
		clock: func() time.Time { return clock().UTC() },
		newID: idGen,
	}, nil
}

func (s *catalogService) Resolve(ctx context.Context, productIDs []string) ([]Product, error) {
	if len(productIDs) == 0 {
		return nil, fmt.Errorf("%w: product ids are required", ErrCatalogInvalidInput)
	}
	found, err := s.repo.FindByIDs(ctx, productIDs)
	if err != nil {
		// Left unmapped so the calling order transaction classifies it.
		return nil, err
	}

	byID := make(map[string]Product, len(found))
	for _, product := range found {
		if product.IsActive {
			byID[product.ID] = product
		}
	}

	resolved := make([]Product, 0, len(productIDs))
	var missing []string
	for _, id := range productIDs {
		product, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		resolved = append(resolved, product)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, strings.Join(missing, ", "))
	}
	return resolved, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.OffsetPage[Product], error) {
	page, err := s.repo.List(ctx, repositories.ProductListFilter{
		ActiveOnly: !filter.IncludeInactive,
		Category:   strings.TrimSpace(filter.Category),
		Pagination: filter.Pagination.Normalize(),
	})
	if err != nil {
		return domain.OffsetPage[Product]{}, mapCatalogError(err)
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string, includeInactive bool) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogError(err)
	}
	if !product.IsActive && !includeInactive {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return product, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if cmd.Name == nil || cmd.Price == nil {
		return Product{}, fmt.Errorf("%w: name and price are required", ErrCatalogInvalidInput)
	}

	now := s.clock()
	product := Product{
		ID:        strings.TrimSpace(cmd.ProductID),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if product.ID == "" {
		product.ID = productIDPrefix + s.newID()
	}
	if err := applyProductFields(&product, cmd); err != nil {
		return Product{}, err
	}

	if err := s.repo.Insert(ctx, product); err != nil {
		return Product{}, mapCatalogError(err)
	}
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if cmd.Name == nil && cmd.Description == nil && cmd.Category == nil && cmd.Price == nil && cmd.IsActive == nil {
		return Product{}, fmt.Errorf("%w: at least one field is required", ErrCatalogInvalidInput)
	}

	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogError(err)
	}
	if err := applyProductFields(&product, cmd); err != nil {
		return Product{}, err
	}
	product.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, product); err != nil {
		return Product{}, mapCatalogError(err)
	}
	return product, nil
}

// DeactivateProduct hides a product from new orders. Existing associations keep pointing at it.
func (s *catalogService) DeactivateProduct(ctx context.Context, productID string) (Product, error) {
	inactive := false
	return s.UpdateProduct(ctx, UpsertProductCommand{ProductID: productID, IsActive: &inactive})
}

func applyProductFields(product *Product, cmd UpsertProductCommand) error {
	if cmd.Name != nil {
		name := textutil.SanitizePlainText(*cmd.Name)
		if name == "" {
			return fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
		}
		if textutil.RuneLength(name) > maxProductNameLength {
			return fmt.Errorf("%w: name must be at most %d characters", ErrCatalogInvalidInput, maxProductNameLength)
		}
		product.Name = name
	}
	if cmd.Description != nil {
		description := textutil.SanitizePlainText(*cmd.Description)
		if textutil.RuneLength(description) > maxProductDescLength {
			return fmt.Errorf("%w: description must be at most %d characters", ErrCatalogInvalidInput, maxProductDescLength)
		}
		product.Description = description
	}
	if cmd.Category != nil {
		category := strings.ToLower(textutil.SanitizePlainText(*cmd.Category))
		if textutil.RuneLength(category) > maxProductCategoryLen {
			return fmt.Errorf("%w: category must be at most %d characters", ErrCatalogInvalidInput, maxProductCategoryLen)
		}
		product.Category = category
	}
	if cmd.Price != nil {
		price := *cmd.Price
		if price.IsNegative() {
			return fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
		}
		if !price.Equal(price.Round(productPriceScaleDigits)) {
			return fmt.Errorf("%w: price must have at most %d decimal places", ErrCatalogInvalidInput, productPriceScaleDigits)
		}
		product.Price = price.Round(productPriceScaleDigits)
	}
	if cmd.IsActive != nil {
		product.IsActive = *cmd.IsActive
	}
	return nil
}

func mapCatalogError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrCatalogConflict, conflictDetail(err))
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
	}
	return err
}

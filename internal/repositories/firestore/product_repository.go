package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/restaurant-ordering/api/internal/domain"
	pfirestore "github.com/restaurant-ordering/api/internal/platform/firestore"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository persists catalog products in Firestore.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil),
	}, nil
}

// Insert creates the product document.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	return r.base.Create(ctx, product.ID, fromDomainProduct(product))
}

// Update overwrites an existing product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	return r.base.Replace(ctx, product.ID, fromDomainProduct(product))
}

// FindByID loads a product regardless of its active flag.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return toDomainProduct(doc.ID, doc.Data)
}

// FindByIDs loads the existing products among productIDs.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	docs, err := r.base.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product, err := toDomainProduct(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}

// List returns a page of products ordered by name.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.OffsetPage[domain.Product], error) {
	pager := filter.Pagination.Normalize()
	scope := func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		if category := strings.TrimSpace(filter.Category); category != "" {
			q = q.Where("category", "==", category)
		}
		return q
	}

	total, err := r.base.Count(ctx, scope)
	if err != nil {
		return domain.OffsetPage[domain.Product]{}, err
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return scope(q).OrderBy("name", firestore.Asc).Offset(pager.Offset).Limit(pager.Limit)
	})
	if err != nil {
		return domain.OffsetPage[domain.Product]{}, err
	}

	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product, err := toDomainProduct(doc.ID, doc.Data)
		if err != nil {
			return domain.OffsetPage[domain.Product]{}, err
		}
		products = append(products, product)
	}
	return domain.OffsetPage[domain.Product]{
		Items:  products,
		Total:  total,
		Limit:  pager.Limit,
		Offset: pager.Offset,
	}, nil
}

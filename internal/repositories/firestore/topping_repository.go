package firestore

import (
	"context"
	"errors"
	"slices"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/restaurant-ordering/api/internal/domain"
	pfirestore "github.com/restaurant-ordering/api/internal/platform/firestore"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const (
	toppingCollection        = "toppings"
	productToppingCollection = "productToppings"
)

// ToppingRepository persists the topping catalog in Firestore. Firestore cannot enforce unique
// names, so callers check FindByName inside the transaction that inserts.
type ToppingRepository struct {
	base *pfirestore.BaseRepository[toppingDocument]
}

var _ repositories.ToppingRepository = (*ToppingRepository)(nil)

// NewToppingRepository constructs a Firestore-backed topping repository.
func NewToppingRepository(provider *pfirestore.Provider) (*ToppingRepository, error) {
	if provider == nil {
		return nil, errors.New("topping repository requires firestore provider")
	}
	return &ToppingRepository{
		base: pfirestore.NewBaseRepository[toppingDocument](provider, toppingCollection, nil, nil),
	}, nil
}

// Insert creates the topping document.
func (r *ToppingRepository) Insert(ctx context.Context, topping domain.MenuTopping) error {
	if strings.TrimSpace(topping.ID) == "" {
		return errors.New("topping id is required")
	}
	return r.base.Create(ctx, topping.ID, fromDomainTopping(topping))
}

// Update overwrites an existing topping document.
func (r *ToppingRepository) Update(ctx context.Context, topping domain.MenuTopping) error {
	if strings.TrimSpace(topping.ID) == "" {
		return errors.New("topping id is required")
	}
	return r.base.Replace(ctx, topping.ID, fromDomainTopping(topping))
}

// FindByID loads a topping regardless of its active flag.
func (r *ToppingRepository) FindByID(ctx context.Context, toppingID string) (domain.MenuTopping, error) {
	doc, err := r.base.Get(ctx, toppingID)
	if err != nil {
		return domain.MenuTopping{}, err
	}
	return toDomainTopping(doc.ID, doc.Data)
}

// FindByName loads the topping carrying the exact name.
func (r *ToppingRepository) FindByName(ctx context.Context, name string) (domain.MenuTopping, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("name", "==", name).Limit(1)
	})
	if err != nil {
		return domain.MenuTopping{}, err
	}
	if len(docs) == 0 {
		return domain.MenuTopping{}, pfirestore.NotFoundError("toppings.find_by_name", nil)
	}
	return toDomainTopping(docs[0].ID, docs[0].Data)
}

// FindByIDs loads the existing toppings among toppingIDs.
func (r *ToppingRepository) FindByIDs(ctx context.Context, toppingIDs []string) ([]domain.MenuTopping, error) {
	docs, err := r.base.GetAll(ctx, toppingIDs)
	if err != nil {
		return nil, err
	}
	toppings := make([]domain.MenuTopping, 0, len(docs))
	for _, doc := range docs {
		topping, err := toDomainTopping(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		toppings = append(toppings, topping)
	}
	return toppings, nil
}

// List returns a page of toppings ordered by name.
func (r *ToppingRepository) List(ctx context.Context, filter repositories.ToppingListFilter) (domain.OffsetPage[domain.MenuTopping], error) {
	pager := filter.Pagination.Normalize()
	scope := func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		return q
	}

	total, err := r.base.Count(ctx, scope)
	if err != nil {
		return domain.OffsetPage[domain.MenuTopping]{}, err
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return scope(q).OrderBy("name", firestore.Asc).Offset(pager.Offset).Limit(pager.Limit)
	})
	if err != nil {
		return domain.OffsetPage[domain.MenuTopping]{}, err
	}

	toppings := make([]domain.MenuTopping, 0, len(docs))
	for _, doc := range docs {
		topping, err := toDomainTopping(doc.ID, doc.Data)
		if err != nil {
			return domain.OffsetPage[domain.MenuTopping]{}, err
		}
		toppings = append(toppings, topping)
	}
	return domain.OffsetPage[domain.MenuTopping]{
		Items:  toppings,
		Total:  total,
		Limit:  pager.Limit,
		Offset: pager.Offset,
	}, nil
}

// ProductToppingRepository stores one document per (product, topping) pair. Document ids are
// derived from the pair so Firestore rejects a duplicate; the public link id is a field.
type ProductToppingRepository struct {
	base *pfirestore.BaseRepository[productToppingDocument]
}

var _ repositories.ProductToppingRepository = (*ProductToppingRepository)(nil)

// NewProductToppingRepository constructs a Firestore-backed product topping repository.
func NewProductToppingRepository(provider *pfirestore.Provider) (*ProductToppingRepository, error) {
	if provider == nil {
		return nil, errors.New("product topping repository requires firestore provider")
	}
	return &ProductToppingRepository{
		base: pfirestore.NewBaseRepository[productToppingDocument](provider, productToppingCollection, nil, nil),
	}, nil
}

// Insert creates the join document.
func (r *ProductToppingRepository) Insert(ctx context.Context, link domain.ProductTopping) error {
	if strings.TrimSpace(link.ID) == "" {
		return errors.New("product topping id is required")
	}
	doc := productToppingDocument{
		ID:        link.ID,
		ProductID: link.ProductID,
		ToppingID: link.ToppingID,
		Quantity:  link.Quantity,
		CreatedAt: link.CreatedAt.UTC(),
	}
	return r.base.Create(ctx, productToppingDocID(link.ProductID, link.ToppingID), doc)
}

// Delete removes the join document carrying linkID.
func (r *ProductToppingRepository) Delete(ctx context.Context, linkID string) error {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("id", "==", linkID).Limit(1)
	})
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return pfirestore.NotFoundError("product_toppings.delete", nil)
	}
	return r.base.DeleteRef(ctx, docs[0].Ref)
}

// FindByPair loads the join document of the pair.
func (r *ProductToppingRepository) FindByPair(ctx context.Context, productID, toppingID string) (domain.ProductTopping, error) {
	doc, err := r.base.Get(ctx, productToppingDocID(productID, toppingID))
	if err != nil {
		return domain.ProductTopping{}, err
	}
	return toDomainProductTopping(doc.Data), nil
}

// ListByProduct returns the toppings attached to the product, oldest first.
func (r *ProductToppingRepository) ListByProduct(ctx context.Context, productID string) ([]domain.ProductTopping, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", productID)
	})
	if err != nil {
		return nil, err
	}
	links := make([]domain.ProductTopping, 0, len(docs))
	for _, doc := range docs {
		links = append(links, toDomainProductTopping(doc.Data))
	}
	slices.SortStableFunc(links, func(a, b domain.ProductTopping) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return links, nil
}

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

const orderCollection = "orders"

// OrderRepository persists order headers in Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
	}, nil
}

// Insert creates the order document; an existing id is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	return r.base.Create(ctx, order.ID, fromDomainOrder(order))
}

// Update overwrites the mutable order fields.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	return r.base.Replace(ctx, order.ID, fromDomainOrder(order))
}

// Delete removes the order document.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.base.Delete(ctx, orderID)
}

// FindByID loads the order header. Associations are loaded separately.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data)
}

// List returns a page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error) {
	pager := filter.Pagination.Normalize()
	scope := func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		return q
	}

	total, err := r.base.Count(ctx, scope)
	if err != nil {
		return domain.OffsetPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return scope(q).OrderBy("date", firestore.Desc).Offset(pager.Offset).Limit(pager.Limit)
	})
	if err != nil {
		return domain.OffsetPage[domain.Order]{}, err
	}

	orders, err := decodeOrders(docs)
	if err != nil {
		return domain.OffsetPage[domain.Order]{}, err
	}
	return domain.OffsetPage[domain.Order]{
		Items:  orders,
		Total:  total,
		Limit:  pager.Limit,
		Offset: pager.Offset,
	}, nil
}

// ListByDateRange returns every order dated inside the inclusive range, oldest first.
func (r *OrderRepository) ListByDateRange(ctx context.Context, filter repositories.OrderRangeFilter) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if from := filter.DateRange.From; from != nil {
			q = q.Where("date", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil {
			q = q.Where("date", "<=", to.UTC())
		}
		if len(filter.States) > 0 {
			states := make([]string, 0, len(filter.States))
			for _, state := range filter.States {
				states = append(states, string(state))
			}
			q = q.Where("state", "in", states)
		}
		return q.OrderBy("date", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs)
}

func decodeOrders(docs []pfirestore.Document[orderDocument]) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := toDomainOrder(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

package firestore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/restaurant-ordering/api/internal/platform/firestore"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const (
	orderProductCollection = "orderProducts"
	// Firestore caps the number of values accepted by an "in" filter.
	maxInFilterValues = 30
)

// OrderProductRepository stores one document per (order, product) pair. Document ids are derived
// from the pair so a duplicate association is rejected by Firestore itself.
type OrderProductRepository struct {
	base *pfirestore.BaseRepository[orderProductDocument]
	now  func() time.Time
}

var _ repositories.OrderProductRepository = (*OrderProductRepository)(nil)

// NewOrderProductRepository constructs a Firestore-backed association repository.
func NewOrderProductRepository(provider *pfirestore.Provider) (*OrderProductRepository, error) {
	if provider == nil {
		return nil, errors.New("order product repository requires firestore provider")
	}
	return &OrderProductRepository{
		base: pfirestore.NewBaseRepository[orderProductDocument](provider, orderProductCollection, nil, nil),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Insert creates the association documents.
func (r *OrderProductRepository) Insert(ctx context.Context, orderID string, productIDs []string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order id is required")
	}
	return r.create(ctx, orderID, productIDs, nil)
}

// Replace deletes associations missing from productIDs and creates the new ones. Existing pairs
// are left untouched because a Firestore transaction may write each document only once.
func (r *OrderProductRepository) Replace(ctx context.Context, orderID string, productIDs []string) error {
	docs, err := r.byOrder(ctx, orderID)
	if err != nil {
		return err
	}
	wanted := make(map[string]struct{}, len(productIDs))
	for _, productID := range productIDs {
		wanted[productID] = struct{}{}
	}
	existing := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if _, keep := wanted[doc.Data.ProductID]; keep {
			existing[doc.Data.ProductID] = struct{}{}
			continue
		}
		if err := r.base.DeleteRef(ctx, doc.Ref); err != nil {
			return err
		}
	}
	return r.create(ctx, orderID, productIDs, existing)
}

// DeleteByOrder removes every association of the order. Inside a transaction the lookup is a
// read, so it must run before the transaction's first write.
func (r *OrderProductRepository) DeleteByOrder(ctx context.Context, orderID string) error {
	docs, err := r.byOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := r.base.DeleteRef(ctx, doc.Ref); err != nil {
			return err
		}
	}
	return nil
}

// ListByOrder returns the product ids associated with the order, in insertion order.
func (r *OrderProductRepository) ListByOrder(ctx context.Context, orderID string) ([]string, error) {
	grouped, err := r.ListByOrders(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	return grouped[orderID], nil
}

// ListByOrders returns product ids grouped by order id, each group in insertion order.
func (r *OrderProductRepository) ListByOrders(ctx context.Context, orderIDs []string) (map[string][]string, error) {
	grouped := make(map[string][]orderProductDocument, len(orderIDs))
	for chunk := range slices.Chunk(orderIDs, maxInFilterValues) {
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("orderId", "in", chunk)
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			grouped[doc.Data.OrderID] = append(grouped[doc.Data.OrderID], doc.Data)
		}
	}

	result := make(map[string][]string, len(grouped))
	for orderID, docs := range grouped {
		slices.SortStableFunc(docs, func(a, b orderProductDocument) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return a.Position - b.Position
		})
		ids := make([]string, 0, len(docs))
		for _, doc := range docs {
			ids = append(ids, doc.ProductID)
		}
		result[orderID] = ids
	}
	return result, nil
}

func (r *OrderProductRepository) byOrder(ctx context.Context, orderID string) ([]pfirestore.Document[orderProductDocument], error) {
	return r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
}

func (r *OrderProductRepository) create(ctx context.Context, orderID string, productIDs []string, skip map[string]struct{}) error {
	createdAt := r.now()
	for position, productID := range productIDs {
		if _, ok := skip[productID]; ok {
			continue
		}
		doc := orderProductDocument{OrderID: orderID, ProductID: productID, Position: position, CreatedAt: createdAt}
		if err := r.base.Create(ctx, orderProductDocID(orderID, productID), doc); err != nil {
			return err
		}
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	ppostgres "github.com/restaurant-ordering/api/internal/platform/postgres"
	"github.com/restaurant-ordering/api/internal/repositories"
)

// OrderProductRepository manages rows of the order_product join table.
type OrderProductRepository struct {
	db *sql.DB
}

var _ repositories.OrderProductRepository = (*OrderProductRepository)(nil)

// NewOrderProductRepository constructs a PostgreSQL-backed association repository.
func NewOrderProductRepository(db *sql.DB) (*OrderProductRepository, error) {
	if db == nil {
		return nil, errors.New("order product repository requires database")
	}
	return &OrderProductRepository{db: db}, nil
}

// Insert adds the rows with one statement; the primary key rejects a duplicate pair.
func (r *OrderProductRepository) Insert(ctx context.Context, orderID string, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	query := `INSERT INTO order_product (order_id, product_id, position)
	          SELECT $1, p.product_id, p.position
	          FROM unnest($2::text[]) WITH ORDINALITY AS p(product_id, position)`
	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, query, orderID, pq.Array(productIDs))
	return ppostgres.WrapError("order_product.insert", err)
}

// Replace deletes every row of the order and inserts productIDs. Callers run it inside a transaction.
func (r *OrderProductRepository) Replace(ctx context.Context, orderID string, productIDs []string) error {
	if err := r.DeleteByOrder(ctx, orderID); err != nil {
		return err
	}
	return r.Insert(ctx, orderID, productIDs)
}

func (r *OrderProductRepository) DeleteByOrder(ctx context.Context, orderID string) error {
	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM order_product WHERE order_id = $1`, orderID)
	return ppostgres.WrapError("order_product.delete", err)
}

func (r *OrderProductRepository) ListByOrder(ctx context.Context, orderID string) ([]string, error) {
	grouped, err := r.ListByOrders(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	return grouped[orderID], nil
}

func (r *OrderProductRepository) ListByOrders(ctx context.Context, orderIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}
	query := `SELECT order_id, product_id FROM order_product
	          WHERE order_id = ANY($1)
	          ORDER BY order_id, position`
	rows, err := ppostgres.Conn(ctx, r.db).QueryContext(ctx, query, pq.Array(orderIDs))
	if err != nil {
		return nil, ppostgres.WrapError("order_product.list", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID, productID string
		if err := rows.Scan(&orderID, &productID); err != nil {
			return nil, ppostgres.WrapError("order_product.list", err)
		}
		result[orderID] = append(result[orderID], productID)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("order_product.list", err)
	}
	return result, nil
}

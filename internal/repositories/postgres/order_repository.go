package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	domain "github.com/restaurant-ordering/api/internal/domain"
	ppostgres "github.com/restaurant-ordering/api/internal/platform/postgres"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const orderColumns = `id, total, date, user_id, state, address, is_active, toppings, items, updated_at`

// OrderRepository persists order headers in PostgreSQL.
type OrderRepository struct {
	db *sql.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a PostgreSQL-backed order repository.
func NewOrderRepository(db *sql.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires database")
	}
	return &OrderRepository{db: db}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	toppings, items, err := encodeOrderLines(order)
	if err != nil {
		return err
	}
	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = ppostgres.Conn(ctx, r.db).ExecContext(ctx, query,
		order.ID,
		order.Total,
		order.Date.UTC(),
		order.UserID,
		string(order.State),
		order.Address,
		order.IsActive,
		toppings,
		items,
		order.UpdatedAt.UTC(),
	)
	return ppostgres.WrapError("orders.insert", err)
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	toppings, items, err := encodeOrderLines(order)
	if err != nil {
		return err
	}
	query := `UPDATE orders
	          SET total = $2, state = $3, address = $4, is_active = $5, toppings = $6, items = $7, updated_at = $8
	          WHERE id = $1`
	result, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, query,
		order.ID,
		order.Total,
		string(order.State),
		order.Address,
		order.IsActive,
		toppings,
		items,
		order.UpdatedAt.UTC(),
	)
	if err != nil {
		return ppostgres.WrapError("orders.update", err)
	}
	return requireAffected("orders.update", result)
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	result, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return ppostgres.WrapError("orders.delete", err)
	}
	return requireAffected("orders.delete", result)
}

// FindByID loads the order header. Inside a transaction the row is locked until commit.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if _, inTx := ppostgres.TxFromContext(ctx); inTx {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, query, orderID))
	if err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.find", err)
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error) {
	pager := filter.Pagination.Normalize()

	var (
		clauses []string
		args    []any
	)
	if filter.ActiveOnly {
		clauses = append(clauses, "is_active = TRUE")
	}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		args = append(args, userID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	conn := ppostgres.Conn(ctx, r.db)
	var total int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return domain.OffsetPage[domain.Order]{}, ppostgres.WrapError("orders.count", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY date DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)+1, len(args)+2)
	orders, err := r.query(ctx, "orders.list", query, append(args, pager.Limit, pager.Offset)...)
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

func (r *OrderRepository) ListByDateRange(ctx context.Context, filter repositories.OrderRangeFilter) ([]domain.Order, error) {
	var (
		clauses []string
		args    []any
	)
	if from := filter.DateRange.From; from != nil {
		args = append(args, from.UTC())
		clauses = append(clauses, fmt.Sprintf("date >= $%d", len(args)))
	}
	if to := filter.DateRange.To; to != nil {
		args = append(args, to.UTC())
		clauses = append(clauses, fmt.Sprintf("date <= $%d", len(args)))
	}
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, state := range filter.States {
			states = append(states, string(state))
		}
		args = append(args, pq.Array(states))
		clauses = append(clauses, fmt.Sprintf("state = ANY($%d)", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY date ASC, id ASC"
	return r.query(ctx, "orders.list_range", query, args...)
}

func (r *OrderRepository) query(ctx context.Context, op, query string, args ...any) ([]domain.Order, error) {
	rows, err := ppostgres.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, ppostgres.WrapError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	return orders, nil
}

func scanOrder(row scanner) (domain.Order, error) {
	var (
		order    domain.Order
		state    string
		toppings []byte
		items    []byte
	)
	if err := row.Scan(
		&order.ID,
		&order.Total,
		&order.Date,
		&order.UserID,
		&state,
		&order.Address,
		&order.IsActive,
		&toppings,
		&items,
		&order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.State = domain.OrderState(state)
	order.Date = order.Date.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	var err error
	if order.Toppings, err = decodeToppings(toppings); err != nil {
		return domain.Order{}, err
	}
	if order.Items, err = decodeItems(items); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func encodeOrderLines(order domain.Order) ([]byte, []byte, error) {
	toppings, err := encodeToppings(order.Toppings)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal order toppings: %w", err)
	}
	items, err := encodeItems(order.Items)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal order items: %w", err)
	}
	return toppings, items, nil
}

func requireAffected(op string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return ppostgres.WrapError(op, err)
	}
	if affected == 0 {
		return ppostgres.NotFoundError(op)
	}
	return nil
}

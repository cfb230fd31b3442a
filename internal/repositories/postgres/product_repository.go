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

const productColumns = `id, name, description, category, price, is_active, created_at, updated_at`

// ProductRepository persists catalog products in PostgreSQL.
type ProductRepository struct {
	db *sql.DB
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a PostgreSQL-backed product repository.
func NewProductRepository(db *sql.DB) (*ProductRepository, error) {
	if db == nil {
		return nil, errors.New("product repository requires database")
	}
	return &ProductRepository{db: db}, nil
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	query := `INSERT INTO products (` + productColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, query,
		product.ID,
		product.Name,
		product.Description,
		product.Category,
		product.Price,
		product.IsActive,
		product.CreatedAt.UTC(),
		product.UpdatedAt.UTC(),
	)
	return ppostgres.WrapError("products.insert", err)
}

func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	query := `UPDATE products
	          SET name = $2, description = $3, category = $4, price = $5, is_active = $6, updated_at = $7
	          WHERE id = $1`
	result, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, query,
		product.ID,
		product.Name,
		product.Description,
		product.Category,
		product.Price,
		product.IsActive,
		product.UpdatedAt.UTC(),
	)
	if err != nil {
		return ppostgres.WrapError("products.update", err)
	}
	return requireAffected("products.update", result)
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	product, err := scanProduct(ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, query, productID))
	if err != nil {
		return domain.Product{}, ppostgres.WrapError("products.find", err)
	}
	return product, nil
}

// FindByIDs takes a shared lock inside a transaction so a product cannot be deactivated while an
// order referencing it is being written.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`
	if _, inTx := ppostgres.TxFromContext(ctx); inTx {
		query += ` FOR SHARE`
	}
	return r.query(ctx, "products.find_many", query, pq.Array(productIDs))
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.OffsetPage[domain.Product], error) {
	pager := filter.Pagination.Normalize()

	var (
		clauses []string
		args    []any
	)
	if filter.ActiveOnly {
		clauses = append(clauses, "is_active = TRUE")
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		args = append(args, category)
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return domain.OffsetPage[domain.Product]{}, ppostgres.WrapError("products.count", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM products%s ORDER BY name ASC, id ASC LIMIT $%d OFFSET $%d`,
		productColumns, where, len(args)+1, len(args)+2)
	products, err := r.query(ctx, "products.list", query, append(args, pager.Limit, pager.Offset)...)
	if err != nil {
		return domain.OffsetPage[domain.Product]{}, err
	}
	return domain.OffsetPage[domain.Product]{
		Items:  products,
		Total:  total,
		Limit:  pager.Limit,
		Offset: pager.Offset,
	}, nil
}

func (r *ProductRepository) query(ctx context.Context, op, query string, args ...any) ([]domain.Product, error) {
	rows, err := ppostgres.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, ppostgres.WrapError(op, err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	return products, nil
}

func scanProduct(row scanner) (domain.Product, error) {
	var product domain.Product
	if err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Category,
		&product.Price,
		&product.IsActive,
		&product.CreatedAt,
		&product.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

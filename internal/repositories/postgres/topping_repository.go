package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	domain "github.com/restaurant-ordering/api/internal/domain"
	ppostgres "github.com/restaurant-ordering/api/internal/platform/postgres"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const toppingColumns = `id, name, price, maximum_amount, is_active, created_at, updated_at`

// ToppingRepository persists the topping catalog in PostgreSQL. The toppings_name_key
// constraint rejects duplicate names.
type ToppingRepository struct {
	db *sql.DB
}

var _ repositories.ToppingRepository = (*ToppingRepository)(nil)

// NewToppingRepository constructs a PostgreSQL-backed topping repository.
func NewToppingRepository(db *sql.DB) (*ToppingRepository, error) {
	if db == nil {
		return nil, errors.New("topping repository requires database")
	}
	return &ToppingRepository{db: db}, nil
}

func (r *ToppingRepository) Insert(ctx context.Context, topping domain.MenuTopping) error {
	query := `INSERT INTO toppings (` + toppingColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, query,
		topping.ID,
		topping.Name,
		topping.Price,
		topping.MaximumAmount,
		topping.IsActive,
		topping.CreatedAt.UTC(),
		topping.UpdatedAt.UTC(),
	)
	return ppostgres.WrapError("toppings.insert", err)
}

func (r *ToppingRepository) Update(ctx context.Context, topping domain.MenuTopping) error {
	query := `UPDATE toppings
	          SET name = $2, price = $3, maximum_amount = $4, is_active = $5, updated_at = $6
	          WHERE id = $1`
	result, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, query,
		topping.ID,
		topping.Name,
		topping.Price,
		topping.MaximumAmount,
		topping.IsActive,
		topping.UpdatedAt.UTC(),
	)
	if err != nil {
		return ppostgres.WrapError("toppings.update", err)
	}
	return requireAffected("toppings.update", result)
}

func (r *ToppingRepository) FindByID(ctx context.Context, toppingID string) (domain.MenuTopping, error) {
	query := `SELECT ` + toppingColumns + ` FROM toppings WHERE id = $1`
	topping, err := scanTopping(ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, query, toppingID))
	if err != nil {
		return domain.MenuTopping{}, ppostgres.WrapError("toppings.find", err)
	}
	return topping, nil
}

func (r *ToppingRepository) FindByName(ctx context.Context, name string) (domain.MenuTopping, error) {
	query := `SELECT ` + toppingColumns + ` FROM toppings WHERE name = $1`
	topping, err := scanTopping(ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, query, name))
	if err != nil {
		return domain.MenuTopping{}, ppostgres.WrapError("toppings.find_by_name", err)
	}
	return topping, nil
}

func (r *ToppingRepository) FindByIDs(ctx context.Context, toppingIDs []string) ([]domain.MenuTopping, error) {
	if len(toppingIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + toppingColumns + ` FROM toppings WHERE id = ANY($1)`
	return r.query(ctx, "toppings.find_many", query, pq.Array(toppingIDs))
}

func (r *ToppingRepository) List(ctx context.Context, filter repositories.ToppingListFilter) (domain.OffsetPage[domain.MenuTopping], error) {
	pager := filter.Pagination.Normalize()
	where := ""
	if filter.ActiveOnly {
		where = " WHERE is_active = TRUE"
	}

	var total int
	if err := ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM toppings`+where).Scan(&total); err != nil {
		return domain.OffsetPage[domain.MenuTopping]{}, ppostgres.WrapError("toppings.count", err)
	}

	query := `SELECT ` + toppingColumns + ` FROM toppings` + where + ` ORDER BY name ASC, id ASC LIMIT $1 OFFSET $2`
	toppings, err := r.query(ctx, "toppings.list", query, pager.Limit, pager.Offset)
	if err != nil {
		return domain.OffsetPage[domain.MenuTopping]{}, err
	}
	return domain.OffsetPage[domain.MenuTopping]{
		Items:  toppings,
		Total:  total,
		Limit:  pager.Limit,
		Offset: pager.Offset,
	}, nil
}

func (r *ToppingRepository) query(ctx context.Context, op, query string, args ...any) ([]domain.MenuTopping, error) {
	rows, err := ppostgres.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	defer rows.Close()

	var toppings []domain.MenuTopping
	for rows.Next() {
		topping, err := scanTopping(rows)
		if err != nil {
			return nil, ppostgres.WrapError(op, err)
		}
		toppings = append(toppings, topping)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError(op, err)
	}
	return toppings, nil
}

func scanTopping(row scanner) (domain.MenuTopping, error) {
	var topping domain.MenuTopping
	if err := row.Scan(
		&topping.ID,
		&topping.Name,
		&topping.Price,
		&topping.MaximumAmount,
		&topping.IsActive,
		&topping.CreatedAt,
		&topping.UpdatedAt,
	); err != nil {
		return domain.MenuTopping{}, err
	}
	topping.CreatedAt = topping.CreatedAt.UTC()
	topping.UpdatedAt = topping.UpdatedAt.UTC()
	return topping, nil
}

const productToppingColumns = `id, product_id, topping_id, quantity, created_at`

// ProductToppingRepository manages rows of the product_topping join table. The
// product_topping_pair_key constraint rejects a duplicate pair.
type ProductToppingRepository struct {
	db *sql.DB
}

var _ repositories.ProductToppingRepository = (*ProductToppingRepository)(nil)

// NewProductToppingRepository constructs a PostgreSQL-backed product topping repository.
func NewProductToppingRepository(db *sql.DB) (*ProductToppingRepository, error) {
	if db == nil {
		return nil, errors.New("product topping repository requires database")
	}
	return &ProductToppingRepository{db: db}, nil
}

func (r *ProductToppingRepository) Insert(ctx context.Context, link domain.ProductTopping) error {
	query := `INSERT INTO product_topping (` + productToppingColumns + `) VALUES ($1, $2, $3, $4, $5)`
	_, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, query,
		link.ID,
		link.ProductID,
		link.ToppingID,
		link.Quantity,
		link.CreatedAt.UTC(),
	)
	return ppostgres.WrapError("product_topping.insert", err)
}

func (r *ProductToppingRepository) Delete(ctx context.Context, linkID string) error {
	result, err := ppostgres.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM product_topping WHERE id = $1`, linkID)
	if err != nil {
		return ppostgres.WrapError("product_topping.delete", err)
	}
	return requireAffected("product_topping.delete", result)
}

func (r *ProductToppingRepository) FindByPair(ctx context.Context, productID, toppingID string) (domain.ProductTopping, error) {
	query := `SELECT ` + productToppingColumns + ` FROM product_topping WHERE product_id = $1 AND topping_id = $2`
	link, err := scanProductTopping(ppostgres.Conn(ctx, r.db).QueryRowContext(ctx, query, productID, toppingID))
	if err != nil {
		return domain.ProductTopping{}, ppostgres.WrapError("product_topping.find", err)
	}
	return link, nil
}

func (r *ProductToppingRepository) ListByProduct(ctx context.Context, productID string) ([]domain.ProductTopping, error) {
	query := `SELECT ` + productToppingColumns + ` FROM product_topping WHERE product_id = $1 ORDER BY created_at, id`
	rows, err := ppostgres.Conn(ctx, r.db).QueryContext(ctx, query, productID)
	if err != nil {
		return nil, ppostgres.WrapError("product_topping.list", err)
	}
	defer rows.Close()

	var links []domain.ProductTopping
	for rows.Next() {
		link, err := scanProductTopping(rows)
		if err != nil {
			return nil, ppostgres.WrapError("product_topping.list", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("product_topping.list", err)
	}
	return links, nil
}

func scanProductTopping(row scanner) (domain.ProductTopping, error) {
	var link domain.ProductTopping
	if err := row.Scan(&link.ID, &link.ProductID, &link.ToppingID, &link.Quantity, &link.CreatedAt); err != nil {
		return domain.ProductTopping{}, err
	}
	link.CreatedAt = link.CreatedAt.UTC()
	return link, nil
}

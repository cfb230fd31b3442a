package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	ppostgres "github.com/restaurant-ordering/api/internal/platform/postgres"
	"github.com/restaurant-ordering/api/internal/repositories"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	return ppostgres.Migrate(db, migrations, "migrations")
}

// Registry bundles the PostgreSQL repositories behind repositories.Registry.
type Registry struct {
	*ppostgres.UnitOfWork

	db              *sql.DB
	orders          *OrderRepository
	orderProducts   *OrderProductRepository
	products        *ProductRepository
	toppings        *ToppingRepository
	productToppings *ProductToppingRepository
	users           *UserRepository
	health          repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every PostgreSQL repository against db.
func NewRegistry(db *sql.DB, health repositories.HealthRepository) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry requires database")
	}
	orders, err := NewOrderRepository(db)
	if err != nil {
		return nil, err
	}
	orderProducts, err := NewOrderProductRepository(db)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(db)
	if err != nil {
		return nil, err
	}
	toppings, err := NewToppingRepository(db)
	if err != nil {
		return nil, err
	}
	productToppings, err := NewProductToppingRepository(db)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(db)
	if err != nil {
		return nil, err
	}
	return &Registry{
		UnitOfWork:      ppostgres.NewUnitOfWork(db, nil),
		db:              db,
		orders:          orders,
		orderProducts:   orderProducts,
		products:        products,
		toppings:        toppings,
		productToppings: productToppings,
		users:           users,
		health:          health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository                   { return r.orders }
func (r *Registry) OrderProducts() repositories.OrderProductRepository     { return r.orderProducts }
func (r *Registry) Products() repositories.ProductRepository               { return r.products }
func (r *Registry) Toppings() repositories.ToppingRepository               { return r.toppings }
func (r *Registry) ProductToppings() repositories.ProductToppingRepository { return r.productToppings }
func (r *Registry) Users() repositories.UserRepository                     { return r.users }
func (r *Registry) Health() repositories.HealthRepository                  { return r.health }

// Close closes the connection pool.
func (r *Registry) Close(context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

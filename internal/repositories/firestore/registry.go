package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/restaurant-ordering/api/internal/platform/firestore"
	"github.com/restaurant-ordering/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	*pfirestore.UnitOfWork

	provider        *pfirestore.Provider
	orders          *OrderRepository
	orderProducts   *OrderProductRepository
	products        *ProductRepository
	toppings        *ToppingRepository
	productToppings *ProductToppingRepository
	users           *UserRepository
	health          repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository, txOpts ...pfirestore.TxOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	orderProducts, err := NewOrderProductRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	toppings, err := NewToppingRepository(provider)
	if err != nil {
		return nil, err
	}
	productToppings, err := NewProductToppingRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		UnitOfWork:      pfirestore.NewUnitOfWork(provider, txOpts...),
		provider:        provider,
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

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

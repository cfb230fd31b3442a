package repositories

import (
	"context"
	"time"

	domain "github.com/restaurant-ordering/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderProducts() OrderProductRepository
	Products() ProductRepository
	Toppings() ToppingRepository
	ProductToppings() ProductToppingRepository
	Users() UserRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// DetailedError is implemented by repository errors that can expose a caller-safe explanation,
// such as the constraint that rejected a write.
type DetailedError interface {
	Detail() string
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories called with the context passed to fn join the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers. Associations live in OrderProductRepository.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.OffsetPage[domain.Order], error)
	ListByDateRange(ctx context.Context, filter OrderRangeFilter) ([]domain.Order, error)
}

// OrderProductRepository manages the (order, product) association rows.
type OrderProductRepository interface {
	// Insert adds one row per product id. A duplicate pair is a conflict.
	Insert(ctx context.Context, orderID string, productIDs []string) error
	// Replace makes productIDs the complete association set of the order.
	Replace(ctx context.Context, orderID string, productIDs []string) error
	DeleteByOrder(ctx context.Context, orderID string) error
	ListByOrder(ctx context.Context, orderID string) ([]string, error)
	ListByOrders(ctx context.Context, orderIDs []string) (map[string][]string, error)
}

// ProductRepository persists catalog products.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindByIDs returns the products that exist among ids; missing ids are skipped.
	FindByIDs(ctx context.Context, productIDs []string) ([]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.OffsetPage[domain.Product], error)
}

// ToppingRepository persists the topping catalog. Names are unique; a duplicate is a conflict.
type ToppingRepository interface {
	Insert(ctx context.Context, topping domain.MenuTopping) error
	Update(ctx context.Context, topping domain.MenuTopping) error
	FindByID(ctx context.Context, toppingID string) (domain.MenuTopping, error)
	FindByName(ctx context.Context, name string) (domain.MenuTopping, error)
	// FindByIDs returns the toppings that exist among ids; missing ids are skipped.
	FindByIDs(ctx context.Context, toppingIDs []string) ([]domain.MenuTopping, error)
	List(ctx context.Context, filter ToppingListFilter) (domain.OffsetPage[domain.MenuTopping], error)
}

// ProductToppingRepository manages the (product, topping) join rows.
type ProductToppingRepository interface {
	// Insert adds the row. A second row for the same pair is a conflict.
	Insert(ctx context.Context, link domain.ProductTopping) error
	Delete(ctx context.Context, linkID string) error
	FindByPair(ctx context.Context, productID, toppingID string) (domain.ProductTopping, error)
	ListByProduct(ctx context.Context, productID string) ([]domain.ProductTopping, error)
}

// UserRepository persists order owner profiles.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	// Upsert creates an active profile or refreshes contact fields. It never changes IsActive.
	Upsert(ctx context.Context, user domain.User) error
	// Update overwrites an existing profile, including IsActive.
	Update(ctx context.Context, user domain.User) error
	List(ctx context.Context, filter UserListFilter) (domain.OffsetPage[domain.User], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// OrderListFilter scopes paginated order listings.
type OrderListFilter struct {
	UserID     string
	ActiveOnly bool
	Pagination domain.OffsetPagination
}

// OrderRangeFilter selects orders whose date falls inside an inclusive range.
type OrderRangeFilter struct {
	DateRange domain.RangeQuery[time.Time]
	States    []domain.OrderState
}

// ProductListFilter scopes paginated product listings.
type ProductListFilter struct {
	ActiveOnly bool
	Category   string
	Pagination domain.OffsetPagination
}

// ToppingListFilter scopes paginated topping listings.
type ToppingListFilter struct {
	ActiveOnly bool
	Pagination domain.OffsetPagination
}

// UserListFilter scopes paginated user listings.
type UserListFilter struct {
	ActiveOnly bool
	Pagination domain.OffsetPagination
}

package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderState         = domain.OrderState
	Topping            = domain.Topping
	LineItem           = domain.LineItem
	Product            = domain.Product
	MenuTopping        = domain.MenuTopping
	ProductTopping     = domain.ProductTopping
	User               = domain.User
	Principal          = domain.Principal
	OffsetPagination   = domain.OffsetPagination
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService owns the order lifecycle: creation, reads, patches, cancellation, activation and
// state progression.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	FindAll(ctx context.Context, pager OffsetPagination) (domain.OffsetPage[Order], error)
	FindByUser(ctx context.Context, userID string, pager OffsetPagination) (domain.OffsetPage[Order], error)
	FindOne(ctx context.Context, orderID string, principal *Principal) (Order, error)
	Update(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	Remove(ctx context.Context, cmd RemoveOrderCommand) (RemoveOrderResult, error)
	Erase(ctx context.Context, cmd RemoveOrderCommand) error
	ActivateOrder(ctx context.Context, orderID string) (Order, error)
	Advance(ctx context.Context, cmd AdvanceOrderCommand) (Order, error)
	FindByDateRange(ctx context.Context, start, end time.Time, states ...OrderState) ([]Order, error)
}

// ReportService aggregates completed orders into sales figures.
type ReportService interface {
	Location() *time.Location
	SalesReport(ctx context.Context, start, end time.Time) (SalesReport, error)
	DailySalesReport(ctx context.Context, ref time.Time) (SalesReport, error)
	WeeklySalesReport(ctx context.Context, ref time.Time) (SalesReport, error)
	MonthlySalesReport(ctx context.Context, ref time.Time) (SalesReport, error)
	TopSellingProducts(ctx context.Context, start, end time.Time, limit int) ([]ProductSales, error)
	DailyTopSellingProducts(ctx context.Context, ref time.Time, limit int) ([]ProductSales, error)
	WeeklyTopSellingProducts(ctx context.Context, ref time.Time, limit int) ([]ProductSales, error)
	MonthlyTopSellingProducts(ctx context.Context, ref time.Time, limit int) ([]ProductSales, error)
	SalesTrends(ctx context.Context, start, end time.Time, groupBy TrendGrouping) ([]SalesTrend, error)
}

// CatalogService manages products and resolves them for orders.
type CatalogService interface {
	// Resolve returns the active products for ids in the given order, failing with
	// ErrProductNotFound when any id is unknown or inactive.
	Resolve(ctx context.Context, productIDs []string) ([]Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.OffsetPage[Product], error)
	GetProduct(ctx context.Context, productID string, includeInactive bool) (Product, error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	DeactivateProduct(ctx context.Context, productID string) (Product, error)
}

// ToppingService manages the topping catalog and which toppings each product offers.
type ToppingService interface {
	ListToppings(ctx context.Context, filter ToppingListFilter) (domain.OffsetPage[MenuTopping], error)
	// GetTopping looks a topping up by name. Inactive toppings are not found.
	GetTopping(ctx context.Context, name string) (MenuTopping, error)
	CreateTopping(ctx context.Context, cmd UpsertToppingCommand) (MenuTopping, error)
	UpdateTopping(ctx context.Context, cmd UpsertToppingCommand) (MenuTopping, error)
	DeactivateTopping(ctx context.Context, name string) (MenuTopping, error)
	AttachTopping(ctx context.Context, cmd AttachToppingCommand) (ProductTopping, error)
	DetachTopping(ctx context.Context, linkID string) error
	ListProductToppings(ctx context.Context, productID string) ([]ProductTopping, error)
}

// UserService manages order owner profiles.
type UserService interface {
	// GetProfile returns the profile of userID to the user themselves or an admin. A caller reading
	// their own missing profile gets one seeded from their identity.
	GetProfile(ctx context.Context, userID string, principal *Principal) (User, error)
	ListUsers(ctx context.Context, filter UserListFilter) (domain.OffsetPage[User], error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error)
	SetUserActive(ctx context.Context, cmd SetUserActiveCommand) (User, error)
}

// PaymentActivationService turns confirmed payments into active orders.
type PaymentActivationService interface {
	HandlePaymentConfirmation(ctx context.Context, cmd PaymentConfirmationCommand) (PaymentActivationResult, error)
}

// SystemService exposes operational metadata such as health reports.
type SystemService interface {
	Liveness(ctx context.Context) SystemHealthReport
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type          string
	OrderID       string
	UserID        string
	PreviousState string
	CurrentState  string
	ActorID       string
	OccurredAt    time.Time
	Metadata      map[string]any
}

// CreateOrderCommand carries the caller-supplied fields of a new order. Totals are always computed.
type CreateOrderCommand struct {
	// OrderID is optional; when set it replaces the generated id so a repeated command conflicts
	// instead of placing a second order.
	OrderID    string
	ProductIDs []string
	Address    string
	State      OrderState
	Toppings   []Topping
	Items      []LineItem
	Active     bool
	Principal  *Principal
}

// OrderPatch lists the fields of a partial update; nil means unchanged.
type OrderPatch struct {
	State      *OrderState
	Address    *string
	ProductIDs *[]string
	Toppings   *[]Topping
	Items      *[]LineItem
}

// Fields reports which patch fields are present.
func (p OrderPatch) Fields() OrderPatchFields {
	return OrderPatchFields{
		State:      p.State != nil,
		Address:    p.Address != nil,
		ProductIDs: p.ProductIDs != nil,
		Toppings:   p.Toppings != nil,
		Items:      p.Items != nil,
	}
}

// UpdateOrderCommand patches an existing order on behalf of a principal.
type UpdateOrderCommand struct {
	OrderID   string
	Patch     OrderPatch
	Principal *Principal
}

// RemoveOrderCommand cancels or erases an order on behalf of a principal.
type RemoveOrderCommand struct {
	OrderID   string
	Principal *Principal
}

// RemoveOrderResult acknowledges a cancellation.
type RemoveOrderResult struct {
	OrderID string
	Message string
}

// AdvanceOrderCommand moves an order one step along its lifecycle.
type AdvanceOrderCommand struct {
	OrderID   string
	Principal *Principal
}

// SalesReport summarises counted orders inside a date range.
type SalesReport struct {
	StartDate         time.Time
	EndDate           time.Time
	TotalSales        decimal.Decimal
	TotalOrders       int
	AverageOrderValue decimal.Decimal
	Orders            []Order
}

// ProductSales ranks a product by the number of counted orders containing it.
type ProductSales struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Count     int
	Revenue   decimal.Decimal
}

// TrendGrouping selects the bucket size of a sales trend.
type TrendGrouping string

const (
	TrendGroupingDay   TrendGrouping = "day"
	TrendGroupingWeek  TrendGrouping = "week"
	TrendGroupingMonth TrendGrouping = "month"
)

// SalesTrend is one bucket of a sales trend.
type SalesTrend struct {
	Period      string
	TotalSales  decimal.Decimal
	TotalOrders int
}

// ProductListFilter scopes product listings.
type ProductListFilter struct {
	IncludeInactive bool
	Category        string
	Pagination      OffsetPagination
}

// UpsertProductCommand creates or patches a product. Nil fields are left unchanged on update.
type UpsertProductCommand struct {
	ProductID   string
	Name        *string
	Description *string
	Category    *string
	Price       *decimal.Decimal
	IsActive    *bool
}

// ToppingListFilter scopes topping listings.
type ToppingListFilter struct {
	IncludeInactive bool
	Pagination      OffsetPagination
}

// UpsertToppingCommand creates or patches a topping. Name is the new topping's name on create
// and identifies the topping on update, where NewName renames it. Nil fields are left unchanged.
type UpsertToppingCommand struct {
	Name          string
	NewName       *string
	Price         *decimal.Decimal
	MaximumAmount *int
	IsActive      *bool
}

// AttachToppingCommand offers a topping on a product.
type AttachToppingCommand struct {
	ProductID string
	ToppingID string
	Quantity  int
}

// UserListFilter scopes user listings.
type UserListFilter struct {
	IncludeInactive bool
	Pagination      OffsetPagination
}

// UpdateProfileCommand patches a profile on behalf of a principal. Nil means unchanged.
type UpdateProfileCommand struct {
	UserID      string
	DisplayName *string
	Principal   *Principal
}

// SetUserActiveCommand activates or deactivates a user.
type SetUserActiveCommand struct {
	UserID    string
	IsActive  bool
	Reason    string
	Principal *Principal
}

// PaymentConfirmationCommand carries a verified payment provider event.
type PaymentConfirmationCommand struct {
	Provider  string
	EventID   string
	EventType string
	// PaymentID identifies the underlying payment. Every event about one payment carries the same id.
	PaymentID string
	Metadata  map[string]string
}

// PaymentActivationOutcome describes what a payment confirmation did.
type PaymentActivationOutcome string

const (
	PaymentActivationActivated PaymentActivationOutcome = "activated"
	PaymentActivationCreated   PaymentActivationOutcome = "created"
	PaymentActivationIgnored   PaymentActivationOutcome = "ignored"
)

// PaymentActivationResult reports the outcome and the affected order, if any.
type PaymentActivationResult struct {
	Outcome PaymentActivationOutcome
	Order   *Order
}

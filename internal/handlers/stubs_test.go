package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/payments"
	"github.com/restaurant-ordering/api/internal/platform/auth"
	"github.com/restaurant-ordering/api/internal/services"
)

var errNotImplemented = errors.New("not implemented")

func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	findAllFn    func(context.Context, services.OffsetPagination) (domain.OffsetPage[services.Order], error)
	findByUserFn func(context.Context, string, services.OffsetPagination) (domain.OffsetPage[services.Order], error)
	findOneFn    func(context.Context, string, *services.Principal) (services.Order, error)
	updateFn     func(context.Context, services.UpdateOrderCommand) (services.Order, error)
	removeFn     func(context.Context, services.RemoveOrderCommand) (services.RemoveOrderResult, error)
	eraseFn      func(context.Context, services.RemoveOrderCommand) error
	activateFn   func(context.Context, string) (services.Order, error)
	advanceFn    func(context.Context, services.AdvanceOrderCommand) (services.Order, error)
	rangeFn      func(context.Context, time.Time, time.Time, ...services.OrderState) ([]services.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) FindAll(ctx context.Context, pager services.OffsetPagination) (domain.OffsetPage[services.Order], error) {
	if s.findAllFn != nil {
		return s.findAllFn(ctx, pager)
	}
	return domain.OffsetPage[services.Order]{}, errNotImplemented
}

func (s *stubOrderService) FindByUser(ctx context.Context, userID string, pager services.OffsetPagination) (domain.OffsetPage[services.Order], error) {
	if s.findByUserFn != nil {
		return s.findByUserFn(ctx, userID, pager)
	}
	return domain.OffsetPage[services.Order]{}, errNotImplemented
}

func (s *stubOrderService) FindOne(ctx context.Context, orderID string, principal *services.Principal) (services.Order, error) {
	if s.findOneFn != nil {
		return s.findOneFn(ctx, orderID, principal)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) Update(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) Remove(ctx context.Context, cmd services.RemoveOrderCommand) (services.RemoveOrderResult, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return services.RemoveOrderResult{}, errNotImplemented
}

func (s *stubOrderService) Erase(ctx context.Context, cmd services.RemoveOrderCommand) error {
	if s.eraseFn != nil {
		return s.eraseFn(ctx, cmd)
	}
	return errNotImplemented
}

func (s *stubOrderService) ActivateOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.activateFn != nil {
		return s.activateFn(ctx, orderID)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) Advance(ctx context.Context, cmd services.AdvanceOrderCommand) (services.Order, error) {
	if s.advanceFn != nil {
		return s.advanceFn(ctx, cmd)
	}
	return services.Order{}, errNotImplemented
}

func (s *stubOrderService) FindByDateRange(ctx context.Context, start, end time.Time, states ...services.OrderState) ([]services.Order, error) {
	if s.rangeFn != nil {
		return s.rangeFn(ctx, start, end, states...)
	}
	return nil, errNotImplemented
}

type stubCatalogService struct {
	listFn       func(context.Context, services.ProductListFilter) (domain.OffsetPage[services.Product], error)
	getFn        func(context.Context, string, bool) (services.Product, error)
	createFn     func(context.Context, services.UpsertProductCommand) (services.Product, error)
	updateFn     func(context.Context, services.UpsertProductCommand) (services.Product, error)
	deactivateFn func(context.Context, string) (services.Product, error)
}

func (s *stubCatalogService) Resolve(context.Context, []string) ([]services.Product, error) {
	return nil, errNotImplemented
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.OffsetPage[services.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.OffsetPage[services.Product]{}, errNotImplemented
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string, includeInactive bool) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID, includeInactive)
	}
	return services.Product{}, errNotImplemented
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Product{}, errNotImplemented
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Product{}, errNotImplemented
}

func (s *stubCatalogService) DeactivateProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.deactivateFn != nil {
		return s.deactivateFn(ctx, productID)
	}
	return services.Product{}, errNotImplemented
}

type stubToppingService struct {
	listFn       func(context.Context, services.ToppingListFilter) (domain.OffsetPage[services.MenuTopping], error)
	getFn        func(context.Context, string) (services.MenuTopping, error)
	createFn     func(context.Context, services.UpsertToppingCommand) (services.MenuTopping, error)
	updateFn     func(context.Context, services.UpsertToppingCommand) (services.MenuTopping, error)
	deactivateFn func(context.Context, string) (services.MenuTopping, error)
	attachFn     func(context.Context, services.AttachToppingCommand) (services.ProductTopping, error)
	detachFn     func(context.Context, string) error
	byProductFn  func(context.Context, string) ([]services.ProductTopping, error)
}

func (s *stubToppingService) ListToppings(ctx context.Context, filter services.ToppingListFilter) (domain.OffsetPage[services.MenuTopping], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.OffsetPage[services.MenuTopping]{}, errNotImplemented
}

func (s *stubToppingService) GetTopping(ctx context.Context, name string) (services.MenuTopping, error) {
	if s.getFn != nil {
		return s.getFn(ctx, name)
	}
	return services.MenuTopping{}, errNotImplemented
}

func (s *stubToppingService) CreateTopping(ctx context.Context, cmd services.UpsertToppingCommand) (services.MenuTopping, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.MenuTopping{}, errNotImplemented
}

func (s *stubToppingService) UpdateTopping(ctx context.Context, cmd services.UpsertToppingCommand) (services.MenuTopping, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.MenuTopping{}, errNotImplemented
}

func (s *stubToppingService) DeactivateTopping(ctx context.Context, name string) (services.MenuTopping, error) {
	if s.deactivateFn != nil {
		return s.deactivateFn(ctx, name)
	}
	return services.MenuTopping{}, errNotImplemented
}

func (s *stubToppingService) AttachTopping(ctx context.Context, cmd services.AttachToppingCommand) (services.ProductTopping, error) {
	if s.attachFn != nil {
		return s.attachFn(ctx, cmd)
	}
	return services.ProductTopping{}, errNotImplemented
}

func (s *stubToppingService) DetachTopping(ctx context.Context, linkID string) error {
	if s.detachFn != nil {
		return s.detachFn(ctx, linkID)
	}
	return errNotImplemented
}

func (s *stubToppingService) ListProductToppings(ctx context.Context, productID string) ([]services.ProductTopping, error) {
	if s.byProductFn != nil {
		return s.byProductFn(ctx, productID)
	}
	return nil, errNotImplemented
}

type stubUserService struct {
	getFn       func(context.Context, string, *services.Principal) (services.User, error)
	listFn      func(context.Context, services.UserListFilter) (domain.OffsetPage[services.User], error)
	updateFn    func(context.Context, services.UpdateProfileCommand) (services.User, error)
	setActiveFn func(context.Context, services.SetUserActiveCommand) (services.User, error)
}

func (s *stubUserService) GetProfile(ctx context.Context, userID string, principal *services.Principal) (services.User, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, principal)
	}
	return services.User{}, errNotImplemented
}

func (s *stubUserService) ListUsers(ctx context.Context, filter services.UserListFilter) (domain.OffsetPage[services.User], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.OffsetPage[services.User]{}, errNotImplemented
}

func (s *stubUserService) UpdateProfile(ctx context.Context, cmd services.UpdateProfileCommand) (services.User, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.User{}, errNotImplemented
}

func (s *stubUserService) SetUserActive(ctx context.Context, cmd services.SetUserActiveCommand) (services.User, error) {
	if s.setActiveFn != nil {
		return s.setActiveFn(ctx, cmd)
	}
	return services.User{}, errNotImplemented
}

type stubReportService struct {
	location  *time.Location
	salesFn   func(context.Context, time.Time, time.Time) (services.SalesReport, error)
	dailyFn   func(context.Context, time.Time) (services.SalesReport, error)
	topFn     func(context.Context, time.Time, time.Time, int) ([]services.ProductSales, error)
	topWeekFn func(context.Context, time.Time, int) ([]services.ProductSales, error)
	trendsFn  func(context.Context, time.Time, time.Time, services.TrendGrouping) ([]services.SalesTrend, error)
}

func (s *stubReportService) Location() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

func (s *stubReportService) SalesReport(ctx context.Context, start, end time.Time) (services.SalesReport, error) {
	if s.salesFn != nil {
		return s.salesFn(ctx, start, end)
	}
	return services.SalesReport{}, errNotImplemented
}

func (s *stubReportService) DailySalesReport(ctx context.Context, ref time.Time) (services.SalesReport, error) {
	if s.dailyFn != nil {
		return s.dailyFn(ctx, ref)
	}
	return services.SalesReport{}, errNotImplemented
}

func (s *stubReportService) WeeklySalesReport(context.Context, time.Time) (services.SalesReport, error) {
	return services.SalesReport{}, errNotImplemented
}

func (s *stubReportService) MonthlySalesReport(context.Context, time.Time) (services.SalesReport, error) {
	return services.SalesReport{}, errNotImplemented
}

func (s *stubReportService) TopSellingProducts(ctx context.Context, start, end time.Time, limit int) ([]services.ProductSales, error) {
	if s.topFn != nil {
		return s.topFn(ctx, start, end, limit)
	}
	return nil, errNotImplemented
}

func (s *stubReportService) DailyTopSellingProducts(context.Context, time.Time, int) ([]services.ProductSales, error) {
	return nil, errNotImplemented
}

func (s *stubReportService) WeeklyTopSellingProducts(ctx context.Context, ref time.Time, limit int) ([]services.ProductSales, error) {
	if s.topWeekFn != nil {
		return s.topWeekFn(ctx, ref, limit)
	}
	return nil, errNotImplemented
}

func (s *stubReportService) MonthlyTopSellingProducts(context.Context, time.Time, int) ([]services.ProductSales, error) {
	return nil, errNotImplemented
}

func (s *stubReportService) SalesTrends(ctx context.Context, start, end time.Time, groupBy services.TrendGrouping) ([]services.SalesTrend, error) {
	if s.trendsFn != nil {
		return s.trendsFn(ctx, start, end, groupBy)
	}
	return nil, errNotImplemented
}

type stubActivationService struct {
	handleFn func(context.Context, services.PaymentConfirmationCommand) (services.PaymentActivationResult, error)
}

func (s *stubActivationService) HandlePaymentConfirmation(ctx context.Context, cmd services.PaymentConfirmationCommand) (services.PaymentActivationResult, error) {
	if s.handleFn != nil {
		return s.handleFn(ctx, cmd)
	}
	return services.PaymentActivationResult{}, errNotImplemented
}

type stubVerifier struct {
	verifyFn func(context.Context, []byte, string) (payments.Event, error)
}

func (s *stubVerifier) Verify(ctx context.Context, payload []byte, signature string) (payments.Event, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, payload, signature)
	}
	return payments.Event{}, errNotImplemented
}

type stubSystemService struct {
	liveness services.SystemHealthReport
	report   services.SystemHealthReport
	err      error
}

func (s *stubSystemService) Liveness(context.Context) services.SystemHealthReport {
	return s.liveness
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

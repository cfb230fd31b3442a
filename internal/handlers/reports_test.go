package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/services"
)

func newReportRouter(svc services.ReportService, opts ...ReportHandlersOption) chi.Router {
	router := chi.NewRouter()
	router.Route("/reports", NewReportHandlers(nil, svc, opts...).Routes)
	return router
}

func TestReportHandlersRequireAdmin(t *testing.T) {
	router := newReportRouter(&stubReportService{})

	for _, roles := range [][]string{{domain.RoleCustomer}, {domain.RoleDelivery}} {
		req := withIdentity(httptest.NewRequest(http.MethodGet, "/reports/sales?startDate=2023-05-01&endDate=2023-05-02", nil), "user-1", roles...)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%v: expected 403, got %d", roles, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/reports/sales", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}
}

func TestReportHandlersSalesReportDateRange(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	var gotStart, gotEnd time.Time
	svc := &stubReportService{
		location: loc,
		salesFn: func(_ context.Context, start, end time.Time) (services.SalesReport, error) {
			gotStart, gotEnd = start, end
			order := sampleOrder()
			order.State = domain.OrderStateDelivered
			return services.SalesReport{
				StartDate:         start,
				EndDate:           end,
				TotalSales:        decimal.RequireFromString("15"),
				TotalOrders:       1,
				AverageOrderValue: decimal.RequireFromString("15"),
				Orders:            []services.Order{order},
			}, nil
		},
	}
	router := newReportRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/reports/sales?startDate=2023-05-01&endDate=2023-05-02", nil), "admin-1", domain.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if want := time.Date(2023, 5, 1, 0, 0, 0, 0, loc); !gotStart.Equal(want) {
		t.Fatalf("expected start %v, got %v", want, gotStart)
	}
	if want := time.Date(2023, 5, 2, 23, 59, 59, 999999999, loc); !gotEnd.Equal(want) {
		t.Fatalf("expected inclusive end %v, got %v", want, gotEnd)
	}

	var resp salesReportPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalSales != "15.00" || resp.AverageOrderValue != "15.00" || resp.TotalOrders != 1 {
		t.Fatalf("unexpected totals %+v", resp)
	}
	if resp.StartDate != "2023-05-01T00:00:00-03:00" {
		t.Fatalf("expected start in report location, got %s", resp.StartDate)
	}
	if len(resp.Orders) != 1 || resp.Orders[0].State != "delivered" {
		t.Fatalf("unexpected orders %+v", resp.Orders)
	}
}

func TestReportHandlersSalesReportTimestampEnd(t *testing.T) {
	var gotEnd time.Time
	svc := &stubReportService{
		salesFn: func(_ context.Context, start, end time.Time) (services.SalesReport, error) {
			gotEnd = end
			return services.SalesReport{StartDate: start, EndDate: end}, nil
		},
	}
	router := newReportRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/reports/sales?startDate=2023-05-01&endDate=2023-05-02T10:00:00Z", nil), "admin-1", domain.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if want := time.Date(2023, 5, 2, 10, 0, 0, 0, time.UTC); !gotEnd.Equal(want) {
		t.Fatalf("expected exact timestamp end, got %v", gotEnd)
	}
}

func TestReportHandlersRejectsInvalidQuery(t *testing.T) {
	svc := &stubReportService{
		salesFn: func(context.Context, time.Time, time.Time) (services.SalesReport, error) {
			return services.SalesReport{}, fmt.Errorf("%w: start must not be after end", services.ErrReportInvalidInput)
		},
		topFn: func(context.Context, time.Time, time.Time, int) ([]services.ProductSales, error) {
			t.Fatalf("service must not be called with a bad limit")
			return nil, nil
		},
	}
	router := newReportRouter(svc)

	for _, path := range []string{
		"/reports/sales?endDate=2023-05-02",
		"/reports/sales?startDate=05/01/2023&endDate=2023-05-02",
		"/reports/sales?startDate=2023-05-03&endDate=2023-05-02",
		"/reports/products/top-selling?startDate=2023-05-01&endDate=2023-05-02&limit=-1",
		"/reports/products/top-selling?startDate=2023-05-01&endDate=2023-05-02&limit=ten",
		"/reports/sales/daily?date=yesterday",
	} {
		req := withIdentity(httptest.NewRequest(http.MethodGet, path, nil), "admin-1", domain.RoleAdmin)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rr.Code)
		}
		if body := decodeBody(t, rr); body["error"] != "invalid_request" {
			t.Fatalf("%s: unexpected code %v", path, body["error"])
		}
	}
}

func TestReportHandlersPeriodDefaultsToClock(t *testing.T) {
	now := time.Date(2023, 5, 10, 15, 30, 0, 0, time.UTC)
	var dailyRef, weeklyRef time.Time
	var weeklyLimit int
	svc := &stubReportService{
		dailyFn: func(_ context.Context, ref time.Time) (services.SalesReport, error) {
			dailyRef = ref
			return services.SalesReport{StartDate: ref, EndDate: ref}, nil
		},
		topWeekFn: func(_ context.Context, ref time.Time, limit int) ([]services.ProductSales, error) {
			weeklyRef, weeklyLimit = ref, limit
			return []services.ProductSales{
				{ProductID: "P1", Name: "Margherita", Price: decimal.RequireFromString("10"), Count: 3, Revenue: decimal.RequireFromString("30")},
			}, nil
		},
	}
	router := newReportRouter(svc, WithReportClock(func() time.Time { return now }))

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/reports/sales/daily", nil), "admin-1", domain.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !dailyRef.Equal(now) {
		t.Fatalf("expected clock reference, got %v", dailyRef)
	}

	req = withIdentity(httptest.NewRequest(http.MethodGet, "/reports/products/top-selling/weekly?date=2023-04-03&limit=5", nil), "admin-1", domain.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if want := time.Date(2023, 4, 3, 0, 0, 0, 0, time.UTC); !weeklyRef.Equal(want) || weeklyLimit != 5 {
		t.Fatalf("unexpected reference %v limit %d", weeklyRef, weeklyLimit)
	}
	var ranked []productSalesPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &ranked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Count != 3 || ranked[0].Revenue != "30.00" {
		t.Fatalf("unexpected ranking %+v", ranked)
	}
}

func TestReportHandlersSalesTrendsGrouping(t *testing.T) {
	var grouping services.TrendGrouping
	svc := &stubReportService{
		trendsFn: func(_ context.Context, _, _ time.Time, groupBy services.TrendGrouping) ([]services.SalesTrend, error) {
			grouping = groupBy
			if groupBy == "year" {
				return nil, fmt.Errorf("%w: unsupported groupBy %q", services.ErrReportInvalidInput, groupBy)
			}
			return []services.SalesTrend{{Period: "2023-05", TotalSales: decimal.RequireFromString("42.5"), TotalOrders: 4}}, nil
		},
	}
	router := newReportRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/reports/sales/trends?startDate=2023-05-01&endDate=2023-05-31", nil), "admin-1", domain.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || grouping != services.TrendGroupingDay {
		t.Fatalf("expected default day grouping, got %d %q", rr.Code, grouping)
	}

	req = withIdentity(httptest.NewRequest(http.MethodGet, "/reports/sales/trends?startDate=2023-05-01&endDate=2023-05-31&groupBy=Month", nil), "admin-1", domain.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || grouping != services.TrendGroupingMonth {
		t.Fatalf("expected month grouping, got %d %q", rr.Code, grouping)
	}
	var trends []salesTrendPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &trends); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(trends) != 1 || trends[0].TotalSales != "42.50" || trends[0].TotalOrders != 4 {
		t.Fatalf("unexpected trends %+v", trends)
	}

	req = withIdentity(httptest.NewRequest(http.MethodGet, "/reports/sales/trends?startDate=2023-05-01&endDate=2023-05-31&groupBy=year", nil), "admin-1", domain.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported grouping, got %d", rr.Code)
	}
}

func TestReportHandlersStoreUnavailable(t *testing.T) {
	svc := &stubReportService{
		salesFn: func(context.Context, time.Time, time.Time) (services.SalesReport, error) {
			return services.SalesReport{}, fmt.Errorf("%w: timeout", services.ErrOrderUnavailable)
		},
	}
	router := newReportRouter(svc)

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/reports/sales?startDate=2023-05-01&endDate=2023-05-02", nil), "admin-1", domain.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/restaurant-ordering/api/internal/domain"
)

const (
	defaultTopSellingLimit = 10
	maxTopSellingLimit     = 100
)

// ErrReportInvalidInput indicates an invalid date range, limit or grouping.
var ErrReportInvalidInput = errors.New("report: invalid input")

// ReportServiceDeps bundles collaborators of the report service.
type ReportServiceDeps struct {
	Orders   OrderService
	Location *time.Location
}

type reportService struct {
	orders   OrderService
	location *time.Location
}

var _ ReportService = (*reportService)(nil)

// NewReportService constructs a ReportService. Calendar boundaries use Location, UTC when nil.
func NewReportService(deps ReportServiceDeps) (ReportService, error) {
	if deps.Orders == nil {
		return nil, errors.New("report service: order service is required")
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &reportService{orders: deps.Orders, location: loc}, nil
}

func (s *reportService) Location() *time.Location {
	return s.location
}

func (s *reportService) SalesReport(ctx context.Context, start, end time.Time) (SalesReport, error) {
	orders, err := s.countedOrders(ctx, start, end)
	if err != nil {
		return SalesReport{}, err
	}

	total := decimal.Zero
	for _, order := range orders {
		total = total.Add(order.Total)
	}
	average := decimal.Zero
	if len(orders) > 0 {
		average = total.Div(decimal.NewFromInt(int64(len(orders)))).Round(2)
	}
	return SalesReport{
		StartDate:         start.In(s.location),
		EndDate:           end.In(s.location),
		TotalSales:        total,
		TotalOrders:       len(orders),
		AverageOrderValue: average,
		Orders:            orders,
	}, nil
}

func (s *reportService) DailySalesReport(ctx context.Context, ref time.Time) (SalesReport, error) {
	start, end := s.dayBounds(ref)
	return s.SalesReport(ctx, start, end)
}

func (s *reportService) WeeklySalesReport(ctx context.Context, ref time.Time) (SalesReport, error) {
	start, end := s.weekBounds(ref)
	return s.SalesReport(ctx, start, end)
}

func (s *reportService) MonthlySalesReport(ctx context.Context, ref time.Time) (SalesReport, error) {
	start, end := s.monthBounds(ref)
	return s.SalesReport(ctx, start, end)
}

func (s *reportService) TopSellingProducts(ctx context.Context, start, end time.Time, limit int) ([]ProductSales, error) {
	switch {
	case limit < 0:
		return nil, fmt.Errorf("%w: limit must not be negative", ErrReportInvalidInput)
	case limit == 0:
		limit = defaultTopSellingLimit
	case limit > maxTopSellingLimit:
		limit = maxTopSellingLimit
	}

	orders, err := s.countedOrders(ctx, start, end)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var ranking []ProductSales
	for _, order := range orders {
		for _, product := range order.Products {
			pos, ok := index[product.ID]
			if !ok {
				pos = len(ranking)
				index[product.ID] = pos
				ranking = append(ranking, ProductSales{
					ProductID: product.ID,
					Name:      product.Name,
					Price:     product.Price,
					Revenue:   decimal.Zero,
				})
			}
			ranking[pos].Count++
			ranking[pos].Revenue = ranking[pos].Revenue.Add(product.Price)
		}
	}

	slices.SortStableFunc(ranking, func(a, b ProductSales) int {
		return cmp.Compare(b.Count, a.Count)
	})
	if len(ranking) > limit {
		ranking = ranking[:limit]
	}
	if ranking == nil {
		ranking = []ProductSales{}
	}
	return ranking, nil
}

func (s *reportService) DailyTopSellingProducts(ctx context.Context, ref time.Time, limit int) ([]ProductSales, error) {
	start, end := s.dayBounds(ref)
	return s.TopSellingProducts(ctx, start, end, limit)
}

func (s *reportService) WeeklyTopSellingProducts(ctx context.Context, ref time.Time, limit int) ([]ProductSales, error) {
	start, end := s.weekBounds(ref)
	return s.TopSellingProducts(ctx, start, end, limit)
}

func (s *reportService) MonthlyTopSellingProducts(ctx context.Context, ref time.Time, limit int) ([]ProductSales, error) {
	start, end := s.monthBounds(ref)
	return s.TopSellingProducts(ctx, start, end, limit)
}

func (s *reportService) SalesTrends(ctx context.Context, start, end time.Time, groupBy TrendGrouping) ([]SalesTrend, error) {
	var key func(time.Time) string
	switch groupBy {
	case TrendGroupingDay:
		key = func(t time.Time) string { return t.Format(time.DateOnly) }
	case TrendGroupingWeek:
		key = isoWeekKey
	case TrendGroupingMonth:
		key = func(t time.Time) string { return t.Format("2006-01") }
	default:
		return nil, fmt.Errorf("%w: groupBy must be day, week or month", ErrReportInvalidInput)
	}

	orders, err := s.countedOrders(ctx, start, end)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]*SalesTrend)
	for _, order := range orders {
		period := key(order.Date.In(s.location))
		bucket, ok := buckets[period]
		if !ok {
			bucket = &SalesTrend{Period: period, TotalSales: decimal.Zero}
			buckets[period] = bucket
		}
		bucket.TotalSales = bucket.TotalSales.Add(order.Total)
		bucket.TotalOrders++
	}

	trends := make([]SalesTrend, 0, len(buckets))
	for _, bucket := range buckets {
		trends = append(trends, *bucket)
	}
	slices.SortFunc(trends, func(a, b SalesTrend) int {
		return cmp.Compare(a.Period, b.Period)
	})
	return trends, nil
}

func (s *reportService) countedOrders(ctx context.Context, start, end time.Time) ([]Order, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: start and end dates are required", ErrReportInvalidInput)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date precedes start date", ErrReportInvalidInput)
	}
	return s.orders.FindByDateRange(ctx, start, end, domain.CountedOrderStates()...)
}

func (s *reportService) dayBounds(ref time.Time) (time.Time, time.Time) {
	local := ref.In(s.location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	return start, start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// weekBounds returns the ISO week (Monday through Sunday) containing ref.
func (s *reportService) weekBounds(ref time.Time) (time.Time, time.Time) {
	day, _ := s.dayBounds(ref)
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7).Add(-time.Nanosecond)
}

func (s *reportService) monthBounds(ref time.Time) (time.Time, time.Time) {
	local := ref.In(s.location)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.location)
	return start, start.AddDate(0, 1, 0).Add(-time.Nanosecond)
}

func isoWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/auth"
	"github.com/restaurant-ordering/api/internal/platform/httpx"
	"github.com/restaurant-ordering/api/internal/services"
)

type reportPeriod func(services.ReportService, context.Context, time.Time) (services.SalesReport, error)

type topSellingPeriod func(services.ReportService, context.Context, time.Time, int) ([]services.ProductSales, error)

// ReportHandlers exposes sales reporting to admins.
type ReportHandlers struct {
	authn   *auth.Authenticator
	reports services.ReportService
	clock   func() time.Time
}

// ReportHandlersOption customises ReportHandlers.
type ReportHandlersOption func(*ReportHandlers)

// WithReportClock overrides the clock used when the date parameter is omitted.
func WithReportClock(clock func() time.Time) ReportHandlersOption {
	return func(h *ReportHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewReportHandlers constructs report handlers.
func NewReportHandlers(authn *auth.Authenticator, reports services.ReportService, opts ...ReportHandlersOption) *ReportHandlers {
	h := &ReportHandlers{
		authn:   authn,
		reports: reports,
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /reports endpoints.
func (h *ReportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(domain.RoleAdmin))
	}
	r.Use(requireRoles(domain.RoleAdmin))

	r.Get("/sales", h.salesReport)
	r.Get("/sales/daily", h.periodSalesReport(services.ReportService.DailySalesReport))
	r.Get("/sales/weekly", h.periodSalesReport(services.ReportService.WeeklySalesReport))
	r.Get("/sales/monthly", h.periodSalesReport(services.ReportService.MonthlySalesReport))
	r.Get("/sales/trends", h.salesTrends)
	r.Get("/products/top-selling", h.topSellingProducts)
	r.Get("/products/top-selling/daily", h.periodTopSelling(services.ReportService.DailyTopSellingProducts))
	r.Get("/products/top-selling/weekly", h.periodTopSelling(services.ReportService.WeeklyTopSellingProducts))
	r.Get("/products/top-selling/monthly", h.periodTopSelling(services.ReportService.MonthlyTopSellingProducts))
}

type salesReportPayload struct {
	StartDate         string         `json:"startDate"`
	EndDate           string         `json:"endDate"`
	TotalSales        string         `json:"totalSales"`
	TotalOrders       int            `json:"totalOrders"`
	AverageOrderValue string         `json:"averageOrderValue"`
	Orders            []orderPayload `json:"orders"`
}

type productSalesPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Count     int    `json:"count"`
	Revenue   string `json:"revenue"`
}

type salesTrendPayload struct {
	Period      string `json:"period"`
	TotalSales  string `json:"totalSales"`
	TotalOrders int    `json:"totalOrders"`
}

func (h *ReportHandlers) salesReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		writeUnavailable(ctx, w, "report")
		return
	}
	start, end, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	report, err := h.reports.SalesReport(ctx, start, end)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.buildSalesReportPayload(report))
}

func (h *ReportHandlers) periodSalesReport(period reportPeriod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.reports == nil {
			writeUnavailable(ctx, w, "report")
			return
		}
		ref, ok := h.referenceDate(w, r)
		if !ok {
			return
		}
		report, err := period(h.reports, ctx, ref)
		if err != nil {
			writeReportError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, h.buildSalesReportPayload(report))
	}
}

func (h *ReportHandlers) topSellingProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		writeUnavailable(ctx, w, "report")
		return
	}
	start, end, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	ranked, err := h.reports.TopSellingProducts(ctx, start, end, limit)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductSalesPayload(ranked))
}

func (h *ReportHandlers) periodTopSelling(period topSellingPeriod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.reports == nil {
			writeUnavailable(ctx, w, "report")
			return
		}
		ref, ok := h.referenceDate(w, r)
		if !ok {
			return
		}
		limit, ok := limitParam(w, r)
		if !ok {
			return
		}
		ranked, err := period(h.reports, ctx, ref, limit)
		if err != nil {
			writeReportError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, buildProductSalesPayload(ranked))
	}
}

func (h *ReportHandlers) salesTrends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		writeUnavailable(ctx, w, "report")
		return
	}
	start, end, ok := h.dateRange(w, r)
	if !ok {
		return
	}
	groupBy := services.TrendGrouping(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("groupBy"))))
	if groupBy == "" {
		groupBy = services.TrendGroupingDay
	}
	trends, err := h.reports.SalesTrends(ctx, start, end, groupBy)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	payload := make([]salesTrendPayload, 0, len(trends))
	for _, trend := range trends {
		payload = append(payload, salesTrendPayload{
			Period:      trend.Period,
			TotalSales:  formatMoney(trend.TotalSales),
			TotalOrders: trend.TotalOrders,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

// dateRange reads startDate and endDate. A date-only endDate covers that whole day.
func (h *ReportHandlers) dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	query := r.URL.Query()
	start, _, err := parseReportDate(query.Get("startDate"), h.reports.Location())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "startDate: "+err.Error(), http.StatusBadRequest))
		return time.Time{}, time.Time{}, false
	}
	end, dateOnly, err := parseReportDate(query.Get("endDate"), h.reports.Location())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "endDate: "+err.Error(), http.StatusBadRequest))
		return time.Time{}, time.Time{}, false
	}
	if dateOnly {
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return start, end, true
}

func (h *ReportHandlers) referenceDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return h.clock().In(h.reports.Location()), true
	}
	ref, _, err := parseReportDate(raw, h.reports.Location())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "date: "+err.Error(), http.StatusBadRequest))
		return time.Time{}, false
	}
	return ref, true
}

// parseReportDate accepts YYYY-MM-DD in loc or an RFC3339 timestamp. The boolean reports the
// date-only form.
func parseReportDate(raw string, loc *time.Location) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, errors.New("value is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, loc); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, errors.New("must be YYYY-MM-DD or RFC3339")
	}
	return t.In(loc), false, nil
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
		return 0, false
	}
	return limit, true
}

func writeReportError(ctx context.Context, w http.ResponseWriter, err error) {
	rules := append([]httpx.ErrorRule{
		{Target: services.ErrReportInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest, Expose: true},
	}, orderErrorRules...)
	httpx.WriteError(ctx, w, httpx.MapError(err,
		httpx.NewError("report_error", "unexpected error", http.StatusInternalServerError),
		rules...))
}

func (h *ReportHandlers) buildSalesReportPayload(report services.SalesReport) salesReportPayload {
	loc := h.reports.Location()
	payload := salesReportPayload{
		StartDate:         report.StartDate.In(loc).Format(time.RFC3339),
		EndDate:           report.EndDate.In(loc).Format(time.RFC3339),
		TotalSales:        formatMoney(report.TotalSales),
		TotalOrders:       report.TotalOrders,
		AverageOrderValue: formatMoney(report.AverageOrderValue),
		Orders:            make([]orderPayload, 0, len(report.Orders)),
	}
	for _, order := range report.Orders {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}
	return payload
}

func buildProductSalesPayload(ranked []services.ProductSales) []productSalesPayload {
	payload := make([]productSalesPayload, 0, len(ranked))
	for _, item := range ranked {
		payload = append(payload, productSalesPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     formatMoney(item.Price),
			Count:     item.Count,
			Revenue:   formatMoney(item.Revenue),
		})
	}
	return payload
}

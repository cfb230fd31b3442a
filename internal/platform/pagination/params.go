package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/restaurant-ordering/api/internal/domain"
)

// ErrInvalidParams is wrapped by every parse failure.
var ErrInvalidParams = errors.New("pagination: invalid parameters")

// Options overrides the query parameter names and limits used by Parse.
type Options struct {
	LimitParam   string
	OffsetParam  string
	PageParam    string
	DefaultLimit int
	MaxLimit     int
}

func (o Options) withDefaults() Options {
	if o.LimitParam == "" {
		o.LimitParam = "limit"
	}
	if o.OffsetParam == "" {
		o.OffsetParam = "offset"
	}
	if o.PageParam == "" {
		o.PageParam = "page"
	}
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = domain.DefaultPageLimit
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = domain.MaxPageLimit
	}
	return o
}

// Parse reads limit/offset paging from the query. A 1-based page may be sent instead of offset; when
// both are present they must agree. Limits above the maximum are clamped rather than rejected.
func Parse(values url.Values, opts Options) (domain.OffsetPagination, error) {
	opts = opts.withDefaults()

	limit, err := parseNonNegative(values, opts.LimitParam)
	if err != nil {
		return domain.OffsetPagination{}, err
	}
	switch {
	case limit == 0:
		limit = opts.DefaultLimit
	case limit > opts.MaxLimit:
		limit = opts.MaxLimit
	}

	offset, err := parseNonNegative(values, opts.OffsetParam)
	if err != nil {
		return domain.OffsetPagination{}, err
	}

	if raw := strings.TrimSpace(values.Get(opts.PageParam)); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return domain.OffsetPagination{}, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidParams, opts.PageParam)
		}
		pageOffset := (page - 1) * limit
		if values.Has(opts.OffsetParam) && offset != pageOffset {
			return domain.OffsetPagination{}, fmt.Errorf("%w: %s and %s disagree", ErrInvalidParams, opts.PageParam, opts.OffsetParam)
		}
		offset = pageOffset
	}

	return domain.OffsetPagination{Limit: limit, Offset: offset}, nil
}

func parseNonNegative(values url.Values, name string) (int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidParams, name)
	}
	return n, nil
}

// Meta describes a page in responses.
type Meta struct {
	Total       int `json:"total"`
	Limit       int `json:"limit"`
	Offset      int `json:"offset"`
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
}

// Response is the JSON envelope for paged list endpoints.
type Response[T any] struct {
	Items []T  `json:"items"`
	Meta  Meta `json:"meta"`
}

// NewResponse converts a domain page into its response envelope, mapping each item with fn.
func NewResponse[S, T any](page domain.OffsetPage[S], fn func(S) T) Response[T] {
	items := make([]T, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, fn(item))
	}
	return Response[T]{
		Items: items,
		Meta: Meta{
			Total:       page.Total,
			Limit:       page.Limit,
			Offset:      page.Offset,
			CurrentPage: page.CurrentPage(),
			TotalPages:  page.TotalPages(),
		},
	}
}

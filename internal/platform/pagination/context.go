package pagination

import (
	"context"
	"errors"
	"net/http"

	"github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/httpx"
)

type contextKey struct{}

// WithParams stores parsed paging on the context.
func WithParams(ctx context.Context, params domain.OffsetPagination) context.Context {
	return context.WithValue(ctx, contextKey{}, params)
}

// FromContext returns the paging stored by Middleware, or normalised defaults.
func FromContext(ctx context.Context) domain.OffsetPagination {
	if params, ok := ctx.Value(contextKey{}).(domain.OffsetPagination); ok {
		return params
	}
	return domain.OffsetPagination{}.Normalize()
}

// Middleware parses paging for list routes and rejects malformed values with 400.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			params, err := Parse(r.URL.Query(), opts)
			if err != nil {
				msg := "invalid pagination parameters"
				if errors.Is(err, ErrInvalidParams) {
					msg = err.Error()
				}
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", msg, http.StatusBadRequest))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithParams(r.Context(), params)))
		})
	}
}

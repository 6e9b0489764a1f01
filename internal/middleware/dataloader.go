package middleware

import (
	"context"
	"net/http"

	"github.com/m-sperlich/digital-twin-db/internal/entityloader"
	"github.com/m-sperlich/digital-twin-db/internal/registry"
	"github.com/m-sperlich/digital-twin-db/internal/repository"
)

type ctxKey string

const variantLoaderKey ctxKey = "variantLoader"

// DataLoader attaches a fresh variant loader to each request context, so
// handlers batch their variant lookups without sharing a cache across
// requests.
func DataLoader(variants repository.VariantRepository, reg *registry.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := entityloader.New(variants, reg)
			ctx := context.WithValue(r.Context(), variantLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VariantLoaderFromContext retrieves the request's loader, or nil when
// the middleware is not installed.
func VariantLoaderFromContext(ctx context.Context) *entityloader.VariantLoader {
	if l, ok := ctx.Value(variantLoaderKey).(*entityloader.VariantLoader); ok {
		return l
	}
	return nil
}

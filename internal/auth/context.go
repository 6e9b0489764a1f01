package auth

import (
	"context"
	"fmt"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
)

type contextKey string

const callerKey contextKey = "caller"

// ContextWithCaller returns a new context that carries the attribution
// identity for every write performed during the request.
func ContextWithCaller(ctx context.Context, caller domain.CallerContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext retrieves the caller identity from the context, if any.
func CallerFromContext(ctx context.Context) (domain.CallerContext, bool) {
	if ctx == nil {
		return domain.CallerContext{}, false
	}
	value := ctx.Value(callerKey)
	if value == nil {
		return domain.CallerContext{}, false
	}
	caller, ok := value.(domain.CallerContext)
	if !ok || !caller.Valid() {
		return domain.CallerContext{}, false
	}
	return caller, true
}

// RequireCaller returns the caller identity or an error when the request
// carries none. Write paths refuse to proceed without attribution.
func RequireCaller(ctx context.Context) (domain.CallerContext, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return domain.CallerContext{}, fmt.Errorf("caller identity is required")
	}
	return caller, nil
}

// EnforceOwnership ensures the caller may mutate a variant created by
// createdBy when owner-only updates are enabled.
func EnforceOwnership(enabled bool, caller domain.CallerContext, createdBy string) error {
	if !enabled {
		return nil
	}
	if caller.UserID == createdBy {
		return nil
	}
	return fmt.Errorf("user %s may not modify variants created by %s: %w", caller.UserID, createdBy, domain.ErrForbidden)
}

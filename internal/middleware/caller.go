package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/m-sperlich/digital-twin-db/internal/auth"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
)

// Header names for the upstream-authenticated caller identity.
const (
	HeaderUserID     = "X-User-ID"
	HeaderClientInfo = "X-Client-Info"
)

// Caller lifts the authenticated identity headers into the request
// context. Authentication itself happens upstream (gateway or reverse
// proxy); requests without an identity pass through and are rejected in
// the handlers that require one.
func Caller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		clientInfo := strings.TrimSpace(r.Header.Get(HeaderClientInfo))
		if clientInfo == "" {
			clientInfo = clientInfoFromRequest(r)
		}

		ctx := auth.ContextWithCaller(r.Context(), domain.CallerContext{
			UserID:     userID,
			ClientInfo: clientInfo,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientInfoFromRequest(r *http.Request) string {
	agent := strings.TrimSpace(r.UserAgent())
	if agent == "" {
		return r.RemoteAddr
	}
	return fmt.Sprintf("%s (%s)", r.RemoteAddr, agent)
}

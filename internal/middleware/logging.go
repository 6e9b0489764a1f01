package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m-sperlich/digital-twin-db/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// responseWriter captures the HTTP status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging logs every request with a generated request id and feeds the
// request duration histogram.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, normalizeRoute(r.URL.Path), strconv.Itoa(rw.statusCode),
		).Observe(duration.Seconds())
		zap.S().Infof("http: %s %s %d %s from %s rid=%s",
			r.Method, r.URL.Path, rw.statusCode, duration, r.RemoteAddr, requestID)
	})
}

// normalizeRoute keeps the metric's route label bounded by collapsing
// numeric path segments: /api/v1/trees/42 -> /api/v1/trees/:id.
func normalizeRoute(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if _, err := strconv.ParseInt(segment, 10, 64); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

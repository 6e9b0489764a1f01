package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/m-sperlich/digital-twin-db/internal/auth"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/export"
	"github.com/m-sperlich/digital-twin-db/internal/ingestion"
	"github.com/m-sperlich/digital-twin-db/internal/revert"

	"go.uber.org/zap"
)

// errorResponse is the uniform error body. Validation failures carry
// per-field detail.
type errorResponse struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// writeError maps domain errors onto statuses: 404 for missing records,
// 409 for write conflicts, 422 for validation, 403 for ownership.
// Integrity failures stay 500 and are logged without leaking detail.
func writeError(w http.ResponseWriter, err error) {
	if ve, ok := domain.AsValidationError(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Fields: ve.Fields})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrProcessConflict),
		errors.Is(err, domain.ErrStillReferenced),
		errors.Is(err, revert.ErrNoChange):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidParent),
		errors.Is(err, ingestion.ErrUnsupportedFormat),
		errors.Is(err, export.ErrUnknownFormat):
		status = http.StatusBadRequest
	case errors.Is(err, ingestion.ErrTooManyRows):
		status = http.StatusRequestEntityTooLarge
	}

	if status == http.StatusInternalServerError {
		zap.S().Errorf("api: internal error: %v", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// requireCaller reads the attribution identity installed by the caller
// middleware. Mutating handlers refuse to run without one.
func requireCaller(w http.ResponseWriter, r *http.Request) (domain.CallerContext, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "X-User-ID header is required"})
		return domain.CallerContext{}, false
	}
	return caller, true
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathID parses a positive integer path segment.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryInt reads a non-negative integer query value, falling back on
// absence or garbage.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

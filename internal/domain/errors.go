package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across repositories, engines and the API layer.
// Wrap them with fmt.Errorf("...: %w", Err...) so callers can match with
// errors.Is while keeping the failing identifier in the message.
var (
	// ErrNotFound covers missing variants, processes, parameters and
	// audit records.
	ErrNotFound = errors.New("not found")

	// ErrParentNotFound is returned when a derived variant references a
	// parent that does not exist for its kind. It matches ErrNotFound.
	ErrParentNotFound = fmt.Errorf("parent variant %w", ErrNotFound)

	// ErrConcurrentModification signals lock contention or a stale read
	// during a mutation. Callers may retry with fresh state; the engine
	// never retries on its own.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrLinkageCorrupt signals an audit record with zero or multiple
	// link rows. This is an integrity failure, not a user error.
	ErrLinkageCorrupt = errors.New("audit linkage corrupt")

	// ErrCycleDetected signals a parent assignment that would close a
	// lineage cycle.
	ErrCycleDetected = errors.New("lineage cycle detected")

	// ErrInvalidParent signals a structurally invalid parent reference,
	// e.g. a variant naming itself as parent.
	ErrInvalidParent = errors.New("invalid parent variant")

	// ErrProcessConflict is returned when a process is re-registered
	// under the same name and version but with different metadata.
	ErrProcessConflict = errors.New("process already registered with different metadata")

	// ErrForbidden is returned by the ownership policy when a caller
	// tries to mutate a variant created by someone else.
	ErrForbidden = errors.New("caller may not modify this variant")

	// ErrStillReferenced is returned when deleting a variant that other
	// records (e.g. stems of a tree) still depend on.
	ErrStillReferenced = errors.New("variant is still referenced")
)

// FieldError carries the per-field detail of a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field-level constraint violations for one
// request. It is returned before any write happens.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

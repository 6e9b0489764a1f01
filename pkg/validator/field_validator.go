package validator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
)

// FieldSpec declares one domain column of an entity kind: how it is
// typed, whether it must be present on creation, whether changes to it
// are audited, and its value constraints.
type FieldSpec struct {
	Name     string           `json:"name"`
	Type     domain.FieldType `json:"type"`
	Required bool             `json:"required"`
	Tracked  bool             `json:"tracked"`
	Min      *float64         `json:"min,omitempty"`
	Max      *float64         `json:"max,omitempty"`
	Enum     []string         `json:"enum,omitempty"`
}

// Validator checks field values against a kind's field specs.
type Validator struct{}

// New creates a new validator.
func New() *Validator {
	return &Validator{}
}

// ValidateCreate checks a full field set for variant creation: required
// fields must be present, no unknown fields, every value well typed and
// within constraints.
func (v *Validator) ValidateCreate(values map[string]any, specs []FieldSpec) *domain.ValidationError {
	var errs []domain.FieldError
	byName := specsByName(specs)

	for _, spec := range specs {
		value, exists := values[spec.Name]
		if spec.Required && (!exists || value == nil) {
			errs = append(errs, domain.FieldError{
				Field:   spec.Name,
				Message: "required field is missing",
			})
			continue
		}
		if !exists || value == nil {
			continue
		}
		if err := v.checkValue(spec, value); err != nil {
			errs = append(errs, domain.FieldError{Field: spec.Name, Message: err.Error()})
		}
	}

	for name := range values {
		if _, known := byName[name]; !known {
			errs = append(errs, domain.FieldError{Field: name, Message: "unknown field"})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &domain.ValidationError{Fields: errs}
}

// ValidateUpdate checks a partial field set for mutation: unknown fields
// are rejected, present values must be well typed and within
// constraints, and a required field may not be set to null.
func (v *Validator) ValidateUpdate(updates map[string]any, specs []FieldSpec) *domain.ValidationError {
	var errs []domain.FieldError
	byName := specsByName(specs)

	for name, value := range updates {
		spec, known := byName[name]
		if !known {
			errs = append(errs, domain.FieldError{Field: name, Message: "unknown field"})
			continue
		}
		if value == nil {
			if spec.Required {
				errs = append(errs, domain.FieldError{Field: name, Message: "required field may not be null"})
			}
			continue
		}
		if err := v.checkValue(spec, value); err != nil {
			errs = append(errs, domain.FieldError{Field: name, Message: err.Error()})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &domain.ValidationError{Fields: errs}
}

// Normalize coerces a raw value (JSON decode output or an ingest cell)
// into the native Go type for the spec: float64, int64, string, bool or
// time.Time. Nil passes through.
func (v *Validator) Normalize(spec FieldSpec, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch spec.Type {
	case domain.FieldFloat:
		return toFloat(value)
	case domain.FieldInt:
		return toInt(value)
	case domain.FieldBoolean:
		return toBool(value)
	case domain.FieldString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string, got %T", value)
		}
		return s, nil
	case domain.FieldTimestamp:
		switch t := value.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("must be an RFC3339 timestamp: %v", err)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("must be a timestamp, got %T", value)
		}
	case domain.FieldJSON:
		if _, err := json.Marshal(value); err != nil {
			return nil, fmt.Errorf("contains invalid JSON: %v", err)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", spec.Type)
	}
}

// checkValue validates type and constraints of one non-nil value.
func (v *Validator) checkValue(spec FieldSpec, value any) error {
	normalized, err := v.Normalize(spec, value)
	if err != nil {
		return err
	}

	switch spec.Type {
	case domain.FieldFloat, domain.FieldInt:
		var f float64
		switch n := normalized.(type) {
		case float64:
			f = n
		case int64:
			f = float64(n)
		}
		if spec.Min != nil && f < *spec.Min {
			return fmt.Errorf("value %v is less than minimum %v", f, *spec.Min)
		}
		if spec.Max != nil && f > *spec.Max {
			return fmt.Errorf("value %v is greater than maximum %v", f, *spec.Max)
		}
	case domain.FieldString:
		s := normalized.(string)
		if len(spec.Enum) > 0 && !containsString(spec.Enum, s) {
			return fmt.Errorf("value %q is not one of %s", s, strings.Join(spec.Enum, "|"))
		}
	}
	return nil
}

func specsByName(specs []FieldSpec) map[string]FieldSpec {
	byName := make(map[string]FieldSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}
	return byName
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func toFloat(value any) (float64, error) {
	switch n := value.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("must be a float, got %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("must be a float, got %T", value)
	}
}

func toInt(value any) (int64, error) {
	switch n := value.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("must be an integer, got %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("must be an integer, got %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("must be an integer, got %T", value)
	}
}

func toBool(value any) (bool, error) {
	switch b := value.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(b)))
		if err != nil {
			return false, fmt.Errorf("must be a boolean, got %q", b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("must be a boolean, got %T", value)
	}
}

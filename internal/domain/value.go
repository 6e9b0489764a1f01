package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldType tags how a domain field is typed, validated and serialized
// into audit records.
type FieldType string

const (
	FieldFloat     FieldType = "float"
	FieldInt       FieldType = "int"
	FieldString    FieldType = "string"
	FieldBoolean   FieldType = "boolean"
	FieldTimestamp FieldType = "timestamp"
	FieldJSON      FieldType = "json"
)

// CanonicalString serializes a field value into the canonical text form
// stored in audit records: floats in their shortest decimal form, ints
// base-10, booleans "true"/"false", timestamps RFC3339, JSON compact.
// A nil value stays nil (SQL NULL), never the string "null".
func CanonicalString(ft FieldType, value any) (*string, error) {
	if value == nil {
		return nil, nil
	}
	var s string
	switch ft {
	case FieldFloat:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		s = strconv.FormatFloat(f, 'f', -1, 64)
	case FieldInt:
		i, err := toInt(value)
		if err != nil {
			return nil, err
		}
		s = strconv.FormatInt(i, 10)
	case FieldBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", value)
		}
		s = strconv.FormatBool(b)
	case FieldString:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		s = str
	case FieldTimestamp:
		switch v := value.(type) {
		case time.Time:
			s = v.UTC().Format(time.RFC3339)
		case string:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp %q: %w", v, err)
			}
			s = t.UTC().Format(time.RFC3339)
		default:
			return nil, fmt.Errorf("expected timestamp, got %T", value)
		}
	case FieldJSON:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("invalid json value: %w", err)
		}
		s = string(raw)
	default:
		return nil, fmt.Errorf("unknown field type %q", ft)
	}
	return &s, nil
}

// ValuesDiffer compares two canonical values null-safely: two NULLs are
// equal, a NULL and a value are distinct, otherwise plain string
// inequality.
func ValuesDiffer(a, b *string) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return *a != *b
}

// CanonicalFieldsJSON renders a set of field values as one compact JSON
// document with sorted keys, used as the NewValue of insert audit
// records.
func CanonicalFieldsJSON(fields map[string]*string) *string {
	if len(fields) == 0 {
		empty := "{}"
		return &empty
	}
	ordered := make(map[string]any, len(fields))
	for k, v := range fields {
		if v == nil {
			ordered[k] = nil
			continue
		}
		ordered[k] = *v
	}
	raw, err := json.Marshal(ordered)
	if err != nil {
		// map[string]any of strings cannot fail to marshal
		fallback := "{}"
		return &fallback
	}
	s := string(raw)
	return &s
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("expected float, got %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected float, got %T", value)
	}
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", v)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}

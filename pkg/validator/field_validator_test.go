package validator

import (
	"testing"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
)

func floatPtr(f float64) *float64 { return &f }

func TestValidateCreateRequiredField(t *testing.T) {
	v := New()

	specs := []FieldSpec{
		{Name: "height_m", Type: domain.FieldFloat, Required: true, Tracked: true},
	}

	if err := v.ValidateCreate(map[string]any{}, specs); err == nil {
		t.Fatalf("expected missing required field to fail")
	}

	if err := v.ValidateCreate(map[string]any{"height_m": nil}, specs); err == nil {
		t.Fatalf("expected null required field to fail")
	}

	if err := v.ValidateCreate(map[string]any{"height_m": 24.7}, specs); err != nil {
		t.Fatalf("expected valid value to pass, got %v", err)
	}
}

func TestValidateCreateUnknownField(t *testing.T) {
	v := New()

	specs := []FieldSpec{
		{Name: "height_m", Type: domain.FieldFloat},
	}

	err := v.ValidateCreate(map[string]any{"height_m": 12.0, "girth": 1.0}, specs)
	if err == nil {
		t.Fatalf("expected unknown field to fail")
	}
	if len(err.Fields) != 1 || err.Fields[0].Field != "girth" {
		t.Fatalf("expected one error on girth, got %+v", err.Fields)
	}
}

func TestValidateUpdateRange(t *testing.T) {
	v := New()

	specs := []FieldSpec{
		{Name: "health_score", Type: domain.FieldFloat, Min: floatPtr(0), Max: floatPtr(100)},
	}

	if err := v.ValidateUpdate(map[string]any{"health_score": 101.0}, specs); err == nil {
		t.Fatalf("expected value above maximum to fail")
	}
	if err := v.ValidateUpdate(map[string]any{"health_score": -1.0}, specs); err == nil {
		t.Fatalf("expected value below minimum to fail")
	}
	if err := v.ValidateUpdate(map[string]any{"health_score": 88.5}, specs); err != nil {
		t.Fatalf("expected in-range value to pass, got %v", err)
	}
}

func TestValidateUpdateEnum(t *testing.T) {
	v := New()

	specs := []FieldSpec{
		{Name: "processing_status", Type: domain.FieldString, Enum: []string{"raw", "pending", "processed", "failed"}},
	}

	if err := v.ValidateUpdate(map[string]any{"processing_status": "done"}, specs); err == nil {
		t.Fatalf("expected out-of-enum value to fail")
	}
	if err := v.ValidateUpdate(map[string]any{"processing_status": "processed"}, specs); err != nil {
		t.Fatalf("expected enum value to pass, got %v", err)
	}
}

func TestValidateUpdateNullHandling(t *testing.T) {
	v := New()

	specs := []FieldSpec{
		{Name: "dbh_cm", Type: domain.FieldFloat, Required: false},
		{Name: "height_m", Type: domain.FieldFloat, Required: true},
	}

	if err := v.ValidateUpdate(map[string]any{"dbh_cm": nil}, specs); err != nil {
		t.Fatalf("expected optional field set to null to pass, got %v", err)
	}
	if err := v.ValidateUpdate(map[string]any{"height_m": nil}, specs); err == nil {
		t.Fatalf("expected required field set to null to fail")
	}
}

func TestNormalizeCoercions(t *testing.T) {
	v := New()

	floatSpec := FieldSpec{Name: "height_m", Type: domain.FieldFloat}
	got, err := v.Normalize(floatSpec, "24.7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.(float64) != 24.7 {
		t.Errorf("expected 24.7, got %v", got)
	}

	intSpec := FieldSpec{Name: "point_count", Type: domain.FieldInt}
	got, err = v.Normalize(intSpec, float64(1200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.(int64) != 1200 {
		t.Errorf("expected 1200, got %v", got)
	}

	if _, err := v.Normalize(intSpec, 12.5); err == nil {
		t.Errorf("expected fractional value to fail integer coercion")
	}

	boolSpec := FieldSpec{Name: "flag", Type: domain.FieldBoolean}
	got, err = v.Normalize(boolSpec, "true")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.(bool) != true {
		t.Errorf("expected true, got %v", got)
	}
}

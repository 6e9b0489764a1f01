package repository

import (
	"errors"
	"strings"
	"testing"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/registry"
	"github.com/m-sperlich/digital-twin-db/pkg/validator"

	"github.com/jackc/pgx/v5/pgconn"
)

func builderDescriptor() registry.Descriptor {
	return registry.Descriptor{
		Kind:           "gauges",
		Table:          "gauges",
		IDColumn:       "gauge_id",
		ParentColumn:   "parent_gauge_id",
		AuditLinkTable: "audit_log_gauges",
		ParamLinkTable: "process_parameters_gauges",
		Fields: []validator.FieldSpec{
			{Name: "reading", Type: domain.FieldFloat, Tracked: true},
			{Name: "label", Type: domain.FieldString},
		},
	}
}

func TestSelectVariantSQL(t *testing.T) {
	got := selectVariantSQL(builderDescriptor())
	want := "SELECT gauge_id, parent_gauge_id, process_id, variant_type_id, version, created_at, created_by, updated_at, updated_by, reading, label FROM gauges"
	if got != want {
		t.Fatalf("selectVariantSQL mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestInsertVariantSQL(t *testing.T) {
	got := insertVariantSQL(builderDescriptor(), []string{"reading"})
	want := "INSERT INTO gauges (parent_gauge_id, process_id, variant_type_id, created_by, reading) " +
		"VALUES ($1, $2, $3, $4, $5) " +
		"RETURNING gauge_id, parent_gauge_id, process_id, variant_type_id, version, created_at, created_by, updated_at, updated_by, reading, label"
	if got != want {
		t.Fatalf("insertVariantSQL mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestUpdateVariantSQL(t *testing.T) {
	got := updateVariantSQL(builderDescriptor(), []string{"reading"}, []string{"label"})
	want := "UPDATE gauges SET reading = $1, label = NULL, version = version + 1, updated_at = now(), updated_by = $2 " +
		"WHERE gauge_id = $3 AND version = $4 " +
		"RETURNING gauge_id, parent_gauge_id, process_id, variant_type_id, version, created_at, created_by, updated_at, updated_by, reading, label"
	if got != want {
		t.Fatalf("updateVariantSQL mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestUpdateVariantSQLNoNullColumns(t *testing.T) {
	got := updateVariantSQL(builderDescriptor(), []string{"reading", "label"}, nil)
	if !strings.Contains(got, "reading = $1, label = $2, version = version + 1") {
		t.Errorf("expected consecutive placeholders, got %s", got)
	}
	if strings.Contains(got, "NULL") {
		t.Errorf("expected no NULL assignments, got %s", got)
	}
	if !strings.Contains(got, "WHERE gauge_id = $4 AND version = $5") {
		t.Errorf("expected trailing id and version placeholders, got %s", got)
	}
}

func TestTranslateLockError(t *testing.T) {
	err := translateLockError(&pgconn.PgError{Code: "55P03"})
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	sentinel := errors.New("connection refused")
	if got := translateLockError(sentinel); !errors.Is(got, sentinel) {
		t.Fatalf("expected error passthrough, got %v", got)
	}
}

func TestTranslateDeleteError(t *testing.T) {
	err := translateDeleteError(&pgconn.PgError{Code: "23503", ConstraintName: "stems_tree_id_fkey"})
	if !errors.Is(err, domain.ErrStillReferenced) {
		t.Fatalf("expected ErrStillReferenced, got %v", err)
	}
	if !strings.Contains(err.Error(), "stems_tree_id_fkey") {
		t.Errorf("expected constraint name in error, got %v", err)
	}
}

func TestFkValidationError(t *testing.T) {
	reg := registry.Default()
	d, err := reg.Descriptor(domain.KindTrees)
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}

	vErr := fkValidationError(d, &pgconn.PgError{Code: "23503", ConstraintName: "trees_species_id_fkey"})
	if vErr == nil {
		t.Fatal("expected a validation error for a foreign key violation")
	}
	if len(vErr.Fields) != 1 || vErr.Fields[0].Field != "species_id" {
		t.Errorf("expected species_id field error, got %+v", vErr.Fields)
	}

	if got := fkValidationError(d, errors.New("boom")); got != nil {
		t.Errorf("expected nil for a non-pg error, got %v", got)
	}
}

func TestConstraintColumn(t *testing.T) {
	reg := registry.Default()
	d, err := reg.Descriptor(domain.KindTrees)
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}

	if got := constraintColumn(d, "trees_parent_tree_id_fkey"); got != "parent_tree_id" {
		t.Errorf("constraintColumn = %q, want parent_tree_id", got)
	}
	if got := constraintColumn(d, "odd_name"); got != "odd_name" {
		t.Errorf("unparseable constraint should pass through, got %q", got)
	}
}

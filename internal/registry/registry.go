// Package registry declares the fixed set of entity kinds the engine
// manages and the per-kind wiring: variant table, link tables and field
// specs. Adding a kind is a Register call at startup, never a switch
// branch in query code.
package registry

import (
	"fmt"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/pkg/validator"
)

// Descriptor wires one entity kind into the engine.
type Descriptor struct {
	Kind           domain.EntityKind
	Table          string
	IDColumn       string
	ParentColumn   string
	AuditLinkTable string
	ParamLinkTable string
	Fields         []validator.FieldSpec
}

// FieldSpec returns the spec for a field name.
func (d Descriptor) FieldSpec(name string) (validator.FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return validator.FieldSpec{}, false
}

// TrackedFields lists the audited field names in declaration order.
func (d Descriptor) TrackedFields() []string {
	tracked := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f.Tracked {
			tracked = append(tracked, f.Name)
		}
	}
	return tracked
}

// FieldColumns lists all domain column names in declaration order.
func (d Descriptor) FieldColumns() []string {
	cols := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Registry holds the registered descriptors in registration order.
type Registry struct {
	order  []domain.EntityKind
	byKind map[domain.EntityKind]Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byKind: make(map[domain.EntityKind]Descriptor)}
}

// Register adds a descriptor. Registering the same kind twice is a
// programming error.
func (r *Registry) Register(d Descriptor) error {
	if d.Kind == "" || d.Table == "" || d.IDColumn == "" ||
		d.ParentColumn == "" || d.AuditLinkTable == "" || d.ParamLinkTable == "" {
		return fmt.Errorf("incomplete descriptor for kind %q", d.Kind)
	}
	if _, exists := r.byKind[d.Kind]; exists {
		return fmt.Errorf("kind %q already registered", d.Kind)
	}
	r.byKind[d.Kind] = d
	r.order = append(r.order, d.Kind)
	return nil
}

// Descriptor resolves a kind, failing with ErrNotFound for unknown ones
// so the API layer maps stray URL segments to 404.
func (r *Registry) Descriptor(kind domain.EntityKind) (Descriptor, error) {
	d, ok := r.byKind[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("entity kind %q %w", kind, domain.ErrNotFound)
	}
	return d, nil
}

// Kinds lists registered kinds in registration order. Link-table probes
// iterate in this order, so it must be deterministic.
func (r *Registry) Kinds() []domain.EntityKind {
	kinds := make([]domain.EntityKind, len(r.order))
	copy(kinds, r.order)
	return kinds
}

func floatPtr(f float64) *float64 { return &f }

var processingStatuses = []string{"raw", "pending", "processed", "failed"}

// Default builds the registry for the digital twin's four entity kinds.
func Default() *Registry {
	r := New()

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.Register(Descriptor{
		Kind:           domain.KindTrees,
		Table:          "trees",
		IDColumn:       "tree_id",
		ParentColumn:   "parent_tree_id",
		AuditLinkTable: "audit_log_trees",
		ParamLinkTable: "process_parameters_trees",
		Fields: []validator.FieldSpec{
			{Name: "species_id", Type: domain.FieldInt},
			{Name: "plot_code", Type: domain.FieldString},
			{Name: "height_m", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(0), Max: floatPtr(150)},
			{Name: "dbh_cm", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(0), Max: floatPtr(1000)},
			{Name: "crown_diameter_m", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(0), Max: floatPtr(80)},
			{Name: "health_score", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(0), Max: floatPtr(100)},
			{Name: "processing_status", Type: domain.FieldString, Tracked: true, Enum: processingStatuses},
		},
	}))

	must(r.Register(Descriptor{
		Kind:           domain.KindPointClouds,
		Table:          "point_clouds",
		IDColumn:       "point_cloud_id",
		ParentColumn:   "parent_point_cloud_id",
		AuditLinkTable: "audit_log_point_clouds",
		ParamLinkTable: "process_parameters_point_clouds",
		Fields: []validator.FieldSpec{
			{Name: "tree_id", Type: domain.FieldInt},
			{Name: "file_uri", Type: domain.FieldString},
			{Name: "sensor_type", Type: domain.FieldString},
			{Name: "point_count", Type: domain.FieldInt, Tracked: true, Min: floatPtr(0)},
			{Name: "point_density", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(0)},
			{Name: "processing_status", Type: domain.FieldString, Tracked: true, Enum: processingStatuses},
		},
	}))

	must(r.Register(Descriptor{
		Kind:           domain.KindEnvironments,
		Table:          "environments",
		IDColumn:       "environment_id",
		ParentColumn:   "parent_environment_id",
		AuditLinkTable: "audit_log_environments",
		ParamLinkTable: "process_parameters_environments",
		Fields: []validator.FieldSpec{
			{Name: "station_code", Type: domain.FieldString},
			{Name: "measured_at", Type: domain.FieldTimestamp},
			{Name: "temperature_c", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(-60), Max: floatPtr(60)},
			{Name: "humidity_pct", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(0), Max: floatPtr(100)},
			{Name: "air_pressure_hpa", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(300), Max: floatPtr(1200)},
			{Name: "soil_moisture_pct", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(0), Max: floatPtr(100)},
			{Name: "soil_temperature_c", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(-40), Max: floatPtr(60)},
		},
	}))

	must(r.Register(Descriptor{
		Kind:           domain.KindStems,
		Table:          "stems",
		IDColumn:       "stem_id",
		ParentColumn:   "parent_stem_id",
		AuditLinkTable: "audit_log_stems",
		ParamLinkTable: "process_parameters_stems",
		Fields: []validator.FieldSpec{
			{Name: "tree_id", Type: domain.FieldInt, Required: true},
			{Name: "length_m", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(0), Max: floatPtr(120)},
			{Name: "diameter_cm", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(0), Max: floatPtr(1000)},
			{Name: "volume_m3", Type: domain.FieldFloat, Tracked: true, Min: floatPtr(0)},
			{Name: "quality_grade", Type: domain.FieldString, Tracked: true, Enum: []string{"a", "b", "c", "reject"}},
		},
	}))

	return r
}

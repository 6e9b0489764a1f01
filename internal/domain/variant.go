package domain

import (
	"fmt"
	"time"
)

// EntityKind names one of the fixed entity kinds the engine manages.
// The identifier doubles as the variant table name and the URL segment.
type EntityKind string

const (
	KindTrees        EntityKind = "trees"
	KindPointClouds  EntityKind = "point_clouds"
	KindEnvironments EntityKind = "environments"
	KindStems        EntityKind = "stems"
)

// EntityRef is the tagged union used wherever a value must point at "a
// variant of some kind", most importantly when resolving which link
// table owns an audit record.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   int64      `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// VariantType is the categorical tag on every variant. The rows are
// seeded by migration; IDs are stable.
type VariantType struct {
	ID          int32  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Seeded variant type IDs.
const (
	VariantTypeOriginal      int32 = 1
	VariantTypeProcessed     int32 = 2
	VariantTypeManual        int32 = 3
	VariantTypeSimulated     int32 = 4
	VariantTypeUserInput     int32 = 5
	VariantTypeSensorDerived int32 = 6
	VariantTypeModelOutput   int32 = 7
)

// Variant is the generic envelope around one record of any entity kind.
// Domain columns live in Fields keyed by column name; the engine only
// interprets the subset declared tracked by the kind's descriptor.
type Variant struct {
	Kind            EntityKind     `json:"kind"`
	ID              int64          `json:"id"`
	ParentVariantID *int64         `json:"parent_variant_id,omitempty"`
	ProcessID       *int64         `json:"process_id,omitempty"`
	VariantTypeID   int32          `json:"variant_type_id"`
	Fields          map[string]any `json:"fields"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	CreatedBy       string         `json:"created_by"`
	UpdatedAt       time.Time      `json:"updated_at"`
	UpdatedBy       *string        `json:"updated_by,omitempty"`
}

// Ref returns the variant's tagged reference.
func (v Variant) Ref() EntityRef {
	return EntityRef{Kind: v.Kind, ID: v.ID}
}

// Field returns a domain field value and whether it is present.
func (v Variant) Field(name string) (any, bool) {
	if v.Fields == nil {
		return nil, false
	}
	val, ok := v.Fields[name]
	return val, ok
}

// WithFields returns a copy of the variant with the given fields merged
// over the existing ones. The receiver is not modified.
func (v Variant) WithFields(updates map[string]any) Variant {
	merged := make(map[string]any, len(v.Fields)+len(updates))
	for k, val := range v.Fields {
		merged[k] = val
	}
	for k, val := range updates {
		merged[k] = val
	}
	v.Fields = merged
	return v
}

// IsRoot reports whether the variant has no parent.
func (v Variant) IsRoot() bool {
	return v.ParentVariantID == nil
}

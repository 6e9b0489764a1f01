package domain

import "time"

// ProcessCategory groups registered algorithms by what they do.
type ProcessCategory string

const (
	ProcessCategoryDetection      ProcessCategory = "detection"
	ProcessCategoryClassification ProcessCategory = "classification"
	ProcessCategorySimulation     ProcessCategory = "simulation"
	ProcessCategoryAnalysis       ProcessCategory = "analysis"
	ProcessCategoryAggregation    ProcessCategory = "aggregation"
)

// Valid reports whether c is a known category.
func (c ProcessCategory) Valid() bool {
	switch c {
	case ProcessCategoryDetection, ProcessCategoryClassification,
		ProcessCategorySimulation, ProcessCategoryAnalysis, ProcessCategoryAggregation:
		return true
	}
	return false
}

// Process records which named, versioned algorithm produced a variant.
// Rows are append-only reference data; (Name, Version) is unique.
type Process struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Algorithm   string          `json:"algorithm"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Category    ProcessCategory `json:"category"`
	CreatedAt   time.Time       `json:"created_at"`
	CreatedBy   string          `json:"created_by"`
}

// SameMetadata reports whether two registrations describe the same
// process. Used to distinguish idempotent re-registration from a
// conflicting one.
func (p Process) SameMetadata(other Process) bool {
	return p.Algorithm == other.Algorithm &&
		p.Description == other.Description &&
		p.Category == other.Category
}

// ParameterDataType tags how a parameter's text value should be read.
type ParameterDataType string

const (
	ParameterFloat   ParameterDataType = "float"
	ParameterInt     ParameterDataType = "int"
	ParameterString  ParameterDataType = "string"
	ParameterBoolean ParameterDataType = "boolean"
	ParameterJSON    ParameterDataType = "json"
)

// Valid reports whether t is a known data type tag.
func (t ParameterDataType) Valid() bool {
	switch t {
	case ParameterFloat, ParameterInt, ParameterString, ParameterBoolean, ParameterJSON:
		return true
	}
	return false
}

// ProcessParameter records one concrete value used when a process ran
// against one variant. The owning variant is expressed through the
// kind's parameter link table.
type ProcessParameter struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Value       string            `json:"value"`
	DataType    ParameterDataType `json:"data_type"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

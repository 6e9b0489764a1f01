package repository

import (
	"context"

	"github.com/m-sperlich/digital-twin-db/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// VariantRepository persists the variant envelope plus domain fields for
// every registered entity kind. Methods resolve the kind's table and
// columns through the registry; WithTx returns a copy bound to the
// given transaction.
type VariantRepository interface {
	WithTx(tx pgx.Tx) VariantRepository
	Create(ctx context.Context, variant domain.Variant) (domain.Variant, error)
	GetByID(ctx context.Context, kind domain.EntityKind, id int64) (domain.Variant, error)
	GetByIDs(ctx context.Context, kind domain.EntityKind, ids []int64) ([]domain.Variant, error)
	// GetForUpdate loads the variant under a row-level exclusive lock
	// without waiting; lock contention surfaces as
	// ErrConcurrentModification. Must run inside a transaction.
	GetForUpdate(ctx context.Context, kind domain.EntityKind, id int64) (domain.Variant, error)
	// UpdateFields applies the given column values, bumps the version
	// and stamps attribution. The update is conditional on
	// expectedVersion; a stale version surfaces as
	// ErrConcurrentModification.
	UpdateFields(ctx context.Context, kind domain.EntityKind, id int64, updates map[string]any, updatedBy string, expectedVersion int64) (domain.Variant, error)
	ListChildren(ctx context.Context, kind domain.EntityKind, parentID int64) ([]domain.Variant, error)
	// ListByReference lists variants whose reference field holds the
	// given id, e.g. the stems recorded against one tree.
	ListByReference(ctx context.Context, kind domain.EntityKind, field string, refID int64) ([]domain.Variant, error)
	List(ctx context.Context, kind domain.EntityKind, limit, offset int) ([]domain.Variant, error)
	Exists(ctx context.Context, kind domain.EntityKind, id int64) (bool, error)
	// Delete removes the variant row; children go with it through the
	// parent foreign key cascade.
	Delete(ctx context.Context, kind domain.EntityKind, id int64) error
}

// AuditRepository persists kind-agnostic audit records and the per-kind
// link rows that attribute them to exactly one variant.
type AuditRepository interface {
	WithTx(tx pgx.Tx) AuditRepository
	// Insert writes the audit record and its link row. It issues two
	// statements and must run inside the mutation's transaction.
	Insert(ctx context.Context, ref domain.EntityRef, record domain.AuditRecord) (domain.AuditRecord, error)
	GetByID(ctx context.Context, auditID int64) (domain.AuditRecord, error)
	// ResolveRef finds the one link row owning the record by probing
	// each kind's link table. Zero or multiple hits surface as
	// ErrLinkageCorrupt.
	ResolveRef(ctx context.Context, auditID int64) (domain.EntityRef, error)
	History(ctx context.Context, kind domain.EntityKind, entityID int64, limit int) ([]domain.AuditRecord, error)
	RecentChanges(ctx context.Context, limit, offset int) ([]domain.AuditRecord, error)
	// DeleteForEntities removes the audit records linked to the given
	// variants, used for referential cleanup before variant deletion.
	DeleteForEntities(ctx context.Context, kind domain.EntityKind, ids []int64) error
}

// ProcessRepository persists the append-only process registry.
type ProcessRepository interface {
	WithTx(tx pgx.Tx) ProcessRepository
	// CreateIfAbsent inserts the process unless (name, version) already
	// exists; the bool reports whether a row was created.
	CreateIfAbsent(ctx context.Context, process domain.Process) (domain.Process, bool, error)
	GetByID(ctx context.Context, id int64) (domain.Process, error)
	GetByNameVersion(ctx context.Context, name, version string) (domain.Process, error)
	List(ctx context.Context, limit, offset int) ([]domain.Process, error)
}

// ParameterRepository persists process parameters and their per-kind
// link rows.
type ParameterRepository interface {
	WithTx(tx pgx.Tx) ParameterRepository
	// CreateWithLink inserts the parameter and links it to the variant.
	// Two statements; must run inside a transaction.
	CreateWithLink(ctx context.Context, ref domain.EntityRef, parameter domain.ProcessParameter) (domain.ProcessParameter, error)
	GetByID(ctx context.Context, id int64) (domain.ProcessParameter, error)
	ListForEntity(ctx context.Context, ref domain.EntityRef) ([]domain.ProcessParameter, error)
	// DeleteForEntities removes the parameters linked to the given
	// variants, used for referential cleanup before variant deletion.
	DeleteForEntities(ctx context.Context, kind domain.EntityKind, ids []int64) error
}

// ReferenceRepository reads seeded reference data.
type ReferenceRepository interface {
	ListVariantTypes(ctx context.Context) ([]domain.VariantType, error)
	GetVariantType(ctx context.Context, id int32) (domain.VariantType, error)
	ListSpecies(ctx context.Context) ([]domain.Species, error)
	GetSpecies(ctx context.Context, id int32) (domain.Species, error)
}

// IngestionLogRepository records bulk import runs and their row errors.
type IngestionLogRepository interface {
	CreateRun(ctx context.Context, run domain.IngestionRun) error
	FinishRun(ctx context.Context, run domain.IngestionRun) error
	GetRun(ctx context.Context, id uuid.UUID) (domain.IngestionRun, error)
	AddRowError(ctx context.Context, rowError domain.IngestionRowError) error
	ListRowErrors(ctx context.Context, runID uuid.UUID, limit int) ([]domain.IngestionRowError, error)
}

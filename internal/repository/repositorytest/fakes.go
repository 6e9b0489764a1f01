// Package repositorytest provides in-memory repository implementations
// for engine tests. The fakes keep the contracts of their SQL
// counterparts (NotFound wrapping, version check-and-set, monotonic
// audit IDs, link bookkeeping) without a database. Transactions are
// accepted and ignored; forced-failure hooks let tests drive the error
// paths.
package repositorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Runner satisfies db.TxRunner without a database. The callback receives
// a nil transaction, which the fakes ignore.
type Runner struct {
	// BeginErr, when set, fails WithTx before running the callback.
	BeginErr error
}

func (r Runner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if r.BeginErr != nil {
		return r.BeginErr
	}
	return fn(nil)
}

// VariantStore is an in-memory VariantRepository.
type VariantStore struct {
	mu     sync.Mutex
	nextID map[domain.EntityKind]int64
	rows   map[domain.EntityKind]map[int64]domain.Variant

	// LockBusy makes GetForUpdate fail with ConcurrentModification,
	// simulating a row locked by another transaction.
	LockBusy bool
	// UpdateErr, when set, fails UpdateFields.
	UpdateErr error
	// CreateErr, when set, fails Create.
	CreateErr error
	// GetByIDsCalls counts batch lookups, for loader batching tests.
	GetByIDsCalls int
}

// NewVariantStore creates an empty in-memory variant store.
func NewVariantStore() *VariantStore {
	return &VariantStore{
		nextID: make(map[domain.EntityKind]int64),
		rows:   make(map[domain.EntityKind]map[int64]domain.Variant),
	}
}

func (s *VariantStore) WithTx(pgx.Tx) repository.VariantRepository { return s }

func (s *VariantStore) Create(ctx context.Context, variant domain.Variant) (domain.Variant, error) {
	if s.CreateErr != nil {
		return domain.Variant{}, s.CreateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID[variant.Kind]++
	variant.ID = s.nextID[variant.Kind]
	variant.Version = 1
	now := time.Now().UTC()
	variant.CreatedAt = now
	variant.UpdatedAt = now

	fields := make(map[string]any, len(variant.Fields))
	for name, value := range variant.Fields {
		if value == nil {
			continue
		}
		fields[name] = value
	}
	variant.Fields = fields

	if s.rows[variant.Kind] == nil {
		s.rows[variant.Kind] = make(map[int64]domain.Variant)
	}
	s.rows[variant.Kind][variant.ID] = variant
	return copyVariant(variant), nil
}

func (s *VariantStore) GetByID(ctx context.Context, kind domain.EntityKind, id int64) (domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(kind, id)
}

func (s *VariantStore) GetByIDs(ctx context.Context, kind domain.EntityKind, ids []int64) ([]domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetByIDsCalls++

	variants := []domain.Variant{}
	for _, id := range ids {
		if variant, ok := s.rows[kind][id]; ok {
			variants = append(variants, copyVariant(variant))
		}
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i].ID < variants[j].ID })
	return variants, nil
}

func (s *VariantStore) GetForUpdate(ctx context.Context, kind domain.EntityKind, id int64) (domain.Variant, error) {
	if s.LockBusy {
		return domain.Variant{}, domain.ErrConcurrentModification
	}
	return s.GetByID(ctx, kind, id)
}

func (s *VariantStore) UpdateFields(ctx context.Context, kind domain.EntityKind, id int64, updates map[string]any, updatedBy string, expectedVersion int64) (domain.Variant, error) {
	if s.UpdateErr != nil {
		return domain.Variant{}, s.UpdateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	variant, err := s.get(kind, id)
	if err != nil {
		return domain.Variant{}, err
	}
	if variant.Version != expectedVersion {
		return domain.Variant{}, fmt.Errorf("%s variant %d version %d is stale: %w",
			kind, id, expectedVersion, domain.ErrConcurrentModification)
	}

	for name, value := range updates {
		if value == nil {
			delete(variant.Fields, name)
			continue
		}
		variant.Fields[name] = value
	}
	variant.Version++
	variant.UpdatedAt = time.Now().UTC()
	variant.UpdatedBy = &updatedBy

	s.rows[kind][id] = variant
	return copyVariant(variant), nil
}

func (s *VariantStore) ListChildren(ctx context.Context, kind domain.EntityKind, parentID int64) ([]domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	children := []domain.Variant{}
	for _, variant := range s.rows[kind] {
		if variant.ParentVariantID != nil && *variant.ParentVariantID == parentID {
			children = append(children, copyVariant(variant))
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	return children, nil
}

func (s *VariantStore) ListByReference(ctx context.Context, kind domain.EntityKind, field string, refID int64) ([]domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := []domain.Variant{}
	for _, variant := range s.rows[kind] {
		switch value := variant.Fields[field].(type) {
		case int64:
			if value == refID {
				matches = append(matches, copyVariant(variant))
			}
		case float64:
			if int64(value) == refID {
				matches = append(matches, copyVariant(variant))
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

func (s *VariantStore) List(ctx context.Context, kind domain.EntityKind, limit, offset int) ([]domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := []domain.Variant{}
	for _, variant := range s.rows[kind] {
		all = append(all, copyVariant(variant))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if limit <= 0 {
		limit = 100
	}
	if offset >= len(all) {
		return []domain.Variant{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *VariantStore) Exists(ctx context.Context, kind domain.EntityKind, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[kind][id]
	return ok, nil
}

func (s *VariantStore) Delete(ctx context.Context, kind domain.EntityKind, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[kind][id]; !ok {
		return fmt.Errorf("%s variant %d %w", kind, id, domain.ErrNotFound)
	}
	// Children fall with the parent, like the FK cascade.
	pending := []int64{id}
	for len(pending) > 0 {
		current := pending[0]
		pending = pending[1:]
		for childID, variant := range s.rows[kind] {
			if variant.ParentVariantID != nil && *variant.ParentVariantID == current {
				pending = append(pending, childID)
			}
		}
		delete(s.rows[kind], current)
	}
	return nil
}

// SetParent rewrites a stored parent pointer, bypassing creation rules.
// Tests use it to manufacture corrupt lineages.
func (s *VariantStore) SetParent(kind domain.EntityKind, id int64, parentID *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	variant, ok := s.rows[kind][id]
	if !ok {
		return
	}
	variant.ParentVariantID = parentID
	s.rows[kind][id] = variant
}

func (s *VariantStore) get(kind domain.EntityKind, id int64) (domain.Variant, error) {
	variant, ok := s.rows[kind][id]
	if !ok {
		return domain.Variant{}, fmt.Errorf("%s variant %d %w", kind, id, domain.ErrNotFound)
	}
	return copyVariant(variant), nil
}

func copyVariant(variant domain.Variant) domain.Variant {
	fields := make(map[string]any, len(variant.Fields))
	for name, value := range variant.Fields {
		fields[name] = value
	}
	variant.Fields = fields
	return variant
}

// AuditStore is an in-memory AuditRepository. Link rows are tracked per
// record so tests can corrupt them deliberately.
type AuditStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]domain.AuditRecord
	links   map[int64][]domain.EntityRef

	// InsertErr, when set, fails Insert.
	InsertErr error
}

// NewAuditStore creates an empty in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		records: make(map[int64]domain.AuditRecord),
		links:   make(map[int64][]domain.EntityRef),
	}
}

func (s *AuditStore) WithTx(pgx.Tx) repository.AuditRepository { return s }

func (s *AuditStore) Insert(ctx context.Context, ref domain.EntityRef, record domain.AuditRecord) (domain.AuditRecord, error) {
	if s.InsertErr != nil {
		return domain.AuditRecord{}, s.InsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	record.AuditID = s.nextID
	record.ChangedAt = time.Now().UTC()
	record.Entity = nil

	s.records[record.AuditID] = record
	s.links[record.AuditID] = []domain.EntityRef{ref}

	stored := record
	stored.Entity = &ref
	return stored, nil
}

func (s *AuditStore) GetByID(ctx context.Context, auditID int64) (domain.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[auditID]
	if !ok {
		return domain.AuditRecord{}, fmt.Errorf("audit record %d %w", auditID, domain.ErrNotFound)
	}
	return record, nil
}

func (s *AuditStore) ResolveRef(ctx context.Context, auditID int64) (domain.EntityRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	links := s.links[auditID]
	switch len(links) {
	case 1:
		return links[0], nil
	case 0:
		return domain.EntityRef{}, fmt.Errorf("audit record %d has no link row: %w", auditID, domain.ErrLinkageCorrupt)
	default:
		return domain.EntityRef{}, fmt.Errorf("audit record %d is linked from multiple kinds: %w", auditID, domain.ErrLinkageCorrupt)
	}
}

func (s *AuditStore) History(ctx context.Context, kind domain.EntityKind, entityID int64, limit int) ([]domain.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := domain.EntityRef{Kind: kind, ID: entityID}
	records := []domain.AuditRecord{}
	for auditID, links := range s.links {
		if len(links) == 1 && links[0] == target {
			record := s.records[auditID]
			record.Entity = &target
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].AuditID > records[j].AuditID })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *AuditStore) RecentChanges(ctx context.Context, limit, offset int) ([]domain.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := []domain.AuditRecord{}
	for auditID, links := range s.links {
		if len(links) != 1 {
			continue
		}
		record := s.records[auditID]
		ref := links[0]
		record.Entity = &ref
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].ChangedAt.Equal(records[j].ChangedAt) {
			return records[i].ChangedAt.After(records[j].ChangedAt)
		}
		return records[i].AuditID > records[j].AuditID
	})

	if offset >= len(records) {
		return []domain.AuditRecord{}, nil
	}
	records = records[offset:]
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *AuditStore) DeleteForEntities(ctx context.Context, kind domain.EntityKind, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make(map[domain.EntityRef]bool, len(ids))
	for _, id := range ids {
		targets[domain.EntityRef{Kind: kind, ID: id}] = true
	}
	for auditID, links := range s.links {
		if len(links) == 1 && targets[links[0]] {
			delete(s.records, auditID)
			delete(s.links, auditID)
		}
	}
	return nil
}

// Count returns the number of stored audit records.
func (s *AuditStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// BreakLink removes the record's link row, simulating corruption.
func (s *AuditStore) BreakLink(auditID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[auditID] = nil
}

// DuplicateLink adds a second link row, simulating corruption.
func (s *AuditStore) DuplicateLink(auditID int64, ref domain.EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[auditID] = append(s.links[auditID], ref)
}

// ProcessStore is an in-memory ProcessRepository.
type ProcessStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.Process
	byKey  map[string]int64
}

// NewProcessStore creates an empty in-memory process store.
func NewProcessStore() *ProcessStore {
	return &ProcessStore{
		rows:  make(map[int64]domain.Process),
		byKey: make(map[string]int64),
	}
}

func (s *ProcessStore) WithTx(pgx.Tx) repository.ProcessRepository { return s }

func processKey(name, version string) string { return name + "\x00" + version }

func (s *ProcessStore) CreateIfAbsent(ctx context.Context, process domain.Process) (domain.Process, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[processKey(process.Name, process.Version)]; ok {
		return s.rows[id], false, nil
	}
	s.nextID++
	process.ID = s.nextID
	process.CreatedAt = time.Now().UTC()
	s.rows[process.ID] = process
	s.byKey[processKey(process.Name, process.Version)] = process.ID
	return process, true, nil
}

func (s *ProcessStore) GetByID(ctx context.Context, id int64) (domain.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	process, ok := s.rows[id]
	if !ok {
		return domain.Process{}, fmt.Errorf("process %d %w", id, domain.ErrNotFound)
	}
	return process, nil
}

func (s *ProcessStore) GetByNameVersion(ctx context.Context, name, version string) (domain.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[processKey(name, version)]
	if !ok {
		return domain.Process{}, fmt.Errorf("process %q version %q %w", name, version, domain.ErrNotFound)
	}
	return s.rows[id], nil
}

func (s *ProcessStore) List(ctx context.Context, limit, offset int) ([]domain.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := []domain.Process{}
	for _, process := range s.rows {
		all = append(all, process)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// ParameterStore is an in-memory ParameterRepository.
type ParameterStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.ProcessParameter
	links  map[int64]domain.EntityRef
}

// NewParameterStore creates an empty in-memory parameter store.
func NewParameterStore() *ParameterStore {
	return &ParameterStore{
		rows:  make(map[int64]domain.ProcessParameter),
		links: make(map[int64]domain.EntityRef),
	}
}

func (s *ParameterStore) WithTx(pgx.Tx) repository.ParameterRepository { return s }

func (s *ParameterStore) CreateWithLink(ctx context.Context, ref domain.EntityRef, parameter domain.ProcessParameter) (domain.ProcessParameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	parameter.ID = s.nextID
	parameter.CreatedAt = time.Now().UTC()
	s.rows[parameter.ID] = parameter
	s.links[parameter.ID] = ref
	return parameter, nil
}

func (s *ParameterStore) GetByID(ctx context.Context, id int64) (domain.ProcessParameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parameter, ok := s.rows[id]
	if !ok {
		return domain.ProcessParameter{}, fmt.Errorf("parameter %d %w", id, domain.ErrNotFound)
	}
	return parameter, nil
}

func (s *ParameterStore) ListForEntity(ctx context.Context, ref domain.EntityRef) ([]domain.ProcessParameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parameters := []domain.ProcessParameter{}
	for id, linked := range s.links {
		if linked == ref {
			parameters = append(parameters, s.rows[id])
		}
	}
	sort.Slice(parameters, func(i, j int) bool { return parameters[i].ID < parameters[j].ID })
	return parameters, nil
}

func (s *ParameterStore) DeleteForEntities(ctx context.Context, kind domain.EntityKind, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make(map[domain.EntityRef]bool, len(ids))
	for _, id := range ids {
		targets[domain.EntityRef{Kind: kind, ID: id}] = true
	}
	for id, linked := range s.links {
		if targets[linked] {
			delete(s.rows, id)
			delete(s.links, id)
		}
	}
	return nil
}

// Count returns the number of stored parameters.
func (s *ParameterStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// ReferenceStore serves the seeded reference rows from memory.
type ReferenceStore struct{}

var variantTypes = []domain.VariantType{
	{ID: domain.VariantTypeOriginal, Name: "original"},
	{ID: domain.VariantTypeProcessed, Name: "processed"},
	{ID: domain.VariantTypeManual, Name: "manual"},
	{ID: domain.VariantTypeSimulated, Name: "simulated"},
	{ID: domain.VariantTypeUserInput, Name: "user_input"},
	{ID: domain.VariantTypeSensorDerived, Name: "sensor_derived"},
	{ID: domain.VariantTypeModelOutput, Name: "model_output"},
}

var speciesRows = []domain.Species{
	{ID: 1, ScientificName: "Fagus sylvatica", CommonName: "European beech"},
	{ID: 2, ScientificName: "Picea abies", CommonName: "Norway spruce"},
}

func (ReferenceStore) ListVariantTypes(ctx context.Context) ([]domain.VariantType, error) {
	return variantTypes, nil
}

func (ReferenceStore) GetVariantType(ctx context.Context, id int32) (domain.VariantType, error) {
	for _, vt := range variantTypes {
		if vt.ID == id {
			return vt, nil
		}
	}
	return domain.VariantType{}, fmt.Errorf("variant type %d %w", id, domain.ErrNotFound)
}

func (ReferenceStore) ListSpecies(ctx context.Context) ([]domain.Species, error) {
	return speciesRows, nil
}

func (ReferenceStore) GetSpecies(ctx context.Context, id int32) (domain.Species, error) {
	for _, sp := range speciesRows {
		if sp.ID == id {
			return sp, nil
		}
	}
	return domain.Species{}, fmt.Errorf("species %d %w", id, domain.ErrNotFound)
}

// IngestionLogStore is an in-memory IngestionLogRepository.
type IngestionLogStore struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]domain.IngestionRun
	rowErrors []domain.IngestionRowError
	nextErrID int64
}

// NewIngestionLogStore creates an empty in-memory ingestion log store.
func NewIngestionLogStore() *IngestionLogStore {
	return &IngestionLogStore{runs: make(map[uuid.UUID]domain.IngestionRun)}
}

func (s *IngestionLogStore) CreateRun(ctx context.Context, run domain.IngestionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *IngestionLogStore) FinishRun(ctx context.Context, run domain.IngestionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("ingestion run %s %w", run.ID, domain.ErrNotFound)
	}
	stored.TotalRows = run.TotalRows
	stored.CreatedRows = run.CreatedRows
	stored.UpdatedRows = run.UpdatedRows
	stored.SkippedRows = run.SkippedRows
	stored.FailedRows = run.FailedRows
	now := time.Now().UTC()
	stored.FinishedAt = &now
	s.runs[run.ID] = stored
	return nil
}

func (s *IngestionLogStore) GetRun(ctx context.Context, id uuid.UUID) (domain.IngestionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.IngestionRun{}, fmt.Errorf("ingestion run %s %w", id, domain.ErrNotFound)
	}
	return run, nil
}

func (s *IngestionLogStore) AddRowError(ctx context.Context, rowError domain.IngestionRowError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextErrID++
	rowError.ID = s.nextErrID
	rowError.CreatedAt = time.Now().UTC()
	s.rowErrors = append(s.rowErrors, rowError)
	return nil
}

func (s *IngestionLogStore) ListRowErrors(ctx context.Context, runID uuid.UUID, limit int) ([]domain.IngestionRowError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rowErrors := []domain.IngestionRowError{}
	for _, rowError := range s.rowErrors {
		if rowError.RunID == runID {
			rowErrors = append(rowErrors, rowError)
		}
	}
	if limit > 0 && len(rowErrors) > limit {
		rowErrors = rowErrors[:limit]
	}
	return rowErrors, nil
}

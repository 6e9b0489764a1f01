package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/registry"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Postgres error codes translated into domain errors.
const (
	pgLockNotAvailable    = "55P03"
	pgForeignKeyViolation = "23503"
)

// variantRepository implements VariantRepository over the per-kind
// tables described by the registry.
type variantRepository struct {
	q   db.Querier
	reg *registry.Registry
}

// NewVariantRepository creates a new variant repository.
func NewVariantRepository(conn *db.Connection, reg *registry.Registry) VariantRepository {
	return &variantRepository{q: conn.Pool, reg: reg}
}

func (r *variantRepository) WithTx(tx pgx.Tx) VariantRepository {
	return &variantRepository{q: tx, reg: r.reg}
}

// envelopeColumns lists the generic variant columns every kind's table
// carries, in the fixed order the scanners expect.
func envelopeColumns(d registry.Descriptor) []string {
	return []string{
		d.IDColumn, d.ParentColumn, "process_id", "variant_type_id",
		"version", "created_at", "created_by", "updated_at", "updated_by",
	}
}

// selectVariantSQL builds the SELECT clause covering the envelope plus
// all domain columns of the kind.
func selectVariantSQL(d registry.Descriptor) string {
	cols := append(envelopeColumns(d), d.FieldColumns()...)
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), d.Table)
}

// insertVariantSQL builds the INSERT statement for the envelope plus the
// given domain columns, returning the full row.
func insertVariantSQL(d registry.Descriptor, fieldCols []string) string {
	cols := []string{d.ParentColumn, "process_id", "variant_type_id", "created_by"}
	cols = append(cols, fieldCols...)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	returning := append(envelopeColumns(d), d.FieldColumns()...)
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		d.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(returning, ", "),
	)
}

// updateVariantSQL builds the check-and-set UPDATE for the given
// columns. Columns in nullCols are set to NULL without a placeholder;
// the trailing placeholders are updated_by, id and the expected version.
func updateVariantSQL(d registry.Descriptor, setCols, nullCols []string) string {
	assignments := make([]string, 0, len(setCols)+len(nullCols)+3)
	arg := 1
	for _, col := range setCols {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", col, arg))
		arg++
	}
	for _, col := range nullCols {
		assignments = append(assignments, col+" = NULL")
	}
	assignments = append(assignments,
		"version = version + 1",
		"updated_at = now()",
		fmt.Sprintf("updated_by = $%d", arg),
	)
	returning := append(envelopeColumns(d), d.FieldColumns()...)
	return fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = $%d AND version = $%d RETURNING %s",
		d.Table, strings.Join(assignments, ", "), d.IDColumn, arg+1, arg+2, strings.Join(returning, ", "),
	)
}

func (r *variantRepository) Create(ctx context.Context, variant domain.Variant) (domain.Variant, error) {
	d, err := r.reg.Descriptor(variant.Kind)
	if err != nil {
		return domain.Variant{}, err
	}

	// Only provided, non-nil fields go into the column list; the rest
	// fall back to the table defaults.
	fieldCols := make([]string, 0, len(d.Fields))
	fieldArgs := make([]any, 0, len(d.Fields))
	for _, spec := range d.Fields {
		value, ok := variant.Fields[spec.Name]
		if !ok || value == nil {
			continue
		}
		fieldCols = append(fieldCols, spec.Name)
		fieldArgs = append(fieldArgs, value)
	}

	args := make([]any, 0, 4+len(fieldArgs))
	args = append(args, variant.ParentVariantID, variant.ProcessID, variant.VariantTypeID, variant.CreatedBy)
	args = append(args, fieldArgs...)

	row := r.q.QueryRow(ctx, insertVariantSQL(d, fieldCols), args...)
	created, err := scanVariant(row, d)
	if err != nil {
		if vErr := fkValidationError(d, err); vErr != nil {
			return domain.Variant{}, vErr
		}
		return domain.Variant{}, fmt.Errorf("failed to create %s variant: %w", variant.Kind, err)
	}
	return created, nil
}

func (r *variantRepository) GetByID(ctx context.Context, kind domain.EntityKind, id int64) (domain.Variant, error) {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return domain.Variant{}, err
	}

	sql := fmt.Sprintf("%s WHERE %s = $1", selectVariantSQL(d), d.IDColumn)
	variant, err := scanVariant(r.q.QueryRow(ctx, sql, id), d)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Variant{}, fmt.Errorf("%s variant %d %w", kind, id, domain.ErrNotFound)
		}
		return domain.Variant{}, fmt.Errorf("failed to get %s variant %d: %w", kind, id, err)
	}
	return variant, nil
}

func (r *variantRepository) GetByIDs(ctx context.Context, kind domain.EntityKind, ids []int64) ([]domain.Variant, error) {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Variant{}, nil
	}

	sql := fmt.Sprintf("%s WHERE %s = ANY($1) ORDER BY %s", selectVariantSQL(d), d.IDColumn, d.IDColumn)
	rows, err := r.q.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s variants: %w", kind, err)
	}
	defer rows.Close()

	return collectVariants(rows, d)
}

func (r *variantRepository) GetForUpdate(ctx context.Context, kind domain.EntityKind, id int64) (domain.Variant, error) {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return domain.Variant{}, err
	}

	sql := fmt.Sprintf("%s WHERE %s = $1 FOR UPDATE NOWAIT", selectVariantSQL(d), d.IDColumn)
	variant, err := scanVariant(r.q.QueryRow(ctx, sql, id), d)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Variant{}, fmt.Errorf("%s variant %d %w", kind, id, domain.ErrNotFound)
		}
		return domain.Variant{}, fmt.Errorf("failed to lock %s variant %d: %w", kind, id, translateLockError(err))
	}
	return variant, nil
}

func (r *variantRepository) UpdateFields(ctx context.Context, kind domain.EntityKind, id int64, updates map[string]any, updatedBy string, expectedVersion int64) (domain.Variant, error) {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return domain.Variant{}, err
	}
	if len(updates) == 0 {
		return domain.Variant{}, fmt.Errorf("no columns to update for %s variant %d", kind, id)
	}

	// Deterministic column order, nil values become literal NULLs.
	setCols := make([]string, 0, len(updates))
	nullCols := make([]string, 0)
	args := make([]any, 0, len(updates)+3)
	for _, spec := range d.Fields {
		value, ok := updates[spec.Name]
		if !ok {
			continue
		}
		if value == nil {
			nullCols = append(nullCols, spec.Name)
			continue
		}
		setCols = append(setCols, spec.Name)
		args = append(args, value)
	}
	args = append(args, updatedBy, id, expectedVersion)

	row := r.q.QueryRow(ctx, updateVariantSQL(d, setCols, nullCols), args...)
	variant, err := scanVariant(row, d)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row exists (caller holds the lock) but the version moved.
			return domain.Variant{}, fmt.Errorf("%s variant %d version %d is stale: %w",
				kind, id, expectedVersion, domain.ErrConcurrentModification)
		}
		if vErr := fkValidationError(d, err); vErr != nil {
			return domain.Variant{}, vErr
		}
		return domain.Variant{}, fmt.Errorf("failed to update %s variant %d: %w", kind, id, err)
	}
	return variant, nil
}

func (r *variantRepository) ListChildren(ctx context.Context, kind domain.EntityKind, parentID int64) ([]domain.Variant, error) {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("%s WHERE %s = $1 ORDER BY %s", selectVariantSQL(d), d.ParentColumn, d.IDColumn)
	rows, err := r.q.Query(ctx, sql, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s children of %d: %w", kind, parentID, err)
	}
	defer rows.Close()

	return collectVariants(rows, d)
}

func (r *variantRepository) ListByReference(ctx context.Context, kind domain.EntityKind, field string, refID int64) ([]domain.Variant, error) {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return nil, err
	}
	// The field name is interpolated into SQL, so it must be a declared
	// column of the kind.
	if _, ok := d.FieldSpec(field); !ok {
		return nil, fmt.Errorf("kind %s has no field %q", kind, field)
	}

	sql := fmt.Sprintf("%s WHERE %s = $1 ORDER BY %s", selectVariantSQL(d), field, d.IDColumn)
	rows, err := r.q.Query(ctx, sql, refID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s referencing %d: %w", kind, refID, err)
	}
	defer rows.Close()

	return collectVariants(rows, d)
}

func (r *variantRepository) List(ctx context.Context, kind domain.EntityKind, limit, offset int) ([]domain.Variant, error) {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	sql := fmt.Sprintf("%s ORDER BY %s LIMIT $1 OFFSET $2", selectVariantSQL(d), d.IDColumn)
	rows, err := r.q.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s variants: %w", kind, err)
	}
	defer rows.Close()

	return collectVariants(rows, d)
}

func (r *variantRepository) Exists(ctx context.Context, kind domain.EntityKind, id int64) (bool, error) {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return false, err
	}

	var exists bool
	sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)", d.Table, d.IDColumn)
	if err := r.q.QueryRow(ctx, sql, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check %s variant %d: %w", kind, id, err)
	}
	return exists, nil
}

func (r *variantRepository) Delete(ctx context.Context, kind domain.EntityKind, id int64) error {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", d.Table, d.IDColumn)
	tag, err := r.q.Exec(ctx, sql, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s variant %d: %w", kind, id, translateDeleteError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s variant %d %w", kind, id, domain.ErrNotFound)
	}
	return nil
}

// translateLockError maps lock-not-available onto
// ErrConcurrentModification; other errors pass through unchanged.
func translateLockError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return domain.ErrConcurrentModification
	}
	return err
}

// fkValidationError converts a foreign key violation raised by an
// insert or update into a per-field validation error, since the
// dangling reference came from caller input. Returns nil otherwise.
func fkValidationError(d registry.Descriptor, err error) *domain.ValidationError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgForeignKeyViolation {
		return nil
	}
	return &domain.ValidationError{Fields: []domain.FieldError{{
		Field:   constraintColumn(d, pgErr.ConstraintName),
		Message: "references a missing row",
	}}}
}

// translateDeleteError maps foreign key violations raised by remaining
// referrers onto ErrStillReferenced.
func translateDeleteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, domain.ErrStillReferenced)
	}
	return err
}

// constraintColumn recovers the column from a default-named foreign key
// constraint (<table>_<column>_fkey). The migrations leave constraint
// naming to Postgres, so the default form holds.
func constraintColumn(d registry.Descriptor, constraint string) string {
	col := strings.TrimSuffix(constraint, "_fkey")
	col = strings.TrimPrefix(col, d.Table+"_")
	if col == "" {
		return constraint
	}
	return col
}

// fieldHolder is a typed scan destination for one domain column.
type fieldHolder struct {
	ft        domain.FieldType
	float     pgtype.Float8
	integer   pgtype.Int8
	text      pgtype.Text
	boolean   pgtype.Bool
	timestamp pgtype.Timestamptz
}

func (h *fieldHolder) dest() any {
	switch h.ft {
	case domain.FieldFloat:
		return &h.float
	case domain.FieldInt:
		return &h.integer
	case domain.FieldBoolean:
		return &h.boolean
	case domain.FieldTimestamp:
		return &h.timestamp
	default:
		return &h.text
	}
}

func (h *fieldHolder) value() (any, bool) {
	switch h.ft {
	case domain.FieldFloat:
		return h.float.Float64, h.float.Valid
	case domain.FieldInt:
		return h.integer.Int64, h.integer.Valid
	case domain.FieldBoolean:
		return h.boolean.Bool, h.boolean.Valid
	case domain.FieldTimestamp:
		return h.timestamp.Time, h.timestamp.Valid
	default:
		return h.text.String, h.text.Valid
	}
}

// scanVariant reads one row laid out as envelopeColumns + FieldColumns.
func scanVariant(row pgx.Row, d registry.Descriptor) (domain.Variant, error) {
	var (
		id            int64
		parent        pgtype.Int8
		process       pgtype.Int8
		variantTypeID int32
		version       int64
		createdAt     time.Time
		createdBy     string
		updatedAt     time.Time
		updatedBy     pgtype.Text
	)

	dests := []any{&id, &parent, &process, &variantTypeID, &version, &createdAt, &createdBy, &updatedAt, &updatedBy}
	holders := make([]*fieldHolder, len(d.Fields))
	for i, spec := range d.Fields {
		holders[i] = &fieldHolder{ft: spec.Type}
		dests = append(dests, holders[i].dest())
	}

	if err := row.Scan(dests...); err != nil {
		return domain.Variant{}, err
	}

	fields := make(map[string]any, len(d.Fields))
	for i, spec := range d.Fields {
		if value, ok := holders[i].value(); ok {
			fields[spec.Name] = value
		}
	}

	variant := domain.Variant{
		Kind:          d.Kind,
		ID:            id,
		VariantTypeID: variantTypeID,
		Fields:        fields,
		Version:       version,
		CreatedAt:     createdAt,
		CreatedBy:     createdBy,
		UpdatedAt:     updatedAt,
	}
	if parent.Valid {
		variant.ParentVariantID = &parent.Int64
	}
	if process.Valid {
		variant.ProcessID = &process.Int64
	}
	if updatedBy.Valid {
		variant.UpdatedBy = &updatedBy.String
	}
	return variant, nil
}

// collectVariants drains rows with the same layout scanVariant expects.
func collectVariants(rows pgx.Rows, d registry.Descriptor) ([]domain.Variant, error) {
	variants := []domain.Variant{}
	for rows.Next() {
		variant, err := scanVariant(rows, d)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s variant: %w", d.Kind, err)
		}
		variants = append(variants, variant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s variants: %w", d.Kind, err)
	}
	return variants, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/registry"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const auditRecordColumns = "audit_id, field_name, old_value, new_value, change_type, change_reason, user_id, client_info, changed_at"

// auditRepository implements AuditRepository over the shared
// audit_records table and the per-kind link tables.
type auditRepository struct {
	q   db.Querier
	reg *registry.Registry
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(conn *db.Connection, reg *registry.Registry) AuditRepository {
	return &auditRepository{q: conn.Pool, reg: reg}
}

func (r *auditRepository) WithTx(tx pgx.Tx) AuditRepository {
	return &auditRepository{q: tx, reg: r.reg}
}

func (r *auditRepository) Insert(ctx context.Context, ref domain.EntityRef, record domain.AuditRecord) (domain.AuditRecord, error) {
	d, err := r.reg.Descriptor(ref.Kind)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	if !record.ChangeType.Valid() {
		return domain.AuditRecord{}, fmt.Errorf("invalid change type %q", record.ChangeType)
	}

	insertRecord := `INSERT INTO audit_records (field_name, old_value, new_value, change_type, change_reason, user_id, client_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING audit_id, changed_at`
	err = r.q.QueryRow(ctx, insertRecord,
		record.FieldName, record.OldValue, record.NewValue, string(record.ChangeType),
		record.ChangeReason, record.UserID, record.ClientInfo,
	).Scan(&record.AuditID, &record.ChangedAt)
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("failed to insert audit record: %w", err)
	}

	insertLink := fmt.Sprintf("INSERT INTO %s (audit_id, %s) VALUES ($1, $2)", d.AuditLinkTable, d.IDColumn)
	if _, err := r.q.Exec(ctx, insertLink, record.AuditID, ref.ID); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("failed to link audit record %d to %s: %w", record.AuditID, ref, err)
	}

	record.Entity = &ref
	return record, nil
}

func (r *auditRepository) GetByID(ctx context.Context, auditID int64) (domain.AuditRecord, error) {
	sql := fmt.Sprintf("SELECT %s FROM audit_records WHERE audit_id = $1", auditRecordColumns)
	record, err := scanAuditRecord(r.q.QueryRow(ctx, sql, auditID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuditRecord{}, fmt.Errorf("audit record %d %w", auditID, domain.ErrNotFound)
		}
		return domain.AuditRecord{}, fmt.Errorf("failed to get audit record %d: %w", auditID, err)
	}
	return record, nil
}

func (r *auditRepository) ResolveRef(ctx context.Context, auditID int64) (domain.EntityRef, error) {
	var hits []domain.EntityRef
	for _, kind := range r.reg.Kinds() {
		d, err := r.reg.Descriptor(kind)
		if err != nil {
			return domain.EntityRef{}, err
		}
		sql := fmt.Sprintf("SELECT %s FROM %s WHERE audit_id = $1", d.IDColumn, d.AuditLinkTable)
		var entityID int64
		err = r.q.QueryRow(ctx, sql, auditID).Scan(&entityID)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return domain.EntityRef{}, fmt.Errorf("failed to probe %s for audit record %d: %w", d.AuditLinkTable, auditID, err)
		}
		hits = append(hits, domain.EntityRef{Kind: kind, ID: entityID})
	}

	switch len(hits) {
	case 1:
		return hits[0], nil
	case 0:
		return domain.EntityRef{}, fmt.Errorf("audit record %d has no link row: %w", auditID, domain.ErrLinkageCorrupt)
	default:
		kinds := make([]string, len(hits))
		for i, h := range hits {
			kinds[i] = string(h.Kind)
		}
		return domain.EntityRef{}, fmt.Errorf("audit record %d is linked from multiple kinds (%s): %w",
			auditID, strings.Join(kinds, ", "), domain.ErrLinkageCorrupt)
	}
}

// historySQL joins the kind's own link table so records are attributed
// strictly by it, never by a generic join across kinds.
func historySQL(d registry.Descriptor) string {
	return fmt.Sprintf(
		`SELECT r.audit_id, r.field_name, r.old_value, r.new_value, r.change_type, r.change_reason, r.user_id, r.client_info, r.changed_at
FROM audit_records r
JOIN %s l ON l.audit_id = r.audit_id
WHERE l.%s = $1
ORDER BY r.audit_id DESC
LIMIT $2`,
		d.AuditLinkTable, d.IDColumn,
	)
}

func (r *auditRepository) History(ctx context.Context, kind domain.EntityKind, entityID int64, limit int) ([]domain.AuditRecord, error) {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	rows, err := r.q.Query(ctx, historySQL(d), entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s %d: %w", kind, entityID, err)
	}
	defer rows.Close()

	records := []domain.AuditRecord{}
	for rows.Next() {
		record, err := scanAuditRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		record.Entity = &domain.EntityRef{Kind: kind, ID: entityID}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history for %s %d: %w", kind, entityID, err)
	}
	return records, nil
}

// recentChangesSQL unions the link tables into one tagged feed. The
// registry drives the branches, so a new kind extends the feed without
// touching this query.
func recentChangesSQL(reg *registry.Registry) string {
	branches := make([]string, 0)
	for _, kind := range reg.Kinds() {
		d, err := reg.Descriptor(kind)
		if err != nil {
			continue
		}
		branches = append(branches, fmt.Sprintf(
			"SELECT audit_id, '%s' AS kind, %s AS entity_id FROM %s",
			d.Kind, d.IDColumn, d.AuditLinkTable,
		))
	}
	return fmt.Sprintf(
		`SELECT r.audit_id, r.field_name, r.old_value, r.new_value, r.change_type, r.change_reason, r.user_id, r.client_info, r.changed_at, l.kind, l.entity_id
FROM audit_records r
JOIN (
%s
) l ON l.audit_id = r.audit_id
ORDER BY r.changed_at DESC, r.audit_id DESC
LIMIT $1 OFFSET $2`,
		strings.Join(branches, "\nUNION ALL\n"),
	)
}

func (r *auditRepository) RecentChanges(ctx context.Context, limit, offset int) ([]domain.AuditRecord, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	rows, err := r.q.Query(ctx, recentChangesSQL(r.reg), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent changes: %w", err)
	}
	defer rows.Close()

	records := []domain.AuditRecord{}
	for rows.Next() {
		var (
			record     domain.AuditRecord
			changeType string
			oldValue   pgtype.Text
			newValue   pgtype.Text
			reason     pgtype.Text
			clientInfo pgtype.Text
			kind       string
			entityID   int64
		)
		err := rows.Scan(
			&record.AuditID, &record.FieldName, &oldValue, &newValue, &changeType,
			&reason, &record.UserID, &clientInfo, &record.ChangedAt, &kind, &entityID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recent change: %w", err)
		}
		record.ChangeType = domain.ChangeType(changeType)
		applyNullable(&record, oldValue, newValue, reason, clientInfo)
		record.Entity = &domain.EntityRef{Kind: domain.EntityKind(kind), ID: entityID}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent changes: %w", err)
	}
	return records, nil
}

func (r *auditRepository) DeleteForEntities(ctx context.Context, kind domain.EntityKind, ids []int64) error {
	d, err := r.reg.Descriptor(kind)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	sql := fmt.Sprintf(
		"DELETE FROM audit_records WHERE audit_id IN (SELECT audit_id FROM %s WHERE %s = ANY($1))",
		d.AuditLinkTable, d.IDColumn,
	)
	if _, err := r.q.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("failed to delete audit records for %s variants: %w", kind, err)
	}
	return nil
}

// clampLimit applies the default and the upper bound shared by the
// audit read paths.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func scanAuditRecord(row pgx.Row) (domain.AuditRecord, error) {
	var (
		record     domain.AuditRecord
		changeType string
		oldValue   pgtype.Text
		newValue   pgtype.Text
		reason     pgtype.Text
		clientInfo pgtype.Text
	)
	err := row.Scan(
		&record.AuditID, &record.FieldName, &oldValue, &newValue, &changeType,
		&reason, &record.UserID, &clientInfo, &record.ChangedAt,
	)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	record.ChangeType = domain.ChangeType(changeType)
	applyNullable(&record, oldValue, newValue, reason, clientInfo)
	return record, nil
}

func applyNullable(record *domain.AuditRecord, oldValue, newValue, reason, clientInfo pgtype.Text) {
	if oldValue.Valid {
		record.OldValue = &oldValue.String
	}
	if newValue.Valid {
		record.NewValue = &newValue.String
	}
	if reason.Valid {
		record.ChangeReason = &reason.String
	}
	if clientInfo.Valid {
		record.ClientInfo = &clientInfo.String
	}
}

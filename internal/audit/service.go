// Package audit exposes the append-only change log: recording inside
// mutation transactions, per-entity history, the cross-kind feed and
// audit-to-entity resolution.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/metrics"
	"github.com/m-sperlich/digital-twin-db/internal/repository"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Service answers audit reads and records audit rows for the engines.
type Service struct {
	audits       repository.AuditRepository
	variants     repository.VariantRepository
	historyLimit int
	recentLimit  int
}

// NewService creates the audit service. historyLimit and recentLimit are
// the defaults applied when a caller passes no limit.
func NewService(audits repository.AuditRepository, variants repository.VariantRepository, historyLimit, recentLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	if recentLimit <= 0 {
		recentLimit = 50
	}
	return &Service{
		audits:       audits,
		variants:     variants,
		historyLimit: historyLimit,
		recentLimit:  recentLimit,
	}
}

// Record writes one audit record and its link row inside the mutation's
// transaction. There is deliberately no non-transactional variant: audit
// rows exist only for committed mutations.
func (s *Service) Record(ctx context.Context, tx pgx.Tx, ref domain.EntityRef, record domain.AuditRecord) (domain.AuditRecord, error) {
	created, err := s.audits.WithTx(tx).Insert(ctx, ref, record)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	metrics.AuditRecordsWritten.WithLabelValues(string(ref.Kind), string(created.ChangeType)).Inc()
	return created, nil
}

// Get returns one audit record with its owning variant resolved.
func (s *Service) Get(ctx context.Context, auditID int64) (domain.AuditRecord, error) {
	record, err := s.audits.GetByID(ctx, auditID)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	ref, err := s.ResolveRef(ctx, auditID)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	record.Entity = &ref
	return record, nil
}

// ResolveRef finds the variant an audit record belongs to. Corrupt
// linkage is logged loudly; the engine never guesses around it.
func (s *Service) ResolveRef(ctx context.Context, auditID int64) (domain.EntityRef, error) {
	ref, err := s.audits.ResolveRef(ctx, auditID)
	if err != nil {
		if errors.Is(err, domain.ErrLinkageCorrupt) {
			zap.S().Errorf("audit: linkage corrupt for record %d: %v", auditID, err)
		}
		return domain.EntityRef{}, err
	}
	return ref, nil
}

// History returns the newest-first change log of one variant, read
// through that kind's link table only. A missing variant is NotFound,
// an existing one without changes an empty slice.
func (s *Service) History(ctx context.Context, kind domain.EntityKind, entityID int64, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	records, err := s.audits.History(ctx, kind, entityID, limit)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		exists, err := s.variants.Exists(ctx, kind, entityID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%s %d %w", kind, entityID, domain.ErrNotFound)
		}
	}
	return records, nil
}

// RecentChanges returns the cross-kind feed, newest first.
func (s *Service) RecentChanges(ctx context.Context, limit, offset int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = s.recentLimit
	}
	return s.audits.RecentChanges(ctx, limit, offset)
}

// RemoveForEntities deletes the audit records of the given variants
// inside their referential-cleanup transaction. History is otherwise
// immutable; this is the one sanctioned removal path.
func (s *Service) RemoveForEntities(ctx context.Context, tx pgx.Tx, kind domain.EntityKind, ids []int64) error {
	return s.audits.WithTx(tx).DeleteForEntities(ctx, kind, ids)
}

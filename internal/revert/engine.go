// Package revert re-applies the old value of an audit record as a new,
// fully logged mutation. History is never rewritten: a revert adds a
// record, so a chain of reverts stays completely traceable.
package revert

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-sperlich/digital-twin-db/internal/audit"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/metrics"
	"github.com/m-sperlich/digital-twin-db/internal/mutation"

	"go.uber.org/zap"
)

// ErrNoChange reports that the audited field already holds the value the
// revert would restore.
var ErrNoChange = errors.New("field already holds the reverted value")

// Engine turns audit records back into mutations.
type Engine struct {
	audits      *audit.Service
	interceptor *mutation.Interceptor
}

// NewEngine creates the revert engine.
func NewEngine(audits *audit.Service, interceptor *mutation.Interceptor) *Engine {
	return &Engine{audits: audits, interceptor: interceptor}
}

// Revert restores the field recorded by auditID to its old value. The
// owning variant is resolved through the link tables; the restore runs
// through the interceptor as a single-field revert mutation, so the new
// audit record and the field update commit atomically. Only the targeted
// field changes.
func (e *Engine) Revert(ctx context.Context, caller domain.CallerContext, auditID int64, reason *string) (domain.AuditRecord, error) {
	record, err := e.audits.Get(ctx, auditID)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	ref := *record.Entity

	// Insert records snapshot the whole variant under the pseudo-field
	// "variant"; only field-level records can be reverted.
	if record.ChangeType == domain.ChangeTypeInsert {
		return domain.AuditRecord{}, &domain.ValidationError{Fields: []domain.FieldError{{
			Field: "audit_id", Message: fmt.Sprintf("audit record %d is an insert record and cannot be reverted", auditID),
		}}}
	}

	// The canonical old value feeds straight back in; normalization
	// coerces it to the field's native type.
	var oldValue any
	if record.OldValue != nil {
		oldValue = *record.OldValue
	}

	result, err := e.interceptor.Apply(ctx, mutation.Request{
		Caller:     caller,
		Kind:       ref.Kind,
		EntityID:   ref.ID,
		Updates:    map[string]any{record.FieldName: oldValue},
		Reason:     reason,
		ChangeType: domain.ChangeTypeRevert,
	})
	if err != nil {
		return domain.AuditRecord{}, err
	}
	if len(result.Records) == 0 {
		return domain.AuditRecord{}, fmt.Errorf("audit record %d: %w", auditID, ErrNoChange)
	}

	metrics.Reverts.WithLabelValues(string(ref.Kind)).Inc()
	zap.S().Infof("revert: user %s reverted audit record %d on %s as record %d",
		caller.UserID, auditID, ref, result.Records[0].AuditID)
	return result.Records[0], nil
}

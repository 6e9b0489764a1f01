// Package mutation implements the single write path for variant fields:
// every update runs through the interceptor, which locks the row, stages
// per-field diffs on tracked fields and writes the audit records in the
// same transaction as the update.
package mutation

import (
	"context"
	"fmt"

	"github.com/m-sperlich/digital-twin-db/internal/audit"
	"github.com/m-sperlich/digital-twin-db/internal/auth"
	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/metrics"
	"github.com/m-sperlich/digital-twin-db/internal/registry"
	"github.com/m-sperlich/digital-twin-db/internal/repository"
	"github.com/m-sperlich/digital-twin-db/pkg/validator"

	"github.com/EagleChen/mapmutex"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Request describes one mutation passing through the interceptor.
type Request struct {
	Caller   domain.CallerContext
	Kind     domain.EntityKind
	EntityID int64
	Updates  map[string]any
	Reason   *string
	// ChangeType tags the staged audit records; the zero value means
	// field_update. Bulk import and revert set their own.
	ChangeType domain.ChangeType
}

// Result is the outcome of an applied mutation: the variant after the
// update and the audit records staged for it. An unchanged variant
// yields the current state, no records and Noop set.
type Result struct {
	Variant domain.Variant
	Records []domain.AuditRecord
	Noop    bool
}

// Interceptor serializes and audits variant mutations.
type Interceptor struct {
	runner    db.TxRunner
	variants  repository.VariantRepository
	audits    *audit.Service
	reg       *registry.Registry
	validate  *validator.Validator
	locks     *mapmutex.Mutex
	ownerOnly bool
}

// NewInterceptor creates the change interceptor. ownerOnly switches on
// the owner-only-updates authorization policy.
func NewInterceptor(runner db.TxRunner, variants repository.VariantRepository, audits *audit.Service, reg *registry.Registry, ownerOnly bool) *Interceptor {
	return &Interceptor{
		runner:   runner,
		variants: variants,
		audits:   audits,
		reg:      reg,
		validate: validator.New(),
		// Three near-immediate attempts, then fail fast: contended
		// entities surface ConcurrentModification instead of queueing.
		locks:     mapmutex.NewCustomizedMapMutex(3, 100000000, 10, 1.1, 0.2),
		ownerOnly: ownerOnly,
	}
}

// ApplyMutation is the plain single-entity update path.
func (i *Interceptor) ApplyMutation(ctx context.Context, caller domain.CallerContext, kind domain.EntityKind, id int64, updates map[string]any, reason *string) (Result, error) {
	return i.Apply(ctx, Request{
		Caller:     caller,
		Kind:       kind,
		EntityID:   id,
		Updates:    updates,
		Reason:     reason,
		ChangeType: domain.ChangeTypeFieldUpdate,
	})
}

// Apply runs one mutation through the full interception path: per-entity
// try-lock, row lock, validation, staged diffs on tracked fields,
// check-and-set update and audit records, all in one transaction.
func (i *Interceptor) Apply(ctx context.Context, req Request) (Result, error) {
	d, err := i.reg.Descriptor(req.Kind)
	if err != nil {
		return Result{}, err
	}
	if !req.Caller.Valid() {
		return Result{}, fmt.Errorf("caller identity is required")
	}
	if req.ChangeType == "" {
		req.ChangeType = domain.ChangeTypeFieldUpdate
	}
	if !req.ChangeType.Valid() {
		return Result{}, fmt.Errorf("invalid change type %q", req.ChangeType)
	}

	if len(req.Updates) == 0 {
		current, err := i.variants.GetByID(ctx, req.Kind, req.EntityID)
		if err != nil {
			return Result{}, err
		}
		return Result{Variant: current, Noop: true}, nil
	}

	if vErr := i.validate.ValidateUpdate(req.Updates, d.Fields); vErr != nil {
		return Result{}, vErr
	}
	normalized, err := i.normalizeUpdates(d, req.Updates)
	if err != nil {
		return Result{}, err
	}

	ref := domain.EntityRef{Kind: req.Kind, ID: req.EntityID}
	if !i.locks.TryLock(ref.String()) {
		metrics.MutationConflicts.WithLabelValues(string(req.Kind)).Inc()
		return Result{}, fmt.Errorf("%s is being modified: %w", ref, domain.ErrConcurrentModification)
	}
	defer i.locks.Unlock(ref.String())

	var (
		result Result
		noop   bool
	)
	err = i.runner.WithTx(ctx, func(tx pgx.Tx) error {
		variants := i.variants.WithTx(tx)

		current, err := variants.GetForUpdate(ctx, req.Kind, req.EntityID)
		if err != nil {
			return err
		}
		if err := auth.EnforceOwnership(i.ownerOnly, req.Caller, current.CreatedBy); err != nil {
			return err
		}

		staged, changed, err := stageChanges(d, current, normalized)
		if err != nil {
			return err
		}
		if !changed {
			// Nothing differs, tracked or untracked: skip the write,
			// leave no audit rows.
			result = Result{Variant: current, Noop: true}
			noop = true
			return nil
		}

		updated, err := variants.UpdateFields(ctx, req.Kind, req.EntityID, normalized, req.Caller.UserID, current.Version)
		if err != nil {
			return err
		}

		records := make([]domain.AuditRecord, 0, len(staged))
		for _, change := range staged {
			record, err := i.audits.Record(ctx, tx, ref, domain.AuditRecord{
				FieldName:    change.Field,
				OldValue:     change.OldValue,
				NewValue:     change.NewValue,
				ChangeType:   req.ChangeType,
				ChangeReason: req.Reason,
				UserID:       req.Caller.UserID,
				ClientInfo:   req.Caller.ClientInfoPtr(),
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}

		result = Result{Variant: updated, Records: records}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if noop {
		metrics.MutationsNoop.WithLabelValues(string(req.Kind)).Inc()
		return result, nil
	}

	metrics.MutationsApplied.WithLabelValues(string(req.Kind), string(req.ChangeType)).Inc()
	zap.S().Infof("mutation: user %s applied %s to %s (%d audited fields)",
		req.Caller.UserID, req.ChangeType, ref, len(result.Records))
	return result, nil
}

// normalizeUpdates coerces raw update values to their native Go types.
func (i *Interceptor) normalizeUpdates(d registry.Descriptor, updates map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(updates))
	for name, value := range updates {
		spec, ok := d.FieldSpec(name)
		if !ok {
			return nil, &domain.ValidationError{Fields: []domain.FieldError{{
				Field: name, Message: "unknown field",
			}}}
		}
		if value == nil {
			normalized[name] = nil
			continue
		}
		coerced, err := i.validate.Normalize(spec, value)
		if err != nil {
			return nil, &domain.ValidationError{Fields: []domain.FieldError{{
				Field: name, Message: err.Error(),
			}}}
		}
		normalized[name] = coerced
	}
	return normalized, nil
}

// stageChanges compares the normalized updates against the current state
// in canonical form. It returns the staged diffs for tracked fields and
// whether any field at all (tracked or untracked) actually changes.
func stageChanges(d registry.Descriptor, current domain.Variant, updates map[string]any) ([]domain.FieldChange, bool, error) {
	staged := make([]domain.FieldChange, 0, len(updates))
	changed := false

	for _, spec := range d.Fields {
		newValue, ok := updates[spec.Name]
		if !ok {
			continue
		}

		oldCanonical, err := domain.CanonicalString(spec.Type, current.Fields[spec.Name])
		if err != nil {
			return nil, false, fmt.Errorf("failed to serialize current %s: %w", spec.Name, err)
		}
		newCanonical, err := domain.CanonicalString(spec.Type, newValue)
		if err != nil {
			return nil, false, fmt.Errorf("failed to serialize new %s: %w", spec.Name, err)
		}

		if !domain.ValuesDiffer(oldCanonical, newCanonical) {
			continue
		}
		changed = true
		if spec.Tracked {
			staged = append(staged, domain.FieldChange{
				Field:    spec.Name,
				OldValue: oldCanonical,
				NewValue: newCanonical,
			})
		}
	}
	return staged, changed, nil
}

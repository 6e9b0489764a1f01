// Package lineage creates variants and answers ancestry queries over the
// parent forest of each entity kind.
package lineage

import (
	"context"
	"errors"
	"fmt"

	"github.com/m-sperlich/digital-twin-db/internal/audit"
	"github.com/m-sperlich/digital-twin-db/internal/db"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/metrics"
	"github.com/m-sperlich/digital-twin-db/internal/registry"
	"github.com/m-sperlich/digital-twin-db/internal/repository"
	"github.com/m-sperlich/digital-twin-db/pkg/validator"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultMaxDepth bounds lineage and descendant traversal. Parents must
// pre-exist, so a chain this long means corrupted data, not real use.
const DefaultMaxDepth = 10000

// Node is one variant with its children in a descendant tree.
type Node struct {
	Variant  domain.Variant `json:"variant"`
	Children []*Node        `json:"children"`
}

// Manager creates root and derived variants and walks their ancestry.
type Manager struct {
	runner    db.TxRunner
	variants  repository.VariantRepository
	audits    *audit.Service
	processes repository.ProcessRepository
	params    repository.ParameterRepository
	reference repository.ReferenceRepository
	reg       *registry.Registry
	validate  *validator.Validator
	maxDepth  int
}

// NewManager creates the lineage manager. maxDepth bounds traversal;
// values below one fall back to DefaultMaxDepth.
func NewManager(
	runner db.TxRunner,
	variants repository.VariantRepository,
	audits *audit.Service,
	processes repository.ProcessRepository,
	params repository.ParameterRepository,
	reference repository.ReferenceRepository,
	reg *registry.Registry,
	maxDepth int,
) *Manager {
	if maxDepth < 1 {
		maxDepth = DefaultMaxDepth
	}
	return &Manager{
		runner:    runner,
		variants:  variants,
		audits:    audits,
		processes: processes,
		params:    params,
		reference: reference,
		reg:       reg,
		validate:  validator.New(),
		maxDepth:  maxDepth,
	}
}

// CreateRoot creates a parentless variant of the kind and logs the
// insert in the same transaction. A zero variantTypeID defaults to the
// original type.
func (m *Manager) CreateRoot(ctx context.Context, caller domain.CallerContext, kind domain.EntityKind, fields map[string]any, variantTypeID int32) (domain.Variant, error) {
	d, err := m.reg.Descriptor(kind)
	if err != nil {
		return domain.Variant{}, err
	}
	if !caller.Valid() {
		return domain.Variant{}, fmt.Errorf("caller identity is required")
	}
	if variantTypeID == 0 {
		variantTypeID = domain.VariantTypeOriginal
	}
	if err := m.checkVariantType(ctx, variantTypeID); err != nil {
		return domain.Variant{}, err
	}
	if vErr := m.validate.ValidateCreate(fields, d.Fields); vErr != nil {
		return domain.Variant{}, vErr
	}
	normalized, err := m.normalizeFields(d, fields)
	if err != nil {
		return domain.Variant{}, err
	}

	var created domain.Variant
	err = m.runner.WithTx(ctx, func(tx pgx.Tx) error {
		variant, err := m.variants.WithTx(tx).Create(ctx, domain.Variant{
			Kind:          kind,
			VariantTypeID: variantTypeID,
			Fields:        normalized,
			CreatedBy:     caller.UserID,
		})
		if err != nil {
			return err
		}
		if err := m.recordInsert(ctx, tx, d, variant, caller); err != nil {
			return err
		}
		created = variant
		return nil
	})
	if err != nil {
		return domain.Variant{}, err
	}

	metrics.VariantsCreated.WithLabelValues(string(kind), "root").Inc()
	zap.S().Infof("lineage: created %s root variant %d", kind, created.ID)
	return created, nil
}

// CreateChild creates a variant derived from parentID. Unspecified
// domain fields are inherited from the parent, so a derived variant
// starts as a copy and diverges only where the new fields say so.
func (m *Manager) CreateChild(ctx context.Context, caller domain.CallerContext, kind domain.EntityKind, parentID int64, fields map[string]any, processID *int64, variantTypeID int32) (domain.Variant, error) {
	d, err := m.reg.Descriptor(kind)
	if err != nil {
		return domain.Variant{}, err
	}
	if !caller.Valid() {
		return domain.Variant{}, fmt.Errorf("caller identity is required")
	}

	parent, err := m.variants.GetByID(ctx, kind, parentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Variant{}, fmt.Errorf("%s %d: %w", kind, parentID, domain.ErrParentNotFound)
		}
		return domain.Variant{}, err
	}

	if variantTypeID == 0 {
		variantTypeID = domain.VariantTypeProcessed
	}
	if err := m.checkVariantType(ctx, variantTypeID); err != nil {
		return domain.Variant{}, err
	}
	if processID != nil {
		if _, err := m.processes.GetByID(ctx, *processID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Variant{}, &domain.ValidationError{Fields: []domain.FieldError{{
					Field: "process_id", Message: fmt.Sprintf("process %d does not exist", *processID),
				}}}
			}
			return domain.Variant{}, err
		}
	}

	merged := parent.WithFields(fields).Fields
	if vErr := m.validate.ValidateCreate(merged, d.Fields); vErr != nil {
		return domain.Variant{}, vErr
	}
	normalized, err := m.normalizeFields(d, merged)
	if err != nil {
		return domain.Variant{}, err
	}

	var created domain.Variant
	err = m.runner.WithTx(ctx, func(tx pgx.Tx) error {
		variant, err := m.variants.WithTx(tx).Create(ctx, domain.Variant{
			Kind:            kind,
			ParentVariantID: &parent.ID,
			ProcessID:       processID,
			VariantTypeID:   variantTypeID,
			Fields:          normalized,
			CreatedBy:       caller.UserID,
		})
		if err != nil {
			return err
		}
		if err := m.recordInsert(ctx, tx, d, variant, caller); err != nil {
			return err
		}
		created = variant
		return nil
	})
	if err != nil {
		return domain.Variant{}, err
	}

	metrics.VariantsCreated.WithLabelValues(string(kind), "child").Inc()
	zap.S().Infof("lineage: created %s variant %d from parent %d", kind, created.ID, parent.ID)
	return created, nil
}

// Get returns one variant.
func (m *Manager) Get(ctx context.Context, kind domain.EntityKind, id int64) (domain.Variant, error) {
	return m.variants.GetByID(ctx, kind, id)
}

// List returns a page of variants of the kind.
func (m *Manager) List(ctx context.Context, kind domain.EntityKind, limit, offset int) ([]domain.Variant, error) {
	return m.variants.List(ctx, kind, limit, offset)
}

// GetLineage returns the ancestor chain ordered root first, ending with
// the requested variant. The walk is depth-bounded and detects repeated
// IDs; either condition means corrupted parent data.
func (m *Manager) GetLineage(ctx context.Context, kind domain.EntityKind, id int64) ([]domain.Variant, error) {
	current, err := m.variants.GetByID(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	chain := []domain.Variant{current}
	seen := map[int64]bool{current.ID: true}
	for current.ParentVariantID != nil {
		if len(chain) >= m.maxDepth {
			return nil, fmt.Errorf("lineage of %s %d exceeds depth bound %d: %w",
				kind, id, m.maxDepth, domain.ErrCycleDetected)
		}
		parent, err := m.variants.GetByID(ctx, kind, *current.ParentVariantID)
		if err != nil {
			return nil, fmt.Errorf("broken lineage of %s %d: %w", kind, id, err)
		}
		if seen[parent.ID] {
			return nil, fmt.Errorf("lineage of %s %d revisits variant %d: %w",
				kind, id, parent.ID, domain.ErrCycleDetected)
		}
		seen[parent.ID] = true
		chain = append(chain, parent)
		current = parent
	}

	// Walked child -> root; callers get root -> self.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// GetDescendants returns the subtree rooted at the variant, children
// grouped under their parents, levels bounded by the depth limit.
func (m *Manager) GetDescendants(ctx context.Context, kind domain.EntityKind, id int64) (*Node, error) {
	root, err := m.variants.GetByID(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	rootNode := &Node{Variant: root}
	level := []*Node{rootNode}
	seen := map[int64]bool{root.ID: true}

	for depth := 0; len(level) > 0; depth++ {
		if depth >= m.maxDepth {
			return nil, fmt.Errorf("descendants of %s %d exceed depth bound %d: %w",
				kind, id, m.maxDepth, domain.ErrCycleDetected)
		}
		var next []*Node
		for _, node := range level {
			children, err := m.variants.ListChildren(ctx, kind, node.Variant.ID)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if seen[child.ID] {
					return nil, fmt.Errorf("descendants of %s %d revisit variant %d: %w",
						kind, id, child.ID, domain.ErrCycleDetected)
				}
				seen[child.ID] = true
				childNode := &Node{Variant: child}
				node.Children = append(node.Children, childNode)
				next = append(next, childNode)
			}
		}
		level = next
	}
	return rootNode, nil
}

// Delete removes the variant and its whole subtree together with their
// parameters and audit records in one transaction. Cascade cleanup is
// not a business mutation, so no audit record is written for it.
func (m *Manager) Delete(ctx context.Context, caller domain.CallerContext, kind domain.EntityKind, id int64) error {
	if !caller.Valid() {
		return fmt.Errorf("caller identity is required")
	}
	tree, err := m.GetDescendants(ctx, kind, id)
	if err != nil {
		return err
	}
	ids := collectIDs(tree)

	err = m.runner.WithTx(ctx, func(tx pgx.Tx) error {
		if err := m.audits.RemoveForEntities(ctx, tx, kind, ids); err != nil {
			return err
		}
		if err := m.params.WithTx(tx).DeleteForEntities(ctx, kind, ids); err != nil {
			return err
		}
		// Children fall with the root through the parent cascade.
		return m.variants.WithTx(tx).Delete(ctx, kind, id)
	})
	if err != nil {
		return err
	}

	zap.S().Infof("lineage: user %s deleted %s variant %d and %d descendants",
		caller.UserID, kind, id, len(ids)-1)
	return nil
}

func collectIDs(node *Node) []int64 {
	ids := []int64{node.Variant.ID}
	for _, child := range node.Children {
		ids = append(ids, collectIDs(child)...)
	}
	return ids
}

// checkVariantType rejects unknown variant type IDs as caller input.
func (m *Manager) checkVariantType(ctx context.Context, id int32) error {
	if _, err := m.reference.GetVariantType(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ValidationError{Fields: []domain.FieldError{{
				Field: "variant_type_id", Message: fmt.Sprintf("variant type %d does not exist", id),
			}}}
		}
		return err
	}
	return nil
}

func (m *Manager) normalizeFields(d registry.Descriptor, fields map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(fields))
	for _, spec := range d.Fields {
		value, ok := fields[spec.Name]
		if !ok {
			continue
		}
		if value == nil {
			normalized[spec.Name] = nil
			continue
		}
		coerced, err := m.validate.Normalize(spec, value)
		if err != nil {
			return nil, &domain.ValidationError{Fields: []domain.FieldError{{
				Field: spec.Name, Message: err.Error(),
			}}}
		}
		normalized[spec.Name] = coerced
	}
	return normalized, nil
}

// recordInsert writes the creation audit record: one row per variant
// with the canonical JSON of its tracked fields as the new value.
func (m *Manager) recordInsert(ctx context.Context, tx pgx.Tx, d registry.Descriptor, variant domain.Variant, caller domain.CallerContext) error {
	tracked := make(map[string]*string)
	for _, spec := range d.Fields {
		if !spec.Tracked {
			continue
		}
		canonical, err := domain.CanonicalString(spec.Type, variant.Fields[spec.Name])
		if err != nil {
			return fmt.Errorf("failed to serialize %s for audit: %w", spec.Name, err)
		}
		tracked[spec.Name] = canonical
	}

	_, err := m.audits.Record(ctx, tx, variant.Ref(), domain.AuditRecord{
		FieldName:  "variant",
		NewValue:   domain.CanonicalFieldsJSON(tracked),
		ChangeType: domain.ChangeTypeInsert,
		UserID:     caller.UserID,
		ClientInfo: caller.ClientInfoPtr(),
	})
	return err
}

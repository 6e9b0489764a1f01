// Package entityloader batches variant lookups inside one request.
// Handlers that enrich many audit records with their owning variants
// (the recent-changes feed, history exports) would otherwise issue one
// SELECT per record; the loader collapses them into one query per kind.
package entityloader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/registry"
	"github.com/m-sperlich/digital-twin-db/internal/repository"

	"github.com/graph-gophers/dataloader"
)

// VariantLoader resolves EntityRefs to variants with per-kind batching.
// Loaders are request-scoped: results are cached for the loader's
// lifetime, so a shared instance would serve stale variants.
type VariantLoader struct {
	loader *dataloader.Loader
}

// New creates a loader over the variant repository. Load calls issued
// within the same 5ms window are batched into one GetByIDs per kind.
func New(variants repository.VariantRepository, reg *registry.Registry) *VariantLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		type position struct {
			index int
			id    int64
		}
		byKind := make(map[domain.EntityKind][]position)
		for i, key := range keys {
			ref, err := parseKey(reg, key.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			byKind[ref.Kind] = append(byKind[ref.Kind], position{index: i, id: ref.ID})
		}

		for kind, positions := range byKind {
			ids := make([]int64, len(positions))
			for i, p := range positions {
				ids[i] = p.id
			}
			rows, err := variants.GetByIDs(ctx, kind, ids)
			if err != nil {
				for _, p := range positions {
					results[p.index] = &dataloader.Result{Error: err}
				}
				continue
			}

			byID := make(map[int64]domain.Variant, len(rows))
			for _, variant := range rows {
				byID[variant.ID] = variant
			}
			for _, p := range positions {
				if variant, ok := byID[p.id]; ok {
					results[p.index] = &dataloader.Result{Data: variant}
				} else {
					results[p.index] = &dataloader.Result{Data: nil}
				}
			}
		}
		return results
	}

	return &VariantLoader{
		loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond)),
	}
}

// Load resolves one variant. Missing variants surface as ErrNotFound.
func (l *VariantLoader) Load(ctx context.Context, ref domain.EntityRef) (domain.Variant, error) {
	value, err := l.loader.Load(ctx, dataloader.StringKey(ref.String()))()
	if err != nil {
		return domain.Variant{}, err
	}
	variant, ok := value.(domain.Variant)
	if !ok {
		return domain.Variant{}, fmt.Errorf("%s %w", ref, domain.ErrNotFound)
	}
	return variant, nil
}

// LoadAll resolves many refs in one batch. Refs without a live variant
// are left out of the result; batch-level failures are returned.
func (l *VariantLoader) LoadAll(ctx context.Context, refs []domain.EntityRef) (map[domain.EntityRef]domain.Variant, error) {
	thunks := make([]dataloader.Thunk, len(refs))
	for i, ref := range refs {
		thunks[i] = l.loader.Load(ctx, dataloader.StringKey(ref.String()))
	}

	loaded := make(map[domain.EntityRef]domain.Variant, len(refs))
	for i, thunk := range thunks {
		value, err := thunk()
		if err != nil {
			return nil, err
		}
		if variant, ok := value.(domain.Variant); ok {
			loaded[refs[i]] = variant
		}
	}
	return loaded, nil
}

// parseKey reverses EntityRef.String: "<kind>/<id>".
func parseKey(reg *registry.Registry, key string) (domain.EntityRef, error) {
	kindPart, idPart, found := strings.Cut(key, "/")
	if !found {
		return domain.EntityRef{}, fmt.Errorf("malformed loader key %q", key)
	}
	kind := domain.EntityKind(kindPart)
	if _, err := reg.Descriptor(kind); err != nil {
		return domain.EntityRef{}, err
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return domain.EntityRef{}, fmt.Errorf("malformed loader key %q: %w", key, err)
	}
	return domain.EntityRef{Kind: kind, ID: id}, nil
}

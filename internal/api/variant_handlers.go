package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/middleware"
	"github.com/m-sperlich/digital-twin-db/internal/mutation"
)

type createVariantRequest struct {
	Fields        map[string]any `json:"fields"`
	VariantTypeID int32          `json:"variant_type_id,omitempty"`
}

type createDerivedRequest struct {
	Fields          map[string]any `json:"fields"`
	ParentVariantID int64          `json:"parent_variant_id"`
	ProcessID       *int64         `json:"process_id,omitempty"`
	VariantTypeID   int32          `json:"variant_type_id,omitempty"`
}

type patchVariantRequest struct {
	Fields map[string]any `json:"fields"`
	Reason *string        `json:"reason,omitempty"`
}

// mutationResponse reports an applied mutation: the variant after the
// update and the audit records it produced.
type mutationResponse struct {
	Variant domain.Variant       `json:"variant"`
	Records []domain.AuditRecord `json:"records"`
	Noop    bool                 `json:"noop"`
}

// variantPayload is a variant plus whatever ?embed= asked for.
type variantPayload struct {
	domain.Variant
	Process    *domain.Process           `json:"process,omitempty"`
	Parameters []domain.ProcessParameter `json:"parameters,omitempty"`
	Species    *domain.Species           `json:"species,omitempty"`
	Stems      []domain.Variant          `json:"stems,omitempty"`
	Children   []domain.Variant          `json:"children,omitempty"`
}

func (h *Handler) createVariant(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}
	var req createVariantRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}

	variant, err := h.lineage.CreateRoot(r.Context(), caller, kind, req.Fields, req.VariantTypeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, variant)
}

func (h *Handler) createDerived(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}
	var req createDerivedRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if req.ParentVariantID <= 0 {
		badRequest(w, "parent_variant_id is required")
		return
	}

	variant, err := h.lineage.CreateChild(r.Context(), caller, kind, req.ParentVariantID, req.Fields, req.ProcessID, req.VariantTypeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, variant)
}

func (h *Handler) listVariants(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}

	variants, err := h.lineage.List(r.Context(), kind, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Variants []domain.Variant `json:"variants"`
	}{Variants: variants})
}

func (h *Handler) getVariant(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	ctx := r.Context()
	var variant domain.Variant
	if loader := middleware.VariantLoaderFromContext(ctx); loader != nil {
		variant, err = loader.Load(ctx, domain.EntityRef{Kind: kind, ID: id})
	} else {
		variant, err = h.lineage.Get(ctx, kind, id)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	payload := variantPayload{Variant: variant}
	if err := h.resolveEmbeds(ctx, r.URL.Query().Get("embed"), &payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// resolveEmbeds fills the optional payload sections named by the embed
// query value. Sections that do not apply to the kind are skipped;
// unknown names fail the request.
func (h *Handler) resolveEmbeds(ctx context.Context, raw string, payload *variantPayload) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	for _, name := range strings.Split(raw, ",") {
		switch strings.TrimSpace(name) {
		case "":
		case "process":
			if payload.ProcessID == nil {
				continue
			}
			proc, err := h.processes.GetProcess(ctx, *payload.ProcessID)
			if err != nil {
				return err
			}
			payload.Process = &proc
		case "parameters":
			params, err := h.processes.ListParameters(ctx, payload.Ref())
			if err != nil {
				return err
			}
			payload.Parameters = params
		case "species":
			value, ok := payload.Field("species_id")
			if !ok {
				continue
			}
			speciesID, ok := toInt32(value)
			if !ok {
				continue
			}
			species, err := h.reference.GetSpecies(ctx, speciesID)
			if err != nil {
				return err
			}
			payload.Species = &species
		case "stems":
			if payload.Kind != domain.KindTrees {
				continue
			}
			stems, err := h.variants.ListByReference(ctx, domain.KindStems, "tree_id", payload.ID)
			if err != nil {
				return err
			}
			payload.Stems = stems
		case "children":
			children, err := h.variants.ListChildren(ctx, payload.Kind, payload.ID)
			if err != nil {
				return err
			}
			payload.Children = children
		default:
			return &domain.ValidationError{Fields: []domain.FieldError{
				{Field: "embed", Message: fmt.Sprintf("unknown embed %q", strings.TrimSpace(name))},
			}}
		}
	}
	return nil
}

func toInt32(value any) (int32, bool) {
	switch v := value.(type) {
	case int32:
		return v, true
	case int64:
		return int32(v), true
	case float64:
		return int32(v), true
	}
	return 0, false
}

func (h *Handler) patchVariant(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var req patchVariantRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}

	result, err := h.mutations.Apply(r.Context(), mutation.Request{
		Caller:   caller,
		Kind:     kind,
		EntityID: id,
		Updates:  req.Fields,
		Reason:   req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	records := result.Records
	if records == nil {
		records = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, mutationResponse{Variant: result.Variant, Records: records, Noop: result.Noop})
}

func (h *Handler) deleteVariant(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	if err := h.lineage.Delete(r.Context(), caller, kind, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getLineage(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	ancestors, err := h.lineage.GetLineage(r.Context(), kind, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Ancestors []domain.Variant `json:"ancestors"`
	}{Ancestors: ancestors})
}

func (h *Handler) getDescendants(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	root, err := h.lineage.GetDescendants(r.Context(), kind, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, root)
}

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/export"
	"github.com/m-sperlich/digital-twin-db/internal/middleware"

	"go.uber.org/zap"
)

type revertRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type historyResponse struct {
	Records []domain.AuditRecord `json:"records"`
}

// recentResponse is the cross-kind feed. With ?embed=variants the
// current state of each touched variant rides along, keyed by
// "kind/id"; variants deleted since the change are absent.
type recentResponse struct {
	Records  []domain.AuditRecord      `json:"records"`
	Variants map[string]domain.Variant `json:"variants,omitempty"`
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	records, err := h.audits.History(r.Context(), kind, id, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Records: records})
}

func (h *Handler) getAuditRecord(w http.ResponseWriter, r *http.Request) {
	auditID, err := pathID(r, "auditId")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	record, err := h.audits.Get(r.Context(), auditID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) recentChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := h.audits.RecentChanges(ctx, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.AuditRecord{}
	}

	payload := recentResponse{Records: records}
	if r.URL.Query().Get("embed") == "variants" {
		if loader := middleware.VariantLoaderFromContext(ctx); loader != nil {
			refs := make([]domain.EntityRef, 0, len(records))
			for _, record := range records {
				if record.Entity != nil {
					refs = append(refs, *record.Entity)
				}
			}
			variants, err := loader.LoadAll(ctx, refs)
			if err != nil {
				writeError(w, err)
				return
			}
			payload.Variants = make(map[string]domain.Variant, len(variants))
			for ref, variant := range variants {
				payload.Variants[ref.String()] = variant
			}
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) revertChange(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	auditID, err := pathID(r, "auditId")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	// The body is optional; an absent reason is fine.
	var req revertRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "%v", err)
		return
	}

	record, err := h.reverts.Revert(r.Context(), caller, auditID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) exportHistory(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
		export.FileName(format, string(kind), strconv.FormatInt(id, 10), "history")))
	if _, err := h.exports.WriteHistory(r.Context(), w, format, kind, id, queryInt(r, "limit", 0)); err != nil {
		zap.S().Errorf("api: history export for %s/%d failed: %v", kind, id, err)
		writeError(w, err)
	}
}

func (h *Handler) exportRecentChanges(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
		export.FileName(format, "recent", "changes")))
	if _, err := h.exports.WriteRecentChanges(r.Context(), w, format, queryInt(r, "limit", 0), queryInt(r, "offset", 0)); err != nil {
		zap.S().Errorf("api: recent-changes export failed: %v", err)
		writeError(w, err)
	}
}

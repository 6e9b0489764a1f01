// Package api exposes the variant engine over REST. Every route lives
// under /api/v1; {kind} segments resolve through the registry, so an
// unregistered kind is a 404 rather than a routing special case.
package api

import (
	"net/http"

	"github.com/m-sperlich/digital-twin-db/internal/audit"
	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/export"
	"github.com/m-sperlich/digital-twin-db/internal/ingestion"
	"github.com/m-sperlich/digital-twin-db/internal/lineage"
	"github.com/m-sperlich/digital-twin-db/internal/mutation"
	"github.com/m-sperlich/digital-twin-db/internal/process"
	"github.com/m-sperlich/digital-twin-db/internal/registry"
	"github.com/m-sperlich/digital-twin-db/internal/repository"
	"github.com/m-sperlich/digital-twin-db/internal/revert"
)

// Handler bundles the services behind the REST surface.
type Handler struct {
	reg       *registry.Registry
	variants  repository.VariantRepository
	reference repository.ReferenceRepository
	lineage   *lineage.Manager
	mutations *mutation.Interceptor
	reverts   *revert.Engine
	audits    *audit.Service
	processes *process.Service
	ingest    *ingestion.Service
	exports   *export.Service
}

// NewHandler creates the REST handler.
func NewHandler(
	reg *registry.Registry,
	variants repository.VariantRepository,
	reference repository.ReferenceRepository,
	lineageManager *lineage.Manager,
	mutations *mutation.Interceptor,
	reverts *revert.Engine,
	audits *audit.Service,
	processes *process.Service,
	ingest *ingestion.Service,
	exports *export.Service,
) *Handler {
	return &Handler{
		reg:       reg,
		variants:  variants,
		reference: reference,
		lineage:   lineageManager,
		mutations: mutations,
		reverts:   reverts,
		audits:    audits,
		processes: processes,
		ingest:    ingest,
		exports:   exports,
	}
}

// Routes registers every endpoint on a fresh mux. The literal prefixes
// (processes, audit) take precedence over the {kind} wildcard routes.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/processes", h.registerProcess)
	mux.HandleFunc("GET /api/v1/processes", h.listProcesses)
	mux.HandleFunc("GET /api/v1/processes/{id}", h.getProcess)

	mux.HandleFunc("GET /api/v1/audit/recent", h.recentChanges)
	mux.HandleFunc("GET /api/v1/audit/recent/export", h.exportRecentChanges)
	mux.HandleFunc("GET /api/v1/audit/{auditId}", h.getAuditRecord)
	mux.HandleFunc("POST /api/v1/audit/{auditId}/revert", h.revertChange)

	mux.HandleFunc("POST /api/v1/{kind}", h.createVariant)
	mux.HandleFunc("GET /api/v1/{kind}", h.listVariants)
	mux.HandleFunc("POST /api/v1/{kind}/derived", h.createDerived)
	mux.HandleFunc("POST /api/v1/{kind}/ingest", h.ingestFile)
	mux.HandleFunc("GET /api/v1/{kind}/{id}", h.getVariant)
	mux.HandleFunc("PATCH /api/v1/{kind}/{id}", h.patchVariant)
	mux.HandleFunc("DELETE /api/v1/{kind}/{id}", h.deleteVariant)
	mux.HandleFunc("GET /api/v1/{kind}/{id}/history", h.history)
	mux.HandleFunc("GET /api/v1/{kind}/{id}/history/export", h.exportHistory)
	mux.HandleFunc("GET /api/v1/{kind}/{id}/lineage", h.getLineage)
	mux.HandleFunc("GET /api/v1/{kind}/{id}/descendants", h.getDescendants)
	mux.HandleFunc("GET /api/v1/{kind}/{id}/parameters", h.listParameters)
	mux.HandleFunc("POST /api/v1/{kind}/{id}/parameters", h.attachParameter)

	return mux
}

// kindFromPath resolves the {kind} segment through the registry.
func (h *Handler) kindFromPath(w http.ResponseWriter, r *http.Request) (domain.EntityKind, bool) {
	kind := domain.EntityKind(r.PathValue("kind"))
	if _, err := h.reg.Descriptor(kind); err != nil {
		writeError(w, err)
		return "", false
	}
	return kind, true
}

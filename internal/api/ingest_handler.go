package api

import (
	"net/http"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
	"github.com/m-sperlich/digital-twin-db/internal/ingestion"
)

// maxUploadMemory bounds the in-memory part of multipart parsing;
// larger uploads spill to temp files.
const maxUploadMemory = 32 << 20

// ingestResponse is the run summary plus the logged row errors, so a
// client never needs a second request to see what failed.
type ingestResponse struct {
	ingestion.Summary
	RowErrors []domain.IngestionRowError `json:"row_errors,omitempty"`
}

func (h *Handler) ingestFile(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		badRequest(w, "invalid form data: %v", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required: %v", err)
		return
	}
	defer file.Close()

	summary, err := h.ingest.Ingest(r.Context(), ingestion.Request{
		Caller:   caller,
		Kind:     kind,
		FileName: header.Filename,
		Data:     file,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	payload := ingestResponse{Summary: summary}
	if summary.FailedRows > 0 {
		rowErrors, err := h.ingest.ListRowErrors(r.Context(), summary.RunID, 0)
		if err != nil {
			writeError(w, err)
			return
		}
		payload.RowErrors = rowErrors
	}
	writeJSON(w, http.StatusOK, payload)
}

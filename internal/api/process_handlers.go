package api

import (
	"net/http"

	"github.com/m-sperlich/digital-twin-db/internal/domain"
)

type registerProcessRequest struct {
	Name        string `json:"name"`
	Algorithm   string `json:"algorithm"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
}

type attachParameterRequest struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	DataType    string `json:"data_type"`
	Description string `json:"description,omitempty"`
}

// registerProcess is idempotent: re-posting the same name and version
// with unchanged metadata returns the existing row.
func (h *Handler) registerProcess(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req registerProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}

	proc, err := h.processes.RegisterProcess(r.Context(), caller, domain.Process{
		Name:        req.Name,
		Algorithm:   req.Algorithm,
		Version:     req.Version,
		Description: req.Description,
		Category:    domain.ProcessCategory(req.Category),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proc)
}

func (h *Handler) listProcesses(w http.ResponseWriter, r *http.Request) {
	processes, err := h.processes.ListProcesses(r.Context(), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	if processes == nil {
		processes = []domain.Process{}
	}
	writeJSON(w, http.StatusOK, struct {
		Processes []domain.Process `json:"processes"`
	}{Processes: processes})
}

func (h *Handler) getProcess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	proc, err := h.processes.GetProcess(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proc)
}

func (h *Handler) attachParameter(w http.ResponseWriter, r *http.Request) {
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
	var req attachParameterRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}

	parameter, err := h.processes.AttachParameter(r.Context(), caller, domain.EntityRef{Kind: kind, ID: id}, domain.ProcessParameter{
		Name:        req.Name,
		Value:       req.Value,
		DataType:    domain.ParameterDataType(req.DataType),
		Description: req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, parameter)
}

func (h *Handler) listParameters(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindFromPath(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	parameters, err := h.processes.ListParameters(r.Context(), domain.EntityRef{Kind: kind, ID: id})
	if err != nil {
		writeError(w, err)
		return
	}
	if parameters == nil {
		parameters = []domain.ProcessParameter{}
	}
	writeJSON(w, http.StatusOK, struct {
		Parameters []domain.ProcessParameter `json:"parameters"`
	}{Parameters: parameters})
}

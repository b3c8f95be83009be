package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/metacat/internal/bulk"
	"github.com/rpattn/metacat/internal/domain"
)

// Handler exposes the catalog service over HTTP. Routing stays deliberately
// flat: /api/jobs/{id} for job control, /api/{entityType}/... for entity
// operations.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with its endpoint set.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segments := splitPath(strings.TrimPrefix(r.URL.Path, "/api"))
	if len(segments) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if segments[0] == "jobs" {
		h.handleJobs(w, r, segments[1:])
		return
	}

	entityType := segments[0]
	switch {
	case len(segments) == 1 && r.Method == http.MethodPost:
		h.handleCreate(w, r, entityType)
	case len(segments) == 1 && r.Method == http.MethodGet:
		h.handleList(w, r, entityType)
	case len(segments) == 2 && segments[1] == "import" && r.Method == http.MethodPost:
		h.handleImport(w, r, entityType)
	case len(segments) == 2 && segments[1] == "export" && r.Method == http.MethodGet:
		h.handleExport(w, r, entityType)
	case len(segments) == 2 && segments[1] == "export" && r.Method == http.MethodPost:
		h.handleExportAsync(w, r, entityType)
	case len(segments) == 2 && r.Method == http.MethodGet:
		h.handleGet(w, r, entityType, segments[1])
	case len(segments) == 2 && r.Method == http.MethodPatch:
		h.handlePatch(w, r, entityType, segments[1])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// fieldInput is the wire form of one patched field. Reference fields submit
// names; the handler resolves them before the merge runs.
type fieldInput struct {
	Value any      `json:"value,omitempty"`
	Refs  []string `json:"refs,omitempty"`
}

type snapshotPayload struct {
	Name   string                `json:"name"`
	Fields map[string]fieldInput `json:"fields"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, entityType string) {
	defer r.Body.Close()
	var payload snapshotPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	snapshot, err := h.buildSnapshot(r, entityType, payload.Name, payload.Fields)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := h.service.Create(r.Context(), entityType, snapshot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request, entityType, name string) {
	defer r.Body.Close()
	var payload snapshotPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	requested, err := h.buildSnapshot(r, entityType, name, payload.Fields)
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, record, err := h.service.ApplyPatch(r.Context(), entityType, name, requested)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": snapshot,
		"change":   record,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, entityType, name string) {
	if _, err := h.service.registry.Lookup(entityType); err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := h.service.snapshots.Load(r.Context(), entityType, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, entityType string) {
	if _, err := h.service.registry.Lookup(entityType); err != nil {
		writeError(w, err)
		return
	}
	snapshots, err := h.service.snapshots.List(r.Context(), entityType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request, entityType string) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	req := bulk.Request{
		FileName:  header.Filename,
		Payload:   data,
		DryRun:    strings.EqualFold(r.FormValue("dryRun"), "true"),
		ScopePath: strings.TrimSpace(r.FormValue("scope")),
	}

	if strings.EqualFold(r.FormValue("async"), "true") {
		id, err := h.service.SubmitImport(r.Context(), entityType, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id.String()})
		return
	}

	result, err := h.service.ImportCsv(r.Context(), entityType, req)
	if err != nil && !errors.Is(err, domain.ErrPipelineAbort) {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if result.Status == domain.ImportAborted {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, entityType string) {
	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	if format == "xlsx" {
		data, err := h.service.ExportXlsx(r.Context(), entityType, scope)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entityType+".xlsx"))
		_, _ = w.Write(data)
		return
	}

	data, err := h.service.ExportCsv(r.Context(), entityType, scope)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entityType+".csv"))
	_, _ = io.WriteString(w, data)
}

func (h *Handler) handleExportAsync(w http.ResponseWriter, r *http.Request, entityType string) {
	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	id, err := h.service.SubmitExport(r.Context(), entityType, scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id.String()})
}

func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request, segments []string) {
	if len(segments) == 0 {
		http.Error(w, "job identifier required", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(segments[0])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid job identifier: %v", err), http.StatusBadRequest)
		return
	}

	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		job, err := h.service.JobStatus(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case len(segments) == 2 && segments[1] == "cancel" && r.Method == http.MethodPost:
		if err := h.service.CancelJob(id); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id.String()})
	case len(segments) == 1 && r.Method == http.MethodDelete:
		if err := h.service.runner.Remove(id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// buildSnapshot converts wire field inputs into a requested snapshot,
// resolving reference names against committed state.
func (h *Handler) buildSnapshot(r *http.Request, entityType, name string, fields map[string]fieldInput) (domain.Snapshot, error) {
	def, err := h.service.registry.Lookup(entityType)
	if err != nil {
		return domain.Snapshot{}, err
	}

	snapshot := domain.NewSnapshot(entityType, name)
	for fieldName, input := range fields {
		col, ok := columnForField(def.Contract, fieldName)
		if ok && col.ReferenceType != "" {
			refs := make([]domain.EntityReference, 0, len(input.Refs))
			for _, refName := range input.Refs {
				refName = strings.TrimSpace(refName)
				if refName == "" {
					continue
				}
				ref, err := h.service.resolver.Resolve(r.Context(), col.ReferenceType, refName)
				if err != nil {
					return domain.Snapshot{}, err
				}
				refs = append(refs, ref)
			}
			snapshot.Fields[fieldName] = domain.RefListValue(refs...)
			continue
		}
		snapshot.Fields[fieldName] = domain.ScalarValue(input.Value)
	}
	return snapshot, nil
}

func columnForField(contract bulk.Contract, fieldName string) (bulk.Column, bool) {
	for _, col := range contract.Columns {
		if strings.EqualFold(col.FieldName(), fieldName) {
			return col, true
		}
	}
	return bulk.Column{}, false
}

func splitPath(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

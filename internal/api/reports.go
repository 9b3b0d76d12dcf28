package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/service/execution"
	"fleet-reports/internal/service/report"
)

// ListReports handles GET /v1/reports/saved.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	reports, total, err := h.svc.ListReports(r.Context(), page)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse(reports, total, page, reportToAPI))
}

// CreateReport handles POST /v1/reports/saved.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateReportRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	created, err := h.svc.CreateReport(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, reportToAPI(*created))
}

// GetReport handles GET /v1/reports/saved/{id}.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	got, err := h.svc.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reportToAPI(*got))
}

// UpdateReport handles PATCH /v1/reports/saved/{id}.
func (h *Handler) UpdateReport(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateReportRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	updated, err := h.svc.UpdateReport(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reportToAPI(*updated))
}

// DeleteReport handles DELETE /v1/reports/saved/{id}.
func (h *Handler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteReport(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunReport handles POST /v1/reports/saved/{id}/run.
func (h *Handler) RunReport(w http.ResponseWriter, r *http.Request) {
	bypass, err := boolQuery(r, "bypass_cache")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ctx, tracker := execution.WithStatusTracker(r.Context())
	res, err := h.svc.RunReport(ctx, chi.URLParam(r, "id"), report.RunOptions{BypassCache: bypass})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set(HeaderReportCache, string(tracker.Status()))
	respondJSON(w, http.StatusOK, res)
}

// ListExecutions handles GET /v1/reports/executions[?report_id=].
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var reportID *string
	if v := r.URL.Query().Get("report_id"); v != "" {
		reportID = &v
	}
	execs, total, err := h.svc.ListExecutions(r.Context(), reportID, page)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse(execs, total, page, executionToAPI))
}

// GetExecution handles GET /v1/reports/executions/{id}.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, executionToAPI(*e))
}

// ListAudit handles GET /v1/reports/audit[?action=].
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var action *domain.AuditAction
	if v := r.URL.Query().Get("action"); v != "" {
		a := domain.AuditAction(v)
		if !a.Valid() {
			h.respondError(w, r, domain.ErrValidation("unknown audit action %q", v))
			return
		}
		action = &a
	}
	entries, total, err := h.svc.ListAudit(r.Context(), action, page)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse(entries, total, page, auditEntryToAPI))
}

// VerifyAudit handles GET /v1/reports/audit/verify.
func (h *Handler) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.VerifyAudit(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

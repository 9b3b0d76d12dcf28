package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/service/execution"
	"fleet-reports/internal/service/report"
)

// ListTables handles GET /v1/reports/tables.
func (h *Handler) ListTables(w http.ResponseWriter, _ *http.Request) {
	tables := h.svc.Tables()
	respondJSON(w, http.StatusOK, ListResponse[report.TableSummary]{
		Data:  tables,
		Total: int64(len(tables)),
	})
}

// GetTable handles GET /v1/reports/tables/{table}.
func (h *Handler) GetTable(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.Table(chi.URLParam(r, "table"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// GetGrammar handles GET /v1/reports/grammar.
func (h *Handler) GetGrammar(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Grammar())
}

// ValidateExpression handles POST /v1/reports/expressions/validate. An
// invalid expression is a successful response with Valid false.
func (h *Handler) ValidateExpression(w http.ResponseWriter, r *http.Request) {
	var req ValidateExpressionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if _, err := h.svc.Table(req.Table); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.svc.ValidateExpression(req.Expression, req.Table))
}

// Compile handles POST /v1/reports/compile.
func (h *Handler) Compile(w http.ResponseWriter, r *http.Request) {
	var spec domain.QuerySpecification
	if err := decodeJSON(r, &spec); err != nil {
		h.respondError(w, r, err)
		return
	}
	q, err := h.svc.Compile(r.Context(), spec)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, compiledToAPI(q))
}

// Query handles POST /v1/reports/query. ?bypass_cache=true skips the cache
// lookup.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	bypass, err := boolQuery(r, "bypass_cache")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var spec domain.QuerySpecification
	if err := decodeJSON(r, &spec); err != nil {
		h.respondError(w, r, err)
		return
	}

	ctx, tracker := execution.WithStatusTracker(r.Context())
	res, err := h.svc.Run(ctx, spec, report.RunOptions{BypassCache: bypass})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set(HeaderReportCache, string(tracker.Status()))
	respondJSON(w, http.StatusOK, res)
}

// Export handles POST /v1/reports/export?format=csv|json|xlsx.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("format")
	if raw == "" {
		raw = string(domain.ExportJSON)
	}
	format, ok := domain.ParseExportFormat(raw)
	if !ok {
		h.respondError(w, r, domain.ErrValidation("unsupported export format %q", raw))
		return
	}
	var spec domain.QuerySpecification
	if err := decodeJSON(r, &spec); err != nil {
		h.respondError(w, r, err)
		return
	}

	ctx, tracker := execution.WithStatusTracker(r.Context())
	out, err := h.svc.Export(ctx, spec, format)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(out.Filename))
	w.Header().Set(HeaderReportCache, string(tracker.Status()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Payload)
}

// InvalidateCache handles POST /v1/reports/cache/invalidate.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req InvalidateCacheRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	n, err := h.svc.InvalidateCache(r.Context(), req.Table, req.FingerprintPrefix)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, InvalidateCacheResponse{Removed: n})
}

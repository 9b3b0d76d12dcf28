// Package api serves the report engine over HTTP with chi and JSON handlers.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"fleet-reports/internal/db/mapper"
	"fleet-reports/internal/domain"
	"fleet-reports/internal/service/report"
	"fleet-reports/internal/validation"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// HeaderReportCache reports how a query interacted with the result cache.
const HeaderReportCache = "X-Report-Cache"

// StorageHealth is the slice of the storage adapter used by /healthz.
type StorageHealth interface {
	Ping(ctx context.Context) error
	State() string
}

// Handler implements the report HTTP endpoints.
type Handler struct {
	svc     *report.Service
	storage StorageHealth
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *report.Service, storage StorageHealth, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, storage: storage, logger: logger}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"code":500,"error":"INTERNAL","message":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// respondError maps err to a status code and writes an ErrorResponse.
// Internal errors are logged and their message is not exposed.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapper.HTTPStatusFromDomainError(err)
	body := ErrorResponse{
		Code:    status,
		Error:   mapper.ErrorCode(err),
		Message: err.Error(),
	}

	var compilation *domain.QueryCompilationError
	var invalidExpr *domain.InvalidExpressionError
	switch {
	case errors.As(err, &compilation):
		body.Problems = compilation.Problems
	case errors.As(err, &invalidExpr):
		body.Problems = invalidExpr.Problems
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "report request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			body.Message = "internal error"
		}
	}
	respondJSON(w, status, body)
}

// decodeJSON reads a size-limited body into dst and validates its wire shape.
func decodeJSON(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return domain.ErrValidation("read request body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return domain.ErrValidation("request body exceeds %d bytes", maxBodyBytes)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return domain.ErrValidation("invalid JSON body: %v", err)
	}
	return validation.Validate(dst)
}

func pageFromQuery(r *http.Request) (domain.PageRequest, error) {
	q := r.URL.Query()
	page := domain.PageRequest{PageToken: q.Get("page_token")}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, domain.ErrValidation("max_results must be a non-negative integer")
		}
		page.MaxResults = n
	}
	return page, nil
}

func boolQuery(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, domain.ErrValidation("%s must be a boolean", key)
	}
	return b, nil
}

func listResponse[T, U any](items []T, total int64, page domain.PageRequest, fn func(T) U) ListResponse[U] {
	return ListResponse[U]{
		Data:          mapSlice(items, fn),
		Total:         total,
		NextPageToken: page.NextPageToken(total),
	}
}

// contentDisposition builds an attachment header value for filename.
func contentDisposition(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}

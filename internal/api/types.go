package api

import (
	"time"

	"fleet-reports/internal/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code     int      `json:"code"`
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Problems []string `json:"problems,omitempty"`
}

// ValidateExpressionRequest asks whether expression is valid on table.
type ValidateExpressionRequest struct {
	Expression string `json:"expression" validate:"required,max=1024"`
	Table      string `json:"table" validate:"required,max=128"`
}

// InvalidateCacheRequest drops cached results of a table.
type InvalidateCacheRequest struct {
	Table             string `json:"table" validate:"required,max=128"`
	FingerprintPrefix string `json:"fingerprint_prefix,omitempty" validate:"omitempty,hexadecimal,max=64"`
}

// InvalidateCacheResponse reports how many entries were removed.
type InvalidateCacheResponse struct {
	Removed int `json:"removed"`
}

// CompiledQueryResponse is the wire shape of a compiled query.
type CompiledQueryResponse struct {
	SQL                 string           `json:"sql"`
	Params              []interface{}    `json:"params"`
	Table               string           `json:"table"`
	Columns             []CompiledColumn `json:"columns"`
	RowCap              int              `json:"row_cap"`
	Clamped             bool             `json:"clamped"`
	Fingerprint         string           `json:"fingerprint"`
	Cacheable           bool             `json:"cacheable"`
	CacheTTLSeconds     float64          `json:"cache_ttl_seconds"`
	TimeoutSeconds      float64          `json:"timeout_seconds"`
	RequiredPermissions []string         `json:"required_permissions,omitempty"`
}

// CompiledColumn describes one output column.
type CompiledColumn struct {
	Alias     string `json:"alias"`
	Source    string `json:"source"`
	Type      string `json:"type"`
	Aggregate string `json:"aggregate,omitempty"`
}

// ListResponse wraps a page of items.
type ListResponse[T any] struct {
	Data          []T    `json:"data"`
	Total         int64  `json:"total"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// ReportResponse is the wire shape of a saved report.
type ReportResponse struct {
	ID               string                    `json:"id"`
	OwnerID          string                    `json:"owner_id"`
	Name             string                    `json:"name"`
	Description      string                    `json:"description,omitempty"`
	Specification    domain.QuerySpecification `json:"specification"`
	IsScheduled      bool                      `json:"is_scheduled"`
	Schedule         *domain.ScheduleConfig    `json:"schedule,omitempty"`
	ExportFormat     domain.ExportFormat       `json:"export_format"`
	Recipients       []string                  `json:"recipients,omitempty"`
	NextScheduledRun *time.Time                `json:"next_scheduled_run,omitempty"`
	LastRunAt        *time.Time                `json:"last_run_at,omitempty"`
	LastRunStatus    *domain.ExecutionStatus   `json:"last_run_status,omitempty"`
	LastError        *string                   `json:"last_error,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// ExecutionResponse is the wire shape of an execution record.
type ExecutionResponse struct {
	ID              string                 `json:"id"`
	ReportID        *string                `json:"report_id,omitempty"`
	ActorID         string                 `json:"actor_id"`
	Table           string                 `json:"table"`
	Fingerprint     string                 `json:"fingerprint"`
	Status          domain.ExecutionStatus `json:"status"`
	ExecutionTimeMs float64                `json:"execution_time_ms"`
	RowCount        int                    `json:"row_count"`
	ErrorMessage    *string                `json:"error_message,omitempty"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// AuditEntryResponse is the wire shape of an audit entry.
type AuditEntryResponse struct {
	ID           string              `json:"id"`
	ActorID      string              `json:"actor_id"`
	Action       domain.AuditAction  `json:"action"`
	Outcome      domain.AuditOutcome `json:"outcome"`
	ReportID     *string             `json:"report_id,omitempty"`
	ErrorMessage *string             `json:"error_message,omitempty"`
	DurationMs   float64             `json:"duration_ms"`
	PrevHash     string              `json:"prev_hash"`
	Hash         string              `json:"hash"`
	CreatedAt    time.Time           `json:"created_at"`
}

// HealthResponse is served on /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Breaker string `json:"breaker"`
}

// === Mapping helpers ===

func compiledToAPI(q *domain.CompiledQuery) CompiledQueryResponse {
	cols := make([]CompiledColumn, len(q.Columns))
	for i, c := range q.Columns {
		cols[i] = CompiledColumn{
			Alias:     c.Alias,
			Source:    c.Source,
			Type:      string(c.Type),
			Aggregate: string(c.Aggregate),
		}
	}
	params := q.Args
	if params == nil {
		params = []interface{}{}
	}
	return CompiledQueryResponse{
		SQL:                 q.SQL,
		Params:              params,
		Table:               q.Table,
		Columns:             cols,
		RowCap:              q.RowCap,
		Clamped:             q.Clamped,
		Fingerprint:         q.Fingerprint,
		Cacheable:           q.Cacheable,
		CacheTTLSeconds:     q.CacheTTL.Seconds(),
		TimeoutSeconds:      q.Timeout.Seconds(),
		RequiredPermissions: q.RequiredPermissions,
	}
}

func reportToAPI(r domain.Report) ReportResponse {
	return ReportResponse{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		Name:             r.Name,
		Description:      r.Description,
		Specification:    r.Specification,
		IsScheduled:      r.IsScheduled,
		Schedule:         r.Schedule,
		ExportFormat:     r.ExportFormat,
		Recipients:       r.Recipients,
		NextScheduledRun: r.NextScheduledRun,
		LastRunAt:        r.LastRunAt,
		LastRunStatus:    r.LastRunStatus,
		LastError:        r.LastError,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func executionToAPI(e domain.ReportExecution) ExecutionResponse {
	return ExecutionResponse{
		ID:              e.ID,
		ReportID:        e.ReportID,
		ActorID:         e.ActorID,
		Table:           e.Table,
		Fingerprint:     e.Fingerprint,
		Status:          e.Status,
		ExecutionTimeMs: e.ExecutionTimeMs,
		RowCount:        e.RowCount,
		ErrorMessage:    e.ErrorMessage,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
		CreatedAt:       e.CreatedAt,
	}
}

func auditEntryToAPI(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:           e.ID,
		ActorID:      e.ActorID,
		Action:       e.Action,
		Outcome:      e.Outcome,
		ReportID:     e.ReportID,
		ErrorMessage: e.ErrorMessage,
		DurationMs:   e.DurationMs,
		PrevHash:     e.PrevHash,
		Hash:         e.Hash,
		CreatedAt:    e.CreatedAt,
	}
}

func mapSlice[T, U any](in []T, fn func(T) U) []U {
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

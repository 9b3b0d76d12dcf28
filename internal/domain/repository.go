package domain

import (
	"context"
	"time"
)

// ExecutionRepository persists ReportExecution lifecycle rows.
type ExecutionRepository interface {
	Create(ctx context.Context, e *ReportExecution) (*ReportExecution, error)
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, rowCount int, executionTimeMs float64) error
	MarkFailed(ctx context.Context, id string, message string, executionTimeMs float64) error
	GetByID(ctx context.Context, id string) (*ReportExecution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]ReportExecution, int64, error)
}

// AuditRepository persists append-only audit entries.
type AuditRepository interface {
	Append(ctx context.Context, e *AuditEntry) error
	LastHash(ctx context.Context, tenantID string) (string, error)
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, int64, error)
	ListChain(ctx context.Context, tenantID string) ([]AuditEntry, error)
}

// ReportRepository persists saved reports and their scheduling state.
type ReportRepository interface {
	Create(ctx context.Context, r *Report) (*Report, error)
	GetByID(ctx context.Context, tenantID, id string) (*Report, error)
	List(ctx context.Context, tenantID string, page PageRequest) ([]Report, int64, error)
	Update(ctx context.Context, r *Report) (*Report, error)
	Delete(ctx context.Context, tenantID, id string) error
	ListDue(ctx context.Context, now time.Time) ([]Report, error)
	TryMarkRunning(ctx context.Context, id string) (bool, error)
	FinishRun(ctx context.Context, id string, status ExecutionStatus, errMsg *string, ranAt time.Time, next *time.Time) error
}

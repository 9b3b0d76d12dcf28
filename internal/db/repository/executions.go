package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleet-reports/internal/db/mapper"
	"fleet-reports/internal/domain"
)

var _ domain.ExecutionRepository = (*ExecutionRepo)(nil)

// ExecutionRepo stores report execution lifecycle rows in SQLite.
type ExecutionRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewExecutionRepo creates a new ExecutionRepo.
func NewExecutionRepo(db *sql.DB) *ExecutionRepo {
	return &ExecutionRepo{db: db, now: time.Now}
}

const executionColumns = `id, report_id, tenant_id, actor_id, table_name, fingerprint, specification,
	status, execution_time_ms, row_count, error_message, started_at, completed_at, created_at`

// Create inserts a pending execution.
func (r *ExecutionRepo) Create(ctx context.Context, e *domain.ReportExecution) (*domain.ReportExecution, error) {
	if e == nil {
		return nil, domain.ErrValidation("execution is required")
	}
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if e.Status == "" {
		e.Status = domain.ExecutionPending
	}
	spec, err := mapper.SpecToDB(e.Specification)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO report_executions (id, report_id, tenant_id, actor_id, table_name, fingerprint,
			specification, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, mapper.NullStr(e.ReportID), e.TenantID, e.ActorID, e.Table, e.Fingerprint,
		spec, string(e.Status), r.now().UTC())
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, e.ID)
}

// MarkRunning moves a pending execution to running.
func (r *ExecutionRepo) MarkRunning(ctx context.Context, id string) error {
	return r.transition(ctx, id, `
		UPDATE report_executions SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.ExecutionRunning), r.now().UTC(), id, string(domain.ExecutionPending))
}

// MarkCompleted records a successful execution.
func (r *ExecutionRepo) MarkCompleted(ctx context.Context, id string, rowCount int, executionTimeMs float64) error {
	return r.transition(ctx, id, `
		UPDATE report_executions
		SET status = ?, row_count = ?, execution_time_ms = ?, error_message = NULL, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'running')
	`, string(domain.ExecutionCompleted), rowCount, executionTimeMs, r.now().UTC(), id)
}

// MarkFailed records a failed execution.
func (r *ExecutionRepo) MarkFailed(ctx context.Context, id string, message string, executionTimeMs float64) error {
	return r.transition(ctx, id, `
		UPDATE report_executions
		SET status = ?, error_message = ?, execution_time_ms = ?, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'running')
	`, string(domain.ExecutionFailed), message, executionTimeMs, r.now().UTC(), id)
}

// transition applies a guarded status update. Terminal rows never change.
func (r *ExecutionRepo) transition(ctx context.Context, id, stmt string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return domain.ErrConflict("execution %q is already %s", id, cur.Status)
}

// GetByID returns an execution by ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id string) (*domain.ReportExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM report_executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("execution %q not found", id)
		}
		return nil, err
	}
	return e, nil
}

// List returns a page of a tenant's executions, newest first.
func (r *ExecutionRepo) List(ctx context.Context, filter domain.ExecutionFilter) ([]domain.ReportExecution, int64, error) {
	var status interface{}
	if filter.Status != nil {
		status = string(*filter.Status)
	}
	reportID := optional(filter.ReportID)
	where := `
		WHERE tenant_id = ?
		  AND (? IS NULL OR report_id = ?)
		  AND (? IS NULL OR status = ?)`
	args := []interface{}{filter.TenantID, reportID, reportID, status, status}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM report_executions`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapDBError(err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM report_executions`+where+`
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.ReportExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func scanExecution(s rowScanner) (*domain.ReportExecution, error) {
	var (
		e                      domain.ReportExecution
		reportID, errorMessage sql.NullString
		spec, status           string
		startedAt, completedAt sql.NullTime
	)
	if err := s.Scan(
		&e.ID,
		&reportID,
		&e.TenantID,
		&e.ActorID,
		&e.Table,
		&e.Fingerprint,
		&spec,
		&status,
		&e.ExecutionTimeMs,
		&e.RowCount,
		&errorMessage,
		&startedAt,
		&completedAt,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := mapper.SpecFromDB(spec)
	if err != nil {
		return nil, err
	}
	e.Specification = parsed
	e.Status = domain.ExecutionStatus(status)
	e.ReportID = mapper.PtrStr(reportID)
	e.ErrorMessage = mapper.PtrStr(errorMessage)
	e.StartedAt = mapper.PtrTime(startedAt)
	e.CompletedAt = mapper.PtrTime(completedAt)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

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

var _ domain.ReportRepository = (*ReportRepo)(nil)

// ReportRepo stores saved reports and their scheduling state in SQLite.
type ReportRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewReportRepo creates a new ReportRepo.
func NewReportRepo(db *sql.DB) *ReportRepo {
	return &ReportRepo{db: db, now: time.Now}
}

const reportColumns = `id, tenant_id, owner_id, owner_permissions, name, description, specification, is_scheduled, schedule,
	export_format, recipients, next_scheduled_run, last_run_at, last_run_status, last_error, running,
	created_at, updated_at`

type reportParams struct {
	spec        string
	schedule    sql.NullString
	recipients  string
	permissions string
}

func encodeReport(rep *domain.Report) (reportParams, error) {
	var p reportParams
	var err error
	if p.spec, err = mapper.SpecToDB(rep.Specification); err != nil {
		return p, err
	}
	if p.schedule, err = mapper.ScheduleToDB(rep.Schedule); err != nil {
		return p, err
	}
	if p.recipients, err = mapper.StringListToDB(rep.Recipients); err != nil {
		return p, err
	}
	if p.permissions, err = mapper.StringListToDB(rep.OwnerPermissions); err != nil {
		return p, err
	}
	return p, nil
}

// Create inserts a report. Names are unique per tenant.
func (r *ReportRepo) Create(ctx context.Context, rep *domain.Report) (*domain.Report, error) {
	if rep == nil {
		return nil, domain.ErrValidation("report is required")
	}
	if rep.ID == "" {
		rep.ID = domain.NewID()
	}
	p, err := encodeReport(rep)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO reports (id, tenant_id, owner_id, owner_permissions, name, description, specification,
			is_scheduled, schedule, export_format, recipients, next_scheduled_run, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rep.ID, rep.TenantID, rep.OwnerID, p.permissions, rep.Name, rep.Description, p.spec, boolToInt(rep.IsScheduled),
		p.schedule, string(rep.ExportFormat), p.recipients, mapper.NullTime(rep.NextScheduledRun), now, now)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(mapDBError(err), &conflict) {
			return nil, domain.ErrConflict("report %q already exists", rep.Name)
		}
		return nil, mapDBError(err)
	}
	return r.GetByID(ctx, rep.TenantID, rep.ID)
}

// GetByID returns a report of the tenant.
func (r *ReportRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Report, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE tenant_id = ? AND id = ?`, tenantID, id)
	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("report %q not found", id)
	}
	return rep, err
}

// List returns a page of the tenant's reports ordered by name.
func (r *ReportRepo) List(ctx context.Context, tenantID string, page domain.PageRequest) ([]domain.Report, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE tenant_id = ?`, tenantID).Scan(&total); err != nil {
		return nil, 0, mapDBError(err)
	}
	out, err := r.query(ctx, `SELECT `+reportColumns+` FROM reports WHERE tenant_id = ?
		ORDER BY name LIMIT ? OFFSET ?`, tenantID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Update writes the mutable fields of rep.
func (r *ReportRepo) Update(ctx context.Context, rep *domain.Report) (*domain.Report, error) {
	p, err := encodeReport(rep)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE reports
		SET owner_permissions = ?, name = ?, description = ?, specification = ?, is_scheduled = ?, schedule = ?,
		    export_format = ?, recipients = ?, next_scheduled_run = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`, p.permissions, rep.Name, rep.Description, p.spec, boolToInt(rep.IsScheduled), p.schedule,
		string(rep.ExportFormat), p.recipients, mapper.NullTime(rep.NextScheduledRun), r.now().UTC(),
		rep.TenantID, rep.ID)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(mapDBError(err), &conflict) {
			return nil, domain.ErrConflict("report %q already exists", rep.Name)
		}
		return nil, mapDBError(err)
	}
	if err := requireOne(res, "report", rep.ID); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, rep.TenantID, rep.ID)
}

// Delete removes a report of the tenant.
func (r *ReportRepo) Delete(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reports WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return mapDBError(err)
	}
	return requireOne(res, "report", id)
}

// ListDue returns scheduled reports whose next run is at or before now and
// that are not currently running, oldest first.
func (r *ReportRepo) ListDue(ctx context.Context, now time.Time) ([]domain.Report, error) {
	return r.query(ctx, `SELECT `+reportColumns+` FROM reports
		WHERE is_scheduled = 1 AND running = 0
		  AND next_scheduled_run IS NOT NULL AND next_scheduled_run <= ?
		ORDER BY next_scheduled_run, id`, now.UTC())
}

// TryMarkRunning claims a report for one run. It reports false when another
// runner already holds it.
func (r *ReportRepo) TryMarkRunning(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE reports SET running = 1 WHERE id = ? AND running = 0`, id)
	if err != nil {
		return false, mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// FinishRun releases the claim and records the run outcome.
func (r *ReportRepo) FinishRun(ctx context.Context, id string, status domain.ExecutionStatus, errMsg *string, ranAt time.Time, next *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reports
		SET running = 0, last_run_at = ?, last_run_status = ?, last_error = ?, next_scheduled_run = ?
		WHERE id = ?
	`, ranAt.UTC(), string(status), mapper.NullStr(errMsg), mapper.NullTime(next), id)
	if err != nil {
		return mapDBError(err)
	}
	return requireOne(res, "report", id)
}

// ReleaseRunning clears claims left behind by a process that stopped
// mid-run. Call it before the scheduler starts.
func (r *ReportRepo) ReleaseRunning(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE reports SET running = 0 WHERE running = 1`)
	if err != nil {
		return 0, mapDBError(err)
	}
	return res.RowsAffected()
}

func (r *ReportRepo) query(ctx context.Context, stmt string, args ...interface{}) ([]domain.Report, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

func scanReport(s rowScanner) (*domain.Report, error) {
	var (
		rep                             domain.Report
		spec, format, recipients, perms string
		schedule, lastStatus, last      sql.NullString
		scheduled, running              int64
		nextRun, lastRun                sql.NullTime
	)
	if err := s.Scan(
		&rep.ID,
		&rep.TenantID,
		&rep.OwnerID,
		&perms,
		&rep.Name,
		&rep.Description,
		&spec,
		&scheduled,
		&schedule,
		&format,
		&recipients,
		&nextRun,
		&lastRun,
		&lastStatus,
		&last,
		&running,
		&rep.CreatedAt,
		&rep.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if rep.Specification, err = mapper.SpecFromDB(spec); err != nil {
		return nil, err
	}
	if rep.Schedule, err = mapper.ScheduleFromDB(schedule); err != nil {
		return nil, err
	}
	if rep.Recipients, err = mapper.StringListFromDB(recipients); err != nil {
		return nil, err
	}
	if rep.OwnerPermissions, err = mapper.StringListFromDB(perms); err != nil {
		return nil, err
	}
	rep.IsScheduled = scheduled == 1
	rep.Running = running == 1
	rep.ExportFormat = domain.ExportFormat(format)
	rep.NextScheduledRun = mapper.PtrTime(nextRun)
	rep.LastRunAt = mapper.PtrTime(lastRun)
	if lastStatus.Valid {
		st := domain.ExecutionStatus(lastStatus.String)
		rep.LastRunStatus = &st
	}
	rep.LastError = mapper.PtrStr(last)
	rep.CreatedAt = rep.CreatedAt.UTC()
	rep.UpdatedAt = rep.UpdatedAt.UTC()
	return &rep, nil
}

func requireOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound("%s %q not found", kind, id)
	}
	return nil
}

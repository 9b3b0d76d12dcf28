package repository

import (
	"context"
	"database/sql"
	"errors"

	"fleet-reports/internal/db/mapper"
	"fleet-reports/internal/domain"
)

var _ domain.AuditRepository = (*AuditRepo)(nil)

// AuditRepo stores the hash-chained report audit log. Rows are append-only;
// the schema rejects updates and deletes.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

const auditColumns = `id, tenant_id, actor_id, action, outcome, report_id, specification,
	error_message, duration_ms, prev_hash, hash, created_at`

// Append inserts e. A second entry claiming the same predecessor is a
// conflict.
func (r *AuditRepo) Append(ctx context.Context, e *domain.AuditEntry) error {
	if e == nil {
		return domain.ErrValidation("audit entry is required")
	}
	spec, err := mapper.NullSpecToDB(e.Specification)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO report_audit_log (id, tenant_id, actor_id, action, outcome, report_id, specification,
			error_message, duration_ms, prev_hash, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TenantID, e.ActorID, string(e.Action), string(e.Outcome), mapper.NullStr(e.ReportID), spec,
		mapper.NullStr(e.ErrorMessage), e.DurationMs, e.PrevHash, e.Hash, e.CreatedAt.UTC())
	return mapDBError(err)
}

// LastHash returns the hash at the head of the tenant's chain, or "" for an
// empty chain.
func (r *AuditRepo) LastHash(ctx context.Context, tenantID string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, `
		SELECT hash FROM report_audit_log WHERE tenant_id = ? ORDER BY seq DESC LIMIT 1
	`, tenantID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", mapDBError(err)
	}
	return hash, nil
}

// List returns a page of a tenant's entries, newest first.
func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	var action interface{}
	if filter.Action != nil {
		action = string(*filter.Action)
	}
	actor := optional(filter.ActorID)
	where := `
		WHERE tenant_id = ?
		  AND (? IS NULL OR actor_id = ?)
		  AND (? IS NULL OR action = ?)`
	args := []interface{}{filter.TenantID, actor, actor, action, action}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM report_audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapDBError(err)
	}

	entries, err := r.query(ctx, `SELECT `+auditColumns+` FROM report_audit_log`+where+`
		ORDER BY seq DESC LIMIT ? OFFSET ?`,
		append(args, filter.Page.Limit(), filter.Page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ListChain returns every entry of the tenant in append order.
func (r *AuditRepo) ListChain(ctx context.Context, tenantID string) ([]domain.AuditEntry, error) {
	return r.query(ctx, `SELECT `+auditColumns+` FROM report_audit_log WHERE tenant_id = ? ORDER BY seq`, tenantID)
}

func (r *AuditRepo) query(ctx context.Context, stmt string, args ...interface{}) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e                      domain.AuditEntry
			action, outcome        string
			reportID, errorMessage sql.NullString
			spec                   sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&e.ActorID,
			&action,
			&outcome,
			&reportID,
			&spec,
			&errorMessage,
			&e.DurationMs,
			&e.PrevHash,
			&e.Hash,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		parsed, err := mapper.NullSpecFromDB(spec)
		if err != nil {
			return nil, err
		}
		e.Specification = parsed
		e.Action = domain.AuditAction(action)
		e.Outcome = domain.AuditOutcome(outcome)
		e.ReportID = mapper.PtrStr(reportID)
		e.ErrorMessage = mapper.PtrStr(errorMessage)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

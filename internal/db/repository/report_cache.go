package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fleet-reports/internal/domain"
)

var _ domain.CacheStore = (*ReportCacheRepo)(nil)

// ReportCacheRepo is a SQLite-backed result cache shared by every process
// pointing at the same metastore.
type ReportCacheRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewReportCacheRepo creates a new ReportCacheRepo.
func NewReportCacheRepo(db *sql.DB) *ReportCacheRepo {
	return &ReportCacheRepo{db: db, now: time.Now}
}

// Get returns the live entry for key, or (nil, nil).
func (r *ReportCacheRepo) Get(ctx context.Context, key string) (*domain.ReportCacheEntry, error) {
	var e domain.ReportCacheEntry
	err := r.db.QueryRowContext(ctx, `
		SELECT cache_key, table_name, tenant_id, payload, row_count, execution_time_ms, expires_at, created_at
		FROM report_cache WHERE cache_key = ? AND expires_at > ?
	`, key, r.now().UTC()).Scan(
		&e.Key, &e.Table, &e.TenantID, &e.Payload, &e.RowCount, &e.ExecutionTimeMs, &e.ExpiresAt, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapDBError(err)
	}
	e.ExpiresAt = e.ExpiresAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// Put stores entry for ttl, replacing any previous value.
func (r *ReportCacheRepo) Put(ctx context.Context, entry *domain.ReportCacheEntry, ttl time.Duration) error {
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO report_cache (cache_key, table_name, tenant_id, payload, row_count, execution_time_ms, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			table_name = excluded.table_name,
			tenant_id = excluded.tenant_id,
			payload = excluded.payload,
			row_count = excluded.row_count,
			execution_time_ms = excluded.execution_time_ms,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
	`, entry.Key, entry.Table, entry.TenantID, entry.Payload, entry.RowCount, entry.ExecutionTimeMs, now.Add(ttl), now)
	return mapDBError(err)
}

// Forget drops key.
func (r *ReportCacheRepo) Forget(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM report_cache WHERE cache_key = ?`, key)
	return mapDBError(err)
}

// ForgetMatching drops every entry of tenantID and table whose key starts
// with keyPrefix.
func (r *ReportCacheRepo) ForgetMatching(ctx context.Context, tenantID, table, keyPrefix string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM report_cache
		WHERE tenant_id = ? AND table_name = ? AND substr(cache_key, 1, length(?)) = ?
	`, tenantID, table, keyPrefix, keyPrefix)
	if err != nil {
		return 0, mapDBError(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeExpired deletes entries that can no longer be served.
func (r *ReportCacheRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM report_cache WHERE expires_at <= ?`, r.now().UTC())
	if err != nil {
		return 0, mapDBError(err)
	}
	return res.RowsAffected()
}

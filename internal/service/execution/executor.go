// Package execution runs compiled report queries against storage with result
// caching, row caps, timeouts and execution bookkeeping.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/metrics"
)

// Result is the outcome of one Execute call. Rows are shared with concurrent
// callers of the same fingerprint and must be treated as read-only.
type Result struct {
	ExecutionID     string             `json:"execution_id,omitempty"`
	Columns         []string           `json:"columns"`
	Rows            [][]interface{}    `json:"rows"`
	RowCount        int                `json:"row_count"`
	ExecutionTimeMs float64            `json:"execution_time_ms"`
	CacheStatus     domain.CacheStatus `json:"cache_status"`
	Truncated       bool               `json:"truncated"`
	Clamped         bool               `json:"clamped"`
}

// ExecuteOptions adjusts a single Execute call.
type ExecuteOptions struct {
	// ReportID links the execution record to a saved report.
	ReportID *string
	// BypassCache skips the cache lookup; a fresh result is still stored.
	BypassCache bool
}

// Executor dispatches compiled queries to storage.
type Executor struct {
	storage        domain.StorageEngine
	executions     domain.ExecutionRepository
	cache          domain.CacheStore
	logger         *slog.Logger
	flights        singleflight.Group
	defaultTimeout time.Duration
	defaultTTL     time.Duration
	now            func() time.Time
}

// NewExecutor creates an Executor. Caching stays disabled until SetCache.
func NewExecutor(storage domain.StorageEngine, executions domain.ExecutionRepository, logger *slog.Logger) *Executor {
	return &Executor{
		storage:    storage,
		executions: executions,
		logger:     logger,
		defaultTTL: 5 * time.Minute,
		now:        time.Now,
	}
}

// SetCache enables result caching. defaultTTL applies to cacheable tables that
// do not declare their own TTL.
func (e *Executor) SetCache(store domain.CacheStore, defaultTTL time.Duration) {
	e.cache = store
	if defaultTTL > 0 {
		e.defaultTTL = defaultTTL
	}
}

// SetDefaultTimeout bounds executions on tables that declare no timeout.
// Zero means no bound.
func (e *Executor) SetDefaultTimeout(d time.Duration) {
	e.defaultTimeout = d
}

// Execute runs q for tenant. Cache-eligible queries are answered from the
// cache when a live entry exists; otherwise at most one concurrent caller per
// fingerprint reaches storage and the rest share its result.
func (e *Executor) Execute(ctx context.Context, q *domain.CompiledQuery, tenant domain.TenantContext, opts ExecuteOptions) (*Result, error) {
	if !q.Cacheable || e.cache == nil {
		res, err := e.run(ctx, q, tenant, opts)
		if err != nil {
			return nil, err
		}
		metrics.RecordCacheLookup(q.Table, "bypass")
		res.CacheStatus = domain.CacheBypass
		return e.finish(ctx, q, res), nil
	}

	if !opts.BypassCache {
		if res, ok := e.lookup(ctx, q); ok {
			return e.finish(ctx, q, res), nil
		}
	}

	// The flight runs detached from any single caller so that a departing
	// leader does not fail the callers sharing its result. The table timeout
	// still bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ran := false
	ch := e.flights.DoChan(q.Fingerprint, func() (interface{}, error) {
		ran = true
		if !opts.BypassCache {
			if res, ok := e.lookup(flightCtx, q); ok {
				return res, nil
			}
		}
		metrics.RecordCacheLookup(q.Table, "miss")
		res, err := e.run(flightCtx, q, tenant, opts)
		if err != nil {
			return nil, err
		}
		res.CacheStatus = domain.CacheMiss
		if e.store(flightCtx, q, res) {
			res.CacheStatus = domain.CacheStored
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		shared := *r.Val.(*Result)
		if !ran {
			shared.CacheStatus = domain.CacheHit
			shared.ExecutionID = ""
		}
		return e.finish(ctx, q, &shared), nil
	}
}

// finish applies value transforms to a result and records its cache status.
func (e *Executor) finish(ctx context.Context, q *domain.CompiledQuery, res *Result) *Result {
	res.Rows = applyTransforms(q.Columns, res.Rows)
	recordStatus(ctx, res.CacheStatus)
	return res
}

// Invalidate drops the tenant's cached results for table. A non-empty
// fingerprintPrefix narrows the drop to fingerprints starting with it (the
// part after the "<table>:" prefix).
func (e *Executor) Invalidate(ctx context.Context, tenantID, table, fingerprintPrefix string) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	n, err := e.cache.ForgetMatching(ctx, tenantID, table, table+":"+fingerprintPrefix)
	if err != nil {
		metrics.RecordCacheError("invalidate")
		return 0, &domain.CacheError{Op: "invalidate", Err: err}
	}
	metrics.ReportCacheInvalidations.WithLabelValues(table).Add(float64(n))
	e.logger.Info("report cache invalidated", "tenant_id", tenantID, "table", table, "prefix", fingerprintPrefix, "entries", n)
	return n, nil
}

// lookup returns a HIT result for q. Cache failures are logged and reported
// as a miss.
func (e *Executor) lookup(ctx context.Context, q *domain.CompiledQuery) (*Result, bool) {
	entry, err := e.cache.Get(ctx, q.Fingerprint)
	if err != nil {
		metrics.RecordCacheError("get")
		e.logger.Warn("report cache lookup failed", "table", q.Table, "error", &domain.CacheError{Op: "get", Err: err})
		return nil, false
	}
	if entry == nil || entry.Expired(e.now()) {
		return nil, false
	}
	rows, err := decodePayload(entry.Payload, q.Columns)
	if err != nil {
		e.logger.Warn("discarding unreadable cache entry", "table", q.Table, "key", q.Fingerprint, "error", err)
		if ferr := e.cache.Forget(ctx, q.Fingerprint); ferr != nil {
			metrics.RecordCacheError("forget")
		}
		return nil, false
	}

	metrics.RecordCacheLookup(q.Table, "hit")
	e.logger.Debug("report cache hit", "table", q.Table, "rows", len(rows))
	return &Result{
		Columns:         q.ColumnNames(),
		Rows:            rows,
		RowCount:        len(rows),
		ExecutionTimeMs: entry.ExecutionTimeMs,
		CacheStatus:     domain.CacheHit,
		Clamped:         q.Clamped,
	}, true
}

// store writes a fresh result to the cache and reports whether it succeeded.
func (e *Executor) store(ctx context.Context, q *domain.CompiledQuery, res *Result) bool {
	payload, err := encodePayload(res.Columns, res.Rows)
	if err != nil {
		e.logger.Warn("report result not cacheable", "table", q.Table, "error", err)
		return false
	}
	ttl := q.CacheTTL
	if ttl <= 0 {
		ttl = e.defaultTTL
	}
	entry := &domain.ReportCacheEntry{
		Key:             q.Fingerprint,
		Table:           q.Table,
		TenantID:        q.TenantID,
		Payload:         payload,
		RowCount:        res.RowCount,
		ExecutionTimeMs: res.ExecutionTimeMs,
	}
	if err := e.cache.Put(context.WithoutCancel(ctx), entry, ttl); err != nil {
		metrics.RecordCacheError("put")
		e.logger.Warn("report cache store failed", "table", q.Table, "error", &domain.CacheError{Op: "put", Err: err})
		return false
	}
	return true
}

// run executes q against storage and records the execution lifecycle. The
// returned rows are normalized but not transformed.
func (e *Executor) run(ctx context.Context, q *domain.CompiledQuery, tenant domain.TenantContext, opts ExecuteOptions) (*Result, error) {
	rec, err := e.executions.Create(ctx, &domain.ReportExecution{
		ID:            domain.NewID(),
		ReportID:      opts.ReportID,
		TenantID:      tenant.TenantID,
		ActorID:       tenant.ActorID,
		Table:         q.Table,
		Fingerprint:   q.Fingerprint,
		Specification: q.Spec,
		Status:        domain.ExecutionPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create execution record: %w", err)
	}

	// Finalization must happen even when the caller has gone away.
	finalCtx := context.WithoutCancel(ctx)
	if err := e.executions.MarkRunning(ctx, rec.ID); err != nil {
		e.markFailed(finalCtx, q, rec.ID, err.Error(), 0)
		return nil, &domain.ExecutionError{ExecutionID: rec.ID, Err: fmt.Errorf("mark running: %w", err)}
	}

	runCtx := ctx
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := e.storage.ExecuteQuery(runCtx, q)
	elapsed := time.Since(start)
	ms := float64(elapsed.Microseconds()) / 1000

	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded)
		msg := err.Error()
		if timedOut {
			msg = fmt.Sprintf("execution exceeded timeout of %s", timeout)
		}
		e.markFailed(finalCtx, q, rec.ID, msg, ms)
		metrics.RecordExecution(q.Table, string(domain.ExecutionFailed), elapsed, 0)
		return nil, &domain.ExecutionError{ExecutionID: rec.ID, Timeout: timedOut, Err: err}
	}

	res := &Result{
		ExecutionID:     rec.ID,
		Columns:         q.ColumnNames(),
		ExecutionTimeMs: ms,
		Clamped:         q.Clamped,
	}
	res.Rows = rows.Rows
	if q.RowCap > 0 && len(res.Rows) > q.RowCap {
		res.Rows = res.Rows[:q.RowCap]
		res.Truncated = true
		metrics.ReportRowCapTruncations.WithLabelValues(q.Table).Inc()
		e.logger.Warn("storage returned more rows than the row cap", "table", q.Table, "cap", q.RowCap, "returned", len(rows.Rows))
	}
	normalizeRows(q.Columns, res.Rows)
	res.RowCount = len(res.Rows)

	if err := e.executions.MarkCompleted(finalCtx, rec.ID, res.RowCount, ms); err != nil {
		e.logger.Warn("failed to finalize execution record", "execution_id", rec.ID, "error", err)
	}
	metrics.RecordExecution(q.Table, string(domain.ExecutionCompleted), elapsed, res.RowCount)
	e.logger.Debug("report executed", "execution_id", rec.ID, "table", q.Table, "rows", res.RowCount, "ms", ms)
	return res, nil
}

func (e *Executor) markFailed(ctx context.Context, q *domain.CompiledQuery, id, msg string, ms float64) {
	if err := e.executions.MarkFailed(ctx, id, msg, ms); err != nil {
		e.logger.Warn("failed to finalize execution record", "execution_id", id, "error", err)
	}
	e.logger.Warn("report execution failed", "execution_id", id, "table", q.Table, "error", msg)
}

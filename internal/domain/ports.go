package domain

import (
	"context"
	"io"
	"time"
)

// StorageEngine executes compiled report queries against the relational store.
// Implemented by engine.SQLStorage.
type StorageEngine interface {
	ExecuteQuery(ctx context.Context, q *CompiledQuery) (*RowSet, error)
}

// CacheStore persists serialized report results by fingerprint.
// Get returns (nil, nil) on a miss. Implemented by cache.MemoryStore and
// repository.ReportCacheRepo.
type CacheStore interface {
	Get(ctx context.Context, key string) (*ReportCacheEntry, error)
	Put(ctx context.Context, entry *ReportCacheEntry, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
	// ForgetMatching drops the tenant's entries of table whose key starts
	// with keyPrefix.
	ForgetMatching(ctx context.Context, tenantID, table, keyPrefix string) (int, error)
}

// Exporter serializes a result set into one output format.
type Exporter interface {
	Format() ExportFormat
	ContentType() string
	Export(w io.Writer, rows *RowSet) error
}

// Authorizer enforces a table's required-permission tags. Permission
// evaluation belongs to an external collaborator; the engine only forwards
// the declared tags.
type Authorizer interface {
	Authorize(ctx context.Context, tenant TenantContext, permissions []string) error
}

// ReportDeliverer hands an exported scheduled-report payload to the
// notification collaborator.
type ReportDeliverer interface {
	Deliver(ctx context.Context, report *Report, format ExportFormat, payload []byte) error
}

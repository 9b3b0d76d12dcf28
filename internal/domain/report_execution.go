package domain

import "time"

// ExecutionStatus is the lifecycle state of a ReportExecution.
type ExecutionStatus string

// Execution lifecycle: pending → running → completed|failed.
const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// ReportExecution records one execution attempt against storage.
type ReportExecution struct {
	ID              string
	ReportID        *string
	TenantID        string
	ActorID         string
	Table           string
	Fingerprint     string
	Specification   QuerySpecification
	Status          ExecutionStatus
	ExecutionTimeMs float64
	RowCount        int
	ErrorMessage    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	TenantID string
	ReportID *string
	Status   *ExecutionStatus
	Page     PageRequest
}

// CacheStatus describes how a single execute call interacted with the cache.
type CacheStatus string

// Cache statuses reported per call.
const (
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"
	CacheStored CacheStatus = "STORE"
	CacheBypass CacheStatus = "BYPASS"
)

// ReportCacheEntry stores a serialized result under a query fingerprint.
type ReportCacheEntry struct {
	Key             string
	Table           string
	TenantID        string
	Payload         []byte
	RowCount        int
	ExecutionTimeMs float64
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Expired reports whether the entry is no longer servable at now.
func (e *ReportCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

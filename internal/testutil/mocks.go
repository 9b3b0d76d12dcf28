// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"fleet-reports/internal/domain"
)

// === Storage Engine Mock ===

// MockStorage implements domain.StorageEngine for testing. Calls are counted
// so tests can assert how often storage was reached.
type MockStorage struct {
	ExecuteQueryFn func(ctx context.Context, q *domain.CompiledQuery) (*domain.RowSet, error)

	mu      sync.Mutex
	calls   int
	queries []*domain.CompiledQuery
}

// ExecuteQuery implements the interface method for testing.
func (m *MockStorage) ExecuteQuery(ctx context.Context, q *domain.CompiledQuery) (*domain.RowSet, error) {
	m.mu.Lock()
	m.calls++
	m.queries = append(m.queries, q)
	m.mu.Unlock()
	if m.ExecuteQueryFn != nil {
		return m.ExecuteQueryFn(ctx, q)
	}
	panic("unexpected call to MockStorage.ExecuteQuery")
}

// Calls returns the number of ExecuteQuery calls so far.
func (m *MockStorage) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastQuery returns the most recent query, or nil if none.
func (m *MockStorage) LastQuery() *domain.CompiledQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queries) == 0 {
		return nil
	}
	return m.queries[len(m.queries)-1]
}

var _ domain.StorageEngine = (*MockStorage)(nil)

// === Cache Store Mock ===

// MockCacheStore implements domain.CacheStore for testing. Nil Fn fields fall
// back to an in-memory map that ignores TTLs beyond setting ExpiresAt.
type MockCacheStore struct {
	GetFn            func(ctx context.Context, key string) (*domain.ReportCacheEntry, error)
	PutFn            func(ctx context.Context, entry *domain.ReportCacheEntry, ttl time.Duration) error
	ForgetFn         func(ctx context.Context, key string) error
	ForgetMatchingFn func(ctx context.Context, tenantID, table, keyPrefix string) (int, error)

	mu      sync.Mutex
	entries map[string]*domain.ReportCacheEntry
	puts    int
}

// Get implements the interface method for testing.
func (m *MockCacheStore) Get(ctx context.Context, key string) (*domain.ReportCacheEntry, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// Put implements the interface method for testing.
func (m *MockCacheStore) Put(ctx context.Context, entry *domain.ReportCacheEntry, ttl time.Duration) error {
	if m.PutFn != nil {
		return m.PutFn(ctx, entry, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]*domain.ReportCacheEntry)
	}
	cp := *entry
	cp.CreatedAt = time.Now()
	cp.ExpiresAt = cp.CreatedAt.Add(ttl)
	m.entries[entry.Key] = &cp
	m.puts++
	return nil
}

// Forget implements the interface method for testing.
func (m *MockCacheStore) Forget(ctx context.Context, key string) error {
	if m.ForgetFn != nil {
		return m.ForgetFn(ctx, key)
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// ForgetMatching implements the interface method for testing.
func (m *MockCacheStore) ForgetMatching(ctx context.Context, tenantID, table, keyPrefix string) (int, error) {
	if m.ForgetMatchingFn != nil {
		return m.ForgetMatchingFn(ctx, tenantID, table, keyPrefix)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.TenantID == tenantID && e.Table == table && strings.HasPrefix(k, keyPrefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Puts returns the number of entries stored through the fallback map.
func (m *MockCacheStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

var _ domain.CacheStore = (*MockCacheStore)(nil)

// === Execution Repository Mock ===

// MockExecutionRepo implements domain.ExecutionRepository for testing. With
// nil Fn fields it keeps executions in memory and tracks status transitions.
type MockExecutionRepo struct {
	CreateFn        func(ctx context.Context, e *domain.ReportExecution) (*domain.ReportExecution, error)
	MarkRunningFn   func(ctx context.Context, id string) error
	MarkCompletedFn func(ctx context.Context, id string, rowCount int, executionTimeMs float64) error
	MarkFailedFn    func(ctx context.Context, id string, message string, executionTimeMs float64) error
	GetByIDFn       func(ctx context.Context, id string) (*domain.ReportExecution, error)
	ListFn          func(ctx context.Context, filter domain.ExecutionFilter) ([]domain.ReportExecution, int64, error)

	mu    sync.Mutex
	byID  map[string]*domain.ReportExecution
	order []string
}

// Create implements the interface method for testing.
func (m *MockExecutionRepo) Create(ctx context.Context, e *domain.ReportExecution) (*domain.ReportExecution, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID == nil {
		m.byID = make(map[string]*domain.ReportExecution)
	}
	cp := *e
	cp.CreatedAt = time.Now()
	m.byID[cp.ID] = &cp
	m.order = append(m.order, cp.ID)
	out := cp
	return &out, nil
}

// MarkRunning implements the interface method for testing.
func (m *MockExecutionRepo) MarkRunning(ctx context.Context, id string) error {
	if m.MarkRunningFn != nil {
		return m.MarkRunningFn(ctx, id)
	}
	return m.update(id, func(e *domain.ReportExecution) {
		now := time.Now()
		e.Status = domain.ExecutionRunning
		e.StartedAt = &now
	})
}

// MarkCompleted implements the interface method for testing.
func (m *MockExecutionRepo) MarkCompleted(ctx context.Context, id string, rowCount int, executionTimeMs float64) error {
	if m.MarkCompletedFn != nil {
		return m.MarkCompletedFn(ctx, id, rowCount, executionTimeMs)
	}
	return m.update(id, func(e *domain.ReportExecution) {
		now := time.Now()
		e.Status = domain.ExecutionCompleted
		e.RowCount = rowCount
		e.ExecutionTimeMs = executionTimeMs
		e.CompletedAt = &now
	})
}

// MarkFailed implements the interface method for testing.
func (m *MockExecutionRepo) MarkFailed(ctx context.Context, id string, message string, executionTimeMs float64) error {
	if m.MarkFailedFn != nil {
		return m.MarkFailedFn(ctx, id, message, executionTimeMs)
	}
	return m.update(id, func(e *domain.ReportExecution) {
		now := time.Now()
		e.Status = domain.ExecutionFailed
		e.ErrorMessage = &message
		e.ExecutionTimeMs = executionTimeMs
		e.CompletedAt = &now
	})
}

// GetByID implements the interface method for testing.
func (m *MockExecutionRepo) GetByID(ctx context.Context, id string) (*domain.ReportExecution, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound("execution %q not found", id)
	}
	cp := *e
	return &cp, nil
}

// List implements the interface method for testing.
func (m *MockExecutionRepo) List(ctx context.Context, filter domain.ExecutionFilter) ([]domain.ReportExecution, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	all := m.All()
	var out []domain.ReportExecution
	for _, e := range all {
		if e.TenantID == filter.TenantID {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}

// All returns every recorded execution in creation order.
func (m *MockExecutionRepo) All() []domain.ReportExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ReportExecution, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.byID[id])
	}
	return out
}

func (m *MockExecutionRepo) update(id string, fn func(e *domain.ReportExecution)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound("execution %q not found", id)
	}
	fn(e)
	return nil
}

var _ domain.ExecutionRepository = (*MockExecutionRepo)(nil)

// === Audit Repository Mock ===

// MockAuditRepo implements domain.AuditRepository for testing.
type MockAuditRepo struct {
	AppendFn    func(ctx context.Context, e *domain.AuditEntry) error
	LastHashFn  func(ctx context.Context, tenantID string) (string, error)
	ListFn      func(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error)
	ListChainFn func(ctx context.Context, tenantID string) ([]domain.AuditEntry, error)

	mu      sync.Mutex
	Entries []*domain.AuditEntry // collected entries for assertions
}

// Append implements the interface method for testing.
func (m *MockAuditRepo) Append(ctx context.Context, e *domain.AuditEntry) error {
	if m.AppendFn != nil {
		if err := m.AppendFn(ctx, e); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Entries = append(m.Entries, e)
	m.mu.Unlock()
	return nil
}

// LastHash implements the interface method for testing.
func (m *MockAuditRepo) LastHash(ctx context.Context, tenantID string) (string, error) {
	if m.LastHashFn != nil {
		return m.LastHashFn(ctx, tenantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Entries) - 1; i >= 0; i-- {
		if m.Entries[i].TenantID == tenantID {
			return m.Entries[i].Hash, nil
		}
	}
	return "", nil
}

// List implements the interface method for testing.
func (m *MockAuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockAuditRepo.List")
}

// ListChain implements the interface method for testing.
func (m *MockAuditRepo) ListChain(ctx context.Context, tenantID string) ([]domain.AuditEntry, error) {
	if m.ListChainFn != nil {
		return m.ListChainFn(ctx, tenantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.Entries {
		if e.TenantID == tenantID {
			out = append(out, *e)
		}
	}
	return out, nil
}

// LastEntry returns the last collected audit entry, or nil if none.
func (m *MockAuditRepo) LastEntry() *domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Entries) == 0 {
		return nil
	}
	return m.Entries[len(m.Entries)-1]
}

// HasAction returns true if any collected entry has the given action.
func (m *MockAuditRepo) HasAction(action domain.AuditAction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

var _ domain.AuditRepository = (*MockAuditRepo)(nil)

// === Report Repository Mock ===

// MockReportRepo implements domain.ReportRepository for testing.
type MockReportRepo struct {
	CreateFn         func(ctx context.Context, r *domain.Report) (*domain.Report, error)
	GetByIDFn        func(ctx context.Context, tenantID, id string) (*domain.Report, error)
	ListFn           func(ctx context.Context, tenantID string, page domain.PageRequest) ([]domain.Report, int64, error)
	UpdateFn         func(ctx context.Context, r *domain.Report) (*domain.Report, error)
	DeleteFn         func(ctx context.Context, tenantID, id string) error
	ListDueFn        func(ctx context.Context, now time.Time) ([]domain.Report, error)
	TryMarkRunningFn func(ctx context.Context, id string) (bool, error)
	FinishRunFn      func(ctx context.Context, id string, status domain.ExecutionStatus, errMsg *string, ranAt time.Time, next *time.Time) error
}

// Create implements the interface method for testing.
func (m *MockReportRepo) Create(ctx context.Context, r *domain.Report) (*domain.Report, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, r)
	}
	panic("unexpected call to MockReportRepo.Create")
}

// GetByID implements the interface method for testing.
func (m *MockReportRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Report, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, tenantID, id)
	}
	panic("unexpected call to MockReportRepo.GetByID")
}

// List implements the interface method for testing.
func (m *MockReportRepo) List(ctx context.Context, tenantID string, page domain.PageRequest) ([]domain.Report, int64, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, tenantID, page)
	}
	panic("unexpected call to MockReportRepo.List")
}

// Update implements the interface method for testing.
func (m *MockReportRepo) Update(ctx context.Context, r *domain.Report) (*domain.Report, error) {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, r)
	}
	panic("unexpected call to MockReportRepo.Update")
}

// Delete implements the interface method for testing.
func (m *MockReportRepo) Delete(ctx context.Context, tenantID, id string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, tenantID, id)
	}
	panic("unexpected call to MockReportRepo.Delete")
}

// ListDue implements the interface method for testing.
func (m *MockReportRepo) ListDue(ctx context.Context, now time.Time) ([]domain.Report, error) {
	if m.ListDueFn != nil {
		return m.ListDueFn(ctx, now)
	}
	panic("unexpected call to MockReportRepo.ListDue")
}

// TryMarkRunning implements the interface method for testing.
func (m *MockReportRepo) TryMarkRunning(ctx context.Context, id string) (bool, error) {
	if m.TryMarkRunningFn != nil {
		return m.TryMarkRunningFn(ctx, id)
	}
	panic("unexpected call to MockReportRepo.TryMarkRunning")
}

// FinishRun implements the interface method for testing.
func (m *MockReportRepo) FinishRun(ctx context.Context, id string, status domain.ExecutionStatus, errMsg *string, ranAt time.Time, next *time.Time) error {
	if m.FinishRunFn != nil {
		return m.FinishRunFn(ctx, id, status, errMsg, ranAt, next)
	}
	panic("unexpected call to MockReportRepo.FinishRun")
}

var _ domain.ReportRepository = (*MockReportRepo)(nil)

// === Authorizer Mock ===

// MockAuthorizer implements domain.Authorizer for testing. A nil AuthorizeFn
// allows everything.
type MockAuthorizer struct {
	AuthorizeFn func(ctx context.Context, tenant domain.TenantContext, permissions []string) error
}

// Authorize implements the interface method for testing.
func (m *MockAuthorizer) Authorize(ctx context.Context, tenant domain.TenantContext, permissions []string) error {
	if m.AuthorizeFn != nil {
		return m.AuthorizeFn(ctx, tenant, permissions)
	}
	return nil
}

var _ domain.Authorizer = (*MockAuthorizer)(nil)

// === Report Deliverer Mock ===

// Delivery is one payload captured by MockDeliverer.
type Delivery struct {
	ReportID string
	Format   domain.ExportFormat
	Payload  []byte
}

// MockDeliverer implements domain.ReportDeliverer for testing.
type MockDeliverer struct {
	DeliverFn func(ctx context.Context, report *domain.Report, format domain.ExportFormat, payload []byte) error

	mu         sync.Mutex
	Deliveries []Delivery
}

// Deliver implements the interface method for testing.
func (m *MockDeliverer) Deliver(ctx context.Context, report *domain.Report, format domain.ExportFormat, payload []byte) error {
	if m.DeliverFn != nil {
		if err := m.DeliverFn(ctx, report, format, payload); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Deliveries = append(m.Deliveries, Delivery{ReportID: report.ID, Format: format, Payload: payload})
	m.mu.Unlock()
	return nil
}

var _ domain.ReportDeliverer = (*MockDeliverer)(nil)

// === Exporter Mock ===

// MockExporter implements domain.Exporter for testing.
type MockExporter struct {
	ExportFormat domain.ExportFormat
	ExportFn     func(w io.Writer, rows *domain.RowSet) error
}

// Format implements the interface method for testing.
func (m *MockExporter) Format() domain.ExportFormat { return m.ExportFormat }

// ContentType implements the interface method for testing.
func (m *MockExporter) ContentType() string { return "application/octet-stream" }

// Export implements the interface method for testing.
func (m *MockExporter) Export(w io.Writer, rows *domain.RowSet) error {
	if m.ExportFn != nil {
		return m.ExportFn(w, rows)
	}
	panic("unexpected call to MockExporter.Export")
}

var _ domain.Exporter = (*MockExporter)(nil)

// Package report is the entry point for report queries: it compiles query
// specifications, authorizes them against the caller, executes them through
// the cache-aware executor and audits every action.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/metrics"
	"fleet-reports/internal/service/audit"
	"fleet-reports/internal/service/compiler"
	"fleet-reports/internal/service/execution"
	"fleet-reports/internal/service/export"
	"fleet-reports/internal/service/expression"
	"fleet-reports/internal/service/schema"
)

// RunOptions adjusts a single Run call.
type RunOptions struct {
	BypassCache bool
}

// ExportResult is a rendered export payload.
type ExportResult struct {
	Payload     []byte
	ContentType string
	Filename    string
	Result      *execution.Result
}

// Service composes the report engine components.
type Service struct {
	registry   *schema.Registry
	validator  *expression.Validator
	compiler   *compiler.Compiler
	executor   *execution.Executor
	recorder   *audit.Recorder
	reports    domain.ReportRepository
	executions domain.ExecutionRepository
	authz      domain.Authorizer
	exports    *export.Registry
	deliverer  domain.ReportDeliverer
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a Service over a populated registry.
func NewService(
	registry *schema.Registry,
	executor *execution.Executor,
	recorder *audit.Recorder,
	reports domain.ReportRepository,
	executions domain.ExecutionRepository,
	logger *slog.Logger,
) *Service {
	v := expression.NewValidator(registry)
	return &Service{
		registry:   registry,
		validator:  v,
		compiler:   compiler.New(registry, v),
		executor:   executor,
		recorder:   recorder,
		reports:    reports,
		executions: executions,
		exports:    export.Default(),
		logger:     logger,
		now:        time.Now,
	}
}

// SetAuthorizer installs the permission collaborator. Without one every
// tenant may read every table.
func (s *Service) SetAuthorizer(a domain.Authorizer) { s.authz = a }

// SetExports replaces the export format registry.
func (s *Service) SetExports(r *export.Registry) { s.exports = r }

// SetDeliverer installs the collaborator that receives scheduled exports.
func (s *Service) SetDeliverer(d domain.ReportDeliverer) { s.deliverer = d }

// Registry returns the schema registry backing the service.
func (s *Service) Registry() *schema.Registry { return s.registry }

// Exports returns the export format registry.
func (s *Service) Exports() *export.Registry { return s.exports }

// ValidateExpression checks a computed-column expression against table.
func (s *Service) ValidateExpression(expr, table string) expression.Result {
	return s.validator.Validate(expr, table)
}

// Compile compiles spec for the tenant in ctx.
func (s *Service) Compile(ctx context.Context, spec domain.QuerySpecification) (*domain.CompiledQuery, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.compile(spec, tenant)
}

func (s *Service) compile(spec domain.QuerySpecification, tenant domain.TenantContext) (*domain.CompiledQuery, error) {
	q, err := s.compiler.Compile(spec, tenant)
	if err != nil {
		metrics.ReportCompileFailures.Inc()
		return nil, err
	}
	return q, nil
}

// Run compiles, authorizes and executes spec, auditing the outcome.
func (s *Service) Run(ctx context.Context, spec domain.QuerySpecification, opts RunOptions) (*execution.Result, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, tenant, spec, nil, domain.AuditExecute, execution.ExecuteOptions{BypassCache: opts.BypassCache})
}

// run executes spec and records one audit entry for action.
func (s *Service) run(ctx context.Context, tenant domain.TenantContext, spec domain.QuerySpecification, reportID *string, action domain.AuditAction, opts execution.ExecuteOptions) (*execution.Result, error) {
	start := time.Now()
	res, _, err := s.execute(ctx, tenant, spec, reportID, opts)
	s.audit(ctx, tenant, action, reportID, &spec, err, time.Since(start))
	return res, err
}

func (s *Service) execute(ctx context.Context, tenant domain.TenantContext, spec domain.QuerySpecification, reportID *string, opts execution.ExecuteOptions) (*execution.Result, *domain.CompiledQuery, error) {
	q, err := s.compile(spec, tenant)
	if err != nil {
		return nil, nil, err
	}
	if s.authz != nil {
		if err := s.authz.Authorize(ctx, tenant, q.RequiredPermissions); err != nil {
			return nil, q, err
		}
	}
	opts.ReportID = reportID
	res, err := s.executor.Execute(ctx, q, tenant, opts)
	if err != nil {
		return nil, q, err
	}
	return res, q, nil
}

// Export runs spec and renders the result in format.
func (s *Service) Export(ctx context.Context, spec domain.QuerySpecification, format domain.ExportFormat) (*ExportResult, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.export(ctx, tenant, spec, nil, format)
	s.audit(ctx, tenant, domain.AuditExport, nil, &spec, err, time.Since(start))
	return out, err
}

func (s *Service) export(ctx context.Context, tenant domain.TenantContext, spec domain.QuerySpecification, reportID *string, format domain.ExportFormat) (*ExportResult, error) {
	if _, err := s.exports.Get(format); err != nil {
		return nil, err
	}
	res, q, err := s.execute(ctx, tenant, spec, reportID, execution.ExecuteOptions{})
	if err != nil {
		return nil, err
	}
	payload, contentType, err := s.exports.Render(format, &domain.RowSet{Columns: res.Columns, Rows: res.Rows})
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		Payload:     payload,
		ContentType: contentType,
		Filename:    fmt.Sprintf("%s-%s.%s", q.Table, s.now().UTC().Format("20060102-150405"), format),
		Result:      res,
	}, nil
}

// InvalidateCache drops the tenant's cached results for table, optionally
// narrowed to a fingerprint prefix. Other tenants' entries are untouched.
func (s *Service) InvalidateCache(ctx context.Context, table, fingerprintPrefix string) (int, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return 0, err
	}
	if !s.registry.HasTable(table) {
		return 0, &domain.UnknownTableError{Table: table}
	}
	start := time.Now()
	n, err := s.executor.Invalidate(ctx, tenant.TenantID, table, fingerprintPrefix)
	s.audit(ctx, tenant, domain.AuditInvalidate, nil, &domain.QuerySpecification{From: table}, err, time.Since(start))
	return n, err
}

// ListExecutions lists the tenant's execution records.
func (s *Service) ListExecutions(ctx context.Context, reportID *string, page domain.PageRequest) ([]domain.ReportExecution, int64, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.executions.List(ctx, domain.ExecutionFilter{TenantID: tenant.TenantID, ReportID: reportID, Page: page})
}

// GetExecution returns one execution record of the tenant.
func (s *Service) GetExecution(ctx context.Context, id string) (*domain.ReportExecution, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.TenantID != tenant.TenantID {
		return nil, domain.ErrNotFound("execution %q not found", id)
	}
	return e, nil
}

// ListAudit lists audit entries of the tenant.
func (s *Service) ListAudit(ctx context.Context, action *domain.AuditAction, page domain.PageRequest) ([]domain.AuditEntry, int64, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.recorder.List(ctx, domain.AuditFilter{TenantID: tenant.TenantID, Action: action, Page: page})
}

// VerifyAudit verifies the tenant's audit chain.
func (s *Service) VerifyAudit(ctx context.Context) (*audit.VerifyResult, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.recorder.Verify(ctx, tenant.TenantID)
}

func (s *Service) audit(ctx context.Context, tenant domain.TenantContext, action domain.AuditAction, reportID *string, spec *domain.QuerySpecification, err error, d time.Duration) {
	s.recorder.Record(ctx, tenant, audit.Event{
		Action:   action,
		Outcome:  outcomeOf(err),
		ReportID: reportID,
		Spec:     spec,
		Err:      err,
		Duration: d,
	})
}

func outcomeOf(err error) domain.AuditOutcome {
	var denied *domain.AccessDeniedError
	switch {
	case err == nil:
		return domain.OutcomeSuccess
	case errors.As(err, &denied):
		return domain.OutcomeDenied
	}
	return domain.OutcomeFailure
}

func tenantFrom(ctx context.Context) (domain.TenantContext, error) {
	t, ok := domain.TenantFromContext(ctx)
	if !ok || t.TenantID == "" {
		return domain.TenantContext{}, domain.ErrAccessDenied("tenant context is required")
	}
	return t, nil
}

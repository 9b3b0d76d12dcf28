package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/service/execution"
	"fleet-reports/internal/service/scheduling"
)

// CreateReport saves a report for the tenant in ctx. The specification must
// compile and a schedule, when enabled, must be valid.
func (s *Service) CreateReport(ctx context.Context, req domain.CreateReportRequest) (*domain.Report, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.compile(req.Specification, tenant); err != nil {
		return nil, err
	}

	format := domain.ExportJSON
	if req.ExportFormat != "" {
		format, _ = domain.ParseExportFormat(req.ExportFormat)
	}
	r := &domain.Report{
		ID:               domain.NewID(),
		TenantID:         tenant.TenantID,
		OwnerID:          tenant.ActorID,
		OwnerPermissions: append([]string(nil), tenant.Permissions...),
		Name:             strings.TrimSpace(req.Name),
		Description:      req.Description,
		Specification:    req.Specification,
		IsScheduled:      req.IsScheduled,
		Schedule:         req.Schedule,
		ExportFormat:     format,
		Recipients:       req.Recipients,
	}
	if err := s.planSchedule(r); err != nil {
		return nil, err
	}

	start := time.Now()
	created, err := s.reports.Create(ctx, r)
	s.audit(ctx, tenant, domain.AuditCreate, &r.ID, &r.Specification, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if created.IsScheduled {
		s.audit(ctx, tenant, domain.AuditSchedule, &created.ID, &created.Specification, nil, 0)
	}
	return created, nil
}

// GetReport returns a saved report of the tenant.
func (s *Service) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.reports.GetByID(ctx, tenant.TenantID, id)
}

// ListReports lists the tenant's saved reports.
func (s *Service) ListReports(ctx context.Context, page domain.PageRequest) ([]domain.Report, int64, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.reports.List(ctx, tenant.TenantID, page)
}

// UpdateReport applies a partial update. Enabling or changing a schedule
// recomputes the next run and is audited as a schedule action.
func (s *Service) UpdateReport(ctx context.Context, id string, req domain.UpdateReportRequest) (*domain.Report, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.reports.GetByID(ctx, tenant.TenantID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrValidation("name is required")
		}
		r.Name = name
	}
	if req.Description != nil {
		r.Description = *req.Description
	}
	if req.Specification != nil {
		if _, err := s.compile(*req.Specification, tenant); err != nil {
			return nil, err
		}
		r.Specification = *req.Specification
	}
	if req.ExportFormat != nil {
		f, ok := domain.ParseExportFormat(*req.ExportFormat)
		if !ok {
			return nil, domain.ErrValidation("unsupported export format %q", *req.ExportFormat)
		}
		r.ExportFormat = f
	}
	if req.Recipients != nil {
		r.Recipients = req.Recipients
	}
	if tenant.ActorID == r.OwnerID {
		r.OwnerPermissions = append([]string(nil), tenant.Permissions...)
	}

	rescheduled := false
	if req.IsScheduled != nil && *req.IsScheduled != r.IsScheduled {
		r.IsScheduled = *req.IsScheduled
		rescheduled = true
	}
	if req.Schedule != nil {
		r.Schedule = req.Schedule
		rescheduled = true
	}
	if rescheduled {
		if err := s.planSchedule(r); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	updated, err := s.reports.Update(ctx, r)
	s.audit(ctx, tenant, domain.AuditUpdate, &r.ID, &r.Specification, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if rescheduled && updated.IsScheduled {
		s.audit(ctx, tenant, domain.AuditSchedule, &updated.ID, &updated.Specification, nil, 0)
	}
	return updated, nil
}

// DeleteReport deletes a saved report.
func (s *Service) DeleteReport(ctx context.Context, id string) error {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.reports.Delete(ctx, tenant.TenantID, id)
	s.audit(ctx, tenant, domain.AuditDelete, &id, nil, err, time.Since(start))
	return err
}

// RunReport executes a saved report on demand.
func (s *Service) RunReport(ctx context.Context, id string, opts RunOptions) (*execution.Result, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.reports.GetByID(ctx, tenant.TenantID, id)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, tenant, r.Specification, &r.ID, domain.AuditExecute, execution.ExecuteOptions{BypassCache: opts.BypassCache})
}

// RunScheduled runs a due report as its owner, with the permission tags the
// owner held when they last saved it, renders it in the report's
// export format and hands it to the deliverer.
func (s *Service) RunScheduled(ctx context.Context, r *domain.Report) error {
	tenant := domain.TenantContext{TenantID: r.TenantID, ActorID: r.OwnerID, Permissions: r.OwnerPermissions}
	ctx = domain.WithTenant(ctx, tenant)
	format := r.ExportFormat
	if format == "" {
		format = domain.ExportJSON
	}

	start := time.Now()
	err := s.runScheduled(ctx, tenant, r, format)
	s.audit(ctx, tenant, domain.AuditSchedule, &r.ID, &r.Specification, err, time.Since(start))
	return err
}

func (s *Service) runScheduled(ctx context.Context, tenant domain.TenantContext, r *domain.Report, format domain.ExportFormat) error {
	out, err := s.export(ctx, tenant, r.Specification, &r.ID, format)
	if err != nil {
		return err
	}
	if s.deliverer == nil || len(r.Recipients) == 0 {
		s.logger.Info("scheduled report produced without delivery", "report_id", r.ID, "rows", out.Result.RowCount)
		return nil
	}
	if err := s.deliverer.Deliver(ctx, r, format, out.Payload); err != nil {
		return fmt.Errorf("deliver report: %w", err)
	}
	return nil
}

// planSchedule validates the schedule of r and sets its next run.
func (s *Service) planSchedule(r *domain.Report) error {
	if !r.IsScheduled {
		r.NextScheduledRun = nil
		return nil
	}
	if r.Schedule == nil {
		return domain.ErrValidation("schedule is required when is_scheduled is true")
	}
	next, err := scheduling.NextRun(*r.Schedule, s.now())
	if err != nil {
		return err
	}
	r.NextScheduledRun = &next
	return nil
}

var _ scheduling.ReportRunner = (*Service)(nil)

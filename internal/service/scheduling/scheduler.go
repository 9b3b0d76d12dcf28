package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/metrics"
)

// DefaultSpec is the batch trigger used when none is configured.
const DefaultSpec = "@every 1m"

// ReportRunner executes one scheduled report: compile, execute, export and
// deliver. Implemented by report.Service.
type ReportRunner interface {
	RunScheduled(ctx context.Context, r *domain.Report) error
}

// Scheduler finds due reports and runs them in a bounded worker pool. A cron
// entry triggers RunDue periodically once Start is called.
type Scheduler struct {
	reports domain.ReportRepository
	runner  ReportRunner
	logger  *slog.Logger
	workers int
	spec    string
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	running map[string]struct{}
}

// NewScheduler creates a scheduler with four workers and DefaultSpec.
func NewScheduler(reports domain.ReportRepository, runner ReportRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		reports: reports,
		runner:  runner,
		logger:  logger,
		workers: 4,
		spec:    DefaultSpec,
		now:     time.Now,
		running: make(map[string]struct{}),
	}
}

// SetWorkers bounds how many reports run at once.
func (s *Scheduler) SetWorkers(n int) {
	if n > 0 {
		s.workers = n
	}
}

// SetSpec sets the cron spec that triggers RunDue. It takes effect on the next
// Start or Reload.
func (s *Scheduler) SetSpec(spec string) {
	if spec != "" {
		s.spec = spec
	}
}

// Start schedules RunDue on the configured spec and starts the cron loop.
// Overlapping ticks are skipped while a batch is still running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	id, err := c.AddFunc(s.spec, func() { s.tick(ctx) })
	if err != nil {
		return fmt.Errorf("invalid scheduler spec %q: %w", s.spec, err)
	}
	s.cron, s.entry = c, id
	c.Start()
	s.logger.Info("report scheduler started", "spec", s.spec, "workers", s.workers)
	return nil
}

// Stop stops the cron loop and waits for a running batch to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("report scheduler stopped")
}

// Reload replaces the trigger spec of a started scheduler.
func (s *Scheduler) Reload(ctx context.Context, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		s.SetSpec(spec)
		return nil
	}
	id, err := s.cron.AddFunc(spec, func() { s.tick(ctx) })
	if err != nil {
		return fmt.Errorf("invalid scheduler spec %q: %w", spec, err)
	}
	s.cron.Remove(s.entry)
	s.entry, s.spec = id, spec
	s.logger.Info("report scheduler reloaded", "spec", spec)
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunDue(ctx); err != nil {
		s.logger.Warn("scheduled batch failed", "error", err)
	}
}

// RunDue runs every report whose next scheduled run has passed. A failing
// report never aborts the batch; the error is returned only when the due
// list itself cannot be read.
func (s *Scheduler) RunDue(ctx context.Context) (domain.RunSummary, error) {
	start := time.Now()
	due, err := s.reports.ListDue(ctx, s.now())
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("list due reports: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = domain.RunSummary{Due: len(due)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range due {
		r := due[i]
		g.Go(func() error {
			outcome := s.runOne(gctx, &r)
			mu.Lock()
			switch outcome {
			case outcomeSucceeded:
				summary.Succeeded++
			case outcomeFailed:
				summary.Failed++
			default:
				summary.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	metrics.RecordScheduledRuns(summary.Succeeded, summary.Failed, summary.Skipped, time.Since(start))
	if summary.Due > 0 {
		s.logger.Info("scheduled batch finished",
			"due", summary.Due,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
		)
	}
	return summary, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
)

func (s *Scheduler) runOne(ctx context.Context, r *domain.Report) outcome {
	if !s.claim(r.ID) {
		s.logger.Debug("report already running in this process", "report_id", r.ID)
		return outcomeSkipped
	}
	defer s.release(r.ID)

	ok, err := s.reports.TryMarkRunning(ctx, r.ID)
	if err != nil {
		s.logger.Warn("could not mark report running", "report_id", r.ID, "error", err)
		return outcomeFailed
	}
	if !ok {
		s.logger.Debug("report already running", "report_id", r.ID)
		return outcomeSkipped
	}

	runErr := s.runner.RunScheduled(ctx, r)
	if runErr == nil && r.Schedule == nil {
		runErr = errors.New("report has no schedule")
	}
	ranAt := s.now().UTC()
	finishCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		msg := runErr.Error()
		if err := s.reports.FinishRun(finishCtx, r.ID, domain.ExecutionFailed, &msg, ranAt, r.NextScheduledRun); err != nil {
			s.logger.Warn("could not record scheduled run", "report_id", r.ID, "error", err)
		}
		s.logger.Warn("scheduled report failed", "report_id", r.ID, "tenant_id", r.TenantID, "error", runErr)
		return outcomeFailed
	}

	next, err := NextRun(*r.Schedule, ranAt)
	if err != nil {
		msg := err.Error()
		if ferr := s.reports.FinishRun(finishCtx, r.ID, domain.ExecutionFailed, &msg, ranAt, r.NextScheduledRun); ferr != nil {
			s.logger.Warn("could not record scheduled run", "report_id", r.ID, "error", ferr)
		}
		s.logger.Warn("could not compute next run", "report_id", r.ID, "error", err)
		return outcomeFailed
	}
	if err := s.reports.FinishRun(finishCtx, r.ID, domain.ExecutionCompleted, nil, ranAt, &next); err != nil {
		s.logger.Warn("could not record scheduled run", "report_id", r.ID, "error", err)
	}
	return outcomeSucceeded
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Warn("cron: "+msg, append(keysAndValues, "error", err)...)
}

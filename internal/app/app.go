// Package app wires the report engine: schema registry, repositories, cache
// backend, storage adapter, services and scheduler. Both the HTTP server and
// the CLI build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"fleet-reports/internal/cache"
	"fleet-reports/internal/config"
	"fleet-reports/internal/db/repository"
	"fleet-reports/internal/domain"
	"fleet-reports/internal/engine"
	"fleet-reports/internal/service/audit"
	"fleet-reports/internal/service/execution"
	"fleet-reports/internal/service/expression"
	"fleet-reports/internal/service/report"
	"fleet-reports/internal/service/scheduling"
	"fleet-reports/internal/service/schema"
)

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB // metastore write pool
	Storage *sql.DB // report storage, opened read-only
	Logger  *slog.Logger
}

// App holds the fully-wired report engine.
type App struct {
	Reports   *report.Service
	Scheduler *scheduling.Scheduler
	Storage   *engine.SQLStorage

	reportRepo *repository.ReportRepo
	cacheRepo  *repository.ReportCacheRepo // nil with the memory backend
	memCache   *cache.MemoryStore          // nil with the sqlite backend
	logger     *slog.Logger
}

// BuildRegistry registers the built-in fleet tables plus the optional
// extension catalogue and validates every computed column.
func BuildRegistry(schemaFile string) (*schema.Registry, error) {
	defs, err := schema.FleetTables()
	if err != nil {
		return nil, fmt.Errorf("load fleet tables: %w", err)
	}
	if schemaFile != "" {
		extra, err := schema.LoadYAMLFile(schemaFile)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", schemaFile, err)
		}
		defs = append(defs, extra...)
	}

	reg := schema.NewRegistry()
	if err := reg.RegisterAll(defs); err != nil {
		return nil, fmt.Errorf("register tables: %w", err)
	}
	if err := expression.ValidateRegistry(expression.NewValidator(reg), reg.Tables()); err != nil {
		return nil, fmt.Errorf("validate computed columns: %w", err)
	}
	return reg, nil
}

// New wires all repositories, services and the scheduler from deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	reg, err := BuildRegistry(cfg.ReportSchemaFile)
	if err != nil {
		return nil, err
	}

	// === Repositories (write pool) ===
	executionRepo := repository.NewExecutionRepo(deps.WriteDB)
	auditRepo := repository.NewAuditRepo(deps.WriteDB)
	reportRepo := repository.NewReportRepo(deps.WriteDB)

	storage := engine.NewSQLStorage(deps.Storage, engine.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		HalfOpenRequests: 1,
	}, logger)

	a := &App{
		Storage:    storage,
		reportRepo: reportRepo,
		logger:     logger,
	}

	var store domain.CacheStore
	switch cfg.CacheBackend {
	case config.CacheSQLite:
		a.cacheRepo = repository.NewReportCacheRepo(deps.WriteDB)
		store = a.cacheRepo
	default:
		a.memCache = cache.NewMemoryStore(time.Minute)
		store = a.memCache
	}

	exec := execution.NewExecutor(storage, executionRepo, logger)
	exec.SetCache(store, cfg.DefaultCacheTTL)
	exec.SetDefaultTimeout(cfg.DefaultQueryTimeout)

	svc := report.NewService(reg, exec, audit.NewRecorder(auditRepo, logger), reportRepo, executionRepo, logger)
	svc.SetAuthorizer(report.PermissionAuthorizer{})
	a.Reports = svc

	sched := scheduling.NewScheduler(reportRepo, svc, logger)
	sched.SetWorkers(cfg.SchedulerWorkers)
	sched.SetSpec(cfg.SchedulerSpec)
	a.Scheduler = sched

	return a, nil
}

// PurgeExpiredCache removes expired rows from the sqlite cache backend. The
// memory backend sweeps itself, so this is a no-op there.
func (a *App) PurgeExpiredCache(ctx context.Context) (int64, error) {
	if a.cacheRepo == nil {
		return 0, nil
	}
	n, err := a.cacheRepo.PurgeExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge report cache: %w", err)
	}
	if n > 0 {
		a.logger.Debug("purged expired report cache rows", "rows", n)
	}
	return n, nil
}

// Close releases in-process resources. Database handles belong to the caller.
func (a *App) Close() {
	a.Scheduler.Stop()
	if a.memCache != nil {
		a.memCache.Close()
	}
}

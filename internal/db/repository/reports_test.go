package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-reports/internal/db"
	"fleet-reports/internal/domain"
)

func setupReportRepo(t *testing.T) *ReportRepo {
	t.Helper()
	writeDB, _ := db.OpenTestSQLite(t)
	repo := NewReportRepo(writeDB)
	repo.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	return repo
}

func scheduledReport(tenant, name string, next time.Time) *domain.Report {
	return &domain.Report{
		TenantID:         tenant,
		OwnerID:          "dispatcher",
		OwnerPermissions: []string{"reports.operations"},
		Name:             name,
		Specification:    tripsSpec,
		IsScheduled:      true,
		Schedule:         &domain.ScheduleConfig{Frequency: domain.FrequencyDaily, TimeOfDay: "06:00"},
		ExportFormat:     domain.ExportCSV,
		Recipients:       []string{"ops@acme.test"},
		NextScheduledRun: &next,
	}
}

func TestReportRepo_CRUD(t *testing.T) {
	t.Parallel()
	repo := setupReportRepo(t)
	ctx := context.Background()
	next := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)

	created, err := repo.Create(ctx, scheduledReport("7", "Daily trips", next))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, tripsSpec, created.Specification)
	assert.Equal(t, domain.FrequencyDaily, created.Schedule.Frequency)
	assert.Equal(t, []string{"ops@acme.test"}, created.Recipients)
	assert.Equal(t, []string{"reports.operations"}, created.OwnerPermissions)
	assert.True(t, next.Equal(*created.NextScheduledRun))
	assert.False(t, created.Running)
	assert.Nil(t, created.LastRunStatus)

	_, err = repo.GetByID(ctx, "9", created.ID)
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound, "other tenants cannot read it")

	created.Name = "Daily trips (csv)"
	created.IsScheduled = false
	created.Schedule = nil
	created.NextScheduledRun = nil
	created.Recipients = nil
	updated, err := repo.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "Daily trips (csv)", updated.Name)
	assert.False(t, updated.IsScheduled)
	assert.Nil(t, updated.Schedule)
	assert.Nil(t, updated.NextScheduledRun)
	assert.Nil(t, updated.Recipients)

	list, total, err := repo.List(ctx, "7", domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, "7", created.ID))
	require.ErrorAs(t, repo.Delete(ctx, "7", created.ID), &notFound)
}

func TestReportRepo_NamesUniquePerTenant(t *testing.T) {
	t.Parallel()
	repo := setupReportRepo(t)
	ctx := context.Background()
	next := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)

	_, err := repo.Create(ctx, scheduledReport("7", "Fleet", next))
	require.NoError(t, err)
	_, err = repo.Create(ctx, scheduledReport("9", "Fleet", next))
	require.NoError(t, err)

	_, err = repo.Create(ctx, scheduledReport("7", "Fleet", next))
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, err.Error(), `"Fleet"`)
}

func TestReportRepo_ListDue(t *testing.T) {
	t.Parallel()
	repo := setupReportRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)

	due, err := repo.Create(ctx, scheduledReport("7", "due", now.Add(-time.Minute)))
	require.NoError(t, err)
	exact, err := repo.Create(ctx, scheduledReport("9", "exact", now))
	require.NoError(t, err)
	_, err = repo.Create(ctx, scheduledReport("7", "later", now.Add(time.Hour)))
	require.NoError(t, err)

	off := scheduledReport("7", "unscheduled", now.Add(-time.Hour))
	off.IsScheduled = false
	_, err = repo.Create(ctx, off)
	require.NoError(t, err)

	claimed, err := repo.Create(ctx, scheduledReport("7", "claimed", now.Add(-2*time.Hour)))
	require.NoError(t, err)
	ok, err := repo.TryMarkRunning(ctx, claimed.ID)
	require.NoError(t, err)
	require.True(t, ok)

	list, err := repo.ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, due.ID, list[0].ID)
	assert.Equal(t, exact.ID, list[1].ID)
}

func TestReportRepo_ClaimAndFinish(t *testing.T) {
	t.Parallel()
	repo := setupReportRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)

	r, err := repo.Create(ctx, scheduledReport("7", "claim", now))
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.TryMarkRunning(ctx, r.ID)
			if assert.NoError(t, err) && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	loaded, err := repo.GetByID(ctx, "7", r.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Running)

	next := now.Add(24 * time.Hour)
	require.NoError(t, repo.FinishRun(ctx, r.ID, domain.ExecutionFailed, strPtr("storage down"), now, r.NextScheduledRun))
	loaded, err = repo.GetByID(ctx, "7", r.ID)
	require.NoError(t, err)
	assert.False(t, loaded.Running)
	assert.Equal(t, domain.ExecutionFailed, *loaded.LastRunStatus)
	assert.Equal(t, "storage down", *loaded.LastError)
	assert.True(t, now.Equal(*loaded.NextScheduledRun), "failed runs stay due")

	ok, err := repo.TryMarkRunning(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.FinishRun(ctx, r.ID, domain.ExecutionCompleted, nil, now, &next))
	loaded, err = repo.GetByID(ctx, "7", r.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.LastError)
	assert.True(t, next.Equal(*loaded.NextScheduledRun))
	assert.True(t, now.Equal(*loaded.LastRunAt))
}

func TestReportRepo_ReleaseRunning(t *testing.T) {
	t.Parallel()
	repo := setupReportRepo(t)
	ctx := context.Background()

	r, err := repo.Create(ctx, scheduledReport("7", "stuck", time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	ok, err := repo.TryMarkRunning(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := repo.ReleaseRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err = repo.TryMarkRunning(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-reports/internal/db"
	"fleet-reports/internal/domain"
)

func setupCacheRepo(t *testing.T) (*ReportCacheRepo, *time.Time) {
	t.Helper()
	writeDB, _ := db.OpenTestSQLite(t)
	repo := NewReportCacheRepo(writeDB)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	return repo, &now
}

func cacheEntry(key, table string) *domain.ReportCacheEntry {
	return &domain.ReportCacheEntry{
		Key:             key,
		Table:           table,
		TenantID:        "7",
		Payload:         []byte(`{"columns":["trips_id"],"rows":[[1]]}`),
		RowCount:        1,
		ExecutionTimeMs: 4.5,
	}
}

func TestReportCacheRepo_PutGetExpire(t *testing.T) {
	t.Parallel()
	repo, now := setupCacheRepo(t)
	ctx := context.Background()

	got, err := repo.Get(ctx, "trips:abc")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Put(ctx, cacheEntry("trips:abc", "trips"), 5*time.Minute))
	got, err = repo.Get(ctx, "trips:abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "trips", got.Table)
	assert.Equal(t, 1, got.RowCount)
	assert.JSONEq(t, `{"columns":["trips_id"],"rows":[[1]]}`, string(got.Payload))
	assert.True(t, now.Add(5*time.Minute).Equal(got.ExpiresAt))

	*now = now.Add(5 * time.Minute)
	got, err = repo.Get(ctx, "trips:abc")
	require.NoError(t, err)
	assert.Nil(t, got, "entries expire at their deadline")

	n, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReportCacheRepo_PutReplaces(t *testing.T) {
	t.Parallel()
	repo, _ := setupCacheRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, cacheEntry("trips:abc", "trips"), time.Minute))
	e := cacheEntry("trips:abc", "trips")
	e.RowCount = 2
	require.NoError(t, repo.Put(ctx, e, time.Minute))

	got, err := repo.Get(ctx, "trips:abc")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RowCount)
}

func TestReportCacheRepo_ForgetMatching(t *testing.T) {
	t.Parallel()
	repo, _ := setupCacheRepo(t)
	ctx := context.Background()

	otherTenant := cacheEntry("trips:aa55", "trips")
	otherTenant.TenantID = "9"
	for _, e := range []*domain.ReportCacheEntry{
		cacheEntry("trips:aa11", "trips"),
		cacheEntry("trips:aa22", "trips"),
		cacheEntry("trips:bb33", "trips"),
		cacheEntry("vehicles:aa44", "vehicles"),
		otherTenant,
	} {
		require.NoError(t, repo.Put(ctx, e, time.Minute))
	}

	n, err := repo.ForgetMatching(ctx, "7", "trips", "trips:aa")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.ForgetMatching(ctx, "7", "trips", "trips:")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	kept, err := repo.Get(ctx, "trips:aa55")
	require.NoError(t, err)
	require.NotNil(t, kept, "another tenant's entry survives")
	assert.Equal(t, "9", kept.TenantID)

	got, err := repo.Get(ctx, "vehicles:aa44")
	require.NoError(t, err)
	assert.NotNil(t, got)

	require.NoError(t, repo.Forget(ctx, "vehicles:aa44"))
	got, err = repo.Get(ctx, "vehicles:aa44")
	require.NoError(t, err)
	assert.Nil(t, got)
}

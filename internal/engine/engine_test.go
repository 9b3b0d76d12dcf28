package engine_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/engine"
	"fleet-reports/internal/service/compiler"
	"fleet-reports/internal/service/expression"
	"fleet-reports/internal/service/schema"
	"fleet-reports/internal/testutil"
)

var acme = domain.TenantContext{TenantID: "7", ActorID: "dispatcher"}

func setupStorage(t *testing.T) *engine.SQLStorage {
	t.Helper()
	conn, err := engine.OpenStorage(engine.DriverSQLite, testutil.SeedFleetDB(t), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return engine.NewSQLStorage(conn, engine.DefaultBreakerConfig(), slog.New(slog.DiscardHandler))
}

func compile(t *testing.T, spec domain.QuerySpecification) *domain.CompiledQuery {
	t.Helper()
	defs, err := schema.FleetTables()
	require.NoError(t, err)
	reg := schema.NewRegistry()
	require.NoError(t, reg.RegisterAll(defs))
	q, err := compiler.New(reg, expression.NewValidator(reg)).Compile(spec, acme)
	require.NoError(t, err)
	return q
}

func TestExecuteQuery_TenantScopedWithAutoJoin(t *testing.T) {
	t.Parallel()
	s := setupStorage(t)

	q := compile(t, domain.QuerySpecification{
		From: "trips",
		Select: []domain.SelectItem{
			{Column: "id"},
			{Column: "vehicle.make"},
			{Column: "duration_days"},
		},
		Where:   []domain.Condition{{Column: "status", Operator: "=", Value: "done"}},
		OrderBy: []domain.OrderSpec{{Column: "id"}},
	})

	rs, err := s.ExecuteQuery(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, q.ColumnNames(), rs.Columns)
	assert.Equal(t, [][]interface{}{
		{int64(1), "Volvo", int64(2)},
		{int64(2), "Volvo", int64(0)},
		{int64(4), "Mercedes", int64(7)},
	}, rs.Rows)
}

func TestExecuteQuery_NestedRelationshipAndJSONPath(t *testing.T) {
	t.Parallel()
	s := setupStorage(t)

	q := compile(t, domain.QuerySpecification{
		From: "trips",
		Select: []domain.SelectItem{
			{Column: "id"},
			{Column: "details.purpose"},
			{Column: "depot_region"},
		},
		OrderBy: []domain.OrderSpec{{Column: "id"}},
	})

	rs, err := s.ExecuteQuery(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 4)
	assert.Equal(t, []interface{}{int64(1), "delivery", "north"}, rs.Rows[0])
	assert.Equal(t, []interface{}{int64(3), "transfer", "unassigned"}, rs.Rows[2])
	assert.Equal(t, []interface{}{int64(4), nil, "unassigned"}, rs.Rows[3])
}

func TestExecuteQuery_Aggregates(t *testing.T) {
	t.Parallel()
	s := setupStorage(t)

	q := compile(t, domain.QuerySpecification{
		From: "trips",
		Select: []domain.SelectItem{
			{Column: "status"},
			{Column: "distance_km", Function: "SUM", Alias: "total_km"},
		},
		GroupBy: []string{"status"},
		OrderBy: []domain.OrderSpec{{Column: "status"}},
	})

	rs, err := s.ExecuteQuery(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{
		{"done", 2860.0},
		{"open", 310.0},
	}, rs.Rows)
}

func TestExecuteQuery_ReadsOneRowPastCap(t *testing.T) {
	t.Parallel()
	s := setupStorage(t)

	rs, err := s.ExecuteQuery(context.Background(), &domain.CompiledQuery{
		SQL:    `SELECT id FROM trips ORDER BY id`,
		RowCap: 2,
	})
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 3)
}

func TestExecuteQuery_RejectsWrites(t *testing.T) {
	t.Parallel()
	s := setupStorage(t)

	_, err := s.ExecuteQuery(context.Background(), &domain.CompiledQuery{SQL: `DELETE FROM trips`})
	require.Error(t, err)

	rs, err := s.ExecuteQuery(context.Background(), &domain.CompiledQuery{SQL: `SELECT COUNT(*) FROM trips`})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rs.Rows[0][0])
}

func TestExecuteQuery_ContextDeadline(t *testing.T) {
	t.Parallel()
	s := setupStorage(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := s.ExecuteQuery(ctx, &domain.CompiledQuery{SQL: `SELECT id FROM trips`})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	conn, err := engine.OpenStorage(engine.DriverSQLite, testutil.SeedFleetDB(t), 1)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	s := engine.NewSQLStorage(conn, engine.BreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	}, slog.New(slog.DiscardHandler))
	q := &domain.CompiledQuery{SQL: `SELECT 1`}

	for i := 0; i < 2; i++ {
		_, err := s.ExecuteQuery(context.Background(), q)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrStorageUnavailable)
	}
	assert.Equal(t, "open", s.State())

	_, err = s.ExecuteQuery(context.Background(), q)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestCircuitBreaker_CancellationDoesNotTrip(t *testing.T) {
	t.Parallel()
	conn, err := engine.OpenStorage(engine.DriverSQLite, testutil.SeedFleetDB(t), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	s := engine.NewSQLStorage(conn, engine.BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ExecuteQuery(ctx, &domain.CompiledQuery{SQL: `SELECT id FROM trips`})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", s.State())
}

func TestOpenStorage_UnsupportedDriver(t *testing.T) {
	t.Parallel()
	_, err := engine.OpenStorage("oracle", "x", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported storage driver "oracle"`)
}

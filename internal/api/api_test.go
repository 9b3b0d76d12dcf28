package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-reports/internal/app"
	"fleet-reports/internal/config"
	"fleet-reports/internal/db"
	"fleet-reports/internal/engine"
	"fleet-reports/internal/middleware"
	"fleet-reports/internal/testutil"
)

const fleetPermissions = "reports.fleet"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	writeDB, _ := db.OpenTestSQLite(t)
	storage, err := engine.OpenStorage(engine.DriverSQLite, testutil.SeedFleetDB(t), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	logger := slog.New(slog.DiscardHandler)
	a, err := app.New(app.Deps{
		Cfg: &config.Config{
			ReportDBDriver:          config.DriverSQLite,
			CacheBackend:            config.CacheMemory,
			DefaultQueryTimeout:     5 * time.Second,
			DefaultCacheTTL:         time.Minute,
			SchedulerSpec:           "@every 1h",
			SchedulerWorkers:        1,
			BreakerFailureThreshold: 3,
			BreakerOpenTimeout:      time.Second,
		},
		WriteDB: writeDB,
		Storage: storage,
		Logger:  logger,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return NewRouter(NewHandler(a.Reports, a.Storage, logger), RouterConfig{
		Auth:      middleware.AuthConfig{TrustHeaders: true},
		RateLimit: middleware.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		Logger:    logger,
	})
}

type call struct {
	method      string
	path        string
	body        string
	permissions string
	anonymous   bool
}

func do(t *testing.T, h http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if !c.anonymous {
		req.Header.Set(middleware.HeaderTenantID, "7")
		req.Header.Set(middleware.HeaderActorID, "dispatcher")
		perms := c.permissions
		if perms == "" {
			perms = fleetPermissions
		}
		req.Header.Set(middleware.HeaderPermissions, perms)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const makesQuery = `{"select":[{"column":"make"}],"from":"vehicles","orderBy":[{"column":"make"}]}`

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	rec := do(t, h, call{method: http.MethodGet, path: "/healthz", anonymous: true})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "closed", got.Breaker)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	do(t, h, call{method: http.MethodGet, path: "/v1/reports/tables"})
	rec := do(t, h, call{method: http.MethodGet, path: "/metrics", anonymous: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequiresTenant(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	rec := do(t, h, call{method: http.MethodGet, path: "/v1/reports/tables", anonymous: true})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDiscovery(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	rec := do(t, h, call{method: http.MethodGet, path: "/v1/reports/tables"})
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse[map[string]interface{}]](t, rec)
	names := make([]string, 0, len(list.Data))
	for _, tbl := range list.Data {
		names = append(names, tbl["name"].(string))
	}
	assert.Contains(t, names, "vehicles")
	assert.Contains(t, names, "trips")
	assert.EqualValues(t, len(list.Data), list.Total)

	rec = do(t, h, call{method: http.MethodGet, path: "/v1/reports/tables/vehicles"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"odometer_miles"`)
	assert.NotContains(t, rec.Body.String(), `"company_id"`)

	rec = do(t, h, call{method: http.MethodGet, path: "/v1/reports/tables/spaceships"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, call{method: http.MethodGet, path: "/v1/reports/grammar"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ROUND"`)
	assert.Contains(t, rec.Body.String(), `"keywords":[`)
	assert.Contains(t, rec.Body.String(), `"BETWEEN"`)
}

func TestValidateExpression(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	tests := []struct {
		name      string
		body      string
		wantCode  int
		wantValid bool
	}{
		{name: "valid", body: `{"expression":"odometer_km * 2","table":"vehicles"}`, wantCode: http.StatusOK, wantValid: true},
		{name: "unknown function", body: `{"expression":"SLEEP(5)","table":"vehicles"}`, wantCode: http.StatusOK},
		{name: "missing table field", body: `{"expression":"1 + 1"}`, wantCode: http.StatusBadRequest},
		{name: "unknown table", body: `{"expression":"1 + 1","table":"nope"}`, wantCode: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, call{method: http.MethodPost, path: "/v1/reports/expressions/validate", body: tc.body})
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			if tc.wantCode == http.StatusOK {
				got := decode[map[string]interface{}](t, rec)
				assert.Equal(t, tc.wantValid, got["valid"])
			}
		})
	}
}

func TestCompile(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	rec := do(t, h, call{method: http.MethodPost, path: "/v1/reports/compile", body: makesQuery})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[CompiledQueryResponse](t, rec)
	assert.Equal(t, "vehicles", got.Table)
	assert.Contains(t, got.SQL, "?")
	assert.NotEmpty(t, got.Fingerprint)
	require.Len(t, got.Columns, 1)
	assert.Equal(t, "vehicles_make", got.Columns[0].Alias)

	rec = do(t, h, call{method: http.MethodPost, path: "/v1/reports/compile",
		body: `{"select":[{"column":"warp_speed"},{"column":"flux"}],"from":"vehicles"}`})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	bad := decode[ErrorResponse](t, rec)
	assert.Equal(t, "QUERY_COMPILATION_FAILED", bad.Error)
	assert.Len(t, bad.Problems, 2)
}

func TestQuery_CacheHeader(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	first := do(t, h, call{method: http.MethodPost, path: "/v1/reports/query", body: makesQuery})
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "STORE", first.Header().Get(HeaderReportCache))
	res := decode[map[string]interface{}](t, first)
	assert.Equal(t, []interface{}{[]interface{}{"MAN"}, []interface{}{"Mercedes"}, []interface{}{"Volvo"}}, res["rows"])

	second := do(t, h, call{method: http.MethodPost, path: "/v1/reports/query", body: makesQuery})
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get(HeaderReportCache))

	bypass := do(t, h, call{method: http.MethodPost, path: "/v1/reports/query?bypass_cache=true", body: makesQuery})
	require.Equal(t, http.StatusOK, bypass.Code)
	assert.Equal(t, "STORE", bypass.Header().Get(HeaderReportCache))

	bad := do(t, h, call{method: http.MethodPost, path: "/v1/reports/query?bypass_cache=maybe", body: makesQuery})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestQuery_Errors(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	tests := []struct {
		name     string
		c        call
		wantCode int
		wantErr  string
	}{
		{
			name:     "malformed json",
			c:        call{method: http.MethodPost, path: "/v1/reports/query", body: `{"select":`},
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_REQUEST",
		},
		{
			name:     "empty select",
			c:        call{method: http.MethodPost, path: "/v1/reports/query", body: `{"select":[],"from":"vehicles"}`},
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_REQUEST",
		},
		{
			name:     "missing permission",
			c:        call{method: http.MethodPost, path: "/v1/reports/query", body: makesQuery, permissions: "reports.people"},
			wantCode: http.StatusForbidden,
			wantErr:  "ACCESS_DENIED",
		},
		{
			name:     "oversized body",
			c:        call{method: http.MethodPost, path: "/v1/reports/query", body: `{"from":"` + strings.Repeat("x", maxBodyBytes) + `"}`},
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_REQUEST",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.c)
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tc.wantErr, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestExport(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	rec := do(t, h, call{method: http.MethodPost, path: "/v1/reports/export?format=csv", body: makesQuery})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `attachment; filename="vehicles-`)
	assert.Equal(t, "vehicles_make\nMAN\nMercedes\nVolvo\n", rec.Body.String())

	rec = do(t, h, call{method: http.MethodPost, path: "/v1/reports/export?format=pdf", body: makesQuery})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidateCache(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	require.Equal(t, http.StatusOK, do(t, h, call{method: http.MethodPost, path: "/v1/reports/query", body: makesQuery}).Code)

	rec := do(t, h, call{method: http.MethodPost, path: "/v1/reports/cache/invalidate", body: `{"table":"vehicles"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[InvalidateCacheResponse](t, rec).Removed)

	again := do(t, h, call{method: http.MethodPost, path: "/v1/reports/query", body: makesQuery})
	assert.Equal(t, "STORE", again.Header().Get(HeaderReportCache))

	rec = do(t, h, call{method: http.MethodPost, path: "/v1/reports/cache/invalidate", body: `{"table":"vehicles","fingerprint_prefix":"not-hex"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSavedReportLifecycle(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	create := `{"name":"Fleet makes","specification":` + makesQuery + `,"export_format":"csv"}`
	rec := do(t, h, call{method: http.MethodPost, path: "/v1/reports/saved/", body: create})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[ReportResponse](t, rec)
	assert.Equal(t, "Fleet makes", created.Name)
	assert.Equal(t, "dispatcher", created.OwnerID)
	path := "/v1/reports/saved/" + created.ID

	rec = do(t, h, call{method: http.MethodGet, path: "/v1/reports/saved/"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[ListResponse[ReportResponse]](t, rec).Total)

	rec = do(t, h, call{method: http.MethodPatch, path: path, body: `{"name":"Makes"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Makes", decode[ReportResponse](t, rec).Name)

	rec = do(t, h, call{method: http.MethodPost, path: path + "/run"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "STORE", rec.Header().Get(HeaderReportCache))

	rec = do(t, h, call{method: http.MethodGet, path: "/v1/reports/executions?report_id=" + created.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	execs := decode[ListResponse[ExecutionResponse]](t, rec)
	require.Len(t, execs.Data, 1)
	assert.Equal(t, "vehicles", execs.Data[0].Table)

	rec = do(t, h, call{method: http.MethodGet, path: "/v1/reports/executions/" + execs.Data[0].ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, call{method: http.MethodDelete, path: path})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, call{method: http.MethodGet, path: path})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSavedReport_ValidationErrors(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	rec := do(t, h, call{method: http.MethodPost, path: "/v1/reports/saved/",
		body: `{"specification":` + makesQuery + `,"recipients":["not-an-email"]}`})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	msg := decode[ErrorResponse](t, rec).Message
	assert.Contains(t, msg, "name")
	assert.Contains(t, msg, "recipients")
}

func TestAudit(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	require.Equal(t, http.StatusOK, do(t, h, call{method: http.MethodPost, path: "/v1/reports/query", body: makesQuery}).Code)
	require.Equal(t, http.StatusForbidden, do(t, h, call{
		method: http.MethodPost, path: "/v1/reports/query", body: makesQuery, permissions: "reports.people",
	}).Code)

	rec := do(t, h, call{method: http.MethodGet, path: "/v1/reports/audit?action=execute"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode[ListResponse[AuditEntryResponse]](t, rec)
	require.Len(t, entries.Data, 2)
	outcomes := []string{string(entries.Data[0].Outcome), string(entries.Data[1].Outcome)}
	assert.ElementsMatch(t, []string{"success", "denied"}, outcomes)

	rec = do(t, h, call{method: http.MethodGet, path: "/v1/reports/audit?action=launch"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, call{method: http.MethodGet, path: "/v1/reports/audit/verify"})
	require.Equal(t, http.StatusOK, rec.Code)
	verify := decode[map[string]interface{}](t, rec)
	assert.Equal(t, true, verify["valid"])
	assert.EqualValues(t, 2, verify["entries"])
}

func TestPagination(t *testing.T) {
	t.Parallel()
	h := newTestServer(t)

	for i := 0; i < 3; i++ {
		body := `{"name":"r` + string(rune('a'+i)) + `","specification":` + makesQuery + `}`
		require.Equal(t, http.StatusCreated, do(t, h, call{method: http.MethodPost, path: "/v1/reports/saved/", body: body}).Code)
	}

	rec := do(t, h, call{method: http.MethodGet, path: "/v1/reports/saved/?max_results=2"})
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[ListResponse[ReportResponse]](t, rec)
	assert.Len(t, page.Data, 2)
	assert.EqualValues(t, 3, page.Total)
	require.NotEmpty(t, page.NextPageToken)

	rec = do(t, h, call{method: http.MethodGet, path: "/v1/reports/saved/?max_results=2&page_token=" + page.NextPageToken})
	require.Equal(t, http.StatusOK, rec.Code)
	rest := decode[ListResponse[ReportResponse]](t, rec)
	assert.Len(t, rest.Data, 1)
	assert.Empty(t, rest.NextPageToken)

	rec = do(t, h, call{method: http.MethodGet, path: "/v1/reports/saved/?max_results=-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRespondError_HidesInternalMessages(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := &Handler{logger: slog.New(slog.NewTextHandler(&buf, nil))}

	rec := httptest.NewRecorder()
	h.respondError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), assert.AnError)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	got := decode[ErrorResponse](t, rec)
	assert.Equal(t, "internal error", got.Message)
	assert.Equal(t, "INTERNAL", got.Error)
	assert.Contains(t, buf.String(), assert.AnError.Error())
}

package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-reports/internal/domain"
)

// serveWithID runs RequestID with the given incoming header value and
// returns the id seen by the handler and the response.
func serveWithID(t *testing.T, header string) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
	if header != "" {
		req.Header.Set("X-Request-ID", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, seen)
	return seen, rec
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "absent", header: ""},
		{name: "scheduler run id", header: "sched-run_0193", keep: true},
		{name: "max length", header: strings.Repeat("r", maxRequestIDLength), keep: true},
		{name: "too long", header: strings.Repeat("r", maxRequestIDLength+1)},
		{name: "newline injection", header: "req-1\ntenant_id=9"},
		{name: "carriage return", header: "req-1\rforged"},
		{name: "spaces", header: "req 1"},
		{name: "markup", header: "<b>req</b>"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, rec := serveWithID(t, tc.header)
			assert.Equal(t, id, rec.Header().Get("X-Request-ID"))
			if tc.keep {
				assert.Equal(t, tc.header, id)
				return
			}
			assert.NotEqual(t, tc.header, id)
			parsed, err := uuid.Parse(id)
			require.NoError(t, err)
			assert.Equal(t, uuid.Version(7), parsed.Version())
		})
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestAccessLog_LogsRoutePatternAndTenant(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(RequestID, AccessLog(logger))
	r.Get("/reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/reports/r-42", nil)
	req.Header.Set("X-Request-ID", "req-1")
	req = req.WithContext(domain.WithTenant(req.Context(), domain.TenantContext{TenantID: "7", ActorID: "dispatcher"}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	line := buf.String()
	assert.Contains(t, line, `"route":"/reports/{id}"`)
	assert.Contains(t, line, `"status":418`)
	assert.Contains(t, line, `"request_id":"req-1"`)
	assert.Contains(t, line, `"tenant_id":"7"`)
}

func TestAccessLog_ServerErrorsLogAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))

	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), `"route":"unmatched"`)
}

func TestAccessLog_SeesTenantResolvedByInnerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(RequestID, AccessLog(logger))
	r.With(Authenticate(AuthConfig{TrustHeaders: true})).Get("/tables", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/tables", nil)
	req.Header.Set(HeaderTenantID, "9")
	req.Header.Set(HeaderActorID, "auditor")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"tenant_id":"9"`)
	assert.Contains(t, buf.String(), `"actor_id":"auditor"`)
}

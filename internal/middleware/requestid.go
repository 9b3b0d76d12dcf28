package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/metrics"
)

type requestIDKey struct{}

// maxRequestIDLength bounds caller-supplied request ids.
const maxRequestIDLength = 128

// RequestID assigns a request ID to each request. A well-formed incoming
// X-Request-ID header is reused; otherwise a UUIDv7 is generated. The ID is
// set on the response header and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID accepts ids made of letters, digits, '-' and '_' only, so
// they are safe to echo into logs and headers.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

func newRequestID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// RequestIDFromContext extracts the request ID from the context.
// Returns an empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// AccessLog logs one line per request and records API metrics under the
// matched chi route pattern.
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			entry := &accessEntry{}
			r = r.WithContext(context.WithValue(r.Context(), accessEntryKey{}, entry))
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			metrics.RecordAPIRequest(r.Method, route, strconv.Itoa(rec.status), elapsed)

			attrs := []any{
				"method", r.Method,
				"route", route,
				"status", rec.status,
				"duration_ms", elapsed.Milliseconds(),
				"request_id", RequestIDFromContext(r.Context()),
			}
			if t, ok := entry.tenantOr(r.Context()); ok {
				attrs = append(attrs, "tenant_id", t.TenantID, "actor_id", t.ActorID)
			}
			level := slog.LevelInfo
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}

type accessEntryKey struct{}

// accessEntry carries values resolved by inner middleware back out to
// AccessLog, whose request context predates them.
type accessEntry struct {
	tenant *domain.TenantContext
}

func (e *accessEntry) tenantOr(ctx context.Context) (domain.TenantContext, bool) {
	if e.tenant != nil {
		return *e.tenant, true
	}
	return domain.TenantFromContext(ctx)
}

// noteTenant records the authenticated tenant for the access log line.
func noteTenant(ctx context.Context, t domain.TenantContext) {
	if e, ok := ctx.Value(accessEntryKey{}).(*accessEntry); ok {
		e.tenant = &t
	}
}

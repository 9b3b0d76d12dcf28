package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleet-reports/internal/middleware"
)

// RouterConfig holds the middleware settings of NewRouter.
type RouterConfig struct {
	Auth           middleware.AuthConfig
	RateLimit      middleware.RateLimitConfig
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the HTTP surface: /healthz and /metrics unauthenticated,
// everything under /v1/reports authenticated and rate limited per tenant.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID",
			middleware.HeaderTenantID, middleware.HeaderActorID, middleware.HeaderPermissions},
		ExposedHeaders: []string{"X-Request-ID", HeaderReportCache, "Content-Disposition",
			"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge: 300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/reports", func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Auth))
		r.Use(middleware.RateLimiter(cfg.RateLimit))

		r.Get("/tables", h.ListTables)
		r.Get("/tables/{table}", h.GetTable)
		r.Get("/grammar", h.GetGrammar)
		r.Post("/expressions/validate", h.ValidateExpression)

		r.Post("/compile", h.Compile)
		r.Post("/query", h.Query)
		r.Post("/export", h.Export)
		r.Post("/cache/invalidate", h.InvalidateCache)

		r.Route("/saved", func(r chi.Router) {
			r.Get("/", h.ListReports)
			r.Post("/", h.CreateReport)
			r.Get("/{id}", h.GetReport)
			r.Patch("/{id}", h.UpdateReport)
			r.Delete("/{id}", h.DeleteReport)
			r.Post("/{id}/run", h.RunReport)
		})

		r.Get("/executions", h.ListExecutions)
		r.Get("/executions/{id}", h.GetExecution)
		r.Get("/audit", h.ListAudit)
		r.Get("/audit/verify", h.VerifyAudit)
	})

	return r
}

// Health handles GET /healthz. It reports 503 while storage is unreachable
// or its circuit breaker is open.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Storage: "ok", Breaker: "unknown"}
	status := http.StatusOK
	if h.storage != nil {
		resp.Breaker = h.storage.State()
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "storage health check failed", "error", err)
			resp.Storage = "unreachable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		if resp.Breaker == "open" {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, status, resp)
}

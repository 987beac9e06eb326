// Package api serves the JSON HTTP surface: protected content management,
// on-demand scans, infringement workflow, cache administration and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sydlexius/contentguard/internal/api/middleware"
	"github.com/sydlexius/contentguard/internal/cache"
	"github.com/sydlexius/contentguard/internal/content"
	"github.com/sydlexius/contentguard/internal/infringement"
	"github.com/sydlexius/contentguard/internal/maintenance"
	"github.com/sydlexius/contentguard/internal/metrics"
	"github.com/sydlexius/contentguard/internal/ratelimit"
	"github.com/sydlexius/contentguard/internal/scan"
)

// Scanner runs a scan for one content item and returns the number of new
// infringements. *scan.Orchestrator satisfies it.
type Scanner interface {
	RunScan(ctx context.Context, contentID string) (int, error)
}

// RouterDeps bundles all dependencies needed by the HTTP router. Limiter,
// Maintenance and Metrics are optional.
type RouterDeps struct {
	Scanner       Scanner
	Contents      *content.Service
	Infringements *infringement.Service
	Jobs          *scan.JobService
	Cache         *cache.Cache
	Maintenance   *maintenance.Service
	Limiter       ratelimit.Limiter
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	CronSecret    string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	scanner       Scanner
	contents      *content.Service
	infringements *infringement.Service
	jobs          *scan.JobService
	cache         *cache.Cache
	maintenance   *maintenance.Service
	limiter       ratelimit.Limiter
	metrics       *metrics.Metrics
	logger        *slog.Logger
	cronSecret    string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		scanner:       deps.Scanner,
		contents:      deps.Contents,
		infringements: deps.Infringements,
		jobs:          deps.Jobs,
		cache:         deps.Cache,
		maintenance:   deps.Maintenance,
		limiter:       deps.Limiter,
		metrics:       deps.Metrics,
		logger:        deps.Logger.With(slog.String("component", "api")),
		cronSecret:    deps.CronSecret,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	cronMw := middleware.RequireBearer(r.cronSecret)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", r.handleHealth)

	// Content routes (caller identity required)
	mux.HandleFunc("GET /api/v1/content", r.handleListContent)
	mux.Handle("POST /api/v1/content", r.limit(ratelimit.CategoryCreateContent, http.HandlerFunc(r.handleCreateContent)))
	mux.HandleFunc("GET /api/v1/content/{id}", r.handleGetContent)
	mux.HandleFunc("PUT /api/v1/content/{id}", r.handleUpdateContent)
	mux.HandleFunc("DELETE /api/v1/content/{id}", r.handleDeleteContent)
	mux.Handle("POST /api/v1/content/{id}/scan", r.limit(ratelimit.CategoryScan, http.HandlerFunc(r.handleScan)))
	mux.HandleFunc("GET /api/v1/content/{id}/infringements", r.handleListInfringements)
	mux.HandleFunc("GET /api/v1/content/{id}/jobs", r.handleListJobs)
	mux.Handle("PATCH /api/v1/infringements/{id}", r.limit(ratelimit.CategoryDMCA, http.HandlerFunc(r.handleUpdateInfringement)))

	// Operator routes (cron secret)
	mux.Handle("GET /api/v1/cache/stats", cronMw(http.HandlerFunc(r.handleCacheStats)))
	mux.Handle("POST /api/v1/cache/sweep", cronMw(http.HandlerFunc(r.handleCacheSweep)))
	mux.Handle("DELETE /api/v1/cache/{contentId}", cronMw(http.HandlerFunc(r.handleCacheInvalidate)))
	mux.Handle("GET /api/v1/maintenance/status", cronMw(http.HandlerFunc(r.handleMaintenanceStatus)))
	mux.Handle("POST /api/v1/maintenance/optimize", cronMw(http.HandlerFunc(r.handleMaintenanceOptimize)))

	if r.metrics != nil {
		mux.Handle("GET /metrics", r.metrics.Handler())
	}

	var h http.Handler = mux
	h = r.limit(ratelimit.CategoryAPI, h)
	h = middleware.Logging(r.logger)(h)
	h = middleware.SecurityHeaders(h)
	return middleware.Identity(h)
}

// limit wraps next with a rate limit for category. Without a limiter it is
// a no-op.
func (r *Router) limit(category ratelimit.Category, next http.Handler) http.Handler {
	if r.limiter == nil {
		return next
	}
	return middleware.RateLimit(r.limiter, category, r.metrics, r.logger)(next)
}

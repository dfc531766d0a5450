package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/rfv-config-bfa-go/internal/domain"
	"github.com/boddenberg/rfv-config-bfa-go/internal/infra/observability"
	"github.com/boddenberg/rfv-config-bfa-go/internal/port"
	"github.com/boddenberg/rfv-config-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

const healthTimeout = 2 * time.Second

// Options configures the optional layers of the router.
type Options struct {
	// Verifier enables bearer authentication on /v1 when set.
	Verifier *service.TokenVerifier
	// RateLimit throttles the write routes when set.
	RateLimit *RateLimitStore
	// Upstream is probed by /healthz and /readyz.
	Upstream port.HealthChecker
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.ParameterService, metrics *observability.Metrics, opts Options, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(opts.Upstream))
	r.Get("/readyz", readyzHandler(opts.Upstream, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if opts.Verifier != nil {
			r.Use(JWTAuthMiddleware(opts.Verifier, logger))
		}

		// =============================================
		// 1. Configurações RFV (leitura)
		// =============================================
		r.Get("/rfv/parameters", listParametersHandler(svc, logger))
		r.Get("/rfv/parameters/defaults", defaultsHandler(svc))
		r.Get("/rfv/parameters/{id}", getParameterHandler(svc, logger))

		// =============================================
		// 2. Configurações RFV (escrita)
		// =============================================
		r.Group(func(r chi.Router) {
			if opts.RateLimit != nil {
				r.Use(RateLimitMiddleware(opts.RateLimit, logger))
			}
			r.Post("/rfv/parameters/validate", validateParameterHandler(svc, logger))
			r.Post("/rfv/parameters/commit", commitParameterHandler(svc, logger))
			r.Post("/rfv/parameters/{id}/duplicate", duplicateParameterHandler(svc, logger))
			r.Delete("/rfv/parameters/{id}", deleteParameterHandler(svc, logger))
			r.Delete("/rfv/parameters/{id}/segments", clearSegmentsHandler(svc, logger))
			r.Post("/rfv/parameters/{id}/classify", classifyHandler(svc, logger))
		})

		// =============================================
		// 3. Filiais
		// =============================================
		r.Get("/filiais", listFiliaisHandler(svc, logger))

		// =============================================
		// 4. Métricas
		// =============================================
		r.Get("/metrics/rfv", rfvMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Operational handlers
// ============================================================

func healthzHandler(upstream port.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "bfa-api", Status: "healthy", LastChecked: now},
		}

		if upstream != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()

			start := time.Now()
			err := upstream.Ping(ctx)
			status := "healthy"
			if err != nil {
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "rfv-api", Status: status,
				LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(upstream port.HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if upstream != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := upstream.Ping(ctx); err != nil {
				logger.Warn("readiness probe failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func rfvMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.RFVSnapshot())
	}
}

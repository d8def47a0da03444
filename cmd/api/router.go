package api

import (
	"log/slog"
	"net/http"

	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/loci-heritage-api/pkg/interceptors"
	"github.com/FACorreiaa/loci-heritage-api/pkg/observability"
)

// HealthChecker reports whether the store is reachable.
type HealthChecker interface {
	Health() error
}

// SetupRouter configures all routes and returns the HTTP service
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	deps.LocationHandler.RegisterRoutes(mux)
	deps.Logger.Info("registered location routes", "prefix", "/api/locations")

	registerUtilityRoutes(mux, deps.DB, deps.Config.Observability.MetricsEnabled, deps.Logger)

	return wrap(mux, deps)
}

// wrap applies the middleware chain and CORS around the mux.
func wrap(mux *http.ServeMux, deps *Dependencies) http.Handler {
	tracer := otel.GetTracerProvider().Tracer("heritage/api")

	var rateLimiter interceptors.Middleware
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		limiter := rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
		rateLimiter = interceptors.NewRateLimitMiddleware(limiter)
	}

	var metrics interceptors.Middleware
	if deps.Config.Observability.MetricsEnabled {
		metrics = observability.NewMetricsMiddleware()
	}

	handler := interceptors.Chain(mux,
		interceptors.NewRecoveryMiddleware(deps.Logger),
		interceptors.NewRequestIDMiddleware("X-Request-ID"),
		interceptors.NewLoggingMiddleware(deps.Logger),
		metrics,
		interceptors.NewTracingMiddleware(tracer),
		rateLimiter,
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: deps.Config.Server.CORSOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Accept-Encoding",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})

	return corsHandler.Handler(handler)
}

// registerUtilityRoutes registers health check, metrics, and other utility routes
func registerUtilityRoutes(mux *http.ServeMux, health HealthChecker, metricsEnabled bool, logger *slog.Logger) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	logger.Info("registered health check", "path", "/health")

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if err := health.Health(); err != nil {
			logger.WarnContext(r.Context(), "readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unhealthy"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("registered readiness check", "path", "/ready")

	if metricsEnabled {
		mux.Handle("GET /metrics", observability.Handler())
		logger.Info("registered metrics endpoint", "path", "/metrics")
	}
}

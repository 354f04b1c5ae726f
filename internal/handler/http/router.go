package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/projectflow/pkg/health"
	"github.com/utafrali/projectflow/pkg/middleware"
)

// RouterConfig holds the HTTP-layer settings.
type RouterConfig struct {
	ServiceName       string
	CORS              middleware.CORSConfig
	PprofAllowedCIDRs []string

	// Per-IP limit applied to the /auth routes. A zero RPS disables it.
	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool
}

// NewRouter creates a chi router with the auth service routes registered.
func NewRouter(
	sessions SessionService,
	validate middleware.TokenValidator,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	authHandler := NewAuthHandler(sessions, logger)
	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.TrustProxy, logger))

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(validate))
			r.Use(middleware.RequestLogger(logger))
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Get("/sessions", authHandler.Sessions)
		})
	})

	return r
}

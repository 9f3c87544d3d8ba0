package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/astroxblogs/authgate/internal/domain"
	"github.com/astroxblogs/authgate/internal/limiter"
	"github.com/astroxblogs/authgate/internal/service"
	"github.com/astroxblogs/authgate/pkg/health"
	"github.com/astroxblogs/authgate/pkg/middleware"
)

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	sessions *service.SessionService,
	admin *service.AdminService,
	loginLimiter *limiter.LoginLimiter,
	healthHandler *health.Handler,
	cookie CookieConfig,
	corsConfig CORSConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(corsConfig))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("authgate"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(sessions, loginLimiter, cookie, logger)

	// Session endpoints (public)
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.Post("/refresh-token", authHandler.RefreshToken)
		r.Post("/logout", authHandler.Logout)

		r.With(Authenticate(sessions, logger)).
			Get("/verify-token", authHandler.VerifyToken)
	})

	// Operator administration (admin role required)
	adminHandler := NewAdminHandler(admin, logger)
	r.Route("/api/v1/operators", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(Authenticate(sessions, logger))
		r.Use(RequireRole(logger, domain.RoleAdmin))

		r.Post("/", adminHandler.CreateOperator)
		r.Patch("/{id}/active", adminHandler.SetActive)
		r.Put("/{id}/credentials", adminHandler.UpdateCredentials)
	})

	return r
}

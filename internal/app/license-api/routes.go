// Package licenseapi собирает HTTP- и gRPC-интерфейсы сервиса лицензирования.
package licenseapi

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/hwid-licensing/internal/config"
	"github.com/magabrotheeeer/hwid-licensing/internal/events"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/handlers/account/status"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/handlers/admin/actions"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/handlers/admin/stream"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/handlers/health"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/handlers/hwid/change"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/handlers/hwid/setup"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/handlers/license/verify"
	"github.com/magabrotheeeer/hwid-licensing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/hwid-licensing/internal/metrics"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/admin"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/identity"
	"github.com/magabrotheeeer/hwid-licensing/internal/services/license"

	// Описание API для /docs.
	_ "github.com/magabrotheeeer/hwid-licensing/docs"
)

// Deps — зависимости маршрутов.
type Deps struct {
	Identity  *identity.Service
	License   *license.Service
	Admin     *admin.Service
	Hub       *events.Hub
	Metrics   *metrics.Metrics
	Health    map[string]health.Pinger
	CORS      config.CORS
	RateLimit config.RateLimit
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middlewarectx.MetricsMiddleware(d.Metrics),
		cors.Handler(cors.Options{
			AllowedOrigins:   d.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Post("/login", login.New(logger, d.Identity).ServeHTTP)
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, d.RateLimit))
			r.Get("/license/verify", verify.New(logger, d.License).ServeHTTP)
		})

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Identity, logger))
			r.Post("/hwid/setup", setup.New(logger, d.License).ServeHTTP)
			r.Post("/hwid/change", change.New(logger, d.License).ServeHTTP)
			r.Get("/account", status.New(logger, d.License).ServeHTTP)
			r.Post("/admin/actions", actions.New(logger, d.Admin).ServeHTTP)
			r.Get("/admin/events", stream.New(logger, d.Admin, d.Hub).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, d.Health).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}

// originChecker строит проверку Origin для websocket по списку CORS.
// nil означает проверку совпадения Origin и Host.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	if slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

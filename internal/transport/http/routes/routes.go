package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/config"
	"github.com/nobodyz328/MyWeb-sub005/internal/transport/http/handlers"
	"github.com/nobodyz328/MyWeb-sub005/internal/transport/http/middleware"
)

// SessionService is everything the HTTP layer needs from the session manager.
type SessionService interface {
	middleware.SessionValidator
	handlers.SessionService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Sessions    SessionService
	RateLimiter middleware.RateLimitEvaluator
	HTTPMetrics *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(cfg.App.AllowedOrigins))
	r.Use(deps.HTTPMetrics.Handler())

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	metricsPath := cfg.Telemetry.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.GET(metricsPath, gin.WrapH(metricsHandler(deps.Gatherer)))

	if deps.Sessions == nil {
		return r
	}

	sessionAuth := middleware.NewSessionAuth(deps.Sessions, cfg.Session.CookieName, deps.Logger)

	api := r.Group("/api/v1")
	api.Use(sessionAuth.Load())
	if deps.RateLimiter != nil {
		api.Use(middleware.NewRateLimiter(deps.RateLimiter, deps.Logger).Handler())
	}
	api.Use(sessionAuth.Touch())

	sessionHandler := handlers.NewSessionHandler(deps.Sessions, cfg.Session.CookieName)

	sessionGroup := api.Group("/sessions")
	sessionGroup.Use(sessionAuth.Require())
	sessionHandler.RegisterRoutes(sessionGroup)

	adminGroup := api.Group("/admin/sessions")
	adminGroup.Use(sessionAuth.Require(), middleware.RequireRole(domain.RoleAdmin))
	sessionHandler.RegisterAdminRoutes(adminGroup)

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nobodyz328/MyWeb-sub005/internal/infra/config"
	kafkainfra "github.com/nobodyz328/MyWeb-sub005/internal/infra/kafka"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/logger"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/telemetry"
	"github.com/nobodyz328/MyWeb-sub005/internal/transport/http/middleware"
	"github.com/nobodyz328/MyWeb-sub005/internal/transport/http/routes"
)

const defaultShutdownTimeout = 15 * time.Second

type Application struct {
	cfg        *config.AppConfig
	engine     *Engine
	router     *gin.Engine
	logger     *zap.Logger
	tracer     *telemetry.TracerProvider
	login      *kafkainfra.LoginConsumer
	revocation *kafkainfra.RevocationConsumer
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var tracer *telemetry.TracerProvider
	if cfg.Telemetry.TracingEnabled {
		tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	reg := prometheus.DefaultRegisterer
	engine, err := NewEngine(ctx, cfg, log, reg)
	if err != nil {
		return nil, err
	}

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: reg})
	if err != nil {
		_ = engine.Close(ctx)
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Sessions:    engine.Sessions,
		RateLimiter: engine.RateLimiter,
		HTTPMetrics: httpMetrics,
		Cache:       engine.Redis,
	}
	// A nil *pgxpool.Pool must not become a non-nil interface.
	if engine.Pool != nil {
		deps.Database = engine.Pool
	}

	application := &Application{
		cfg:    cfg,
		engine: engine,
		router: routes.Register(deps),
		logger: log,
		tracer: tracer,
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.LoginTopic != "" {
		application.login = kafkainfra.NewLoginConsumer(engine.Sessions, log, kafkainfra.LoginConsumerOptions{
			MaxEventLag: cfg.Kafka.MaxEventLag,
			MaxLoginAge: cfg.Session.AbsoluteLifetime,
		})
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.RevocationTopic != "" {
		application.revocation = kafkainfra.NewRevocationConsumer(engine.Sessions, log, kafkainfra.RevocationConsumerOptions{
			MaxEventLag:     cfg.Kafka.MaxEventLag,
			ReplayTolerance: cfg.Session.AbsoluteLifetime,
		})
	}

	return application, nil
}

// Run serves HTTP and consumes login and revoke commands until ctx is cancelled, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting blog security API",
			zap.String("env", a.cfg.App.Env),
			zap.String("address", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	})

	if a.login != nil {
		g.Go(func() error {
			return a.login.Run(gctx, a.cfg.Kafka)
		})
	}
	if a.revocation != nil {
		g.Go(func() error {
			return a.revocation.Run(gctx, a.cfg.Kafka)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := a.engine.Close(shutdownCtx); err != nil {
		a.logger.Warn("engine shutdown incomplete", zap.Error(err))
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}

	return runErr
}

func (a *Application) shutdownTimeout() time.Duration {
	if a.cfg.App.ShutdownTimeout > 0 {
		return a.cfg.App.ShutdownTimeout
	}
	return defaultShutdownTimeout
}

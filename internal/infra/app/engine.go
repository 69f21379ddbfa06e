package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/audit"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/config"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/database"
	kafkainfra "github.com/nobodyz328/MyWeb-sub005/internal/infra/kafka"
	redisinfra "github.com/nobodyz328/MyWeb-sub005/internal/infra/redis"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/telemetry"
	postgresrepo "github.com/nobodyz328/MyWeb-sub005/internal/repository/postgres"
	redisrepo "github.com/nobodyz328/MyWeb-sub005/internal/repository/redis"
	"github.com/nobodyz328/MyWeb-sub005/internal/usecase"
)

// Engine holds the session manager, the rate limiter and the infrastructure behind them.
type Engine struct {
	Sessions    *usecase.SessionManager
	RateLimiter *usecase.RateLimiter
	Redis       *redisinfra.Client
	Pool        *pgxpool.Pool

	audit    *audit.Dispatcher
	producer *kafkainfra.Producer
	logger   *zap.Logger
}

// NewEngine connects to the configured stores and builds the engine components.
func NewEngine(ctx context.Context, cfg *config.AppConfig, log *zap.Logger, reg prometheus.Registerer) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{logger: log}

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	e.Redis = redisClient
	if err := redisClient.RegisterPoolMetrics(reg); err != nil {
		log.Warn("redis pool metrics unavailable", zap.Error(err))
	}

	if cfg.Postgres.Enabled {
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			_ = e.Close(ctx)
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		e.Pool = pool
	}

	sink, err := e.buildAuditSink(ctx, cfg, reg)
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}

	metrics, err := telemetry.NewSecurityMetrics(reg)
	if err != nil {
		_ = e.Close(ctx)
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	rateLimitPolicy, err := RateLimitPolicy(cfg.RateLimit)
	if err != nil {
		_ = e.Close(ctx)
		return nil, err
	}

	store := redisrepo.NewSessionStore(redisClient.Client(), cfg.Session.KeyPrefix)
	e.Sessions = usecase.NewSessionManager(store, store, sink, SessionPolicy(cfg.Session), log).
		WithMetrics(metrics)

	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.RateLimit.KeyPrefix,
	})
	e.RateLimiter = usecase.NewRateLimiter(rateLimitStore, sink, rateLimitPolicy, log).
		WithMetrics(metrics)

	return e, nil
}

func (e *Engine) buildAuditSink(ctx context.Context, cfg *config.AppConfig, reg prometheus.Registerer) (port.AuditSink, error) {
	backends := make([]port.AuditSink, 0, 2)

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, e.logger)
		if err != nil {
			e.logger.Warn("failed to init kafka producer, using stub audit publisher", zap.Error(err))
			backends = append(backends, kafkainfra.NewStubPublisher(e.logger))
		} else {
			e.producer = producer
			backends = append(backends, kafkainfra.NewAuditPublisher(producer, cfg.App, e.logger))
		}
	} else {
		e.logger.Info("kafka brokers not configured, using stub audit publisher")
		backends = append(backends, kafkainfra.NewStubPublisher(e.logger))
	}

	if cfg.Audit.PersistToPostgres {
		if e.Pool == nil {
			e.logger.Warn("audit.persist_to_postgres set but postgres is disabled")
		} else {
			auditLogs := postgresrepo.NewRepositories(e.Pool).AuditLogs
			if err := auditLogs.EnsureSchema(ctx); err != nil {
				e.logger.Warn("audit table unavailable, skipping postgres audit backend", zap.Error(err))
			} else {
				backends = append(backends, auditLogs)
			}
		}
	}

	fanout := audit.NewFanout(e.logger, backends...)
	e.logger.Info("audit sink configured", zap.Int("backends", fanout.Len()))

	dispatcher, err := audit.NewDispatcher(fanout, e.logger, audit.Options{
		QueueSize:   cfg.Audit.QueueSize,
		Workers:     cfg.Audit.Workers,
		EmitTimeout: cfg.Audit.EmitTimeout,
		Registerer:  reg,
	})
	if err != nil {
		return nil, fmt.Errorf("init audit dispatcher: %w", err)
	}
	e.audit = dispatcher
	return dispatcher, nil
}

// Close drains pending audit events and releases connections. ctx bounds the drain.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.audit != nil {
		if err := e.audit.Close(ctx); err != nil && !errors.Is(err, audit.ErrClosed) {
			errs = append(errs, fmt.Errorf("drain audit queue: %w", err))
		}
	}
	if e.producer != nil {
		if err := e.producer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.Redis != nil {
		if err := e.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SessionPolicy converts configuration into the session manager's policy.
func SessionPolicy(cfg config.SessionSettings) usecase.SessionPolicy {
	return usecase.SessionPolicy{
		AbsoluteLifetime:  cfg.AbsoluteLifetime,
		InactivityTimeout: cfg.InactivityTimeout,
		StatisticsTTL:     cfg.StatisticsTTL,
		RecentIPLimit:     cfg.RecentIPLimit,
	}
}

// RateLimitPolicy converts configuration into the rate limiter's policy.
func RateLimitPolicy(cfg config.RateLimitSettings) (usecase.RateLimitPolicy, error) {
	endpoints, err := cfg.EndpointPolicies()
	if err != nil {
		return usecase.RateLimitPolicy{}, fmt.Errorf("rate limit endpoints: %w", err)
	}
	return usecase.NewRateLimitPolicy(cfg.Enabled, cfg.AlertThreshold, cfg.AlertInterval, cfg.DefaultPolicy(), endpoints...), nil
}

package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/infra/config"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/telemetry"
)

// Client wraps redis.Client with health check and lifecycle management.
// Sessions, rate-limit windows and alert markers all live behind it.
type Client struct {
	client *redis.Client
	logger *zap.Logger
	cfg    config.RedisSettings
}

// NewClient initializes the Redis connection pool and verifies connectivity.
func NewClient(ctx context.Context, cfg config.RedisSettings, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     20,
		MinIdleConns: 2,
		// Decisions must not wait on long retry chains; the engine degrades instead.
		MaxRetries: 1,

		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,

		PoolTimeout:     time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("Redis connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Int("db", cfg.DB),
		zap.Bool("tls_enabled", cfg.TLSEnabled),
	)

	return &Client{
		client: client,
		logger: logger,
		cfg:    cfg,
	}, nil
}

// Client returns the underlying redis.Client for the session and rate-limit repositories.
func (c *Client) Client() *redis.Client {
	return c.client
}

// HealthCheck backs the /readyz probe.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func (c *Client) Stats() *redis.PoolStats {
	return c.client.PoolStats()
}

// RegisterPoolMetrics exports pool saturation gauges under blog_redis_pool_*.
func (c *Client) RegisterPoolMetrics(reg prometheus.Registerer) error {
	gauges := []struct {
		name, help string
		value      func(*redis.PoolStats) float64
	}{
		{"total_conns", "Open connections in the Redis pool.", func(s *redis.PoolStats) float64 { return float64(s.TotalConns) }},
		{"idle_conns", "Idle connections in the Redis pool.", func(s *redis.PoolStats) float64 { return float64(s.IdleConns) }},
		{"timeouts", "Times a caller gave up waiting for a Redis connection.", func(s *redis.PoolStats) float64 { return float64(s.Timeouts) }},
	}

	for _, g := range gauges {
		value := g.value
		gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "blog",
			Subsystem: "redis_pool",
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return value(c.Stats()) })
		if _, err := telemetry.Register[prometheus.GaugeFunc](reg, gauge); err != nil {
			return fmt.Errorf("register redis pool %s: %w", g.name, err)
		}
	}
	return nil
}

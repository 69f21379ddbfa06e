package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

const envPrefix = "BLOG"

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Session   SessionSettings   `mapstructure:"session"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Audit     AuditSettings     `mapstructure:"audit"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PostgresSettings struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

// KafkaSettings configures the audit producer and the login and revocation consumers
type KafkaSettings struct {
	Brokers         []string      `mapstructure:"brokers"`
	TopicPrefix     string        `mapstructure:"topic_prefix"`
	Async           bool          `mapstructure:"async"`
	ConsumerGroup   string        `mapstructure:"consumer_group"`
	LoginTopic      string        `mapstructure:"login_topic"`
	RevocationTopic string        `mapstructure:"revocation_topic"`
	MaxEventLag     time.Duration `mapstructure:"max_event_lag"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
	MetricsPath    string  `mapstructure:"metrics_path"`
}

// SessionSettings configures session lifetimes and the statistics cache.
type SessionSettings struct {
	AbsoluteLifetime  time.Duration `mapstructure:"absolute_lifetime"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	StatisticsTTL     time.Duration `mapstructure:"statistics_ttl"`
	RecentIPLimit     int           `mapstructure:"recent_ip_limit"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	CookieName        string        `mapstructure:"cookie_name"`
}

// RateLimitSettings configures the global switch, alerting and per-endpoint quotas.
type RateLimitSettings struct {
	Enabled        bool                     `mapstructure:"enabled"`
	AlertThreshold float64                  `mapstructure:"alert_threshold"`
	AlertInterval  time.Duration            `mapstructure:"alert_interval"`
	KeyPrefix      string                   `mapstructure:"key_prefix"`
	Default        EndpointPolicySettings   `mapstructure:"default"`
	Endpoints      []EndpointPolicySettings `mapstructure:"endpoints"`
	// EndpointRules is a compact env-friendly form:
	// "/api/v1/auth/login=5/1m/IP,/api/v1/posts=100/1m/USER".
	EndpointRules string `mapstructure:"endpoint_rules"`
}

// EndpointPolicySettings is one quota entry.
type EndpointPolicySettings struct {
	Endpoint    string        `mapstructure:"endpoint"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
	Scope       string        `mapstructure:"scope"`
	Enabled     *bool         `mapstructure:"enabled"`
}

// AuditSettings configures asynchronous audit delivery.
type AuditSettings struct {
	QueueSize         int           `mapstructure:"queue_size"`
	Workers           int           `mapstructure:"workers"`
	EmitTimeout       time.Duration `mapstructure:"emit_timeout"`
	PersistToPostgres bool          `mapstructure:"persist_to_postgres"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"postgres.enabled",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"app.allowed_origins",
		"app.shutdown_timeout",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"kafka.consumer_group",
		"kafka.login_topic",
		"kafka.revocation_topic",
		"kafka.max_event_lag",
		"telemetry.tracing_enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"telemetry.metrics_path",
		"session.absolute_lifetime",
		"session.inactivity_timeout",
		"session.statistics_ttl",
		"session.recent_ip_limit",
		"session.key_prefix",
		"session.cookie_name",
		"rate_limit.enabled",
		"rate_limit.alert_threshold",
		"rate_limit.alert_interval",
		"rate_limit.key_prefix",
		"rate_limit.default.max_requests",
		"rate_limit.default.window",
		"rate_limit.default.scope",
		"rate_limit.default.enabled",
		"rate_limit.endpoint_rules",
		"audit.queue_size",
		"audit.workers",
		"audit.emit_timeout",
		"audit.persist_to_postgres",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *AppConfig) Validate() error {
	if c.Session.InactivityTimeout > c.Session.AbsoluteLifetime {
		return fmt.Errorf("session.inactivity_timeout (%s) exceeds session.absolute_lifetime (%s)", c.Session.InactivityTimeout, c.Session.AbsoluteLifetime)
	}
	if c.RateLimit.AlertThreshold <= 0 || c.RateLimit.AlertThreshold > 1 {
		return fmt.Errorf("rate_limit.alert_threshold must be within (0, 1], got %v", c.RateLimit.AlertThreshold)
	}
	if _, err := c.RateLimit.EndpointPolicies(); err != nil {
		return err
	}
	return nil
}

// DefaultPolicy converts the fallback quota into its domain form.
func (r RateLimitSettings) DefaultPolicy() domain.EndpointPolicy {
	return r.Default.policy(true)
}

// EndpointPolicies merges the structured endpoint list with the compact rule string.
// Compact rules override structured entries for the same endpoint.
func (r RateLimitSettings) EndpointPolicies() ([]domain.EndpointPolicy, error) {
	policies := make([]domain.EndpointPolicy, 0, len(r.Endpoints))
	for _, entry := range r.Endpoints {
		if strings.TrimSpace(entry.Endpoint) == "" {
			return nil, errors.New("rate_limit.endpoints: endpoint must not be empty")
		}
		policies = append(policies, entry.policy(true))
	}

	rules, err := ParseEndpointRules(r.EndpointRules)
	if err != nil {
		return nil, err
	}
	return append(policies, rules...), nil
}

func (e EndpointPolicySettings) policy(enabledByDefault bool) domain.EndpointPolicy {
	enabled := enabledByDefault
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return domain.EndpointPolicy{
		Endpoint:    strings.TrimSpace(e.Endpoint),
		MaxRequests: e.MaxRequests,
		Window:      e.Window,
		Scope:       domain.ParseRateLimitScope(e.Scope),
		Enabled:     enabled,
	}
}

// ParseEndpointRules parses "endpoint=max/window[/scope][,...]". A max of 0 disables
// limiting for that endpoint.
func ParseEndpointRules(raw string) ([]domain.EndpointPolicy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var policies []domain.EndpointPolicy
	for _, rule := range strings.Split(raw, ",") {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}

		endpoint, quota, ok := strings.Cut(rule, "=")
		endpoint = strings.TrimSpace(endpoint)
		if !ok || endpoint == "" {
			return nil, fmt.Errorf("rate_limit.endpoint_rules: malformed rule %q", rule)
		}

		parts := strings.Split(quota, "/")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("rate_limit.endpoint_rules: rule %q needs max/window[/scope]", rule)
		}

		maxRequests, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || maxRequests < 0 {
			return nil, fmt.Errorf("rate_limit.endpoint_rules: invalid max in %q", rule)
		}
		window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("rate_limit.endpoint_rules: invalid window in %q", rule)
		}
		scope := domain.RateLimitScopeIP
		if len(parts) == 3 {
			scope = domain.ParseRateLimitScope(parts[2])
		}

		policies = append(policies, domain.EndpointPolicy{
			Endpoint:    endpoint,
			MaxRequests: maxRequests,
			Window:      window,
			Scope:       scope,
			Enabled:     maxRequests > 0,
		})
	}

	return policies, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "blog-security")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{})
	v.SetDefault("app.shutdown_timeout", 15*time.Second)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "blog")
	v.SetDefault("postgres.password", "blog_password")
	v.SetDefault("postgres.database", "blog")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "blog")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.consumer_group", "blog-security")
	v.SetDefault("kafka.login_topic", "session.login")
	v.SetDefault("kafka.revocation_topic", "session.revoke")
	v.SetDefault("kafka.max_event_lag", 30*time.Second)

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "blog-security")
	v.SetDefault("telemetry.sampling_rate", 1.0)
	v.SetDefault("telemetry.metrics_path", "/metrics")

	v.SetDefault("session.absolute_lifetime", "24h")
	v.SetDefault("session.inactivity_timeout", "30m")
	v.SetDefault("session.statistics_ttl", "5m")
	v.SetDefault("session.recent_ip_limit", 10)
	v.SetDefault("session.key_prefix", "blog:session")
	v.SetDefault("session.cookie_name", "BLOG_SESSION")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.alert_threshold", 0.8)
	v.SetDefault("rate_limit.alert_interval", "5m")
	v.SetDefault("rate_limit.key_prefix", "blog:ratelimit")
	v.SetDefault("rate_limit.default.max_requests", 100)
	v.SetDefault("rate_limit.default.window", "60s")
	v.SetDefault("rate_limit.default.scope", "IP")
	v.SetDefault("rate_limit.default.enabled", true)
	v.SetDefault("rate_limit.endpoint_rules", "")

	v.SetDefault("audit.queue_size", 1024)
	v.SetDefault("audit.workers", 2)
	v.SetDefault("audit.emit_timeout", "5s")
	v.SetDefault("audit.persist_to_postgres", false)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

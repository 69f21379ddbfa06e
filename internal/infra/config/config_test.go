package config

import (
	"strings"
	"testing"
	"time"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Session.AbsoluteLifetime != 24*time.Hour || cfg.Session.InactivityTimeout != 30*time.Minute {
		t.Fatalf("unexpected session lifetimes: %+v", cfg.Session)
	}
	if cfg.Session.StatisticsTTL != 5*time.Minute || cfg.Session.KeyPrefix != "blog:session" {
		t.Fatalf("unexpected session cache settings: %+v", cfg.Session)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.AlertThreshold != 0.8 || cfg.RateLimit.AlertInterval != 5*time.Minute {
		t.Fatalf("unexpected rate limit settings: %+v", cfg.RateLimit)
	}

	def := cfg.RateLimit.DefaultPolicy()
	if def.MaxRequests != 100 || def.Window != time.Minute || def.Scope != domain.RateLimitScopeIP || !def.Enabled {
		t.Fatalf("unexpected default policy: %+v", def)
	}
	if cfg.Audit.QueueSize != 1024 || cfg.Audit.Workers != 2 || cfg.Audit.EmitTimeout != 5*time.Second {
		t.Fatalf("unexpected audit settings: %+v", cfg.Audit)
	}
	if cfg.Kafka.LoginTopic != "session.login" || cfg.Kafka.RevocationTopic != "session.revoke" {
		t.Fatalf("unexpected kafka topics: %+v", cfg.Kafka)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BLOG_SESSION_INACTIVITY_TIMEOUT", "15m")
	t.Setenv("BLOG_RATE_LIMIT_ENABLED", "false")
	t.Setenv("BLOG_RATE_LIMIT_DEFAULT_SCOPE", "user")
	t.Setenv("BLOG_RATE_LIMIT_ENDPOINT_RULES", "/api/v1/auth/login=5/1m/IP, /api/v1/posts=0/1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Session.InactivityTimeout != 15*time.Minute {
		t.Fatalf("expected inactivity timeout override, got %v", cfg.Session.InactivityTimeout)
	}
	if cfg.RateLimit.Enabled {
		t.Fatalf("expected rate limiting to be disabled")
	}
	if cfg.RateLimit.DefaultPolicy().Scope != domain.RateLimitScopeUser {
		t.Fatalf("expected USER default scope, got %s", cfg.RateLimit.DefaultPolicy().Scope)
	}

	policies, err := cfg.RateLimit.EndpointPolicies()
	if err != nil {
		t.Fatalf("EndpointPolicies returned error: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 endpoint policies, got %d", len(policies))
	}
	if policies[0].Endpoint != "/api/v1/auth/login" || policies[0].MaxRequests != 5 || !policies[0].Enabled {
		t.Fatalf("unexpected login policy: %+v", policies[0])
	}
	if policies[1].Enabled {
		t.Fatalf("expected zero max to disable the endpoint, got %+v", policies[1])
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("BLOG_SESSION_INACTIVITY_TIMEOUT", "48h")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "inactivity_timeout") {
		t.Fatalf("expected inactivity timeout validation error, got %v", err)
	}
}

func TestLoadRejectsZeroAlertThreshold(t *testing.T) {
	t.Setenv("BLOG_RATE_LIMIT_ALERT_THRESHOLD", "0")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "alert_threshold") {
		t.Fatalf("expected alert threshold validation error, got %v", err)
	}
}

func TestParseEndpointRules(t *testing.T) {
	policies, err := ParseEndpointRules("/a=10/30s/GLOBAL")
	if err != nil {
		t.Fatalf("ParseEndpointRules returned error: %v", err)
	}
	if len(policies) != 1 || policies[0].Scope != domain.RateLimitScopeGlobal || policies[0].Window != 30*time.Second {
		t.Fatalf("unexpected policies: %+v", policies)
	}

	for _, bad := range []string{"/a", "=1/1m", "/a=x/1m", "/a=1/soon", "/a=1", "/a=1/1m/IP/extra"} {
		if _, err := ParseEndpointRules(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}

	if policies, err := ParseEndpointRules("  "); err != nil || policies != nil {
		t.Fatalf("expected empty input to yield no policies, got %v (%v)", policies, err)
	}
}

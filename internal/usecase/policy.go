package usecase

import (
	"strings"
	"time"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

const (
	defaultAbsoluteLifetime  = 24 * time.Hour
	defaultInactivityTimeout = 30 * time.Minute
	defaultStatisticsTTL     = 5 * time.Minute
	defaultRecentIPLimit     = 10

	defaultAlertThreshold = 0.8
	defaultAlertInterval  = 5 * time.Minute
	defaultMaxRequests    = 100
	defaultWindow         = time.Minute
)

// SessionPolicy holds the session lifetime settings. Values are copied into the
// manager at construction and never change afterwards.
type SessionPolicy struct {
	AbsoluteLifetime  time.Duration
	InactivityTimeout time.Duration
	StatisticsTTL     time.Duration
	RecentIPLimit     int
}

// DefaultSessionPolicy returns the 24h absolute / 30m inactivity policy.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		AbsoluteLifetime:  defaultAbsoluteLifetime,
		InactivityTimeout: defaultInactivityTimeout,
		StatisticsTTL:     defaultStatisticsTTL,
		RecentIPLimit:     defaultRecentIPLimit,
	}
}

func (p SessionPolicy) normalized() SessionPolicy {
	if p.AbsoluteLifetime <= 0 {
		p.AbsoluteLifetime = defaultAbsoluteLifetime
	}
	if p.InactivityTimeout <= 0 {
		p.InactivityTimeout = defaultInactivityTimeout
	}
	if p.StatisticsTTL <= 0 {
		p.StatisticsTTL = defaultStatisticsTTL
	}
	if p.RecentIPLimit <= 0 {
		p.RecentIPLimit = defaultRecentIPLimit
	}
	return p
}

// RateLimitPolicy is the immutable limiter configuration: a global switch, alert
// tuning, a fallback policy and per-endpoint overrides.
type RateLimitPolicy struct {
	enabled        bool
	alertThreshold float64
	alertInterval  time.Duration
	fallback       domain.EndpointPolicy
	endpoints      map[string]domain.EndpointPolicy
}

// NewRateLimitPolicy builds a policy. Endpoint entries with an empty endpoint
// are ignored; later entries for the same endpoint win.
func NewRateLimitPolicy(enabled bool, alertThreshold float64, alertInterval time.Duration, fallback domain.EndpointPolicy, endpoints ...domain.EndpointPolicy) RateLimitPolicy {
	if alertThreshold <= 0 || alertThreshold > 1 {
		alertThreshold = defaultAlertThreshold
	}
	if alertInterval <= 0 {
		alertInterval = defaultAlertInterval
	}
	if fallback.MaxRequests <= 0 {
		fallback.MaxRequests = defaultMaxRequests
	}
	if fallback.Window <= 0 {
		fallback.Window = defaultWindow
	}
	if fallback.Scope == "" {
		fallback.Scope = domain.RateLimitScopeIP
	}
	fallback.Endpoint = ""

	table := make(map[string]domain.EndpointPolicy, len(endpoints))
	for _, policy := range endpoints {
		endpoint := strings.TrimSpace(policy.Endpoint)
		if endpoint == "" {
			continue
		}
		policy.Endpoint = endpoint
		if policy.Scope == "" {
			policy.Scope = fallback.Scope
		}
		table[endpoint] = policy
	}

	return RateLimitPolicy{
		enabled:        enabled,
		alertThreshold: alertThreshold,
		alertInterval:  alertInterval,
		fallback:       fallback,
		endpoints:      table,
	}
}

// DefaultRateLimitPolicy enables limiting at 100 requests per minute per IP.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return NewRateLimitPolicy(true, defaultAlertThreshold, defaultAlertInterval, domain.EndpointPolicy{
		MaxRequests: defaultMaxRequests,
		Window:      defaultWindow,
		Scope:       domain.RateLimitScopeIP,
		Enabled:     true,
	})
}

// Enabled reports the global switch.
func (p RateLimitPolicy) Enabled() bool { return p.enabled }

// AlertThreshold is the fraction of a quota at which an alert fires.
func (p RateLimitPolicy) AlertThreshold() float64 { return p.alertThreshold }

// AlertInterval is the minimum spacing between alerts for one key.
func (p RateLimitPolicy) AlertInterval() time.Duration { return p.alertInterval }

// Resolve returns the endpoint's configured policy, or the fallback stamped with the endpoint.
func (p RateLimitPolicy) Resolve(endpoint string) domain.EndpointPolicy {
	endpoint = strings.TrimSpace(endpoint)
	if policy, ok := p.endpoints[endpoint]; ok {
		return policy
	}
	policy := p.fallback
	policy.Endpoint = endpoint
	return policy
}

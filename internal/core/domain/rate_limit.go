package domain

import (
	"math"
	"time"
)

// RateLimitScope selects which caller attribute a quota is counted against.
type RateLimitScope string

const (
	RateLimitScopeIP     RateLimitScope = "IP"
	RateLimitScopeUser   RateLimitScope = "USER"
	RateLimitScopeGlobal RateLimitScope = "GLOBAL"
)

// GlobalIdentifier is the shared bucket name used by GLOBAL scoped policies.
const GlobalIdentifier = "*"

// ParseRateLimitScope normalises textual input into a supported scope, defaulting to IP.
func ParseRateLimitScope(value string) RateLimitScope {
	switch RateLimitScope(normalizeToken(value)) {
	case RateLimitScopeUser:
		return RateLimitScopeUser
	case RateLimitScopeGlobal:
		return RateLimitScopeGlobal
	default:
		return RateLimitScopeIP
	}
}

// EndpointPolicy is the quota applied to one endpoint.
type EndpointPolicy struct {
	Endpoint    string
	MaxRequests int
	Window      time.Duration
	Scope       RateLimitScope
	Enabled     bool
}

// Limits reports whether the policy actually constrains traffic.
func (p EndpointPolicy) Limits() bool {
	return p.Enabled && p.MaxRequests > 0 && p.Window > 0
}

// AlertLevel returns the admitted-request count at which the alert fraction is crossed.
func (p EndpointPolicy) AlertLevel(fraction float64) int {
	if fraction <= 0 || fraction > 1 {
		return 0
	}
	return int(math.Ceil(fraction * float64(p.MaxRequests)))
}

// RateLimitWindow is the result of one atomic hit against a counter key.
type RateLimitWindow struct {
	Count    int
	Limit    int
	Admitted bool
	// Oldest is the timestamp of the oldest request still inside the window.
	Oldest time.Time
}

// RateLimitDecision is the outcome surfaced to the request-handling layer.
type RateLimitDecision struct {
	Allowed   bool
	Enforced  bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
	Policy    EndpointPolicy
}

// RetryAfter is the time until the oldest counted request leaves the window.
func (d RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || d.ResetAt.IsZero() {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

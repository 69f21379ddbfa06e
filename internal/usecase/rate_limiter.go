package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/logger"
)

// Rate-limit decision outcomes reported to metrics.
const (
	RateLimitOutcomeAllowed  = "allowed"
	RateLimitOutcomeDenied   = "denied"
	RateLimitOutcomeDisabled = "disabled"
	RateLimitOutcomeFailOpen = "fail_open"
)

// RateLimiter evaluates per-endpoint quotas against the shared store. It never
// blocks traffic because of an infrastructure failure.
type RateLimiter struct {
	store   port.RateLimitStore
	audit   port.AuditSink
	metrics port.SecurityMetrics
	policy  RateLimitPolicy
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	eventID func() string
}

// NewRateLimiter constructs a RateLimiter. audit may be nil.
func NewRateLimiter(store port.RateLimitStore, audit port.AuditSink, policy RateLimitPolicy, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		store:   store,
		audit:   audit,
		policy:  policy,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
		eventID: uuid.NewString,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (r *RateLimiter) WithClock(clock func() time.Time) *RateLimiter {
	if clock != nil {
		r.now = clock
	}
	return r
}

// WithMetrics attaches a metrics recorder.
func (r *RateLimiter) WithMetrics(metrics port.SecurityMetrics) *RateLimiter {
	r.metrics = metrics
	return r
}

// Policy resolves the quota that applies to endpoint.
func (r *RateLimiter) Policy(endpoint string) domain.EndpointPolicy {
	return r.policy.Resolve(endpoint)
}

// IsAllowed reports whether a request from identifier to endpoint may proceed.
func (r *RateLimiter) IsAllowed(ctx context.Context, identifier, endpoint, principal string) bool {
	return r.Evaluate(ctx, identifier, endpoint, principal).Allowed
}

// Evaluate applies the endpoint policy and returns the full decision.
func (r *RateLimiter) Evaluate(ctx context.Context, identifier, endpoint, principal string) domain.RateLimitDecision {
	endpoint = strings.TrimSpace(endpoint)
	policy := r.policy.Resolve(endpoint)

	if !r.policy.Enabled() || !policy.Limits() {
		r.observe(endpoint, RateLimitOutcomeDisabled)
		return domain.RateLimitDecision{Allowed: true, Policy: policy}
	}

	bucket := bucketIdentifier(policy.Scope, identifier)
	key := fmt.Sprintf("%s:%s:%s", policy.Scope, bucket, endpoint)

	ctx, span := r.tracer.Start(ctx, "RateLimiter.Evaluate", trace.WithAttributes(
		attribute.String("ratelimit.endpoint", endpoint),
		attribute.String("ratelimit.scope", string(policy.Scope)),
	))
	defer span.End()

	now := r.now()
	window, err := r.store.Hit(ctx, key, policy.MaxRequests, policy.Window)
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("rate limit store unavailable, failing open",
			zap.String("endpoint", endpoint),
			zap.String("scope", string(policy.Scope)),
			zap.Error(err),
		)
		r.observe(endpoint, RateLimitOutcomeFailOpen)
		return domain.RateLimitDecision{Allowed: true, Limit: policy.MaxRequests, Policy: policy}
	}

	decision := domain.RateLimitDecision{
		Allowed:   window.Admitted,
		Enforced:  true,
		Count:     window.Count,
		Limit:     policy.MaxRequests,
		Remaining: max(policy.MaxRequests-window.Count, 0),
		ResetAt:   window.Oldest.Add(policy.Window),
		Policy:    policy,
	}
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", decision.Allowed),
		attribute.Int("ratelimit.count", decision.Count),
	)

	if !window.Admitted {
		if principal = strings.TrimSpace(principal); principal == "" {
			principal = domain.AnonymousPrincipal
		}
		r.logger.Info("rate limit exceeded",
			zap.String("endpoint", endpoint),
			zap.String("identifier", maskIdentifier(policy.Scope, bucket)),
			zap.Int("limit", policy.MaxRequests),
		)
		r.emit(ctx, domain.SecurityEvent{
			EventID:    r.eventID(),
			Category:   domain.SecurityCategoryRateLimitExceeded,
			Severity:   domain.SeverityWarning,
			Principal:  principal,
			Identifier: bucket,
			Endpoint:   endpoint,
			Message:    fmt.Sprintf("rate limit exceeded: %d requests per %s", policy.MaxRequests, policy.Window),
			OccurredAt: now,
			Metadata: map[string]any{
				"scope":          string(policy.Scope),
				"limit":          policy.MaxRequests,
				"window_seconds": int(policy.Window.Seconds()),
			},
		})
		r.observe(endpoint, RateLimitOutcomeDenied)
		return decision
	}

	r.maybeAlert(ctx, policy, bucket, principal, window, now)
	r.observe(endpoint, RateLimitOutcomeAllowed)
	return decision
}

// maybeAlert emits at most one alert per interval for an (identifier, endpoint)
// pair once the admitted count crosses the alert fraction.
func (r *RateLimiter) maybeAlert(ctx context.Context, policy domain.EndpointPolicy, bucket, principal string, window domain.RateLimitWindow, now time.Time) {
	level := policy.AlertLevel(r.policy.AlertThreshold())
	if level <= 0 || window.Count < level {
		return
	}

	acquired, err := r.store.AcquireAlertSlot(ctx, bucket+":"+policy.Endpoint, r.policy.AlertInterval())
	if err != nil {
		r.logger.Warn("rate limit alert marker unavailable", zap.String("endpoint", policy.Endpoint), zap.Error(err))
		return
	}
	if !acquired {
		return
	}

	if principal = strings.TrimSpace(principal); principal == "" {
		principal = domain.AnonymousPrincipal
	}
	r.emit(ctx, domain.SecurityEvent{
		EventID:    r.eventID(),
		Category:   domain.SecurityCategoryRateLimitAlert,
		Severity:   domain.SeverityInfo,
		Principal:  principal,
		Identifier: bucket,
		Endpoint:   policy.Endpoint,
		Message:    fmt.Sprintf("rate limit usage at %d of %d", window.Count, policy.MaxRequests),
		OccurredAt: now,
		Metadata: map[string]any{
			"scope":     string(policy.Scope),
			"count":     window.Count,
			"limit":     policy.MaxRequests,
			"threshold": r.policy.AlertThreshold(),
		},
	})
}

func (r *RateLimiter) emit(ctx context.Context, event domain.SecurityEvent) {
	if r.audit == nil {
		return
	}
	if err := r.audit.LogSecurityEvent(ctx, event); err != nil {
		r.logger.Warn("audit security event dropped", zap.String("category", string(event.Category)), zap.Error(err))
	}
}

func (r *RateLimiter) observe(endpoint, outcome string) {
	if r.metrics != nil {
		r.metrics.ObserveRateLimitDecision(endpoint, outcome)
	}
}

func bucketIdentifier(scope domain.RateLimitScope, identifier string) string {
	if scope == domain.RateLimitScopeGlobal {
		return domain.GlobalIdentifier
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return strings.ToLower(domain.Unknown)
	}
	return identifier
}

func maskIdentifier(scope domain.RateLimitScope, identifier string) string {
	if scope == domain.RateLimitScopeIP {
		return logger.MaskIP(identifier)
	}
	return identifier
}

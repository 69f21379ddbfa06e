package port

import (
	"context"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

// AuditSink receives security and audit events. Callers in the engine never
// let a sink error affect their primary decision.
type AuditSink interface {
	LogSecurityEvent(ctx context.Context, event domain.SecurityEvent) error
	LogUserLogin(ctx context.Context, event domain.LoginEvent) error
	LogUserLogout(ctx context.Context, event domain.LogoutEvent) error
}

// SecurityMetrics records engine decisions for monitoring.
type SecurityMetrics interface {
	ObserveRateLimitDecision(endpoint, outcome string)
	ObserveSessionCreated()
	ObserveSessionTerminated(reason domain.TerminationReason)
}

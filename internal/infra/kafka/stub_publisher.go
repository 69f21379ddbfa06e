package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
)

// StubPublisher logs audit events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a log-only audit sink.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	fields = append([]zap.Field{
		zap.String("event_type", eventType),
		zap.Time("timestamp", at.UTC()),
	}, fields...)
	p.logger.Info("Audit event", fields...)
}

// LogSecurityEvent logs blog.audit.security events.
func (p *StubPublisher) LogSecurityEvent(_ context.Context, event domain.SecurityEvent) error {
	p.logEvent(EventTypeSecurity, event.OccurredAt,
		zap.String("category", string(event.Category)),
		zap.String("severity", string(event.Severity)),
		zap.String("principal", event.Principal),
		zap.String("identifier", event.Identifier),
		zap.String("endpoint", event.Endpoint),
		zap.String("message", event.Message),
		zap.Any("metadata", event.Metadata),
	)
	return nil
}

// LogUserLogin logs blog.audit.login events.
func (p *StubPublisher) LogUserLogin(_ context.Context, event domain.LoginEvent) error {
	p.logEvent(EventTypeLogin, event.OccurredAt,
		zap.String("user_id", event.UserID),
		zap.String("username", event.Username),
		zap.String("session_id", event.SessionID),
		zap.String("ip_address", event.IPAddress),
		zap.String("result", string(event.Result)),
	)
	return nil
}

// LogUserLogout logs blog.audit.logout events.
func (p *StubPublisher) LogUserLogout(_ context.Context, event domain.LogoutEvent) error {
	p.logEvent(EventTypeLogout, event.OccurredAt,
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.String("reason", string(event.Reason)),
	)
	return nil
}

var _ port.AuditSink = (*StubPublisher)(nil)

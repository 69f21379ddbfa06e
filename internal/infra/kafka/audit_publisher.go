package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	EventTypeSecurity = "audit.security"
	EventTypeLogin    = "audit.login"
	EventTypeLogout   = "audit.logout"
)

// AuditPublisher implements port.AuditSink using Kafka.
type AuditPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewAuditPublisher constructs a Kafka-backed audit sink.
func NewAuditPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *AuditPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *AuditPublisher) publish(ctx context.Context, eventID, eventType, key, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSecurityEvent publishes blog.audit.security events keyed by identifier.
func (p *AuditPublisher) LogSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	payload := struct {
		Category   string         `json:"category"`
		Severity   string         `json:"severity"`
		Principal  string         `json:"principal"`
		Identifier string         `json:"identifier,omitempty"`
		Endpoint   string         `json:"endpoint,omitempty"`
		Message    string         `json:"message"`
		OccurredAt time.Time      `json:"occurred_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		Category:   string(event.Category),
		Severity:   string(event.Severity),
		Principal:  event.Principal,
		Identifier: event.Identifier,
		Endpoint:   event.Endpoint,
		Message:    event.Message,
		OccurredAt: event.OccurredAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventTypeSecurity, event.Identifier, "", event.OccurredAt, payload)
}

// LogUserLogin publishes blog.audit.login events keyed by user.
func (p *AuditPublisher) LogUserLogin(ctx context.Context, event domain.LoginEvent) error {
	payload := struct {
		UserID     string         `json:"user_id"`
		Username   string         `json:"username"`
		SessionID  string         `json:"session_id,omitempty"`
		IPAddress  string         `json:"ip_address,omitempty"`
		UserAgent  string         `json:"user_agent,omitempty"`
		Result     string         `json:"result"`
		OccurredAt time.Time      `json:"occurred_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		UserID:     event.UserID,
		Username:   event.Username,
		SessionID:  event.SessionID,
		IPAddress:  event.IPAddress,
		UserAgent:  event.UserAgent,
		Result:     string(event.Result),
		OccurredAt: event.OccurredAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventTypeLogin, event.UserID, event.UserID, event.OccurredAt, payload)
}

// LogUserLogout publishes blog.audit.logout events keyed by user.
func (p *AuditPublisher) LogUserLogout(ctx context.Context, event domain.LogoutEvent) error {
	payload := struct {
		UserID     string         `json:"user_id"`
		Username   string         `json:"username"`
		SessionID  string         `json:"session_id"`
		IPAddress  string         `json:"ip_address,omitempty"`
		Reason     string         `json:"reason"`
		OccurredAt time.Time      `json:"occurred_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		UserID:     event.UserID,
		Username:   event.Username,
		SessionID:  event.SessionID,
		IPAddress:  event.IPAddress,
		Reason:     string(event.Reason),
		OccurredAt: event.OccurredAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventTypeLogout, event.UserID, event.UserID, event.OccurredAt, payload)
}

var _ port.AuditSink = (*AuditPublisher)(nil)

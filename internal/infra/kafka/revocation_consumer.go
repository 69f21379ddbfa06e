package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/config"
)

// SessionTerminator is the part of the session manager the consumer drives.
type SessionTerminator interface {
	TerminateSession(ctx context.Context, sessionID string, reason domain.TerminationReason) (bool, error)
	GetUserActiveSession(ctx context.Context, userID string) (*domain.Session, bool, error)
}

// RevocationConsumerOptions controls lag monitoring and stale command handling.
type RevocationConsumerOptions struct {
	MaxEventLag     time.Duration
	ReplayTolerance time.Duration
}

// RevocationConsumer applies operator-issued session revoke commands.
type RevocationConsumer struct {
	sessions        SessionTerminator
	logger          *zap.Logger
	maxEventLag     time.Duration
	replayTolerance time.Duration
	now             func() time.Time
}

// NewRevocationConsumer constructs a consumer that force-logs-out sessions.
func NewRevocationConsumer(sessions SessionTerminator, logger *zap.Logger, opts RevocationConsumerOptions) *RevocationConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationConsumer{
		sessions:        sessions,
		logger:          logger,
		maxEventLag:     opts.MaxEventLag,
		replayTolerance: opts.ReplayTolerance,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the consumer clock for deterministic testing.
func (c *RevocationConsumer) WithClock(clock func() time.Time) *RevocationConsumer {
	if clock != nil {
		c.now = clock
	}
	return c
}

// HandleMessage decodes a Kafka message prior to processing.
func (c *RevocationConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var command domain.SessionRevokeCommand
	if err := json.Unmarshal(msg.Value, &command); err != nil {
		return fmt.Errorf("decode session revoke command: %w", err)
	}

	return c.HandleEvent(ctx, command)
}

// HandleEvent terminates the targeted session. Unknown or already ended sessions are not an error.
func (c *RevocationConsumer) HandleEvent(ctx context.Context, command domain.SessionRevokeCommand) error {
	if c.sessions == nil {
		return nil
	}
	if command.SessionID == "" && command.UserID == "" {
		return fmt.Errorf("session revoke command %q has no target", command.EventID)
	}

	now := c.now()
	if !command.RequestedAt.IsZero() {
		lag := now.Sub(command.RequestedAt)
		if lag < 0 {
			lag = 0
		}
		if c.replayTolerance > 0 && lag > c.replayTolerance {
			c.logger.Debug("skip stale revoke command", zap.String("event_id", command.EventID), zap.Duration("lag", lag))
			return nil
		}
		if c.maxEventLag > 0 && lag > c.maxEventLag {
			c.logger.Warn("session revoke command lag exceeds threshold",
				zap.Duration("lag", lag),
				zap.Duration("threshold", c.maxEventLag),
				zap.String("event_id", command.EventID),
			)
		}
	}

	reason := domain.TerminationReasonAdminRevoke
	if parsed, ok := domain.LookupTerminationReason(command.Reason); ok {
		reason = parsed
	} else if command.Reason != "" {
		c.logger.Warn("unknown revocation reason, recording ADMIN_REVOKE", zap.String("reason", command.Reason))
	}

	sessionID := command.SessionID
	if sessionID == "" {
		session, ok, err := c.sessions.GetUserActiveSession(ctx, command.UserID)
		if err != nil {
			return fmt.Errorf("lookup active session: %w", err)
		}
		if !ok {
			c.logger.Debug("no active session to revoke", zap.String("user_id", command.UserID))
			return nil
		}
		sessionID = session.SessionID
	}

	removed, err := c.sessions.TerminateSession(ctx, sessionID, reason)
	if err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}

	c.logger.Info("session revoke command applied",
		zap.String("event_id", command.EventID),
		zap.String("actor", command.Actor),
		zap.String("reason", string(reason)),
		zap.Bool("removed", removed),
	)
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *RevocationConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *RevocationConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles each message and marks it consumed. Malformed commands are logged and skipped.
func (c *RevocationConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	return drainClaim(session, claim, c.HandleMessage, c.logger, "session revoke command")
}

// Run joins the consumer group and processes revoke commands until ctx is cancelled.
func (c *RevocationConsumer) Run(ctx context.Context, cfg config.KafkaSettings) error {
	return consumeGroup(ctx, cfg, cfg.ConsumerGroup, cfg.RevocationTopic, c, c.logger)
}

var _ sarama.ConsumerGroupHandler = (*RevocationConsumer)(nil)

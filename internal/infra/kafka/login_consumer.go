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
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/logger"
)

// SessionCreator is the part of the session manager the login consumer drives.
type SessionCreator interface {
	CreateSession(ctx context.Context, user domain.User, sessionID, ip, userAgent, accessToken, refreshToken string) (*domain.Session, error)
}

// LoginConsumerOptions controls lag monitoring and stale login handling.
type LoginConsumerOptions struct {
	MaxEventLag time.Duration
	// MaxLoginAge drops logins older than this; a session opened from them would
	// already be past its absolute lifetime.
	MaxLoginAge time.Duration
}

// LoginConsumer opens sessions for logins completed by the authentication flow.
type LoginConsumer struct {
	sessions    SessionCreator
	logger      *zap.Logger
	maxEventLag time.Duration
	maxLoginAge time.Duration
	now         func() time.Time
}

// NewLoginConsumer constructs a consumer that creates sessions from login commands.
func NewLoginConsumer(sessions SessionCreator, log *zap.Logger, opts LoginConsumerOptions) *LoginConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoginConsumer{
		sessions:    sessions,
		logger:      log,
		maxEventLag: opts.MaxEventLag,
		maxLoginAge: opts.MaxLoginAge,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the consumer clock for deterministic testing.
func (c *LoginConsumer) WithClock(clock func() time.Time) *LoginConsumer {
	if clock != nil {
		c.now = clock
	}
	return c
}

// HandleMessage decodes a Kafka message prior to processing.
func (c *LoginConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var command domain.SessionCreateCommand
	if err := json.Unmarshal(msg.Value, &command); err != nil {
		return fmt.Errorf("decode session create command: %w", err)
	}

	return c.HandleEvent(ctx, command)
}

// HandleEvent opens the session described by command, superseding the user's
// previous session.
func (c *LoginConsumer) HandleEvent(ctx context.Context, command domain.SessionCreateCommand) error {
	if c.sessions == nil {
		return nil
	}

	if !command.LoggedInAt.IsZero() {
		age := c.now().Sub(command.LoggedInAt)
		if age < 0 {
			age = 0
		}
		if c.maxLoginAge > 0 && age >= c.maxLoginAge {
			c.logger.Debug("skip expired login command", zap.String("event_id", command.EventID), zap.Duration("age", age))
			return nil
		}
		if c.maxEventLag > 0 && age > c.maxEventLag {
			c.logger.Warn("session create command lag exceeds threshold",
				zap.Duration("lag", age),
				zap.Duration("threshold", c.maxEventLag),
				zap.String("event_id", command.EventID),
			)
		}
	}

	session, err := c.sessions.CreateSession(ctx, command.User(), command.SessionID,
		command.IPAddress, command.UserAgent, command.AccessToken, command.RefreshToken)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.logger.Info("session create command applied",
		zap.String("event_id", command.EventID),
		zap.String("user_id", session.UserID),
		zap.String("session_id", logger.MaskString(session.SessionID)),
	)
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *LoginConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *LoginConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles each message and marks it consumed. Rejected logins are logged and skipped.
func (c *LoginConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	return drainClaim(session, claim, c.HandleMessage, c.logger, "session create command")
}

// Run joins the "<consumer_group>.login" group and opens sessions until ctx is cancelled.
func (c *LoginConsumer) Run(ctx context.Context, cfg config.KafkaSettings) error {
	return consumeGroup(ctx, cfg, cfg.ConsumerGroup+".login", cfg.LoginTopic, c, c.logger)
}

var _ sarama.ConsumerGroupHandler = (*LoginConsumer)(nil)

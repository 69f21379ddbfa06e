package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/infra/config"
)

type messageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// consumeGroup joins groupID on topic and hands claims to handler until ctx is cancelled.
func consumeGroup(ctx context.Context, cfg config.KafkaSettings, groupID, topic string, handler sarama.ConsumerGroupHandler, logger *zap.Logger) error {
	saramaConfig := newSaramaConfig()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = false

	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaConfig)
	if err != nil {
		return fmt.Errorf("create kafka consumer group: %w", err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			logger.Warn("close kafka consumer group", zap.Error(err))
		}
	}()

	topic = topicName(cfg.TopicPrefix, topic)
	logger.Info("Kafka consumer started",
		zap.String("topic", topic),
		zap.String("group", groupID),
	)

	for {
		if err := group.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %s: %w", topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// drainClaim feeds each message to handle and marks it consumed. Failures are
// logged and skipped so one bad command cannot wedge the partition.
func drainClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim, handle messageHandler, logger *zap.Logger, kind string) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := handle(session.Context(), msg); err != nil {
				logger.Warn(kind+" failed",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// ErrPoisonMessage marks a message that can never be processed
// successfully (e.g. it does not deserialize). The consumer commits such
// messages instead of letting them block the partition forever.
var ErrPoisonMessage = errors.New("poison message")

// Handler processes one delivered record. Returning nil (or a poison
// error) commits the offset; any other error leaves it uncommitted so the
// record is redelivered after a restart.
type Handler func(ctx context.Context, message *sarama.ConsumerMessage) error

type ConsumerGroup struct {
	group   sarama.ConsumerGroup
	groupID string
	logger  *zap.Logger
}

func NewConsumerGroup(brokers []string, groupID string, logger *zap.Logger) (*ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = false

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group %s: %w", groupID, err)
	}

	logger.Info("Kafka consumer group initialized", zap.String("group_id", groupID))
	return &ConsumerGroup{group: group, groupID: groupID, logger: logger}, nil
}

// Consume runs the receive-handle-commit loop until ctx is cancelled.
// Handling is strictly sequential within the subscription.
func (cg *ConsumerGroup) Consume(ctx context.Context, topics []string, handler Handler) error {
	go func() {
		for err := range cg.group.Errors() {
			cg.logger.Error("Kafka consumer group error", zap.Error(err))
		}
	}()

	h := &groupHandler{handler: handler, logger: cg.logger}
	for {
		if err := cg.group.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			cg.logger.Error("Kafka consume session ended", zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (cg *ConsumerGroup) Close() error {
	return cg.group.Close()
}

type groupHandler struct {
	handler Handler
	logger  *zap.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			ctx := ExtractTraceContext(session.Context(), message.Headers)
			ctx, span := otel.Tracer("broker").Start(ctx, "consume "+message.Topic)
			err := h.handler(ctx, message)
			span.End()

			switch {
			case err == nil:
				session.MarkMessage(message, "")
				session.Commit()
			case errors.Is(err, ErrPoisonMessage):
				h.logger.Error("Skipping poison message",
					zap.String("topic", message.Topic),
					zap.Int64("offset", message.Offset),
					zap.Error(err),
				)
				session.MarkMessage(message, "")
				session.Commit()
			default:
				// Leave the offset uncommitted; the record is redelivered
				// once the session restarts from the last committed offset.
				h.logger.Error("Failed to handle message",
					zap.String("topic", message.Topic),
					zap.Int64("offset", message.Offset),
					zap.Error(err),
				)
				return err
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/broker"
	"github.com/MindCtrl01/template-backend/models"
)

// HandleRetryMessage consumes a retry envelope, waits out its delay, and
// republishes the carried event to the payment topic. The wait happens
// inside the handler so the offset is only committed after the
// republish; sequential consumption makes the delay a lower bound for
// everything behind it on the partition, which is acceptable because
// delays grow with retry count.
func (p *Processor) HandleRetryMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var retry models.PaymentRetry
	if err := json.Unmarshal(message.Value, &retry); err != nil {
		return fmt.Errorf("%w: failed to decode retry envelope: %v", broker.ErrPoisonMessage, err)
	}

	due := retry.ScheduledAt.Add(time.Duration(retry.RetryDelaySeconds) * time.Second)
	if wait := time.Until(due); wait > 0 {
		p.logger.Info("Delaying payment retry",
			zap.String("original_message_id", retry.OriginalMessageID),
			zap.Int("retry_count", retry.RetryCount),
			zap.Duration("wait", wait),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	event := retry.PaymentEvent
	event.RetryCount = retry.RetryCount

	if err := p.publisher.Publish(ctx, p.paymentTopic, event.PaymentID, event); err != nil {
		return fmt.Errorf("failed to republish payment event: %w", err)
	}

	p.logger.Info("Payment event requeued for retry",
		zap.String("original_message_id", retry.OriginalMessageID),
		zap.String("payment_id", event.PaymentID),
		zap.Int("retry_count", event.RetryCount),
	)
	return nil
}

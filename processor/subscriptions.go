package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/broker"
	"github.com/MindCtrl01/template-backend/models"
	"github.com/MindCtrl01/template-backend/provider"
)

// HandleSubscriptionMessage consumes subscription lifecycle events.
// Failures are recorded durably but never get a retry envelope; the
// error sweep is not wired to subscription events, so recovery is
// manual.
func (p *Processor) HandleSubscriptionMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event models.SubscriptionEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("%w: failed to decode subscription event: %v", broker.ErrPoisonMessage, err)
	}

	p.logger.Info("Processing subscription event",
		zap.String("message_id", event.MessageID),
		zap.String("event_type", string(event.EventType)),
		zap.String("customer_id", event.CustomerID),
	)

	var (
		sub *provider.Subscription
		err error
	)
	switch event.EventType {
	case models.SubscriptionEventCreate:
		err = provider.Retry(ctx, p.logger, provider.DefaultRetryAttempts, p.backoffUnit, func() error {
			var callErr error
			sub, callErr = p.provider.CreateSubscription(ctx, provider.CreateSubscriptionParams{
				CustomerID:      event.CustomerID,
				PriceID:         event.PriceID,
				PaymentMethodID: event.PaymentMethodID,
				TrialEnd:        event.TrialEnd,
				IdempotencyKey:  event.MessageID,
			})
			return callErr
		})
	case models.SubscriptionEventCancel:
		err = provider.Retry(ctx, p.logger, provider.DefaultRetryAttempts, p.backoffUnit, func() error {
			var callErr error
			sub, callErr = p.provider.CancelSubscription(ctx, event.SubscriptionID)
			return callErr
		})
	default:
		err = &provider.Error{
			Kind:    models.ErrorKindValidation,
			Message: fmt.Sprintf("unknown subscription event type: %s", event.EventType),
		}
	}

	if err != nil {
		kind := provider.Classify(err)
		p.logger.Error("Subscription event failed",
			zap.String("message_id", event.MessageID),
			zap.String("error_kind", string(kind)),
			zap.Error(err),
		)

		rec := newSubscriptionErrorRecord(&event, kind, err)
		if saveErr := p.errors.Save(ctx, rec); saveErr != nil {
			return saveErr
		}
		return nil
	}

	result := models.PaymentResult{
		MessageID:         uuid.New().String(),
		OriginalMessageID: event.MessageID,
		PaymentID:         sub.ID,
		CustomerID:        event.CustomerID,
		Success:           true,
		Status:            sub.Status,
		CreatedAt:         time.Now().UTC(),
	}
	if err := p.publisher.Publish(ctx, p.resultTopic, event.CustomerID, result); err != nil {
		return fmt.Errorf("failed to publish subscription result: %w", err)
	}

	p.logger.Info("Subscription event processed",
		zap.String("message_id", event.MessageID),
		zap.String("event_type", string(event.EventType)),
		zap.String("subscription_id", sub.ID),
		zap.String("status", sub.Status),
	)
	return nil
}

func newSubscriptionErrorRecord(event *models.SubscriptionEvent, kind models.ErrorKind, cause error) *models.PaymentErrorRecord {
	now := time.Now().UTC()
	eventData, _ := json.Marshal(event)

	return &models.PaymentErrorRecord{
		ID:                uuid.New().String(),
		OriginalMessageID: event.MessageID,
		PaymentID:         event.SubscriptionID,
		CustomerID:        event.CustomerID,
		ErrorMessage:      cause.Error(),
		ErrorKind:         kind,
		EventType:         models.PaymentEventType(event.EventType),
		RetryCount:        event.RetryCount,
		// Zero budget keeps the record out of the payment error sweep;
		// it exists for the operator, not the pipeline.
		MaxRetryAttempts: 0,
		ErrorOccurredAt:  now,
		RetryAt:          now,
		EventData: string(eventData),
		ErrorContext: map[string]string{
			"price_id": event.PriceID,
		},
	}
}

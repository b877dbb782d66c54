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
	"github.com/MindCtrl01/template-backend/middleware"
	"github.com/MindCtrl01/template-backend/models"
	"github.com/MindCtrl01/template-backend/provider"
	"github.com/MindCtrl01/template-backend/store"
)

// PaymentStore is the subset of the payments table the processor needs.
type PaymentStore interface {
	Upsert(ctx context.Context, p *models.Payment) error
	UpdateStatus(ctx context.Context, paymentIntentID, status string) error
}

// ErrorStore is the durable error sink for failed events.
type ErrorStore interface {
	Save(ctx context.Context, rec *models.PaymentErrorRecord) error
	GetErrorsForRetry(ctx context.Context, limit int) ([]*models.PaymentErrorRecord, error)
	UpdateRetryCount(ctx context.Context, id string, retryCount int) error
}

// Processor consumes payment events, drives the provider, and publishes
// results. Failures become durable error records plus (when the budget
// allows) a retry envelope.
type Processor struct {
	provider  provider.Client
	payments  PaymentStore
	errors    ErrorStore
	publisher broker.Publisher

	paymentTopic string
	resultTopic  string
	retryTopic   string

	// backoffUnit scales the in-call retry waits; production uses
	// time.Second.
	backoffUnit time.Duration
	logger      *zap.Logger
}

func New(providerClient provider.Client, payments PaymentStore, errors ErrorStore, publisher broker.Publisher,
	paymentTopic, resultTopic, retryTopic string, logger *zap.Logger) *Processor {
	return &Processor{
		provider:     providerClient,
		payments:     payments,
		errors:       errors,
		publisher:    publisher,
		paymentTopic: paymentTopic,
		resultTopic:  resultTopic,
		retryTopic:   retryTopic,
		backoffUnit:  time.Second,
		logger:       logger,
	}
}

// HandleMessage adapts a raw Kafka record into event processing.
// Undecodable records are poison: logged and committed, never retried.
func (p *Processor) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event models.PaymentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("%w: failed to decode payment event: %v", broker.ErrPoisonMessage, err)
	}
	return p.ProcessPaymentEvent(ctx, &event)
}

type outcome struct {
	// paymentID is the provider's identifier for the payment. On create
	// the inbound event has none yet, so results key off this instead.
	paymentID    string
	status       string
	success      bool
	clientSecret string
	errorMessage string
}

// ProcessPaymentEvent dispatches on the event type. A nil return means
// the event is fully handled (including the handled-failure path where
// an error record was written); a non-nil return means handling itself
// failed and the message must be redelivered.
func (p *Processor) ProcessPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	start := time.Now()
	if event.MaxRetryAttempts <= 0 {
		event.MaxRetryAttempts = models.DefaultMaxRetryAttempts
	}

	p.logger.Info("Processing payment event",
		zap.String("message_id", event.MessageID),
		zap.String("event_type", string(event.EventType)),
		zap.String("payment_id", event.PaymentID),
		zap.Int("retry_count", event.RetryCount),
	)

	var (
		out *outcome
		err error
	)
	switch event.EventType {
	case models.PaymentEventCreate:
		out, err = p.createPayment(ctx, event)
	case models.PaymentEventProcess:
		out, err = p.processPayment(ctx, event)
	case models.PaymentEventCapture:
		out, err = p.capturePayment(ctx, event)
	case models.PaymentEventRefund:
		out, err = p.refundPayment(ctx, event)
	default:
		err = &provider.Error{
			Kind:    models.ErrorKindValidation,
			Message: fmt.Sprintf("unknown payment event type: %s", event.EventType),
		}
	}

	if err != nil {
		middleware.RecordPaymentProcessed(string(event.EventType), "failed")
		return p.handleFailure(ctx, event, err)
	}

	middleware.RecordPaymentProcessed(string(event.EventType), "success")
	return p.publishResult(ctx, event, out, time.Since(start))
}

func (p *Processor) createPayment(ctx context.Context, event *models.PaymentEvent) (*outcome, error) {
	var intent *provider.Intent
	err := provider.Retry(ctx, p.logger, provider.DefaultRetryAttempts, p.backoffUnit, func() error {
		var callErr error
		intent, callErr = p.provider.CreateIntent(ctx, provider.CreateIntentParams{
			Amount:          event.Amount,
			Currency:        event.Currency,
			CustomerID:      event.CustomerID,
			PaymentMethodID: event.PaymentMethodID,
			Description:     event.Description,
			Metadata:        event.Metadata,
			Capture:         event.Capture,
			IdempotencyKey:  event.MessageID,
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if err := p.payments.Upsert(ctx, &models.Payment{
		PaymentIntentID: intent.ID,
		CustomerID:      event.CustomerID,
		Amount:          event.Amount,
		Currency:        event.Currency,
		Status:          intent.Status,
		Description:     event.Description,
	}); err != nil {
		return nil, err
	}

	return &outcome{
		paymentID:    intent.ID,
		status:       intent.Status,
		success:      true,
		clientSecret: intent.ClientSecret,
	}, nil
}

func (p *Processor) processPayment(ctx context.Context, event *models.PaymentEvent) (*outcome, error) {
	var intent *provider.Intent
	err := provider.Retry(ctx, p.logger, provider.DefaultRetryAttempts, p.backoffUnit, func() error {
		var callErr error
		intent, callErr = p.provider.ConfirmIntent(ctx, event.PaymentID, event.PaymentMethodID, event.MessageID)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if err := p.payments.UpdateStatus(ctx, intent.ID, intent.Status); err != nil {
		return nil, err
	}

	// A confirm that settles with a non-succeeded status is a handled
	// failure, not a processing error: the result carries the decline.
	return &outcome{
		paymentID:    intent.ID,
		status:       intent.Status,
		success:      intent.Status == "succeeded",
		clientSecret: intent.ClientSecret,
		errorMessage: intent.LastError,
	}, nil
}

func (p *Processor) capturePayment(ctx context.Context, event *models.PaymentEvent) (*outcome, error) {
	var intent *provider.Intent
	err := provider.Retry(ctx, p.logger, provider.DefaultRetryAttempts, p.backoffUnit, func() error {
		var callErr error
		intent, callErr = p.provider.CaptureIntent(ctx, event.PaymentID, event.Amount, event.MessageID)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if err := p.payments.UpdateStatus(ctx, intent.ID, intent.Status); err != nil {
		return nil, err
	}
	return &outcome{paymentID: intent.ID, status: intent.Status, success: true}, nil
}

func (p *Processor) refundPayment(ctx context.Context, event *models.PaymentEvent) (*outcome, error) {
	var refund *provider.RefundResult
	err := provider.Retry(ctx, p.logger, provider.DefaultRetryAttempts, p.backoffUnit, func() error {
		var callErr error
		refund, callErr = p.provider.Refund(ctx, event.PaymentID, event.Amount, event.MessageID)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	// The refund's status is the outcome; the local record is left alone.
	return &outcome{paymentID: refund.PaymentIntentID, status: refund.Status, success: true}, nil
}

// handleFailure writes the durable error record and, when the retry
// budget allows and the error is not a validation error, publishes a
// retry envelope. If the record cannot be saved the error propagates so
// the message is redelivered.
func (p *Processor) handleFailure(ctx context.Context, event *models.PaymentEvent, cause error) error {
	kind := provider.Classify(cause)

	p.logger.Error("Payment event failed",
		zap.String("message_id", event.MessageID),
		zap.String("event_type", string(event.EventType)),
		zap.String("error_kind", string(kind)),
		zap.Int("retry_count", event.RetryCount),
		zap.Error(cause),
	)

	rec := store.NewErrorRecord(event, kind, cause)
	if err := p.errors.Save(ctx, rec); err != nil {
		return err
	}

	// Validation failures can never succeed on retry.
	if kind == models.ErrorKindValidation {
		return nil
	}

	if event.RetryCount >= event.MaxRetryAttempts {
		p.logger.Warn("Retry budget exhausted",
			zap.String("message_id", event.MessageID),
			zap.Int("retry_count", event.RetryCount),
			zap.Int("max_retry_attempts", event.MaxRetryAttempts),
		)
		return nil
	}

	retry := models.PaymentRetry{
		MessageID:         uuid.New().String(),
		OriginalMessageID: event.MessageID,
		PaymentEvent:      *event,
		ErrorMessage:      cause.Error(),
		RetryCount:        event.RetryCount + 1,
		RetryDelaySeconds: (1 << uint(event.RetryCount+1)) * 60,
		ScheduledAt:       time.Now().UTC(),
	}
	retry.PaymentEvent.RetryCount = retry.RetryCount

	if err := p.publisher.Publish(ctx, p.retryTopic, event.PaymentID, retry); err != nil {
		return fmt.Errorf("failed to publish retry envelope: %w", err)
	}

	p.logger.Info("Retry envelope published",
		zap.String("original_message_id", event.MessageID),
		zap.Int("retry_count", retry.RetryCount),
		zap.Int("retry_delay_seconds", retry.RetryDelaySeconds),
	)
	return nil
}

func (p *Processor) publishResult(ctx context.Context, event *models.PaymentEvent, out *outcome, elapsed time.Duration) error {
	paymentID := out.paymentID
	if paymentID == "" {
		paymentID = event.PaymentID
	}

	result := models.PaymentResult{
		MessageID:         uuid.New().String(),
		OriginalMessageID: event.MessageID,
		PaymentID:         paymentID,
		CustomerID:        event.CustomerID,
		Success:           out.success,
		Status:            out.status,
		Amount:            event.Amount,
		Currency:          event.Currency,
		ErrorMessage:      out.errorMessage,
		ClientSecret:      out.clientSecret,
		CreatedAt:         time.Now().UTC(),
		ProcessingTimeMs:  elapsed.Milliseconds(),
	}

	if err := p.publisher.Publish(ctx, p.resultTopic, paymentID, result); err != nil {
		return fmt.Errorf("failed to publish payment result: %w", err)
	}

	p.logger.Info("Payment event processed",
		zap.String("message_id", event.MessageID),
		zap.String("status", out.status),
		zap.Bool("success", out.success),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs),
	)
	return nil
}

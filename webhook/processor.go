package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/middleware"
	"github.com/MindCtrl01/template-backend/models"
)

const maxWebhookRetryDelay = 60 * time.Minute

// retryDelay is the webhook backoff for the given attempt count:
// 2^(attempts-1) minutes, capped at 60 minutes.
func retryDelay(attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	delay := time.Duration(1<<uint(attemptCount-1)) * time.Minute
	if attemptCount > 10 || delay > maxWebhookRetryDelay {
		return maxWebhookRetryDelay
	}
	return delay
}

// Processor runs received webhooks through validation, parsing and
// business logic, logging each stage to the audit table.
type Processor struct {
	store    Store
	registry *Registry
	logger   *zap.Logger
}

func NewProcessor(store Store, registry *Registry, logger *zap.Logger) *Processor {
	return &Processor{store: store, registry: registry, logger: logger}
}

// Params describes one received webhook call.
type Params struct {
	EventID   string
	Provider  string
	EventType string
	Payload   []byte
	Signature string
	SourceIP  string
	UserAgent string
}

// ProcessWebhook records the event and runs it through the pipeline.
// The raw payload is persisted before any processing so a crash cannot
// lose a received webhook.
func (p *Processor) ProcessWebhook(ctx context.Context, params Params) (*models.ProcessingResult, error) {
	event := &models.WebhookEvent{
		EventID:      params.EventID,
		Provider:     params.Provider,
		EventType:    params.EventType,
		Status:       models.WebhookStatusPending,
		RawPayload:   string(params.Payload),
		Signature:    params.Signature,
		SourceIP:     params.SourceIP,
		UserAgent:    params.UserAgent,
		AttemptCount: 1,
		MaxAttempts:  models.DefaultWebhookMaxAttempts,
	}
	if err := p.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	return p.processEvent(ctx, event), nil
}

// processEvent runs one attempt for an already-persisted event. It is
// shared by intake and the retry sweep so the attempt counter always
// advances on the same row.
func (p *Processor) processEvent(ctx context.Context, event *models.WebhookEvent) *models.ProcessingResult {
	start := time.Now()

	handler, ok := p.registry.Get(event.Provider)
	if !ok {
		return p.fail(ctx, event, "validation", start, false,
			fmt.Errorf("no handler registered for provider %s", event.Provider))
	}

	// Stage 1: signature validation. A bad signature never becomes
	// valid, so the failure is terminal.
	stageStart := time.Now()
	p.logStage(ctx, event.ID, "validation", "started", 0, "")
	if !handler.VerifySignature([]byte(event.RawPayload), event.Signature) {
		err := errors.New("invalid signature")
		p.logStage(ctx, event.ID, "validation", "failed", time.Since(stageStart).Milliseconds(), err.Error())
		return p.fail(ctx, event, "validation", start, false, err)
	}
	p.logStage(ctx, event.ID, "validation", "success", time.Since(stageStart).Milliseconds(), "")

	// Stage 2: parsing and normalization. A payload that does not parse
	// will not parse tomorrow either.
	stageStart = time.Now()
	p.logStage(ctx, event.ID, "parsing", "started", 0, "")
	facts, err := handler.Handle(event.EventType, []byte(event.RawPayload))
	if err != nil {
		p.logStage(ctx, event.ID, "parsing", "failed", time.Since(stageStart).Milliseconds(), err.Error())
		return p.fail(ctx, event, "parsing", start, false, err)
	}
	p.logStage(ctx, event.ID, "parsing", "success", time.Since(stageStart).Milliseconds(), "")

	// Stage 3: business logic. Storage failures here are retryable.
	stageStart = time.Now()
	p.logStage(ctx, event.ID, "business_logic", "started", 0, "")
	if len(facts) > 0 {
		for i := range facts {
			facts[i].WebhookEventID = event.ID
		}
		if err := p.store.AddFacts(ctx, facts); err != nil {
			p.logStage(ctx, event.ID, "business_logic", "failed", time.Since(stageStart).Milliseconds(), err.Error())
			return p.fail(ctx, event, "business_logic", start, true, err)
		}
	}
	p.logStage(ctx, event.ID, "business_logic", "success", time.Since(stageStart).Milliseconds(), "")

	now := time.Now().UTC()
	processed, _ := json.Marshal(facts)
	event.Status = models.WebhookStatusCompleted
	event.ProcessedPayload = string(processed)
	event.ErrorMessage = ""
	event.NextRetryAt = nil
	event.ProcessedAt = &now
	if err := p.store.UpdateEvent(ctx, event); err != nil {
		p.logger.Error("Failed to mark webhook event completed",
			zap.Int64("webhook_event_id", event.ID), zap.Error(err))
		// The sweep only claims failed rows, so a row left pending here
		// would be stranded. Mark it failed with a retry instead; the
		// rerun may re-insert facts, keyed on webhook_event_id.
		event.ProcessedAt = nil
		return p.fail(ctx, event, "completion", start, true, err)
	}

	middleware.RecordWebhookProcessed(event.Provider, "success")
	p.logger.Info("Webhook processed",
		zap.Int64("webhook_event_id", event.ID),
		zap.String("provider", event.Provider),
		zap.String("event_type", event.EventType),
		zap.Int("facts", len(facts)),
	)

	return &models.ProcessingResult{
		Success:        true,
		WebhookEventID: event.ID,
		Message:        "webhook processed",
		DurationMs:     time.Since(start).Milliseconds(),
		Facts:          facts,
	}
}

// fail marks the event failed. Retryable failures get a next_retry_at
// so the sweep picks them up; terminal ones do not.
func (p *Processor) fail(ctx context.Context, event *models.WebhookEvent, stage string, start time.Time, retryable bool, cause error) *models.ProcessingResult {
	event.Status = models.WebhookStatusFailed
	event.ErrorMessage = cause.Error()
	event.NextRetryAt = nil
	if retryable && event.AttemptCount < event.MaxAttempts {
		next := time.Now().UTC().Add(retryDelay(event.AttemptCount))
		event.NextRetryAt = &next
	}

	if err := p.store.UpdateEvent(ctx, event); err != nil {
		p.logger.Error("Failed to mark webhook event failed",
			zap.Int64("webhook_event_id", event.ID), zap.Error(err))
	}

	middleware.RecordWebhookProcessed(event.Provider, "failed")
	p.logger.Error("Webhook processing failed",
		zap.Int64("webhook_event_id", event.ID),
		zap.String("provider", event.Provider),
		zap.String("stage", stage),
		zap.Int("attempt_count", event.AttemptCount),
		zap.Bool("retryable", retryable),
		zap.Error(cause),
	)

	return &models.ProcessingResult{
		Success:        false,
		WebhookEventID: event.ID,
		Message:        fmt.Sprintf("webhook failed at %s stage", stage),
		ErrorMessage:   cause.Error(),
		DurationMs:     time.Since(start).Milliseconds(),
	}
}

func (p *Processor) logStage(ctx context.Context, eventID int64, step, status string, durationMs int64, errorMessage string) {
	_ = p.store.AddLog(ctx, &models.WebhookProcessingLog{
		WebhookEventID: eventID,
		ProcessingStep: step,
		Status:         status,
		DurationMs:     durationMs,
		ErrorMessage:   errorMessage,
	})
}

// RetryFailed claims due failed events and reprocesses each on the same
// row, bumping the attempt counter.
func (p *Processor) RetryFailed(ctx context.Context, limit int) (int, error) {
	events, err := p.store.ClaimForRetry(ctx, limit)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, event := range events {
		event.AttemptCount++
		event.Status = models.WebhookStatusPending
		p.logger.Info("Retrying failed webhook",
			zap.Int64("webhook_event_id", event.ID),
			zap.Int("attempt_count", event.AttemptCount),
		)
		result := p.processEvent(ctx, event)
		if result.Success {
			retried++
		}
	}
	return retried, nil
}

// RunSweep periodically retries failed webhooks until ctx is cancelled.
func (p *Processor) RunSweep(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.RetryFailed(ctx, batchSize); err != nil {
				p.logger.Error("Webhook retry sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) Statistics(ctx context.Context, provider string, from, to *time.Time) (*models.WebhookStatistics, error) {
	return p.store.Statistics(ctx, provider, from, to)
}

func (p *Processor) List(ctx context.Context, provider string, status models.WebhookStatus, page, pageSize int) (*models.WebhookEventList, error) {
	return p.store.List(ctx, provider, status, page, pageSize)
}

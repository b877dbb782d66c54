package processor

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/models"
)

// RunErrorSweep periodically republishes events whose durable error
// records are due for another attempt. It complements the retry topic:
// the topic handles the normal delayed-retry path, the sweep recovers
// records whose envelope was lost or whose delay outlived a deploy.
func (p *Processor) RunErrorSweep(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweepErrors(ctx, batchSize)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) sweepErrors(ctx context.Context, batchSize int) {
	records, err := p.errors.GetErrorsForRetry(ctx, batchSize)
	if err != nil {
		p.logger.Error("Error sweep query failed", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}

	p.logger.Info("Sweeping payment errors for retry", zap.Int("count", len(records)))

	for _, rec := range records {
		// Bump the counter first so a crash mid-sweep cannot replay the
		// same record without consuming budget.
		newCount := rec.RetryCount + 1
		if err := p.errors.UpdateRetryCount(ctx, rec.ID, newCount); err != nil {
			p.logger.Error("Failed to update retry count",
				zap.String("error_id", rec.ID), zap.Error(err))
			continue
		}

		var event models.PaymentEvent
		if err := json.Unmarshal([]byte(rec.EventData), &event); err != nil {
			p.logger.Error("Stored event data is not decodable",
				zap.String("error_id", rec.ID), zap.Error(err))
			continue
		}
		event.RetryCount = newCount

		if err := p.publisher.Publish(ctx, p.paymentTopic, event.PaymentID, event); err != nil {
			p.logger.Error("Failed to republish swept event",
				zap.String("error_id", rec.ID), zap.Error(err))
			continue
		}

		p.logger.Info("Swept payment event requeued",
			zap.String("error_id", rec.ID),
			zap.String("payment_id", event.PaymentID),
			zap.Int("retry_count", newCount),
		)
	}
}

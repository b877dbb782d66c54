package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/models"
)

const maxRetryDelay = 30 * time.Minute

// RetryDelay returns the durable backoff for the given retry count:
// 2^retryCount minutes, capped at 30 minutes.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := time.Duration(1<<uint(retryCount)) * time.Minute
	if retryCount > 10 || delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// NewErrorRecord builds a durable record from a failed event. The full
// event is serialized into EventData so the sweep can republish it.
// Validation failures can never succeed on a rerun, so their records get
// a zero retry budget and stay out of the sweep.
func NewErrorRecord(event *models.PaymentEvent, kind models.ErrorKind, cause error) *models.PaymentErrorRecord {
	now := time.Now().UTC()
	eventData, _ := json.Marshal(event)

	maxRetryAttempts := event.MaxRetryAttempts
	if kind == models.ErrorKindValidation {
		maxRetryAttempts = 0
	}

	return &models.PaymentErrorRecord{
		ID:                uuid.New().String(),
		OriginalMessageID: event.MessageID,
		PaymentID:         event.PaymentID,
		CustomerID:        event.CustomerID,
		ErrorMessage:      cause.Error(),
		ErrorKind:         kind,
		EventType:         event.EventType,
		RetryCount:        event.RetryCount,
		MaxRetryAttempts:  maxRetryAttempts,
		ErrorOccurredAt:   now,
		RetryAt:           now.Add(RetryDelay(event.RetryCount)),
		EventData:         string(eventData),
		ErrorContext: map[string]string{
			"amount":   fmt.Sprintf("%d", event.Amount),
			"currency": event.Currency,
		},
	}
}

// ErrorStore persists payment error records.
type ErrorStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewErrorStore(db *sql.DB, logger *zap.Logger) *ErrorStore {
	return &ErrorStore{db: db, logger: logger}
}

// Save inserts the record. A failure here propagates to the caller so
// the originating message stays uncommitted and is redelivered.
func (s *ErrorStore) Save(ctx context.Context, rec *models.PaymentErrorRecord) error {
	errorContext, err := json.Marshal(rec.ErrorContext)
	if err != nil {
		return fmt.Errorf("failed to encode error context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO payment_errors
		 (id, original_message_id, payment_id, customer_id, error_message, error_kind, event_type,
		  retry_count, max_retry_attempts, is_resolved, error_occurred_at, retry_at, event_data, error_context)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11, $12, $13)`,
		rec.ID, rec.OriginalMessageID, rec.PaymentID, rec.CustomerID,
		rec.ErrorMessage, rec.ErrorKind, rec.EventType,
		rec.RetryCount, rec.MaxRetryAttempts,
		rec.ErrorOccurredAt, rec.RetryAt, rec.EventData, string(errorContext),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment error %s: %w", rec.ID, err)
	}

	s.logger.Info("Payment error recorded",
		zap.String("error_id", rec.ID),
		zap.String("payment_id", rec.PaymentID),
		zap.String("error_kind", string(rec.ErrorKind)),
		zap.Int("retry_count", rec.RetryCount),
		zap.Time("retry_at", rec.RetryAt),
	)
	return nil
}

// GetErrorsForRetry returns unresolved records whose backoff has elapsed
// and whose retry budget is not exhausted, oldest first.
func (s *ErrorStore) GetErrorsForRetry(ctx context.Context, limit int) ([]*models.PaymentErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, original_message_id, payment_id, customer_id, error_message, error_kind, event_type,
		        retry_count, max_retry_attempts, is_resolved, error_occurred_at, retry_at, event_data
		 FROM payment_errors
		 WHERE NOT is_resolved AND retry_count < max_retry_attempts AND retry_at <= NOW()
		 ORDER BY retry_at, retry_count
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query errors for retry: %w", err)
	}
	defer rows.Close()

	var records []*models.PaymentErrorRecord
	for rows.Next() {
		var rec models.PaymentErrorRecord
		if err := rows.Scan(
			&rec.ID, &rec.OriginalMessageID, &rec.PaymentID, &rec.CustomerID,
			&rec.ErrorMessage, &rec.ErrorKind, &rec.EventType,
			&rec.RetryCount, &rec.MaxRetryAttempts, &rec.IsResolved,
			&rec.ErrorOccurredAt, &rec.RetryAt, &rec.EventData,
		); err != nil {
			return nil, fmt.Errorf("failed to scan error record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// UpdateRetryCount bumps the counter and pushes retry_at out by the
// backoff for the new count.
func (s *ErrorStore) UpdateRetryCount(ctx context.Context, id string, retryCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payment_errors SET retry_count = $2, retry_at = $3 WHERE id = $1`,
		id, retryCount, time.Now().UTC().Add(RetryDelay(retryCount)),
	)
	if err != nil {
		return fmt.Errorf("failed to update retry count for %s: %w", id, err)
	}
	return nil
}

func (s *ErrorStore) MarkResolved(ctx context.Context, id, resolution string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE payment_errors
		 SET is_resolved = TRUE, resolution_message = $2, resolved_at = NOW()
		 WHERE id = $1 AND NOT is_resolved`,
		id, resolution,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve payment error %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	s.logger.Info("Payment error resolved", zap.String("error_id", id))
	return nil
}

func (s *ErrorStore) Statistics(ctx context.Context) (*models.ErrorStatistics, error) {
	stats := &models.ErrorStatistics{
		ErrorsByKind:      make(map[string]int),
		ErrorsByEventType: make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE is_resolved),
		        COUNT(*) FILTER (WHERE NOT is_resolved),
		        COUNT(*) FILTER (WHERE NOT is_resolved AND retry_count < max_retry_attempts AND retry_at <= NOW()),
		        COALESCE(AVG(retry_count), 0)
		 FROM payment_errors`,
	).Scan(&stats.TotalErrors, &stats.ResolvedErrors, &stats.PendingErrors,
		&stats.ErrorsReadyForRetry, &stats.AverageRetryCount)
	if err != nil {
		return nil, fmt.Errorf("failed to query error statistics: %w", err)
	}

	if err := s.countBy(ctx, "error_kind", stats.ErrorsByKind); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "event_type", stats.ErrorsByEventType); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *ErrorStore) countBy(ctx context.Context, column string, out map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, COUNT(*) FROM payment_errors GROUP BY %s`, column, column))
	if err != nil {
		return fmt.Errorf("failed to group errors by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		out[key] = count
	}
	return rows.Err()
}

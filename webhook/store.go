package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/models"
)

// Store is the persistence surface the webhook processor needs.
type Store interface {
	CreateEvent(ctx context.Context, event *models.WebhookEvent) error
	UpdateEvent(ctx context.Context, event *models.WebhookEvent) error
	ClaimForRetry(ctx context.Context, limit int) ([]*models.WebhookEvent, error)
	AddLog(ctx context.Context, log *models.WebhookProcessingLog) error
	AddFacts(ctx context.Context, facts []models.PaymentFact) error
	Statistics(ctx context.Context, provider string, from, to *time.Time) (*models.WebhookStatistics, error)
	List(ctx context.Context, provider string, status models.WebhookStatus, page, pageSize int) (*models.WebhookEventList, error)
}

type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) CreateEvent(ctx context.Context, event *models.WebhookEvent) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO webhook_events
		 (event_id, provider, event_type, status, raw_payload, signature, source_ip, user_agent, attempt_count, max_attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		event.EventID, event.Provider, event.EventType, event.Status,
		event.RawPayload, event.Signature, event.SourceIP, event.UserAgent,
		event.AttemptCount, event.MaxAttempts,
	).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook event: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, event *models.WebhookEvent) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events
		 SET status = $2, processed_payload = $3, error_message = $4,
		     attempt_count = $5, next_retry_at = $6, processed_at = $7,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1`,
		event.ID, event.Status, event.ProcessedPayload, event.ErrorMessage,
		event.AttemptCount, event.NextRetryAt, event.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook event %d: %w", event.ID, err)
	}
	return nil
}

// ClaimForRetry atomically moves due failed events back to pending and
// returns them. The FOR UPDATE SKIP LOCKED subquery keeps concurrent
// sweeps from claiming the same rows. Terminal failures (signature,
// parse) carry a NULL next_retry_at and are never claimed.
func (s *PostgresStore) ClaimForRetry(ctx context.Context, limit int) ([]*models.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE webhook_events
		 SET status = 'pending', next_retry_at = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id IN (
		     SELECT id FROM webhook_events
		     WHERE status = 'failed'
		       AND attempt_count < max_attempts
		       AND next_retry_at <= NOW()
		     ORDER BY next_retry_at
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, event_id, provider, event_type, status, raw_payload, signature,
		           error_message, attempt_count, max_attempts, created_at, updated_at`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim webhook events for retry: %w", err)
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		var (
			e            models.WebhookEvent
			signature    sql.NullString
			errorMessage sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.EventID, &e.Provider, &e.EventType, &e.Status, &e.RawPayload,
			&signature, &errorMessage, &e.AttemptCount, &e.MaxAttempts,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan claimed webhook event: %w", err)
		}
		e.Signature = signature.String
		e.ErrorMessage = errorMessage.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) AddLog(ctx context.Context, log *models.WebhookProcessingLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_processing_logs (webhook_event_id, processing_step, status, duration_ms, error_message)
		 VALUES ($1, $2, $3, $4, $5)`,
		log.WebhookEventID, log.ProcessingStep, log.Status, log.DurationMs, log.ErrorMessage,
	)
	if err != nil {
		// Audit rows are best-effort; losing one must not fail the event.
		s.logger.Warn("Failed to write webhook processing log",
			zap.Int64("webhook_event_id", log.WebhookEventID),
			zap.String("step", log.ProcessingStep),
			zap.Error(err),
		)
	}
	return nil
}

func (s *PostgresStore) AddFacts(ctx context.Context, facts []models.PaymentFact) error {
	for _, f := range facts {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO payment_facts
			 (webhook_event_id, payment_id, provider, event_type, status, amount, currency, customer_id, order_id, transaction_id, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			f.WebhookEventID, f.PaymentID, f.Provider, f.EventType, f.Status,
			f.Amount, f.Currency, f.CustomerID, f.OrderID, f.TransactionID, f.Metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert payment fact for event %d: %w", f.WebhookEventID, err)
		}
	}
	return nil
}

func (s *PostgresStore) Statistics(ctx context.Context, provider string, from, to *time.Time) (*models.WebhookStatistics, error) {
	stats := &models.WebhookStatistics{
		EventsByProvider: make(map[string]int),
		EventsByType:     make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COUNT(*) FILTER (WHERE status = 'pending'),
		        COALESCE(AVG(EXTRACT(EPOCH FROM (processed_at - created_at)) * 1000) FILTER (WHERE processed_at IS NOT NULL), 0)
		 FROM webhook_events
		 WHERE ($1 = '' OR provider = $1)
		   AND ($2::timestamp IS NULL OR created_at >= $2)
		   AND ($3::timestamp IS NULL OR created_at <= $3)`,
		provider, from, to,
	).Scan(&stats.TotalEvents, &stats.SuccessfulEvents, &stats.FailedEvents,
		&stats.PendingEvents, &stats.AverageProcessingTimeMs)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook statistics: %w", err)
	}

	if err := s.countBy(ctx, "provider", provider, from, to, stats.EventsByProvider); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "event_type", provider, from, to, stats.EventsByType); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *PostgresStore) countBy(ctx context.Context, column, provider string, from, to *time.Time, out map[string]int) error {
	query := fmt.Sprintf(
		`SELECT %s, COUNT(*) FROM webhook_events
		 WHERE ($1 = '' OR provider = $1)
		   AND ($2::timestamp IS NULL OR created_at >= $2)
		   AND ($3::timestamp IS NULL OR created_at <= $3)
		 GROUP BY %s`, column, column)
	rows, err := s.db.QueryContext(ctx, query, provider, from, to)
	if err != nil {
		return fmt.Errorf("failed to group webhook events by %s: %w", column, err)
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

func (s *PostgresStore) List(ctx context.Context, provider string, status models.WebhookStatus, page, pageSize int) (*models.WebhookEventList, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_events
		 WHERE ($1 = '' OR provider = $1) AND ($2 = '' OR status = $2)`,
		provider, string(status),
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count webhook events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, provider, event_type, status, error_message, attempt_count, max_attempts,
		        next_retry_at, created_at, updated_at, processed_at
		 FROM webhook_events
		 WHERE ($1 = '' OR provider = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		provider, string(status), pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	list := &models.WebhookEventList{
		Events:     []models.WebhookEvent{},
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}
	for rows.Next() {
		var (
			e            models.WebhookEvent
			errorMessage sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.EventID, &e.Provider, &e.EventType, &e.Status,
			&errorMessage, &e.AttemptCount, &e.MaxAttempts,
			&e.NextRetryAt, &e.CreatedAt, &e.UpdatedAt, &e.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		e.ErrorMessage = errorMessage.String
		list.Events = append(list.Events, e)
	}
	return list, rows.Err()
}

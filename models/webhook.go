package models

import "time"

type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusCompleted WebhookStatus = "completed"
	WebhookStatusFailed    WebhookStatus = "failed"
)

const DefaultWebhookMaxAttempts = 3

// WebhookEvent is the durable record of one received provider call-back.
// RawPayload keeps the original bytes verbatim even when processing fails.
type WebhookEvent struct {
	ID               int64         `json:"id"`
	EventID          string        `json:"event_id"`
	Provider         string        `json:"provider"`
	EventType        string        `json:"event_type"`
	Status           WebhookStatus `json:"status"`
	RawPayload       string        `json:"raw_payload"`
	ProcessedPayload string        `json:"processed_payload,omitempty"`
	Signature        string        `json:"signature,omitempty"`
	SourceIP         string        `json:"source_ip,omitempty"`
	UserAgent        string        `json:"user_agent,omitempty"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	AttemptCount     int           `json:"attempt_count"`
	MaxAttempts      int           `json:"max_attempts"`
	NextRetryAt      *time.Time    `json:"next_retry_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	ProcessedAt      *time.Time    `json:"processed_at,omitempty"`
}

// WebhookProcessingLog is an append-only audit row for one processing stage.
type WebhookProcessingLog struct {
	ID             int64     `json:"id"`
	WebhookEventID int64     `json:"webhook_event_id"`
	ProcessingStep string    `json:"processing_step"` // validation, parsing, business_logic
	Status         string    `json:"status"`          // started, success, failed
	DurationMs     int64     `json:"duration_ms"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ProcessedAt    time.Time `json:"processed_at"`
}

// PaymentFact is a normalized payment event extracted from a webhook payload.
type PaymentFact struct {
	ID             int64   `json:"id"`
	WebhookEventID int64   `json:"webhook_event_id"`
	PaymentID      string  `json:"payment_id"`
	Provider       string  `json:"provider"`
	EventType      string  `json:"event_type"`
	Status         string  `json:"status"`
	Amount         float64 `json:"amount,omitempty"`
	Currency       string  `json:"currency,omitempty"`
	CustomerID     string  `json:"customer_id,omitempty"`
	OrderID        string  `json:"order_id,omitempty"`
	TransactionID  string  `json:"transaction_id,omitempty"`
	Metadata       string  `json:"metadata,omitempty"`
}

type ProcessingResult struct {
	Success        bool          `json:"success"`
	WebhookEventID int64         `json:"webhook_event_id"`
	Message        string        `json:"message"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	DurationMs     int64         `json:"duration_ms"`
	Facts          []PaymentFact `json:"facts,omitempty"`
}

type WebhookStatistics struct {
	TotalEvents             int            `json:"total_events"`
	SuccessfulEvents        int            `json:"successful_events"`
	FailedEvents            int            `json:"failed_events"`
	PendingEvents           int            `json:"pending_events"`
	EventsByProvider        map[string]int `json:"events_by_provider"`
	EventsByType            map[string]int `json:"events_by_type"`
	AverageProcessingTimeMs float64        `json:"average_processing_time_ms"`
}

type WebhookEventList struct {
	Events     []WebhookEvent `json:"events"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
}

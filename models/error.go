package models

import "time"

type ErrorKind string

const (
	ErrorKindValidation  ErrorKind = "validation_error"
	ErrorKindNetwork     ErrorKind = "network_error"
	ErrorKindTimeout     ErrorKind = "timeout_error"
	ErrorKindProviderAPI ErrorKind = "provider_api_error"
	ErrorKindUnknown     ErrorKind = "unknown_error"
)

// PaymentErrorRecord is the durable record of a failed payment event.
// EventData holds the serialized original event so the sweep can
// republish it verbatim.
type PaymentErrorRecord struct {
	ID                string            `json:"id"`
	OriginalMessageID string            `json:"original_message_id"`
	PaymentID         string            `json:"payment_id"`
	CustomerID        string            `json:"customer_id"`
	ErrorMessage      string            `json:"error_message"`
	ErrorKind         ErrorKind         `json:"error_kind"`
	EventType         PaymentEventType  `json:"event_type"`
	RetryCount        int               `json:"retry_count"`
	MaxRetryAttempts  int               `json:"max_retry_attempts"`
	IsResolved        bool              `json:"is_resolved"`
	ResolutionMessage string            `json:"resolution_message,omitempty"`
	ErrorOccurredAt   time.Time         `json:"error_occurred_at"`
	RetryAt           time.Time         `json:"retry_at"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
	EventData         string            `json:"event_data"`
	ErrorContext      map[string]string `json:"error_context,omitempty"`
}

type ErrorStatistics struct {
	TotalErrors         int            `json:"total_errors"`
	ResolvedErrors      int            `json:"resolved_errors"`
	PendingErrors       int            `json:"pending_errors"`
	ErrorsReadyForRetry int            `json:"errors_ready_for_retry"`
	AverageRetryCount   float64        `json:"average_retry_count"`
	ErrorsByKind        map[string]int `json:"errors_by_kind"`
	ErrorsByEventType   map[string]int `json:"errors_by_event_type"`
}

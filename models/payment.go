package models

import "time"

type PaymentEventType string

const (
	PaymentEventCreate  PaymentEventType = "create_payment"
	PaymentEventProcess PaymentEventType = "process_payment"
	PaymentEventCapture PaymentEventType = "capture_payment"
	PaymentEventRefund  PaymentEventType = "refund_payment"
)

const DefaultMaxRetryAttempts = 3

// PaymentEvent is the message consumed from the payment-events topic.
// It is immutable once published; retries republish a copy with a higher
// retry_count.
type PaymentEvent struct {
	MessageID        string            `json:"message_id"`
	PaymentID        string            `json:"payment_id"`
	CustomerID       string            `json:"customer_id"`
	Amount           int64             `json:"amount"` // minor units
	Currency         string            `json:"currency"`
	PaymentMethodID  string            `json:"payment_method_id"`
	Description      string            `json:"description"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Capture          bool              `json:"capture"`
	EventType        PaymentEventType  `json:"event_type"`
	CreatedAt        time.Time         `json:"created_at"`
	RetryCount       int               `json:"retry_count"`
	MaxRetryAttempts int               `json:"max_retry_attempts"`
}

// PaymentResult is published to the payment-results topic once per
// successfully handled attempt.
type PaymentResult struct {
	MessageID         string    `json:"message_id"`
	OriginalMessageID string    `json:"original_message_id"`
	PaymentID         string    `json:"payment_id"`
	CustomerID        string    `json:"customer_id"`
	Success           bool      `json:"success"`
	Status            string    `json:"status"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ClientSecret      string    `json:"client_secret,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ProcessingTimeMs  int64     `json:"processing_time_ms"`
}

// PaymentRetry carries the full original event so a retry consumer can
// resume without looking anything up.
type PaymentRetry struct {
	MessageID         string       `json:"message_id"`
	OriginalMessageID string       `json:"original_message_id"`
	PaymentEvent      PaymentEvent `json:"payment_event"`
	ErrorMessage      string       `json:"error_message"`
	RetryCount        int          `json:"retry_count"`
	RetryDelaySeconds int          `json:"retry_delay_seconds"`
	ScheduledAt       time.Time    `json:"scheduled_at"`
}

type SubscriptionEventType string

const (
	SubscriptionEventCreate SubscriptionEventType = "create_subscription"
	SubscriptionEventCancel SubscriptionEventType = "cancel_subscription"
)

// SubscriptionEvent is the message consumed from the subscription-events topic.
type SubscriptionEvent struct {
	MessageID        string                `json:"message_id"`
	SubscriptionID   string                `json:"subscription_id"`
	CustomerID       string                `json:"customer_id"`
	PriceID          string                `json:"price_id"`
	PaymentMethodID  string                `json:"payment_method_id"`
	TrialEnd         *time.Time            `json:"trial_end,omitempty"`
	EventType        SubscriptionEventType `json:"event_type"`
	CreatedAt        time.Time             `json:"created_at"`
	RetryCount       int                   `json:"retry_count"`
	MaxRetryAttempts int                   `json:"max_retry_attempts"`
}

// Payment is the local record of a payment intent, keyed by the
// provider-returned intent id.
type Payment struct {
	ID              int64     `json:"id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	CustomerID      string    `json:"customer_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	Description     string    `json:"description"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/models"
)

// Intent mirrors the provider's payment intent resource.
type Intent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	CustomerID   string `json:"customer_id"`
	ClientSecret string `json:"client_secret"`
	LastError    string `json:"last_error,omitempty"`
}

type RefundResult struct {
	ID              string `json:"id"`
	PaymentIntentID string `json:"payment_intent_id"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type Subscription struct {
	ID               string     `json:"id"`
	CustomerID       string     `json:"customer_id"`
	PriceID          string     `json:"price_id"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

type CreateIntentParams struct {
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	CustomerID      string            `json:"customer_id"`
	PaymentMethodID string            `json:"payment_method_id"`
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Capture         bool              `json:"capture"`

	// IdempotencyKey is sent as a header, not in the body.
	IdempotencyKey string `json:"-"`
}

type CreateSubscriptionParams struct {
	CustomerID      string     `json:"customer_id"`
	PriceID         string     `json:"price_id"`
	PaymentMethodID string     `json:"payment_method_id"`
	TrialEnd        *time.Time `json:"trial_end,omitempty"`

	IdempotencyKey string `json:"-"`
}

// Client is the external payment provider. All money movement goes
// through it.
type Client interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID, paymentMethodID, idempotencyKey string) (*Intent, error)
	CaptureIntent(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*Intent, error)
	Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*RefundResult, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// HTTPClient talks to the provider's REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTTPClient(baseURL, apiKey string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (c *HTTPClient) CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error) {
	var intent Intent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", params.IdempotencyKey, params, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) ConfirmIntent(ctx context.Context, intentID, paymentMethodID, idempotencyKey string) (*Intent, error) {
	body := map[string]string{"payment_method_id": paymentMethodID}
	var intent Intent
	path := fmt.Sprintf("/v1/payment_intents/%s/confirm", intentID)
	if err := c.do(ctx, http.MethodPost, path, idempotencyKey, body, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) CaptureIntent(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*Intent, error) {
	body := map[string]int64{}
	if amount > 0 {
		body["amount_to_capture"] = amount
	}
	var intent Intent
	path := fmt.Sprintf("/v1/payment_intents/%s/capture", intentID)
	if err := c.do(ctx, http.MethodPost, path, idempotencyKey, body, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*RefundResult, error) {
	body := map[string]interface{}{
		"payment_intent_id": intentID,
		"reason":            "requested_by_customer",
	}
	if amount > 0 {
		body["amount"] = amount
	}
	var refund RefundResult
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", idempotencyKey, body, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *HTTPClient) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	var intent Intent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, "", nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *HTTPClient) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", params.IdempotencyKey, params, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *HTTPClient) CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	path := fmt.Sprintf("/v1/subscriptions/%s/cancel", subscriptionID)
	if err := c.do(ctx, http.MethodPost, path, "", nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *HTTPClient) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions/"+subscriptionID, "", nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: models.ErrorKindValidation, Message: fmt.Sprintf("failed to encode request: %v", err)}
		}
		reqBody = bytes.NewBuffer(payload)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &Error{Kind: models.ErrorKindValidation, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: models.ErrorKindProviderAPI, Message: fmt.Sprintf("failed to decode provider response: %v", err), StatusCode: resp.StatusCode}
		}
	}
	return nil
}

func (c *HTTPClient) apiError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := fmt.Sprintf("provider returned status %d", resp.StatusCode)
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	kind := models.ErrorKindProviderAPI
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = models.ErrorKindValidation
	case http.StatusRequestTimeout:
		kind = models.ErrorKindTimeout
	}

	c.logger.Warn("Provider API error",
		zap.Int("status", resp.StatusCode),
		zap.String("message", message),
	)
	return &Error{Kind: kind, Message: message, StatusCode: resp.StatusCode}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: models.ErrorKindTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: models.ErrorKindTimeout, Message: err.Error()}
	}
	return &Error{Kind: models.ErrorKindNetwork, Message: err.Error()}
}

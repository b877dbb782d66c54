package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/MindCtrl01/template-backend/models"
	"github.com/MindCtrl01/template-backend/webhook"
)

type fakeWebhookProcessor struct {
	lastParams webhook.Params
	result     *models.ProcessingResult
	retried    int
}

func (f *fakeWebhookProcessor) ProcessWebhook(ctx context.Context, params webhook.Params) (*models.ProcessingResult, error) {
	f.lastParams = params
	if f.result != nil {
		return f.result, nil
	}
	return &models.ProcessingResult{Success: true, WebhookEventID: 7, Message: "webhook processed"}, nil
}

func (f *fakeWebhookProcessor) RetryFailed(ctx context.Context, limit int) (int, error) {
	return f.retried, nil
}

func (f *fakeWebhookProcessor) Statistics(ctx context.Context, provider string, from, to *time.Time) (*models.WebhookStatistics, error) {
	return &models.WebhookStatistics{TotalEvents: 3}, nil
}

func (f *fakeWebhookProcessor) List(ctx context.Context, provider string, status models.WebhookStatus, page, pageSize int) (*models.WebhookEventList, error) {
	return &models.WebhookEventList{TotalCount: 3, Page: page, PageSize: pageSize}, nil
}

func setupWebhookRouter(t *testing.T) (*fakeWebhookProcessor, *gin.Engine) {
	proc := &fakeWebhookProcessor{}
	handler := NewWebhookHandler(proc, zaptest.NewLogger(t))

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/webhooks/:provider", handler.Receive)
	router.GET("/api/webhooks/statistics", handler.Statistics)
	router.POST("/api/webhooks/retry", handler.Retry)
	return proc, router
}

func TestWebhookReceive_Success(t *testing.T) {
	proc, router := setupWebhookRouter(t)

	body := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	req := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewBuffer(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["eventId"] != float64(7) {
		t.Errorf("eventId = %v, want 7", resp["eventId"])
	}

	if proc.lastParams.Provider != "stripe" {
		t.Errorf("Provider = %q, want stripe", proc.lastParams.Provider)
	}
	if proc.lastParams.EventID != "evt_1" || proc.lastParams.EventType != "charge.succeeded" {
		t.Errorf("Unexpected params: %+v", proc.lastParams)
	}
	if proc.lastParams.Signature != "t=1,v1=abc" {
		t.Errorf("Signature = %q, want the Stripe-Signature header", proc.lastParams.Signature)
	}
}

func TestWebhookReceive_PayPalUsesEventTypeField(t *testing.T) {
	proc, router := setupWebhookRouter(t)

	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)
	req := httptest.NewRequest("POST", "/api/webhooks/paypal", bytes.NewBuffer(body))
	req.Header.Set("Paypal-Signature", "cafe")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if proc.lastParams.EventType != "PAYMENT.CAPTURE.COMPLETED" {
		t.Errorf("EventType = %q, want PAYMENT.CAPTURE.COMPLETED", proc.lastParams.EventType)
	}
}

func TestWebhookReceive_UnknownProviderIs404(t *testing.T) {
	_, router := setupWebhookRouter(t)

	req := httptest.NewRequest("POST", "/api/webhooks/square", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
}

func TestWebhookReceive_EmptyBodyIs400(t *testing.T) {
	_, router := setupWebhookRouter(t)

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewBuffer(nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestWebhookReceive_ProcessingFailureIs400(t *testing.T) {
	proc, router := setupWebhookRouter(t)
	proc.result = &models.ProcessingResult{
		Success:        false,
		WebhookEventID: 9,
		ErrorMessage:   "signature verification failed",
	}

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1","type":"x"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", w.Code)
	}
}

func TestWebhookReceive_MissingMetaGetsDefaults(t *testing.T) {
	proc, router := setupWebhookRouter(t)

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewBufferString(`{"foo":"bar"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	if proc.lastParams.EventID == "" {
		t.Error("Expected a generated event id")
	}
	if proc.lastParams.EventType != "unknown" {
		t.Errorf("EventType = %q, want unknown", proc.lastParams.EventType)
	}
}

func TestWebhookRetry(t *testing.T) {
	proc, router := setupWebhookRouter(t)
	proc.retried = 4

	req := httptest.NewRequest("POST", "/api/webhooks/retry?maxRetries=5", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["retried"] != 4 {
		t.Errorf("retried = %d, want 4", resp["retried"])
	}
}

func TestWebhookStatistics(t *testing.T) {
	_, router := setupWebhookRouter(t)

	req := httptest.NewRequest("GET", "/api/webhooks/statistics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}

	var stats models.WebhookStatistics
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
}

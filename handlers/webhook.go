package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/models"
	"github.com/MindCtrl01/template-backend/webhook"
)

// WebhookProcessor is the processing surface the HTTP layer depends on.
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, params webhook.Params) (*models.ProcessingResult, error)
	RetryFailed(ctx context.Context, limit int) (int, error)
	Statistics(ctx context.Context, provider string, from, to *time.Time) (*models.WebhookStatistics, error)
	List(ctx context.Context, provider string, status models.WebhookStatus, page, pageSize int) (*models.WebhookEventList, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
	logger    *zap.Logger
}

func NewWebhookHandler(processor WebhookProcessor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, logger: logger}
}

var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
	"paypal": "Paypal-Signature",
}

// Receive handles POST /api/webhooks/:provider.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")
	headerName, ok := signatureHeaders[provider]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil || len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty or unreadable body"})
		return
	}

	eventID, eventType := extractEventMeta(provider, payload)

	result, err := h.processor.ProcessWebhook(c.Request.Context(), webhook.Params{
		EventID:   eventID,
		Provider:  provider,
		EventType: eventType,
		Payload:   payload,
		Signature: c.GetHeader(headerName),
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.logger.Error("Failed to record webhook", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record webhook"})
		return
	}

	if !result.Success {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   result.ErrorMessage,
			"eventId": result.WebhookEventID,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": result.Message,
		"eventId": result.WebhookEventID,
	})
}

// extractEventMeta pulls the provider's event id and type from the raw
// payload without full parsing; missing fields fall back to generated
// values so intake never rejects a payload for these.
func extractEventMeta(provider string, payload []byte) (string, string) {
	var meta struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		EventType string `json:"event_type"`
	}
	_ = json.Unmarshal(payload, &meta)

	eventID := meta.ID
	if eventID == "" {
		eventID = uuid.New().String()
	}

	eventType := meta.Type
	if provider == "paypal" && meta.EventType != "" {
		eventType = meta.EventType
	}
	if eventType == "" {
		eventType = "unknown"
	}
	return eventID, eventType
}

// Statistics handles GET /api/webhooks/statistics?provider&fromDate&toDate.
func (h *WebhookHandler) Statistics(c *gin.Context) {
	from := parseTimeQuery(c.Query("fromDate"))
	to := parseTimeQuery(c.Query("toDate"))

	stats, err := h.processor.Statistics(c.Request.Context(), c.Query("provider"), from, to)
	if err != nil {
		h.logger.Error("Failed to load webhook statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// List handles GET /api/webhooks/events.
func (h *WebhookHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	list, err := h.processor.List(c.Request.Context(),
		c.Query("provider"), models.WebhookStatus(c.Query("status")), page, pageSize)
	if err != nil {
		h.logger.Error("Failed to list webhook events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// parseTimeQuery accepts RFC 3339 or plain dates; anything else means no
// bound.
func parseTimeQuery(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts
		}
	}
	return nil
}

// Retry handles POST /api/webhooks/retry?maxRetries.
func (h *WebhookHandler) Retry(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("maxRetries", "10"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	retried, err := h.processor.RetryFailed(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Webhook retry failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry webhooks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": retried})
}

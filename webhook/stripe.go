package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/models"
)

// stripeEventStatus maps Stripe event types to normalized payment
// statuses. Unmapped types are accepted but produce no facts.
var stripeEventStatus = map[string]string{
	"payment_intent.succeeded":      "completed",
	"charge.succeeded":              "completed",
	"invoice.payment_succeeded":     "completed",
	"payment_intent.payment_failed": "failed",
	"charge.failed":                 "failed",
	"invoice.payment_failed":        "failed",
	"charge.refunded":               "refunded",
}

type StripeHandler struct {
	secret []byte
	logger *zap.Logger
}

func NewStripeHandler(secret string, logger *zap.Logger) *StripeHandler {
	return &StripeHandler{secret: []byte(secret), logger: logger}
}

func (h *StripeHandler) Provider() string { return "stripe" }

// VerifySignature checks the Stripe-Signature header, which carries a
// timestamp and one or more v1 signatures: "t=<ts>,v1=<hex>". The
// signed payload is "<ts>.<body>".
func (h *StripeHandler) VerifySignature(payload []byte, signature string) bool {
	var timestamp string
	var candidates []string
	for _, part := range strings.Split(signature, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return true
		}
	}
	return false
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string `json:"id"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Customer string `json:"customer"`
			Metadata struct {
				OrderID string `json:"order_id"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (h *StripeHandler) Handle(eventType string, payload []byte) ([]models.PaymentFact, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse stripe payload: %w", err)
	}

	status, ok := stripeEventStatus[eventType]
	if !ok {
		h.logger.Warn("Unhandled stripe event type", zap.String("event_type", eventType))
		return nil, nil
	}

	obj := event.Data.Object
	fact := models.PaymentFact{
		PaymentID:     obj.ID,
		Provider:      "stripe",
		EventType:     eventType,
		Status:        status,
		Amount:        float64(obj.Amount) / 100,
		Currency:      strings.ToUpper(obj.Currency),
		CustomerID:    obj.Customer,
		OrderID:       obj.Metadata.OrderID,
		TransactionID: event.ID,
	}
	return []models.PaymentFact{fact}, nil
}

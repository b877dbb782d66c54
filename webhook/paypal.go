package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/models"
)

var paypalEventStatus = map[string]string{
	"PAYMENT.CAPTURE.COMPLETED": "completed",
	"CHECKOUT.ORDER.COMPLETED":  "completed",
	"PAYMENT.CAPTURE.DENIED":    "failed",
	"PAYMENT.CAPTURE.REFUNDED":  "refunded",
	"CHECKOUT.ORDER.APPROVED":   "approved",
	"CHECKOUT.ORDER.CANCELLED":  "cancelled",
}

type PayPalHandler struct {
	secret []byte
	logger *zap.Logger
}

func NewPayPalHandler(secret string, logger *zap.Logger) *PayPalHandler {
	return &PayPalHandler{secret: []byte(secret), logger: logger}
}

func (h *PayPalHandler) Provider() string { return "paypal" }

// VerifySignature checks a plain hex-encoded HMAC-SHA256 of the body.
func (h *PayPalHandler) VerifySignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

type paypalEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID     string `json:"id"`
		Amount struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
		CustomID      string `json:"custom_id"`
		InvoiceID     string `json:"invoice_id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

func (h *PayPalHandler) Handle(eventType string, payload []byte) ([]models.PaymentFact, error) {
	var event paypalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse paypal payload: %w", err)
	}

	status, ok := paypalEventStatus[eventType]
	if !ok {
		h.logger.Warn("Unhandled paypal event type", zap.String("event_type", eventType))
		return nil, nil
	}

	// PayPal sends amounts as decimal strings.
	var amount float64
	if v := event.Resource.Amount.Value; v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse paypal amount %q: %w", v, err)
		}
		amount = parsed
	}

	fact := models.PaymentFact{
		PaymentID:     event.Resource.ID,
		Provider:      "paypal",
		EventType:     eventType,
		Status:        status,
		Amount:        amount,
		Currency:      strings.ToUpper(event.Resource.Amount.CurrencyCode),
		CustomerID:    event.Resource.CustomID,
		OrderID:       event.Resource.SupplementaryData.RelatedIDs.OrderID,
		TransactionID: event.ID,
	}
	return []models.PaymentFact{fact}, nil
}

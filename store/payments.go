package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/models"
)

// PaymentStore persists local payment records keyed by the
// provider-returned intent id. Upsert keeps redelivered create events
// from inserting duplicate rows.
type PaymentStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPaymentStore(db *sql.DB, logger *zap.Logger) *PaymentStore {
	return &PaymentStore{db: db, logger: logger}
}

func (s *PaymentStore) Upsert(ctx context.Context, p *models.Payment) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO payments (payment_intent_id, customer_id, amount, currency, status, description)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (payment_intent_id)
		 DO UPDATE SET status = EXCLUDED.status, updated_at = CURRENT_TIMESTAMP
		 RETURNING id, created_at, updated_at`,
		p.PaymentIntentID, p.CustomerID, p.Amount, p.Currency, p.Status, p.Description,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert payment %s: %w", p.PaymentIntentID, err)
	}

	s.logger.Info("Payment record saved",
		zap.String("payment_intent_id", p.PaymentIntentID),
		zap.String("status", p.Status),
	)
	return nil
}

func (s *PaymentStore) UpdateStatus(ctx context.Context, paymentIntentID, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = $2, updated_at = CURRENT_TIMESTAMP WHERE payment_intent_id = $1`,
		paymentIntentID, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", paymentIntentID, err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		s.logger.Warn("No payment record to update", zap.String("payment_intent_id", paymentIntentID))
	}
	return nil
}

func (s *PaymentStore) GetByIntentID(ctx context.Context, paymentIntentID string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, payment_intent_id, customer_id, amount, currency, status, description, created_at, updated_at
		 FROM payments WHERE payment_intent_id = $1`,
		paymentIntentID,
	).Scan(&p.ID, &p.PaymentIntentID, &p.CustomerID, &p.Amount, &p.Currency, &p.Status, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment %s: %w", paymentIntentID, err)
	}
	return &p, nil
}

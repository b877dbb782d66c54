package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap/zaptest"

	"github.com/MindCtrl01/template-backend/models"
)

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
		{5, 30 * time.Minute},
		{10, 30 * time.Minute},
		{100, 30 * time.Minute},
		{-1, time.Minute},
	}

	for _, tt := range tests {
		if got := RetryDelay(tt.retryCount); got != tt.want {
			t.Errorf("RetryDelay(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestNewErrorRecord(t *testing.T) {
	event := &models.PaymentEvent{
		MessageID:        "msg-1",
		PaymentID:        "pi_123",
		CustomerID:       "cus_1",
		Amount:           1000,
		Currency:         "usd",
		EventType:        models.PaymentEventCreate,
		RetryCount:       2,
		MaxRetryAttempts: 3,
	}

	before := time.Now().UTC()
	rec := NewErrorRecord(event, models.ErrorKindNetwork, errors.New("connection refused"))
	after := time.Now().UTC()

	if rec.ID == "" {
		t.Error("Expected a generated record id")
	}
	if rec.OriginalMessageID != "msg-1" {
		t.Errorf("OriginalMessageID = %q, want msg-1", rec.OriginalMessageID)
	}
	if rec.ErrorKind != models.ErrorKindNetwork {
		t.Errorf("ErrorKind = %q, want network_error", rec.ErrorKind)
	}
	if rec.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", rec.RetryCount)
	}

	// retry_count 2 means a 4 minute backoff
	wantMin := before.Add(4 * time.Minute)
	wantMax := after.Add(4 * time.Minute)
	if rec.RetryAt.Before(wantMin) || rec.RetryAt.After(wantMax) {
		t.Errorf("RetryAt = %v, want within [%v, %v]", rec.RetryAt, wantMin, wantMax)
	}

	if rec.EventData == "" {
		t.Error("Expected serialized event data")
	}
}

func TestNewErrorRecord_ValidationHasNoRetryBudget(t *testing.T) {
	event := &models.PaymentEvent{
		MessageID:        "msg-1",
		PaymentID:        "pi_123",
		EventType:        "teleport_payment",
		MaxRetryAttempts: 3,
	}

	rec := NewErrorRecord(event, models.ErrorKindValidation, errors.New("unknown event type"))
	if rec.MaxRetryAttempts != 0 {
		t.Errorf("MaxRetryAttempts = %d, want 0 for a validation failure", rec.MaxRetryAttempts)
	}

	// transient kinds keep the event's budget
	rec = NewErrorRecord(event, models.ErrorKindNetwork, errors.New("connection refused"))
	if rec.MaxRetryAttempts != 3 {
		t.Errorf("MaxRetryAttempts = %d, want 3 for a network failure", rec.MaxRetryAttempts)
	}
}

func setupErrorStore(t *testing.T) (*ErrorStore, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	return NewErrorStore(db, zaptest.NewLogger(t)), mock, db
}

func TestErrorStore_Save(t *testing.T) {
	store, mock, db := setupErrorStore(t)
	defer db.Close()

	event := &models.PaymentEvent{MessageID: "msg-1", PaymentID: "pi_1", EventType: models.PaymentEventCreate}
	rec := NewErrorRecord(event, models.ErrorKindTimeout, errors.New("deadline exceeded"))

	mock.ExpectExec("INSERT INTO payment_errors").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestErrorStore_Save_PropagatesFailure(t *testing.T) {
	store, mock, db := setupErrorStore(t)
	defer db.Close()

	event := &models.PaymentEvent{MessageID: "msg-1", EventType: models.PaymentEventCreate}
	rec := NewErrorRecord(event, models.ErrorKindUnknown, errors.New("boom"))

	mock.ExpectExec("INSERT INTO payment_errors").
		WillReturnError(errors.New("connection reset"))

	if err := store.Save(context.Background(), rec); err == nil {
		t.Fatal("Expected Save to propagate the database error")
	}
}

func TestErrorStore_GetErrorsForRetry(t *testing.T) {
	store, mock, db := setupErrorStore(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "original_message_id", "payment_id", "customer_id", "error_message",
		"error_kind", "event_type", "retry_count", "max_retry_attempts", "is_resolved",
		"error_occurred_at", "retry_at", "event_data",
	}).AddRow("err-1", "msg-1", "pi_1", "cus_1", "timeout",
		"timeout_error", "create_payment", 1, 3, false,
		now.Add(-10*time.Minute), now.Add(-time.Minute), `{"message_id":"msg-1"}`)

	mock.ExpectQuery("SELECT (.+) FROM payment_errors").
		WithArgs(100).
		WillReturnRows(rows)

	records, err := store.GetErrorsForRetry(context.Background(), 100)
	if err != nil {
		t.Fatalf("GetErrorsForRetry failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].ID != "err-1" || records[0].RetryCount != 1 {
		t.Errorf("Unexpected record: %+v", records[0])
	}
}

func TestErrorStore_UpdateRetryCount(t *testing.T) {
	store, mock, db := setupErrorStore(t)
	defer db.Close()

	mock.ExpectExec("UPDATE payment_errors SET retry_count").
		WithArgs("err-1", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateRetryCount(context.Background(), "err-1", 2); err != nil {
		t.Fatalf("UpdateRetryCount failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestErrorStore_MarkResolved_NotFound(t *testing.T) {
	store, mock, db := setupErrorStore(t)
	defer db.Close()

	mock.ExpectExec("UPDATE payment_errors").
		WithArgs("missing", "fixed upstream").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkResolved(context.Background(), "missing", "fixed upstream")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows, got %v", err)
	}
}

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/MindCtrl01/template-backend/broker"
	"github.com/MindCtrl01/template-backend/models"
	"github.com/MindCtrl01/template-backend/provider"
)

type fakeProvider struct {
	createIntent func(params provider.CreateIntentParams) (*provider.Intent, error)
	confirm      func(intentID string) (*provider.Intent, error)
	calls        int
}

func (f *fakeProvider) CreateIntent(ctx context.Context, params provider.CreateIntentParams) (*provider.Intent, error) {
	f.calls++
	return f.createIntent(params)
}

func (f *fakeProvider) ConfirmIntent(ctx context.Context, intentID, paymentMethodID, idempotencyKey string) (*provider.Intent, error) {
	f.calls++
	return f.confirm(intentID)
}

func (f *fakeProvider) CaptureIntent(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*provider.Intent, error) {
	f.calls++
	return &provider.Intent{ID: intentID, Status: "succeeded"}, nil
}

func (f *fakeProvider) Refund(ctx context.Context, intentID string, amount int64, idempotencyKey string) (*provider.RefundResult, error) {
	f.calls++
	return &provider.RefundResult{ID: "re_1", PaymentIntentID: intentID, Status: "succeeded"}, nil
}

func (f *fakeProvider) GetIntent(ctx context.Context, intentID string) (*provider.Intent, error) {
	return &provider.Intent{ID: intentID}, nil
}

func (f *fakeProvider) CreateSubscription(ctx context.Context, params provider.CreateSubscriptionParams) (*provider.Subscription, error) {
	return &provider.Subscription{ID: "sub_1", Status: "active"}, nil
}

func (f *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*provider.Subscription, error) {
	return &provider.Subscription{ID: subscriptionID, Status: "canceled"}, nil
}

func (f *fakeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*provider.Subscription, error) {
	return &provider.Subscription{ID: subscriptionID}, nil
}

type fakePaymentStore struct {
	upserted []*models.Payment
	statuses map[string]string
}

func (f *fakePaymentStore) Upsert(ctx context.Context, p *models.Payment) error {
	f.upserted = append(f.upserted, p)
	return nil
}

func (f *fakePaymentStore) UpdateStatus(ctx context.Context, paymentIntentID, status string) error {
	if f.statuses == nil {
		f.statuses = make(map[string]string)
	}
	f.statuses[paymentIntentID] = status
	return nil
}

type fakeErrorStore struct {
	saved   []*models.PaymentErrorRecord
	saveErr error
	pending []*models.PaymentErrorRecord
	counts  map[string]int
}

func (f *fakeErrorStore) Save(ctx context.Context, rec *models.PaymentErrorRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeErrorStore) GetErrorsForRetry(ctx context.Context, limit int) ([]*models.PaymentErrorRecord, error) {
	return f.pending, nil
}

func (f *fakeErrorStore) UpdateRetryCount(ctx context.Context, id string, retryCount int) error {
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[id] = retryCount
	return nil
}

type published struct {
	topic   string
	key     string
	message interface{}
}

type fakePublisher struct {
	messages []published
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, message interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{topic: topic, key: key, message: message})
	return nil
}

func newTestProcessor(t *testing.T, prov provider.Client, payments *fakePaymentStore, errs *fakeErrorStore, pub *fakePublisher) *Processor {
	p := New(prov, payments, errs, pub, "payment-events", "payment-results", "payment-retry", zaptest.NewLogger(t))
	p.backoffUnit = time.Millisecond
	return p
}

func TestProcessPaymentEvent_CreateSuccess(t *testing.T) {
	prov := &fakeProvider{
		createIntent: func(params provider.CreateIntentParams) (*provider.Intent, error) {
			if params.IdempotencyKey != "msg-1" {
				t.Errorf("IdempotencyKey = %q, want msg-1", params.IdempotencyKey)
			}
			return &provider.Intent{
				ID:           "pi_123",
				Status:       "requires_confirmation",
				Amount:       params.Amount,
				Currency:     params.Currency,
				ClientSecret: "secret_abc",
			}, nil
		},
	}
	payments := &fakePaymentStore{}
	errs := &fakeErrorStore{}
	pub := &fakePublisher{}
	proc := newTestProcessor(t, prov, payments, errs, pub)

	event := &models.PaymentEvent{
		MessageID:  "msg-1",
		CustomerID: "cus_1",
		Amount:     1000,
		Currency:   "usd",
		EventType:  models.PaymentEventCreate,
	}

	if err := proc.ProcessPaymentEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessPaymentEvent failed: %v", err)
	}

	if len(payments.upserted) != 1 || payments.upserted[0].PaymentIntentID != "pi_123" {
		t.Fatalf("Expected one upserted payment for pi_123, got %+v", payments.upserted)
	}

	if len(pub.messages) != 1 || pub.messages[0].topic != "payment-results" {
		t.Fatalf("Expected one result message, got %+v", pub.messages)
	}
	result := pub.messages[0].message.(models.PaymentResult)
	if !result.Success || result.Status != "requires_confirmation" {
		t.Errorf("Unexpected result: %+v", result)
	}
	// a create event carries no payment id; the result uses the new intent's
	if result.PaymentID != "pi_123" {
		t.Errorf("Result PaymentID = %q, want pi_123", result.PaymentID)
	}
	if pub.messages[0].key != "pi_123" {
		t.Errorf("Result key = %q, want pi_123", pub.messages[0].key)
	}
	if result.Amount != 1000 || result.Currency != "usd" {
		t.Errorf("Result did not round-trip amount: %+v", result)
	}
	if len(errs.saved) != 0 {
		t.Errorf("Expected no error records, got %d", len(errs.saved))
	}
}

func TestProcessPaymentEvent_TransientFailureRecordsAndPublishesRetry(t *testing.T) {
	prov := &fakeProvider{
		createIntent: func(params provider.CreateIntentParams) (*provider.Intent, error) {
			return nil, &provider.Error{Kind: models.ErrorKindNetwork, Message: "connection refused"}
		},
	}
	errs := &fakeErrorStore{}
	pub := &fakePublisher{}
	proc := newTestProcessor(t, prov, &fakePaymentStore{}, errs, pub)

	event := &models.PaymentEvent{
		MessageID:        "msg-1",
		PaymentID:        "pi_1",
		EventType:        models.PaymentEventCreate,
		RetryCount:       0,
		MaxRetryAttempts: 3,
	}

	before := time.Now().UTC()
	if err := proc.ProcessPaymentEvent(context.Background(), event); err != nil {
		t.Fatalf("Handled failure must return nil, got %v", err)
	}

	// all three in-call attempts consumed
	if prov.calls != 3 {
		t.Errorf("Expected 3 provider calls, got %d", prov.calls)
	}

	if len(errs.saved) != 1 {
		t.Fatalf("Expected one error record, got %d", len(errs.saved))
	}
	rec := errs.saved[0]
	if rec.ErrorKind != models.ErrorKindNetwork || rec.RetryCount != 0 {
		t.Errorf("Unexpected record: kind=%s retry_count=%d", rec.ErrorKind, rec.RetryCount)
	}
	// retry_count 0 means a one minute durable backoff
	if rec.RetryAt.Before(before.Add(time.Minute)) || rec.RetryAt.After(time.Now().UTC().Add(2*time.Minute)) {
		t.Errorf("RetryAt = %v, want about one minute out", rec.RetryAt)
	}

	if len(pub.messages) != 1 || pub.messages[0].topic != "payment-retry" {
		t.Fatalf("Expected one retry envelope, got %+v", pub.messages)
	}
	retry := pub.messages[0].message.(models.PaymentRetry)
	if retry.RetryCount != 1 {
		t.Errorf("Envelope RetryCount = %d, want 1", retry.RetryCount)
	}
	if retry.RetryDelaySeconds != 120 {
		t.Errorf("RetryDelaySeconds = %d, want 120", retry.RetryDelaySeconds)
	}
	if retry.PaymentEvent.RetryCount != 1 {
		t.Errorf("Carried event RetryCount = %d, want 1", retry.PaymentEvent.RetryCount)
	}
}

func TestProcessPaymentEvent_BudgetExhaustedNoEnvelope(t *testing.T) {
	prov := &fakeProvider{
		createIntent: func(params provider.CreateIntentParams) (*provider.Intent, error) {
			return nil, &provider.Error{Kind: models.ErrorKindTimeout, Message: "timed out"}
		},
	}
	errs := &fakeErrorStore{}
	pub := &fakePublisher{}
	proc := newTestProcessor(t, prov, &fakePaymentStore{}, errs, pub)

	event := &models.PaymentEvent{
		MessageID:        "msg-1",
		EventType:        models.PaymentEventCreate,
		RetryCount:       3,
		MaxRetryAttempts: 3,
	}

	if err := proc.ProcessPaymentEvent(context.Background(), event); err != nil {
		t.Fatalf("Handled failure must return nil, got %v", err)
	}
	if len(errs.saved) != 1 {
		t.Fatalf("Expected an error record, got %d", len(errs.saved))
	}
	if len(pub.messages) != 0 {
		t.Errorf("Expected no retry envelope once the budget is spent, got %+v", pub.messages)
	}
}

func TestProcessPaymentEvent_UnknownEventTypeIsTerminal(t *testing.T) {
	errs := &fakeErrorStore{}
	pub := &fakePublisher{}
	proc := newTestProcessor(t, &fakeProvider{}, &fakePaymentStore{}, errs, pub)

	event := &models.PaymentEvent{
		MessageID: "msg-1",
		EventType: "teleport_payment",
	}

	if err := proc.ProcessPaymentEvent(context.Background(), event); err != nil {
		t.Fatalf("Handled failure must return nil, got %v", err)
	}
	if len(errs.saved) != 1 || errs.saved[0].ErrorKind != models.ErrorKindValidation {
		t.Fatalf("Expected a validation error record, got %+v", errs.saved)
	}
	if errs.saved[0].MaxRetryAttempts != 0 {
		t.Errorf("Validation record MaxRetryAttempts = %d, want 0 so the sweep never claims it", errs.saved[0].MaxRetryAttempts)
	}
	if len(pub.messages) != 0 {
		t.Errorf("Validation failures must not produce retry envelopes, got %+v", pub.messages)
	}
}

func TestProcessPaymentEvent_SaveFailurePropagates(t *testing.T) {
	prov := &fakeProvider{
		createIntent: func(params provider.CreateIntentParams) (*provider.Intent, error) {
			return nil, &provider.Error{Kind: models.ErrorKindNetwork, Message: "down"}
		},
	}
	errs := &fakeErrorStore{saveErr: errors.New("database unavailable")}
	proc := newTestProcessor(t, prov, &fakePaymentStore{}, errs, &fakePublisher{})

	event := &models.PaymentEvent{MessageID: "msg-1", EventType: models.PaymentEventCreate}
	if err := proc.ProcessPaymentEvent(context.Background(), event); err == nil {
		t.Fatal("Expected the store failure to propagate so the message is redelivered")
	}
}

func TestProcessPaymentEvent_DeclinedConfirmIsHandledFailure(t *testing.T) {
	prov := &fakeProvider{
		confirm: func(intentID string) (*provider.Intent, error) {
			return &provider.Intent{ID: intentID, Status: "requires_payment_method", LastError: "card_declined"}, nil
		},
	}
	payments := &fakePaymentStore{}
	pub := &fakePublisher{}
	proc := newTestProcessor(t, prov, payments, &fakeErrorStore{}, pub)

	event := &models.PaymentEvent{
		MessageID: "msg-1",
		PaymentID: "pi_1",
		EventType: models.PaymentEventProcess,
	}

	if err := proc.ProcessPaymentEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessPaymentEvent failed: %v", err)
	}

	result := pub.messages[0].message.(models.PaymentResult)
	if result.Success {
		t.Error("A declined confirm must not be a success")
	}
	if result.ErrorMessage != "card_declined" {
		t.Errorf("ErrorMessage = %q, want card_declined", result.ErrorMessage)
	}
	if payments.statuses["pi_1"] != "requires_payment_method" {
		t.Errorf("Payment status = %q, want requires_payment_method", payments.statuses["pi_1"])
	}
}

func TestHandleMessage_UndecodableIsPoison(t *testing.T) {
	proc := newTestProcessor(t, &fakeProvider{}, &fakePaymentStore{}, &fakeErrorStore{}, &fakePublisher{})

	err := proc.HandleMessage(context.Background(), consumerMessage([]byte("not json")))
	if !errors.Is(err, broker.ErrPoisonMessage) {
		t.Errorf("Expected a poison error, got %v", err)
	}
}

func TestSweepErrors_RepublishesWithBumpedCount(t *testing.T) {
	eventData, _ := json.Marshal(models.PaymentEvent{
		MessageID: "msg-1",
		PaymentID: "pi_1",
		EventType: models.PaymentEventCreate,
	})
	errs := &fakeErrorStore{
		pending: []*models.PaymentErrorRecord{
			{ID: "err-1", RetryCount: 1, MaxRetryAttempts: 3, EventData: string(eventData)},
		},
	}
	pub := &fakePublisher{}
	proc := newTestProcessor(t, &fakeProvider{}, &fakePaymentStore{}, errs, pub)

	proc.sweepErrors(context.Background(), 100)

	if errs.counts["err-1"] != 2 {
		t.Errorf("Expected retry count bumped to 2, got %d", errs.counts["err-1"])
	}
	if len(pub.messages) != 1 || pub.messages[0].topic != "payment-events" {
		t.Fatalf("Expected a republish to payment-events, got %+v", pub.messages)
	}
	event := pub.messages[0].message.(models.PaymentEvent)
	if event.RetryCount != 2 {
		t.Errorf("Republished RetryCount = %d, want 2", event.RetryCount)
	}
}

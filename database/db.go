package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/config"
)

func InitDB(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS payments (
	id SERIAL PRIMARY KEY,
	payment_intent_id VARCHAR(255) NOT NULL UNIQUE,
	customer_id VARCHAR(255) NOT NULL,
	amount BIGINT NOT NULL,
	currency VARCHAR(10) NOT NULL,
	status VARCHAR(50) NOT NULL DEFAULT 'pending',
	description TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS payment_errors (
	id VARCHAR(64) PRIMARY KEY,
	original_message_id VARCHAR(64) NOT NULL,
	payment_id VARCHAR(255),
	customer_id VARCHAR(255),
	error_message TEXT NOT NULL,
	error_kind VARCHAR(50) NOT NULL,
	event_type VARCHAR(50) NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retry_attempts INTEGER NOT NULL DEFAULT 3,
	is_resolved BOOLEAN NOT NULL DEFAULT FALSE,
	resolution_message TEXT,
	error_occurred_at TIMESTAMP NOT NULL,
	retry_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP,
	event_data TEXT NOT NULL,
	error_context TEXT
);
CREATE INDEX IF NOT EXISTS idx_payment_errors_retry
	ON payment_errors (retry_at, retry_count) WHERE NOT is_resolved;

CREATE TABLE IF NOT EXISTS webhook_events (
	id SERIAL PRIMARY KEY,
	event_id VARCHAR(255) NOT NULL,
	provider VARCHAR(50) NOT NULL,
	event_type VARCHAR(100) NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'pending',
	raw_payload TEXT NOT NULL,
	processed_payload TEXT,
	signature TEXT,
	source_ip VARCHAR(64),
	user_agent TEXT,
	error_message TEXT,
	attempt_count INTEGER NOT NULL DEFAULT 1,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	next_retry_at TIMESTAMP,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	processed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_webhook_events_retry
	ON webhook_events (next_retry_at) WHERE status = 'failed';

CREATE TABLE IF NOT EXISTS webhook_processing_logs (
	id SERIAL PRIMARY KEY,
	webhook_event_id INTEGER NOT NULL REFERENCES webhook_events(id),
	processing_step VARCHAR(50) NOT NULL,
	status VARCHAR(20) NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	error_message TEXT,
	processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS payment_facts (
	id SERIAL PRIMARY KEY,
	webhook_event_id INTEGER NOT NULL REFERENCES webhook_events(id),
	payment_id VARCHAR(255) NOT NULL,
	provider VARCHAR(50) NOT NULL,
	event_type VARCHAR(100) NOT NULL,
	status VARCHAR(50) NOT NULL,
	amount NUMERIC(18, 2),
	currency VARCHAR(10),
	customer_id VARCHAR(255),
	order_id VARCHAR(255),
	transaction_id VARCHAR(255),
	metadata TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

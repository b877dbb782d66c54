package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings, loaded from environment variables.
type Config struct {
	KafkaBrokers      []string
	KafkaClientID     string
	PaymentTopic      string
	ResultTopic       string
	SubscriptionTopic string
	RetryTopic        string

	PaymentGroupID      string
	RetryGroupID        string
	SubscriptionGroupID string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	ProviderBaseURL string
	ProviderAPIKey  string

	StripeWebhookSecret string
	PayPalWebhookSecret string

	WebhookSweepInterval time.Duration
	WebhookSweepBatch    int
	ErrorSweepInterval   time.Duration
	ErrorSweepBatch      int

	ProcessorAddr string
	WebhookAddr   string
}

// Load reads configuration from the environment. A .env file is honored
// when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		KafkaBrokers:      strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaClientID:     getEnv("KAFKA_CLIENT_ID", "payment-pipeline"),
		PaymentTopic:      getEnv("KAFKA_PAYMENT_TOPIC", "payment-events"),
		ResultTopic:       getEnv("KAFKA_RESULT_TOPIC", "payment-results"),
		SubscriptionTopic: getEnv("KAFKA_SUBSCRIPTION_TOPIC", "subscription-events"),
		RetryTopic:        getEnv("KAFKA_RETRY_TOPIC", "payment-retry"),

		PaymentGroupID:      getEnv("KAFKA_PAYMENT_GROUP", "payment-processor-group"),
		RetryGroupID:        getEnv("KAFKA_RETRY_GROUP", "payment-retry-group"),
		SubscriptionGroupID: getEnv("KAFKA_SUBSCRIPTION_GROUP", "subscription-processor-group"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "paymentdb"),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.payment-provider.local"),
		ProviderAPIKey:  getEnv("PROVIDER_API_KEY", ""),

		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		PayPalWebhookSecret: getEnv("PAYPAL_WEBHOOK_SECRET", ""),

		WebhookSweepInterval: getDuration("WEBHOOK_SWEEP_INTERVAL", 30*time.Second),
		WebhookSweepBatch:    getInt("WEBHOOK_SWEEP_BATCH", 10),
		ErrorSweepInterval:   getDuration("ERROR_SWEEP_INTERVAL", time.Minute),
		ErrorSweepBatch:      getInt("ERROR_SWEEP_BATCH", 100),

		ProcessorAddr: getEnv("PROCESSOR_ADDR", ":8084"),
		WebhookAddr:   getEnv("WEBHOOK_ADDR", ":8085"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

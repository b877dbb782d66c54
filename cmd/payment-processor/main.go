package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/broker"
	"github.com/MindCtrl01/template-backend/config"
	"github.com/MindCtrl01/template-backend/database"
	"github.com/MindCtrl01/template-backend/handlers"
	"github.com/MindCtrl01/template-backend/middleware"
	"github.com/MindCtrl01/template-backend/processor"
	"github.com/MindCtrl01/template-backend/provider"
	"github.com/MindCtrl01/template-backend/store"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	// Initialize database
	db, err := database.InitDB(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Kafka producer
	producer, err := broker.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("payment-processor")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	providerClient := provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, logger)
	paymentStore := store.NewPaymentStore(db, logger)
	errorStore := store.NewErrorStore(db, logger)

	proc := processor.New(providerClient, paymentStore, errorStore, producer,
		cfg.PaymentTopic, cfg.ResultTopic, cfg.RetryTopic, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the consumer groups in the background
	startConsumer(ctx, cfg.KafkaBrokers, cfg.PaymentGroupID, cfg.PaymentTopic, proc.HandleMessage, logger)
	startConsumer(ctx, cfg.KafkaBrokers, cfg.RetryGroupID, cfg.RetryTopic, proc.HandleRetryMessage, logger)
	startConsumer(ctx, cfg.KafkaBrokers, cfg.SubscriptionGroupID, cfg.SubscriptionTopic, proc.HandleSubscriptionMessage, logger)

	// Start the error sweep
	go proc.RunErrorSweep(ctx, cfg.ErrorSweepInterval, cfg.ErrorSweepBatch)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	errorHandler := handlers.NewErrorHandler(errorStore, logger)
	api := router.Group("/api")
	{
		api.GET("/payment-errors/statistics", errorHandler.Statistics)
		api.POST("/payment-errors/:id/resolve", errorHandler.Resolve)
	}

	srv := &http.Server{
		Addr:    cfg.ProcessorAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Payment processor started", zap.String("addr", cfg.ProcessorAddr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	logger.Info("Server exited")
}

func startConsumer(ctx context.Context, brokers []string, groupID, topic string, handler broker.Handler, logger *zap.Logger) {
	group, err := broker.NewConsumerGroup(brokers, groupID, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer group",
			zap.String("group_id", groupID), zap.Error(err))
	}

	go func() {
		defer group.Close()
		if err := group.Consume(ctx, []string{topic}, handler); err != nil && err != context.Canceled {
			logger.Error("Kafka consumer stopped",
				zap.String("group_id", groupID), zap.Error(err))
		}
	}()
}

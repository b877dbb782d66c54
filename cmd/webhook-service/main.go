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

	"github.com/MindCtrl01/template-backend/config"
	"github.com/MindCtrl01/template-backend/database"
	"github.com/MindCtrl01/template-backend/handlers"
	"github.com/MindCtrl01/template-backend/middleware"
	"github.com/MindCtrl01/template-backend/webhook"
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

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("webhook-service")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	registry := webhook.NewRegistry(
		webhook.NewStripeHandler(cfg.StripeWebhookSecret, logger),
		webhook.NewPayPalHandler(cfg.PayPalWebhookSecret, logger),
	)
	proc := webhook.NewProcessor(webhook.NewPostgresStore(db, logger), registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the retry sweep
	go proc.RunSweep(ctx, cfg.WebhookSweepInterval, cfg.WebhookSweepBatch)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	webhookHandler := handlers.NewWebhookHandler(proc, logger)
	api := router.Group("/api")
	{
		api.POST("/webhooks/:provider", webhookHandler.Receive)
		api.GET("/webhooks/statistics", webhookHandler.Statistics)
		api.GET("/webhooks/events", webhookHandler.List)
		api.POST("/webhooks/retry", webhookHandler.Retry)
	}

	srv := &http.Server{
		Addr:    cfg.WebhookAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Webhook service started", zap.String("addr", cfg.WebhookAddr))

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

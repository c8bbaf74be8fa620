package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecodeli-payment-svc/cache"
	"ecodeli-payment-svc/database"
	"ecodeli-payment-svc/handlers"
	"ecodeli-payment-svc/kafka"
	"ecodeli-payment-svc/middleware"
	"ecodeli-payment-svc/provider"
	"ecodeli-payment-svc/reconciler"
	"ecodeli-payment-svc/settlement"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis
	rdb, err := cache.InitRedis(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer rdb.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize Kafka consumer
	consumer, err := kafka.InitConsumer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("ecodeli-payment-svc")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	topic := getEnv("KAFKA_TOPIC", "payment_events")
	providerClient := provider.NewHTTPClient()
	processor := settlement.NewProcessor(db, producer, logger, topic)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start Kafka consumer in background
	go func() {
		if err := kafka.StartConsumer(ctx, consumer, logger); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	// Start reconciliation loop in background
	go reconciler.New(db, providerClient, processor, logger).Run(ctx)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	healthHandler := handlers.NewHealthHandler(db, rdb)
	orderHandler := handlers.NewOrderHandler(db, logger)
	paymentHandler := handlers.NewPaymentHandler(db, providerClient, logger)
	webhookHandler := handlers.NewWebhookHandler(processor, cache.NewDeduper(rdb), logger)
	refundHandler := handlers.NewRefundHandler(db, providerClient, processor, logger)
	walletHandler := handlers.NewWalletHandler(db, logger)

	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", middleware.PrometheusHandler())

	// Provider callbacks are authenticated by signature, not JWT
	router.POST("/webhooks/payments", webhookHandler.HandleWebhook)

	api := router.Group("/api", middleware.AuthMiddleware())
	{
		api.POST("/orders", orderHandler.CreateOrder)
		api.GET("/orders/:id", orderHandler.GetOrder)
		api.POST("/orders/:id/intent", paymentHandler.CreateIntent)
		api.GET("/wallet", walletHandler.GetWallet)

		admin := api.Group("/admin", middleware.RequireAdmin())
		admin.POST("/payments/:id/refund", refundHandler.RefundPayment)
	}

	// Start REST server
	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8083"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Payment service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

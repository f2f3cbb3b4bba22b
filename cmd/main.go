package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/medisync/telemed-platform/payment-service/internal/api"
	"github.com/medisync/telemed-platform/payment-service/internal/config"
	"github.com/medisync/telemed-platform/payment-service/internal/gateway"
	"github.com/medisync/telemed-platform/payment-service/internal/handlers"
	"github.com/medisync/telemed-platform/payment-service/internal/lock"
	"github.com/medisync/telemed-platform/payment-service/internal/notify"
	"github.com/medisync/telemed-platform/payment-service/internal/repository"
	"github.com/medisync/telemed-platform/payment-service/internal/service"
	"github.com/medisync/telemed-platform/payment-service/internal/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.Init("payment-service", cfg.OTLPEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Payment Service")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repositories
	payments := repository.NewPaymentRepository(db)
	if err := payments.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	bookings := repository.NewBookingRepository(db)
	if err := bookings.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize booking tables", zap.Error(err))
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	locker := lock.NewRedisLocker(redisClient)

	// Connect to NATS
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()

	// Connect to Kafka
	kafkaWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers),
		Topic:    "payment.state.changed",
		Balancer: &kafka.LeastBytes{},
	}
	defer kafkaWriter.Close()

	notifier := notify.NewPublisher(kafkaWriter, nc)

	// Gateway client with explicit timeout; one instance, injected everywhere.
	gatewayClient := gateway.NewClient(
		cfg.GatewayBaseURL,
		cfg.GatewayKeyID,
		cfg.GatewayKeySecret,
		&http.Client{Timeout: cfg.GatewayTimeout},
	)

	// Services
	stateMachine := service.NewStateMachine(payments, locker, notifier)
	orders := service.NewOrderManager(payments, bookings, gatewayClient)
	verifier := service.NewVerifier(payments, stateMachine, cfg.GatewayKeySecret)
	webhooks := service.NewWebhookProcessor(payments, stateMachine, cfg.GatewayWebhookSecret)
	refunds := service.NewRefundProcessor(payments, gatewayClient, stateMachine)

	paymentHandler := handlers.NewPaymentHandler(orders, verifier, webhooks, refunds, payments)

	r := api.NewRouter(paymentHandler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Payment Service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}

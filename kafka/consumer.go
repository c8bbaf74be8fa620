package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ecodeli-payment-svc/middleware"
	"ecodeli-payment-svc/models"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func InitConsumer(logger *zap.Logger) (sarama.Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Retry.Backoff = 1 * time.Second

	brokers := []string{getEnv("KAFKA_BROKER", "localhost:9092")}

	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized")
	return consumer, nil
}

// StartConsumer runs the notification worker: it consumes settlement events
// and delivers user-facing notifications (email simulation). Notification
// delivery sits outside the financial invariants, so failures are retried a
// few times and then dropped with a log line.
func StartConsumer(ctx context.Context, consumer sarama.Consumer, logger *zap.Logger) error {
	topic := getEnv("KAFKA_TOPIC", "payment_events")
	partitionConsumer, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partitionConsumer.Close()

	logger.Info("Kafka consumer started", zap.String("topic", topic))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Kafka consumer stopping")
			return nil
		case message := <-partitionConsumer.Messages():
			if err := handleMessageWithRetry(message, logger, 3); err != nil {
				logger.Error("Failed to handle message after retries", zap.Error(err))
			}
		case err := <-partitionConsumer.Errors():
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

func handleMessageWithRetry(message *sarama.ConsumerMessage, logger *zap.Logger, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := handleMessage(message, logger)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxRetries {
			backoff := time.Duration(attempt) * time.Second
			logger.Warn("Retrying message handling",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			time.Sleep(backoff)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func handleMessage(message *sarama.ConsumerMessage, logger *zap.Logger) error {
	// Extract trace context from Kafka message headers
	var propagator propagation.TextMapPropagator = otel.GetTextMapPropagator()
	carrier := saramaHeaderCarrierConsumer(message.Headers)
	ctx := propagator.Extract(context.Background(), carrier)

	var tracer trace.Tracer = otel.Tracer("ecodeli-payment-svc")
	ctx, span := tracer.Start(ctx, "DeliverNotification")
	defer span.End()

	var event models.PaymentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.EventType == "" {
		return fmt.Errorf("missing event_type in event")
	}

	span.SetAttributes(
		attribute.String("event.type", event.EventType),
		attribute.String("payment.id", event.PaymentID),
	)

	switch event.EventType {
	case "payment_settled":
		notifyPaymentSettled(ctx, event, logger)
	case "payment_failed":
		notifyPaymentOutcome(ctx, event, logger, "Payment failed",
			fmt.Sprintf("Your payment for order %s could not be processed.", event.OrderID))
	case "payment_cancelled":
		notifyPaymentOutcome(ctx, event, logger, "Payment cancelled",
			fmt.Sprintf("Your payment for order %s was cancelled.", event.OrderID))
	case "payment_refunded":
		notifyPaymentOutcome(ctx, event, logger, "Payment refunded",
			fmt.Sprintf("Your payment of %s EUR for order %s has been refunded.", event.Amount, event.OrderID))
	default:
		logger.Debug("Unknown event type", zap.String("event_type", event.EventType))
	}

	return nil
}

func notifyPaymentSettled(ctx context.Context, event models.PaymentEvent, logger *zap.Logger) {
	middleware.RecordNotificationSent(event.EventType)
	traceID := middleware.GetTraceID(ctx)

	logger.Info("Settlement notifications sent",
		zap.String("trace_id", traceID),
		zap.String("payment_id", event.PaymentID),
		zap.String("payer_id", event.PayerID),
		zap.String("payee_id", event.PayeeID),
	)

	// Simulate email dispatch to the payer
	fmt.Printf("[EMAIL] To: user_%s@ecodeli.example\n", event.PayerID)
	fmt.Printf("[EMAIL] Subject: Payment confirmed\n")
	fmt.Printf("[EMAIL] Body: Your payment of %s EUR for order %s has been confirmed.\n\n", event.Amount, event.OrderID)

	// And to the payee, when the order has one
	if event.PayeeID != "" {
		fmt.Printf("[EMAIL] To: user_%s@ecodeli.example\n", event.PayeeID)
		fmt.Printf("[EMAIL] Subject: Payment received\n")
		fmt.Printf("[EMAIL] Body: You earned %s EUR for order %s.\n\n", event.PayeeShare, event.OrderID)
	}
}

func notifyPaymentOutcome(ctx context.Context, event models.PaymentEvent, logger *zap.Logger, subject, body string) {
	middleware.RecordNotificationSent(event.EventType)
	traceID := middleware.GetTraceID(ctx)

	logger.Info("Payment notification sent",
		zap.String("trace_id", traceID),
		zap.String("event_type", event.EventType),
		zap.String("payment_id", event.PaymentID),
		zap.String("payer_id", event.PayerID),
	)

	fmt.Printf("[EMAIL] To: user_%s@ecodeli.example\n", event.PayerID)
	fmt.Printf("[EMAIL] Subject: %s\n", subject)
	fmt.Printf("[EMAIL] Body: %s\n\n", body)
}

// saramaHeaderCarrierConsumer implements the TextMapCarrier interface for Kafka headers (for consumer)
type saramaHeaderCarrierConsumer []*sarama.RecordHeader

func (c saramaHeaderCarrierConsumer) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c saramaHeaderCarrierConsumer) Set(key, value string) {
	// Not needed for extraction
}

func (c saramaHeaderCarrierConsumer) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}

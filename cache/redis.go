package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(logger *zap.Logger) (*redis.Client, error) {
	host := getEnv("REDIS_HOST", "localhost")
	port := getEnv("REDIS_PORT", "6379")
	password := getEnv("REDIS_PASSWORD", "")

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

// Deduper tracks provider webhook event ids in Redis. It is a best-effort
// fast path: the status compare-and-swap in the settlement transaction
// remains the authoritative replay guard, so callers should treat Redis
// errors as "not seen".
type Deduper struct {
	rdb *redis.Client
}

func NewDeduper(rdb *redis.Client) *Deduper {
	return &Deduper{rdb: rdb}
}

// MarkEventSeen records an event id and reports whether this is the first
// delivery.
func (d *Deduper) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return d.rdb.SetNX(ctx, eventKey(eventID), 1, ttl).Result()
}

// ClearEvent releases an event id so the provider's redelivery is processed
// again. Called when handling failed after the id was marked.
func (d *Deduper) ClearEvent(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, eventKey(eventID)).Err()
}

func eventKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dedupTTL is how long a delivery id blocks redelivery of the same event.
const dedupTTL = 24 * time.Hour

// Deduper drops redelivered events at the ingestion boundary. Relays resend
// on timeouts, and the pipeline is not idempotent past the write stage.
type Deduper interface {
	// Seen marks a delivery id and reports whether it was already marked.
	Seen(ctx context.Context, deliveryID string) (bool, error)
}

// RedisDeduper tracks delivery ids in Redis with a TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper on the given client.
func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: dedupTTL}
}

func (d *RedisDeduper) Seen(ctx context.Context, deliveryID string) (bool, error) {
	set, err := d.client.SetNX(ctx, dedupKey(deliveryID), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return !set, nil
}

func dedupKey(deliveryID string) string {
	return "mailroute:delivery:" + deliveryID
}

// NopDeduper never reports a duplicate. Used when Redis is not configured;
// redelivered events then run the pipeline again.
type NopDeduper struct{}

func (NopDeduper) Seen(ctx context.Context, deliveryID string) (bool, error) {
	return false, nil
}

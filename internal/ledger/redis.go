package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger shares claims across relay replicas using SET NX with expiry.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger wraps an existing client. Keys are namespaced under prefix.
func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix}
}

// OpenRedisLedger connects using a redis:// URL and verifies the connection.
func OpenRedisLedger(ctx context.Context, rawURL string) (*RedisLedger, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisLedger(client, "activityrelay:"), nil
}

// Claim reports whether this caller is the first to record key within ttl.
func (l *RedisLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release deletes key so a later attempt can claim it again.
func (l *RedisLedger) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+key).Err()
}

// Close closes the underlying client.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
